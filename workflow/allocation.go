package workflow

import (
	"fmt"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
)

// EscrowSplit is how one posting moves each party's escrow-tracked share.
type EscrowSplit struct {
	Gross       int64
	Underwriter int64
	Platform    int64
	PartnerA    int64
	PartnerB    int64
	DayCount    int
}

// Allocation is the fixed line set for one business event under one rate table.
type Allocation struct {
	RateVersion string
	Lines       []models.NewJournalLine
	Escrow      EscrowSplit
	// Fee is the cancellation fee of a refund; zero for other events.
	Fee int64
}

// CancellationSplit is the three-party share of a cancellation fee.
type CancellationSplit struct {
	Fee      int64
	Platform int64
	PartnerA int64
	PartnerB int64
}

// SplitCancellationFee rounds the partner shares half-up; the platform share absorbs the remainder.
func SplitCancellationFee(rates *config.RateTable, amount int64) CancellationSplit {
	c := rates.Cancellation
	fee := utils.ApplyBps(amount, c.FeeBps)
	a := utils.ApplyBps(fee, c.PartnerAShareBps)
	b := utils.ApplyBps(fee, c.PartnerBShareBps)
	return CancellationSplit{Fee: fee, Platform: fee - a - b, PartnerA: a, PartnerB: b}
}

func receiptUnits(rates *config.RateTable, req PostingRequest) (config.ReceiptAllocation, int64, error) {
	switch req.EventType {
	case models.JournalEntryTypeInitialDeposit:
		if req.DayCount > 1 {
			return config.ReceiptAllocation{}, 0, utils.NewValidationError("day_count", "an initial deposit covers exactly one unit")
		}
		return rates.InitialDeposit, 1, nil
	default:
		if req.DayCount < 1 {
			return config.ReceiptAllocation{}, 0, utils.NewValidationError("day_count", "must be at least 1 for %s", req.EventType)
		}
		return rates.DailyPayment, int64(req.DayCount), nil
	}
}

// checkUnitPrice catches upstream calculation drift: amount must be count x unit price.
func checkUnitPrice(unit config.ReceiptAllocation, count int64, amount int64, eventType models.JournalEntryType) error {
	if expected := unit.UnitPrice * count; amount != expected {
		return utils.NewValidationError("amount",
			"%s amount %d does not equal %d x %d = %d", eventType, amount, count, unit.UnitPrice, expected)
	}
	return nil
}

func addLine(lines []models.NewJournalLine, code string, debit, credit int64, desc string) []models.NewJournalLine {
	if debit == 0 && credit == 0 {
		return lines
	}
	return append(lines, models.NewJournalLine{AccountCode: code, Debit: debit, Credit: credit, Description: desc})
}

// BuildAllocation translates an event into ledger lines. Zero-amount components are omitted.
func BuildAllocation(rates *config.RateTable, req PostingRequest) (*Allocation, error) {
	if req.Amount <= 0 {
		return nil, utils.NewValidationError("amount", "must be positive")
	}
	alloc := &Allocation{RateVersion: rates.Version}
	var lines []models.NewJournalLine

	switch req.EventType {
	case models.JournalEntryTypeInitialDeposit, models.JournalEntryTypeDailyPayment:
		unit, n, err := receiptUnits(rates, req)
		if err != nil {
			return nil, err
		}
		if err := checkUnitPrice(unit, n, req.Amount, req.EventType); err != nil {
			return nil, err
		}
		split := EscrowSplit{
			Gross:       req.Amount,
			Underwriter: unit.UnderwriterPremium * n,
			Platform:    unit.PlatformFee * n,
			PartnerA:    unit.PartnerAFee * n,
			PartnerB:    unit.PartnerBFee * n,
			DayCount:    int(n),
		}
		lines = addLine(lines, models.AccountEscrowCash, split.Gross, 0, "Premium collected")
		lines = addLine(lines, models.AccountUnderwriterPayable, 0, split.Underwriter, "Underwriter premium")
		lines = addLine(lines, models.AccountPlatformFeePayable, 0, split.Platform, "Platform service fee")
		lines = addLine(lines, models.AccountPartnerAFeePayable, 0, split.PartnerA, "Partner A service fee")
		lines = addLine(lines, models.AccountPartnerBFeePayable, 0, split.PartnerB, "Partner B service fee")
		alloc.Escrow = split

	case models.JournalEntryTypePremiumRemittance, models.JournalEntryTypeBulkPremiumRemittance:
		lines = addLine(lines, models.AccountUnderwriterPayable, req.Amount, 0, "Premium remitted to underwriter")
		lines = addLine(lines, models.AccountEscrowCash, 0, req.Amount, "Premium remitted to underwriter")

	case models.JournalEntryTypeRefundInitiation:
		unit := rates.DailyPayment
		if req.DayCount < 1 {
			return nil, utils.NewValidationError("day_count", "must be at least 1 for %s", req.EventType)
		}
		n := int64(req.DayCount)
		if err := checkUnitPrice(unit, n, req.Amount, req.EventType); err != nil {
			return nil, err
		}
		fee := SplitCancellationFee(rates, req.Amount)
		refund := req.Amount - fee.Fee
		// Unwind the proportional daily allocation.
		lines = addLine(lines, models.AccountUnderwriterPayable, unit.UnderwriterPremium*n, 0, "Refund: underwriter premium reversed")
		lines = addLine(lines, models.AccountPlatformFeePayable, unit.PlatformFee*n, 0, "Refund: platform fee reversed")
		lines = addLine(lines, models.AccountPartnerAFeePayable, unit.PartnerAFee*n, 0, "Refund: partner A fee reversed")
		lines = addLine(lines, models.AccountPartnerBFeePayable, unit.PartnerBFee*n, 0, "Refund: partner B fee reversed")
		// Re-split: rider refund plus the cancellation fee.
		lines = addLine(lines, models.AccountRiderRefundPayable, 0, refund, "Rider refund payable")
		lines = addLine(lines, models.AccountCancellationFeeIncome, 0, fee.Platform, "Cancellation fee: platform")
		lines = addLine(lines, models.AccountPartnerAFeePayable, 0, fee.PartnerA, "Cancellation fee: partner A")
		lines = addLine(lines, models.AccountPartnerBFeePayable, 0, fee.PartnerB, "Cancellation fee: partner B")
		alloc.Fee = fee.Fee
		alloc.Escrow = EscrowSplit{
			Gross:       -req.Amount,
			Underwriter: -unit.UnderwriterPremium * n,
			Platform:    -unit.PlatformFee * n,
			PartnerA:    fee.PartnerA - unit.PartnerAFee*n,
			PartnerB:    fee.PartnerB - unit.PartnerBFee*n,
			DayCount:    -int(n),
		}

	case models.JournalEntryTypeRefundPayout:
		lines = addLine(lines, models.AccountRiderRefundPayable, req.Amount, 0, "Rider refund paid")
		lines = addLine(lines, models.AccountOperatingCash, 0, req.Amount, "Rider refund paid")

	default:
		return nil, utils.NewValidationError("event_type", "%s has no allocation table", req.EventType)
	}

	if len(lines) < 2 {
		return nil, utils.NewInvariantViolation("allocation", "%s produced %d lines", req.EventType, len(lines))
	}
	alloc.Lines = lines
	return alloc, nil
}

// DescribeEvent is the default journal description for an event.
func DescribeEvent(req PostingRequest) string {
	if req.Description != "" {
		return req.Description
	}
	if req.DayCount > 1 {
		return fmt.Sprintf("%s %s (%d days)", req.EventType, req.TransactionId, req.DayCount)
	}
	return fmt.Sprintf("%s %s", req.EventType, req.TransactionId)
}
