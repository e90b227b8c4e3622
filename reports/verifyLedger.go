package reports

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"gorm.io/gorm"
)

// Check types recorded on LedgerDriftFinding.
const (
	CheckAccountBalance  = "ACCOUNT_BALANCE"
	CheckEntryBalance    = "ENTRY_BALANCE"
	CheckEntryTotal      = "ENTRY_TOTAL"
	CheckSettlementLines = "SETTLEMENT_LINES"
)

type VerificationReport struct {
	CorrelationId string                      `json:"correlation_id"`
	CheckedAt     time.Time                   `json:"checked_at"`
	Accounts      int                         `json:"accounts"`
	Entries       int64                       `json:"entries"`
	Settlements   int                         `json:"settlements"`
	Findings      []models.LedgerDriftFinding `json:"findings"`
}

func (r VerificationReport) Passed() bool {
	return len(r.Findings) == 0
}

// VerifyLedger recomputes what the posted lines imply and records every disagreement.
// It never corrects anything.
func VerifyLedger(ctx context.Context, db *gorm.DB) (*VerificationReport, error) {
	ctx, correlationId := utils.EnsureCorrelationId(ctx)
	report := &VerificationReport{CorrelationId: correlationId, CheckedAt: time.Now().UTC()}
	logger := config.GetLogger()

	accounts, err := models.ListAccounts(ctx, db)
	if err != nil {
		return nil, err
	}
	nets, err := netByAccount(ctx, db, nil)
	if err != nil {
		return nil, err
	}
	report.Accounts = len(accounts)
	for _, a := range accounts {
		net := nets[a.Code]
		expected := net
		if a.NormalBalance == models.NormalBalanceCredit {
			expected = -net
		}
		if expected != a.Balance {
			report.Findings = append(report.Findings, models.LedgerDriftFinding{
				CheckType:  CheckAccountBalance,
				EntityType: "Account",
				EntityKey:  a.Code,
				Expected:   expected,
				Actual:     a.Balance,
				Details:    fmt.Sprintf("stored balance of %s differs from its line history", a.Code),
			})
		}
	}

	type entrySums struct {
		Id          int
		EntryNumber string
		TotalAmount int64
		Debit       int64
		Credit      int64
	}
	var entries []entrySums
	if err := db.WithContext(ctx).
		Table("journal_entries AS e").
		Select("e.id, e.entry_number, e.total_amount, COALESCE(SUM(l.debit), 0) AS debit, COALESCE(SUM(l.credit), 0) AS credit").
		Joins("LEFT JOIN journal_entry_lines AS l ON l.journal_entry_id = e.id").
		Group("e.id, e.entry_number, e.total_amount").
		Order("e.id").
		Scan(&entries).Error; err != nil {
		return nil, err
	}
	report.Entries = int64(len(entries))
	for _, e := range entries {
		if e.Debit != e.Credit {
			report.Findings = append(report.Findings, models.LedgerDriftFinding{
				CheckType:  CheckEntryBalance,
				EntityType: "JournalEntry",
				EntityKey:  e.EntryNumber,
				Expected:   e.Debit,
				Actual:     e.Credit,
				Details:    "debits and credits differ",
			})
		}
		if e.TotalAmount != e.Debit {
			report.Findings = append(report.Findings, models.LedgerDriftFinding{
				CheckType:  CheckEntryTotal,
				EntityType: "JournalEntry",
				EntityKey:  e.EntryNumber,
				Expected:   e.Debit,
				Actual:     e.TotalAmount,
				Details:    "stored total differs from line debits",
			})
		}
	}

	settlements, err := models.ListSettlements(ctx, db, models.SettlementFilter{})
	if err != nil {
		return nil, err
	}
	report.Settlements = len(settlements)
	for _, s := range settlements {
		amount, count := s.LineItemTotals()
		if amount != s.TotalAmount || count != s.TransactionCount {
			report.Findings = append(report.Findings, models.LedgerDriftFinding{
				CheckType:  CheckSettlementLines,
				EntityType: "PartnerSettlement",
				EntityKey:  s.SettlementNumber,
				Expected:   s.TotalAmount,
				Actual:     amount,
				Details:    fmt.Sprintf("line items sum to %d over %d rows; settlement says %d over %d", amount, count, s.TotalAmount, s.TransactionCount),
			})
		}
	}

	for i := range report.Findings {
		report.Findings[i].CorrelationId = correlationId
	}
	if err := models.SaveDriftFindings(ctx, db, report.Findings); err != nil {
		return nil, err
	}
	if !report.Passed() {
		config.LogInvariantViolation(logger, "reports", "ledger_verification",
			map[string]any{"correlation_id": correlationId, "findings": len(report.Findings)},
			utils.NewInvariantViolation("ledger_verification", "%d drift findings", len(report.Findings)))
	}
	return report, nil
}
