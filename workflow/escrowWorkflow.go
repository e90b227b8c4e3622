package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

type EscrowTracker struct {
	DB     *gorm.DB
	Engine *PostingEngine
	Logger *logrus.Logger
}

func NewEscrowTracker(db *gorm.DB, engine *PostingEngine, logger *logrus.Logger) *EscrowTracker {
	return &EscrowTracker{DB: db, Engine: engine, Logger: logger}
}

// RecordEscrowRequest records a premium without posting it; used when the journal entry was
// posted separately through PostEvent.
type RecordEscrowRequest struct {
	RiderId        string    `json:"rider_id" validate:"required,max=64"`
	TransactionRef string    `json:"transaction_ref" validate:"required,max=128"`
	PremiumAmount  int64     `json:"premium_amount" validate:"gt=0"`
	PaymentDay     int       `json:"payment_day" validate:"gte=1,lte=31"`
	PaymentDate    time.Time `json:"payment_date"`
}

// PremiumPayment is a confirmed receipt from the payment subsystem.
type PremiumPayment struct {
	RiderId       string                  `json:"rider_id" validate:"required,max=64"`
	TransactionId string                  `json:"transaction_id" validate:"required,max=128"`
	EventType     models.JournalEntryType `json:"event_type" validate:"required,oneof=INITIAL_DEPOSIT DAILY_PAYMENT"`
	Amount        int64                   `json:"amount" validate:"gt=0"`
	DayCount      int                     `json:"day_count" validate:"gte=0"`
	PaymentDate   time.Time               `json:"payment_date"`
	ActorId       string                  `json:"actor_id"`
}

type RefundRequest struct {
	RiderId       string    `json:"rider_id" validate:"required,max=64"`
	TransactionId string    `json:"transaction_id" validate:"required,max=128"`
	Amount        int64     `json:"amount" validate:"gt=0"`
	DayCount      int       `json:"day_count" validate:"gte=1"`
	RefundDate    time.Time `json:"refund_date"`
	ActorId       string    `json:"actor_id"`
}

type PaymentResult struct {
	Entry  *models.JournalEntry   `json:"entry"`
	Escrow *models.EscrowTracking `json:"escrow"`
	// Replayed is true when the transaction id had already been accepted.
	Replayed bool `json:"replayed"`
}

type RemittanceResult struct {
	BatchRef    string               `json:"batch_ref"`
	Entry       *models.JournalEntry `json:"entry"`
	TotalAmount int64                `json:"total_amount"`
	RowCount    int                  `json:"row_count"`
	Message     string               `json:"message"`
}

// splitForAmount infers which receipt allocation produced a gross premium amount.
func splitForAmount(rates *config.RateTable, amount int64) (EscrowSplit, models.JournalEntryType, error) {
	if amount == rates.InitialDeposit.UnitPrice {
		u := rates.InitialDeposit
		return EscrowSplit{Gross: amount, Underwriter: u.UnderwriterPremium, Platform: u.PlatformFee,
			PartnerA: u.PartnerAFee, PartnerB: u.PartnerBFee, DayCount: 1}, models.JournalEntryTypeInitialDeposit, nil
	}
	u := rates.DailyPayment
	if amount%u.UnitPrice == 0 {
		n := amount / u.UnitPrice
		return EscrowSplit{Gross: amount, Underwriter: u.UnderwriterPremium * n, Platform: u.PlatformFee * n,
			PartnerA: u.PartnerAFee * n, PartnerB: u.PartnerBFee * n, DayCount: int(n)}, models.JournalEntryTypeDailyPayment, nil
	}
	return EscrowSplit{}, "", utils.NewValidationError("premium_amount",
		"%d matches neither the initial deposit (%d) nor a multiple of the daily payment (%d)",
		amount, rates.InitialDeposit.UnitPrice, u.UnitPrice)
}

func escrowFromSplit(riderId, ref string, kind models.EscrowKind, split EscrowSplit, date time.Time, rateVersion string, entryId int) models.NewEscrow {
	return models.NewEscrow{
		RiderId:           riderId,
		TransactionRef:    ref,
		Kind:              kind,
		PremiumAmount:     split.Gross,
		UnderwriterAmount: split.Underwriter,
		PlatformFee:       split.Platform,
		PartnerAFee:       split.PartnerA,
		PartnerBFee:       split.PartnerB,
		PaymentDay:        date.UTC().Day(),
		DayCount:          split.DayCount,
		PaymentDate:       date,
		RateVersion:       rateVersion,
		JournalEntryId:    entryId,
	}
}

// RecordEscrow stores the row exactly once per transaction reference. A replay returns the
// stored row.
func (t *EscrowTracker) RecordEscrow(ctx context.Context, req RecordEscrowRequest) (*models.EscrowTracking, error) {
	ctx, span := startSpan(ctx, "EscrowTracker.RecordEscrow", attribute.String("transaction_ref", req.TransactionRef))
	var err error
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	date := req.PaymentDate
	if date.IsZero() {
		date = t.Engine.now()
	}
	rates := t.Engine.RateTableAt(date)
	split, _, err := splitForAmount(rates, req.PremiumAmount)
	if err != nil {
		return nil, err
	}
	input := escrowFromSplit(req.RiderId, req.TransactionRef, models.EscrowKindPremium, split, date, rates.Version, 0)
	input.PaymentDay = req.PaymentDay

	var row *models.EscrowTracking
	err = t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// An entry already posted through PostEvent is linked here; one posted later links itself.
		entry, getErr := models.GetJournalEntryByRef(ctx, tx, req.TransactionRef)
		if getErr == nil {
			input.JournalEntryId = entry.ID
		} else if !errors.Is(getErr, utils.ErrorRecordNotFound) {
			return getErr
		}
		r, createErr := models.CreateEscrow(ctx, tx, input)
		if createErr != nil {
			return createErr
		}
		row = r
		return nil
	})
	if errors.Is(err, utils.ErrDuplicatePosting) {
		row, err = models.GetEscrowByRef(ctx, t.DB, req.TransactionRef)
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// AcceptPremiumPayment posts the receipt and records its escrow row in one transaction.
func (t *EscrowTracker) AcceptPremiumPayment(ctx context.Context, p PremiumPayment) (*PaymentResult, error) {
	ctx, span := startSpan(ctx, "EscrowTracker.AcceptPremiumPayment",
		attribute.String("transaction_id", p.TransactionId),
		attribute.String("rider_id", p.RiderId),
	)
	var err error
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateStruct(p); err != nil {
		return nil, err
	}
	if p.PaymentDate.IsZero() {
		p.PaymentDate = t.Engine.now()
	}
	if p.EventType == models.JournalEntryTypeInitialDeposit && p.DayCount == 0 {
		p.DayCount = 1
	}
	req := PostingRequest{
		EventType:     p.EventType,
		TransactionId: p.TransactionId,
		Amount:        p.Amount,
		DayCount:      p.DayCount,
		EventDate:     p.PaymentDate,
		ActorId:       p.ActorId,
	}

	existing, err := t.Engine.findPosted(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		result, replayErr := t.replayPayment(ctx, p, existing)
		err = replayErr
		return result, err
	}

	result := &PaymentResult{}
	err = t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entry, alloc, postErr := t.Engine.PostInTx(ctx, tx, req)
		if postErr != nil {
			return postErr
		}
		// RecordEscrow may have stored the row first; PostInTx has linked it by now.
		row, getErr := models.GetEscrowByRef(ctx, tx, p.TransactionId)
		if errors.Is(getErr, utils.ErrorRecordNotFound) {
			row, getErr = models.CreateEscrow(ctx, tx, escrowFromSplit(p.RiderId, p.TransactionId,
				models.EscrowKindPremium, alloc.Escrow, p.PaymentDate, alloc.RateVersion, entry.ID))
		}
		if getErr != nil {
			return getErr
		}
		result.Entry, result.Escrow = entry, row
		return nil
	})
	if errors.Is(err, utils.ErrDuplicatePosting) {
		// Lost the race to a concurrent caller; nil means only the escrow row collided.
		dupErr := err
		var entry *models.JournalEntry
		if entry, err = t.Engine.findPosted(ctx, req); err == nil {
			if entry == nil {
				err = dupErr
			} else {
				result, err = t.replayPayment(ctx, p, entry)
			}
		}
	}
	if err != nil {
		if !utils.IsBusinessRejection(err) {
			config.LogError(t.Logger, "EscrowTracker", "AcceptPremiumPayment", "accept payment", p, err)
		}
		return nil, err
	}
	return result, nil
}

// replayPayment returns the stored entry and escrow row. An entry posted earlier through
// PostEvent without its escrow row gets the row now, split from the posted amount.
func (t *EscrowTracker) replayPayment(ctx context.Context, p PremiumPayment, entry *models.JournalEntry) (*PaymentResult, error) {
	if row, getErr := models.GetEscrowByRef(ctx, t.DB, p.TransactionId); getErr == nil {
		return &PaymentResult{Entry: entry, Escrow: row, Replayed: true}, nil
	} else if !errors.Is(getErr, utils.ErrorRecordNotFound) {
		return nil, getErr
	}
	if !entry.EntryType.IsReceipt() {
		return nil, utils.NewValidationError("transaction_id", "%s is posted as %s, not a premium receipt",
			p.TransactionId, entry.EntryType)
	}

	rates, ok := t.Engine.Rates.Version(entry.RateVersion)
	if !ok {
		rates = t.Engine.RateTableAt(entry.EventDate)
	}
	split, _, err := splitForAmount(rates, entry.TotalAmount)
	if err != nil {
		return nil, err
	}
	var row *models.EscrowTracking
	err = t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, createErr := models.CreateEscrow(ctx, tx, escrowFromSplit(p.RiderId, p.TransactionId,
			models.EscrowKindPremium, split, entry.EventDate, rates.Version, entry.ID))
		row = r
		return createErr
	})
	if errors.Is(err, utils.ErrDuplicatePosting) {
		row, err = models.GetEscrowByRef(ctx, t.DB, p.TransactionId)
	}
	if err != nil {
		return nil, err
	}
	return &PaymentResult{Entry: entry, Escrow: row, Replayed: true}, nil
}

// InitiateRefund posts the refund allocation and records a negative escrow adjustment so the
// next remittance and fee settlements net the refunded days out.
func (t *EscrowTracker) InitiateRefund(ctx context.Context, r RefundRequest) (*PaymentResult, error) {
	ctx, span := startSpan(ctx, "EscrowTracker.InitiateRefund",
		attribute.String("transaction_id", r.TransactionId),
		attribute.String("rider_id", r.RiderId),
	)
	var err error
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateStruct(r); err != nil {
		return nil, err
	}
	if r.RefundDate.IsZero() {
		r.RefundDate = t.Engine.now()
	}
	req := PostingRequest{
		EventType:     models.JournalEntryTypeRefundInitiation,
		TransactionId: r.TransactionId,
		Amount:        r.Amount,
		DayCount:      r.DayCount,
		EventDate:     r.RefundDate,
		ActorId:       r.ActorId,
	}
	// The replay check runs before the day check; the first refund already consumed the days.
	existing, err := t.Engine.findPosted(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		result, replayErr := t.replayRefund(ctx, existing)
		err = replayErr
		return result, err
	}

	result := &PaymentResult{}
	err = t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		paidDays, daysErr := models.RefundableDays(ctx, tx, r.RiderId)
		if daysErr != nil {
			return daysErr
		}
		if r.DayCount > paidDays {
			return utils.NewValidationError("day_count",
				"rider %s has %d refundable days, %d requested", r.RiderId, paidDays, r.DayCount)
		}
		entry, alloc, postErr := t.Engine.PostInTx(ctx, tx, req)
		if postErr != nil {
			return postErr
		}
		row, escErr := models.CreateEscrow(ctx, tx, escrowFromSplit(r.RiderId, r.TransactionId,
			models.EscrowKindRefundAdjustment, alloc.Escrow, r.RefundDate, alloc.RateVersion, entry.ID))
		if escErr != nil {
			return escErr
		}
		result.Entry, result.Escrow = entry, row
		return nil
	})
	if errors.Is(err, utils.ErrDuplicatePosting) {
		// Lost the race to a concurrent caller; nil means only the escrow row collided.
		dupErr := err
		var entry *models.JournalEntry
		if entry, err = t.Engine.findPosted(ctx, req); err == nil {
			if entry == nil {
				err = dupErr
			} else {
				result, err = t.replayRefund(ctx, entry)
			}
		}
	}
	if err != nil {
		if !utils.IsBusinessRejection(err) {
			config.LogError(t.Logger, "EscrowTracker", "InitiateRefund", "initiate refund", r, err)
		}
		return nil, err
	}
	return result, nil
}

func (t *EscrowTracker) replayRefund(ctx context.Context, entry *models.JournalEntry) (*PaymentResult, error) {
	row, err := models.GetEscrowByRef(ctx, t.DB, entry.TransactionRef)
	if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, err
	}
	return &PaymentResult{Entry: entry, Escrow: row, Replayed: true}, nil
}

// PayoutRefund clears the rider refund liability once the payout subsystem confirms it.
func (t *EscrowTracker) PayoutRefund(ctx context.Context, transactionId string, amount int64, paidAt time.Time, actorId string) (*models.JournalEntry, error) {
	return t.Engine.PostEvent(ctx, PostingRequest{
		EventType:     models.JournalEntryTypeRefundPayout,
		TransactionId: transactionId,
		Amount:        amount,
		EventDate:     paidAt,
		ActorId:       actorId,
	})
}

func (t *EscrowTracker) Find(ctx context.Context, f models.EscrowFilter) ([]models.EscrowTracking, error) {
	return models.FindEscrow(ctx, t.DB, f)
}

// RemitPremiums claims every PENDING row in [from, to) and posts one bulk remittance of the
// underwriter share. Refund adjustments in the window net against receipts.
func (t *EscrowTracker) RemitPremiums(ctx context.Context, from, to time.Time, actorId string) (*RemittanceResult, error) {
	ctx, span := startSpan(ctx, "EscrowTracker.RemitPremiums",
		attribute.String("from", from.Format(time.RFC3339)),
		attribute.String("to", to.Format(time.RFC3339)),
	)
	var err error
	defer func() { endSpan(span, err) }()

	if !to.After(from) {
		err = utils.NewValidationError("to", "must be after from")
		return nil, err
	}

	result := &RemittanceResult{}
	err = t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, findErr := models.FindEscrow(ctx, tx, models.EscrowFilter{
			From:             from,
			To:               to,
			RemittanceStatus: models.RemittanceStatusPending,
		})
		if findErr != nil {
			return findErr
		}
		var total int64
		ids := make([]int, 0, len(rows))
		for _, r := range rows {
			total += r.UnderwriterAmount
			ids = append(ids, r.ID)
		}
		if len(rows) == 0 || total == 0 {
			result.Message = "no pending premium to remit in period"
			return nil
		}
		if total < 0 {
			return utils.NewValidationError("period", "refunds exceed premium in period: net underwriter amount %d", total)
		}

		seq, seqErr := models.NextSequence(tx, models.SequenceRemittance)
		if seqErr != nil {
			return seqErr
		}
		batchRef := models.FormatNumber("RB", seq)
		now := t.Engine.now()
		if claimErr := models.ClaimEscrowForRemittance(tx, ids, nil, &batchRef, now); claimErr != nil {
			return claimErr
		}
		entry, _, postErr := t.Engine.PostInTx(ctx, tx, PostingRequest{
			EventType:     models.JournalEntryTypeBulkPremiumRemittance,
			TransactionId: batchRef,
			Amount:        total,
			EventDate:     now,
			ActorId:       actorId,
			Description:   fmt.Sprintf("Bulk premium remittance %s (%d rows)", batchRef, len(ids)),
		})
		if postErr != nil {
			return postErr
		}
		result.BatchRef = batchRef
		result.Entry = entry
		result.TotalAmount = total
		result.RowCount = len(ids)
		result.Message = fmt.Sprintf("remitted %d rows", len(ids))
		return models.EnqueueLedgerEvent(tx, models.LedgerEventRemittanceBatched, "remittance_batch", entry.ID, result, entry.CorrelationId)
	})
	if err != nil {
		if !utils.IsBusinessRejection(err) {
			config.LogError(t.Logger, "EscrowTracker", "RemitPremiums", "bulk remittance", map[string]any{"from": from, "to": to}, err)
		}
		return nil, err
	}
	return result, nil
}

// RemitSingle remits one premium row outside a batch.
func (t *EscrowTracker) RemitSingle(ctx context.Context, transactionRef string, actorId string) (*RemittanceResult, error) {
	ctx, span := startSpan(ctx, "EscrowTracker.RemitSingle", attribute.String("transaction_ref", transactionRef))
	var err error
	defer func() { endSpan(span, err) }()

	result := &RemittanceResult{}
	err = t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, getErr := models.GetEscrowByRef(ctx, tx, transactionRef)
		if getErr != nil {
			return getErr
		}
		if row.Kind != models.EscrowKindPremium {
			return utils.NewValidationError("transaction_ref", "%s is a %s row", transactionRef, row.Kind)
		}
		if row.RemittanceStatus != models.RemittanceStatusPending {
			return utils.NewStateConflictError("escrow", row.ID, "remit",
				string(row.RemittanceStatus), string(models.RemittanceStatusPending))
		}
		ref := "REM-" + transactionRef
		now := t.Engine.now()
		if claimErr := models.ClaimEscrowForRemittance(tx, []int{row.ID}, nil, &ref, now); claimErr != nil {
			return claimErr
		}
		entry, _, postErr := t.Engine.PostInTx(ctx, tx, PostingRequest{
			EventType:     models.JournalEntryTypePremiumRemittance,
			TransactionId: ref,
			Amount:        row.UnderwriterAmount,
			EventDate:     now,
			ActorId:       actorId,
		})
		if postErr != nil {
			return postErr
		}
		result.BatchRef = ref
		result.Entry = entry
		result.TotalAmount = row.UnderwriterAmount
		result.RowCount = 1
		result.Message = "remitted 1 row"
		return models.EnqueueLedgerEvent(tx, models.LedgerEventRemittanceBatched, "remittance_batch", entry.ID, result, entry.CorrelationId)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AggregateRiderPremiums feeds the commission calculator from escrow rows in [from, to).
func (t *EscrowTracker) AggregateRiderPremiums(ctx context.Context, from, to time.Time) ([]RiderPremium, error) {
	rows, err := models.AggregateRiderPremiums(ctx, t.DB, from, to)
	if err != nil {
		return nil, err
	}
	fullTerm := t.Engine.RateTableAt(from).Commission.FullTermDays
	out := make([]RiderPremium, 0, len(rows))
	for _, r := range rows {
		out = append(out, RiderPremium{
			RiderId:       r.RiderId,
			TotalPremium:  r.TotalPremium,
			DaysCompleted: r.DaysCompleted,
			IsFullTerm:    r.DaysCompleted >= fullTerm,
		})
	}
	return out, nil
}
