package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// PostingRequest is one confirmed business event. Amount is supplied by the payment subsystem
// and is never recomputed here; it is only checked against the rate table.
type PostingRequest struct {
	EventType     models.JournalEntryType `json:"event_type" validate:"required"`
	TransactionId string                  `json:"transaction_id" validate:"required,max=128"`
	Amount        int64                   `json:"amount" validate:"gt=0"`
	DayCount      int                     `json:"day_count" validate:"gte=0"`
	EventDate     time.Time               `json:"event_date"`
	ActorId       string                  `json:"actor_id" validate:"max=100"`
	Description   string                  `json:"description" validate:"max=255"`
}

type PostingEngine struct {
	DB     *gorm.DB
	Rates  *config.RateBook
	Logger *logrus.Logger
	Now    func() time.Time
}

func NewPostingEngine(db *gorm.DB, rates *config.RateBook, logger *logrus.Logger) *PostingEngine {
	return &PostingEngine{
		DB:     db,
		Rates:  rates,
		Logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
	}
}

func (e *PostingEngine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

// RateTableAt returns the table in force at the given event time.
func (e *PostingEngine) RateTableAt(at time.Time) *config.RateTable {
	return e.Rates.Active(at)
}

// PostEvent posts the event at most once per transaction id. A replay returns the entry that
// was posted first, including when a concurrent caller won the unique-index race.
func (e *PostingEngine) PostEvent(ctx context.Context, req PostingRequest) (*models.JournalEntry, error) {
	ctx, span := startSpan(ctx, "PostingEngine.PostEvent",
		attribute.String("event_type", string(req.EventType)),
		attribute.String("transaction_id", req.TransactionId),
		attribute.Int64("amount", req.Amount),
	)
	var err error
	defer func() { endSpan(span, err) }()

	// A replay returns the first entry before the amount is checked again.
	existing, err := e.findPosted(ctx, req)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var entry *models.JournalEntry
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		posted, _, postErr := e.PostInTx(ctx, tx, req)
		if postErr != nil {
			return postErr
		}
		entry = posted
		return nil
	})
	if err == nil {
		return entry, nil
	}

	var dup *utils.DuplicatePostingError
	if errors.As(err, &dup) {
		existing, getErr := models.GetJournalEntryByRef(ctx, e.DB, req.TransactionId)
		if getErr != nil {
			err = getErr
			return nil, err
		}
		e.warnOnReplayMismatch(existing, req)
		err = nil
		return existing, nil
	}
	if !utils.IsBusinessRejection(err) {
		config.LogError(e.Logger, "PostingEngine", "PostEvent", "post event", req, err)
	}
	return nil, err
}

// PostInTx builds the allocation and posts it inside tx. Duplicates surface as
// *utils.DuplicatePostingError so the caller decides how to replay.
func (e *PostingEngine) PostInTx(ctx context.Context, tx *gorm.DB, req PostingRequest) (*models.JournalEntry, *Allocation, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, nil, err
	}
	if !req.EventType.IsValid() {
		return nil, nil, utils.NewValidationError("event_type", "unknown event type %q", req.EventType)
	}
	eventDate := req.EventDate
	if eventDate.IsZero() {
		eventDate = e.now()
	}
	rates := e.RateTableAt(eventDate)
	if rates == nil {
		return nil, nil, utils.NewInvariantViolation("rate_table", "no rate table in force at %s", eventDate.Format(time.RFC3339))
	}
	alloc, err := BuildAllocation(rates, req)
	if err != nil {
		return nil, nil, err
	}

	_, correlationId := utils.EnsureCorrelationId(ctx)
	entry, err := models.PostJournalEntry(ctx, tx, models.NewJournalEntry{
		EntryType:      req.EventType,
		TransactionRef: req.TransactionId,
		Description:    DescribeEvent(req),
		EventDate:      eventDate,
		RateVersion:    alloc.RateVersion,
		CreatedBy:      utils.ActorOrSystem(ctx, req.ActorId),
		CorrelationId:  correlationId,
		Lines:          alloc.Lines,
	})
	if err != nil {
		if errors.Is(err, utils.ErrInvariantViolation) {
			config.LogInvariantViolation(e.Logger, "PostingEngine", "balanced_entry", req, err)
		}
		return nil, nil, err
	}
	if req.EventType.IsReceipt() {
		// Rows recorded ahead of the posting through RecordEscrow.
		if _, err := models.LinkEscrowEntry(ctx, tx, req.TransactionId, entry.ID, req.Amount); err != nil &&
			!errors.Is(err, utils.ErrorRecordNotFound) {
			return nil, nil, err
		}
	}
	return entry, alloc, nil
}

// findPosted returns the entry already posted under the request's transaction id, logging
// when the replay carries different money. It returns nil when nothing is posted yet.
func (e *PostingEngine) findPosted(ctx context.Context, req PostingRequest) (*models.JournalEntry, error) {
	if req.TransactionId == "" {
		return nil, nil
	}
	existing, err := models.GetJournalEntryByRef(ctx, e.DB, req.TransactionId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.warnOnReplayMismatch(existing, req)
	return existing, nil
}

// PostLines posts a pre-built line set (settlement accruals and payouts) inside tx.
func (e *PostingEngine) PostLines(ctx context.Context, tx *gorm.DB, input models.NewJournalEntry) (*models.JournalEntry, error) {
	_, correlationId := utils.EnsureCorrelationId(ctx)
	if input.CorrelationId == "" {
		input.CorrelationId = correlationId
	}
	input.CreatedBy = utils.ActorOrSystem(ctx, input.CreatedBy)
	if input.EventDate.IsZero() {
		input.EventDate = e.now()
	}
	if input.RateVersion == "" {
		if rates := e.RateTableAt(input.EventDate); rates != nil {
			input.RateVersion = rates.Version
		}
	}
	return models.PostJournalEntry(ctx, tx, input)
}

// warnOnReplayMismatch logs retries that reuse a transaction id with different money.
// The first posting stands either way.
func (e *PostingEngine) warnOnReplayMismatch(existing *models.JournalEntry, req PostingRequest) {
	if e.Logger == nil || existing == nil {
		return
	}
	if existing.EntryType == req.EventType && existing.TotalAmount == req.Amount {
		return
	}
	e.Logger.WithFields(logrus.Fields{
		"module":          "PostingEngine",
		"transaction_id":  req.TransactionId,
		"existing_entry":  existing.EntryNumber,
		"existing_type":   existing.EntryType,
		"existing_amount": existing.TotalAmount,
		"replay_type":     req.EventType,
		"replay_amount":   req.Amount,
	}).Warn("replayed transaction id differs from the posted entry")
}
