package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StatementLine is one line of an external bank or mobile-money statement. Amount is signed
// from the account holder's side: money in is positive.
type StatementLine struct {
	ExternalReference string    `json:"external_reference" validate:"max=128"`
	Amount            int64     `json:"amount" validate:"ne=0"`
	ValueDate         time.Time `json:"value_date" validate:"required"`
	PayerMsisdn       string    `json:"payer_msisdn" validate:"max=32"`
	Narrative         string    `json:"narrative" validate:"max=255"`
}

// matchText is what the matcher compares; channels that leave the reference blank usually
// carry it in the narrative.
func (l StatementLine) matchText() string {
	if l.ExternalReference != "" {
		return l.ExternalReference
	}
	return l.Narrative
}

type ResolveRequest struct {
	RunId   int    `json:"run_id" validate:"required"`
	ItemId  int    `json:"item_id" validate:"required"`
	Reason  string `json:"reason" validate:"required,max=1000"`
	ActorId string `json:"actor_id"`
	// JournalEntryId optionally links the entry the reviewer found by hand.
	JournalEntryId *int `json:"journal_entry_id"`
}

type ReconciliationEngine struct {
	DB                  *gorm.DB
	Logger              *logrus.Logger
	DateToleranceDays   int
	SimilarityThreshold float64
	CountryCode         string
	Now                 func() time.Time
}

func NewReconciliationEngine(db *gorm.DB, logger *logrus.Logger) *ReconciliationEngine {
	return &ReconciliationEngine{
		DB:                  db,
		Logger:              logger,
		DateToleranceDays:   config.ReconDateToleranceDays(),
		SimilarityThreshold: config.ReconReferenceSimilarity(),
		CountryCode:         config.PayerCountryCode(),
		Now:                 func() time.Time { return time.Now().UTC() },
	}
}

func (r *ReconciliationEngine) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

// cashEntryTypes are the postings that move a bank or mobile-money balance.
var cashEntryTypes = []models.JournalEntryType{
	models.JournalEntryTypeInitialDeposit,
	models.JournalEntryTypeDailyPayment,
	models.JournalEntryTypePremiumRemittance,
	models.JournalEntryTypeBulkPremiumRemittance,
	models.JournalEntryTypeRefundPayout,
	models.JournalEntryTypeSettlementPayout,
}

type ledgerCandidate struct {
	entry  models.JournalEntry
	amount int64
	used   bool
}

// Reconcile matches statement lines against ledger cash movements for [periodStart, periodEnd].
func (r *ReconciliationEngine) Reconcile(ctx context.Context, lines []StatementLine, periodStart, periodEnd time.Time, actorId string) (*models.ReconciliationRecord, error) {
	return r.ReconcileStatement(ctx, "", lines, periodStart, periodEnd, actorId)
}

// ReconcileStatement is Reconcile with the statement source (channel or file name) recorded on the run.
func (r *ReconciliationEngine) ReconcileStatement(ctx context.Context, source string, lines []StatementLine, periodStart, periodEnd time.Time, actorId string) (*models.ReconciliationRecord, error) {
	ctx, span := startSpan(ctx, "ReconciliationEngine.Reconcile",
		attribute.Int("lines", len(lines)),
		attribute.String("source", source),
	)
	var err error
	defer func() { endSpan(span, err) }()

	if err = validatePeriod(periodStart, periodEnd); err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		err = utils.NewValidationError("lines", "statement has no lines")
		return nil, err
	}
	from, to := settlementWindow(periodStart, periodEnd)
	for i, l := range lines {
		if err = utils.ValidateStruct(l); err != nil {
			err = utils.NewValidationError(fmt.Sprintf("lines[%d]", i), "%v", err)
			return nil, err
		}
		if l.ValueDate.Before(from) || !l.ValueDate.Before(to) {
			err = utils.NewValidationError(fmt.Sprintf("lines[%d].value_date", i), "%s is outside the period", l.ValueDate.Format("2006-01-02"))
			return nil, err
		}
	}

	candidates, err := r.loadCandidates(ctx, from, to)
	if err != nil {
		return nil, err
	}
	items := r.match(lines, candidates)

	var missing []string
	for _, c := range candidates {
		if !c.used && !c.entry.EventDate.Before(from) && c.entry.EventDate.Before(to) {
			missing = append(missing, c.entry.TransactionRef)
		}
	}
	if missing == nil {
		missing = []string{}
	}

	matched := 0
	for _, it := range items {
		if it.Status == models.ReconciliationItemMatched {
			matched++
		}
	}
	actor := utils.ActorOrSystem(ctx, actorId)
	record := models.ReconciliationRecord{
		StatementSource:      source,
		PeriodStart:          from,
		PeriodEnd:            to.Add(-24 * time.Hour),
		Status:               models.ReconciliationStatusOpen,
		TotalLines:           len(items),
		MatchedCount:         matched,
		UnmatchedCount:       len(items) - matched,
		MissingFromStatement: datatypes.NewJSONType(missing),
		DateToleranceDays:    r.DateToleranceDays,
		SimilarityThreshold:  r.SimilarityThreshold,
		CreatedBy:            actor,
	}
	if record.UnmatchedCount == 0 {
		now := r.now()
		record.Status = models.ReconciliationStatusCompleted
		record.CompletedAt = &now
	}

	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, seqErr := models.NextSequence(tx, models.SequenceReconciliation)
		if seqErr != nil {
			return seqErr
		}
		record.RunNumber = models.FormatNumber("RC", seq)
		if createErr := tx.Omit("Items").Create(&record).Error; createErr != nil {
			return createErr
		}
		for i := range items {
			items[i].ReconciliationId = record.ID
		}
		if createErr := tx.Create(&items).Error; createErr != nil {
			return createErr
		}
		_, correlationId := utils.EnsureCorrelationId(ctx)
		summary := map[string]interface{}{
			"run_number":      record.RunNumber,
			"status":          record.Status,
			"total_lines":     record.TotalLines,
			"matched_count":   record.MatchedCount,
			"unmatched_count": record.UnmatchedCount,
			"missing_count":   len(missing),
		}
		return models.EnqueueLedgerEvent(tx, models.LedgerEventReconciliationCreated, "reconciliation", record.ID, summary, correlationId)
	})
	if err != nil {
		if !utils.IsBusinessRejection(err) {
			config.LogError(r.Logger, "ReconciliationEngine", "Reconcile", "persist run", map[string]any{"source": source, "from": from, "to": to}, err)
		}
		return nil, err
	}
	return models.GetReconciliation(ctx, r.DB, record.ID)
}

// loadCandidates returns unreversed cash movements around the window that no earlier run claimed.
func (r *ReconciliationEngine) loadCandidates(ctx context.Context, from, to time.Time) ([]*ledgerCandidate, error) {
	tolerance := time.Duration(r.DateToleranceDays) * 24 * time.Hour
	entries, err := models.ListJournalEntries(ctx, r.DB, models.JournalFilter{
		From:            from.Add(-tolerance),
		To:              to.Add(tolerance),
		Types:           cashEntryTypes,
		ExcludeReversed: true,
	})
	if err != nil {
		return nil, err
	}
	claimed, err := models.MatchedJournalEntryIds(ctx, r.DB)
	if err != nil {
		return nil, err
	}
	out := make([]*ledgerCandidate, 0, len(entries))
	for _, e := range entries {
		if claimed[e.ID] {
			continue
		}
		amount := e.AccountNet(models.AccountEscrowCash, models.AccountOperatingCash)
		if amount == 0 {
			continue
		}
		out = append(out, &ledgerCandidate{entry: e, amount: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].entry.ID < out[j].entry.ID })
	return out, nil
}

// match runs an exact pass over every line before the fuzzy pass, so a fuzzy match can never
// take an entry another line references exactly.
func (r *ReconciliationEngine) match(lines []StatementLine, candidates []*ledgerCandidate) []models.ReconciliationItem {
	items := make([]models.ReconciliationItem, len(lines))
	for i, l := range lines {
		items[i] = models.ReconciliationItem{
			LineNo:            i + 1,
			ExternalReference: l.ExternalReference,
			Amount:            l.Amount,
			ValueDate:         l.ValueDate.UTC(),
			PayerMsisdn:       utils.NormalizeMSISDN(l.PayerMsisdn, r.CountryCode),
			Narrative:         l.Narrative,
			Status:            models.ReconciliationItemUnmatched,
		}
		if items[i].PayerMsisdn == "" && l.PayerMsisdn != "" && len(l.PayerMsisdn) <= 20 {
			items[i].PayerMsisdn = l.PayerMsisdn
		}
	}

	eligible := func(l StatementLine, c *ledgerCandidate) bool {
		return !c.used && c.amount == l.Amount && withinDays(l.ValueDate, c.entry.EventDate, r.DateToleranceDays)
	}

	for i, l := range lines {
		ref := NormalizeReference(l.matchText())
		if ref == "" {
			continue
		}
		for _, c := range candidates {
			if eligible(l, c) && NormalizeReference(c.entry.TransactionRef) == ref {
				markMatched(&items[i], c, models.MatchMethodExact, 1)
				break
			}
		}
	}

	for i, l := range lines {
		if items[i].Status == models.ReconciliationItemMatched {
			continue
		}
		var best *ledgerCandidate
		bestScore := 0.0
		for _, c := range candidates {
			if !eligible(l, c) {
				continue
			}
			score := ReferenceSimilarity(l.matchText(), c.entry.TransactionRef)
			if score >= r.SimilarityThreshold && score > bestScore {
				best, bestScore = c, score
			}
		}
		if best != nil {
			markMatched(&items[i], best, models.MatchMethodFuzzy, bestScore)
		}
	}
	return items
}

func markMatched(item *models.ReconciliationItem, c *ledgerCandidate, method models.MatchMethod, score float64) {
	c.used = true
	id := c.entry.ID
	ref := c.entry.TransactionRef
	m := method
	item.Status = models.ReconciliationItemMatched
	item.MatchedJournalEntryId = &id
	item.MatchedTransactionRef = &ref
	item.MatchMethod = &m
	item.MatchScore = score
}

// ResolveItem moves an UNMATCHED item to RESOLVED with the reviewer's reason. The run closes
// when its last open item is resolved; a closed run rejects further changes.
func (r *ReconciliationEngine) ResolveItem(ctx context.Context, req ResolveRequest) (*models.ReconciliationRecord, error) {
	ctx, span := startSpan(ctx, "ReconciliationEngine.ResolveItem",
		attribute.Int("run_id", req.RunId),
		attribute.Int("item_id", req.ItemId),
	)
	var err error
	defer func() { endSpan(span, err) }()

	if err = utils.ValidateStruct(req); err != nil {
		return nil, err
	}
	actor := utils.ActorOrSystem(ctx, req.ActorId)
	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		run, lockErr := models.LockReconciliation(tx, req.RunId)
		if lockErr != nil {
			return lockErr
		}
		if run.IsCompleted() {
			return utils.NewStateConflictError("reconciliation", run.ID, "resolve item",
				string(run.Status), string(models.ReconciliationStatusOpen))
		}
		var item models.ReconciliationItem
		if findErr := tx.Where("id = ? AND reconciliation_id = ?", req.ItemId, run.ID).First(&item).Error; findErr != nil {
			if utils.IsRecordNotFound(findErr) {
				return utils.NewNotFoundError("reconciliation item", req.ItemId)
			}
			return findErr
		}
		if item.Status != models.ReconciliationItemUnmatched {
			return utils.NewStateConflictError("reconciliation item", item.ID, "resolve",
				string(item.Status), string(models.ReconciliationItemUnmatched))
		}

		now := r.now()
		reason := req.Reason
		updates := map[string]interface{}{
			"status":            models.ReconciliationItemResolved,
			"resolution_reason": &reason,
			"resolved_by":       &actor,
			"resolved_at":       &now,
		}
		if req.JournalEntryId != nil {
			entry, getErr := models.GetJournalEntry(ctx, tx, *req.JournalEntryId)
			if getErr != nil {
				return getErr
			}
			id, ref := entry.ID, entry.TransactionRef
			updates["matched_journal_entry_id"] = &id
			updates["matched_transaction_ref"] = &ref
		}
		res := tx.Model(&models.ReconciliationItem{}).
			Where("id = ? AND status = ?", item.ID, models.ReconciliationItemUnmatched).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return utils.NewStateConflictError("reconciliation item", item.ID, "resolve", "CHANGED",
				string(models.ReconciliationItemUnmatched))
		}

		runUpdates := map[string]interface{}{
			"unmatched_count": gorm.Expr("unmatched_count - 1"),
			"resolved_count":  gorm.Expr("resolved_count + 1"),
		}
		closing := run.UnmatchedCount <= 1
		if closing {
			runUpdates["status"] = models.ReconciliationStatusCompleted
			runUpdates["completed_at"] = &now
		}
		if updErr := tx.Model(&models.ReconciliationRecord{}).Where("id = ?", run.ID).Updates(runUpdates).Error; updErr != nil {
			return updErr
		}
		if closing {
			_, correlationId := utils.EnsureCorrelationId(ctx)
			return models.EnqueueLedgerEvent(tx, models.LedgerEventReconciliationClosed, "reconciliation", run.ID,
				map[string]interface{}{"run_number": run.RunNumber, "closed_by": actor}, correlationId)
		}
		return nil
	})
	if err != nil {
		if !utils.IsBusinessRejection(err) {
			config.LogError(r.Logger, "ReconciliationEngine", "ResolveItem", "resolve item", req, err)
		}
		return nil, err
	}
	return models.GetReconciliation(ctx, r.DB, req.RunId)
}

func (r *ReconciliationEngine) GetRun(ctx context.Context, id int) (*models.ReconciliationRecord, error) {
	return models.GetReconciliation(ctx, r.DB, id)
}

func (r *ReconciliationEngine) ListRuns(ctx context.Context, status models.ReconciliationStatus) ([]models.ReconciliationRecord, error) {
	return models.ListReconciliations(ctx, r.DB, status)
}
