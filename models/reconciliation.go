package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReconciliationRecord is one run of statement lines against the ledger for a date range.
// A run is immutable once every item is MATCHED or RESOLVED.
type ReconciliationRecord struct {
	ID              int                  `gorm:"primary_key" json:"id"`
	RunNumber       string               `gorm:"size:32;not null;uniqueIndex:uniq_reconciliation_run_number" json:"run_number"`
	StatementSource string               `gorm:"size:64" json:"statement_source"`
	PeriodStart     time.Time            `gorm:"not null;index" json:"period_start"`
	PeriodEnd       time.Time            `gorm:"not null" json:"period_end"`
	Status          ReconciliationStatus `gorm:"size:16;not null;index" json:"status"`
	TotalLines      int                  `gorm:"not null" json:"total_lines"`
	MatchedCount    int                  `gorm:"not null" json:"matched_count"`
	UnmatchedCount  int                  `gorm:"not null" json:"unmatched_count"`
	ResolvedCount   int                  `gorm:"not null" json:"resolved_count"`
	// MissingFromStatement lists ledger transaction references no statement line claimed.
	MissingFromStatement datatypes.JSONType[[]string] `json:"missing_from_statement"`
	DateToleranceDays    int                          `gorm:"not null" json:"date_tolerance_days"`
	SimilarityThreshold  float64                      `gorm:"not null" json:"similarity_threshold"`
	CreatedBy            string                       `gorm:"size:100;not null" json:"created_by"`
	CompletedAt          *time.Time                   `json:"completed_at"`
	Items                []ReconciliationItem         `gorm:"foreignKey:ReconciliationId" json:"items"`
	CreatedAt            time.Time                    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time                    `gorm:"autoUpdateTime" json:"updated_at"`
}

type ReconciliationItem struct {
	ID                    int                      `gorm:"primary_key" json:"id"`
	ReconciliationId      int                      `gorm:"not null;index" json:"reconciliation_id"`
	LineNo                int                      `gorm:"not null" json:"line_no"`
	ExternalReference     string                   `gorm:"size:128;index" json:"external_reference"`
	Amount                int64                    `gorm:"not null" json:"amount"`
	ValueDate             time.Time                `gorm:"not null" json:"value_date"`
	PayerMsisdn           string                   `gorm:"size:20" json:"payer_msisdn"`
	Narrative             string                   `gorm:"size:255" json:"narrative"`
	Status                ReconciliationItemStatus `gorm:"size:16;not null;index" json:"status"`
	MatchedJournalEntryId *int                     `gorm:"index" json:"matched_journal_entry_id"`
	MatchedTransactionRef *string                  `gorm:"size:128" json:"matched_transaction_ref"`
	MatchMethod           *MatchMethod             `gorm:"size:8" json:"match_method"`
	MatchScore            float64                  `gorm:"not null;default:0" json:"match_score"`
	ResolutionReason      *string                  `gorm:"type:text" json:"resolution_reason"`
	ResolvedBy            *string                  `gorm:"size:100" json:"resolved_by"`
	ResolvedAt            *time.Time               `json:"resolved_at"`
	CreatedAt             time.Time                `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time                `gorm:"autoUpdateTime" json:"updated_at"`
}

func (r *ReconciliationRecord) BeforeDelete(tx *gorm.DB) error {
	return errors.New("reconciliation runs cannot be deleted")
}

func (i *ReconciliationItem) BeforeDelete(tx *gorm.DB) error {
	return errors.New("reconciliation items cannot be deleted")
}

func (r ReconciliationRecord) IsCompleted() bool {
	return r.Status == ReconciliationStatusCompleted
}

func GetReconciliation(ctx context.Context, db *gorm.DB, id int) (*ReconciliationRecord, error) {
	var r ReconciliationRecord
	err := db.WithContext(ctx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_no") }).
		Where("id = ?", id).
		First(&r).Error
	if err != nil {
		if utils.IsRecordNotFound(err) {
			return nil, utils.NewNotFoundError("reconciliation", id)
		}
		return nil, err
	}
	return &r, nil
}

func LockReconciliation(tx *gorm.DB, id int) (*ReconciliationRecord, error) {
	var r ReconciliationRecord
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&r).Error; err != nil {
		if utils.IsRecordNotFound(err) {
			return nil, utils.NewNotFoundError("reconciliation", id)
		}
		return nil, err
	}
	return &r, nil
}

// ListReconciliations returns runs, optionally only those in the given status.
func ListReconciliations(ctx context.Context, db *gorm.DB, status ReconciliationStatus) ([]ReconciliationRecord, error) {
	q := db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var rows []ReconciliationRecord
	err := q.Order("id").Find(&rows).Error
	return rows, err
}

// MatchedJournalEntryIds returns ledger entries already claimed by earlier runs, either by the
// matcher or by a resolution that linked an entry.
func MatchedJournalEntryIds(ctx context.Context, db *gorm.DB) (map[int]bool, error) {
	var ids []int
	if err := db.WithContext(ctx).
		Model(&ReconciliationItem{}).
		Where("matched_journal_entry_id IS NOT NULL AND status IN ?",
			[]ReconciliationItemStatus{ReconciliationItemMatched, ReconciliationItemResolved}).
		Pluck("matched_journal_entry_id", &ids).Error; err != nil {
		return nil, err
	}
	out := make(map[int]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}
