package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// LedgerDriftFinding is written by the balance verification job when the stored ledger state
// disagrees with what the posted lines imply.
type LedgerDriftFinding struct {
	ID            int       `gorm:"primary_key" json:"id"`
	CheckType     string    `gorm:"size:50;index;not null" json:"check_type"`  // ACCOUNT_BALANCE, ENTRY_BALANCE, SETTLEMENT_LINES
	EntityType    string    `gorm:"size:50;index;not null" json:"entity_type"` // Account, JournalEntry, PartnerSettlement
	EntityKey     string    `gorm:"size:64;index;not null" json:"entity_key"`
	Expected      int64     `json:"expected"`
	Actual        int64     `json:"actual"`
	Details       string    `gorm:"type:text" json:"details"`
	CorrelationId string    `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func SaveDriftFindings(ctx context.Context, db *gorm.DB, findings []LedgerDriftFinding) error {
	if len(findings) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&findings).Error
}

func ListDriftFindings(ctx context.Context, db *gorm.DB, correlationId string) ([]LedgerDriftFinding, error) {
	var rows []LedgerDriftFinding
	q := db.WithContext(ctx)
	if correlationId != "" {
		q = q.Where("correlation_id = ?", correlationId)
	}
	err := q.Order("id").Find(&rows).Error
	return rows, err
}
