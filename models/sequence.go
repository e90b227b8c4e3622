package models

import (
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerSequence backs gap-free numbering (journal entries, settlements, reconciliation runs).
// The increment row lock serializes concurrent callers until their transaction ends.
type LedgerSequence struct {
	Name  string `gorm:"primary_key;size:64" json:"name"`
	Value int64  `gorm:"column:seq_value;not null;default:0" json:"value"`
}

const (
	SequenceJournalEntry   = "journal_entry"
	SequenceSettlement     = "partner_settlement"
	SequenceReconciliation = "reconciliation_run"
	SequenceRemittance     = "remittance_batch"
)

// NextSequence must run inside the caller's transaction.
func NextSequence(tx *gorm.DB, name string) (int64, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&LedgerSequence{Name: name, Value: 0}).Error; err != nil {
		return 0, fmt.Errorf("init sequence %s: %w", name, err)
	}
	if err := tx.Model(&LedgerSequence{}).
		Where("name = ?", name).
		UpdateColumn("seq_value", gorm.Expr("seq_value + ?", 1)).Error; err != nil {
		return 0, fmt.Errorf("increment sequence %s: %w", name, err)
	}
	var seq LedgerSequence
	if err := tx.Where("name = ?", name).First(&seq).Error; err != nil {
		return 0, err
	}
	return seq.Value, nil
}

func FormatNumber(prefix string, n int64) string {
	return fmt.Sprintf("%s-%08d", prefix, n)
}
