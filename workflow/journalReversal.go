package workflow

import (
	"context"
	"fmt"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// ReverseEntry posts the offsetting entry for entryId in its own transaction.
//
// Design:
// - We do NOT delete or edit posted entries.
// - We insert a REVERSAL entry with swapped sides and mark the original reversed_by_entry_id=<reversal>.
//
// Reversing an already reversed entry returns the existing reversal. Escrow rows created with the
// original posting are not touched; receipts that were already remitted must be corrected by a refund.
func (e *PostingEngine) ReverseEntry(ctx context.Context, entryId int, reason string, actorId string) (*models.JournalEntry, error) {
	ctx, span := startSpan(ctx, "PostingEngine.ReverseEntry", attribute.Int("entry_id", entryId))
	var err error
	defer func() { endSpan(span, err) }()

	var reversal *models.JournalEntry
	err = e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, revErr := e.reverseInTx(ctx, tx, entryId, reason, actorId)
		if revErr != nil {
			return revErr
		}
		reversal = r
		return nil
	})
	if err != nil {
		if !utils.IsBusinessRejection(err) {
			config.LogError(e.Logger, "PostingEngine", "ReverseEntry", fmt.Sprintf("reverse entry %d", entryId), reason, err)
		}
		return nil, err
	}
	return reversal, nil
}

func (e *PostingEngine) reverseInTx(ctx context.Context, tx *gorm.DB, entryId int, reason string, actorId string) (*models.JournalEntry, error) {
	if tx == nil {
		return nil, fmt.Errorf("reverse entry: tx is nil")
	}
	return models.ReverseJournalEntry(ctx, tx, entryId, reason, utils.ActorOrSystem(ctx, actorId))
}
