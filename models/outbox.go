package models

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"gorm.io/gorm"
)

// Outbox publish statuses for LedgerEventRecord.PublishStatus.
const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// Event names published for downstream collaborators (notifications, payout subsystem, BI).
const (
	LedgerEventJournalPosted         = "journal.posted"
	LedgerEventEscrowRecorded        = "escrow.recorded"
	LedgerEventRemittanceBatched     = "escrow.remitted"
	LedgerEventSettlementCreated     = "settlement.created"
	LedgerEventSettlementTransition  = "settlement.transitioned"
	LedgerEventReconciliationCreated = "reconciliation.created"
	LedgerEventReconciliationClosed  = "reconciliation.completed"
)

// LedgerEventRecord is the transactional outbox: written in the posting transaction,
// published after commit by the dispatcher.
type LedgerEventRecord struct {
	ID               int        `gorm:"primary_key;index:idx_ledger_outbox_dispatch,priority:3" json:"id"`
	EventName        string     `gorm:"size:64;not null;index" json:"event_name"`
	AggregateType    string     `gorm:"size:32;not null;index:idx_ledger_outbox_aggregate,priority:1" json:"aggregate_type"`
	AggregateId      int        `gorm:"not null;index:idx_ledger_outbox_aggregate,priority:2" json:"aggregate_id"`
	Payload          []byte     `gorm:"type:blob" json:"payload"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	PublishStatus    string     `gorm:"size:20;not null;default:'PENDING';index:idx_ledger_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	MessageId        *string    `gorm:"size:255" json:"message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index:idx_ledger_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// EnqueueLedgerEvent writes the event inside the caller's transaction; nothing is published here.
func EnqueueLedgerEvent(tx *gorm.DB, eventName string, aggregateType string, aggregateId int, payload any, correlationId string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", eventName, err)
	}
	return tx.Create(&LedgerEventRecord{
		EventName:     eventName,
		AggregateType: aggregateType,
		AggregateId:   aggregateId,
		Payload:       data,
		CorrelationId: correlationId,
		PublishStatus: OutboxPublishStatusPending,
	}).Error
}

func (r LedgerEventRecord) ToMessage() config.LedgerEventMessage {
	return config.LedgerEventMessage{
		EventId:       r.ID,
		EventName:     r.EventName,
		AggregateType: r.AggregateType,
		AggregateId:   r.AggregateId,
		OccurredAt:    r.CreatedAt,
		Payload:       r.Payload,
		CorrelationId: r.CorrelationId,
	}
}

// RequeueDeadLedgerEvents moves DEAD rows back to PENDING with a fresh attempt budget.
// An empty id list requeues every DEAD row.
func RequeueDeadLedgerEvents(ctx context.Context, db *gorm.DB, ids []int) (int64, error) {
	q := db.WithContext(ctx).
		Model(&LedgerEventRecord{}).
		Where("publish_status = ?", OutboxPublishStatusDead)
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	res := q.Updates(map[string]interface{}{
		"publish_status":   OutboxPublishStatusPending,
		"publish_attempts": 0,
		"next_attempt_at":  nil,
		"locked_at":        nil,
		"locked_by":        nil,
	})
	return res.RowsAffected, res.Error
}

// OutboxCounts groups outbox rows by publish status for the ops dashboard.
func OutboxCounts(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	type row struct {
		PublishStatus string
		Total         int64
	}
	var rows []row
	if err := db.WithContext(ctx).
		Model(&LedgerEventRecord{}).
		Select("publish_status, COUNT(*) AS total").
		Group("publish_status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.PublishStatus] = r.Total
	}
	return counts, nil
}
