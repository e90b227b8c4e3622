package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerEventPublisher is satisfied by config.PubSubPublisher.
type LedgerEventPublisher interface {
	Publish(ctx context.Context, orderingKey string, data []byte, attrs map[string]string) (string, error)
}

type OutboxDispatcher struct {
	DB           *gorm.DB
	Publisher    LedgerEventPublisher
	Logger       *logrus.Logger
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	Now            func() time.Time
}

// DispatchStats counts one dispatch pass.
type DispatchStats struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Dead    int `json:"dead"`
}

func NewOutboxDispatcher(db *gorm.DB, publisher LedgerEventPublisher, logger *logrus.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Publisher:      publisher,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *OutboxDispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now().UTC()
	}
	return d.Now().UTC()
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims one batch, publishes it and records the outcome per row.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) DispatchStats {
	var stats DispatchStats
	now := d.now()
	staleBefore := now.Add(-d.LockTimeout)
	if d.DB == nil || d.Publisher == nil {
		return stats
	}

	var claimed []models.LedgerEventRecord
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING but lock is stale (dispatcher crashed mid-batch), reclaim after LockTimeout
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now, models.OutboxPublishStatusProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			// Poison events go terminal (DLQ equivalent).
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = models.OutboxPublishStatusDead
				if err := tx.Model(&models.LedgerEventRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":     models.OutboxPublishStatusDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}

			claimed[i].PublishStatus = models.OutboxPublishStatusProcessing
			claimed[i].LockedAt = &now
			claimed[i].LockedBy = &d.DispatcherID
			claimed[i].PublishAttempts = claimed[i].PublishAttempts + 1
			if err := tx.Model(&models.LedgerEventRecord{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":     claimed[i].PublishStatus,
				"locked_at":          claimed[i].LockedAt,
				"locked_by":          claimed[i].LockedBy,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{"field": "OutboxDispatcher"}).Error("outbox claim failed: " + err.Error())
		}
		return stats
	}
	stats.Claimed = len(claimed)

	for _, rec := range claimed {
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			stats.Dead++
			continue
		}
		data, mErr := json.Marshal(rec.ToMessage())
		if mErr != nil {
			if d.markPublishFailed(ctx, rec, mErr) {
				stats.Dead++
			} else {
				stats.Failed++
			}
			continue
		}
		orderingKey := rec.AggregateType + ":" + strconv.Itoa(rec.AggregateId)
		msgID, pubErr := d.Publisher.Publish(ctx, orderingKey, data, map[string]string{
			"event_name":     rec.EventName,
			"aggregate_type": rec.AggregateType,
			"correlation_id": rec.CorrelationId,
		})
		if pubErr != nil {
			if d.markPublishFailed(ctx, rec, pubErr) {
				stats.Dead++
			} else {
				stats.Failed++
			}
			continue
		}
		d.markPublishSent(ctx, rec.ID, msgID)
		stats.Sent++
	}
	return stats
}

func (d *OutboxDispatcher) markPublishSent(ctx context.Context, recordID int, messageID string) {
	now := d.now()
	id := messageID
	_ = d.DB.WithContext(ctx).Model(&models.LedgerEventRecord{}).
		Where("id = ?", recordID).
		Updates(map[string]interface{}{
			"publish_status":  models.OutboxPublishStatusSent,
			"published_at":    &now,
			"message_id":      &id,
			"locked_at":       nil,
			"locked_by":       nil,
			"next_attempt_at": nil,
		}).Error
}

// markPublishFailed schedules a retry with doubling backoff, or moves the row to DEAD after
// MaxAttempts. It reports whether the row went DEAD.
func (d *OutboxDispatcher) markPublishFailed(ctx context.Context, rec models.LedgerEventRecord, err error) bool {
	db := d.DB.WithContext(ctx)
	now := d.now()
	msg := err.Error()
	attempt := rec.PublishAttempts

	if d.MaxAttempts > 0 && attempt >= d.MaxAttempts {
		_ = db.Model(&models.LedgerEventRecord{}).
			Where("id = ?", rec.ID).
			Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusDead,
				"last_publish_error": &msg,
				"next_attempt_at":    nil,
				"locked_at":          nil,
				"locked_by":          nil,
			}).Error

		if d.Logger != nil {
			d.Logger.WithFields(logrus.Fields{
				"field":      "OutboxDispatcher",
				"event_name": rec.EventName,
				"record_id":  rec.ID,
				"attempt":    attempt,
			}).Error("outbox publish moved to DEAD after max attempts: " + msg)
		}
		return true
	}

	next := now.Add(d.backoff(attempt))
	_ = db.Model(&models.LedgerEventRecord{}).
		Where("id = ?", rec.ID).
		Updates(map[string]interface{}{
			"publish_status":     models.OutboxPublishStatusFailed,
			"last_publish_error": &msg,
			"next_attempt_at":    &next,
			"locked_at":          nil,
			"locked_by":          nil,
		}).Error

	if d.Logger != nil {
		d.Logger.WithFields(logrus.Fields{
			"field":           "OutboxDispatcher",
			"event_name":      rec.EventName,
			"record_id":       rec.ID,
			"attempt":         attempt,
			"next_attempt_at": next.Format(time.RFC3339Nano),
		}).Error("outbox publish failed: " + msg)
	}
	return false
}

func (d *OutboxDispatcher) backoff(attempt int) time.Duration {
	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff > time.Minute*10 {
			return time.Minute * 10
		}
	}
	return backoff
}
