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

type PartnerSettlement struct {
	ID               int              `gorm:"primary_key" json:"id"`
	SettlementNumber string           `gorm:"size:32;not null;uniqueIndex:uniq_partner_settlements_number" json:"settlement_number"`
	PartnerType      PartnerType      `gorm:"size:16;not null;index:idx_settlement_partner_period,priority:1" json:"partner_type"`
	SettlementType   SettlementType   `gorm:"size:16;not null;index:idx_settlement_partner_period,priority:2" json:"settlement_type"`
	PeriodStart      time.Time        `gorm:"not null;index:idx_settlement_partner_period,priority:3" json:"period_start"`
	PeriodEnd        time.Time        `gorm:"not null" json:"period_end"`
	TotalAmount      int64            `gorm:"not null" json:"total_amount"`
	TransactionCount int              `gorm:"not null" json:"transaction_count"`
	Status           SettlementStatus `gorm:"size:16;not null;index" json:"status"`
	CreatedBy        string           `gorm:"size:100;not null" json:"created_by"`

	ApprovedBy         *string    `gorm:"size:100" json:"approved_by"`
	ApprovedAt         *time.Time `json:"approved_at"`
	ProcessedBy        *string    `gorm:"size:100" json:"processed_by"`
	ProcessedAt        *time.Time `json:"processed_at"`
	CompletedBy        *string    `gorm:"size:100" json:"completed_by"`
	CompletedAt        *time.Time `json:"completed_at"`
	CancelledBy        *string    `gorm:"size:100" json:"cancelled_by"`
	CancelledAt        *time.Time `json:"cancelled_at"`
	CancellationReason *string    `gorm:"type:text" json:"cancellation_reason"`
	BankReference      *string    `gorm:"size:128;index" json:"bank_reference"`

	// AccrualJournalEntryId moves the amount into partner settlements payable at creation;
	// JournalEntryId records the payout once it is confirmed.
	AccrualJournalEntryId *int                                   `gorm:"index" json:"accrual_journal_entry_id"`
	JournalEntryId        *int                                   `gorm:"index" json:"journal_entry_id"`
	Metadata              datatypes.JSONType[SettlementMetadata] `json:"metadata"`
	LineItems             []SettlementLineItem                   `gorm:"foreignKey:SettlementId" json:"line_items"`
	Events                []SettlementEvent                      `gorm:"foreignKey:SettlementId" json:"events"`
	CreatedAt             time.Time                              `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time                              `gorm:"autoUpdateTime" json:"updated_at"`
}

// SettlementLineItem is the daily breakdown that keeps a settlement total re-derivable.
type SettlementLineItem struct {
	ID           int       `gorm:"primary_key" json:"id"`
	SettlementId int       `gorm:"not null;uniqueIndex:uniq_settlement_line_day,priority:1" json:"settlement_id"`
	Date         time.Time `gorm:"not null;uniqueIndex:uniq_settlement_line_day,priority:2" json:"date"`
	Amount       int64     `gorm:"not null" json:"amount"`
	Count        int       `gorm:"not null" json:"count"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// SettlementEvent is the audit trail; one row per lifecycle transition.
type SettlementEvent struct {
	ID           int              `gorm:"primary_key" json:"id"`
	SettlementId int              `gorm:"not null;index" json:"settlement_id"`
	FromStatus   SettlementStatus `gorm:"size:16" json:"from_status"`
	ToStatus     SettlementStatus `gorm:"size:16;not null" json:"to_status"`
	ActorId      string           `gorm:"size:100;not null" json:"actor_id"`
	Note         string           `gorm:"type:text" json:"note"`
	CreatedAt    time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

func (s *PartnerSettlement) BeforeDelete(tx *gorm.DB) error {
	return errors.New("settlements cannot be deleted; cancel instead")
}

func (l *SettlementLineItem) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("settlement line items are immutable")
}

func (e *SettlementEvent) BeforeUpdate(tx *gorm.DB) error {
	return errors.New("settlement events are immutable")
}

// LineItemTotals sums the daily breakdown.
func (s PartnerSettlement) LineItemTotals() (amount int64, count int) {
	for _, l := range s.LineItems {
		amount += l.Amount
		count += l.Count
	}
	return amount, count
}

// ServiceFeeSettlementType maps a counterpart to the settlement kind its escrow share produces.
func ServiceFeeSettlementType(p PartnerType) SettlementType {
	if p == PartnerTypeUnderwriter {
		return SettlementTypeRemittance
	}
	return SettlementTypeServiceFee
}

func GetSettlement(ctx context.Context, db *gorm.DB, id int) (*PartnerSettlement, error) {
	var s PartnerSettlement
	err := db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("date") }).
		Preload("Events", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Where("id = ?", id).
		First(&s).Error
	if err != nil {
		if utils.IsRecordNotFound(err) {
			return nil, utils.NewNotFoundError("settlement", id)
		}
		return nil, err
	}
	return &s, nil
}

// LockSettlement re-fetches the row FOR UPDATE inside tx.
func LockSettlement(tx *gorm.DB, id int) (*PartnerSettlement, error) {
	var s PartnerSettlement
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&s).Error; err != nil {
		if utils.IsRecordNotFound(err) {
			return nil, utils.NewNotFoundError("settlement", id)
		}
		return nil, err
	}
	return &s, nil
}

type SettlementFilter struct {
	PartnerType    PartnerType
	SettlementType SettlementType
	Statuses       []SettlementStatus
	PeriodFrom     time.Time
	PeriodTo       time.Time
}

func ListSettlements(ctx context.Context, db *gorm.DB, f SettlementFilter) ([]PartnerSettlement, error) {
	q := db.WithContext(ctx).Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("date") })
	if f.PartnerType != "" {
		q = q.Where("partner_type = ?", f.PartnerType)
	}
	if f.SettlementType != "" {
		q = q.Where("settlement_type = ?", f.SettlementType)
	}
	if len(f.Statuses) > 0 {
		q = q.Where("status IN ?", f.Statuses)
	}
	if !f.PeriodFrom.IsZero() {
		q = q.Where("period_start >= ?", f.PeriodFrom.UTC())
	}
	if !f.PeriodTo.IsZero() {
		q = q.Where("period_start < ?", f.PeriodTo.UTC())
	}
	var rows []PartnerSettlement
	err := q.Order("id").Find(&rows).Error
	return rows, err
}

// HasActiveCommissionSettlement reports a non-cancelled commission settlement for the same partner and period.
func HasActiveCommissionSettlement(tx *gorm.DB, partner PartnerType, start, end time.Time) (bool, error) {
	var count int64
	err := tx.Model(&PartnerSettlement{}).
		Where("partner_type = ? AND settlement_type = ? AND period_start = ? AND period_end = ? AND status <> ?",
			partner, SettlementTypeCommission, start.UTC(), end.UTC(), SettlementStatusCancelled).
		Count(&count).Error
	return count > 0, err
}

func CreateSettlementEvent(tx *gorm.DB, settlementId int, from, to SettlementStatus, actorId, note string) error {
	return tx.Create(&SettlementEvent{
		SettlementId: settlementId,
		FromStatus:   from,
		ToStatus:     to,
		ActorId:      actorId,
		Note:         note,
	}).Error
}
