package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EscrowTracking is one premium-bearing transaction awaiting remittance.
// Refund adjustments are recorded as negative rows so period totals net out.
type EscrowTracking struct {
	ID             int        `gorm:"primary_key" json:"id"`
	RiderId        string     `gorm:"size:64;not null;index:idx_escrow_rider_date,priority:1" json:"rider_id"`
	TransactionRef string     `gorm:"size:128;not null;uniqueIndex:uniq_escrow_tx_ref" json:"transaction_ref"`
	Kind           EscrowKind `gorm:"size:24;not null;default:'PREMIUM'" json:"kind"`
	// PremiumAmount is the gross amount collected; UnderwriterAmount is the share owed to the underwriter.
	PremiumAmount     int64     `gorm:"not null" json:"premium_amount"`
	UnderwriterAmount int64     `gorm:"not null" json:"underwriter_amount"`
	PlatformFee       int64     `gorm:"not null;default:0" json:"platform_fee"`
	PartnerAFee       int64     `gorm:"not null;default:0" json:"partner_a_fee"`
	PartnerBFee       int64     `gorm:"not null;default:0" json:"partner_b_fee"`
	PaymentDay        int       `gorm:"not null" json:"payment_day"`
	DayCount          int       `gorm:"not null" json:"day_count"`
	PaymentDate       time.Time `gorm:"not null;index:idx_escrow_status_date,priority:2;index:idx_escrow_rider_date,priority:2" json:"payment_date"`
	RateVersion       string    `gorm:"size:16" json:"rate_version"`
	JournalEntryId    int       `gorm:"index" json:"journal_entry_id"`
	// Remittance claim; the only columns that change after insert.
	RemittanceStatus   RemittanceStatus `gorm:"size:16;not null;default:'PENDING';index:idx_escrow_status_date,priority:1" json:"remittance_status"`
	SettlementId       *int             `gorm:"index" json:"settlement_id"`
	RemittanceBatchRef *string          `gorm:"size:64;index" json:"remittance_batch_ref"`
	RemittedAt         *time.Time       `json:"remitted_at"`
	CreatedAt          time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

// EscrowFeeClaim marks one partner's service-fee share of an escrow row as settled.
// The unique index is what stops two settlements claiming the same share.
type EscrowFeeClaim struct {
	ID           int         `gorm:"primary_key" json:"id"`
	EscrowId     int         `gorm:"not null;uniqueIndex:uniq_escrow_fee_claim,priority:1" json:"escrow_id"`
	PartnerType  PartnerType `gorm:"size:16;not null;uniqueIndex:uniq_escrow_fee_claim,priority:2" json:"partner_type"`
	SettlementId int         `gorm:"not null;index" json:"settlement_id"`
	Amount       int64       `gorm:"not null" json:"amount"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

type NewEscrow struct {
	RiderId           string     `json:"rider_id" validate:"required,max=64"`
	TransactionRef    string     `json:"transaction_ref" validate:"required,max=128"`
	Kind              EscrowKind `json:"kind" validate:"omitempty,oneof=PREMIUM REFUND_ADJUSTMENT"`
	PremiumAmount     int64      `json:"premium_amount"`
	UnderwriterAmount int64      `json:"underwriter_amount"`
	PlatformFee       int64      `json:"platform_fee"`
	PartnerAFee       int64      `json:"partner_a_fee"`
	PartnerBFee       int64      `json:"partner_b_fee"`
	PaymentDay        int        `json:"payment_day" validate:"gte=1,lte=31"`
	DayCount          int        `json:"day_count"`
	PaymentDate       time.Time  `json:"payment_date" validate:"required"`
	RateVersion       string     `json:"rate_version"`
	JournalEntryId    int        `json:"journal_entry_id"`
}

func (e *EscrowTracking) BeforeDelete(tx *gorm.DB) error {
	return errors.New("escrow rows cannot be deleted")
}

// BeforeUpdate keeps the money columns immutable; only the remittance claim may move.
// LinkEscrowEntry sets journal_entry_id once through UpdateColumn, which bypasses this hook.
func (e *EscrowTracking) BeforeUpdate(tx *gorm.DB) error {
	allowed := map[string]bool{
		"RemittanceStatus":   true,
		"SettlementId":       true,
		"RemittanceBatchRef": true,
		"RemittedAt":         true,
		"UpdatedAt":          true,
	}
	if tx == nil || tx.Statement == nil || tx.Statement.Schema == nil {
		return nil
	}
	for _, f := range tx.Statement.Schema.Fields {
		if tx.Statement.Changed(f.Name) && !allowed[f.Name] {
			return errors.New("escrow rows are immutable except for remittance status")
		}
	}
	return nil
}

// FeeFor returns the service-fee share of the given partner.
func (e EscrowTracking) FeeFor(p PartnerType) int64 {
	switch p {
	case PartnerTypePartnerA:
		return e.PartnerAFee
	case PartnerTypePartnerB:
		return e.PartnerBFee
	case PartnerTypePlatform:
		return e.PlatformFee
	case PartnerTypeUnderwriter:
		return e.UnderwriterAmount
	}
	return 0
}

func (input *NewEscrow) validate() error {
	if err := utils.ValidateStruct(input); err != nil {
		return err
	}
	kind := input.Kind
	if kind == "" {
		kind = EscrowKindPremium
	}
	if kind == EscrowKindPremium && input.PremiumAmount <= 0 {
		return utils.NewValidationError("premium_amount", "must be positive")
	}
	if kind == EscrowKindRefundAdjustment && input.PremiumAmount >= 0 {
		return utils.NewValidationError("premium_amount", "refund adjustments must be negative")
	}
	if kind == EscrowKindPremium && input.DayCount < 0 {
		return utils.NewValidationError("day_count", "must not be negative")
	}
	return nil
}

// CreateEscrow records the row exactly once per transaction reference.
func CreateEscrow(ctx context.Context, tx *gorm.DB, input NewEscrow) (*EscrowTracking, error) {
	if err := input.validate(); err != nil {
		return nil, err
	}
	kind := input.Kind
	if kind == "" {
		kind = EscrowKindPremium
	}
	dayCount := input.DayCount
	if dayCount == 0 && kind == EscrowKindPremium {
		dayCount = 1
	}
	row := EscrowTracking{
		RiderId:           input.RiderId,
		TransactionRef:    input.TransactionRef,
		Kind:              kind,
		PremiumAmount:     input.PremiumAmount,
		UnderwriterAmount: input.UnderwriterAmount,
		PlatformFee:       input.PlatformFee,
		PartnerAFee:       input.PartnerAFee,
		PartnerBFee:       input.PartnerBFee,
		PaymentDay:        input.PaymentDay,
		DayCount:          dayCount,
		PaymentDate:       input.PaymentDate.UTC(),
		RateVersion:       input.RateVersion,
		JournalEntryId:    input.JournalEntryId,
		RemittanceStatus:  RemittanceStatusPending,
	}
	if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return nil, &utils.DuplicatePostingError{TransactionRef: input.TransactionRef}
		}
		return nil, err
	}
	if err := EnqueueLedgerEvent(tx.WithContext(ctx), LedgerEventEscrowRecorded, "escrow", row.ID, row, ""); err != nil {
		return nil, err
	}
	return &row, nil
}

func GetEscrowByRef(ctx context.Context, db *gorm.DB, transactionRef string) (*EscrowTracking, error) {
	var row EscrowTracking
	if err := db.WithContext(ctx).Where("transaction_ref = ?", transactionRef).First(&row).Error; err != nil {
		if utils.IsRecordNotFound(err) {
			return nil, utils.NewNotFoundError("escrow", transactionRef)
		}
		return nil, err
	}
	return &row, nil
}

// LinkEscrowEntry points a row recorded before its journal entry at that entry. The link is
// set once; a row already linked is returned unchanged. A row whose premium differs from the
// posted amount is rejected so the posting rolls back.
func LinkEscrowEntry(ctx context.Context, tx *gorm.DB, transactionRef string, entryId int, amount int64) (*EscrowTracking, error) {
	row, err := GetEscrowByRef(ctx, tx, transactionRef)
	if err != nil {
		return nil, err
	}
	if row.JournalEntryId != 0 {
		return row, nil
	}
	if row.PremiumAmount != amount {
		return nil, utils.NewValidationError("amount",
			"escrow row %s records %d, posting %d", transactionRef, row.PremiumAmount, amount)
	}
	// UpdateColumn skips BeforeUpdate; the journal_entry_id = 0 guard keeps the link write-once.
	res := tx.WithContext(ctx).Model(&EscrowTracking{}).
		Where("id = ? AND journal_entry_id = 0", row.ID).
		UpdateColumn("journal_entry_id", entryId)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return GetEscrowByRef(ctx, tx, transactionRef)
	}
	row.JournalEntryId = entryId
	return row, nil
}

// RefundableDays is the rider's net paid day count: premium rows less refund adjustments.
// The rows are locked so concurrent refunds for one rider serialize.
func RefundableDays(ctx context.Context, tx *gorm.DB, riderId string) (int, error) {
	var rows []EscrowTracking
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "day_count").
		Where("rider_id = ?", riderId).
		Find(&rows).Error; err != nil {
		return 0, err
	}
	days := 0
	for _, r := range rows {
		days += r.DayCount
	}
	return days, nil
}

// EscrowFilter is the find predicate; zero fields are ignored. To is exclusive.
type EscrowFilter struct {
	From             time.Time
	To               time.Time
	RemittanceStatus RemittanceStatus
	RiderId          string
	Kind             EscrowKind
	SettlementId     *int
	// UnclaimedBy excludes rows whose fee share is already claimed by this partner.
	UnclaimedBy PartnerType
}

func (f EscrowFilter) Apply(q *gorm.DB) *gorm.DB {
	if !f.From.IsZero() {
		q = q.Where("escrow_trackings.payment_date >= ?", f.From.UTC())
	}
	if !f.To.IsZero() {
		q = q.Where("escrow_trackings.payment_date < ?", f.To.UTC())
	}
	if f.RemittanceStatus != "" {
		q = q.Where("escrow_trackings.remittance_status = ?", f.RemittanceStatus)
	}
	if f.RiderId != "" {
		q = q.Where("escrow_trackings.rider_id = ?", f.RiderId)
	}
	if f.Kind != "" {
		q = q.Where("escrow_trackings.kind = ?", f.Kind)
	}
	if f.SettlementId != nil {
		q = q.Where("escrow_trackings.settlement_id = ?", *f.SettlementId)
	}
	if f.UnclaimedBy != "" {
		q = q.Where("NOT EXISTS (SELECT 1 FROM escrow_fee_claims c WHERE c.escrow_id = escrow_trackings.id AND c.partner_type = ?)", f.UnclaimedBy)
	}
	return q
}

func FindEscrow(ctx context.Context, db *gorm.DB, f EscrowFilter) ([]EscrowTracking, error) {
	var rows []EscrowTracking
	err := f.Apply(db.WithContext(ctx).Model(&EscrowTracking{})).
		Order("escrow_trackings.payment_date, escrow_trackings.id").
		Find(&rows).Error
	return rows, err
}

// ClaimEscrowForRemittance flips PENDING rows to REMITTED with a conditional update.
// Fewer affected rows than requested means another caller claimed some of them first.
func ClaimEscrowForRemittance(tx *gorm.DB, ids []int, settlementId *int, batchRef *string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	res := tx.Model(&EscrowTracking{}).
		Where("id IN ? AND remittance_status = ?", ids, RemittanceStatusPending).
		Updates(map[string]interface{}{
			"remittance_status":    RemittanceStatusRemitted,
			"settlement_id":        settlementId,
			"remittance_batch_ref": batchRef,
			"remitted_at":          &at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected != int64(len(ids)) {
		return utils.NewStateConflictError("escrow", 0, "claim for remittance",
			string(RemittanceStatusRemitted), string(RemittanceStatusPending))
	}
	return nil
}

// ReleaseEscrowRemittance returns rows claimed by a cancelled settlement to PENDING.
func ReleaseEscrowRemittance(tx *gorm.DB, settlementId int) (int64, error) {
	res := tx.Model(&EscrowTracking{}).
		Where("settlement_id = ? AND remittance_status = ?", settlementId, RemittanceStatusRemitted).
		Updates(map[string]interface{}{
			"remittance_status":    RemittanceStatusPending,
			"settlement_id":        nil,
			"remittance_batch_ref": nil,
			"remitted_at":          nil,
		})
	return res.RowsAffected, res.Error
}

// ClaimEscrowFees inserts one claim per row; a unique violation means a concurrent settlement won.
func ClaimEscrowFees(tx *gorm.DB, rows []EscrowTracking, partner PartnerType, settlementId int) error {
	if len(rows) == 0 {
		return nil
	}
	claims := make([]EscrowFeeClaim, 0, len(rows))
	for _, r := range rows {
		claims = append(claims, EscrowFeeClaim{
			EscrowId:     r.ID,
			PartnerType:  partner,
			SettlementId: settlementId,
			Amount:       r.FeeFor(partner),
		})
	}
	if err := tx.Create(&claims).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return utils.NewStateConflictError("escrow", 0, "claim fees for "+string(partner), "CLAIMED", "UNCLAIMED")
		}
		return err
	}
	return nil
}

func ReleaseEscrowFees(tx *gorm.DB, settlementId int) (int64, error) {
	res := tx.Where("settlement_id = ?", settlementId).Delete(&EscrowFeeClaim{})
	return res.RowsAffected, res.Error
}

// RiderPremiumAggregate is the per-rider input of the commission calculation.
type RiderPremiumAggregate struct {
	RiderId       string
	TotalPremium  int64
	DaysCompleted int
}

// AggregateRiderPremiums sums PREMIUM and refund rows per rider in [from, to).
func AggregateRiderPremiums(ctx context.Context, db *gorm.DB, from, to time.Time) ([]RiderPremiumAggregate, error) {
	var rows []RiderPremiumAggregate
	err := db.WithContext(ctx).
		Model(&EscrowTracking{}).
		Select("rider_id, SUM(premium_amount) AS total_premium, SUM(day_count) AS days_completed").
		Where("payment_date >= ? AND payment_date < ?", from.UTC(), to.UTC()).
		Group("rider_id").
		Order("rider_id").
		Scan(&rows).Error
	return rows, err
}
