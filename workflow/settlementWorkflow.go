package workflow

import (
	"context"
	"fmt"
	"sort"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SettlementManager struct {
	DB     *gorm.DB
	Engine *PostingEngine
	Escrow *EscrowTracker
	// Locker is optional; nil runs without the cross-instance lock.
	Locker *redislock.Client
	Logger *logrus.Logger
}

func NewSettlementManager(db *gorm.DB, engine *PostingEngine, escrow *EscrowTracker, locker *redislock.Client, logger *logrus.Logger) *SettlementManager {
	return &SettlementManager{DB: db, Engine: engine, Escrow: escrow, Locker: locker, Logger: logger}
}

// SettlementResult distinguishes "nothing to settle" (Success with zero amount and no
// Settlement) from a created settlement.
type SettlementResult struct {
	Success          bool                      `json:"success"`
	Settlement       *models.PartnerSettlement `json:"settlement,omitempty"`
	TotalAmount      int64                     `json:"total_amount"`
	TransactionCount int                       `json:"transaction_count"`
	Message          string                    `json:"message"`
}

type CommissionSettlementRequest struct {
	PartnerType models.PartnerType         `json:"partner_type"`
	PeriodStart time.Time                  `json:"period_start"`
	PeriodEnd   time.Time                  `json:"period_end"`
	Amount      int64                      `json:"amount"`
	Metadata    *models.SettlementMetadata `json:"metadata"`
	ActorId     string                     `json:"actor_id"`
}

// settlementWindow covers whole UTC days from the start day through the end day.
func settlementWindow(start, end time.Time) (time.Time, time.Time) {
	return startOfDay(start), startOfDay(end).Add(24 * time.Hour)
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func validatePeriod(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return utils.NewValidationError("period", "start and end are required")
	}
	if end.Before(start) {
		return utils.NewValidationError("period", "end %s is before start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return nil
}

func zeroResult(message string) *SettlementResult {
	return &SettlementResult{Success: true, Message: message}
}

// CreateServiceFeeSettlement settles one counterpart's share of the escrow rows in the period.
// The underwriter's share is a REMITTANCE settlement that claims the rows themselves; the fee
// partners each claim their own share through escrow_fee_claims.
func (m *SettlementManager) CreateServiceFeeSettlement(ctx context.Context, partner models.PartnerType, periodStart, periodEnd time.Time, actorId string) (*SettlementResult, error) {
	ctx, span := startSpan(ctx, "SettlementManager.CreateServiceFeeSettlement",
		attribute.String("partner_type", string(partner)),
		attribute.String("period_start", periodStart.Format("2006-01-02")),
		attribute.String("period_end", periodEnd.Format("2006-01-02")),
	)
	var err error
	defer func() { endSpan(span, err) }()

	if !partner.IsValid() {
		err = utils.NewValidationError("partner_type", "unknown partner type %q", partner)
		return nil, err
	}
	if err = validatePeriod(periodStart, periodEnd); err != nil {
		return nil, err
	}
	release, err := AcquireSettlementLock(ctx, m.Locker, m.Logger, string(partner))
	if err != nil {
		return nil, err
	}
	defer release()

	actor := utils.ActorOrSystem(ctx, actorId)
	from, to := settlementWindow(periodStart, periodEnd)
	var result *SettlementResult
	var settlementId int
	err = m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rows, total, findErr := m.unsettledRows(ctx, tx, partner, from, to)
		if findErr != nil {
			return findErr
		}
		if len(rows) == 0 || total == 0 {
			result = zeroResult(fmt.Sprintf("no unsettled %s escrow rows between %s and %s",
				partner, from.Format("2006-01-02"), to.Add(-time.Second).Format("2006-01-02")))
			return nil
		}
		if total < 0 {
			return utils.NewValidationError("period", "refund adjustments exceed collections for %s: net %d", partner, total)
		}

		payable := models.AccountUnderwriterPayable
		if partner != models.PartnerTypeUnderwriter {
			payable, _ = models.FeePayableAccount(partner)
		}
		number, seqErr := nextSettlementNumber(tx)
		if seqErr != nil {
			return seqErr
		}
		accrual, postErr := m.Engine.PostLines(ctx, tx, models.NewJournalEntry{
			EntryType:      models.JournalEntryTypeSettlementAccrual,
			TransactionRef: number + "-ACCRUAL",
			Description:    fmt.Sprintf("%s settlement %s accrual", partner, number),
			CreatedBy:      actor,
			Lines: []models.NewJournalLine{
				{AccountCode: payable, Debit: total, Description: "Moved to partner settlement"},
				{AccountCode: models.AccountPartnerSettlements, Credit: total, Description: number},
			},
		})
		if postErr != nil {
			return postErr
		}

		settlement := models.PartnerSettlement{
			SettlementNumber:      number,
			PartnerType:           partner,
			SettlementType:        models.ServiceFeeSettlementType(partner),
			PeriodStart:           from,
			PeriodEnd:             to.Add(-24 * time.Hour),
			TotalAmount:           total,
			TransactionCount:      len(rows),
			Status:                models.SettlementStatusPending,
			CreatedBy:             actor,
			AccrualJournalEntryId: &accrual.ID,
			Metadata:              datatypes.NewJSONType(serviceFeeMetadata(partner, payable, rows)),
		}
		if createErr := tx.Create(&settlement).Error; createErr != nil {
			return createErr
		}
		if itemErr := createLineItems(tx, settlement.ID, dailyLineItems(rows, partner)); itemErr != nil {
			return itemErr
		}

		if partner == models.PartnerTypeUnderwriter {
			ids := make([]int, 0, len(rows))
			for _, r := range rows {
				ids = append(ids, r.ID)
			}
			if claimErr := models.ClaimEscrowForRemittance(tx, ids, &settlement.ID, &settlement.SettlementNumber, m.Engine.now()); claimErr != nil {
				return claimErr
			}
		} else if claimErr := models.ClaimEscrowFees(tx, rows, partner, settlement.ID); claimErr != nil {
			return claimErr
		}

		if evErr := m.recordCreated(tx, &settlement, actor, accrual.CorrelationId); evErr != nil {
			return evErr
		}
		settlementId = settlement.ID
		result = &SettlementResult{
			Success:          true,
			TotalAmount:      total,
			TransactionCount: len(rows),
			Message:          fmt.Sprintf("settlement %s created", number),
		}
		return nil
	})
	if err != nil {
		m.logFailure("CreateServiceFeeSettlement", map[string]any{"partner": partner, "from": from, "to": to}, err)
		return nil, err
	}
	if settlementId > 0 {
		if result.Settlement, err = models.GetSettlement(ctx, m.DB, settlementId); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// unsettledRows returns the rows the partner has not been paid for yet and the net amount owed.
func (m *SettlementManager) unsettledRows(ctx context.Context, tx *gorm.DB, partner models.PartnerType, from, to time.Time) ([]models.EscrowTracking, int64, error) {
	filter := models.EscrowFilter{From: from, To: to}
	if partner == models.PartnerTypeUnderwriter {
		filter.RemittanceStatus = models.RemittanceStatusPending
	} else {
		filter.UnclaimedBy = partner
	}
	rows, err := models.FindEscrow(ctx, tx, filter)
	if err != nil {
		return nil, 0, err
	}
	kept := rows[:0]
	var total int64
	for _, r := range rows {
		amount := r.FeeFor(partner)
		if amount == 0 {
			continue
		}
		total += amount
		kept = append(kept, r)
	}
	return kept, total, nil
}

type dailyTotal struct {
	date   time.Time
	amount int64
	count  int
}

func dailyLineItems(rows []models.EscrowTracking, partner models.PartnerType) []dailyTotal {
	byDay := map[time.Time]*dailyTotal{}
	for _, r := range rows {
		day := startOfDay(r.PaymentDate)
		d, ok := byDay[day]
		if !ok {
			d = &dailyTotal{date: day}
			byDay[day] = d
		}
		d.amount += r.FeeFor(partner)
		d.count++
	}
	out := make([]dailyTotal, 0, len(byDay))
	for _, d := range byDay {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].date.Before(out[j].date) })
	return out
}

func createLineItems(tx *gorm.DB, settlementId int, days []dailyTotal) error {
	items := make([]models.SettlementLineItem, 0, len(days))
	for _, d := range days {
		items = append(items, models.SettlementLineItem{
			SettlementId: settlementId,
			Date:         d.date,
			Amount:       d.amount,
			Count:        d.count,
		})
	}
	if len(items) == 0 {
		return nil
	}
	return tx.Create(&items).Error
}

func serviceFeeMetadata(partner models.PartnerType, payable string, rows []models.EscrowTracking) models.SettlementMetadata {
	refunds := 0
	var gross int64
	versions := map[string]bool{}
	for _, r := range rows {
		if r.Kind == models.EscrowKindRefundAdjustment {
			refunds++
		}
		gross += r.PremiumAmount
		if r.RateVersion != "" {
			versions[r.RateVersion] = true
		}
	}
	if partner == models.PartnerTypeUnderwriter {
		return models.NewRemittanceMetadata(models.RemittanceMetadata{
			PayableAccount: payable,
			GrossPremium:   gross,
			RefundRowCount: refunds,
		})
	}
	list := make([]string, 0, len(versions))
	for v := range versions {
		list = append(list, v)
	}
	sort.Strings(list)
	return models.NewServiceFeeMetadata(models.ServiceFeeMetadata{
		PayableAccount:   payable,
		RateVersions:     list,
		FirstPaymentDate: rows[0].PaymentDate,
		LastPaymentDate:  rows[len(rows)-1].PaymentDate,
		RefundRowCount:   refunds,
	})
}

func nextSettlementNumber(tx *gorm.DB) (string, error) {
	seq, err := models.NextSequence(tx, models.SequenceSettlement)
	if err != nil {
		return "", err
	}
	return models.FormatNumber("PS", seq), nil
}

func (m *SettlementManager) recordCreated(tx *gorm.DB, s *models.PartnerSettlement, actor string, correlationId string) error {
	if err := models.CreateSettlementEvent(tx, s.ID, "", models.SettlementStatusPending, actor, "created"); err != nil {
		return err
	}
	return models.EnqueueLedgerEvent(tx, models.LedgerEventSettlementCreated, "partner_settlement", s.ID, s, correlationId)
}

// CreateCommissionSettlement records a pre-computed commission share. A zero amount is a
// successful no-op.
func (m *SettlementManager) CreateCommissionSettlement(ctx context.Context, req CommissionSettlementRequest) (*SettlementResult, error) {
	ctx, span := startSpan(ctx, "SettlementManager.CreateCommissionSettlement",
		attribute.String("partner_type", string(req.PartnerType)),
		attribute.Int64("amount", req.Amount),
	)
	var err error
	defer func() { endSpan(span, err) }()

	release, err := AcquireSettlementLock(ctx, m.Locker, m.Logger, "commission")
	if err != nil {
		return nil, err
	}
	defer release()

	var result *SettlementResult
	err = m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, createErr := m.createCommissionInTx(ctx, tx, req)
		result = r
		return createErr
	})
	if err != nil {
		m.logFailure("CreateCommissionSettlement", req, err)
		return nil, err
	}
	if result.Settlement != nil {
		if result.Settlement, err = models.GetSettlement(ctx, m.DB, result.Settlement.ID); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (m *SettlementManager) createCommissionInTx(ctx context.Context, tx *gorm.DB, req CommissionSettlementRequest) (*SettlementResult, error) {
	if !req.PartnerType.IsValid() || req.PartnerType == models.PartnerTypeUnderwriter {
		return nil, utils.NewValidationError("partner_type", "%q does not receive commission", req.PartnerType)
	}
	if err := validatePeriod(req.PeriodStart, req.PeriodEnd); err != nil {
		return nil, err
	}
	if req.Amount < 0 {
		return nil, utils.NewValidationError("amount", "commission must not be negative")
	}
	if req.Amount == 0 {
		return zeroResult(fmt.Sprintf("no %s commission for period", req.PartnerType)), nil
	}
	meta := models.NewCommissionMetadata(models.CommissionMetadata{Component: models.CommissionComponentManual})
	if req.Metadata != nil {
		meta = *req.Metadata
	}
	if meta.Kind != models.SettlementTypeCommission {
		return nil, utils.NewValidationError("metadata", "kind %s does not match a commission settlement", meta.Kind)
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	start, end := startOfDay(req.PeriodStart), startOfDay(req.PeriodEnd)
	exists, err := models.HasActiveCommissionSettlement(tx, req.PartnerType, start, end)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, utils.NewValidationError("period", "an active %s commission settlement already covers %s to %s",
			req.PartnerType, start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	actor := utils.ActorOrSystem(ctx, req.ActorId)
	number, err := nextSettlementNumber(tx)
	if err != nil {
		return nil, err
	}
	accrual, err := m.Engine.PostLines(ctx, tx, models.NewJournalEntry{
		EntryType:      models.JournalEntryTypeCommissionAccrual,
		TransactionRef: number + "-ACCRUAL",
		Description:    fmt.Sprintf("%s commission %s accrual", req.PartnerType, number),
		CreatedBy:      actor,
		Lines: []models.NewJournalLine{
			{AccountCode: models.AccountCommissionReceivable, Debit: req.Amount, Description: "Commission receivable"},
			{AccountCode: models.AccountPartnerSettlements, Credit: req.Amount, Description: number},
		},
	})
	if err != nil {
		return nil, err
	}

	count := 1
	if meta.Commission != nil && meta.Commission.TotalRiders > 0 {
		count = meta.Commission.TotalRiders
	}
	settlement := models.PartnerSettlement{
		SettlementNumber:      number,
		PartnerType:           req.PartnerType,
		SettlementType:        models.SettlementTypeCommission,
		PeriodStart:           start,
		PeriodEnd:             end,
		TotalAmount:           req.Amount,
		TransactionCount:      count,
		Status:                models.SettlementStatusPending,
		CreatedBy:             actor,
		AccrualJournalEntryId: &accrual.ID,
		Metadata:              datatypes.NewJSONType(meta),
	}
	if err := tx.Create(&settlement).Error; err != nil {
		return nil, err
	}
	if err := createLineItems(tx, settlement.ID, []dailyTotal{{date: end, amount: req.Amount, count: count}}); err != nil {
		return nil, err
	}
	if err := m.recordCreated(tx, &settlement, actor, accrual.CorrelationId); err != nil {
		return nil, err
	}
	return &SettlementResult{
		Success:          true,
		Settlement:       &settlement,
		TotalAmount:      req.Amount,
		TransactionCount: count,
		Message:          fmt.Sprintf("settlement %s created", number),
	}, nil
}

// SettleMonthlyCommission aggregates the period's escrow rows, calculates the distribution and
// creates one commission settlement per party in a single transaction. An invalid calculation
// halts before anything is written.
func (m *SettlementManager) SettleMonthlyCommission(ctx context.Context, periodStart, periodEnd time.Time, actorId string) (*CommissionResult, []SettlementResult, error) {
	ctx, span := startSpan(ctx, "SettlementManager.SettleMonthlyCommission",
		attribute.String("period_start", periodStart.Format("2006-01-02")),
		attribute.String("period_end", periodEnd.Format("2006-01-02")),
	)
	var err error
	defer func() { endSpan(span, err) }()

	if err = validatePeriod(periodStart, periodEnd); err != nil {
		return nil, nil, err
	}
	from, to := settlementWindow(periodStart, periodEnd)
	riders, err := m.Escrow.AggregateRiderPremiums(ctx, from, to)
	if err != nil {
		return nil, nil, err
	}
	calc := CalculateMonthlyCommission(m.Engine.RateTableAt(from), riders, from, to.Add(-24*time.Hour))
	calc.Riders = nil
	if err = calc.Validate(); err != nil {
		config.LogInvariantViolation(m.Logger, "SettlementManager", "commission_distribution", calc, err)
		return &calc, nil, err
	}

	release, err := AcquireSettlementLock(ctx, m.Locker, m.Logger, "commission")
	if err != nil {
		return &calc, nil, err
	}
	defer release()

	var results []SettlementResult
	err = m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		results = results[:0]
		for _, p := range []models.PartnerType{models.PartnerTypePlatform, models.PartnerTypePartnerA, models.PartnerTypePartnerB} {
			meta := calc.MetadataFor(p)
			r, createErr := m.createCommissionInTx(ctx, tx, CommissionSettlementRequest{
				PartnerType: p,
				PeriodStart: calc.PeriodStart,
				PeriodEnd:   calc.PeriodEnd,
				Amount:      calc.AmountFor(p),
				Metadata:    &meta,
				ActorId:     actorId,
			})
			if createErr != nil {
				return createErr
			}
			results = append(results, *r)
		}
		return nil
	})
	if err != nil {
		m.logFailure("SettleMonthlyCommission", calc, err)
		return &calc, nil, err
	}
	return &calc, results, nil
}

// transitionFunc adds column updates for the target state and may post journal entries.
type transitionFunc func(tx *gorm.DB, s *models.PartnerSettlement, updates map[string]interface{}) error

// transition re-fetches the settlement under a row lock, checks the guard, applies the
// conditional status update and writes the audit event, all in one transaction.
func (m *SettlementManager) transition(ctx context.Context, id int, op string, to models.SettlementStatus, allowed []models.SettlementStatus, actor string, note string, apply transitionFunc) (*models.PartnerSettlement, error) {
	err := m.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, err := models.LockSettlement(tx, id)
		if err != nil {
			return err
		}
		if !statusIn(s.Status, allowed) {
			return utils.NewStateConflictError("settlement", id, op, string(s.Status), statusNames(allowed)...)
		}
		updates := map[string]interface{}{"status": to}
		if apply != nil {
			if err := apply(tx, s, updates); err != nil {
				return err
			}
		}
		res := tx.Model(&models.PartnerSettlement{}).
			Where("id = ? AND status = ?", id, s.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return utils.NewStateConflictError("settlement", id, op, "CHANGED", string(s.Status))
		}
		if err := models.CreateSettlementEvent(tx, id, s.Status, to, actor, note); err != nil {
			return err
		}
		_, correlationId := utils.EnsureCorrelationId(ctx)
		return models.EnqueueLedgerEvent(tx, models.LedgerEventSettlementTransition, "partner_settlement", id, map[string]interface{}{
			"settlement_id":     id,
			"settlement_number": s.SettlementNumber,
			"partner_type":      s.PartnerType,
			"from_status":       s.Status,
			"to_status":         to,
			"actor_id":          actor,
			"total_amount":      s.TotalAmount,
		}, correlationId)
	})
	if err != nil {
		m.logFailure(op, map[string]any{"settlement_id": id, "actor": actor}, err)
		return nil, err
	}
	return models.GetSettlement(ctx, m.DB, id)
}

func statusIn(s models.SettlementStatus, list []models.SettlementStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func statusNames(list []models.SettlementStatus) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		out = append(out, string(v))
	}
	return out
}

func (m *SettlementManager) ApproveSettlement(ctx context.Context, id int, actorId string) (*models.PartnerSettlement, error) {
	ctx, span := startSpan(ctx, "SettlementManager.ApproveSettlement", attribute.Int("settlement_id", id))
	var err error
	defer func() { endSpan(span, err) }()

	actor := utils.ActorOrSystem(ctx, actorId)
	now := m.Engine.now()
	s, err := m.transition(ctx, id, "approve", models.SettlementStatusApproved,
		[]models.SettlementStatus{models.SettlementStatusPending}, actor, "approved",
		func(tx *gorm.DB, s *models.PartnerSettlement, updates map[string]interface{}) error {
			updates["approved_by"] = &actor
			updates["approved_at"] = &now
			return nil
		})
	return s, err
}

// ProcessSettlement records that the payout was initiated under bankReference.
func (m *SettlementManager) ProcessSettlement(ctx context.Context, id int, actorId string, bankReference string) (*models.PartnerSettlement, error) {
	ctx, span := startSpan(ctx, "SettlementManager.ProcessSettlement", attribute.Int("settlement_id", id))
	var err error
	defer func() { endSpan(span, err) }()

	if bankReference == "" {
		err = utils.NewValidationError("bank_reference", "a payout reference is required to process a settlement")
		return nil, err
	}
	actor := utils.ActorOrSystem(ctx, actorId)
	now := m.Engine.now()
	s, err := m.transition(ctx, id, "process", models.SettlementStatusProcessing,
		[]models.SettlementStatus{models.SettlementStatusApproved}, actor, "payout initiated: "+bankReference,
		func(tx *gorm.DB, s *models.PartnerSettlement, updates map[string]interface{}) error {
			ref := bankReference
			updates["processed_by"] = &actor
			updates["processed_at"] = &now
			updates["bank_reference"] = &ref
			return nil
		})
	return s, err
}

// CompleteSettlement confirms the payout and posts it: Dr partner settlements payable,
// Cr escrow cash (fees, remittances) or operating cash (commission).
func (m *SettlementManager) CompleteSettlement(ctx context.Context, id int, actorId string) (*models.PartnerSettlement, error) {
	ctx, span := startSpan(ctx, "SettlementManager.CompleteSettlement", attribute.Int("settlement_id", id))
	var err error
	defer func() { endSpan(span, err) }()

	actor := utils.ActorOrSystem(ctx, actorId)
	now := m.Engine.now()
	s, err := m.transition(ctx, id, "complete", models.SettlementStatusCompleted,
		[]models.SettlementStatus{models.SettlementStatusProcessing}, actor, "payout confirmed",
		func(tx *gorm.DB, s *models.PartnerSettlement, updates map[string]interface{}) error {
			cash := models.AccountEscrowCash
			if s.SettlementType == models.SettlementTypeCommission {
				cash = models.AccountOperatingCash
			}
			desc := fmt.Sprintf("%s settlement %s payout", s.PartnerType, s.SettlementNumber)
			if s.BankReference != nil {
				desc += " ref " + *s.BankReference
			}
			payout, err := m.Engine.PostLines(ctx, tx, models.NewJournalEntry{
				EntryType:      models.JournalEntryTypeSettlementPayout,
				TransactionRef: s.SettlementNumber + "-PAYOUT",
				Description:    desc,
				EventDate:      now,
				CreatedBy:      actor,
				Lines: []models.NewJournalLine{
					{AccountCode: models.AccountPartnerSettlements, Debit: s.TotalAmount, Description: s.SettlementNumber},
					{AccountCode: cash, Credit: s.TotalAmount, Description: "Payout to " + string(s.PartnerType)},
				},
			})
			if err != nil {
				return err
			}
			updates["journal_entry_id"] = &payout.ID
			updates["completed_by"] = &actor
			updates["completed_at"] = &now
			return nil
		})
	return s, err
}

// CancelSettlement releases the claimed escrow rows and reverses the accrual entry.
func (m *SettlementManager) CancelSettlement(ctx context.Context, id int, actorId string, reason string) (*models.PartnerSettlement, error) {
	ctx, span := startSpan(ctx, "SettlementManager.CancelSettlement", attribute.Int("settlement_id", id))
	var err error
	defer func() { endSpan(span, err) }()

	if reason == "" {
		err = utils.NewValidationError("reason", "a cancellation reason is required")
		return nil, err
	}
	actor := utils.ActorOrSystem(ctx, actorId)
	now := m.Engine.now()
	s, err := m.transition(ctx, id, "cancel", models.SettlementStatusCancelled,
		[]models.SettlementStatus{models.SettlementStatusPending, models.SettlementStatusApproved}, actor, reason,
		func(tx *gorm.DB, s *models.PartnerSettlement, updates map[string]interface{}) error {
			switch s.SettlementType {
			case models.SettlementTypeRemittance:
				if _, err := models.ReleaseEscrowRemittance(tx, s.ID); err != nil {
					return err
				}
			case models.SettlementTypeServiceFee:
				if _, err := models.ReleaseEscrowFees(tx, s.ID); err != nil {
					return err
				}
			}
			if s.AccrualJournalEntryId != nil {
				if _, err := m.Engine.reverseInTx(ctx, tx, *s.AccrualJournalEntryId,
					ReversalReasonSettlementCancelled+": "+reason, actor); err != nil {
					return err
				}
			}
			r := reason
			updates["cancelled_by"] = &actor
			updates["cancelled_at"] = &now
			updates["cancellation_reason"] = &r
			return nil
		})
	return s, err
}

func (m *SettlementManager) GetSettlement(ctx context.Context, id int) (*models.PartnerSettlement, error) {
	return models.GetSettlement(ctx, m.DB, id)
}

func (m *SettlementManager) ListSettlements(ctx context.Context, f models.SettlementFilter) ([]models.PartnerSettlement, error) {
	return models.ListSettlements(ctx, m.DB, f)
}

func (m *SettlementManager) logFailure(funcName string, data any, err error) {
	if err == nil || utils.IsBusinessRejection(err) {
		return
	}
	config.LogError(m.Logger, "SettlementManager", funcName, "settlement operation failed", data, err)
}
