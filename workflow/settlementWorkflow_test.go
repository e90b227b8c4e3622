package workflow_test

import (
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"bitbucket.org/mmdatafocus/premium_ledger/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedMarch posts three receipts: 1048 on the 1st, 87 on the 2nd and 174 on the 3rd.
func (f *fixture) seedMarch(t *testing.T) {
	t.Helper()
	f.payDeposit(t, "rider-1", "dep-1", march(1))
	f.payDaily(t, "rider-1", "pay-1", 1, march(2))
	f.payDaily(t, "rider-2", "pay-2", 2, march(3))
}

func eventTrail(s *models.PartnerSettlement) []models.SettlementStatus {
	out := make([]models.SettlementStatus, 0, len(s.Events))
	for _, e := range s.Events {
		out = append(out, e.ToStatus)
	}
	return out
}

func TestServiceFeeSettlementWithNothingToSettle(t *testing.T) {
	f := newFixture(t)

	res, err := f.settlements.CreateServiceFeeSettlement(f.ctx, models.PartnerTypePartnerA, periodStart, periodEnd, "finance")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Nil(t, res.Settlement)
	assert.Zero(t, res.TotalAmount)
	assert.Zero(t, f.count(t, &models.PartnerSettlement{}, ""))

	_, err = f.settlements.CreateServiceFeeSettlement(f.ctx, "BROKER", periodStart, periodEnd, "finance")
	assert.ErrorIs(t, err, utils.ErrValidation)
	_, err = f.settlements.CreateServiceFeeSettlement(f.ctx, models.PartnerTypePartnerA, periodEnd, periodStart, "finance")
	assert.ErrorIs(t, err, utils.ErrValidation)
}

func TestServiceFeeSettlementLifecycle(t *testing.T) {
	f := newFixture(t)
	f.seedMarch(t)

	res, err := f.settlements.CreateServiceFeeSettlement(f.ctx, models.PartnerTypePartnerA, periodStart, periodEnd, "finance")
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	s := res.Settlement
	assert.Equal(t, "PS-00000001", s.SettlementNumber)
	assert.Equal(t, models.SettlementTypeServiceFee, s.SettlementType)
	assert.Equal(t, models.SettlementStatusPending, s.Status)
	assert.Equal(t, int64(4), s.TotalAmount)
	assert.Equal(t, 3, s.TransactionCount)
	assert.True(t, periodStart.Equal(s.PeriodStart))
	assert.True(t, periodEnd.Equal(s.PeriodEnd))
	require.NotNil(t, s.AccrualJournalEntryId)

	require.Len(t, s.LineItems, 3)
	amount, count := s.LineItemTotals()
	assert.Equal(t, s.TotalAmount, amount)
	assert.Equal(t, s.TransactionCount, count)
	assert.Equal(t, int64(2), s.LineItems[2].Amount)

	meta := s.Metadata.Data()
	require.NotNil(t, meta.ServiceFee)
	assert.Equal(t, models.AccountPartnerAFeePayable, meta.ServiceFee.PayableAccount)
	assert.Equal(t, []string{"v1"}, meta.ServiceFee.RateVersions)

	assert.Zero(t, f.balance(t, models.AccountPartnerAFeePayable))
	assert.Equal(t, int64(4), f.balance(t, models.AccountPartnerSettlements))

	// The same shares cannot be settled twice.
	again, err := f.settlements.CreateServiceFeeSettlement(f.ctx, models.PartnerTypePartnerA, periodStart, periodEnd, "finance")
	require.NoError(t, err)
	assert.Nil(t, again.Settlement)

	_, err = f.settlements.ProcessSettlement(f.ctx, s.ID, "finance", "BANK-1")
	assert.ErrorIs(t, err, utils.ErrStateConflict, "pending settlements must be approved first")

	s, err = f.settlements.ApproveSettlement(f.ctx, s.ID, "approver")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusApproved, s.Status)
	require.NotNil(t, s.ApprovedBy)
	assert.Equal(t, "approver", *s.ApprovedBy)

	_, err = f.settlements.ProcessSettlement(f.ctx, s.ID, "finance", "")
	assert.ErrorIs(t, err, utils.ErrValidation)

	s, err = f.settlements.ProcessSettlement(f.ctx, s.ID, "finance", "BANK-1")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusProcessing, s.Status)
	require.NotNil(t, s.BankReference)
	assert.Equal(t, "BANK-1", *s.BankReference)

	s, err = f.settlements.CompleteSettlement(f.ctx, s.ID, "finance")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusCompleted, s.Status)
	require.NotNil(t, s.JournalEntryId)
	require.NotNil(t, s.CompletedAt)

	assert.Zero(t, f.balance(t, models.AccountPartnerSettlements))
	assert.Equal(t, int64(1048+87+174-4), f.balance(t, models.AccountEscrowCash))
	assert.Equal(t, []models.SettlementStatus{
		models.SettlementStatusPending,
		models.SettlementStatusApproved,
		models.SettlementStatusProcessing,
		models.SettlementStatusCompleted,
	}, eventTrail(s))
	assert.Equal(t, models.SettlementStatusProcessing, s.Events[3].FromStatus)

	// Terminal states reject every transition.
	_, err = f.settlements.ApproveSettlement(f.ctx, s.ID, "approver")
	assert.ErrorIs(t, err, utils.ErrStateConflict)
	_, err = f.settlements.CancelSettlement(f.ctx, s.ID, "finance", "too late")
	assert.ErrorIs(t, err, utils.ErrStateConflict)
	_, err = f.settlements.CompleteSettlement(f.ctx, s.ID, "finance")
	assert.ErrorIs(t, err, utils.ErrStateConflict)

	_, err = f.settlements.ApproveSettlement(f.ctx, 9999, "approver")
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}

func TestCancelSettlementReleasesClaimsAndReversesAccrual(t *testing.T) {
	f := newFixture(t)
	f.seedMarch(t)

	res, err := f.settlements.CreateServiceFeeSettlement(f.ctx, models.PartnerTypePartnerB, periodStart, periodEnd, "finance")
	require.NoError(t, err)
	s := res.Settlement
	require.NotNil(t, s)

	_, err = f.settlements.CancelSettlement(f.ctx, s.ID, "finance", "")
	assert.ErrorIs(t, err, utils.ErrValidation)

	s, err = f.settlements.ApproveSettlement(f.ctx, s.ID, "approver")
	require.NoError(t, err)
	s, err = f.settlements.CancelSettlement(f.ctx, s.ID, "finance", "wrong bank details")
	require.NoError(t, err)
	assert.Equal(t, models.SettlementStatusCancelled, s.Status)
	require.NotNil(t, s.CancellationReason)
	assert.Equal(t, "wrong bank details", *s.CancellationReason)

	accrual, err := models.GetJournalEntry(f.ctx, f.db, *s.AccrualJournalEntryId)
	require.NoError(t, err)
	assert.True(t, accrual.IsReversed())
	assert.Equal(t, int64(4), f.balance(t, models.AccountPartnerBFeePayable))
	assert.Zero(t, f.balance(t, models.AccountPartnerSettlements))

	_, err = f.settlements.ApproveSettlement(f.ctx, s.ID, "approver")
	assert.ErrorIs(t, err, utils.ErrStateConflict)

	// The released shares can be settled again.
	retry, err := f.settlements.CreateServiceFeeSettlement(f.ctx, models.PartnerTypePartnerB, periodStart, periodEnd, "finance")
	require.NoError(t, err)
	require.NotNil(t, retry.Settlement)
	assert.Equal(t, "PS-00000002", retry.Settlement.SettlementNumber)
	assert.Equal(t, int64(4), retry.TotalAmount)
}

func TestUnderwriterSettlementClaimsEscrowRows(t *testing.T) {
	f := newFixture(t)
	f.seedMarch(t)

	res, err := f.settlements.CreateServiceFeeSettlement(f.ctx, models.PartnerTypeUnderwriter, periodStart, periodEnd, "treasury")
	require.NoError(t, err)
	s := res.Settlement
	require.NotNil(t, s)
	assert.Equal(t, models.SettlementTypeRemittance, s.SettlementType)
	assert.Equal(t, int64(1045+84+168), s.TotalAmount)
	require.NotNil(t, s.Metadata.Data().Remittance)

	claimed, err := f.escrow.Find(f.ctx, models.EscrowFilter{SettlementId: &s.ID})
	require.NoError(t, err)
	assert.Len(t, claimed, 3)

	// Already claimed rows are not remitted a second time.
	bulk, err := f.escrow.RemitPremiums(f.ctx, periodStart, periodEnd.AddDate(0, 0, 1), "treasury")
	require.NoError(t, err)
	assert.Zero(t, bulk.RowCount)

	_, err = f.settlements.CancelSettlement(f.ctx, s.ID, "treasury", "remit in bulk instead")
	require.NoError(t, err)
	pending, err := f.escrow.Find(f.ctx, models.EscrowFilter{RemittanceStatus: models.RemittanceStatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 3)
	for _, r := range pending {
		assert.Nil(t, r.SettlementId)
	}
}

func TestConcurrentServiceFeeSettlementsClaimOnce(t *testing.T) {
	f := newFixture(t)
	f.seedMarch(t)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*workflow.SettlementResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.settlements.CreateServiceFeeSettlement(f.ctx, models.PartnerTypePlatform, periodStart, periodEnd, "finance")
		}(i)
	}
	wg.Wait()

	created := 0
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			assert.ErrorIs(t, errs[i], utils.ErrStateConflict)
			continue
		}
		if results[i].Settlement != nil {
			created++
			assert.Equal(t, int64(4), results[i].TotalAmount)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, int64(1), f.count(t, &models.PartnerSettlement{}, "partner_type = ?", models.PartnerTypePlatform))
	assert.Equal(t, int64(3), f.count(t, &models.EscrowFeeClaim{}, "partner_type = ?", models.PartnerTypePlatform))
}

func TestCreateCommissionSettlement(t *testing.T) {
	f := newFixture(t)
	req := workflow.CommissionSettlementRequest{
		PartnerType: models.PartnerTypePartnerA,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Amount:      500,
		ActorId:     "finance",
	}

	res, err := f.settlements.CreateCommissionSettlement(f.ctx, req)
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, models.SettlementTypeCommission, res.Settlement.SettlementType)
	assert.Equal(t, models.CommissionComponentManual, res.Settlement.Metadata.Data().Commission.Component)
	assert.Equal(t, int64(500), f.balance(t, models.AccountCommissionReceivable))
	assert.Equal(t, int64(500), f.balance(t, models.AccountPartnerSettlements))

	_, err = f.settlements.CreateCommissionSettlement(f.ctx, req)
	assert.ErrorIs(t, err, utils.ErrValidation, "one active commission settlement per partner and period")

	underwriter := req
	underwriter.PartnerType = models.PartnerTypeUnderwriter
	_, err = f.settlements.CreateCommissionSettlement(f.ctx, underwriter)
	assert.ErrorIs(t, err, utils.ErrValidation)

	negative := req
	negative.PartnerType, negative.Amount = models.PartnerTypePartnerB, -1
	_, err = f.settlements.CreateCommissionSettlement(f.ctx, negative)
	assert.ErrorIs(t, err, utils.ErrValidation)

	zero := req
	zero.PartnerType, zero.Amount = models.PartnerTypePartnerB, 0
	none, err := f.settlements.CreateCommissionSettlement(f.ctx, zero)
	require.NoError(t, err)
	assert.True(t, none.Success)
	assert.Nil(t, none.Settlement)

	// Commission is paid from operating cash.
	id := res.Settlement.ID
	_, err = f.settlements.ApproveSettlement(f.ctx, id, "approver")
	require.NoError(t, err)
	_, err = f.settlements.ProcessSettlement(f.ctx, id, "finance", "BANK-9")
	require.NoError(t, err)
	_, err = f.settlements.CompleteSettlement(f.ctx, id, "finance")
	require.NoError(t, err)
	assert.Equal(t, int64(-500), f.balance(t, models.AccountOperatingCash))
	assert.Zero(t, f.balance(t, models.AccountPartnerSettlements))
}

func TestSettleMonthlyCommissionCreatesOneSettlementPerParty(t *testing.T) {
	f := newFixture(t)
	f.payDaily(t, "rider-1", "pay-month", 31, march(1))

	calc, results, err := f.settlements.SettleMonthlyCommission(f.ctx, periodStart, periodEnd, "finance")
	require.NoError(t, err)
	assert.Equal(t, int64(238), calc.TotalCommission)
	require.Len(t, results, 3)

	byPartner := map[models.PartnerType]int64{}
	var sum int64
	for _, r := range results {
		require.NotNil(t, r.Settlement)
		byPartner[r.Settlement.PartnerType] = r.TotalAmount
		sum += r.TotalAmount
		assert.True(t, periodEnd.Equal(r.Settlement.PeriodEnd))
	}
	assert.Equal(t, calc.TotalCommission, sum)
	assert.Equal(t, map[models.PartnerType]int64{
		models.PartnerTypePlatform: 155,
		models.PartnerTypePartnerA: 42,
		models.PartnerTypePartnerB: 41,
	}, byPartner)
	assert.Equal(t, int64(238), f.balance(t, models.AccountCommissionReceivable))

	_, _, err = f.settlements.SettleMonthlyCommission(f.ctx, periodStart, periodEnd, "finance")
	assert.ErrorIs(t, err, utils.ErrValidation)
	assert.Equal(t, int64(3), f.count(t, &models.PartnerSettlement{}, ""))
}

func TestSettleMonthlyCommissionHaltsOnInvalidDistribution(t *testing.T) {
	f := newFixture(t)
	for i, rider := range []string{"a", "b", "c", "d", "e"} {
		_, err := models.CreateEscrow(f.ctx, f.db, models.NewEscrow{
			RiderId:           rider,
			TransactionRef:    "legacy-" + rider,
			PremiumAmount:     87,
			UnderwriterAmount: 84,
			PlatformFee:       1,
			PartnerAFee:       1,
			PartnerBFee:       1,
			PaymentDay:        i + 1,
			DayCount:          31,
			PaymentDate:       march(i + 1),
			RateVersion:       "v1",
		})
		require.NoError(t, err)
	}

	calc, results, err := f.settlements.SettleMonthlyCommission(f.ctx, periodStart, periodEnd, "finance")
	assert.ErrorIs(t, err, utils.ErrInvariantViolation)
	require.NotNil(t, calc)
	assert.Equal(t, int64(500), calc.Distribution.PlatformOM)
	assert.Nil(t, results)
	assert.Zero(t, f.count(t, &models.PartnerSettlement{}, ""))
	assert.Zero(t, f.count(t, &models.JournalEntry{}, ""))
}
