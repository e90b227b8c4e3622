package workflow_test

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"bitbucket.org/mmdatafocus/premium_ledger/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	periodStart = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)
)

func TestCalculateMonthlyCommissionEmptyPeriod(t *testing.T) {
	res := workflow.CalculateMonthlyCommission(v1Rates(t), nil, periodStart, periodEnd)
	require.NoError(t, res.Validate())
	assert.Zero(t, res.TotalCommission)
	assert.Zero(t, res.Distribution.Total())
	assert.Zero(t, res.TotalRiders)
}

func TestCalculateMonthlyCommissionSingleFullTermRider(t *testing.T) {
	res := workflow.CalculateMonthlyCommission(v1Rates(t), []workflow.RiderPremium{
		{RiderId: "rider-1", TotalPremium: 2697, DaysCompleted: 31},
	}, periodStart, periodEnd)
	require.NoError(t, res.Validate())

	assert.Equal(t, int64(2697), res.TotalPremium)
	// 2697 * 3500 / 3565 = 2647.82
	assert.Equal(t, int64(2648), res.PurePremium)
	// 2648 * 9% = 238.32
	assert.Equal(t, int64(238), res.TotalCommission)
	assert.Equal(t, workflow.CommissionDistribution{
		PlatformOM:     100,
		PlatformProfit: 55,
		PartnerA:       42,
		PartnerB:       41,
	}, res.Distribution)
	assert.Equal(t, 1, res.FullTermRiders)
	assert.Equal(t, int64(155), res.AmountFor(models.PartnerTypePlatform))
	assert.Equal(t, int64(42), res.AmountFor(models.PartnerTypePartnerA))
	assert.Zero(t, res.AmountFor(models.PartnerTypeUnderwriter))

	meta := res.MetadataFor(models.PartnerTypePartnerB)
	require.NoError(t, meta.Validate())
	require.NotNil(t, meta.Commission)
	assert.Equal(t, models.CommissionComponentMobilization, meta.Commission.Component)
	assert.Equal(t, int64(238), meta.Commission.TotalCommission)
	assert.Equal(t, models.CommissionComponentPlatform, res.MetadataFor(models.PartnerTypePlatform).Commission.Component)
}

func TestCalculateMonthlyCommissionFullTermBoundary(t *testing.T) {
	res := workflow.CalculateMonthlyCommission(v1Rates(t), []workflow.RiderPremium{
		{RiderId: "rider-30", TotalPremium: 2610, DaysCompleted: 30, IsFullTerm: true},
		{RiderId: "rider-31", TotalPremium: 2697, DaysCompleted: 31},
	}, periodStart, periodEnd)
	require.NoError(t, res.Validate())

	assert.Equal(t, 2, res.TotalRiders)
	assert.Equal(t, 1, res.FullTermRiders)
	assert.Equal(t, 1, res.PartialRiders)
	assert.False(t, res.Riders[0].IsFullTerm, "full-term status is derived from days completed")
	assert.True(t, res.Riders[1].IsFullTerm)
	assert.Equal(t, int64(100), res.Distribution.PlatformOM)
	assert.Equal(t, res.TotalCommission, res.Distribution.Total())
}

func TestCalculateMonthlyCommissionIgnoresNegativeRiderTotals(t *testing.T) {
	res := workflow.CalculateMonthlyCommission(v1Rates(t), []workflow.RiderPremium{
		{RiderId: "rider-1", TotalPremium: 2697, DaysCompleted: 31},
		{RiderId: "rider-refunded", TotalPremium: -87, DaysCompleted: -1},
	}, periodStart, periodEnd)
	require.NoError(t, res.Validate())
	assert.Equal(t, int64(2697), res.TotalPremium)
	assert.Equal(t, 2, res.TotalRiders)
}

func TestCalculateMonthlyCommissionRejectsNegativeRemainder(t *testing.T) {
	riders := make([]workflow.RiderPremium, 0, 5)
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		riders = append(riders, workflow.RiderPremium{RiderId: id, TotalPremium: 87, DaysCompleted: 31})
	}
	res := workflow.CalculateMonthlyCommission(v1Rates(t), riders, periodStart, periodEnd)

	assert.Equal(t, int64(435), res.TotalPremium)
	assert.Equal(t, int64(427), res.PurePremium)
	assert.Equal(t, int64(38), res.TotalCommission)
	assert.Equal(t, int64(500), res.Distribution.PlatformOM)

	err := res.Validate()
	var violation *utils.InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "non_negative", violation.Check)
}

func TestCalculateMonthlyCommissionDistributionAlwaysSums(t *testing.T) {
	rng := rand.New(rand.NewSource(20240301))
	for i := 0; i < 300; i++ {
		riders := make([]workflow.RiderPremium, rng.Intn(40))
		for j := range riders {
			days := rng.Intn(32)
			riders[j] = workflow.RiderPremium{
				RiderId:       fmt.Sprintf("rider-%d", j),
				TotalPremium:  87*int64(days) + int64(rng.Intn(3)),
				DaysCompleted: days,
			}
		}
		res := workflow.CalculateMonthlyCommission(v1Rates(t), riders, periodStart, periodEnd)
		d := res.Distribution

		assert.Equal(t, res.TotalCommission, d.Total(), "case %d: %+v", i, d)
		assert.Equal(t, res.TotalRiders, res.FullTermRiders+res.PartialRiders, "case %d", i)
		if res.TotalCommission < d.PlatformOM {
			var violation *utils.InvariantViolation
			assert.ErrorAs(t, res.Validate(), &violation, "case %d", i)
			continue
		}
		assert.NoError(t, res.Validate(), "case %d", i)
		// Partner A takes the odd unit of the joint share.
		assert.Contains(t, []int64{0, 1}, d.PartnerA-d.PartnerB, "case %d", i)
	}
}
