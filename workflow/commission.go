package workflow

import (
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
)

// RiderPremium is one rider's aggregate for the commission period.
// Full-term status is derived from DaysCompleted; IsFullTerm is filled in by the calculator.
type RiderPremium struct {
	RiderId       string `json:"rider_id"`
	TotalPremium  int64  `json:"total_premium"`
	IsFullTerm    bool   `json:"is_full_term"`
	DaysCompleted int    `json:"days_completed"`
}

type CommissionDistribution struct {
	PlatformOM     int64 `json:"platform_om"`
	PlatformProfit int64 `json:"platform_profit"`
	PartnerA       int64 `json:"partner_a"`
	PartnerB       int64 `json:"partner_b"`
}

func (d CommissionDistribution) Total() int64 {
	return d.PlatformOM + d.PlatformProfit + d.PartnerA + d.PartnerB
}

// Platform is what the platform settlement pays: operations fee plus profit share.
func (d CommissionDistribution) Platform() int64 {
	return d.PlatformOM + d.PlatformProfit
}

type CommissionResult struct {
	PeriodStart     time.Time              `json:"period_start"`
	PeriodEnd       time.Time              `json:"period_end"`
	RateVersion     string                 `json:"rate_version"`
	TotalPremium    int64                  `json:"total_premium"`
	PurePremium     int64                  `json:"pure_premium"`
	TotalCommission int64                  `json:"total_commission"`
	TotalRiders     int                    `json:"total_riders"`
	FullTermRiders  int                    `json:"full_term_riders"`
	PartialRiders   int                    `json:"partial_riders"`
	Distribution    CommissionDistribution `json:"distribution"`
	Riders          []RiderPremium         `json:"riders,omitempty"`
}

// CalculateMonthlyCommission is pure: no I/O, no clock.
//
// Rounding is half-up and applied once per aggregate step, never per rider. The remainder after
// the operations fee splits into the platform profit share and a joint mobilization share;
// the joint share splits 50/50 and partner A takes the odd unit.
func CalculateMonthlyCommission(rates *config.RateTable, riders []RiderPremium, periodStart, periodEnd time.Time) CommissionResult {
	c := rates.Commission
	result := CommissionResult{
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		RateVersion: rates.Version,
		TotalRiders: len(riders),
		Riders:      make([]RiderPremium, 0, len(riders)),
	}

	for _, r := range riders {
		r.IsFullTerm = r.DaysCompleted >= c.FullTermDays
		if r.IsFullTerm {
			result.FullTermRiders++
		} else {
			result.PartialRiders++
		}
		// Riders refunded past zero do not pull the pool below what others paid.
		if r.TotalPremium > 0 {
			result.TotalPremium += r.TotalPremium
		}
		result.Riders = append(result.Riders, r)
	}

	result.PurePremium = utils.ApplyRatio(result.TotalPremium, c.PurePremiumNumerator, c.PurePremiumDenominator)
	result.TotalCommission = utils.ApplyBps(result.PurePremium, c.CommissionRateBps)

	om := int64(result.FullTermRiders) * c.OMFeePerFullTermRider
	remainder := result.TotalCommission - om
	profit := utils.ApplyBps(remainder, c.PlatformProfitShareBps)
	joint := remainder - profit
	partnerB := joint / 2
	partnerA := joint - partnerB

	result.Distribution = CommissionDistribution{
		PlatformOM:     om,
		PlatformProfit: profit,
		PartnerA:       partnerA,
		PartnerB:       partnerB,
	}
	return result
}

// Validate returns an InvariantViolation when the distribution does not reconcile.
// Callers must not create settlements from an invalid result.
func (r CommissionResult) Validate() error {
	d := r.Distribution
	if d.Total() != r.TotalCommission {
		return utils.NewInvariantViolation("commission_sum",
			"om %d + profit %d + partner A %d + partner B %d = %d, total commission is %d",
			d.PlatformOM, d.PlatformProfit, d.PartnerA, d.PartnerB, d.Total(), r.TotalCommission)
	}
	if r.FullTermRiders+r.PartialRiders != r.TotalRiders {
		return utils.NewInvariantViolation("rider_count",
			"full-term %d + partial %d != total %d", r.FullTermRiders, r.PartialRiders, r.TotalRiders)
	}
	for name, v := range map[string]int64{
		"platform_om":      d.PlatformOM,
		"platform_profit":  d.PlatformProfit,
		"partner_a":        d.PartnerA,
		"partner_b":        d.PartnerB,
		"pure_premium":     r.PurePremium,
		"total_commission": r.TotalCommission,
	} {
		if v < 0 {
			return utils.NewInvariantViolation("non_negative", "%s is %d", name, v)
		}
	}
	return nil
}

// AmountFor is the commission owed to one party.
func (r CommissionResult) AmountFor(p models.PartnerType) int64 {
	switch p {
	case models.PartnerTypePlatform:
		return r.Distribution.Platform()
	case models.PartnerTypePartnerA:
		return r.Distribution.PartnerA
	case models.PartnerTypePartnerB:
		return r.Distribution.PartnerB
	}
	return 0
}

// MetadataFor builds the typed settlement metadata for one party's share.
func (r CommissionResult) MetadataFor(p models.PartnerType) models.SettlementMetadata {
	component := models.CommissionComponentMobilization
	if p == models.PartnerTypePlatform {
		component = models.CommissionComponentPlatform
	}
	return models.NewCommissionMetadata(models.CommissionMetadata{
		Component:       component,
		RateVersion:     r.RateVersion,
		PurePremium:     r.PurePremium,
		TotalCommission: r.TotalCommission,
		PlatformOM:      r.Distribution.PlatformOM,
		PlatformProfit:  r.Distribution.PlatformProfit,
		PartnerAShare:   r.Distribution.PartnerA,
		PartnerBShare:   r.Distribution.PartnerB,
		TotalRiders:     r.TotalRiders,
		FullTermRiders:  r.FullTermRiders,
		PartialRiders:   r.PartialRiders,
	})
}
