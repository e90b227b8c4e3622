package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed rates.yaml
var defaultRatesYAML []byte

// ReceiptAllocation splits one unit of a receipt event.
type ReceiptAllocation struct {
	UnitPrice          int64 `yaml:"unit_price"`
	UnderwriterPremium int64 `yaml:"underwriter_premium"`
	PlatformFee        int64 `yaml:"platform_fee"`
	PartnerAFee        int64 `yaml:"partner_a_fee"`
	PartnerBFee        int64 `yaml:"partner_b_fee"`
}

func (a ReceiptAllocation) validate(name string) error {
	if a.UnitPrice <= 0 {
		return fmt.Errorf("%s: unit_price must be positive", name)
	}
	if a.UnderwriterPremium < 0 || a.PlatformFee < 0 || a.PartnerAFee < 0 || a.PartnerBFee < 0 {
		return fmt.Errorf("%s: components must not be negative", name)
	}
	if sum := a.UnderwriterPremium + a.PlatformFee + a.PartnerAFee + a.PartnerBFee; sum != a.UnitPrice {
		return fmt.Errorf("%s: components sum to %d, unit_price is %d", name, sum, a.UnitPrice)
	}
	return nil
}

// FeeTotal is the service-fee portion of one unit.
func (a ReceiptAllocation) FeeTotal() int64 {
	return a.PlatformFee + a.PartnerAFee + a.PartnerBFee
}

type CancellationRates struct {
	FeeBps           int64 `yaml:"fee_bps"`
	PlatformShareBps int64 `yaml:"platform_share_bps"`
	PartnerAShareBps int64 `yaml:"partner_a_share_bps"`
	PartnerBShareBps int64 `yaml:"partner_b_share_bps"`
}

type CommissionRates struct {
	PurePremiumNumerator   int64 `yaml:"pure_premium_numerator"`
	PurePremiumDenominator int64 `yaml:"pure_premium_denominator"`
	CommissionRateBps      int64 `yaml:"commission_rate_bps"`
	FullTermDays           int   `yaml:"full_term_days"`
	OMFeePerFullTermRider  int64 `yaml:"om_fee_per_full_term_rider"`
	PlatformProfitShareBps int64 `yaml:"platform_profit_share_bps"`
}

// RateTable is one immutable version of the allocation and commission rules.
type RateTable struct {
	Version        string            `yaml:"version"`
	EffectiveFrom  time.Time         `yaml:"effective_from"`
	InitialDeposit ReceiptAllocation `yaml:"initial_deposit"`
	DailyPayment   ReceiptAllocation `yaml:"daily_payment"`
	Cancellation   CancellationRates `yaml:"cancellation"`
	Commission     CommissionRates   `yaml:"commission"`
}

func (r *RateTable) Validate() error {
	if strings.TrimSpace(r.Version) == "" {
		return errors.New("rate table version is required")
	}
	if err := r.InitialDeposit.validate(r.Version + ".initial_deposit"); err != nil {
		return err
	}
	if err := r.DailyPayment.validate(r.Version + ".daily_payment"); err != nil {
		return err
	}
	c := r.Cancellation
	if c.FeeBps < 0 || c.FeeBps > 10000 {
		return fmt.Errorf("%s.cancellation: fee_bps out of range", r.Version)
	}
	if c.PlatformShareBps < 0 || c.PartnerAShareBps < 0 || c.PartnerBShareBps < 0 {
		return fmt.Errorf("%s.cancellation: shares must not be negative", r.Version)
	}
	if c.PlatformShareBps+c.PartnerAShareBps+c.PartnerBShareBps != 10000 {
		return fmt.Errorf("%s.cancellation: shares must sum to 10000 bps", r.Version)
	}
	m := r.Commission
	if m.PurePremiumNumerator <= 0 || m.PurePremiumDenominator <= 0 || m.PurePremiumNumerator > m.PurePremiumDenominator {
		return fmt.Errorf("%s.commission: invalid pure premium ratio", r.Version)
	}
	if m.CommissionRateBps < 0 || m.CommissionRateBps > 10000 {
		return fmt.Errorf("%s.commission: commission_rate_bps out of range", r.Version)
	}
	if m.PlatformProfitShareBps < 0 || m.PlatformProfitShareBps > 10000 {
		return fmt.Errorf("%s.commission: platform_profit_share_bps out of range", r.Version)
	}
	if m.FullTermDays <= 0 || m.OMFeePerFullTermRider < 0 {
		return fmt.Errorf("%s.commission: invalid full-term settings", r.Version)
	}
	return nil
}

// RateBook holds every version, ordered by effective date.
type RateBook struct {
	Tables []RateTable `yaml:"tables"`
}

func ParseRateBook(data []byte) (*RateBook, error) {
	var book RateBook
	if err := yaml.Unmarshal(data, &book); err != nil {
		return nil, fmt.Errorf("parse rate book: %w", err)
	}
	if len(book.Tables) == 0 {
		return nil, errors.New("rate book has no tables")
	}
	seen := map[string]bool{}
	for i := range book.Tables {
		t := &book.Tables[i]
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if seen[t.Version] {
			return nil, fmt.Errorf("duplicate rate table version %q", t.Version)
		}
		seen[t.Version] = true
		t.EffectiveFrom = t.EffectiveFrom.UTC()
	}
	sort.SliceStable(book.Tables, func(i, j int) bool {
		return book.Tables[i].EffectiveFrom.Before(book.Tables[j].EffectiveFrom)
	})
	return &book, nil
}

// Active returns the table in force at the given instant; the earliest table covers anything before it.
func (b *RateBook) Active(at time.Time) *RateTable {
	active := &b.Tables[0]
	for i := range b.Tables {
		if !b.Tables[i].EffectiveFrom.After(at) {
			active = &b.Tables[i]
		}
	}
	return active
}

func (b *RateBook) Version(version string) (*RateTable, bool) {
	for i := range b.Tables {
		if b.Tables[i].Version == version {
			return &b.Tables[i], true
		}
	}
	return nil, false
}

var (
	rateBook     *RateBook
	rateBookOnce sync.Once
	rateBookErr  error
)

// GetRateBook loads RATE_TABLE_FILE when set, otherwise the embedded defaults.
func GetRateBook() (*RateBook, error) {
	rateBookOnce.Do(func() {
		data := defaultRatesYAML
		if path := strings.TrimSpace(os.Getenv("RATE_TABLE_FILE")); path != "" {
			raw, err := os.ReadFile(path)
			if err != nil {
				rateBookErr = fmt.Errorf("read RATE_TABLE_FILE: %w", err)
				return
			}
			data = raw
		}
		rateBook, rateBookErr = ParseRateBook(data)
	})
	return rateBook, rateBookErr
}

// DefaultRateBook parses the embedded tables; used by tests and tools that ignore RATE_TABLE_FILE.
func DefaultRateBook() *RateBook {
	book, err := ParseRateBook(defaultRatesYAML)
	if err != nil {
		panic(err)
	}
	return book
}
