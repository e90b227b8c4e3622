package models

import (
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/utils"
)

// SettlementMetadata is a tagged union: Kind names the one populated payload.
// New shapes are added as new optional members so stored rows keep decoding.
type SettlementMetadata struct {
	Kind       SettlementType      `json:"kind"`
	ServiceFee *ServiceFeeMetadata `json:"service_fee,omitempty"`
	Commission *CommissionMetadata `json:"commission,omitempty"`
	Remittance *RemittanceMetadata `json:"remittance,omitempty"`
	Note       string              `json:"note,omitempty"`
}

type ServiceFeeMetadata struct {
	PayableAccount   string    `json:"payable_account"`
	RateVersions     []string  `json:"rate_versions"`
	FirstPaymentDate time.Time `json:"first_payment_date"`
	LastPaymentDate  time.Time `json:"last_payment_date"`
	RefundRowCount   int       `json:"refund_row_count"`
}

// CommissionComponent names which slice of the monthly commission a settlement pays.
type CommissionComponent string

const (
	CommissionComponentPlatform     CommissionComponent = "PLATFORM_OM_AND_PROFIT"
	CommissionComponentMobilization CommissionComponent = "MOBILIZATION"
	CommissionComponentManual       CommissionComponent = "MANUAL"
)

type CommissionMetadata struct {
	Component       CommissionComponent `json:"component"`
	RateVersion     string              `json:"rate_version"`
	PurePremium     int64               `json:"pure_premium"`
	TotalCommission int64               `json:"total_commission"`
	PlatformOM      int64               `json:"platform_om"`
	PlatformProfit  int64               `json:"platform_profit"`
	PartnerAShare   int64               `json:"partner_a_share"`
	PartnerBShare   int64               `json:"partner_b_share"`
	TotalRiders     int                 `json:"total_riders"`
	FullTermRiders  int                 `json:"full_term_riders"`
	PartialRiders   int                 `json:"partial_riders"`
}

type RemittanceMetadata struct {
	PayableAccount string `json:"payable_account"`
	GrossPremium   int64  `json:"gross_premium"`
	RefundRowCount int    `json:"refund_row_count"`
}

func NewServiceFeeMetadata(m ServiceFeeMetadata) SettlementMetadata {
	return SettlementMetadata{Kind: SettlementTypeServiceFee, ServiceFee: &m}
}

func NewCommissionMetadata(m CommissionMetadata) SettlementMetadata {
	return SettlementMetadata{Kind: SettlementTypeCommission, Commission: &m}
}

func NewRemittanceMetadata(m RemittanceMetadata) SettlementMetadata {
	return SettlementMetadata{Kind: SettlementTypeRemittance, Remittance: &m}
}

// Validate checks that exactly the member named by Kind is set.
func (m SettlementMetadata) Validate() error {
	set := 0
	if m.ServiceFee != nil {
		set++
	}
	if m.Commission != nil {
		set++
	}
	if m.Remittance != nil {
		set++
	}
	if set > 1 {
		return utils.NewValidationError("metadata", "more than one payload set for kind %s", m.Kind)
	}
	var matched bool
	switch m.Kind {
	case SettlementTypeServiceFee:
		matched = m.ServiceFee != nil
	case SettlementTypeCommission:
		matched = m.Commission != nil
	case SettlementTypeRemittance:
		matched = m.Remittance != nil
	default:
		return utils.NewValidationError("metadata", "unknown kind %q", m.Kind)
	}
	if !matched {
		return utils.NewValidationError("metadata", "missing %s payload", m.Kind)
	}
	return nil
}
