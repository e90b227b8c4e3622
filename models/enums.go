package models

type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeIncome    AccountType = "INCOME"
	AccountTypeExpense   AccountType = "EXPENSE"
)

func (t AccountType) IsValid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeIncome, AccountTypeExpense:
		return true
	}
	return false
}

// DefaultNormalBalance is the side that increases an account of this type.
func (t AccountType) DefaultNormalBalance() NormalBalance {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return NormalBalanceDebit
	default:
		return NormalBalanceCredit
	}
}

type NormalBalance string

const (
	NormalBalanceDebit  NormalBalance = "DEBIT"
	NormalBalanceCredit NormalBalance = "CREDIT"
)

type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "ACTIVE"
	AccountStatusInactive AccountStatus = "INACTIVE"
)

// JournalEntryType tags the business event an entry records.
type JournalEntryType string

const (
	JournalEntryTypeInitialDeposit        JournalEntryType = "INITIAL_DEPOSIT"
	JournalEntryTypeDailyPayment          JournalEntryType = "DAILY_PAYMENT"
	JournalEntryTypePremiumRemittance     JournalEntryType = "PREMIUM_REMITTANCE"
	JournalEntryTypeBulkPremiumRemittance JournalEntryType = "BULK_PREMIUM_REMITTANCE"
	JournalEntryTypeRefundInitiation      JournalEntryType = "REFUND_INITIATION"
	JournalEntryTypeRefundPayout          JournalEntryType = "REFUND_PAYOUT"
	JournalEntryTypeSettlementAccrual     JournalEntryType = "SETTLEMENT_ACCRUAL"
	JournalEntryTypeCommissionAccrual     JournalEntryType = "COMMISSION_ACCRUAL"
	JournalEntryTypeSettlementPayout      JournalEntryType = "SETTLEMENT_PAYOUT"
	JournalEntryTypeReversal              JournalEntryType = "REVERSAL"
)

func (t JournalEntryType) IsValid() bool {
	switch t {
	case JournalEntryTypeInitialDeposit, JournalEntryTypeDailyPayment, JournalEntryTypePremiumRemittance,
		JournalEntryTypeBulkPremiumRemittance, JournalEntryTypeRefundInitiation, JournalEntryTypeRefundPayout,
		JournalEntryTypeSettlementAccrual, JournalEntryTypeCommissionAccrual, JournalEntryTypeSettlementPayout,
		JournalEntryTypeReversal:
		return true
	}
	return false
}

// IsReceipt reports whether the entry records money coming in from a rider.
func (t JournalEntryType) IsReceipt() bool {
	return t == JournalEntryTypeInitialDeposit || t == JournalEntryTypeDailyPayment
}

type JournalStatus string

const (
	JournalStatusPosted JournalStatus = "POSTED"
)

type RemittanceStatus string

const (
	RemittanceStatusPending  RemittanceStatus = "PENDING"
	RemittanceStatusRemitted RemittanceStatus = "REMITTED"
)

type EscrowKind string

const (
	EscrowKindPremium          EscrowKind = "PREMIUM"
	EscrowKindRefundAdjustment EscrowKind = "REFUND_ADJUSTMENT"
)

type PartnerType string

const (
	PartnerTypePartnerA    PartnerType = "PARTNER_A"
	PartnerTypePartnerB    PartnerType = "PARTNER_B"
	PartnerTypeUnderwriter PartnerType = "UNDERWRITER"
	PartnerTypePlatform    PartnerType = "PLATFORM"
)

func (t PartnerType) IsValid() bool {
	switch t {
	case PartnerTypePartnerA, PartnerTypePartnerB, PartnerTypeUnderwriter, PartnerTypePlatform:
		return true
	}
	return false
}

type SettlementType string

const (
	SettlementTypeServiceFee SettlementType = "SERVICE_FEE"
	SettlementTypeCommission SettlementType = "COMMISSION"
	SettlementTypeRemittance SettlementType = "REMITTANCE"
)

type SettlementStatus string

const (
	SettlementStatusPending    SettlementStatus = "PENDING"
	SettlementStatusApproved   SettlementStatus = "APPROVED"
	SettlementStatusProcessing SettlementStatus = "PROCESSING"
	SettlementStatusCompleted  SettlementStatus = "COMPLETED"
	SettlementStatusCancelled  SettlementStatus = "CANCELLED"
)

// IsActive is true for every status that still holds claimed escrow rows.
func (s SettlementStatus) IsActive() bool {
	return s != SettlementStatusCancelled
}

type ReconciliationStatus string

const (
	ReconciliationStatusOpen      ReconciliationStatus = "OPEN"
	ReconciliationStatusCompleted ReconciliationStatus = "COMPLETED"
)

type ReconciliationItemStatus string

const (
	ReconciliationItemMatched   ReconciliationItemStatus = "MATCHED"
	ReconciliationItemUnmatched ReconciliationItemStatus = "UNMATCHED"
	ReconciliationItemResolved  ReconciliationItemStatus = "RESOLVED"
)

// IsTerminal reports whether the item needs no further action.
func (s ReconciliationItemStatus) IsTerminal() bool {
	return s == ReconciliationItemMatched || s == ReconciliationItemResolved
}

type MatchMethod string

const (
	MatchMethodExact MatchMethod = "EXACT"
	MatchMethodFuzzy MatchMethod = "FUZZY"
)
