package models

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Chart of accounts codes referenced by the allocation tables.
const (
	AccountEscrowCash            = "1001"
	AccountOperatingCash         = "1002"
	AccountCommissionReceivable  = "1003"
	AccountUnderwriterPayable    = "2001"
	AccountPlatformFeePayable    = "2002"
	AccountPartnerAFeePayable    = "2003"
	AccountPartnerBFeePayable    = "2004"
	AccountRiderRefundPayable    = "2005"
	AccountPartnerSettlements    = "2006"
	AccountRetainedEarnings      = "3001"
	AccountCancellationFeeIncome = "4001"
)

var DefaultChartOfAccounts = []NewAccount{
	{Code: AccountEscrowCash, Name: "Escrow Cash", Type: AccountTypeAsset},
	{Code: AccountOperatingCash, Name: "Operating Cash", Type: AccountTypeAsset},
	{Code: AccountCommissionReceivable, Name: "Commission Receivable", Type: AccountTypeAsset},
	{Code: AccountUnderwriterPayable, Name: "Underwriter Premium Payable", Type: AccountTypeLiability},
	{Code: AccountPlatformFeePayable, Name: "Platform Service Fee Payable", Type: AccountTypeLiability},
	{Code: AccountPartnerAFeePayable, Name: "Partner A Service Fee Payable", Type: AccountTypeLiability},
	{Code: AccountPartnerBFeePayable, Name: "Partner B Service Fee Payable", Type: AccountTypeLiability},
	{Code: AccountRiderRefundPayable, Name: "Rider Refund Payable", Type: AccountTypeLiability},
	{Code: AccountPartnerSettlements, Name: "Partner Settlements Payable", Type: AccountTypeLiability},
	{Code: AccountRetainedEarnings, Name: "Retained Earnings", Type: AccountTypeEquity},
	{Code: AccountCancellationFeeIncome, Name: "Cancellation Fee Income", Type: AccountTypeIncome},
}

// FeePayableAccount maps a fee-earning partner to its service-fee payable account.
func FeePayableAccount(p PartnerType) (string, bool) {
	switch p {
	case PartnerTypePartnerA:
		return AccountPartnerAFeePayable, true
	case PartnerTypePartnerB:
		return AccountPartnerBFeePayable, true
	case PartnerTypePlatform:
		return AccountPlatformFeePayable, true
	}
	return "", false
}

// SeedChartOfAccounts inserts any missing default account; existing rows are left untouched.
func SeedChartOfAccounts(ctx context.Context, db *gorm.DB) error {
	accounts := make([]Account, 0, len(DefaultChartOfAccounts))
	for _, a := range DefaultChartOfAccounts {
		accounts = append(accounts, Account{
			Code:          a.Code,
			Name:          a.Name,
			Type:          a.Type,
			NormalBalance: a.Type.DefaultNormalBalance(),
			Status:        AccountStatusActive,
		})
	}
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(&accounts).Error
}
