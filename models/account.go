package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Account struct {
	ID            int           `gorm:"primary_key" json:"id"`
	Code          string        `gorm:"size:10;not null;uniqueIndex:uniq_accounts_code" json:"code"`
	Name          string        `gorm:"size:100;not null" json:"name"`
	Type          AccountType   `gorm:"size:16;not null;index" json:"type"`
	NormalBalance NormalBalance `gorm:"size:8;not null" json:"normal_balance"`
	// Balance is the running balance in minor units, signed by NormalBalance.
	Balance   int64         `gorm:"not null;default:0" json:"balance"`
	Status    AccountStatus `gorm:"size:10;not null;default:'ACTIVE'" json:"status"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAccount struct {
	Code          string        `json:"code" validate:"required,account_code"`
	Name          string        `json:"name" validate:"required,max=100"`
	Type          AccountType   `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY INCOME EXPENSE"`
	NormalBalance NormalBalance `json:"normal_balance" validate:"omitempty,oneof=DEBIT CREDIT"`
}

func (a *Account) BeforeDelete(tx *gorm.DB) error {
	return errors.New("immutable ledger: accounts cannot be deleted")
}

// Delta converts a debit/credit pair into the change of this account's running balance.
func (a Account) Delta(debit, credit int64) int64 {
	if a.NormalBalance == NormalBalanceDebit {
		return debit - credit
	}
	return credit - debit
}

func (a Account) IsActive() bool {
	return a.Status == AccountStatusActive
}

// CreateAccount adds an account to the chart; codes are unique.
func CreateAccount(ctx context.Context, db *gorm.DB, input NewAccount) (*Account, error) {
	if err := utils.ValidateStruct(input); err != nil {
		return nil, err
	}
	nb := input.NormalBalance
	if nb == "" {
		nb = input.Type.DefaultNormalBalance()
	}
	account := Account{
		Code:          input.Code,
		Name:          input.Name,
		Type:          input.Type,
		NormalBalance: nb,
		Status:        AccountStatusActive,
	}
	if err := db.WithContext(ctx).Create(&account).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			return nil, utils.NewValidationError("code", "account %s already exists", input.Code)
		}
		return nil, err
	}
	return &account, nil
}

func GetAccountByCode(ctx context.Context, db *gorm.DB, code string) (*Account, error) {
	var account Account
	if err := db.WithContext(ctx).Where("code = ?", code).First(&account).Error; err != nil {
		if utils.IsRecordNotFound(err) {
			return nil, utils.NewNotFoundError("account", code)
		}
		return nil, err
	}
	return &account, nil
}

func ListAccounts(ctx context.Context, db *gorm.DB) ([]Account, error) {
	var accounts []Account
	err := db.WithContext(ctx).Order("code").Find(&accounts).Error
	return accounts, err
}

// SetAccountStatus deactivates or reactivates an account; an inactive account rejects new postings.
func SetAccountStatus(ctx context.Context, db *gorm.DB, code string, status AccountStatus) error {
	if status != AccountStatusActive && status != AccountStatusInactive {
		return utils.NewValidationError("status", "unknown account status %q", status)
	}
	res := db.WithContext(ctx).Model(&Account{}).Where("code = ?", code).Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.NewNotFoundError("account", code)
	}
	return nil
}

// lockAccounts loads the accounts in code order with row locks held until the transaction ends.
func lockAccounts(tx *gorm.DB, codes []string) (map[string]Account, error) {
	var accounts []Account
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("code IN ?", codes).
		Order("code").
		Find(&accounts).Error; err != nil {
		return nil, err
	}
	byCode := make(map[string]Account, len(accounts))
	for _, a := range accounts {
		byCode[a.Code] = a
	}
	return byCode, nil
}
