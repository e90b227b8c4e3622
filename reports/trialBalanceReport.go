package reports

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"gorm.io/gorm"
)

type TrialBalanceRow struct {
	AccountCode   string               `json:"account_code"`
	AccountName   string               `json:"account_name"`
	AccountType   models.AccountType   `json:"account_type"`
	NormalBalance models.NormalBalance `json:"normal_balance"`
	Balance       int64                `json:"balance"`
	Debit         int64                `json:"debit"`
	Credit        int64                `json:"credit"`
}

type TrialBalance struct {
	AsOf        *time.Time         `json:"as_of"`
	Rows        []*TrialBalanceRow `json:"rows"`
	TotalDebit  int64              `json:"total_debit"`
	TotalCredit int64              `json:"total_credit"`
	Balanced    bool               `json:"balanced"`
}

func GetTrialBalanceReport(ctx context.Context, asOf *time.Time) (*TrialBalance, error) {
	return BuildTrialBalance(ctx, config.GetDB(), asOf)
}

// BuildTrialBalance lists every account's net position. With asOf nil it reads the stored
// running balances; otherwise it sums lines of entries dated before asOf.
func BuildTrialBalance(ctx context.Context, db *gorm.DB, asOf *time.Time) (*TrialBalance, error) {
	accounts, err := models.ListAccounts(ctx, db)
	if err != nil {
		return nil, err
	}

	var nets map[string]int64
	if asOf != nil {
		if nets, err = netByAccount(ctx, db, asOf); err != nil {
			return nil, err
		}
	}

	tb := &TrialBalance{AsOf: asOf, Rows: make([]*TrialBalanceRow, 0, len(accounts))}
	for _, a := range accounts {
		// net is debit-positive regardless of the normal side.
		var net int64
		if nets != nil {
			net = nets[a.Code]
		} else if a.NormalBalance == models.NormalBalanceDebit {
			net = a.Balance
		} else {
			net = -a.Balance
		}
		row := &TrialBalanceRow{
			AccountCode:   a.Code,
			AccountName:   a.Name,
			AccountType:   a.Type,
			NormalBalance: a.NormalBalance,
			Balance:       a.Delta(max(net, 0), max(-net, 0)),
		}
		if net >= 0 {
			row.Debit = net
		} else {
			row.Credit = -net
		}
		tb.TotalDebit += row.Debit
		tb.TotalCredit += row.Credit
		tb.Rows = append(tb.Rows, row)
	}
	tb.Balanced = tb.TotalDebit == tb.TotalCredit
	return tb, nil
}

type accountSums struct {
	AccountCode string
	Debit       int64
	Credit      int64
}

// netByAccount returns debits minus credits per account; asOf nil means all history.
func netByAccount(ctx context.Context, db *gorm.DB, asOf *time.Time) (map[string]int64, error) {
	q := db.WithContext(ctx).
		Table("journal_entry_lines AS l").
		Select("l.account_code, SUM(l.debit) AS debit, SUM(l.credit) AS credit").
		Joins("JOIN journal_entries AS e ON e.id = l.journal_entry_id")
	if asOf != nil {
		q = q.Where("e.event_date < ?", asOf.UTC())
	}
	var sums []accountSums
	if err := q.Group("l.account_code").Scan(&sums).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(sums))
	for _, s := range sums {
		out[s.AccountCode] = s.Debit - s.Credit
	}
	return out, nil
}
