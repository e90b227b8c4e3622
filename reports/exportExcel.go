package reports

import (
	"context"
	"fmt"
	"io"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	sheetTrialBalance   = "Trial Balance"
	sheetSettlements    = "Settlements"
	sheetEscrow         = "Escrow"
	sheetReconciliation = "Reconciliation"
)

type ExportOptions struct {
	AsOf *time.Time
	// From and To bound the settlement and escrow sheets; To is exclusive.
	From time.Time
	To   time.Time
	// ReconciliationRunId adds the run's items when set.
	ReconciliationRunId int
}

// BuildLedgerWorkbook renders the period reports into one workbook. The caller closes it.
func BuildLedgerWorkbook(ctx context.Context, db *gorm.DB, opts ExportOptions) (*excelize.File, error) {
	tb, err := BuildTrialBalance(ctx, db, opts.AsOf)
	if err != nil {
		return nil, err
	}
	settlements, err := PartnerSettlementSummary(ctx, db, opts.From, opts.To)
	if err != nil {
		return nil, err
	}
	escrow, err := EscrowPosition(ctx, db, opts.From, opts.To)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheetTrialBalance); err != nil {
		_ = f.Close()
		return nil, err
	}

	rows := [][]interface{}{{"Code", "Account", "Type", "Debit", "Credit"}}
	for _, r := range tb.Rows {
		rows = append(rows, []interface{}{r.AccountCode, r.AccountName, string(r.AccountType), r.Debit, r.Credit})
	}
	rows = append(rows, []interface{}{"", "Total", "", tb.TotalDebit, tb.TotalCredit})
	if err := writeSheet(f, sheetTrialBalance, rows); err != nil {
		_ = f.Close()
		return nil, err
	}

	rows = [][]interface{}{{"Partner", "Type", "Status", "Settlements", "Transactions", "Amount"}}
	for _, r := range settlements {
		rows = append(rows, []interface{}{string(r.PartnerType), string(r.SettlementType), string(r.Status), r.Settlements, r.Transactions, r.TotalAmount})
	}
	if err := writeSheet(f, sheetSettlements, rows); err != nil {
		_ = f.Close()
		return nil, err
	}

	rows = [][]interface{}{{"Status", "Kind", "Rows", "Gross", "Underwriter", "Platform fee", "Partner A fee", "Partner B fee"}}
	for _, r := range escrow {
		rows = append(rows, []interface{}{string(r.RemittanceStatus), string(r.Kind), r.RowCount, r.Gross, r.Underwriter, r.PlatformFee, r.PartnerAFee, r.PartnerBFee})
	}
	if err := writeSheet(f, sheetEscrow, rows); err != nil {
		_ = f.Close()
		return nil, err
	}

	if opts.ReconciliationRunId > 0 {
		summary, err := GetReconciliationSummary(ctx, db, opts.ReconciliationRunId)
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		rows = [][]interface{}{{"Line", "Reference", "Value date", "Amount", "Status", "Matched entry", "Method", "Resolution"}}
		for _, it := range summary.Run.Items {
			matched, method, resolution := "", "", ""
			if it.MatchedTransactionRef != nil {
				matched = *it.MatchedTransactionRef
			}
			if it.MatchMethod != nil {
				method = string(*it.MatchMethod)
			}
			if it.ResolutionReason != nil {
				resolution = *it.ResolutionReason
			}
			rows = append(rows, []interface{}{it.LineNo, it.ExternalReference, it.ValueDate.Format("2006-01-02"), it.Amount, string(it.Status), matched, method, resolution})
		}
		for _, ref := range summary.MissingFromStatement {
			rows = append(rows, []interface{}{"", ref, "", "", "MISSING_FROM_STATEMENT", "", "", ""})
		}
		if err := writeSheet(f, sheetReconciliation, rows); err != nil {
			_ = f.Close()
			return nil, err
		}
	}

	if idx, err := f.GetSheetIndex(sheetTrialBalance); err == nil {
		f.SetActiveSheet(idx)
	}
	return f, nil
}

func writeSheet(f *excelize.File, sheet string, rows [][]interface{}) error {
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		if _, err := f.NewSheet(sheet); err != nil {
			return err
		}
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			return err
		}
	}
	return nil
}

// WriteLedgerWorkbook streams the workbook to w.
func WriteLedgerWorkbook(ctx context.Context, db *gorm.DB, opts ExportOptions, w io.Writer) error {
	f, err := BuildLedgerWorkbook(ctx, db, opts)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Write(w)
}

// ExportLedgerWorkbook builds the workbook and stores it through uploader, returning its location.
func ExportLedgerWorkbook(ctx context.Context, db *gorm.DB, uploader utils.ObjectUploader, opts ExportOptions) (string, error) {
	f, err := BuildLedgerWorkbook(ctx, db, opts)
	if err != nil {
		return "", err
	}
	defer f.Close()
	buf, err := f.WriteToBuffer()
	if err != nil {
		return "", err
	}
	stamp := time.Now().UTC()
	if opts.AsOf != nil {
		stamp = opts.AsOf.UTC()
	}
	name := fmt.Sprintf("ledger-report-%s.xlsx", stamp.Format("20060102-150405"))
	return uploader.Upload(ctx, name, utils.XLSXContentType, buf)
}
