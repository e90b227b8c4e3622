package reports_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/reports"
	"bitbucket.org/mmdatafocus/premium_ledger/testutil"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"bitbucket.org/mmdatafocus/premium_ledger/workflow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

var (
	marchStart = testutil.Day(2024, 3, 1)
	aprilStart = testutil.Day(2024, 4, 1)
)

// seedLedger posts a month of activity: three receipts, a refund, one fee settlement and one
// reconciliation run with an open item.
func seedLedger(t *testing.T) (*gorm.DB, int) {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	ctx := context.Background()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	engine := workflow.NewPostingEngine(db, config.DefaultRateBook(), logger)
	engine.Now = testutil.FixedClock(time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC))
	escrow := workflow.NewEscrowTracker(db, engine, logger)
	settlements := workflow.NewSettlementManager(db, engine, escrow, nil, logger)
	recon := workflow.NewReconciliationEngine(db, logger)
	recon.DateToleranceDays = 2
	recon.SimilarityThreshold = 0.8

	for _, p := range []workflow.PremiumPayment{
		{RiderId: "rider-1", TransactionId: "MPESA0001", EventType: models.JournalEntryTypeInitialDeposit, Amount: 1048, PaymentDate: testutil.Day(2024, 3, 1)},
		{RiderId: "rider-1", TransactionId: "MPESA0002", EventType: models.JournalEntryTypeDailyPayment, Amount: 870, DayCount: 10, PaymentDate: testutil.Day(2024, 3, 2)},
		{RiderId: "rider-2", TransactionId: "MPESA0003", EventType: models.JournalEntryTypeDailyPayment, Amount: 87, DayCount: 1, PaymentDate: testutil.Day(2024, 3, 3)},
	} {
		_, err := escrow.AcceptPremiumPayment(ctx, p)
		require.NoError(t, err)
	}
	_, err := escrow.InitiateRefund(ctx, workflow.RefundRequest{
		RiderId: "rider-1", TransactionId: "REFUND-1", Amount: 870, DayCount: 10, RefundDate: testutil.Day(2024, 3, 12),
	})
	require.NoError(t, err)
	_, err = settlements.CreateServiceFeeSettlement(ctx, models.PartnerTypePartnerA, marchStart, testutil.Day(2024, 3, 31), "finance")
	require.NoError(t, err)

	run, err := recon.Reconcile(ctx, []workflow.StatementLine{
		{ExternalReference: "MPESA0001", Amount: 1048, ValueDate: testutil.Day(2024, 3, 1)},
		{ExternalReference: "MPESA0004", Amount: 87, ValueDate: testutil.Day(2024, 3, 3)},
		{ExternalReference: "CHARGES", Amount: -30, ValueDate: testutil.Day(2024, 3, 31)},
	}, marchStart, testutil.Day(2024, 3, 31), "recon")
	require.NoError(t, err)
	return db, run.ID
}

func rowFor(tb *reports.TrialBalance, code string) *reports.TrialBalanceRow {
	for _, r := range tb.Rows {
		if r.AccountCode == code {
			return r
		}
	}
	return nil
}

func TestTrialBalanceIsBalanced(t *testing.T) {
	db, _ := seedLedger(t)
	ctx := context.Background()

	tb, err := reports.BuildTrialBalance(ctx, db, nil)
	require.NoError(t, err)
	assert.True(t, tb.Balanced)
	assert.Equal(t, tb.TotalDebit, tb.TotalCredit)
	assert.Len(t, tb.Rows, len(models.DefaultChartOfAccounts))

	cash := rowFor(tb, models.AccountEscrowCash)
	require.NotNil(t, cash)
	assert.Equal(t, int64(1048+870+87), cash.Debit)
	refunds := rowFor(tb, models.AccountRiderRefundPayable)
	require.NotNil(t, refunds)
	assert.Equal(t, int64(783), refunds.Credit)
	assert.Equal(t, int64(783), refunds.Balance)

	// Line history must agree with the stored balances.
	asOf := aprilStart.AddDate(1, 0, 0)
	historic, err := reports.BuildTrialBalance(ctx, db, &asOf)
	require.NoError(t, err)
	for i, r := range tb.Rows {
		assert.Equal(t, r.Debit, historic.Rows[i].Debit, r.AccountCode)
		assert.Equal(t, r.Credit, historic.Rows[i].Credit, r.AccountCode)
	}

	before := marchStart
	empty, err := reports.BuildTrialBalance(ctx, db, &before)
	require.NoError(t, err)
	assert.Zero(t, empty.TotalDebit)
	assert.True(t, empty.Balanced)
}

func TestVerifyLedgerPassesOnCleanLedger(t *testing.T) {
	db, _ := seedLedger(t)

	report, err := reports.VerifyLedger(context.Background(), db)
	require.NoError(t, err)
	assert.True(t, report.Passed(), "%+v", report.Findings)
	assert.Equal(t, len(models.DefaultChartOfAccounts), report.Accounts)
	assert.Equal(t, 1, report.Settlements)
	assert.Positive(t, report.Entries)
}

func TestVerifyLedgerRecordsDrift(t *testing.T) {
	db, _ := seedLedger(t)
	ctx := context.Background()
	require.NoError(t, db.Model(&models.Account{}).
		Where("code = ?", models.AccountEscrowCash).
		UpdateColumn("balance", gorm.Expr("balance + 1")).Error)

	report, err := reports.VerifyLedger(ctx, db)
	require.NoError(t, err)
	require.False(t, report.Passed())
	require.Len(t, report.Findings, 1)
	f := report.Findings[0]
	assert.Equal(t, reports.CheckAccountBalance, f.CheckType)
	assert.Equal(t, models.AccountEscrowCash, f.EntityKey)
	assert.Equal(t, f.Expected+1, f.Actual)

	stored, err := models.ListDriftFindings(ctx, db, report.CorrelationId)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	// Verification never repairs anything.
	account, err := models.GetAccountByCode(ctx, db, models.AccountEscrowCash)
	require.NoError(t, err)
	assert.Equal(t, f.Actual, account.Balance)
}

func TestSummaries(t *testing.T) {
	db, runId := seedLedger(t)
	ctx := context.Background()

	settlements, err := reports.PartnerSettlementSummary(ctx, db, marchStart, aprilStart)
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.Equal(t, models.PartnerTypePartnerA, settlements[0].PartnerType)
	// 1 + 10 + 1 in fees, less the refunded 10 plus the 13 cancellation share.
	assert.Equal(t, int64(15), settlements[0].TotalAmount)

	position, err := reports.EscrowPosition(ctx, db, marchStart, aprilStart)
	require.NoError(t, err)
	var gross int64
	for _, r := range position {
		gross += r.Gross
	}
	assert.Equal(t, int64(1048+870+87-870), gross)

	summary, err := reports.GetReconciliationSummary(ctx, db, runId)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.MatchedExact)
	assert.Equal(t, 1, summary.MatchedFuzzy)
	assert.Equal(t, int64(1048+87), summary.MatchedAmount)
	require.Len(t, summary.OpenItems, 1)
	assert.Equal(t, int64(-30), summary.UnmatchedAmount)
	assert.ElementsMatch(t, []string{"MPESA0002"}, summary.MissingFromStatement)

	_, err = reports.GetReconciliationSummary(ctx, db, 999)
	assert.ErrorIs(t, err, utils.ErrorRecordNotFound)
}

func TestLedgerWorkbook(t *testing.T) {
	db, runId := seedLedger(t)
	ctx := context.Background()
	opts := reports.ExportOptions{From: marchStart, To: aprilStart, ReconciliationRunId: runId}

	var buf bytes.Buffer
	require.NoError(t, reports.WriteLedgerWorkbook(ctx, db, opts, &buf))

	book, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer book.Close()
	assert.Equal(t, []string{"Trial Balance", "Settlements", "Escrow", "Reconciliation"}, book.GetSheetList())

	rows, err := book.GetRows("Trial Balance")
	require.NoError(t, err)
	require.Len(t, rows, len(models.DefaultChartOfAccounts)+2)
	assert.Equal(t, []string{"Code", "Account", "Type", "Debit", "Credit"}, rows[0])
	total := rows[len(rows)-1]
	assert.Equal(t, "Total", total[1])
	assert.Equal(t, total[3], total[4])

	recon, err := book.GetRows("Reconciliation")
	require.NoError(t, err)
	// Header, three statement lines and one missing reference.
	assert.Len(t, recon, 5)
	assert.Equal(t, "MISSING_FROM_STATEMENT", recon[4][4])
}

func TestExportLedgerWorkbookToLocalDirectory(t *testing.T) {
	db, _ := seedLedger(t)
	dir := t.TempDir()
	asOf := aprilStart

	location, err := reports.ExportLedgerWorkbook(context.Background(), db, &utils.LocalUploader{Dir: dir},
		reports.ExportOptions{AsOf: &asOf, From: marchStart, To: aprilStart})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ledger-report-20240401-000000.xlsx"), location)

	info, err := os.Stat(location)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
