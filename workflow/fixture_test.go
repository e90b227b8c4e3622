package workflow_test

import (
	"context"
	"io"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/testutil"
	"bitbucket.org/mmdatafocus/premium_ledger/workflow"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// clock is "today" for every fixture: the day after the March test period closes.
var clock = time.Date(2024, 4, 2, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ctx         context.Context
	db          *gorm.DB
	engine      *workflow.PostingEngine
	escrow      *workflow.EscrowTracker
	settlements *workflow.SettlementManager
	recon       *workflow.ReconciliationEngine
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	logger := quietLogger()

	engine := workflow.NewPostingEngine(db, config.DefaultRateBook(), logger)
	engine.Now = testutil.FixedClock(clock)
	escrow := workflow.NewEscrowTracker(db, engine, logger)
	recon := workflow.NewReconciliationEngine(db, logger)
	recon.DateToleranceDays = 2
	recon.SimilarityThreshold = 0.8
	recon.CountryCode = "KE"
	recon.Now = testutil.FixedClock(clock)

	return &fixture{
		ctx:         context.Background(),
		db:          db,
		engine:      engine,
		escrow:      escrow,
		settlements: workflow.NewSettlementManager(db, engine, escrow, nil, logger),
		recon:       recon,
	}
}

func march(day int) time.Time {
	return time.Date(2024, 3, day, 9, 30, 0, 0, time.UTC)
}

// payDaily accepts a daily payment covering days consecutive days.
func (f *fixture) payDaily(t *testing.T, rider, txId string, days int, at time.Time) *workflow.PaymentResult {
	t.Helper()
	res, err := f.escrow.AcceptPremiumPayment(f.ctx, workflow.PremiumPayment{
		RiderId:       rider,
		TransactionId: txId,
		EventType:     models.JournalEntryTypeDailyPayment,
		Amount:        87 * int64(days),
		DayCount:      days,
		PaymentDate:   at,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) payDeposit(t *testing.T, rider, txId string, at time.Time) *workflow.PaymentResult {
	t.Helper()
	res, err := f.escrow.AcceptPremiumPayment(f.ctx, workflow.PremiumPayment{
		RiderId:       rider,
		TransactionId: txId,
		EventType:     models.JournalEntryTypeInitialDeposit,
		Amount:        1048,
		PaymentDate:   at,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) balance(t *testing.T, code string) int64 {
	t.Helper()
	a, err := models.GetAccountByCode(f.ctx, f.db, code)
	require.NoError(t, err)
	return a.Balance
}

func (f *fixture) count(t *testing.T, model any, query string, args ...any) int64 {
	t.Helper()
	var n int64
	q := f.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}
