// ledgerctl runs the scheduled ledger jobs: settlements, remittance, reconciliation,
// verification, report export and the event outbox.
//
// Usage (from the repository root):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/ledgerctl settle-fees --from 2024-03-01 --to 2024-03-31
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"bitbucket.org/mmdatafocus/premium_ledger/workflow"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

var Version = "dev"

var actorId string

// app holds the workflow components for one command invocation.
type app struct {
	logger      *logrus.Logger
	db          *gorm.DB
	engine      *workflow.PostingEngine
	escrow      *workflow.EscrowTracker
	settlements *workflow.SettlementManager
	recon       *workflow.ReconciliationEngine
}

func connect() (*app, error) {
	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		return nil, fmt.Errorf("database not initialized; set DB_* env vars")
	}
	rates, err := config.GetRateBook()
	if err != nil {
		return nil, fmt.Errorf("load rate book: %w", err)
	}

	var locker *redislock.Client
	if config.SettlementLockEnabled() {
		config.ConnectRedisWithRetry()
		locker = config.GetRedisLock()
	}

	engine := workflow.NewPostingEngine(db, rates, logger)
	escrow := workflow.NewEscrowTracker(db, engine, logger)
	return &app{
		logger:      logger,
		db:          db,
		engine:      engine,
		escrow:      escrow,
		settlements: workflow.NewSettlementManager(db, engine, escrow, locker, logger),
		recon:       workflow.NewReconciliationEngine(db, logger),
	}, nil
}

// commandContext tags the run so journal entries, events and logs share one correlation id.
func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = utils.SetActorIdInContext(ctx, actorId)
	ctx = utils.SetTriggerInContext(ctx, "cli:"+cmd.Name())
	ctx, _ = utils.EnsureCorrelationId(ctx)
	return ctx
}

func parseDate(name, value string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, utils.NewValidationError(name, "expected YYYY-MM-DD, got %q", value)
	}
	return t, nil
}

// previousMonth is the default period for the monthly jobs.
func previousMonth(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	firstOfThis := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := firstOfThis.AddDate(0, -1, 0)
	return start, firstOfThis.AddDate(0, 0, -1)
}

// periodFlags registers --from/--to and returns a resolver for the inclusive period.
func periodFlags(cmd *cobra.Command) func() (time.Time, time.Time, error) {
	var from, to string
	cmd.Flags().StringVar(&from, "from", "", "period start (YYYY-MM-DD, default first day of last month)")
	cmd.Flags().StringVar(&to, "to", "", "period end, inclusive (YYYY-MM-DD, default last day of last month)")
	return func() (time.Time, time.Time, error) {
		start, end := previousMonth(time.Now())
		var err error
		if from != "" {
			if start, err = parseDate("from", from); err != nil {
				return start, end, err
			}
		}
		if to != "" {
			if end, err = parseDate("to", to); err != nil {
				return start, end, err
			}
		}
		return start, end, nil
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "ledgerctl",
		Short:         "Premium ledger jobs",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&actorId, "actor", "", "actor id recorded on postings and settlement events (default SYSTEM)")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedAccountsCmd())
	rootCmd.AddCommand(settleFeesCmd())
	rootCmd.AddCommand(settleCommissionCmd())
	rootCmd.AddCommand(settlementCmd())
	rootCmd.AddCommand(remitCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(resolveItemCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(dispatchOutboxCmd())
	rootCmd.AddCommand(outboxRequeueCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if utils.IsBusinessRejection(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
