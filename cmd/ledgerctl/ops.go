package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/config"
	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/reports"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"bitbucket.org/mmdatafocus/premium_ledger/workflow"
	"github.com/spf13/cobra"
)

var errLedgerDrift = errors.New("ledger verification found drift")

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute balances and settlement totals from posted lines and record any drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect()
			if err != nil {
				return err
			}
			report, err := reports.VerifyLedger(commandContext(cmd), a.db)
			if err != nil {
				return err
			}
			if err := printJSON(report); err != nil {
				return err
			}
			if !report.Passed() {
				return fmt.Errorf("%w: %d findings (correlation_id=%s)", errLedgerDrift, len(report.Findings), report.CorrelationId)
			}
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var asOf, dir string
	var runId int
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the trial balance, settlements, escrow and reconciliation sheets as XLSX",
		Long:  `Uploads the workbook to GCS_BUCKET when it is set, otherwise writes it to --dir.`,
	}
	period := periodFlags(cmd)
	cmd.Flags().StringVar(&asOf, "as-of", "", "trial balance cut-off date, exclusive (default current balances)")
	cmd.Flags().IntVar(&runId, "reconciliation-run", 0, "include the items of this reconciliation run")
	cmd.Flags().StringVar(&dir, "dir", ".", "output directory when GCS_BUCKET is not set")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		start, end, err := period()
		if err != nil {
			return err
		}
		opts := reports.ExportOptions{From: start, To: end.AddDate(0, 0, 1), ReconciliationRunId: runId}
		if asOf != "" {
			cutoff, err := parseDate("as-of", asOf)
			if err != nil {
				return err
			}
			opts.AsOf = &cutoff
		}

		var uploader utils.ObjectUploader
		if gcs, err := utils.NewGCSUploaderFromEnv(); err == nil {
			uploader = gcs
		} else {
			uploader = &utils.LocalUploader{Dir: dir}
		}

		a, err := connect()
		if err != nil {
			return err
		}
		location, err := reports.ExportLedgerWorkbook(commandContext(cmd), a.db, uploader, opts)
		if err != nil {
			return err
		}
		a.logger.WithField("location", location).Info("ledger report exported")
		fmt.Println(location)
		return nil
	}
	return cmd
}

func dispatchOutboxCmd() *cobra.Command {
	var once bool
	var poll time.Duration
	var maxAttempts int
	cmd := &cobra.Command{
		Use:   "dispatch-outbox",
		Short: "Publish committed ledger events to PUBSUB_TOPIC",
		RunE: func(cmd *cobra.Command, args []string) error {
			publisher, err := config.NewPubSubPublisherFromEnv()
			if err != nil {
				return err
			}
			a, err := connect()
			if err != nil {
				return err
			}
			d := workflow.NewOutboxDispatcher(a.db, publisher, a.logger)
			if poll > 0 {
				d.PollInterval = poll
			}
			if maxAttempts > 0 {
				d.MaxAttempts = maxAttempts
			}

			if once {
				return printJSON(d.DispatchOnce(commandContext(cmd)))
			}
			ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			a.logger.WithField("dispatcher_id", d.DispatcherID).Info("outbox dispatcher started")
			d.Run(ctx)
			a.logger.Info("outbox dispatcher stopped")
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "dispatch a single batch and exit")
	cmd.Flags().DurationVar(&poll, "poll", 0, "poll interval (default 500ms)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempts before an event goes DEAD (default 20)")
	return cmd
}

func outboxRequeueCmd() *cobra.Command {
	var ids []int
	cmd := &cobra.Command{
		Use:   "outbox-requeue",
		Short: "Return DEAD ledger events to PENDING (all of them unless --id is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			n, err := models.RequeueDeadLedgerEvents(ctx, a.db, ids)
			if err != nil {
				return err
			}
			counts, err := models.OutboxCounts(ctx, a.db)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"requeued": n, "outbox": counts})
		},
	}
	cmd.Flags().IntSliceVar(&ids, "id", nil, "outbox record ids to requeue")
	return cmd
}
