package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/premium_ledger/models"
	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"github.com/spf13/cobra"
)

// feePartners are settled by the daily fee job; the underwriter is settled through remit.
var feePartners = []models.PartnerType{
	models.PartnerTypePlatform,
	models.PartnerTypePartnerA,
	models.PartnerTypePartnerB,
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parsePartners(raw []string) ([]models.PartnerType, error) {
	if len(raw) == 0 {
		return feePartners, nil
	}
	out := make([]models.PartnerType, 0, len(raw))
	for _, r := range raw {
		p := models.PartnerType(strings.ToUpper(strings.TrimSpace(r)))
		if !p.IsValid() {
			return nil, utils.NewValidationError("partner", "unknown partner type %q", r)
		}
		out = append(out, p)
	}
	return out, nil
}

func parseId(name, raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id <= 0 {
		return 0, utils.NewValidationError(name, "expected a positive id, got %q", raw)
	}
	return id, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect()
			if err != nil {
				return err
			}
			if err := models.AutoMigrate(a.db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			a.logger.Info("ledger schema migrated")
			return nil
		},
	}
}

func seedAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed-accounts",
		Short: "Insert the chart of accounts (existing codes are left untouched)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := connect()
			if err != nil {
				return err
			}
			if err := models.SeedChartOfAccounts(commandContext(cmd), a.db); err != nil {
				return err
			}
			a.logger.WithField("accounts", len(models.DefaultChartOfAccounts)).Info("chart of accounts seeded")
			return nil
		},
	}
}

func settleFeesCmd() *cobra.Command {
	var partners []string
	cmd := &cobra.Command{
		Use:   "settle-fees",
		Short: "Create service fee settlements for the period",
		Long: `Creates one PENDING settlement per partner from the escrow rows not yet settled for it.
Partners with nothing to settle are reported and skipped. Re-running the same period is a no-op.`,
	}
	period := periodFlags(cmd)
	cmd.Flags().StringSliceVar(&partners, "partner", nil, "partner types to settle (default PLATFORM,PARTNER_A,PARTNER_B)")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		start, end, err := period()
		if err != nil {
			return err
		}
		list, err := parsePartners(partners)
		if err != nil {
			return err
		}
		a, err := connect()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		results := make(map[models.PartnerType]any, len(list))
		var failed error
		for _, p := range list {
			res, err := a.settlements.CreateServiceFeeSettlement(ctx, p, start, end, actorId)
			if err != nil {
				// One partner's failure must not block the others.
				a.logger.WithError(err).WithField("partner", p).Error("settle-fees failed")
				results[p] = map[string]string{"error": err.Error()}
				failed = err
				continue
			}
			results[p] = res
		}
		if err := printJSON(results); err != nil {
			return err
		}
		return failed
	}
	return cmd
}

func settleCommissionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settle-commission",
		Short: "Calculate the monthly commission and create one settlement per recipient",
	}
	period := periodFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		start, end, err := period()
		if err != nil {
			return err
		}
		a, err := connect()
		if err != nil {
			return err
		}
		calc, results, err := a.settlements.SettleMonthlyCommission(commandContext(cmd), start, end, actorId)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"calculation": calc, "settlements": results})
	}
	return cmd
}

func settlementCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settlement",
		Short: "Move a settlement through its lifecycle",
	}

	var bankRef, reason string
	run := func(op string) func(cmd *cobra.Command, args []string) error {
		return func(cmd *cobra.Command, args []string) error {
			id, err := parseId("settlement_id", args[0])
			if err != nil {
				return err
			}
			a, err := connect()
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			var s *models.PartnerSettlement
			switch op {
			case "approve":
				s, err = a.settlements.ApproveSettlement(ctx, id, actorId)
			case "process":
				s, err = a.settlements.ProcessSettlement(ctx, id, actorId, bankRef)
			case "complete":
				s, err = a.settlements.CompleteSettlement(ctx, id, actorId)
			case "cancel":
				s, err = a.settlements.CancelSettlement(ctx, id, actorId, reason)
			case "show":
				s, err = a.settlements.GetSettlement(ctx, id)
			}
			if err != nil {
				return err
			}
			return printJSON(s)
		}
	}

	for _, op := range []struct{ use, short string }{
		{"approve", "PENDING to APPROVED"},
		{"process", "APPROVED to PROCESSING, recording the bank reference"},
		{"complete", "PROCESSING to COMPLETED, posting the payout"},
		{"cancel", "Cancel a settlement that has not completed and release its escrow rows"},
		{"show", "Print a settlement with its line items and events"},
	} {
		sub := &cobra.Command{
			Use:   op.use + " <settlement-id>",
			Short: op.short,
			Args:  cobra.ExactArgs(1),
			RunE:  run(op.use),
		}
		switch op.use {
		case "process":
			sub.Flags().StringVar(&bankRef, "bank-ref", "", "bank transfer reference")
		case "cancel":
			sub.Flags().StringVar(&reason, "reason", "", "cancellation reason")
		}
		cmd.AddCommand(sub)
	}
	return cmd
}

func remitCmd() *cobra.Command {
	var transactionRef string
	cmd := &cobra.Command{
		Use:   "remit",
		Short: "Remit pending underwriter premiums",
		Long: `Without --transaction-ref, remits every pending escrow row in the period as one batch.
With it, remits that single row.`,
	}
	period := periodFlags(cmd)
	cmd.Flags().StringVar(&transactionRef, "transaction-ref", "", "remit a single escrow row")
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		a, err := connect()
		if err != nil {
			return err
		}
		ctx := commandContext(cmd)
		if transactionRef != "" {
			res, err := a.escrow.RemitSingle(ctx, transactionRef, actorId)
			if err != nil {
				return err
			}
			return printJSON(res)
		}
		start, end, err := period()
		if err != nil {
			return err
		}
		res, err := a.escrow.RemitPremiums(ctx, start, end.AddDate(0, 0, 1), actorId)
		if err != nil {
			return err
		}
		return printJSON(res)
	}
	return cmd
}
