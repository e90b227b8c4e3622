package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/premium_ledger/utils"
	"bitbucket.org/mmdatafocus/premium_ledger/workflow"
	"github.com/spf13/cobra"
)

// statementColumns maps accepted header names to StatementLine fields.
var statementColumns = map[string]string{
	"reference":          "reference",
	"external_reference": "reference",
	"transaction_id":     "reference",
	"amount":             "amount",
	"value_date":         "value_date",
	"date":               "value_date",
	"msisdn":             "msisdn",
	"payer_msisdn":       "msisdn",
	"narrative":          "narrative",
	"description":        "narrative",
}

// parseStatementCSV reads a statement export with a header row. amount, value_date and one
// of the reference columns are required; value_date accepts YYYY-MM-DD or RFC 3339.
func parseStatementCSV(r io.Reader) ([]workflow.StatementLine, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, utils.NewValidationError("statement", "file is empty")
		}
		return nil, fmt.Errorf("read statement header: %w", err)
	}
	index := make(map[string]int)
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if field, ok := statementColumns[key]; ok {
			if _, seen := index[field]; !seen {
				index[field] = i
			}
		}
	}
	for _, required := range []string{"reference", "amount", "value_date"} {
		if _, ok := index[required]; !ok {
			return nil, utils.NewValidationError("statement", "missing %s column", required)
		}
	}

	cell := func(record []string, field string) string {
		i, ok := index[field]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var lines []workflow.StatementLine
	for row := 2; ; row++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read statement row %d: %w", row, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}

		amount, err := strconv.ParseInt(strings.ReplaceAll(cell(record, "amount"), ",", ""), 10, 64)
		if err != nil {
			return nil, utils.NewValidationError("amount", "row %d: %q is not a whole amount", row, cell(record, "amount"))
		}
		valueDate, err := parseValueDate(cell(record, "value_date"))
		if err != nil {
			return nil, utils.NewValidationError("value_date", "row %d: %q is not a date", row, cell(record, "value_date"))
		}
		lines = append(lines, workflow.StatementLine{
			ExternalReference: cell(record, "reference"),
			Amount:            amount,
			ValueDate:         valueDate,
			PayerMsisdn:       cell(record, "msisdn"),
			Narrative:         cell(record, "narrative"),
		})
	}
	return lines, nil
}

func parseValueDate(raw string) (time.Time, error) {
	if t, err := time.ParseInLocation(dateLayout, raw, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile <statement.csv>",
		Short: "Match a bank or mobile-money statement against the ledger",
		Args:  cobra.ExactArgs(1),
	}
	period := periodFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		start, end, err := period()
		if err != nil {
			return err
		}
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		lines, err := parseStatementCSV(f)
		if err != nil {
			return err
		}

		a, err := connect()
		if err != nil {
			return err
		}
		run, err := a.recon.ReconcileStatement(commandContext(cmd), filepath.Base(args[0]), lines, start, end, actorId)
		if err != nil {
			return err
		}
		return printJSON(run)
	}
	return cmd
}

func resolveItemCmd() *cobra.Command {
	var reason string
	var entryId int
	cmd := &cobra.Command{
		Use:   "resolve-item <run-id> <item-id>",
		Short: "Close an unmatched statement line after manual review",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			runId, err := parseId("run_id", args[0])
			if err != nil {
				return err
			}
			itemId, err := parseId("item_id", args[1])
			if err != nil {
				return err
			}
			req := workflow.ResolveRequest{RunId: runId, ItemId: itemId, Reason: reason, ActorId: actorId}
			if entryId > 0 {
				req.JournalEntryId = &entryId
			}
			a, err := connect()
			if err != nil {
				return err
			}
			run, err := a.recon.ResolveItem(commandContext(cmd), req)
			if err != nil {
				return err
			}
			return printJSON(run)
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the item is closed (required)")
	cmd.Flags().IntVar(&entryId, "journal-entry", 0, "journal entry the line corresponds to, when found by hand")
	return cmd
}
