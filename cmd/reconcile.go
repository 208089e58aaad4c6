package main

import (
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/corpus-cli/internal/pipeline"
)

var reconcileJSON bool

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Report annotation progress and ledger consistency",
	Long:  "Recomputes the completed set from the success and failure ledgers and compares it with the candidate ledger. Nothing is written.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		ledgers, closeLedgers, err := openLedgers()
		if err != nil {
			return err
		}
		defer closeLedgers()

		rep, err := pipeline.Reconcile(cmd.Context(), ledgers)
		if err != nil {
			return err
		}
		if reconcileJSON {
			return writeJSON(cmd.OutOrStdout(), rep)
		}
		return renderReport(cmd.OutOrStdout(), rep)
	},
}

func init() {
	reconcileCmd.Flags().BoolVar(&reconcileJSON, "json", false, "print the report as JSON")
	rootCmd.AddCommand(reconcileCmd)
}

// renderReport writes rep as a two-column table.
func renderReport(w io.Writer, rep pipeline.Report) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
			Header: tw.CellConfig{
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
		}),
	)
	table.Header("Metric", "Value")

	count := func(n int64) string { return strconv.FormatInt(n, 10) }
	rows := [][]string{
		{"candidate lines", count(rep.CandidateLines)},
		{"distinct candidates", count(rep.Distinct)},
		{"duplicate candidates", count(rep.Duplicates)},
		{"already completed", count(rep.AlreadyCompleted)},
		{"remaining", count(rep.Remaining)},
		{"ledger completed", count(rep.LedgerCompleted)},
		{"success entries", count(rep.SuccessEntries)},
		{"failure entries", count(rep.FailureEntries)},
		{"skipped malformed", count(rep.Skipped)},
		{"consistent", strconv.FormatBool(rep.Consistent)},
	}
	if err := table.Bulk(rows); err != nil {
		return eris.Wrap(err, "render report")
	}
	return eris.Wrap(table.Render(), "render report")
}
