package cmd

import (
	"fmt"
	"os"

	"github.com/ahelp-tools/ahelp-stats/pkg/ledger"
	"github.com/ahelp-tools/ahelp-stats/pkg/reconcile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// ReconcileCmd matches computed admins to the staff ledger and updates it.
var ReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Match admins to the Google Sheets ledger and update their ahelp counts",
	Long: `Match every admin found in the archive to a row of the staff ledger and
show the cells that would change. Nothing is written unless --apply is given.

Names are matched exactly first, then after normalization (case, accents,
markup), then by similarity above the configured threshold. Names that match
several rows are reported as ambiguous and left alone. Admins holding a key
role but missing from the ledger are listed for manual append.

Examples:
  ahelp-stats reconcile --days 30
  ahelp-stats reconcile --from 2025-08-01 --to 2025-08-31 --apply`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

var (
	applyUpdates bool
	threshold    float64
)

func init() {
	bindAnalysisFlags(ReconcileCmd)
	ReconcileCmd.Flags().BoolVar(&applyUpdates, "apply", false, "Write the updates to the ledger")
	ReconcileCmd.Flags().Float64Var(&threshold, "threshold", 0,
		"Minimum name similarity for a fuzzy match (default from config reconcile.threshold)")
}

func runReconcile(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("threshold") {
		cfg.Reconcile.Threshold = threshold
	}
	if err := applyAnalysisFlags(cmd); err != nil {
		return err
	}
	if len(cfg.Ledger.ServerColumns) == 0 && cfg.Reconcile.TotalColumn == "" {
		return fmt.Errorf("no ledger columns configured: set ledger.server_columns or reconcile.total_column")
	}

	ctx := cmd.Context()

	client, err := ledger.New(ctx, ledger.Config{
		CredentialsFile: cfg.Ledger.CredentialsFile,
		SpreadsheetID:   cfg.Ledger.SpreadsheetID,
		Worksheet:       cfg.Ledger.Worksheet,
		NameColumn:      cfg.Ledger.NameColumn,
		Columns:         ledger.Columns(cfg.Ledger.ServerColumns, cfg.Reconcile.TotalColumn),
		Retries:         cfg.Ledger.Retries,
		Timeout:         cfg.Ledger.Timeout,
	}, logger)
	if err != nil {
		return err
	}

	a, err := runAnalysis()
	if err != nil {
		return err
	}
	defer a.db.Close()

	rows, err := client.Rows(ctx)
	if err != nil {
		return err
	}

	result := reconcile.Reconcile(a.result.Global, rows, reconcile.Options{
		Threshold:     cfg.Reconcile.Threshold,
		ServerColumns: cfg.Ledger.ServerColumns,
		TotalColumn:   cfg.Reconcile.TotalColumn,
		KeyRoles:      cfg.Reconcile.KeyRoles,
		SkipZero:      cfg.Reconcile.SkipZero,
	})

	for _, m := range result.Matches {
		if m.Confidence == reconcile.Fuzzy {
			logger.Debug("Fuzzy ledger match",
				zap.String("admin", m.AdminID),
				zap.String("ledger", m.LedgerName),
				zap.Float64("score", m.Score))
		}
	}

	if err := ledger.Preview(os.Stdout, result); err != nil {
		return err
	}

	if !applyUpdates {
		fmt.Printf("\nDry run: %d cell(s) would be written. Re-run with --apply to update the ledger.\n",
			result.Plan.CellCount())
		return nil
	}

	updated, err := client.Apply(ctx, &result.Plan)
	if err != nil {
		return err
	}
	fmt.Printf("\nLedger updated: %d cell(s) written.\n", updated)
	return nil
}
