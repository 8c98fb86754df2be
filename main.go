package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ahelp-tools/ahelp-stats/cmd"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "ahelp-stats",
	Short: "Ahelp session statistics for game server admins",
	Long: `A tool to archive ahelp relay logs, reconstruct help sessions, and
report which admins answered them.

It ingests the relay channel logs into a searchable archive, computes
per-admin and per-server statistics into an Excel workbook, and can sync
the counts into the staff ledger kept in Google Sheets.

Commands:
  ingest [folder]  Index downloaded relay logs into an archive
  analyze          Compute statistics and write the report
  reconcile        Match admins to the ledger and update it
  search <query>   Search relay messages in an archive
  list             List available archives
  history          Show recorded analysis runs`,
	SilenceUsage:      true,
	PersistentPreRunE: cmd.Setup,
	PersistentPostRun: cmd.Teardown,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// Version needs no config or logger
	PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ahelp-stats %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Date: %s\n", date)
	},
}

func init() {
	cmd.BindPersistentFlags(rootCmd)

	rootCmd.AddCommand(cmd.IngestCmd)
	rootCmd.AddCommand(cmd.AnalyzeCmd)
	rootCmd.AddCommand(cmd.ReconcileCmd)
	rootCmd.AddCommand(cmd.SearchCmd)
	rootCmd.AddCommand(cmd.ListCmd)
	rootCmd.AddCommand(cmd.HistoryCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Printf("Error: %v", err)
		stop()
		os.Exit(1)
	}
}
