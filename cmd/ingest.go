package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/database"
	"github.com/ahelp-tools/ahelp-stats/pkg/indexer"
	"github.com/ahelp-tools/ahelp-stats/pkg/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// IngestCmd loads downloaded relay logs into an archive.
var IngestCmd = &cobra.Command{
	Use:   "ingest [log-folder]",
	Short: "Index downloaded ahelp relay logs",
	Long: `Index a folder of downloaded ahelp relay logs into a searchable archive.

The folder should contain one JSON file per relay channel, as written by the
downloader (e.g. "ahelp-Титан [1234].json"). Relay embeds are split into one
message per inbox/outbox line. Files already indexed are skipped message by
message, so ingesting the same folder twice is safe.

Example:
  ahelp-stats ingest data --database august`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

var (
	ingestDatabase string
	ingestReset    bool
	ingestSince    string
)

func init() {
	IngestCmd.Flags().StringVarP(&ingestDatabase, "database", "d", "",
		"Archive name (default from config data.database)")
	IngestCmd.Flags().BoolVar(&ingestReset, "reset", false,
		"Remove every archived message before indexing")
	IngestCmd.Flags().StringVar(&ingestSince, "since", "",
		"Only index messages from this date on (YYYY-MM-DD)")
}

func runIngest(cmd *cobra.Command, args []string) error {
	sourceDir := cfg.Data.Folder
	if len(args) == 1 {
		sourceDir = args[0]
	}
	archive := cfg.Data.Database
	if ingestDatabase != "" {
		archive = ingestDatabase
	}

	// Validate source directory exists
	if info, err := os.Stat(sourceDir); err != nil || !info.IsDir() {
		return fmt.Errorf("source directory does not exist: %s", sourceDir)
	}

	var window models.Window
	if ingestSince != "" {
		since, err := time.Parse("2006-01-02", ingestSince)
		if err != nil {
			return fmt.Errorf("invalid --since date %q: %w", ingestSince, err)
		}
		window.From = since
	}

	fmt.Printf("Creating archive: %s\n", archive)

	db, err := database.NewDB(archive)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}

	idx := indexer.New(db, sourceDir, window, logger)
	defer idx.Close()

	if ingestReset || cfg.Data.ForceOverwrite {
		logger.Info("Resetting archive", zap.String("archive", archive))
		if err := db.Reset(); err != nil {
			return fmt.Errorf("failed to reset archive: %w", err)
		}
	}

	if err := idx.IndexFolder(); err != nil {
		return fmt.Errorf("failed to index logs: %w", err)
	}

	diag := idx.Diagnostics()
	logger.Info("Ingest finished",
		zap.String("archive", archive),
		zap.Int("files", idx.ProcessedFiles()),
		zap.Int("diagnostics", diag.Total()))

	fmt.Printf("\nArchive ready: %s\n", filepath.Join(database.Dir, db.Filename()))
	return nil
}
