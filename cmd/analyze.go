package cmd

import (
	"fmt"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/database"
	"github.com/ahelp-tools/ahelp-stats/pkg/models"
	"github.com/ahelp-tools/ahelp-stats/pkg/report"
	"github.com/ahelp-tools/ahelp-stats/pkg/searcher"
	"github.com/ahelp-tools/ahelp-stats/pkg/stats"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// AnalyzeCmd computes ahelp statistics from an archive and writes the report.
var AnalyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compute ahelp statistics and write the Excel report",
	Long: `Reconstruct ahelp sessions from an archive, credit the admins who answered
them, and write the statistics workbook.

Examples:
  ahelp-stats analyze --database august --days 30
  ahelp-stats analyze --from 2025-08-01 --to 2025-08-31 --output august.xlsx
  ahelp-stats analyze --orphan-policy attach-previous --json stats.json`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

var (
	analysisDatabase string
	windowFrom       string
	windowTo         string
	windowDays       int
	workers          int
	orphanPolicy     string
	creditSelf       bool
	reportOutput     string
	reportJSON       string
	noChart          bool
	topAdmins        int
)

// bindAnalysisFlags adds the flags that select and tune an analysis run.
func bindAnalysisFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&analysisDatabase, "database", "d", "",
		"Archive name (default from config data.database)")
	cmd.Flags().StringVar(&windowFrom, "from", "", "First day to analyze (YYYY-MM-DD)")
	cmd.Flags().StringVar(&windowTo, "to", "", "Last day to analyze (YYYY-MM-DD)")
	cmd.Flags().IntVar(&windowDays, "days", 0, "Analyze the last N days when --from is not set")
	cmd.Flags().IntVar(&workers, "workers", 0, "Channels processed in parallel (default: CPU count)")
	cmd.Flags().StringVar(&orphanPolicy, "orphan-policy", "",
		"Responses without an open ahelp: drop or attach-previous")
	cmd.Flags().BoolVar(&creditSelf, "credit-self", false,
		"Credit admins who answer an ahelp they opened themselves")
}

func init() {
	bindAnalysisFlags(AnalyzeCmd)
	AnalyzeCmd.Flags().StringVarP(&reportOutput, "output", "o", "", "Workbook path (default from config report.output)")
	AnalyzeCmd.Flags().StringVar(&reportJSON, "json", "", "Also dump the statistics as JSON to this path")
	AnalyzeCmd.Flags().BoolVar(&noChart, "no-chart", false, "Do not embed the hourly chart")
	AnalyzeCmd.Flags().IntVar(&topAdmins, "top", 10, "Number of admins to print in the summary")
}

// applyAnalysisFlags copies explicitly set flags over the loaded config.
func applyAnalysisFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("database") {
		cfg.Data.Database = analysisDatabase
	}
	if flags.Changed("from") {
		cfg.Analysis.From = windowFrom
	}
	if flags.Changed("to") {
		cfg.Analysis.To = windowTo
	}
	if flags.Changed("days") {
		cfg.Analysis.Days = windowDays
	}
	if flags.Changed("workers") {
		cfg.Analysis.Workers = workers
	}
	if flags.Changed("orphan-policy") {
		cfg.Analysis.OrphanPolicy = orphanPolicy
	}
	if flags.Changed("credit-self") {
		cfg.Analysis.CreditSelfResponses = creditSelf
	}
	return cfg.Validate()
}

// analysis is the outcome of one engine run over an archive.
type analysis struct {
	db       *database.DB
	result   *stats.Statistics
	window   models.Window
	channels int
	servers  map[string]string
}

// runAnalysis loads every channel of the configured archive within the
// analysis window and runs the engine over them. The caller closes the archive.
func runAnalysis() (*analysis, error) {
	archive := cfg.Data.Database
	if !searcher.ValidateDatabaseExists(database.Dir, archive) {
		return nil, fmt.Errorf("archive not found: %s. Run 'ahelp-stats ingest' first or 'ahelp-stats list' to see available archives", archive)
	}

	from, to, err := cfg.Analysis.Window(time.Now())
	if err != nil {
		return nil, err
	}
	window := models.Window{From: from, To: to}

	sessionOpts, err := cfg.Analysis.SessionOptions()
	if err != nil {
		return nil, err
	}

	db, err := database.NewDB(archive)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	a, err := analyzeArchive(db, window, stats.Options{Session: sessionOpts, Workers: cfg.Analysis.Workers})
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func analyzeArchive(db *database.DB, window models.Window, opts stats.Options) (*analysis, error) {
	channels, err := db.ListChannels()
	if err != nil {
		return nil, err
	}

	logs := make([]stats.ChannelLog, 0, len(channels))
	for _, ch := range channels {
		messages, err := db.LoadChannel(ch.ID, window)
		if err != nil {
			// The engine counts a channel without messages as aborted
			logger.Warn("Failed to load channel", zap.String("channel", ch.ID), zap.Error(err))
			messages = nil
		}
		logs = append(logs, stats.ChannelLog{ChannelID: ch.ID, ServerID: ch.ServerID, Messages: messages})
	}

	roles, err := db.RoleLookup()
	if err != nil {
		return nil, err
	}
	opts.Roles = roles

	servers, err := db.ServerNames()
	if err != nil {
		return nil, err
	}

	logger.Info("Analyzing archive",
		zap.String("archive", db.Filename()),
		zap.Int("channels", len(logs)),
		zap.Time("from", window.From),
		zap.Time("to", window.To))

	return &analysis{
		db:       db,
		result:   stats.NewEngine(opts, logger).Run(logs),
		window:   window,
		channels: len(logs),
		servers:  servers,
	}, nil
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if err := applyAnalysisFlags(cmd); err != nil {
		return err
	}
	if cmd.Flags().Changed("output") {
		cfg.Report.Output = reportOutput
	}
	if cmd.Flags().Changed("json") {
		cfg.Report.JSON = reportJSON
	}
	if noChart {
		cfg.Report.Chart = false
	}

	startedAt := time.Now()
	a, err := runAnalysis()
	if err != nil {
		return err
	}
	defer a.db.Close()

	if err := report.Write(a.result, cfg.Report.Output, report.Options{
		ServerNames: a.servers,
		KeyRoles:    cfg.Reconcile.KeyRoles,
		Chart:       cfg.Report.Chart,
		Logger:      logger,
	}); err != nil {
		return err
	}
	fmt.Printf("Report written: %s\n", cfg.Report.Output)

	if cfg.Report.JSON != "" {
		if err := report.WriteJSON(a.result, cfg.Report.JSON); err != nil {
			return err
		}
		fmt.Printf("Statistics written: %s\n", cfg.Report.JSON)
	}

	run := &models.Run{
		StartedAt:   startedAt,
		From:        a.window.From,
		To:          a.window.To,
		Channels:    a.channels,
		Sessions:    a.result.Totals.Sessions,
		Answered:    a.result.Totals.Answered,
		Admins:      len(a.result.Global),
		Diagnostics: make(map[string]int),
	}
	for kind, n := range a.result.Diagnostics.Counts {
		run.Diagnostics[string(kind)] = n
	}
	if _, err := a.db.SaveRun(run); err != nil {
		logger.Warn("Failed to record run", zap.Error(err))
	}

	printSummary(a)
	return nil
}

func printSummary(a *analysis) {
	totals := a.result.Totals
	fmt.Printf("\nAnalysis complete!\n")
	fmt.Printf("- Channels: %d\n", a.channels)
	fmt.Printf("- Ahelps: %d (answered %d, unanswered %d)\n", totals.Sessions, totals.Answered, totals.Unanswered())
	fmt.Printf("- Messages: %d\n", totals.Messages)
	fmt.Printf("- Admins: %d\n", len(a.result.Global))
	if a.result.Diagnostics.Total() > 0 {
		fmt.Printf("- Diagnostics: %s\n", a.result.Diagnostics.String())
	}

	if len(a.result.Global) == 0 || topAdmins <= 0 {
		return
	}

	fmt.Printf("\nTop admins:\n")
	for i, g := range a.result.Global {
		if i == topAdmins {
			break
		}
		fmt.Printf("%3d. %-24s %5d ahelps  %4d mentions\n", i+1, g.DisplayName, g.AhelpsAnswered, g.Mentions)
	}
}
