package cmd

import (
	"fmt"

	"github.com/ahelp-tools/ahelp-stats/pkg/database"
	"github.com/ahelp-tools/ahelp-stats/pkg/searcher"
	"github.com/spf13/cobra"
)

// SearchCmd runs a full-text query over an archive.
var SearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search relay messages in an archive",
	Long: `Search for relay messages in an archive using full-text search.

The search supports SQLite FTS4 syntax including quoted phrases,
boolean operators (AND, OR, NOT), and prefix matching.

Examples:
  ahelp-stats search "shuttle" --database august
  ahelp-stats search "author_name:alice" --database august
  ahelp-stats search "ban* OR kick*" --database august`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

// ListCmd lists the archives available for search and analysis.
var ListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available archives",
	Long:  `List all available archives that can be searched or analyzed.`,
	Args:  cobra.NoArgs,
	RunE:  runList,
}

// HistoryCmd shows the analysis runs recorded in an archive.
var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recorded analysis runs",
	Args:  cobra.NoArgs,
	RunE:  runHistory,
}

var (
	databaseName string
	searchLimit  int
	showStats    bool
	historyLimit int
)

func init() {
	SearchCmd.Flags().StringVarP(&databaseName, "database", "d", "",
		"Archive name to search in (default from config data.database)")
	SearchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 10,
		"Maximum number of results to return")
	SearchCmd.Flags().BoolVar(&showStats, "stats", false,
		"Show archive statistics")

	HistoryCmd.Flags().StringVarP(&databaseName, "database", "d", "",
		"Archive name (default from config data.database)")
	HistoryCmd.Flags().IntVarP(&historyLimit, "limit", "l", 10,
		"Maximum number of runs to show")
}

func openSearcher() (*searcher.Searcher, string, error) {
	name := databaseName
	if name == "" {
		name = cfg.Data.Database
	}

	if !searcher.ValidateDatabaseExists(database.Dir, name) {
		return nil, name, fmt.Errorf("archive not found: %s. Run 'ahelp-stats list' to see available archives", name)
	}

	search, err := searcher.NewSearcher(name)
	if err != nil {
		return nil, name, fmt.Errorf("failed to open archive: %w", err)
	}
	return search, name, nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]

	search, name, err := openSearcher()
	if err != nil {
		return err
	}
	defer search.Close()

	if showStats {
		stats, err := search.GetStats()
		if err != nil {
			return fmt.Errorf("failed to get stats: %w", err)
		}

		fmt.Printf("Archive: %s\n", name)
		fmt.Printf("- Servers: %d\n", stats["servers"])
		fmt.Printf("- Channels: %d\n", stats["channels"])
		fmt.Printf("- Messages: %d\n", stats["messages"])
		fmt.Printf("- Analysis runs: %d\n\n", stats["runs"])
	}

	fmt.Printf("Searching for: %s\n", query)
	fmt.Printf("Archive: %s\n", name)
	fmt.Printf("Limit: %d\n\n", searchLimit)

	results, err := search.Search(query, searchLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	servers, err := search.ServerNames()
	if err != nil {
		return err
	}

	fmt.Print(searcher.FormatResults(results, servers))
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	databases, err := searcher.ListDatabases(database.Dir)
	if err != nil {
		return fmt.Errorf("failed to list databases: %w", err)
	}

	if len(databases) == 0 {
		fmt.Println("No archives found. Use the 'ingest' command to create one first.")
		return nil
	}

	fmt.Printf("Available archives (%d):\n\n", len(databases))
	for _, db := range databases {
		fmt.Printf("  %s\n", db)
	}

	fmt.Printf("\nUse 'ahelp-stats analyze --database <name>' to compute statistics.\n")
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	search, _, err := openSearcher()
	if err != nil {
		return err
	}
	defer search.Close()

	runs, err := search.RecentRuns(historyLimit)
	if err != nil {
		return fmt.Errorf("failed to read runs: %w", err)
	}

	fmt.Print(searcher.FormatRuns(runs))
	return nil
}
