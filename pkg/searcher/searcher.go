package searcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/database"
	"github.com/ahelp-tools/ahelp-stats/pkg/models"
)

const maxMessageRunes = 500

type Searcher struct {
	db *database.DB
}

// NewSearcher creates a new searcher for a named archive
func NewSearcher(archive string) (*Searcher, error) {
	db, err := database.NewDB(archive)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return New(db), nil
}

// New creates a searcher on an open archive.
func New(db *database.DB) *Searcher {
	return &Searcher{db: db}
}

// Close closes the searcher and database connection
func (s *Searcher) Close() error {
	return s.db.Close()
}

// Search performs a full-text search over relay messages
func (s *Searcher) Search(query string, limit int) ([]*models.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	return s.db.SearchMessages(query, limit)
}

// GetStats returns database statistics
func (s *Searcher) GetStats() (map[string]int, error) {
	return s.db.GetStats()
}

// RecentRuns returns the latest recorded analysis runs
func (s *Searcher) RecentRuns(limit int) ([]models.Run, error) {
	return s.db.RecentRuns(limit)
}

// ServerNames maps server ids to display names
func (s *Searcher) ServerNames() (map[string]string, error) {
	return s.db.ServerNames()
}

// FormatResults formats search results for display. servers maps server ids
// to display names and may be nil.
func FormatResults(results []*models.SearchResult, servers map[string]string) string {
	if len(results) == 0 {
		return "No results found."
	}

	var output strings.Builder

	output.WriteString(fmt.Sprintf("Found %d result(s):\n\n", len(results)))

	for i, result := range results {
		date := result.Timestamp.UTC().Format("2006-01-02 15:04:05")

		author := result.AuthorName
		if author == "" {
			author = result.AuthorID
		}
		if author == "" {
			author = "(unknown)"
		}

		server := result.ServerID
		if name, ok := servers[server]; ok && name != "" {
			server = name
		}

		output.WriteString(fmt.Sprintf("--- Result %d ---\n", i+1))
		output.WriteString(fmt.Sprintf("Server: %s\n", server))
		output.WriteString(fmt.Sprintf("Author: %s\n", author))
		output.WriteString(fmt.Sprintf("Date: %s\n", date))
		if result.AdminOnly {
			output.WriteString("Staff only: yes\n")
		}
		output.WriteString(fmt.Sprintf("File: %s\n", result.Filename))

		text := result.Body
		if result.Snippet != "" {
			text = result.Snippet
		}

		text = strings.ReplaceAll(text, "\n", " ")
		if runes := []rune(text); len(runes) > maxMessageRunes {
			text = string(runes[:maxMessageRunes-3]) + "..."
		}

		output.WriteString(fmt.Sprintf("Message: %s\n\n", text))
	}

	return output.String()
}

// FormatRuns formats recorded analysis runs for display
func FormatRuns(runs []models.Run) string {
	if len(runs) == 0 {
		return "No analysis runs recorded."
	}

	var output strings.Builder
	for _, run := range runs {
		output.WriteString(fmt.Sprintf("#%d %s  window %s..%s  channels=%d sessions=%d answered=%d admins=%d\n",
			run.ID,
			run.StartedAt.UTC().Format("2006-01-02 15:04"),
			formatBound(run.From),
			formatBound(run.To),
			run.Channels, run.Sessions, run.Answered, run.Admins))
	}
	return output.String()
}

func formatBound(t time.Time) string {
	if t.IsZero() {
		return "*"
	}
	return t.UTC().Format("2006-01-02")
}

// ValidateDatabaseExists checks if an archive exists in dir
func ValidateDatabaseExists(dir, archive string) bool {
	dbPath := filepath.Join(dir, database.SanitizeFilename(archive)+".db")
	return fileExists(dbPath)
}

// ListDatabases lists all archive names in dir
func ListDatabases(dir string) ([]string, error) {
	pattern := filepath.Join(dir, "*.db")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}

	var databases []string
	for _, match := range matches {
		base := filepath.Base(match)
		databases = append(databases, strings.TrimSuffix(base, ".db"))
	}

	return databases, nil
}

// fileExists checks if a regular file exists
func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	return err == nil && !info.IsDir()
}
