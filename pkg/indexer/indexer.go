package indexer

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ahelp-tools/ahelp-stats/pkg/database"
	"github.com/ahelp-tools/ahelp-stats/pkg/diagnostics"
	"github.com/ahelp-tools/ahelp-stats/pkg/models"
	"go.uber.org/zap"
)

// Indexer loads downloaded relay logs into the archive.
type Indexer struct {
	db             *database.DB
	sourceDir      string
	window         models.Window
	logger         *zap.Logger
	totalFiles     int
	processedFiles int
	skipped        int
	diag           diagnostics.Summary
}

// NewIndexer creates a new indexer writing into the named archive
func NewIndexer(sourceDir, archive string, window models.Window, logger *zap.Logger) (*Indexer, error) {
	db, err := database.NewDB(archive)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return New(db, sourceDir, window, logger), nil
}

// New creates an indexer on an open archive.
func New(db *database.DB, sourceDir string, window models.Window, logger *zap.Logger) *Indexer {
	return &Indexer{
		db:        db,
		sourceDir: sourceDir,
		window:    window,
		logger:    logger.Named("indexer"),
	}
}

// Close closes the indexer and database connection
func (idx *Indexer) Close() error {
	return idx.db.Close()
}

// Diagnostics returns the problems found in the source records.
func (idx *Indexer) Diagnostics() diagnostics.Summary {
	return idx.diag
}

// ProcessedFiles returns the number of log files loaded.
func (idx *Indexer) ProcessedFiles() int {
	return idx.processedFiles
}

// IndexFolder indexes every relay log file in the source folder
func (idx *Indexer) IndexFolder() error {
	fmt.Printf("Indexing relay logs from: %s\n", idx.sourceDir)

	if err := idx.processLogFiles(idx.sourceDir); err != nil {
		return fmt.Errorf("failed to process log files: %w", err)
	}

	stats, err := idx.db.GetStats()
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	fmt.Printf("Indexing complete!\n")
	fmt.Printf("- Servers: %d\n", stats["servers"])
	fmt.Printf("- Channels: %d\n", stats["channels"])
	fmt.Printf("- Messages: %d\n", stats["messages"])
	fmt.Printf("- Admin roles: %d\n", stats["admin_roles"])
	fmt.Printf("- Files processed: %d\n", idx.processedFiles)
	if idx.skipped > 0 {
		fmt.Printf("- Outside window: %d\n", idx.skipped)
	}
	if idx.diag.Total() > 0 {
		fmt.Printf("- Diagnostics: %s\n", idx.diag.String())
	}

	return nil
}

// processLogFiles processes all JSON log files under dir
func (idx *Indexer) processLogFiles(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".json") {
			idx.totalFiles++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to count files: %w", err)
	}

	fmt.Printf("Processing %d log files...\n", idx.totalFiles)

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}

		filename := filepath.Base(path)
		if err := idx.processLogFile(path); err != nil {
			fmt.Printf("Warning: failed to process %s: %v\n", filename, err)
			idx.logger.Warn("Failed to process log file", zap.String("file", filename), zap.Error(err))
			return nil
		}

		idx.processedFiles++
		if idx.processedFiles%10 == 0 {
			fmt.Printf("Processed %d/%d files...\n", idx.processedFiles, idx.totalFiles)
		}
		return nil
	})
}

// processLogFile loads one relay channel log
func (idx *Indexer) processLogFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	records, malformed, err := DecodeRecords(data)
	if err != nil {
		return err
	}
	idx.diag.Add(diagnostics.MalformedMessage, malformed)

	filename := filepath.Base(path)
	serverName := ServerNameFromFile(path)
	server := &models.Server{ID: strings.ToLower(serverName), Name: serverName}
	channel := &models.Channel{
		ID:       ChannelIDFromFile(server.ID, path),
		ServerID: server.ID,
		Name:     strings.TrimSuffix(filename, filepath.Ext(filename)),
		Source:   filename,
	}

	if err := idx.db.InsertServer(server); err != nil {
		return fmt.Errorf("failed to insert server %s: %w", server.ID, err)
	}
	if err := idx.db.InsertChannel(channel); err != nil {
		return fmt.Errorf("failed to insert channel %s: %w", channel.ID, err)
	}

	var (
		messages []models.Message
		roles    []models.AdminRole
	)
	for i := range records {
		expanded, err := Expand(&records[i], channel.ID, server.ID, filename)
		if err != nil {
			idx.diag.Inc(diagnostics.MalformedMessage)
			idx.logger.Debug("Skipping malformed record",
				zap.String("file", filename),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}

		for _, msg := range expanded.Messages {
			if !idx.window.Contains(msg.Timestamp) {
				idx.skipped++
				continue
			}
			messages = append(messages, msg)
		}
		roles = append(roles, expanded.Roles...)
	}

	inserted, err := idx.db.InsertMessages(messages)
	if err != nil {
		return fmt.Errorf("failed to insert messages: %w", err)
	}
	if err := idx.db.InsertAdminRoles(roles); err != nil {
		return fmt.Errorf("failed to insert admin roles: %w", err)
	}

	idx.logger.Debug("Indexed log file",
		zap.String("file", filename),
		zap.String("server", server.ID),
		zap.Int("records", len(records)),
		zap.Int("inserted", inserted))

	return nil
}
