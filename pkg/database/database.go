package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/models"
	"github.com/bytedance/sonic"
	"github.com/disgoorg/snowflake/v2"

	_ "github.com/mattn/go-sqlite3"
)

// Dir is the directory holding every archive.
const Dir = "databases"

type DB struct {
	conn     *sql.DB
	filename string
}

// NewDB opens (or creates) the archive databases/<name>.db
func NewDB(name string) (*DB, error) {
	return Open(Dir, name)
}

// Open opens (or creates) the archive <dir>/<name>.db
func Open(dir, name string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	filename := SanitizeFilename(name) + ".db"
	dbPath := filepath.Join(dir, filename)

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{
		conn:     conn,
		filename: filename,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Filename returns the archive file name
func (db *DB) Filename() string {
	return db.filename
}

// SanitizeFilename removes problematic characters from archive names
func SanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		":", "_",
		"/", "_",
		"\\", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	return replacer.Replace(name)
}

// createTables creates the necessary tables and FTS index
func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS servers (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			server_id TEXT NOT NULL,
			name TEXT NOT NULL,
			source TEXT,
			FOREIGN KEY (server_id) REFERENCES servers (id)
		)`,

		// One row per normalized message; relay embeds expand into several rows sharing source_id
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id TEXT NOT NULL,
			seq INTEGER NOT NULL DEFAULT 0,
			channel_id TEXT NOT NULL,
			server_id TEXT NOT NULL,
			author_id TEXT,
			author_name TEXT,
			body TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			mentions TEXT,
			admin_only BOOLEAN DEFAULT FALSE,
			reactions TEXT,
			filename TEXT,
			UNIQUE (channel_id, source_id, seq),
			FOREIGN KEY (channel_id) REFERENCES channels (id)
		)`,

		`CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts4(
			body,
			author_name,
			server_id,
			filename
		)`,

		`CREATE TRIGGER IF NOT EXISTS messages_fts_insert AFTER INSERT ON messages BEGIN
			INSERT INTO messages_fts(rowid, body, author_name, server_id, filename)
			VALUES (new.id, new.body, COALESCE(new.author_name, ''), new.server_id, COALESCE(new.filename, ''));
		END`,

		`CREATE TRIGGER IF NOT EXISTS messages_fts_delete AFTER DELETE ON messages BEGIN
			DELETE FROM messages_fts WHERE rowid = old.id;
		END`,

		`CREATE TRIGGER IF NOT EXISTS messages_fts_update AFTER UPDATE ON messages BEGIN
			DELETE FROM messages_fts WHERE rowid = old.id;
			INSERT INTO messages_fts(rowid, body, author_name, server_id, filename)
			VALUES (new.id, new.body, COALESCE(new.author_name, ''), new.server_id, COALESCE(new.filename, ''));
		END`,

		`CREATE TABLE IF NOT EXISTS admin_roles (
			admin_id TEXT NOT NULL,
			server_id TEXT NOT NULL,
			role TEXT NOT NULL,
			PRIMARY KEY (admin_id, server_id, role)
		)`,

		`CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at INTEGER NOT NULL,
			window_from INTEGER,
			window_to INTEGER,
			channels INTEGER,
			sessions INTEGER,
			answered INTEGER,
			admins INTEGER,
			diagnostics TEXT
		)`,

		`CREATE INDEX IF NOT EXISTS idx_messages_channel_time ON messages(channel_id, timestamp, id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_author_id ON messages(author_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_filename ON messages(filename)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query: %s: %w", query, err)
		}
	}

	return nil
}

// Reset removes every archived row, keeping the schema
func (db *DB) Reset() error {
	tables := []string{"messages", "channels", "servers", "admin_roles", "runs"}
	for _, table := range tables {
		if _, err := db.conn.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// InsertServer inserts a server into the database
func (db *DB) InsertServer(server *models.Server) error {
	query := `INSERT INTO servers (id, name) VALUES (?, ?)
			  ON CONFLICT(id) DO UPDATE SET name = excluded.name`

	_, err := db.conn.Exec(query, server.ID, server.Name)
	return err
}

// InsertChannel inserts a channel into the database
func (db *DB) InsertChannel(channel *models.Channel) error {
	// Upsert keeps archived messages referencing the channel intact
	query := `INSERT INTO channels (id, server_id, name, source)
			  VALUES (?, ?, ?, ?)
			  ON CONFLICT(id) DO UPDATE SET server_id = excluded.server_id, name = excluded.name, source = excluded.source`

	_, err := db.conn.Exec(query, channel.ID, channel.ServerID, channel.Name, channel.Source)
	return err
}

// InsertMessages inserts messages in one transaction. Messages already
// archived are skipped. It returns the number of new rows.
func (db *DB) InsertMessages(messages []models.Message) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR IGNORE INTO messages
		(source_id, seq, channel_id, server_id, author_id, author_name, body, timestamp, mentions, admin_only, reactions, filename)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	inserted := 0
	for i := range messages {
		m := &messages[i]

		mentions, err := encodeJSON(m.Mentions)
		if err != nil {
			return 0, fmt.Errorf("failed to encode mentions: %w", err)
		}
		reactions, err := encodeJSON(m.Reactions)
		if err != nil {
			return 0, fmt.Errorf("failed to encode reactions: %w", err)
		}

		res, err := stmt.Exec(m.ID.String(), m.Seq, m.ChannelID, m.ServerID, m.AuthorID, m.AuthorName,
			m.Body, m.Timestamp.UTC().UnixMilli(), mentions, m.AdminOnly, reactions, m.Filename)
		if err != nil {
			return 0, fmt.Errorf("failed to insert message %s: %w", m.ID, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit messages: %w", err)
	}
	return inserted, nil
}

// InsertAdminRoles records role labels seen for admins
func (db *DB) InsertAdminRoles(roles []models.AdminRole) error {
	if len(roles) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, r := range roles {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO admin_roles (admin_id, server_id, role) VALUES (?, ?, ?)`,
			r.AdminID, r.ServerID, r.Role); err != nil {
			return fmt.Errorf("failed to insert role %s for %s: %w", r.Role, r.AdminID, err)
		}
	}

	return tx.Commit()
}

// ListChannels returns every archived channel ordered by id
func (db *DB) ListChannels() ([]models.Channel, error) {
	rows, err := db.conn.Query(`SELECT id, server_id, name, COALESCE(source, '') FROM channels ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	var channels []models.Channel
	for rows.Next() {
		var c models.Channel
		if err := rows.Scan(&c.ID, &c.ServerID, &c.Name, &c.Source); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, c)
	}
	return channels, rows.Err()
}

// ServerNames maps server ids to their display names
func (db *DB) ServerNames() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, name FROM servers`)
	if err != nil {
		return nil, fmt.Errorf("failed to list servers: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan server: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}

const messageColumns = `m.source_id, m.seq, m.channel_id, m.server_id, COALESCE(m.author_id, ''),
	COALESCE(m.author_name, ''), m.body, m.timestamp, COALESCE(m.mentions, ''), m.admin_only,
	COALESCE(m.reactions, ''), COALESCE(m.filename, '')`

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner, m *models.Message, extra ...any) error {
	var sourceID, mentions, reactions string
	var ts int64

	dest := []any{&sourceID, &m.Seq, &m.ChannelID, &m.ServerID, &m.AuthorID,
		&m.AuthorName, &m.Body, &ts, &mentions, &m.AdminOnly, &reactions, &m.Filename}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return err
	}

	if sourceID != "" {
		id, err := snowflake.Parse(sourceID)
		if err != nil {
			return fmt.Errorf("invalid source id %q: %w", sourceID, err)
		}
		m.ID = id
	}
	m.Timestamp = time.UnixMilli(ts).UTC()

	if mentions != "" {
		if err := sonic.UnmarshalString(mentions, &m.Mentions); err != nil {
			return fmt.Errorf("invalid mentions: %w", err)
		}
	}
	if reactions != "" {
		if err := sonic.UnmarshalString(reactions, &m.Reactions); err != nil {
			return fmt.Errorf("invalid reactions: %w", err)
		}
	}
	return nil
}

// LoadChannel returns the channel's messages inside window, ordered by
// timestamp and then archive order.
func (db *DB) LoadChannel(channelID string, window models.Window) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages m WHERE m.channel_id = ?`
	args := []any{channelID}

	if !window.From.IsZero() {
		query += ` AND m.timestamp >= ?`
		args = append(args, window.From.UTC().UnixMilli())
	}
	if !window.To.IsZero() {
		query += ` AND m.timestamp <= ?`
		args = append(args, window.To.UTC().UnixMilli())
	}
	query += ` ORDER BY m.timestamp, m.id`

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel %s: %w", channelID, err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := scanMessage(rows, &m); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// RoleLookup loads every admin role and returns a lookup function that is
// safe for concurrent use.
func (db *DB) RoleLookup() (func(adminID, serverID string) []string, error) {
	rows, err := db.conn.Query(`SELECT admin_id, server_id, role FROM admin_roles ORDER BY admin_id, server_id, role`)
	if err != nil {
		return nil, fmt.Errorf("failed to load admin roles: %w", err)
	}
	defer rows.Close()

	roles := make(map[[2]string][]string)
	for rows.Next() {
		var r models.AdminRole
		if err := rows.Scan(&r.AdminID, &r.ServerID, &r.Role); err != nil {
			return nil, fmt.Errorf("failed to scan admin role: %w", err)
		}
		key := [2]string{r.AdminID, r.ServerID}
		roles[key] = append(roles[key], r.Role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return func(adminID, serverID string) []string {
		return roles[[2]string{adminID, serverID}]
	}, nil
}

// SaveRun records an analysis run and returns its id
func (db *DB) SaveRun(run *models.Run) (int64, error) {
	diagnostics, err := encodeJSON(run.Diagnostics)
	if err != nil {
		return 0, fmt.Errorf("failed to encode diagnostics: %w", err)
	}

	res, err := db.conn.Exec(`INSERT INTO runs
		(started_at, window_from, window_to, channels, sessions, answered, admins, diagnostics)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.StartedAt.UTC().UnixMilli(), unixMilli(run.From), unixMilli(run.To),
		run.Channels, run.Sessions, run.Answered, run.Admins, diagnostics)
	if err != nil {
		return 0, fmt.Errorf("failed to save run: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get run id: %w", err)
	}
	run.ID = id
	return id, nil
}

// RecentRuns returns up to limit runs, newest first
func (db *DB) RecentRuns(limit int) ([]models.Run, error) {
	rows, err := db.conn.Query(`SELECT id, started_at, COALESCE(window_from, 0), COALESCE(window_to, 0),
		channels, sessions, answered, admins, COALESCE(diagnostics, '')
		FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		var r models.Run
		var started, from, to int64
		var diagnostics string
		if err := rows.Scan(&r.ID, &started, &from, &to, &r.Channels, &r.Sessions, &r.Answered, &r.Admins, &diagnostics); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.From = fromUnixMilli(from)
		r.To = fromUnixMilli(to)
		if diagnostics != "" {
			if err := sonic.UnmarshalString(diagnostics, &r.Diagnostics); err != nil {
				return nil, fmt.Errorf("invalid run diagnostics: %w", err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// SearchMessages performs full-text search on archived messages
func (db *DB) SearchMessages(query string, limit int) ([]*models.SearchResult, error) {
	sqlQuery := `
		SELECT ` + messageColumns + `,
			0.0 as rank,
			snippet(messages_fts, '<mark>', '</mark>', '...', -1, 32) as snippet
		FROM messages_fts fts
		JOIN messages m ON m.id = fts.rowid
		WHERE messages_fts MATCH ?
		ORDER BY m.timestamp
		LIMIT ?`

	rows, err := db.conn.Query(sqlQuery, query, limit)
	if err != nil {
		return nil, fmt.Errorf("search query failed: %w", err)
	}
	defer rows.Close()

	var results []*models.SearchResult
	for rows.Next() {
		result := &models.SearchResult{}
		if err := scanMessage(rows, &result.Message, &result.Rank, &result.Snippet); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		results = append(results, result)
	}

	return results, rows.Err()
}

// GetStats returns basic statistics about the database
func (db *DB) GetStats() (map[string]int, error) {
	stats := make(map[string]int)

	queries := map[string]string{
		"servers":     "SELECT COUNT(*) FROM servers",
		"channels":    "SELECT COUNT(*) FROM channels",
		"messages":    "SELECT COUNT(*) FROM messages",
		"admin_roles": "SELECT COUNT(*) FROM admin_roles",
		"runs":        "SELECT COUNT(*) FROM runs",
	}

	for key, query := range queries {
		var count int
		err := db.conn.QueryRow(query).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("failed to get %s count: %w", key, err)
		}
		stats[key] = count
	}

	return stats, nil
}

func encodeJSON(v any) (string, error) {
	switch x := v.(type) {
	case []string:
		if len(x) == 0 {
			return "", nil
		}
	case []models.Reaction:
		if len(x) == 0 {
			return "", nil
		}
	case map[string]int:
		if len(x) == 0 {
			return "", nil
		}
	}
	return sonic.MarshalString(v)
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromUnixMilli(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
