package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/session"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("config file not found")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrInvalidThreshold      = errors.New("threshold must be in (0, 1]")
	ErrInvalidColumn         = errors.New("invalid column letter")
	ErrInvalidDate           = errors.New("invalid date")
	ErrInvalidWindow         = errors.New("from date is after to date")
	ErrInvalidWorkers        = errors.New("workers must not be negative")
)

// CurrentVersion is the version of the config file layout.
const CurrentVersion = 1

// EnvPrefix prefixes environment overrides. A double underscore separates
// nesting levels: AHELP_LEDGER__SPREADSHEET_ID sets ledger.spreadsheet_id.
const EnvPrefix = "AHELP_"

// DateLayout is the layout of the analysis window dates.
const DateLayout = "2006-01-02"

var columnPattern = regexp.MustCompile(`^[A-Z]{1,3}$`)

// DefaultKeyRoles are the role keywords whose holders must be present in the ledger.
var DefaultKeyRoles = []string{"модератор", "гейм-мастер", "судья"}

// Config represents the entire application configuration.
type Config struct {
	Version   int       `koanf:"version"`
	Data      Data      `koanf:"data"`
	Analysis  Analysis  `koanf:"analysis"`
	Report    Report    `koanf:"report"`
	Reconcile Reconcile `koanf:"reconcile"`
	Ledger    Ledger    `koanf:"ledger"`
	Log       Log       `koanf:"log"`
}

// Data locates the downloaded logs and the archive built from them.
type Data struct {
	// Folder holding one JSON file per relay channel.
	Folder string `koanf:"folder"`
	// Archive name; the database lives at databases/<name>.db.
	Database       string `koanf:"database"`
	ForceOverwrite bool   `koanf:"force_overwrite"`
}

// Analysis configures session tracking.
type Analysis struct {
	OrphanPolicy        string        `koanf:"orphan_policy"`
	CreditSelfResponses bool          `koanf:"credit_self_responses"`
	IdleTimeout         time.Duration `koanf:"idle_timeout"`
	Workers             int           `koanf:"workers"`
	// From and To bound the window, inclusive, as YYYY-MM-DD.
	From string `koanf:"from"`
	To   string `koanf:"to"`
	// Days selects the last N days when From is empty.
	Days int `koanf:"days"`
}

// Report configures the generated workbook.
type Report struct {
	Output string `koanf:"output"`
	JSON   string `koanf:"json"`
	Chart  bool   `koanf:"chart"`
}

// Reconcile configures identity matching against the ledger.
type Reconcile struct {
	Threshold   float64  `koanf:"threshold"`
	KeyRoles    []string `koanf:"key_roles"`
	TotalColumn string   `koanf:"total_column"`
	SkipZero    bool     `koanf:"skip_zero"`
}

// Ledger locates the Google Sheets worksheet.
type Ledger struct {
	CredentialsFile string            `koanf:"credentials_file"`
	SpreadsheetID   string            `koanf:"spreadsheet_id"`
	Worksheet       string            `koanf:"worksheet"`
	NameColumn      string            `koanf:"name_column"`
	ServerColumns   map[string]string `koanf:"server_columns"`
	Retries         uint64            `koanf:"retries"`
	Timeout         time.Duration     `koanf:"timeout"`
}

// Log configures the zap logger.
type Log struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"`
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Data: Data{
			Folder:   "data",
			Database: "ahelp",
		},
		Analysis: Analysis{
			OrphanPolicy: string(session.OrphanDrop),
			Days:         30,
		},
		Report: Report{
			Output: "ahelp_stats.xlsx",
			Chart:  true,
		},
		Reconcile: Reconcile{
			Threshold: 0.85,
			SkipZero:  true,
		},
		Ledger: Ledger{
			NameColumn: "B",
			Retries:    5,
			Timeout:    30 * time.Second,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// SearchPaths lists the config files tried when no path is given.
func SearchPaths() []string {
	paths := []string{"ahelp.toml"}
	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(homeDir, ".ahelp", "ahelp.toml"))
	}
	return paths
}

// Load reads the configuration from path, or from the first file found in
// SearchPaths when path is empty, then applies environment overrides.
// Running without any config file is allowed. It returns the file used.
func Load(path string) (*Config, string, error) {
	k := koanf.New(".")

	usedPath, err := loadFile(k, path)
	if err != nil {
		return nil, "", err
	}

	if usedPath != "" {
		if err := checkVersion(usedPath, k.Int("version")); err != nil {
			return nil, "", err
		}
	}

	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, "", fmt.Errorf("failed to load environment overrides: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}
	// Slices decode element by element into existing values, so this default is applied last
	if !k.Exists("reconcile.key_roles") {
		cfg.Reconcile.KeyRoles = append([]string(nil), DefaultKeyRoles...)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return cfg, usedPath, nil
}

func loadFile(k *koanf.Koanf, path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, path)
		}
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return "", fmt.Errorf("failed to load config %s: %w", path, err)
		}
		return path, nil
	}

	for _, candidate := range SearchPaths() {
		if _, err := os.Stat(candidate); err != nil {
			continue
		}
		if err := k.Load(file.Provider(candidate), toml.Parser()); err != nil {
			return "", fmt.Errorf("failed to load config %s: %w", candidate, err)
		}
		return candidate, nil
	}

	return "", nil
}

func checkVersion(path string, current int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s", ErrConfigVersionMissing, path)
	}
	if current != CurrentVersion {
		return fmt.Errorf("%w: %s (got: %d, expected: %d)", ErrConfigVersionMismatch, path, current, CurrentVersion)
	}
	return nil
}

func (c *Config) normalize() {
	c.Ledger.NameColumn = strings.ToUpper(strings.TrimSpace(c.Ledger.NameColumn))
	c.Reconcile.TotalColumn = strings.ToUpper(strings.TrimSpace(c.Reconcile.TotalColumn))

	columns := make(map[string]string, len(c.Ledger.ServerColumns))
	for server, column := range c.Ledger.ServerColumns {
		columns[strings.ToLower(strings.TrimSpace(server))] = strings.ToUpper(strings.TrimSpace(column))
	}
	c.Ledger.ServerColumns = columns

	for i, role := range c.Reconcile.KeyRoles {
		c.Reconcile.KeyRoles[i] = strings.ToLower(strings.TrimSpace(role))
	}
}

// Validate checks the values that cannot be used as given.
func (c *Config) Validate() error {
	if c.Reconcile.Threshold <= 0 || c.Reconcile.Threshold > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidThreshold, c.Reconcile.Threshold)
	}

	if _, err := session.ParseOrphanPolicy(c.Analysis.OrphanPolicy); err != nil {
		return err
	}

	if c.Analysis.Workers < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidWorkers, c.Analysis.Workers)
	}

	if !columnPattern.MatchString(c.Ledger.NameColumn) {
		return fmt.Errorf("%w: name_column %q", ErrInvalidColumn, c.Ledger.NameColumn)
	}
	if c.Reconcile.TotalColumn != "" && !columnPattern.MatchString(c.Reconcile.TotalColumn) {
		return fmt.Errorf("%w: total_column %q", ErrInvalidColumn, c.Reconcile.TotalColumn)
	}
	for server, column := range c.Ledger.ServerColumns {
		if !columnPattern.MatchString(column) {
			return fmt.Errorf("%w: server_columns.%s %q", ErrInvalidColumn, server, column)
		}
	}

	if _, _, err := c.Analysis.Window(time.Now()); err != nil {
		return err
	}

	return nil
}

// Window returns the inclusive analysis window in UTC. A zero From means
// no lower bound and a zero To means no upper bound.
func (a Analysis) Window(now time.Time) (time.Time, time.Time, error) {
	var from, to time.Time

	if a.To != "" {
		day, err := time.Parse(DateLayout, a.To)
		if err != nil {
			return from, to, fmt.Errorf("%w: to %q", ErrInvalidDate, a.To)
		}
		to = day.Add(24*time.Hour - time.Nanosecond)
	}

	switch {
	case a.From != "":
		day, err := time.Parse(DateLayout, a.From)
		if err != nil {
			return from, to, fmt.Errorf("%w: from %q", ErrInvalidDate, a.From)
		}
		from = day
	case a.Days > 0:
		end := now.UTC()
		if !to.IsZero() {
			end = to
		}
		start := end.AddDate(0, 0, -a.Days)
		from = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	}

	if !from.IsZero() && !to.IsZero() && from.After(to) {
		return from, to, fmt.Errorf("%w: %s > %s", ErrInvalidWindow, a.From, a.To)
	}

	return from, to, nil
}

// SessionOptions converts the analysis section into tracker options.
func (a Analysis) SessionOptions() (session.Options, error) {
	policy, err := session.ParseOrphanPolicy(a.OrphanPolicy)
	if err != nil {
		return session.Options{}, err
	}

	return session.Options{
		OrphanPolicy:        policy,
		CreditSelfResponses: a.CreditSelfResponses,
		IdleTimeout:         a.IdleTimeout,
	}, nil
}
