package cmd

import (
	"fmt"

	"github.com/ahelp-tools/ahelp-stats/pkg/config"
	"github.com/ahelp-tools/ahelp-stats/pkg/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	configPath string
	verbose    bool
)

// Loaded by Setup before any command runs.
var (
	cfg    *config.Config
	logger *zap.Logger
)

// BindPersistentFlags adds the flags shared by every command.
func BindPersistentFlags(root *cobra.Command) {
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Config file (default: ./ahelp.toml or ~/.ahelp/ahelp.toml)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
}

// Setup loads the configuration and creates the logger.
func Setup(cmd *cobra.Command, args []string) error {
	loaded, usedPath, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := loaded.Log.Level
	if verbose {
		level = "debug"
	}

	log, err := logging.New(level, loaded.Log.File)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	cfg, logger = loaded, log
	if usedPath != "" {
		logger.Debug("Loaded config", zap.String("path", usedPath))
	} else {
		logger.Debug("No config file found, using defaults")
	}
	return nil
}

// Teardown flushes the logger.
func Teardown(cmd *cobra.Command, args []string) {
	if logger != nil {
		_ = logger.Sync()
	}
}
