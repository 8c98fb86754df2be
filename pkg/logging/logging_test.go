package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ahelp-tools/ahelp-stats/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesLogFile(t *testing.T) {
	t.Parallel()

	logFile := filepath.Join(t.TempDir(), "logs", "ahelp.log")

	logger, err := logging.New("info", logFile)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("Processed channel")
	_ = logger.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Processed channel")
	assert.NotContains(t, string(data), "hidden")
}

func TestNew_InvalidLevel(t *testing.T) {
	t.Parallel()

	_, err := logging.New("loud", "")
	require.Error(t, err)
}
