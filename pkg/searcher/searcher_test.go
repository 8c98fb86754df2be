package searcher_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/database"
	"github.com/ahelp-tools/ahelp-stats/pkg/models"
	"github.com/ahelp-tools/ahelp-stats/pkg/searcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch(t *testing.T) {
	t.Parallel()

	db, err := database.Open(t.TempDir(), "archive")
	require.NoError(t, err)

	require.NoError(t, db.InsertServer(&models.Server{ID: "титан", Name: "Титан"}))
	require.NoError(t, db.InsertChannel(&models.Channel{ID: "титан/ahelp", ServerID: "титан", Name: "ahelp"}))
	_, err = db.InsertMessages([]models.Message{{
		ID:         1,
		ChannelID:  "титан/ahelp",
		ServerID:   "титан",
		AuthorID:   "Player",
		AuthorName: "Player",
		Timestamp:  time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC),
		Body:       ":inbox_tray: Player: shuttle stuck",
		Filename:   "ahelp.json",
	}})
	require.NoError(t, err)

	s := searcher.New(db)
	defer s.Close()

	results, err := s.Search("shuttle", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)

	names, err := s.ServerNames()
	require.NoError(t, err)

	out := searcher.FormatResults(results, names)
	assert.Contains(t, out, "Found 1 result(s)")
	assert.Contains(t, out, "Server: Титан")
	assert.Contains(t, out, "Author: Player")
	assert.Contains(t, out, "Date: 2025-08-01 12:00:00")
}

func TestFormatResults(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "No results found.", searcher.FormatResults(nil, nil))

	long := strings.Repeat("ж", 600)
	out := searcher.FormatResults([]*models.SearchResult{{
		Message: models.Message{AuthorID: "42", ServerID: "phobos", Body: long, AdminOnly: true},
	}}, nil)

	assert.Contains(t, out, "Author: 42")
	assert.Contains(t, out, "Server: phobos")
	assert.Contains(t, out, "Staff only: yes")
	assert.Contains(t, out, strings.Repeat("ж", 497)+"...")
	assert.NotContains(t, out, strings.Repeat("ж", 498))
}

func TestFormatRuns(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "No analysis runs recorded.", searcher.FormatRuns(nil))

	out := searcher.FormatRuns([]models.Run{{
		ID:        3,
		StartedAt: time.Date(2025, 8, 20, 9, 30, 0, 0, time.UTC),
		From:      time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		Sessions:  10,
		Answered:  8,
	}})
	assert.Equal(t, "#3 2025-08-20 09:30  window 2025-08-01..*  channels=0 sessions=10 answered=8 admins=0\n", out)
}

func TestDatabaseFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	assert.False(t, searcher.ValidateDatabaseExists(dir, "my archive"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "my_archive.db"), nil, 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "folder.db"), 0o755))

	assert.True(t, searcher.ValidateDatabaseExists(dir, "my archive"))
	assert.False(t, searcher.ValidateDatabaseExists(dir, "folder"))

	names, err := searcher.ListDatabases(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"folder", "my_archive"}, names)
}
