package report_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/models"
	"github.com/ahelp-tools/ahelp-stats/pkg/report"
	"github.com/ahelp-tools/ahelp-stats/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var base = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

func message(author string, minute int, body string, mentions ...string) models.Message {
	return models.Message{
		AuthorID:   author,
		AuthorName: "Name " + author,
		Timestamp:  base.Add(time.Duration(minute) * time.Minute),
		Body:       body,
		Mentions:   mentions,
	}
}

func sampleStatistics(t *testing.T) *stats.Statistics {
	t.Helper()

	logs := []stats.ChannelLog{
		{
			ChannelID: "титан/ahelp",
			ServerID:  "титан",
			Messages: []models.Message{
				message("p1", 0, ":inbox_tray: p1: help"),
				message("alice", 1, ":outbox_tray: alice: ok", "u1"),
				message("p2", 62, ":inbox_tray: p2: help"),
				message("alice", 63, ":outbox_tray: alice: ok"),
			},
		},
		{
			ChannelID: "фобос/ahelp",
			ServerID:  "фобос",
			Messages: []models.Message{
				message("p3", 0, ":inbox_tray: p3: help"),
				message("bob", 1, ":outbox_tray: bob: ok"),
			},
		},
	}

	roles := func(adminID, _ string) []string {
		if adminID == "alice" {
			return []string{"Модератор"}
		}
		return nil
	}

	result := stats.NewEngine(stats.Options{Roles: roles}, nil).Run(logs)
	require.Len(t, result.Global, 2)
	return result
}

func TestCleanSheetName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want string
	}{
		{name: "Global", want: "Global"},
		{name: "Server_Титан", want: "Server_Титан"},
		{name: "ahelp-Титан [123]", want: "ahelp_Титан__123_"},
		{name: "a/b\\c*d?e:f", want: "a_b_c_d_e_f"},
		{name: strings.Repeat("я", 40), want: strings.Repeat("я", 31)},
		{name: "", want: "_"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, report.CleanSheetName(tt.name))
		})
	}
}

func TestDailyPivot(t *testing.T) {
	t.Parallel()

	day1 := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	day2 := day1.AddDate(0, 0, 1)

	adminRows := []stats.BucketRow{
		{Period: day1, AdminID: "bob", Bucket: stats.Bucket{AnsweredRequests: 2}},
		{Period: day2, AdminID: "alice", Bucket: stats.Bucket{AnsweredRequests: 1}},
	}
	totalRows := []stats.BucketRow{
		{Period: day1, Bucket: stats.Bucket{TotalRequests: 3, AnsweredRequests: 2}},
		{Period: day2, Bucket: stats.Bucket{TotalRequests: 1, AnsweredRequests: 1}},
	}

	got := report.DailyPivot(adminRows, totalRows)
	want := [][]any{
		{"Admin", "2025-08-01", "2025-08-02"},
		{"alice", 0, 1},
		{"bob", 2, 0},
		{"Requests", 3, 1},
		{"Answered", 2, 1},
	}
	assert.Equal(t, want, got)
}

func TestHourOfDayTotals(t *testing.T) {
	t.Parallel()

	rows := []stats.BucketRow{
		{Period: base, Bucket: stats.Bucket{TotalRequests: 2, AnsweredRequests: 1}},
		{Period: base.AddDate(0, 0, 1), Bucket: stats.Bucket{TotalRequests: 1, AnsweredRequests: 1}},
		{Period: base.Add(time.Hour), Bucket: stats.Bucket{TotalRequests: 4}},
	}

	total, answered := report.HourOfDayTotals(rows)
	assert.Equal(t, 3, total[12])
	assert.Equal(t, 2, answered[12])
	assert.Equal(t, 4, total[13])
	assert.Equal(t, 0, total[0])
}

func TestRenderHourlyChart(t *testing.T) {
	t.Parallel()

	_, err := report.RenderHourlyChart(nil)
	require.ErrorIs(t, err, report.ErrNoHourlyData)

	png, err := report.RenderHourlyChart([]stats.BucketRow{
		{Period: base, Bucket: stats.Bucket{TotalRequests: 2, AnsweredRequests: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG", string(png[:4]))
}

func TestWrite(t *testing.T) {
	t.Parallel()

	st := sampleStatistics(t)
	path := filepath.Join(t.TempDir(), "out", "stats.xlsx")

	opts := report.Options{
		ServerNames: map[string]string{"титан": "Титан"},
		KeyRoles:    []string{"модератор"},
		Chart:       true,
	}
	require.NoError(t, report.Write(st, path, opts))
	// A second run replaces the file
	require.NoError(t, report.Write(st, path, opts))

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{
		"Global",
		"Key_Personnel",
		"Roles",
		"Server_Титан",
		"Server_фобос",
		"Daily_Global",
		"Daily_Титан",
		"Daily_фобос",
		"Hourly",
		"Reactions",
		"Diagnostics",
	}, f.GetSheetList())

	global, err := f.GetRows("Global")
	require.NoError(t, err)
	require.Len(t, global, 3)
	assert.Equal(t, []string{"Admin", "Name", "Roles", "Ahelps"}, global[0][:4])
	assert.Equal(t, []string{"Ahelps_Титан", "Ahelps_фобос"}, global[0][8:])
	assert.Equal(t, []string{"alice", "Name alice", "Модератор", "2", "1", "2"}, global[1][:6])
	assert.Equal(t, []string{"2", "0"}, global[1][8:])
	assert.Equal(t, "bob", global[2][0])

	key, err := f.GetRows("Key_Personnel")
	require.NoError(t, err)
	require.Len(t, key, 2)
	assert.Equal(t, "alice", key[1][0])

	daily, err := f.GetRows("Daily_Global")
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin", "2025-08-01"}, daily[0])
	assert.Equal(t, []string{"Requests", "3"}, daily[len(daily)-2])

	hourly, err := f.GetRows("Hourly")
	require.NoError(t, err)
	require.Len(t, hourly, 3)
	assert.Equal(t, []string{"2025-08-01", "12", "2", "2", "1"}, hourly[1])

	pictures, err := f.GetPictures("Hourly", "G2")
	require.NoError(t, err)
	assert.Len(t, pictures, 1)

	diag, err := f.GetRows("Diagnostics")
	require.NoError(t, err)
	assert.Equal(t, []string{"malformed_message", "0"}, diag[1])
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stats.json")
	require.NoError(t, report.WriteJSON(sampleStatistics(t), path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"admin_id": "alice"`)
	assert.Contains(t, string(data), `"roles_summary"`)
}
