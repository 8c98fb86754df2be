// Package report writes analysis results to an Excel workbook and JSON.
package report

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/diagnostics"
	"github.com/ahelp-tools/ahelp-stats/pkg/reactions"
	"github.com/ahelp-tools/ahelp-stats/pkg/reconcile"
	"github.com/ahelp-tools/ahelp-stats/pkg/stats"
	"github.com/bytedance/sonic"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

const (
	// MaxSheetNameLength is the longest sheet name Excel accepts.
	MaxSheetNameLength = 31

	SheetGlobal       = "Global"
	SheetKeyPersonnel = "Key_Personnel"
	SheetRoles        = "Roles"
	SheetDailyGlobal  = "Daily_Global"
	SheetHourly       = "Hourly"
	SheetReactions    = "Reactions"
	SheetDiagnostics  = "Diagnostics"

	dateLayout = "2006-01-02"
	timeLayout = "2006-01-02 15:04"
)

var (
	forbiddenSheetChars = regexp.MustCompile(`[\\/*?:\[\]]`)
	nonWordChars        = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
)

// Options control the workbook content.
type Options struct {
	// ServerNames maps server ids to display names.
	ServerNames map[string]string
	// KeyRoles selects the admins listed on the key personnel sheet.
	KeyRoles []string
	Chart    bool
	Logger   *zap.Logger
}

func (o Options) serverName(id string) string {
	if name, ok := o.ServerNames[id]; ok && name != "" {
		return name
	}
	return id
}

// CleanSheetName makes name acceptable as an Excel sheet name.
func CleanSheetName(name string) string {
	name = forbiddenSheetChars.ReplaceAllString(name, "_")
	name = nonWordChars.ReplaceAllString(name, "_")
	if runes := []rune(name); len(runes) > MaxSheetNameLength {
		name = string(runes[:MaxSheetNameLength])
	}
	if name == "" {
		name = "_"
	}
	return name
}

type workbook struct {
	f      *excelize.File
	opts   Options
	header int
	used   map[string]bool
}

// Build creates the workbook for st.
func Build(st *stats.Statistics, opts Options) (*excelize.File, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	f := excelize.NewFile()
	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	wb := &workbook{f: f, opts: opts, header: header, used: make(map[string]bool)}
	if err := wb.build(st); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// Write builds the workbook and saves it to path, replacing any existing file.
func Write(st *stats.Statistics, path string, opts Options) error {
	f, err := Build(st, opts)
	if err != nil {
		return err
	}
	defer f.Close()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove old report: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

// WriteJSON dumps the full statistics structure to path.
func WriteJSON(st *stats.Statistics, path string) error {
	data, err := sonic.ConfigStd.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode statistics: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (wb *workbook) build(st *stats.Statistics) error {
	steps := []func(*stats.Statistics) error{
		wb.globalSheet,
		wb.keyPersonnelSheet,
		wb.rolesSheet,
		wb.serverSheets,
		wb.dailySheets,
		wb.hourlySheet,
		wb.reactionsSheet,
		wb.diagnosticsSheet,
	}
	for _, step := range steps {
		if err := step(st); err != nil {
			return err
		}
	}

	// The default sheet was renamed to Global, which stays first and active
	wb.f.SetActiveSheet(0)
	return nil
}

// sheet creates a sheet with a bold, frozen header row and returns its name.
func (wb *workbook) sheet(name string, header []any) (string, error) {
	name = CleanSheetName(name)
	base := name
	for i := 2; wb.used[strings.ToLower(name)]; i++ {
		suffix := fmt.Sprintf("_%d", i)
		runes := []rune(base)
		if len(runes)+len(suffix) > MaxSheetNameLength {
			runes = runes[:MaxSheetNameLength-len(suffix)]
		}
		name = string(runes) + suffix
	}

	if len(wb.used) == 0 {
		if err := wb.f.SetSheetName("Sheet1", name); err != nil {
			return "", fmt.Errorf("failed to rename sheet: %w", err)
		}
	} else if _, err := wb.f.NewSheet(name); err != nil {
		return "", fmt.Errorf("failed to create sheet %s: %w", name, err)
	}
	wb.used[strings.ToLower(name)] = true

	if len(header) == 0 {
		return name, nil
	}
	if err := wb.f.SetSheetRow(name, "A1", &header); err != nil {
		return "", err
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return "", err
	}
	if err := wb.f.SetCellStyle(name, "A1", last, wb.header); err != nil {
		return "", err
	}
	if err := wb.f.SetPanes(name, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return "", err
	}
	return name, nil
}

func (wb *workbook) rows(sheet string, start int, rows [][]any) error {
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, start+i)
		if err != nil {
			return err
		}
		if err := wb.f.SetSheetRow(sheet, cell, &rows[i]); err != nil {
			return fmt.Errorf("failed to write %s row %d: %w", sheet, start+i, err)
		}
	}
	return nil
}

func (wb *workbook) adminHeader(servers []string) []any {
	header := []any{"Admin", "Name", "Roles", "Ahelps", "Mentions", "Sessions", "Admin-only", "Last seen"}
	for _, id := range servers {
		header = append(header, "Ahelps_"+wb.opts.serverName(id))
	}
	return header
}

func adminRow(rec *stats.AdminActivityRecord, perServer map[string]int, servers []string) []any {
	row := []any{
		rec.AdminID,
		rec.DisplayName,
		strings.Join(rec.Roles, ", "),
		rec.AhelpsAnswered,
		rec.Mentions,
		rec.SessionsParticipated,
		rec.AdminOnlyAhelps,
		formatTime(rec.LastSeen, timeLayout),
	}
	for _, id := range servers {
		row = append(row, perServer[id])
	}
	return row
}

func (wb *workbook) globalSheet(st *stats.Statistics) error {
	servers := st.ServerIDs()
	name, err := wb.sheet(SheetGlobal, wb.adminHeader(servers))
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(st.Global))
	for i := range st.Global {
		rows = append(rows, adminRow(&st.Global[i].AdminActivityRecord, st.Global[i].PerServer, servers))
	}
	if err := wb.rows(name, 2, rows); err != nil {
		return err
	}
	return wb.f.SetColWidth(name, "A", "C", 24)
}

func (wb *workbook) keyPersonnelSheet(st *stats.Statistics) error {
	if len(wb.opts.KeyRoles) == 0 {
		return nil
	}

	servers := st.ServerIDs()
	name, err := wb.sheet(SheetKeyPersonnel, wb.adminHeader(servers))
	if err != nil {
		return err
	}

	var rows [][]any
	for i := range st.Global {
		g := &st.Global[i]
		if reconcile.HasKeyRole(g.Roles, wb.opts.KeyRoles) {
			rows = append(rows, adminRow(&g.AdminActivityRecord, g.PerServer, servers))
		}
	}
	return wb.rows(name, 2, rows)
}

func (wb *workbook) rolesSheet(st *stats.Statistics) error {
	name, err := wb.sheet(SheetRoles, []any{"Role", "Admins", "Ahelps", "Mentions"})
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(st.RolesSummary))
	for _, rs := range st.RolesSummary {
		rows = append(rows, []any{rs.Role, rs.Admins, rs.AhelpsAnswered, rs.Mentions})
	}
	return wb.rows(name, 2, rows)
}

func (wb *workbook) serverSheets(st *stats.Statistics) error {
	for _, srv := range st.Servers {
		name, err := wb.sheet("Server_"+wb.opts.serverName(srv.ServerID),
			[]any{"Admin", "Name", "Roles", "Ahelps", "Mentions", "Sessions", "Admin-only", "Last seen"})
		if err != nil {
			return err
		}

		rows := make([][]any, 0, len(srv.Admins)+6)
		for _, rec := range srv.Admins {
			rows = append(rows, adminRow(rec, nil, nil))
		}
		rows = append(rows,
			[]any{},
			[]any{"Sessions", srv.Totals.Sessions},
			[]any{"Answered", srv.Totals.Answered},
			[]any{"Unanswered", srv.Totals.Unanswered()},
			[]any{"Messages", srv.Totals.Messages},
			[]any{"Mentions", srv.Totals.Mentions},
		)
		if err := wb.rows(name, 2, rows); err != nil {
			return err
		}
	}
	return nil
}

// DailyPivot lays out per-admin daily answered counts as admin rows by date
// columns, followed by request totals per date.
func DailyPivot(adminRows, totalRows []stats.BucketRow) [][]any {
	dateSet := make(map[time.Time]bool)
	perAdmin := make(map[string]map[time.Time]int)
	for _, row := range adminRows {
		dateSet[row.Period] = true
		if perAdmin[row.AdminID] == nil {
			perAdmin[row.AdminID] = make(map[time.Time]int)
		}
		perAdmin[row.AdminID][row.Period] += row.AnsweredRequests
	}
	totals := make(map[time.Time]stats.Bucket)
	for _, row := range totalRows {
		dateSet[row.Period] = true
		totals[row.Period] = row.Bucket
	}

	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	admins := make([]string, 0, len(perAdmin))
	for id := range perAdmin {
		admins = append(admins, id)
	}
	sort.Strings(admins)

	header := []any{"Admin"}
	for _, d := range dates {
		header = append(header, d.Format(dateLayout))
	}
	out := [][]any{header}

	for _, id := range admins {
		row := []any{id}
		for _, d := range dates {
			row = append(row, perAdmin[id][d])
		}
		out = append(out, row)
	}

	requests := []any{"Requests"}
	answered := []any{"Answered"}
	for _, d := range dates {
		requests = append(requests, totals[d].TotalRequests)
		answered = append(answered, totals[d].AnsweredRequests)
	}
	return append(out, requests, answered)
}

func (wb *workbook) dailySheets(st *stats.Statistics) error {
	write := func(sheetName, serverID string) error {
		pivot := DailyPivot(st.DailyAdminsFor(serverID), st.DailyFor(serverID))
		name, err := wb.sheet(sheetName, pivot[0])
		if err != nil {
			return err
		}
		return wb.rows(name, 2, pivot[1:])
	}

	if err := write(SheetDailyGlobal, stats.Global); err != nil {
		return err
	}
	for _, id := range st.ServerIDs() {
		if err := write("Daily_"+wb.opts.serverName(id), id); err != nil {
			return err
		}
	}
	return nil
}

func answerRate(b stats.Bucket) float64 {
	if b.TotalRequests == 0 {
		return 0
	}
	return math.Round(float64(b.AnsweredRequests)/float64(b.TotalRequests)*1000) / 1000
}

func (wb *workbook) hourlySheet(st *stats.Statistics) error {
	name, err := wb.sheet(SheetHourly, []any{"Date", "Hour", "Requests", "Answered", "Rate"})
	if err != nil {
		return err
	}

	hourly := st.HourlyFor(stats.Global)
	rows := make([][]any, 0, len(hourly))
	for _, row := range hourly {
		rows = append(rows, []any{
			row.Period.Format(dateLayout),
			row.Period.Hour(),
			row.TotalRequests,
			row.AnsweredRequests,
			answerRate(row.Bucket),
		})
	}
	if err := wb.rows(name, 2, rows); err != nil {
		return err
	}

	if !wb.opts.Chart {
		return nil
	}

	png, err := RenderHourlyChart(hourly)
	if err != nil {
		// The chart is decorative, the table above carries the data
		wb.opts.Logger.Warn("Skipping hourly chart", zap.Error(err))
		return nil
	}
	return wb.f.AddPictureFromBytes(name, "G2", &excelize.Picture{
		Extension: ".png",
		File:      png,
		Format:    &excelize.GraphicOptions{AltText: "Ahelps by hour"},
	})
}

func (wb *workbook) reactionsSheet(st *stats.Statistics) error {
	name, err := wb.sheet(SheetReactions, []any{"Server", "User", "Name", "Reactions", "By emoji"})
	if err != nil {
		return err
	}

	var rows [][]any
	for _, tally := range st.Reactions {
		server := wb.opts.serverName(tally.ServerID)
		rows = append(rows, []any{server, "(all)", "", tally.Total, formatEmoji(tally.ByEmoji)})
		for _, user := range tally.Users {
			rows = append(rows, []any{server, user.UserID, user.DisplayName, user.Total, formatEmoji(user.ByEmoji)})
		}
	}
	return wb.rows(name, 2, rows)
}

func (wb *workbook) diagnosticsSheet(st *stats.Statistics) error {
	name, err := wb.sheet(SheetDiagnostics, []any{"Kind", "Count"})
	if err != nil {
		return err
	}

	rows := make([][]any, 0, len(diagnostics.Kinds))
	for _, kind := range diagnostics.Kinds {
		rows = append(rows, []any{string(kind), st.Diagnostics.Count(kind)})
	}
	return wb.rows(name, 2, rows)
}

func formatEmoji(counts []reactions.EmojiCount) string {
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s×%d", c.Emoji, c.Count))
	}
	return strings.Join(parts, " ")
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(layout)
}
