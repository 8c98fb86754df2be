// Package ledger reads and updates the staff ledger kept in Google Sheets.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/reconcile"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var (
	ErrCredentialsNotFound = errors.New("google credentials file not found")
	ErrMissingSpreadsheet  = errors.New("spreadsheet id is not configured")
	ErrMissingWorksheet    = errors.New("worksheet name is not configured")
	ErrInvalidColumn       = errors.New("invalid column letter")
)

// valueInputOption makes Sheets parse written values as if typed by a user.
const valueInputOption = "USER_ENTERED"

// Config locates the ledger worksheet.
type Config struct {
	CredentialsFile string
	SpreadsheetID   string
	Worksheet       string
	// NameColumn holds the admin names, e.g. "B".
	NameColumn string
	// Columns are the mapped columns whose current values are read.
	Columns []string
	Retries uint64
	Timeout time.Duration
}

// Client talks to one worksheet.
type Client struct {
	values *sheets.SpreadsheetsValuesService
	cfg    Config
	logger *zap.Logger
}

// New connects to the Sheets API with a service account credentials file.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.SpreadsheetID == "" {
		return nil, ErrMissingSpreadsheet
	}
	if cfg.Worksheet == "" {
		return nil, ErrMissingWorksheet
	}
	if _, err := os.Stat(cfg.CredentialsFile); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, cfg.CredentialsFile)
	}
	if _, err := ColumnIndex(cfg.NameColumn); err != nil {
		return nil, err
	}

	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &Client{
		values: svc.Spreadsheets.Values,
		cfg:    cfg,
		logger: logger.Named("ledger"),
	}, nil
}

// ColumnIndex converts a column letter such as "B" or "AA" to a 0-based index.
func ColumnIndex(column string) (int, error) {
	column = strings.ToUpper(strings.TrimSpace(column))
	if column == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidColumn, column)
	}

	index := 0
	for _, r := range column {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidColumn, column)
		}
		index = index*26 + int(r-'A'+1)
	}
	return index - 1, nil
}

// QuoteSheet quotes a worksheet name for use in A1 notation.
func QuoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// RowsFromValues builds ledger rows from a worksheet grid. Rows with an
// empty name cell are skipped. Ref is the 1-based row number.
func RowsFromValues(values [][]any, nameColumn string, columns []string) ([]reconcile.LedgerRow, error) {
	nameIdx, err := ColumnIndex(nameColumn)
	if err != nil {
		return nil, err
	}

	indexes := make(map[string]int, len(columns))
	for _, col := range columns {
		idx, err := ColumnIndex(col)
		if err != nil {
			return nil, err
		}
		indexes[col] = idx
	}

	cell := func(row []any, idx int) string {
		if idx >= len(row) || row[idx] == nil {
			return ""
		}
		return strings.TrimSpace(fmt.Sprint(row[idx]))
	}

	var rows []reconcile.LedgerRow
	for i, row := range values {
		name := cell(row, nameIdx)
		if name == "" {
			continue
		}

		lr := reconcile.LedgerRow{Ref: i + 1, Name: name, Cells: make(map[string]string, len(indexes))}
		for col, idx := range indexes {
			lr.Cells[col] = cell(row, idx)
		}
		rows = append(rows, lr)
	}
	return rows, nil
}

// ValueRanges turns a plan into one single-cell range per write, ordered
// by row then column.
func ValueRanges(worksheet string, plan *reconcile.UpdatePlan) []*sheets.ValueRange {
	var ranges []*sheets.ValueRange
	for _, row := range plan.Rows {
		for _, c := range row.Cells {
			var value any = c.New
			if n, err := strconv.Atoi(c.New); err == nil {
				value = n
			}
			ranges = append(ranges, &sheets.ValueRange{
				Range:  fmt.Sprintf("%s!%s%d", QuoteSheet(worksheet), c.Column, row.Row),
				Values: [][]any{{value}},
			})
		}
	}
	return ranges
}

// Rows reads every named row of the worksheet.
func (c *Client) Rows(ctx context.Context) ([]reconcile.LedgerRow, error) {
	resp, err := retry(ctx, c.cfg, func() (*sheets.ValueRange, error) {
		return c.values.Get(c.cfg.SpreadsheetID, QuoteSheet(c.cfg.Worksheet)).
			ValueRenderOption("FORMATTED_VALUE").
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet %s: %w", c.cfg.Worksheet, err)
	}

	rows, err := RowsFromValues(resp.Values, c.cfg.NameColumn, c.cfg.Columns)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Read ledger rows",
		zap.String("worksheet", c.cfg.Worksheet),
		zap.Int("rows", len(rows)))
	return rows, nil
}

// Apply writes the plan in a single batch update and returns the number of
// cells the API reports as updated.
func (c *Client) Apply(ctx context.Context, plan *reconcile.UpdatePlan) (int64, error) {
	data := ValueRanges(c.cfg.Worksheet, plan)
	if len(data) == 0 {
		c.logger.Info("Nothing to write to the ledger")
		return 0, nil
	}

	req := &sheets.BatchUpdateValuesRequest{
		ValueInputOption: valueInputOption,
		Data:             data,
	}

	resp, err := retry(ctx, c.cfg, func() (*sheets.BatchUpdateValuesResponse, error) {
		return c.values.BatchUpdate(c.cfg.SpreadsheetID, req).Context(ctx).Do()
	})
	if err != nil {
		return 0, fmt.Errorf("failed to update ledger: %w", err)
	}

	c.logger.Info("Updated ledger",
		zap.Int("rows", len(plan.Rows)),
		zap.Int64("cells", resp.TotalUpdatedCells))
	return resp.TotalUpdatedCells, nil
}

// Columns returns the distinct mapped columns of a server mapping plus the
// optional total column, sorted.
func Columns(serverColumns map[string]string, totalColumn string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(col string) {
		if col != "" && !seen[col] {
			seen[col] = true
			out = append(out, col)
		}
	}
	for _, col := range serverColumns {
		add(col)
	}
	add(totalColumn)

	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

// retry runs operation with exponential backoff. Client errors other than
// rate limiting are not retried.
func retry[T any](ctx context.Context, cfg Config, operation func() (T, error)) (T, error) {
	var result T

	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(cfg.Timeout),
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(10*time.Second),
	), cfg.Retries)

	err := backoff.Retry(func() error {
		var err error
		result, err = operation()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx))

	return result, err
}

func retryable(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError
}
