package reconcile

import (
	"sort"
	"strconv"
	"strings"

	"github.com/ahelp-tools/ahelp-stats/pkg/diagnostics"
	"github.com/ahelp-tools/ahelp-stats/pkg/stats"
)

// DefaultThreshold is the fuzzy similarity a ledger name must reach when
// no threshold is configured.
const DefaultThreshold = 0.85

// Confidence tells how a computed admin was matched to a ledger row.
type Confidence string

const (
	Exact           Confidence = "exact"
	NormalizedExact Confidence = "normalized-exact"
	Fuzzy           Confidence = "fuzzy"
	Unmatched       Confidence = "unmatched"
)

func (c Confidence) rank() int {
	switch c {
	case Exact:
		return 3
	case NormalizedExact:
		return 2
	case Fuzzy:
		return 1
	default:
		return 0
	}
}

// Reason explains an Unmatched result.
type Reason string

const (
	ReasonNone      Reason = ""
	ReasonAmbiguous Reason = "ambiguous"
	ReasonNoMatch   Reason = "no-match"
)

// LedgerRow is one existing row of the ledger.
type LedgerRow struct {
	// Ref is the 1-based row number in the worksheet.
	Ref  int
	Name string
	// Cells holds the current value of every mapped column, keyed by column letter.
	Cells map[string]string
}

// Match is the reconciliation outcome for one computed admin.
type Match struct {
	AdminID     string     `json:"admin_id"`
	DisplayName string     `json:"display_name"`
	Roles       []string   `json:"roles,omitempty"`
	Row         int        `json:"row,omitempty"`
	LedgerName  string     `json:"ledger_name,omitempty"`
	Confidence  Confidence `json:"confidence"`
	Reason      Reason     `json:"reason,omitempty"`
	Score       float64    `json:"score"`
	// Candidates lists the ledger names an ambiguous match could not choose between.
	Candidates []string `json:"candidates,omitempty"`
	// KeyPersonnel is set on unmatched admins holding a key role.
	KeyPersonnel bool `json:"key_personnel,omitempty"`
}

// Matched reports whether the admin was assigned a ledger row.
func (m *Match) Matched() bool {
	return m.Confidence != Unmatched
}

// CellUpdate is one cell write, with the value it replaces.
type CellUpdate struct {
	Column  string `json:"column"`
	Current string `json:"current"`
	New     string `json:"new"`
}

// RowUpdate groups the cell writes of one ledger row.
type RowUpdate struct {
	Row        int          `json:"row"`
	LedgerName string       `json:"ledger_name"`
	AdminID    string       `json:"admin_id"`
	Confidence Confidence   `json:"confidence"`
	Cells      []CellUpdate `json:"cells"`
}

// UpdatePlan lists the writes needed to bring the ledger up to date.
type UpdatePlan struct {
	Rows []RowUpdate `json:"rows"`
	// Unchanged counts mapped cells that already hold the computed value.
	Unchanged int `json:"unchanged"`
}

// CellCount returns the number of cells the plan writes.
func (p *UpdatePlan) CellCount() int {
	n := 0
	for _, row := range p.Rows {
		n += len(row.Cells)
	}
	return n
}

// Options configures Reconcile.
type Options struct {
	// Threshold is the minimum fuzzy similarity, in (0, 1].
	Threshold float64
	// ServerColumns maps a server name to the ledger column holding its ahelp count.
	ServerColumns map[string]string
	// TotalColumn optionally receives the global ahelp count.
	TotalColumn string
	// KeyRoles are lower-case keywords; unmatched admins whose roles contain
	// one are flagged for manual append.
	KeyRoles []string
	// SkipZero leaves cells alone when the computed value is zero.
	SkipZero bool
}

// Result is the output of Reconcile.
type Result struct {
	Matches     []Match             `json:"matches"`
	Plan        UpdatePlan          `json:"plan"`
	Diagnostics diagnostics.Summary `json:"diagnostics"`
}

// Unmatched returns the matches that were not assigned a row.
func (r *Result) Unmatched() []Match {
	var out []Match
	for _, m := range r.Matches {
		if !m.Matched() {
			out = append(out, m)
		}
	}
	return out
}

// KeyPersonnel returns the unmatched admins holding a key role.
func (r *Result) KeyPersonnel() []Match {
	var out []Match
	for _, m := range r.Matches {
		if m.KeyPersonnel {
			out = append(out, m)
		}
	}
	return out
}

type indexedRow struct {
	row        LedgerRow
	normalized string
}

// Reconcile matches every admin to at most one ledger row and plans the
// cell writes for the matched rows. It does not modify its inputs.
func Reconcile(admins []stats.GlobalAdmin, rows []LedgerRow, opts Options) *Result {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}

	normalizer := NewNormalizer()
	ledger := make([]indexedRow, 0, len(rows))
	exact := make(map[string][]int)
	normalized := make(map[string][]int)

	for _, row := range rows {
		name := strings.TrimSpace(row.Name)
		if name == "" {
			continue
		}
		ir := indexedRow{row: row, normalized: normalizer.Normalize(name)}
		ledger = append(ledger, ir)
		exact[row.Name] = append(exact[row.Name], len(ledger)-1)
		if ir.normalized != "" {
			normalized[ir.normalized] = append(normalized[ir.normalized], len(ledger)-1)
		}
	}

	ordered := make([]*stats.GlobalAdmin, 0, len(admins))
	for i := range admins {
		ordered = append(ordered, &admins[i])
	}
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].AdminID < ordered[j].AdminID
	})

	result := &Result{Matches: make([]Match, 0, len(ordered))}
	for _, admin := range ordered {
		m := Match{
			AdminID:     admin.AdminID,
			DisplayName: admin.DisplayName,
			Roles:       append([]string(nil), admin.Roles...),
		}
		matchOne(&m, normalizer.Normalize(admin.DisplayName), ledger, exact, normalized, opts.Threshold)
		result.Matches = append(result.Matches, m)
	}

	resolveConflicts(result.Matches)

	for i := range result.Matches {
		m := &result.Matches[i]
		switch m.Reason {
		case ReasonAmbiguous:
			result.Diagnostics.Inc(diagnostics.AmbiguousIdentity)
		case ReasonNoMatch:
			result.Diagnostics.Inc(diagnostics.NoLedgerMatch)
		}
		if !m.Matched() {
			m.KeyPersonnel = HasKeyRole(m.Roles, opts.KeyRoles)
		}
	}

	result.Plan = plan(result.Matches, admins, ledger, opts)
	return result
}

func matchOne(m *Match, norm string, ledger []indexedRow, exact, normalized map[string][]int, threshold float64) {
	if hits := exact[m.DisplayName]; len(hits) > 0 {
		assign(m, Exact, 1.0, hits, ledger)
		return
	}

	if norm != "" {
		if hits := normalized[norm]; len(hits) > 0 {
			assign(m, NormalizedExact, 1.0, hits, ledger)
			return
		}
	}

	if norm != "" {
		best := -1.0
		var hits []int
		for i := range ledger {
			if ledger[i].normalized == "" {
				continue
			}
			score := Similarity(norm, ledger[i].normalized)
			switch {
			case score < threshold || score < best:
			case score > best:
				best = score
				hits = []int{i}
			default:
				hits = append(hits, i)
			}
		}

		if len(hits) > 1 {
			hits = longestPrefix(norm, hits, ledger)
		}
		if len(hits) > 0 {
			assign(m, Fuzzy, best, hits, ledger)
			return
		}
	}

	m.Confidence = Unmatched
	m.Reason = ReasonNoMatch
}

// longestPrefix keeps the candidates sharing the longest prefix with norm.
func longestPrefix(norm string, hits []int, ledger []indexedRow) []int {
	best := -1
	var kept []int
	for _, i := range hits {
		n := commonPrefixLen(norm, ledger[i].normalized)
		switch {
		case n > best:
			best = n
			kept = []int{i}
		case n == best:
			kept = append(kept, i)
		}
	}
	return kept
}

func assign(m *Match, confidence Confidence, score float64, hits []int, ledger []indexedRow) {
	if len(hits) > 1 {
		m.Confidence = Unmatched
		m.Reason = ReasonAmbiguous
		m.Score = score
		for _, i := range hits {
			m.Candidates = append(m.Candidates, ledger[i].row.Name)
		}
		sort.Strings(m.Candidates)
		return
	}

	row := ledger[hits[0]].row
	m.Confidence = confidence
	m.Score = score
	m.Row = row.Ref
	m.LedgerName = row.Name
}

// resolveConflicts gives a row claimed by several admins to the strongest
// claim. Equally strong claims all become ambiguous.
func resolveConflicts(matches []Match) {
	byRow := make(map[int][]int)
	for i := range matches {
		if matches[i].Matched() {
			byRow[matches[i].Row] = append(byRow[matches[i].Row], i)
		}
	}

	for _, claims := range byRow {
		if len(claims) < 2 {
			continue
		}

		sort.Slice(claims, func(a, b int) bool {
			ma, mb := &matches[claims[a]], &matches[claims[b]]
			if ma.Confidence.rank() != mb.Confidence.rank() {
				return ma.Confidence.rank() > mb.Confidence.rank()
			}
			return ma.Score > mb.Score
		})

		top := &matches[claims[0]]
		runnerUp := &matches[claims[1]]
		tied := top.Confidence == runnerUp.Confidence && top.Score == runnerUp.Score

		for k, i := range claims {
			if k == 0 && !tied {
				continue
			}
			m := &matches[i]
			m.Candidates = []string{m.LedgerName}
			m.Confidence = Unmatched
			m.Reason = ReasonAmbiguous
			m.Row = 0
			m.LedgerName = ""
		}
	}
}

// HasKeyRole reports whether any of roles contains one of the keywords,
// ignoring case.
func HasKeyRole(roles, keywords []string) bool {
	for _, role := range roles {
		role = strings.ToLower(role)
		for _, keyword := range keywords {
			if keyword != "" && strings.Contains(role, strings.ToLower(keyword)) {
				return true
			}
		}
	}
	return false
}

func plan(matches []Match, admins []stats.GlobalAdmin, ledger []indexedRow, opts Options) UpdatePlan {
	byID := make(map[string]*stats.GlobalAdmin, len(admins))
	for i := range admins {
		byID[admins[i].AdminID] = &admins[i]
	}
	byRef := make(map[int]LedgerRow, len(ledger))
	for _, ir := range ledger {
		byRef[ir.row.Ref] = ir.row
	}

	perServer := func(admin *stats.GlobalAdmin, server string) int {
		total := 0
		for id, n := range admin.PerServer {
			if strings.EqualFold(id, server) {
				total += n
			}
		}
		return total
	}

	var out UpdatePlan
	for _, m := range matches {
		if !m.Matched() {
			continue
		}
		admin := byID[m.AdminID]
		row := byRef[m.Row]

		wanted := make(map[string]int, len(opts.ServerColumns)+1)
		for server, column := range opts.ServerColumns {
			wanted[column] += perServer(admin, server)
		}
		if opts.TotalColumn != "" {
			wanted[opts.TotalColumn] = admin.AhelpsAnswered
		}

		update := RowUpdate{Row: m.Row, LedgerName: m.LedgerName, AdminID: m.AdminID, Confidence: m.Confidence}
		for column, value := range wanted {
			if opts.SkipZero && value == 0 {
				continue
			}
			next := strconv.Itoa(value)
			current := strings.TrimSpace(row.Cells[column])
			if current == next {
				out.Unchanged++
				continue
			}
			update.Cells = append(update.Cells, CellUpdate{Column: column, Current: current, New: next})
		}
		if len(update.Cells) == 0 {
			continue
		}

		sort.Slice(update.Cells, func(i, j int) bool {
			return lessColumn(update.Cells[i].Column, update.Cells[j].Column)
		})
		out.Rows = append(out.Rows, update)
	}

	sort.Slice(out.Rows, func(i, j int) bool {
		return out.Rows[i].Row < out.Rows[j].Row
	})
	return out
}

// lessColumn orders spreadsheet column letters: A < Z < AA.
func lessColumn(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}
