package reconcile_test

import (
	"testing"

	"github.com/ahelp-tools/ahelp-stats/pkg/diagnostics"
	"github.com/ahelp-tools/ahelp-stats/pkg/reconcile"
	"github.com/ahelp-tools/ahelp-stats/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func admin(id, name string, perServer map[string]int, roles ...string) stats.GlobalAdmin {
	total := 0
	for _, n := range perServer {
		total += n
	}
	return stats.GlobalAdmin{
		AdminActivityRecord: stats.AdminActivityRecord{
			AdminID:        id,
			DisplayName:    name,
			AhelpsAnswered: total,
			Roles:          roles,
		},
		PerServer: perServer,
	}
}

func rows(names ...string) []reconcile.LedgerRow {
	out := make([]reconcile.LedgerRow, 0, len(names))
	for i, name := range names {
		out = append(out, reconcile.LedgerRow{Ref: i + 2, Name: name})
	}
	return out
}

func TestNormalizer(t *testing.T) {
	t.Parallel()

	n := reconcile.NewNormalizer()

	tests := []struct {
		in   string
		want string
	}{
		{in: "Alice W.", want: "alice w"},
		{in: "  **Alice**   W  ", want: "alice w"},
		{in: "(S) Bob_the_Admin", want: "bobtheadmin"},
		{in: "Zoë", want: "zoe"},
		{in: "ｆｕｌｌｗｉｄｔｈ", want: "fullwidth"},
		{in: "zero\u200bwidth", want: "zerowidth"},
		{in: "***", want: ""},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, n.Normalize(tt.in), "input %q", tt.in)
	}
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 1.0, reconcile.Similarity("abc", "abc"), 1e-9)
	assert.InDelta(t, 0.0, reconcile.Similarity("", "abc"), 1e-9)
	assert.InDelta(t, 0.75, reconcile.Similarity("alicia w", "alice w"), 1e-9)
	assert.InDelta(t, 0.0, reconcile.Similarity("abc", "xyz"), 1e-9)
	// Rune based, so multi-byte letters count once
	assert.InDelta(t, 0.75, reconcile.Similarity("ёжик", "ёжих"), 1e-9)
}

func TestReconcile_Precedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		display    string
		ledger     []string
		threshold  float64
		want       reconcile.Confidence
		wantReason reconcile.Reason
		wantName   string
	}{
		{
			name:     "exact",
			display:  "Alice W.",
			ledger:   []string{"alice w", "Alice W."},
			want:     reconcile.Exact,
			wantName: "Alice W.",
		},
		{
			name:     "normalized",
			display:  "alice w",
			ledger:   []string{"Alice W."},
			want:     reconcile.NormalizedExact,
			wantName: "Alice W.",
		},
		{
			name:       "fuzzy below threshold",
			display:    "Alicia W.",
			ledger:     []string{"Alice W."},
			threshold:  0.85,
			want:       reconcile.Unmatched,
			wantReason: reconcile.ReasonNoMatch,
		},
		{
			name:      "fuzzy above threshold",
			display:   "Alicia W.",
			ledger:    []string{"Alice W."},
			threshold: 0.7,
			want:      reconcile.Fuzzy,
			wantName:  "Alice W.",
		},
		{
			name:      "highest score wins",
			display:   "Jonathan",
			ledger:    []string{"Jonathon", "Jon"},
			threshold: 0.3,
			want:      reconcile.Fuzzy,
			wantName:  "Jonathon",
		},
		{
			name:      "longest common prefix breaks score ties",
			display:   "abcd",
			ledger:    []string{"xbcd", "abcx"},
			threshold: 0.7,
			want:      reconcile.Fuzzy,
			wantName:  "abcx",
		},
		{
			name:       "full tie is ambiguous",
			display:    "abcd",
			ledger:     []string{"abce", "abcf"},
			threshold:  0.7,
			want:       reconcile.Unmatched,
			wantReason: reconcile.ReasonAmbiguous,
		},
		{
			name:       "duplicate ledger names are ambiguous",
			display:    "bob",
			ledger:     []string{"Bob", "bob."},
			want:       reconcile.Unmatched,
			wantReason: reconcile.ReasonAmbiguous,
		},
		{
			name:       "no candidates",
			display:    "carol",
			ledger:     []string{"Dave"},
			want:       reconcile.Unmatched,
			wantReason: reconcile.ReasonNoMatch,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := reconcile.Reconcile(
				[]stats.GlobalAdmin{admin("1", tt.display, nil)},
				rows(tt.ledger...),
				reconcile.Options{Threshold: tt.threshold},
			)
			require.Len(t, result.Matches, 1)

			m := result.Matches[0]
			assert.Equal(t, tt.want, m.Confidence)
			assert.Equal(t, tt.wantReason, m.Reason)
			assert.Equal(t, tt.wantName, m.LedgerName)
			if tt.wantReason == reconcile.ReasonAmbiguous {
				assert.Len(t, m.Candidates, 2)
				assert.Equal(t, 1, result.Diagnostics.Count(diagnostics.AmbiguousIdentity))
			}
		})
	}
}

func TestReconcile_RowConflicts(t *testing.T) {
	t.Parallel()

	admins := []stats.GlobalAdmin{
		admin("1", "Alice W.", nil),
		admin("2", "alice w", nil),
		admin("3", "Bobby", nil),
		admin("4", "Bobbi", nil),
	}
	ledger := rows("Alice W.", "Bobb")

	result := reconcile.Reconcile(admins, ledger, reconcile.Options{Threshold: 0.75})
	require.Len(t, result.Matches, 4)

	byID := make(map[string]reconcile.Match)
	for _, m := range result.Matches {
		byID[m.AdminID] = m
	}

	assert.Equal(t, reconcile.Exact, byID["1"].Confidence, "exact beats normalized")
	assert.Equal(t, reconcile.ReasonAmbiguous, byID["2"].Reason)
	assert.Equal(t, reconcile.ReasonAmbiguous, byID["3"].Reason, "equal fuzzy claims are not guessed")
	assert.Equal(t, reconcile.ReasonAmbiguous, byID["4"].Reason)
	assert.Equal(t, 3, result.Diagnostics.Count(diagnostics.AmbiguousIdentity))
}

func TestReconcile_Plan(t *testing.T) {
	t.Parallel()

	admins := []stats.GlobalAdmin{
		admin("1", "Alice", map[string]int{"Титан": 5, "Фобос": 0}),
		admin("2", "Bob", map[string]int{"Титан": 2}),
		admin("3", "Ghost", map[string]int{"Титан": 9}, "Модератор"),
	}
	ledger := []reconcile.LedgerRow{
		{Ref: 3, Name: "Alice", Cells: map[string]string{"E": "4", "F": ""}},
		{Ref: 4, Name: "Bob", Cells: map[string]string{"E": "2"}},
	}
	opts := reconcile.Options{
		ServerColumns: map[string]string{"титан": "E", "фобос": "F"},
		TotalColumn:   "AA",
		KeyRoles:      []string{"модератор"},
		SkipZero:      true,
	}

	result := reconcile.Reconcile(admins, ledger, opts)

	require.Len(t, result.Plan.Rows, 2)
	row := result.Plan.Rows[0]
	assert.Equal(t, 3, row.Row)
	assert.Equal(t, "1", row.AdminID)
	assert.Equal(t, []reconcile.CellUpdate{
		{Column: "E", Current: "4", New: "5"},
		{Column: "AA", Current: "", New: "5"},
	}, row.Cells)

	// Bob's E cell already holds 2, his total column is a write
	assert.Equal(t, []reconcile.CellUpdate{{Column: "AA", Current: "", New: "2"}}, result.Plan.Rows[1].Cells)
	assert.Equal(t, 1, result.Plan.Unchanged)
	assert.Equal(t, 3, result.Plan.CellCount())

	key := result.KeyPersonnel()
	require.Len(t, key, 1)
	assert.Equal(t, "3", key[0].AdminID)
	assert.Equal(t, 1, result.Diagnostics.Count(diagnostics.NoLedgerMatch))
}

func TestReconcile_Idempotent(t *testing.T) {
	t.Parallel()

	admins := []stats.GlobalAdmin{
		admin("2", "Alicia W.", map[string]int{"s1": 3}),
		admin("1", "bob", map[string]int{"s1": 1}),
		admin("3", "abcd", nil),
	}
	ledger := rows("Alice W.", "Bob", "abce", "abcf")
	opts := reconcile.Options{Threshold: 0.7, ServerColumns: map[string]string{"s1": "C"}}

	first := reconcile.Reconcile(admins, ledger, opts)
	second := reconcile.Reconcile(admins, ledger, opts)
	assert.Equal(t, first, second)

	assert.Equal(t, "1", first.Matches[0].AdminID, "matches are ordered by admin id")
	assert.Equal(t, "2", admins[0].AdminID, "input is not reordered")
}

func TestHasKeyRole(t *testing.T) {
	t.Parallel()

	keywords := []string{"модератор", "гейм-мастер"}
	assert.True(t, reconcile.HasKeyRole([]string{"Старший Модератор"}, keywords))
	assert.True(t, reconcile.HasKeyRole([]string{"Хост", "Гейм-Мастер"}, keywords))
	assert.False(t, reconcile.HasKeyRole([]string{"Хост"}, keywords))
	assert.False(t, reconcile.HasKeyRole(nil, keywords))
}
