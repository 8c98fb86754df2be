package ledger

import (
	"fmt"
	"io"
	"strings"

	"github.com/ahelp-tools/ahelp-stats/pkg/reconcile"
)

// Preview writes a dry-run report of a reconciliation: the cells that
// would change, fuzzy matches to double-check, ambiguous names, and key
// personnel missing from the ledger.
func Preview(w io.Writer, result *reconcile.Result) error {
	p := &printer{w: w}

	counts := make(map[reconcile.Confidence]int)
	var ambiguous, missing, other []reconcile.Match
	for _, m := range result.Matches {
		counts[m.Confidence]++
		switch {
		case m.Matched():
		case m.Reason == reconcile.ReasonAmbiguous:
			ambiguous = append(ambiguous, m)
		case m.KeyPersonnel:
			missing = append(missing, m)
		default:
			other = append(other, m)
		}
	}

	p.printf("Ledger update preview\n")
	p.printf("Matched: %d (exact %d, normalized %d, fuzzy %d), unmatched %d\n",
		len(result.Matches)-counts[reconcile.Unmatched],
		counts[reconcile.Exact], counts[reconcile.NormalizedExact], counts[reconcile.Fuzzy],
		counts[reconcile.Unmatched])
	p.printf("Cell updates: %d in %d row(s), %d cell(s) already current\n",
		result.Plan.CellCount(), len(result.Plan.Rows), result.Plan.Unchanged)

	if len(result.Plan.Rows) > 0 {
		p.printf("\n")
	}
	for _, row := range result.Plan.Rows {
		flag := ""
		if row.Confidence == reconcile.Fuzzy {
			flag = "  [fuzzy, check]"
		}
		p.printf("Row %d  %s <- %s%s\n", row.Row, row.LedgerName, row.AdminID, flag)
		for _, c := range row.Cells {
			current := c.Current
			if current == "" {
				current = "(empty)"
			}
			p.printf("    %s: %s -> %s\n", c.Column, current, c.New)
		}
	}

	if len(ambiguous) > 0 {
		p.printf("\nAmbiguous (not updated):\n")
		for _, m := range ambiguous {
			p.printf("  - %s: %s\n", label(m), strings.Join(m.Candidates, ", "))
		}
	}

	if len(missing) > 0 {
		p.printf("\n!!! Key personnel missing from the ledger, add them manually:\n")
		for _, m := range missing {
			p.printf("  - %s (roles: %s)\n", label(m), strings.Join(m.Roles, ", "))
		}
	}

	if len(other) > 0 {
		p.printf("\nNot in ledger: %d other admin(s)\n", len(other))
	}

	return p.err
}

func label(m reconcile.Match) string {
	if m.DisplayName == "" || m.DisplayName == m.AdminID {
		return m.AdminID
	}
	return fmt.Sprintf("%s [%s]", m.DisplayName, m.AdminID)
}

type printer struct {
	w   io.Writer
	err error
}

func (p *printer) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}
