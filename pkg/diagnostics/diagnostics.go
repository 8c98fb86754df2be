package diagnostics

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies a recoverable data problem found during a run.
type Kind string

const (
	MalformedMessage  Kind = "malformed_message"
	OutOfOrderLog     Kind = "out_of_order_log"
	OrphanResponse    Kind = "orphan_response"
	AmbiguousIdentity Kind = "ambiguous_identity"
	NoLedgerMatch     Kind = "no_ledger_match"
	SkippedSession    Kind = "skipped_session"
	AbortedChannel    Kind = "aborted_channel"
)

// Kinds lists every kind in report order.
var Kinds = []Kind{
	MalformedMessage,
	OutOfOrderLog,
	OrphanResponse,
	AmbiguousIdentity,
	NoLedgerMatch,
	SkippedSession,
	AbortedChannel,
}

// Summary counts diagnostics per kind. The zero value is ready to use.
// It is not safe for concurrent use; each channel worker owns its own.
type Summary struct {
	Counts map[Kind]int `json:"counts"`
}

// Add records n occurrences of kind.
func (s *Summary) Add(kind Kind, n int) {
	if n == 0 {
		return
	}
	if s.Counts == nil {
		s.Counts = make(map[Kind]int)
	}
	s.Counts[kind] += n
}

// Inc records a single occurrence of kind.
func (s *Summary) Inc(kind Kind) {
	s.Add(kind, 1)
}

// Count returns the number of occurrences recorded for kind.
func (s *Summary) Count(kind Kind) int {
	return s.Counts[kind]
}

// Total returns the number of occurrences across all kinds.
func (s *Summary) Total() int {
	total := 0
	for _, n := range s.Counts {
		total += n
	}
	return total
}

// Merge adds every count of other into s.
func (s *Summary) Merge(other Summary) {
	for kind, n := range other.Counts {
		s.Add(kind, n)
	}
}

// String renders the non-zero counts in a stable order.
func (s *Summary) String() string {
	if s.Total() == 0 {
		return "no diagnostics"
	}

	parts := make([]string, 0, len(s.Counts))
	seen := make(map[Kind]bool, len(Kinds))
	for _, kind := range Kinds {
		seen[kind] = true
		if n := s.Counts[kind]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", kind, n))
		}
	}

	// Unknown kinds go last, sorted
	var extra []string
	for kind, n := range s.Counts {
		if !seen[kind] && n > 0 {
			extra = append(extra, fmt.Sprintf("%s=%d", kind, n))
		}
	}
	sort.Strings(extra)

	return strings.Join(append(parts, extra...), " ")
}
