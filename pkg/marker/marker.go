// Package marker classifies ahelp relay text by its inbox/outbox marker tokens.
package marker

import "strings"

// Kind is a set of marker classifications.
type Kind uint8

const (
	// Outbox marks an admin response to a player.
	Outbox Kind = 1 << iota
	// Inbox marks a player help request.
	Inbox
)

// None is the empty classification.
const None Kind = 0

// Marker tokens. Both the shortcode and the rendered glyph are accepted.
var (
	OutboxTokens = []string{":outbox_tray:", "📤"}
	InboxTokens  = []string{":inbox_tray:", "📥"}
)

// Classify returns the set of markers present in body.
func Classify(body string) Kind {
	kind := None
	if containsAny(body, OutboxTokens) {
		kind |= Outbox
	}
	if containsAny(body, InboxTokens) {
		kind |= Inbox
	}
	return kind
}

// Has reports whether k contains every marker in other.
func (k Kind) Has(other Kind) bool {
	return other != None && k&other == other
}

func (k Kind) String() string {
	switch k {
	case None:
		return "none"
	case Outbox:
		return "outbox"
	case Inbox:
		return "inbox"
	case Outbox | Inbox:
		return "inbox+outbox"
	default:
		return "unknown"
	}
}

// IsMarkerLine reports whether a single line carries any marker.
func IsMarkerLine(line string) bool {
	return Classify(line) != None
}

func containsAny(s string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}
