package reconcile

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// staffPrefix marks a staff-only relay line and sometimes leaks into names.
const staffPrefix = "(s)"

// decorative reports whether r is formatting noise that never
// distinguishes two names.
func decorative(r rune) bool {
	switch r {
	case '*', '_', '~', '`', '|', '.', ',', '\'', '"':
		return true
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff':
		return true
	}
	return false
}

// Normalizer folds display names into a comparable form.
// This is not safe for concurrent use.
type Normalizer struct {
	transformer transform.Transformer
}

// NewNormalizer creates a new Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		transformer: transform.Chain(
			norm.NFKD,                          // Split accents from their letters
			runes.Remove(runes.In(unicode.Mn)), // Drop the accents
			runes.Map(unicode.ToLower),
			norm.NFKC,
			runes.Remove(runes.Predicate(decorative)),
		),
	}
}

// Normalize returns the comparable form of name, or "" when nothing is left.
func (n *Normalizer) Normalize(name string) string {
	if name == "" {
		return ""
	}

	result, _, err := transform.String(n.transformer, name)
	if err != nil {
		return ""
	}

	result = strings.TrimSpace(result)
	result = strings.TrimPrefix(result, staffPrefix)

	return strings.Join(strings.Fields(result), " ")
}
