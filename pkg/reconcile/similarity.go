package reconcile

// Similarity computes a normalized similarity score between two strings.
// Returns a value between 0.0 (completely different) and 1.0 (identical).
func Similarity(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}

	runes1, runes2 := []rune(s1), []rune(s2)
	if len(runes1) == 0 || len(runes2) == 0 {
		return 0.0
	}

	distance := levenshteinDistance(runes1, runes2)
	maxLen := float64(max(len(runes1), len(runes2)))

	return 1.0 - float64(distance)/maxLen
}

// levenshteinDistance calculates the minimum number of single-rune
// insertions, deletions or substitutions turning one string into the other.
func levenshteinDistance(runes1, runes2 []rune) int {
	// Two rows are enough since each cell only looks one row back
	prev := make([]int, len(runes2)+1)
	curr := make([]int, len(runes2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(runes1); i++ {
		curr[0] = i
		for j := 1; j <= len(runes2); j++ {
			cost := 1
			if runes1[i-1] == runes2[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(runes2)]
}

// commonPrefixLen returns the number of leading runes s1 and s2 share.
func commonPrefixLen(s1, s2 string) int {
	runes1, runes2 := []rune(s1), []rune(s2)
	n := 0
	for n < len(runes1) && n < len(runes2) && runes1[n] == runes2[n] {
		n++
	}
	return n
}
