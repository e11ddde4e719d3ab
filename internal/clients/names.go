package clients

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NormalizeName folds a contracting-party name to its matching key: lower
// case, no diacritics, no periods or commas, single spaces. Two records whose
// keys are equal belong to the same client.
func NormalizeName(raw string) string {
	folded := strings.ToLower(strings.TrimSpace(raw))
	if folded == "" {
		return ""
	}
	// Chains carry state, so each call builds its own.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(stripMarks, folded); err == nil {
		folded = out
	}
	folded = strings.Map(func(r rune) rune {
		if r == '.' || r == ',' {
			return -1
		}
		return r
	}, folded)
	return strings.Join(strings.Fields(folded), " ")
}
