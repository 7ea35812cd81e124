package matcher

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds a place name for comparison: accents removed, lower-cased,
// inner whitespace collapsed, and surrounding punctuation trimmed.
func Normalize(s string) string {
	s, _, _ = transform.String(
		transform.Chain(
			norm.NFD,
			runes.Remove(runes.In(unicode.Mn)),
			norm.NFC,
		),
		strings.ToLower(s),
	)
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

// Components splits a comma-separated location chain into normalized parts,
// most specific first. Empty parts are dropped.
func Components(s string) []string {
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if n := Normalize(p); n != "" {
			parts = append(parts, n)
		}
	}
	return parts
}

// containsWord reports whether needle occurs in hay on word boundaries.
// Both arguments must already be normalized.
func containsWord(hay, needle string) bool {
	if needle == "" || len(needle) > len(hay) {
		return false
	}
	for offset := 0; offset <= len(hay)-len(needle); {
		i := strings.Index(hay[offset:], needle)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(needle)
		if boundaryBefore(hay, start) && boundaryAfter(hay, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r := rune(s[i-1])
	return !isWordByte(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return !isWordByte(rune(s[i]))
}

// isWordByte treats any non-ASCII byte as part of a word so multi-byte
// letters never create a false boundary.
func isWordByte(r rune) bool {
	return r >= 0x80 || unicode.IsLetter(r) || unicode.IsDigit(r)
}
