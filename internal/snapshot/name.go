package snapshot

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// NameKey folds an entity name for lookup: case folded, diacritics removed
// and inner whitespace collapsed, so "Zürich", "zurich" and " ZÜRICH "
// share a key.
func NameKey(name string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, name)
	if err != nil {
		s = name
	}
	return cases.Fold().String(strings.Join(strings.Fields(s), " "))
}
