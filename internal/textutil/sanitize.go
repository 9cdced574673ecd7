package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FallbackFileName is returned when nothing printable survives sanitizing.
const FallbackFileName = "document"

// ASCIIFileName strips accents and replaces every rune outside printable
// ASCII, quotes and path separators with an underscore.
func ASCIIFileName(name string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	for _, r := range folded {
		switch {
		case r == '"' || r == '\\' || r == '/':
			b.WriteByte('_')
		case r < 0x20 || r > 0x7e:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" || strings.Trim(out, "_.") == "" {
		return FallbackFileName
	}
	return out
}
