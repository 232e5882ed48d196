package ledger

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxSlugLen = 32

// Slug derives a filesystem-safe fragment from a run title for use in the
// run directory name. Input is NFC-normalized first so visually identical
// titles produce identical directory names.
func Slug(title string) string {
	if title == "" {
		return ""
	}
	normalized := norm.NFC.String(strings.ToLower(title))
	var b strings.Builder
	for _, r := range normalized {
		switch {
		case r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	parts := strings.FieldsFunc(b.String(), func(r rune) bool { return r == '-' })
	slug := strings.Join(parts, "-")
	if len(slug) > maxSlugLen {
		slug = slug[:maxSlugLen]
		slug = strings.TrimRight(slug, "-")
	}
	return slug
}
