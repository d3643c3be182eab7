package utils

import (
	"strings"
	"unicode"
)

// NormalizePlate upper-cases s and keeps only letters and digits, so OCR
// noise such as spaces, dashes and brackets does not split one plate into
// several keys. It returns "" when nothing recognisable is left.
func NormalizePlate(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
