package service

import (
	"strings"
	"unicode/utf8"
)

// sanitizeText strips NUL bytes and invalid UTF-8 sequences. PostgreSQL
// rejects both in TEXT and JSONB columns, and OCR'd remote text carries them
// often enough to matter.
func sanitizeText(s string) string {
	if utf8.ValidString(s) && !strings.ContainsRune(s, 0) {
		return s
	}

	var result strings.Builder
	result.Grow(len(s))

	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if (r == utf8.RuneError && size == 1) || r == 0 {
			s = s[size:]
			continue
		}
		result.WriteRune(r)
		s = s[size:]
	}

	return result.String()
}
