package extract

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	amountRe    = regexp.MustCompile(`\$?\s*\(?\s*([\d,]+\.\d{2})\s*\)?`)
	dateRe      = regexp.MustCompile(`\b\d{1,2}[-/]\d{1,2}([-/]\d{2,4})?\b`)
	checkLineRe = regexp.MustCompile(`\b(\d{4})\s+\d{1,2}[-/]\d{1,2}\s+\$?[\d,]+\.\d{2}`)
	pageRe      = regexp.MustCompile(`(?i)page\s+(\d+)\s+of\s+(\d+)`)
	decimalRe   = regexp.MustCompile(`\d+\.\d{2}`)
)

// PageMarker is one "page N of M" stamp found in OCR text.
type PageMarker struct {
	Page  int
	Total int
}

// ParseAmount parses a currency amount out of noisy OCR text: thousands
// separators, a leading $, stray ~ marks and spaces around digits, and
// parenthesized negatives. Absence is a value, not an error.
func ParseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.Contains(s, "(") && strings.Contains(s, ")") {
		negative = true
	}
	if strings.HasPrefix(s, "-") {
		negative = true
	}

	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.':
			return r
		default:
			return -1
		}
	}, s)

	if cleaned == "" || strings.Count(cleaned, ".") > 1 {
		return 0, false
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v, true
}

// FindAmounts returns every currency amount on a line, in order of
// appearance. Parenthesized amounts come back negative.
func FindAmounts(line string) []float64 {
	matches := amountRe.FindAllStringSubmatch(line, -1)
	if matches == nil {
		return nil
	}
	amounts := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, ok := ParseAmount(m[0])
		if !ok {
			continue
		}
		amounts = append(amounts, v)
	}
	return amounts
}

// AmountNear finds the first amount following any of the keywords, in
// "keyword[: ~] $1,234.56" shapes. Keywords are matched case-insensitively.
func AmountNear(text string, keywords []string) (float64, bool) {
	for _, kw := range keywords {
		re, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(kw) + `[\s:~]*\$?\s*\(?([\d,]+\.?\d*)\)?`)
		if err != nil {
			continue
		}
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, ok := ParseAmount(m[1])
		if !ok {
			continue
		}
		if strings.Contains(m[0], "(") && strings.Contains(m[0], ")") {
			v = -v
		}
		return v, true
	}
	return 0, false
}

// PageMarkers parses every "page N of M" stamp, case-insensitive. No repair
// of OCR letter/digit substitutions is attempted: unparsable markers are
// absent, not guessed.
func PageMarkers(text string) []PageMarker {
	matches := pageRe.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}
	markers := make([]PageMarker, 0, len(matches))
	for _, m := range matches {
		page, err1 := strconv.Atoi(m[1])
		total, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil {
			continue
		}
		markers = append(markers, PageMarker{Page: page, Total: total})
	}
	return markers
}

// HasDateToken reports whether the line contains a date-like token
// (1-2 digit day/month pairs, optionally with a year).
func HasDateToken(line string) bool {
	return dateRe.MatchString(line)
}

// HasAmountToken reports whether the line contains a currency amount.
func HasAmountToken(line string) bool {
	return amountRe.MatchString(line)
}

// MatchesCheckLine reports whether the line looks like a paid-check entry:
// a 4-digit check number followed by a date and an amount.
func MatchesCheckLine(line string) bool {
	return checkLineRe.MatchString(line)
}

// CheckNumbers returns the distinct check numbers found in check-line
// shapes, in order of first appearance.
func CheckNumbers(text string) []int {
	matches := checkLineRe.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}
	seen := make(map[int]struct{}, len(matches))
	var numbers []int
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		numbers = append(numbers, n)
	}
	return numbers
}

// AmountColumn returns the column of the first amount on the line ($ sign
// position if present, otherwise the start of the first decimal amount),
// or -1 when the line carries no amount.
func AmountColumn(line string) int {
	if pos := strings.IndexByte(line, '$'); pos >= 0 {
		return pos
	}
	if loc := decimalRe.FindStringIndex(line); loc != nil {
		return loc[0]
	}
	return -1
}
