package detect

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"docsentry/internal/extract"
	"docsentry/internal/models"
)

// boilerplateKeywords marks structural lines that legitimately repeat on
// every page: column headers, bank footers, filing stamps. Repetition of
// these is never a duplicate-transaction signal.
var boilerplateKeywords = []string{
	"page", "account", "statement", "balance", "date", "description",
	"amount", "check", "deposit", "withdrawal", "branch", "address",
	"customer service", "member fdic", "routing",
	"annual percentage yield", "apy earned", "interest paid", "interest earned",
	"average daily balance", "minimum balance", "overdraft",
	"service charge", "maintenance fee",
	"filed:", "index no.", "county clerk",
	"confidential", "draft", "privileged",
}

var (
	amountFirstRe = regexp.MustCompile(`^\s*\$[\d,]+\.\d{2}\s+[A-Za-z]`)
	totalLabelRe  = regexp.MustCompile(`(?i)\b(total|subtotal|sum|amount due|balance due)\b`)
	danglingRe    = regexp.MustCompile(`(?im)^.*\b(total|sum|subtotal)\b[\s:]*$`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

const (
	duplicateMinLen     = 20
	reversedMinCues     = 3
	checkGapMaxMissing  = 5
	duplicateMaxSamples = 3
)

// DetectDuplicateLines flags repeated transaction-shaped lines. A line
// qualifies only when it carries both a date token and an amount token, or
// matches a check-line shape, and is not structural boilerplate. Lines are
// compared after whitespace collapsing.
func DetectDuplicateLines(content string) *models.Finding {
	counts := make(map[string]int)
	var order []string

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if len(line) <= duplicateMinLen {
			continue
		}
		shaped := (extract.HasDateToken(line) && extract.HasAmountToken(line)) ||
			extract.MatchesCheckLine(line)
		if !shaped || isBoilerplate(line) {
			continue
		}
		key := spaceRe.ReplaceAllString(line, " ")
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}

	var dupes []string
	for _, key := range order {
		if counts[key] > 1 {
			dupes = append(dupes, key)
		}
	}
	if len(dupes) == 0 {
		return nil
	}

	samples := dupes
	if len(samples) > duplicateMaxSamples {
		samples = samples[:duplicateMaxSamples]
	}
	return &models.Finding{
		Type:     models.AnomalyDuplicateLines,
		Severity: models.SeverityMedium,
		Description: fmt.Sprintf(
			"Found %d duplicate transaction lines, e.g. %q",
			len(dupes), samples[0],
		),
	}
}

func isBoilerplate(line string) bool {
	lower := strings.ToLower(line)
	for _, kw := range boilerplateKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DetectReversedColumns looks for sign and position cues that the debit
// column systematically carries credit-style values: amounts sitting before
// the description, or two-amount transaction lines whose first amount is
// parenthesized. The heuristic is approximate, so severity never exceeds
// medium.
func DetectReversedColumns(content string) *models.Finding {
	var cues, txnLines int

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if amountFirstRe.MatchString(line) {
			txnLines++
			cues++
			continue
		}
		if !extract.HasDateToken(line) {
			continue
		}
		amounts := extract.FindAmounts(line)
		if len(amounts) < 2 {
			continue
		}
		txnLines++
		if amounts[0] < 0 {
			cues++
		}
	}

	if cues < reversedMinCues || cues*5 < txnLines*3 {
		return nil
	}

	return &models.Finding{
		Type:     models.AnomalyReversedColumns,
		Severity: models.SeverityMedium,
		Description: fmt.Sprintf(
			"Possible reversed column order: %d of %d transaction lines carry amounts in the description position",
			cues, txnLines,
		),
	}
}

// DetectTruncatedTotal applies only to document types expected to carry a
// total line. It flags a document with no total label at all, or with a
// label dangling at end of line without an amount.
func DetectTruncatedTotal(docType models.DocumentType, content string) *models.Finding {
	if docType != models.DocumentTypeInvoice && docType != models.DocumentTypeReceipt {
		return nil
	}

	if !totalLabelRe.MatchString(content) {
		return &models.Finding{
			Type:        models.AnomalyTruncatedTotal,
			Severity:    models.SeverityMedium,
			Description: "Expected a total line but none was found",
		}
	}

	if m := danglingRe.FindString(content); m != "" {
		return &models.Finding{
			Type:        models.AnomalyTruncatedTotal,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("Total label without corresponding amount: %q", strings.TrimSpace(m)),
		}
	}

	return nil
}

// DetectPageDiscontinuity reconciles "page N of M" stamps. Documents
// without any stamp are never flagged. With stamps present, the distinct
// page numbers found must account for the declared total, and the found
// sequence must be gap-free.
func DetectPageDiscontinuity(content string) *models.Finding {
	markers := extract.PageMarkers(content)
	if len(markers) == 0 {
		return nil
	}

	found := make(map[int]struct{})
	declared := 0
	for _, m := range markers {
		found[m.Page] = struct{}{}
		if m.Total > declared {
			declared = m.Total
		}
	}

	maxFound := 0
	for page := range found {
		if page > maxFound {
			maxFound = page
		}
	}

	var gaps []int
	for page := 1; page <= maxFound; page++ {
		if _, ok := found[page]; !ok {
			gaps = append(gaps, page)
		}
	}
	sort.Ints(gaps)

	switch {
	case len(gaps) > 0:
		return &models.Finding{
			Type:     models.AnomalyPageDiscontinuity,
			Severity: models.SeverityHigh,
			Description: fmt.Sprintf(
				"Page sequence has gaps: stamps missing for pages %v of declared %d",
				gaps, declared,
			),
		}
	case len(found) != declared:
		return &models.Finding{
			Type:     models.AnomalyPageDiscontinuity,
			Severity: models.SeverityMedium,
			Description: fmt.Sprintf(
				"Page stamps found for %d pages but headers declare %d",
				len(found), declared,
			),
		}
	}

	return nil
}
