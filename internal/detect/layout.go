package detect

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"docsentry/internal/extract"
	"docsentry/internal/models"
)

const (
	layoutMinLines       = 10
	garbledDensity       = 0.4
	truncationMinLen     = 50
	misalignMinRun       = 5
	misalignMaxDeviation = 20
	emptyBlockMinLines   = 20
	sampleMaxLen         = 80
)

// Issue weights for the quality score. Corruption and missing content hurt
// more than formatting drift.
var issueWeights = map[string]float64{
	issueGarbled:    1.0,
	issueTruncated:  0.4,
	issueMisaligned: 0.6,
	issueEmptyBlock: 0.8,
}

const (
	issueGarbled    = "excessive special characters"
	issueTruncated  = "line appears truncated"
	issueMisaligned = "amount column misaligned"
	issueEmptyBlock = "large empty block"
)

const scoreScale = 5.0

// LayoutOutcome is the layout analyzer's verdict: a 0-1 quality score, the
// line-addressable issue list, and a finding when the score crosses the
// configured threshold. Short documents produce no score at all.
type LayoutOutcome struct {
	Score   *float64
	Issues  []models.LayoutIssue
	Finding *models.Finding
}

// AnalyzeLayout scans the text line by line for OCR corruption, truncation,
// column misalignment and missing-content blocks. The issue list is the
// primary signal; the score summarizes it.
func AnalyzeLayout(content string, scoreThreshold float64) LayoutOutcome {
	lines := strings.Split(content, "\n")
	if len(lines) < layoutMinLines {
		return LayoutOutcome{}
	}

	var issues []models.LayoutIssue
	issues = append(issues, garbledLines(lines)...)
	issues = append(issues, truncatedLines(lines)...)
	issues = append(issues, misalignedAmounts(lines)...)
	issues = append(issues, emptyBlocks(lines)...)

	score := 1.0
	if len(issues) > 0 {
		var weighted float64
		for _, issue := range issues {
			weighted += issueWeights[issueKey(issue.Issue)]
		}
		density := weighted / float64(len(lines))
		score = 1.0 - math.Min(1.0, density*scoreScale)
	}

	outcome := LayoutOutcome{Score: &score, Issues: issues}

	if score < scoreThreshold {
		severity := models.SeverityMedium
		if score < scoreThreshold/2 {
			severity = models.SeverityHigh
		}
		outcome.Finding = &models.Finding{
			Type:     models.AnomalyLayoutIrregularity,
			Severity: severity,
			Description: fmt.Sprintf(
				"Layout quality score %.2f with %d issues, e.g. %s (line %d)",
				score, len(issues), issues[0].Issue, issues[0].Line,
			),
		}
	}

	return outcome
}

// issueKey maps an issue description back to its weight class. Empty-block
// descriptions carry a line count suffix.
func issueKey(desc string) string {
	if strings.HasPrefix(desc, issueEmptyBlock) {
		return issueEmptyBlock
	}
	return desc
}

func garbledLines(lines []string) []models.LayoutIssue {
	var issues []models.LayoutIssue
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) <= 10 {
			continue
		}
		var alnum, special int
		for _, r := range trimmed {
			switch {
			case unicode.IsLetter(r) || unicode.IsDigit(r):
				alnum++
			case unicode.IsSpace(r) || strings.ContainsRune(`.,:;-()/$%#&'"`, r):
				// ordinary punctuation, not evidence of corruption
			default:
				special++
			}
		}
		if alnum > 0 && float64(special)/float64(alnum+special) > garbledDensity {
			issues = append(issues, models.LayoutIssue{
				Line:   i + 1,
				Sample: sample(trimmed),
				Issue:  issueGarbled,
			})
		}
	}
	return issues
}

func truncatedLines(lines []string) []models.LayoutIssue {
	var issues []models.LayoutIssue
	for i := 0; i < len(lines)-1; i++ {
		stripped := strings.TrimRight(lines[i], " \t")
		if len(stripped) <= truncationMinLen {
			continue
		}
		last, _ := utf8.DecodeLastRuneInString(stripped)
		if !unicode.IsLetter(last) && !unicode.IsDigit(last) {
			continue
		}
		next := strings.TrimLeft(lines[i+1], " \t")
		if next == "" {
			continue
		}
		first := []rune(next)[0]
		if unicode.IsLower(first) {
			issues = append(issues, models.LayoutIssue{
				Line:   i + 1,
				Sample: sample(stripped),
				Issue:  issueTruncated,
			})
		}
	}
	return issues
}

// misalignedAmounts looks for tabular regions: runs of consecutive
// amount-bearing lines. Within a run the amount column should hold steady;
// a line deviating far from the run median breaks the table shape.
func misalignedAmounts(lines []string) []models.LayoutIssue {
	var issues []models.LayoutIssue

	type posLine struct {
		idx int
		pos int
	}
	var run []posLine

	flush := func() {
		defer func() { run = nil }()
		if len(run) < misalignMinRun {
			return
		}
		positions := make([]int, len(run))
		for i, pl := range run {
			positions[i] = pl.pos
		}
		sort.Ints(positions)
		median := positions[len(positions)/2]
		for _, pl := range run {
			if abs(pl.pos-median) > misalignMaxDeviation {
				issues = append(issues, models.LayoutIssue{
					Line:   pl.idx + 1,
					Sample: sample(strings.TrimSpace(lines[pl.idx])),
					Issue:  issueMisaligned,
				})
			}
		}
	}

	for i, line := range lines {
		pos := extract.AmountColumn(line)
		if pos >= 0 {
			run = append(run, posLine{idx: i, pos: pos})
			continue
		}
		flush()
	}
	flush()

	return issues
}

// emptyBlocks flags long blank runs inside the content, skipping those that
// sit against a page marker since a page boundary naturally carries them.
func emptyBlocks(lines []string) []models.LayoutIssue {
	var issues []models.LayoutIssue

	start := -1
	for i := 0; i <= len(lines); i++ {
		blank := i < len(lines) && strings.TrimSpace(lines[i]) == ""
		if blank {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			length := i - start
			if length > emptyBlockMinLines && start > 0 && i < len(lines) && !nearPageMarker(lines, start, i) {
				issues = append(issues, models.LayoutIssue{
					Line:   start + 1,
					Sample: fmt.Sprintf("[%d blank lines]", length),
					Issue:  fmt.Sprintf("%s (%d blank lines)", issueEmptyBlock, length),
				})
			}
			start = -1
		}
	}

	return issues
}

func nearPageMarker(lines []string, start, end int) bool {
	if start > 0 && len(extract.PageMarkers(lines[start-1])) > 0 {
		return true
	}
	if end < len(lines) && len(extract.PageMarkers(lines[end])) > 0 {
		return true
	}
	return false
}

func sample(s string) string {
	if len(s) <= sampleMaxLen {
		return s
	}
	runes := []rune(s)
	if len(runes) > sampleMaxLen {
		runes = runes[:sampleMaxLen]
	}
	return string(runes)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
