package detect

import (
	"fmt"
	"sort"
	"strings"

	"docsentry/internal/extract"
	"docsentry/internal/models"
)

// DetectCheckSequenceGap finds missing check numbers between the lowest and
// highest checks paid on a bank statement. Large gaps are ignored: a handful
// of missing numbers points at checks unaccounted for on this statement,
// hundreds just means an old checkbook.
func DetectCheckSequenceGap(docType models.DocumentType, content string) *models.Finding {
	if docType != models.DocumentTypeBankStatement {
		return nil
	}

	numbers := extract.CheckNumbers(content)
	if len(numbers) < 2 {
		return nil
	}
	sort.Ints(numbers)

	var missing []int
	for i := 0; i < len(numbers)-1; i++ {
		for n := numbers[i] + 1; n < numbers[i+1]; n++ {
			missing = append(missing, n)
		}
	}

	if len(missing) == 0 || len(missing) > checkGapMaxMissing {
		return nil
	}

	parts := make([]string, len(missing))
	for i, n := range missing {
		parts[i] = fmt.Sprintf("%d", n)
	}
	return &models.Finding{
		Type:     models.AnomalyCheckSequenceGap,
		Severity: models.SeverityMedium,
		Description: fmt.Sprintf(
			"Missing check numbers in sequence: %s. These checks may be unaccounted for on this statement",
			strings.Join(parts, ", "),
		),
	}
}
