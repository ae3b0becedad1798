package detect

import (
	"fmt"
	"math"

	"docsentry/internal/extract"
	"docsentry/internal/models"
)

// balanceKeywords maps a document type to the keyword sets used to pull the
// four balance figures out of its text. Credits are the balance-increasing
// total and debits the balance-decreasing one, so for credit card statements
// charges land in credits and payments in debits.
var balanceKeywords = map[models.DocumentType]struct {
	beginning []string
	ending    []string
	credits   []string
	debits    []string
}{
	models.DocumentTypeBankStatement: {
		beginning: []string{"beginning balance", "opening balance", "previous balance"},
		ending:    []string{"ending balance", "closing balance", "new balance", "current balance"},
		credits: []string{
			"total additions", "total deposits", "total credits",
			"deposits and additions", "deposits & additions",
		},
		debits: []string{
			"total subtractions", "total withdrawals", "total debits",
			"paper checks paid", "checks paid", "withdrawals and subtractions",
		},
	},
	models.DocumentTypeCreditCard: {
		beginning: []string{"previous balance", "beginning balance"},
		ending:    []string{"new balance", "ending balance", "statement balance"},
		credits: []string{
			"purchases and adjustments", "total purchases", "new charges",
			"total charges", "fees charged",
		},
		debits: []string{
			"payments and credits", "total payments", "payments received",
		},
	},
}

// BalanceOutcome carries the balance verdict together with the four
// extracted figures for auditability.
type BalanceOutcome struct {
	Status    models.BalanceStatus
	Diff      *float64
	Beginning *float64
	Ending    *float64
	Credits   *float64
	Debits    *float64
	Finding   *models.Finding
}

// CheckBalance verifies beginning + credits - debits against the stated
// ending balance. diff = expected - ending, signed. Missing figures make
// the check NOT_APPLICABLE rather than an error.
func CheckBalance(docType models.DocumentType, content string, tolerance, warnThreshold float64) BalanceOutcome {
	keywords, ok := balanceKeywords[docType]
	if !ok {
		return BalanceOutcome{Status: models.BalanceNotApplicable}
	}

	beginning, okB := extract.AmountNear(content, keywords.beginning)
	ending, okE := extract.AmountNear(content, keywords.ending)
	credits, okC := extract.AmountNear(content, keywords.credits)
	debits, okD := extract.AmountNear(content, keywords.debits)

	if !okB || !okE || !okC || !okD {
		return BalanceOutcome{Status: models.BalanceNotApplicable}
	}

	expected := beginning + credits - debits
	// Rounded to cents so a diff landing exactly on the tolerance compares
	// cleanly despite float noise.
	diff := round2(expected - ending)

	outcome := BalanceOutcome{
		Diff:      &diff,
		Beginning: &beginning,
		Ending:    &ending,
		Credits:   &credits,
		Debits:    &debits,
	}

	switch {
	case math.Abs(diff) <= tolerance:
		outcome.Status = models.BalancePass
	case math.Abs(diff) <= warnThreshold:
		outcome.Status = models.BalanceWarning
	default:
		outcome.Status = models.BalanceFail
		severity := models.SeverityMedium
		if math.Abs(diff) > 100 {
			severity = models.SeverityHigh
		}
		amount := diff
		outcome.Finding = &models.Finding{
			Type:     models.AnomalyBalanceMismatch,
			Severity: severity,
			Description: fmt.Sprintf(
				"Balance mismatch: beginning %.2f + credits %.2f - debits %.2f = %.2f, but statement shows %.2f (difference %.2f)",
				beginning, credits, debits, expected, ending, diff,
			),
			Amount: &amount,
		}
	}

	return outcome
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
