package classify

import (
	"strings"

	"docsentry/internal/models"
)

// rules are ordered most specific first; the first rule with any keyword
// present in the title or content wins. Credit card statements must be
// checked before bank statements since both carry "statement".
var rules = []struct {
	docType  models.DocumentType
	keywords []string
}{
	{
		docType: models.DocumentTypeCreditCard,
		keywords: []string{
			"credit card", "card statement", "minimum payment",
			"credit limit", "card ending in", "payment due date",
		},
	},
	{
		docType: models.DocumentTypeBankStatement,
		keywords: []string{
			"bank statement", "account summary", "checking account",
			"savings account", "beginning balance", "statement", "bank",
		},
	},
	{
		docType: models.DocumentTypeInvoice,
		keywords: []string{
			"invoice", "bill to", "amount due", "remit to",
		},
	},
	{
		docType: models.DocumentTypeReceipt,
		keywords: []string{
			"receipt", "cash tendered", "change due", "thank you for your purchase",
		},
	},
}

// Classify maps a document's title and OCR content to one of the closed
// document types. Deterministic and side-effect-free: identical input
// always yields the identical type.
func Classify(title, content string) models.DocumentType {
	titleLower := strings.ToLower(title)
	contentLower := strings.ToLower(content)

	for _, rule := range rules {
		for _, kw := range rule.keywords {
			if strings.Contains(titleLower, kw) || strings.Contains(contentLower, kw) {
				return rule.docType
			}
		}
	}
	return models.DocumentTypeUnknown
}
