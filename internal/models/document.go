package models

import "time"

type DocumentType string

const (
	DocumentTypeBankStatement DocumentType = "bank_statement"
	DocumentTypeCreditCard    DocumentType = "credit_card"
	DocumentTypeInvoice       DocumentType = "invoice"
	DocumentTypeReceipt       DocumentType = "receipt"
	DocumentTypeUnknown       DocumentType = "unknown"
)

type BalanceStatus string

const (
	BalancePass          BalanceStatus = "PASS"
	BalanceWarning       BalanceStatus = "WARNING"
	BalanceFail          BalanceStatus = "FAIL"
	BalanceNotApplicable BalanceStatus = "NOT_APPLICABLE"
)

// ProcessedDocument is the local record of one remote document's latest
// detection pass. It is replaced wholesale on reprocessing, never merged.
type ProcessedDocument struct {
	ID               int64          `db:"id"`
	PaperlessDocID   int64          `db:"paperless_doc_id"`
	Title            string         `db:"title"`
	DocumentType     DocumentType   `db:"document_type"`
	CreatedDate      *time.Time     `db:"created_date"`
	ProcessedAt      time.Time      `db:"processed_at"`
	RemoteModified   *time.Time     `db:"remote_modified"`
	HasAnomalies     bool           `db:"has_anomalies"`
	BalanceStatus    BalanceStatus  `db:"balance_status"`
	BalanceDiff      *float64       `db:"balance_diff"`
	BeginningBalance *float64       `db:"beginning_balance"`
	EndingBalance    *float64       `db:"ending_balance"`
	TotalCredits     *float64       `db:"total_credits"`
	TotalDebits      *float64       `db:"total_debits"`
	LayoutScore      *float64       `db:"layout_score"`
	LayoutIssues     []LayoutIssue  `db:"layout_issues"`
	Narrative        *string        `db:"narrative"`
}

// LayoutIssue is one structural problem found by the layout analyzer,
// anchored to a 1-based line number.
type LayoutIssue struct {
	Line   int    `json:"line"`
	Sample string `json:"sample"`
	Issue  string `json:"issue"`
}
