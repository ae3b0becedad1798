package dto

// DocumentResponse is one processed document as the dashboard sees it,
// including a link back to the source document in Paperless.
type DocumentResponse struct {
	ID               int64                 `json:"id"`
	PaperlessDocID   int64                 `json:"paperless_doc_id"`
	Title            string                `json:"title"`
	DocumentType     string                `json:"document_type"`
	CreatedDate      *string               `json:"created_date"`
	ProcessedAt      string                `json:"processed_at"`
	RemoteModified   *string               `json:"remote_modified"`
	HasAnomalies     bool                  `json:"has_anomalies"`
	AnomalyTypes     []string              `json:"anomaly_types"`
	BalanceStatus    string                `json:"balance_status"`
	BalanceDiff      *float64              `json:"balance_diff"`
	BeginningBalance *float64              `json:"beginning_balance"`
	EndingBalance    *float64              `json:"ending_balance"`
	TotalCredits     *float64              `json:"total_credits"`
	TotalDebits      *float64              `json:"total_debits"`
	LayoutScore      *float64              `json:"layout_score"`
	LayoutIssues     []LayoutIssueResponse `json:"layout_issues"`
	Narrative        *string               `json:"narrative"`
	PaperlessURL     string                `json:"paperless_url"`
}

type LayoutIssueResponse struct {
	Line   int    `json:"line"`
	Sample string `json:"sample"`
	Issue  string `json:"issue"`
}

type DocumentListResponse struct {
	Total   int64              `json:"total"`
	Offset  int                `json:"offset"`
	Limit   int                `json:"limit"`
	Results []DocumentResponse `json:"results"`
}
