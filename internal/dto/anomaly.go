package dto

type AnomalyResponse struct {
	ID             int64    `json:"id"`
	PaperlessDocID int64    `json:"paperless_doc_id"`
	DetectedAt     string   `json:"detected_at"`
	AnomalyType    string   `json:"anomaly_type"`
	Severity       string   `json:"severity"`
	Description    string   `json:"description"`
	Amount         *float64 `json:"amount"`
	Resolved       bool     `json:"resolved"`
}

type AnomalyListResponse struct {
	Total   int64             `json:"total"`
	Offset  int               `json:"offset"`
	Limit   int               `json:"limit"`
	Results []AnomalyResponse `json:"results"`
}

// ResolveRequest toggles an anomaly's resolved flag. An absent body resolves.
type ResolveRequest struct {
	Resolved *bool `json:"resolved"`
}
