package models

import "time"

type AnomalyType string

const (
	AnomalyBalanceMismatch     AnomalyType = "balance_mismatch"
	AnomalyLayoutIrregularity  AnomalyType = "layout_irregularity"
	AnomalyDuplicateLines      AnomalyType = "duplicate_lines"
	AnomalyReversedColumns     AnomalyType = "reversed_columns"
	AnomalyTruncatedTotal      AnomalyType = "truncated_total"
	AnomalyPageDiscontinuity   AnomalyType = "page_discontinuity"
	AnomalyCheckSequenceGap    AnomalyType = "check_sequence_gap"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// AnomalyLog is one persisted finding. Rows for a document are dropped and
// recreated together with the parent record on every detection pass.
type AnomalyLog struct {
	ID             int64       `db:"id"`
	PaperlessDocID int64       `db:"paperless_doc_id"`
	Type           AnomalyType `db:"anomaly_type"`
	Severity       Severity    `db:"severity"`
	Description    string      `db:"description"`
	Amount         *float64    `db:"amount"`
	DetectedAt     time.Time   `db:"detected_at"`
	Resolved       bool        `db:"resolved"`
}

// Finding is a detector result before persistence.
type Finding struct {
	Type        AnomalyType
	Severity    Severity
	Description string
	Amount      *float64
}

// DetectionResult is the full output of one engine pass over a document.
type DetectionResult struct {
	DocumentType     DocumentType
	BalanceStatus    BalanceStatus
	BalanceDiff      *float64
	BeginningBalance *float64
	EndingBalance    *float64
	TotalCredits     *float64
	TotalDebits      *float64
	LayoutScore      *float64
	LayoutIssues     []LayoutIssue
	Findings         []Finding
}

// AnomalyTypes lists the distinct finding types in first-seen order.
func (r DetectionResult) AnomalyTypes() []AnomalyType {
	seen := make(map[AnomalyType]struct{}, len(r.Findings))
	var types []AnomalyType
	for _, f := range r.Findings {
		if _, ok := seen[f.Type]; ok {
			continue
		}
		seen[f.Type] = struct{}{}
		types = append(types, f.Type)
	}
	return types
}
