package models

// DashboardStats aggregates the persisted detection state.
type DashboardStats struct {
	TotalDocuments         int64                   `json:"total_documents"`
	DocumentsWithAnomalies int64                   `json:"documents_with_anomalies"`
	UnresolvedAnomalies    int64                   `json:"unresolved_anomalies"`
	AnomaliesByType        map[AnomalyType]int64   `json:"anomalies_by_type"`
	BalanceStatusCounts    map[BalanceStatus]int64 `json:"balance_status_counts"`
}
