package dto

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// TriggerResponse acknowledges a manually triggered reconciliation pass. The
// pass itself runs in the background.
type TriggerResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}
