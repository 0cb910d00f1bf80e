package messaging

import "time"

// FactsReadyPayload announces the outcome of one image analysis. On failure
// the cache holds nothing for the trace id and Error carries the reason.
type FactsReadyPayload struct {
	TraceID     string    `json:"traceId"`
	ProjectID   string    `json:"projectId"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	CompletedAt time.Time `json:"completedAt"`
}
