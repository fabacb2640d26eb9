package model

import "time"

// Outcome of an upstream call as recorded in metrics and audit events.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

func (o Outcome) String() string { return string(o) }

// AuditEvent is published once per upstream call. It never carries tokens or credentials.
type AuditEvent struct {
	ID            string    `json:"id"` // ULID
	Operation     string    `json:"operation"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	StatusCode    int       `json:"status_code"`
	Outcome       Outcome   `json:"outcome"`
	DurationMs    int64     `json:"duration_ms"`
	OccurredAt    time.Time `json:"occurred_at"`
}
