package models

import (
	"time"

	"github.com/google/uuid"
)

// OperationRun records one public operation for the journal and event stream.
type OperationRun struct {
	ID        uuid.UUID     `json:"id"`
	Action    string        `json:"action"`
	Domain    string        `json:"domain,omitempty"`
	URL       string        `json:"url,omitempty"`
	Query     string        `json:"query,omitempty"`
	Success   bool          `json:"success"`
	ErrorKind ErrorKind     `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
	Items     int           `json:"items"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}
