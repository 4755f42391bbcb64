// Package events records the outcome of every marketplace operation, either
// through the Postgres outbox or straight onto a Redis stream.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/marketplace-agent/internal/models"
)

type EventType string

const (
	EventTypeOperationCompleted EventType = "OPERATION_COMPLETED"
	EventTypeOperationFailed    EventType = "OPERATION_FAILED"

	AggregateType = "marketplace_operation"
	source        = "marketplace-agent"
)

// Recorder receives one call per finished operation.
type Recorder interface {
	Record(ctx context.Context, run *models.OperationRun) error
}

// NopRecorder discards runs.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, *models.OperationRun) error { return nil }

// RunPayload is the event body published for a run.
type RunPayload struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	models.OperationRun
}

func typeFor(run *models.OperationRun) EventType {
	if run.Success {
		return EventTypeOperationCompleted
	}
	return EventTypeOperationFailed
}

func newPayload(run *models.OperationRun) *RunPayload {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	return &RunPayload{
		EventID:      uuid.New().String(),
		EventType:    string(typeFor(run)),
		Timestamp:    time.Now(),
		Source:       source,
		OperationRun: *run,
	}
}

// aggregateID groups events by marketplace, falling back to the action for
// operations that have no target site.
func aggregateID(run *models.OperationRun) string {
	if run.Domain != "" {
		return run.Domain
	}
	return run.Action
}
