package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/maltedev/marketplace-agent/internal/database"
	"github.com/maltedev/marketplace-agent/internal/models"
)

// TxRunner runs a function inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(pgx.Tx) error) error
}

type runInserter interface {
	InsertWithTx(ctx context.Context, tx database.Execer, run *models.OperationRun) error
}

type outboxInserter interface {
	InsertWithTx(ctx context.Context, tx database.Execer, event *database.OutboxEvent) error
}

// Publisher journals a run and queues its event in the same transaction; the
// relay forwards queued events to Redis.
type Publisher struct {
	db     TxRunner
	runs   runInserter
	outbox outboxInserter
	stream string
	logger *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return newPublisher(db, database.NewRunRepository(db), database.NewOutboxRepository(db), stream, logger)
}

func newPublisher(db TxRunner, runs runInserter, outbox outboxInserter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultTargetStream
	}
	return &Publisher{
		db:     db,
		runs:   runs,
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

func (p *Publisher) Record(ctx context.Context, run *models.OperationRun) error {
	payload := newPayload(run)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	outboxEvent := &database.OutboxEvent{
		AggregateType: AggregateType,
		AggregateID:   aggregateID(run),
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  p.stream,
	}

	err = p.db.WithTx(ctx, func(tx pgx.Tx) error {
		if err := p.runs.InsertWithTx(ctx, tx, run); err != nil {
			return err
		}
		return p.outbox.InsertWithTx(ctx, tx, outboxEvent)
	})
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug("event published to outbox",
		"type", payload.EventType,
		"run_id", run.ID,
		"outbox_id", outboxEvent.ID)
	return nil
}
