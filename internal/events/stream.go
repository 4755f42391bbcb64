package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/marketplace-agent/internal/database"
	"github.com/maltedev/marketplace-agent/internal/models"
	"github.com/redis/go-redis/v9"
)

// StreamPublisher writes runs straight to a Redis stream. It is used when no
// database is configured, so there is no outbox to relay from.
type StreamPublisher struct {
	redis  database.RedisClient
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewStreamPublisher(client database.RedisClient, stream string, logger *slog.Logger) *StreamPublisher {
	if stream == "" {
		stream = database.DefaultTargetStream
	}
	return &StreamPublisher{
		redis:  client,
		stream: stream,
		maxLen: 10000,
		logger: logger.With("component", "stream_publisher"),
	}
}

func (p *StreamPublisher) Record(ctx context.Context, run *models.OperationRun) error {
	payload := newPayload(run)
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: AggregateType,
		AggregateID:   aggregateID(run),
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  p.stream,
		CreatedAt:     time.Now(),
	}
	values, err := database.StreamValues(event)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{Stream: p.stream, MaxLen: p.maxLen, Approx: true, Values: values}
	if _, err := p.redis.XAdd(ctx, args).Result(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	p.logger.Debug("event published to stream", "type", payload.EventType, "run_id", run.ID)
	return nil
}
