package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

type Producer interface {
	// Enqueue returns ErrDuplicate when msg.DedupKey was already seen.
	Enqueue(ctx context.Context, msg ExecutionMessage) error
	Close() error
}

type redisProducer struct {
	client      *redis.Client
	stream      string
	dedupWindow time.Duration
	logger      *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, dedupWindow time.Duration, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client:      client,
		stream:      stream,
		dedupWindow: dedupWindow,
		logger:      logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, msg ExecutionMessage) error {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	if msg.DedupKey != "" && p.dedupWindow > 0 {
		claimed, err := p.client.SetNX(ctx, DedupKeyName(msg.DedupKey), msg.CommandID, p.dedupWindow).Result()
		if err != nil {
			return fmt.Errorf("claim dedup key: %w", err)
		}
		if !claimed {
			p.logger.InfoContext(ctx, "duplicate execution start suppressed", "workflow_id", msg.WorkflowID, "dedup_key", msg.DedupKey)
			return ErrDuplicate
		}
	}

	fields := messageValues(Message{
		CommandID:   msg.CommandID,
		WorkflowID:  msg.WorkflowID,
		DedupKey:    msg.DedupKey,
		InitialData: msg.InitialData,
	}, attempt)
	if msg.TraceID != nil && *msg.TraceID != "" {
		fields["trace_id"] = *msg.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: fields,
	}).Err(); err != nil {
		// Release the claim so a provider redelivery can try again.
		if msg.DedupKey != "" && p.dedupWindow > 0 {
			_ = p.client.Del(ctx, DedupKeyName(msg.DedupKey)).Err()
		}
		return fmt.Errorf("enqueue execution start: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued execution start", "command_id", msg.CommandID, "workflow_id", msg.WorkflowID, "attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
