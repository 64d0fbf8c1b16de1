// Package dispatch is the single funnel through which every matched event
// becomes a start-execution command. It performs no matching.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"autoflow.app/relay/common/id"
	"autoflow.app/relay/common/logger"
	"autoflow.app/relay/internal/queue"
)

// ErrRejected wraps any failure to hand a command to the execution queue.
var ErrRejected = errors.New("execution start rejected")

// Result describes an accepted command. Duplicate is true when the dedup key
// was already seen and nothing new was enqueued.
type Result struct {
	CommandID string
	Duplicate bool
}

// Dispatcher submits start-execution commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, workflowID, dedupKey string, payload any) (Result, error)
}

type queueDispatcher struct {
	producer queue.Producer
	newID    func() string
}

type Option func(*queueDispatcher)

// WithIDFunc replaces the snowflake command id generator.
func WithIDFunc(fn func() string) Option {
	return func(d *queueDispatcher) { d.newID = fn }
}

func New(producer queue.Producer, opts ...Option) Dispatcher {
	d := &queueDispatcher{producer: producer, newID: id.NewString}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *queueDispatcher) Dispatch(ctx context.Context, workflowID, dedupKey string, payload any) (Result, error) {
	sc := logger.StartSpan(ctx, "dispatch.execution_start")
	defer sc.End()
	ctx = logger.WithLogFields(sc.Context(), logger.LogFields{
		WorkflowID: &workflowID,
		DedupKey:   &dedupKey,
		Component:  "relay.dispatch",
	})

	if workflowID == "" {
		return Result{}, fmt.Errorf("%w: empty workflow id", ErrRejected)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("%w: encoding initial data: %w", ErrRejected, err)
	}

	msg := queue.ExecutionMessage{
		CommandID:   d.newID(),
		WorkflowID:  workflowID,
		DedupKey:    dedupKey,
		InitialData: data,
		Attempt:     1,
	}
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.HasTraceID() {
		traceID := spanCtx.TraceID().String()
		msg.TraceID = &traceID
	}

	if err := d.producer.Enqueue(ctx, msg); err != nil {
		if errors.Is(err, queue.ErrDuplicate) {
			return Result{CommandID: msg.CommandID, Duplicate: true}, nil
		}
		sc.RecordError(err)
		slog.ErrorContext(ctx, "execution start rejected", "error", err)
		return Result{}, fmt.Errorf("%w: %w", ErrRejected, err)
	}

	slog.InfoContext(ctx, "execution start dispatched", "command_id", msg.CommandID)
	return Result{CommandID: msg.CommandID}, nil
}
