package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"autoflow.app/relay/common/logger"
	"autoflow.app/relay/internal/queue"
)

type Config struct {
	MaxAttempts int
}

// Worker forwards start-execution commands from the stream to the runtime.
type Worker struct {
	consumer Consumer
	starter  Starter
	cfg      Config

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, starter Starter, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Worker{
		consumer:  consumer,
		starter:   starter,
		cfg:       cfg,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "relay.worker"})
	slog.InfoContext(ctx, "worker started", "max_attempts", w.cfg.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping")
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		_ = w.HandleMessage(ctx, msg)
	}
	return nil
}

// HandleMessage forwards msg and settles it: ack on success, DLQ on a
// permanent failure or exhausted attempts, requeue otherwise. The returned
// error is the forwarding error, for logging by callers.
func (w *Worker) HandleMessage(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		MessageID:  &msg.ID,
		WorkflowID: &msg.WorkflowID,
		DedupKey:   &msg.DedupKey,
	})

	err := w.processMessageSafe(ctx, msg)
	if err == nil {
		if ackErr := w.consumer.Ack(ctx, msg); ackErr != nil {
			// The reclaimer will redeliver; the runtime dedups on the key.
			slog.WarnContext(ctx, "failed to ACK message", "error", ackErr)
		}
		return nil
	}

	slog.ErrorContext(ctx, "message processing failed", "error", err, "attempt", msg.Attempt)
	w.handleFailedMessage(ctx, msg, err)
	return err
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing", "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.ProcessMessage(ctx, msg)
}

// ProcessMessage forwards one command to the runtime without settling it.
func (w *Worker) ProcessMessage(ctx context.Context, msg queue.Message) error {
	sc := logger.StartSpanFromTraceID(ctx, msg.TraceID, "worker.forward_execution_start")
	defer sc.End()
	ctx = sc.Context()

	slog.InfoContext(ctx, "forwarding execution start",
		"command_id", msg.CommandID,
		"attempt", msg.Attempt)

	start := time.Now()
	err := w.starter.Start(ctx, StartRequest{
		WorkflowID:       msg.WorkflowID,
		DeduplicationKey: msg.DedupKey,
		InitialData:      msg.InitialData,
		TraceID:          msg.TraceID,
	})
	if err != nil {
		sc.RecordError(err)
		return err
	}

	slog.InfoContext(ctx, "execution started",
		"command_id", msg.CommandID,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	if IsPermanent(err) || msg.Attempt >= w.cfg.MaxAttempts {
		slog.ErrorContext(ctx, "sending to DLQ",
			"attempts", msg.Attempt,
			"permanent", IsPermanent(err))
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}
		return
	}

	slog.WarnContext(ctx, "requeuing failed message", "attempt", msg.Attempt)
	if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
		slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
	}
}
