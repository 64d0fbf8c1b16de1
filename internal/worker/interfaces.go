package worker

import (
	"context"

	"autoflow.app/relay/internal/queue"
)

// Consumer abstracts the message queue for testability.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

// Starter hands a start-execution command to the durable runtime.
type Starter interface {
	Start(ctx context.Context, req StartRequest) error
}
