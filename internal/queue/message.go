package queue

import (
	"encoding/json"
	"errors"
)

// ErrDuplicate is returned by Enqueue when the dedup key was already claimed
// inside the dedup window.
var ErrDuplicate = errors.New("duplicate execution start")

// ExecutionMessage is one start-execution command on its way to the durable
// runtime.
type ExecutionMessage struct {
	CommandID   string
	WorkflowID  string
	DedupKey    string
	InitialData json.RawMessage
	TraceID     *string
	Attempt     int
}

// DedupKeyName is the Redis key that claims dedupKey for the dedup window.
func DedupKeyName(dedupKey string) string {
	return "dedup:" + dedupKey
}
