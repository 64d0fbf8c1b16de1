package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Handlers enrich the context once (provider, workflow, dedup key) and every log line
// emitted further down the routing path carries them.
type LogFields struct {
	WorkflowID     *string // Workflow the event is routed to
	TriggerID      *int64  // Trigger registration ID
	SubscriptionID *int64  // Mailbox change subscription ID
	Provider       *string // Provider type (e.g., "chat-message", "mailbox")
	DedupKey       *string // Idempotency key handed to the dispatcher
	MessageID      *string // Redis stream message ID
	Component      string  // Component name (OTel semantic convention style, e.g., "relay.mailbox.sync")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.WorkflowID != nil {
		result.WorkflowID = new.WorkflowID
	}
	if new.TriggerID != nil {
		result.TriggerID = new.TriggerID
	}
	if new.SubscriptionID != nil {
		result.SubscriptionID = new.SubscriptionID
	}
	if new.Provider != nil {
		result.Provider = new.Provider
	}
	if new.DedupKey != nil {
		result.DedupKey = new.DedupKey
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{WorkflowID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Useful for logging potentially long strings like message bodies.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
