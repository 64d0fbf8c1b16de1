package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/url"
	"strings"

	"autoflow.app/relay/common/logger"
	"autoflow.app/relay/internal/dedup"
	"autoflow.app/relay/internal/dispatch"
	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/store"
)

var (
	ErrMissingWorkflowID = errors.New("workflowId is required")
	ErrInvalidBody       = errors.New("invalid request body")
)

// GenericWebhook is an arbitrary inbound HTTP request aimed at one workflow.
type GenericWebhook struct {
	Headers     map[string]string
	Query       map[string]string
	WorkflowID  string
	NodeID      string
	Method      string
	ContentType string
	Body        []byte
}

type WebhookResult struct {
	DedupKey  string
	CommandID string
	Duplicate bool
}

type WebhookService interface {
	Receive(ctx context.Context, hook GenericWebhook) (*WebhookResult, error)
}

type webhookService struct {
	triggers   store.TriggerRegistrationStore
	dispatcher dispatch.Dispatcher
}

func NewWebhookService(triggers store.TriggerRegistrationStore, dispatcher dispatch.Dispatcher) WebhookService {
	return &webhookService{triggers: triggers, dispatcher: dispatcher}
}

func (s *webhookService) Receive(ctx context.Context, hook GenericWebhook) (*WebhookResult, error) {
	if strings.TrimSpace(hook.WorkflowID) == "" {
		return nil, ErrMissingWorkflowID
	}

	body, err := parseWebhookBody(hook.ContentType, hook.Body)
	if err != nil {
		return nil, err
	}

	key := dedup.DeriveKeyFromBody(hook.WorkflowID, hook.ContentType, hook.Body)
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Provider:   logger.Ptr(string(model.ProviderGenericWebhook)),
		WorkflowID: &hook.WorkflowID,
		DedupKey:   &key,
		Component:  "relay.service.webhook",
	})

	payload := map[string]any{
		"provider":    model.ProviderGenericWebhook,
		"body":        body,
		"headers":     hook.Headers,
		"query":       hook.Query,
		"method":      hook.Method,
		"contentType": hook.ContentType,
	}
	if hook.NodeID != "" {
		payload["nodeId"] = hook.NodeID
	}
	if reg := s.lookupRegistration(ctx, hook); reg != nil {
		payload["triggerId"] = reg.ID
		if reg.NodeID != "" {
			payload["nodeId"] = reg.NodeID
		}
	}

	res, err := s.dispatcher.Dispatch(ctx, hook.WorkflowID, key, payload)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "generic webhook accepted", "duplicate", res.Duplicate)
	return &WebhookResult{DedupKey: key, CommandID: res.CommandID, Duplicate: res.Duplicate}, nil
}

// lookupRegistration finds the generic-webhook trigger the request is aimed
// at: the one with the given node id, or the only one the workflow has.
// Delivery never depends on it; a failed lookup is logged and the request is
// dispatched by workflow id alone.
func (s *webhookService) lookupRegistration(ctx context.Context, hook GenericWebhook) *model.TriggerRegistration {
	regs, err := s.triggers.ListByWorkflow(ctx, hook.WorkflowID, model.ProviderGenericWebhook)
	if err != nil {
		slog.WarnContext(ctx, "generic webhook registration lookup failed", "error", err)
		return nil
	}
	if hook.NodeID != "" {
		for i := range regs {
			if regs[i].NodeID == hook.NodeID {
				return &regs[i]
			}
		}
		return nil
	}
	if len(regs) == 1 {
		return &regs[0]
	}
	return nil
}

// parseWebhookBody decodes JSON and form bodies; anything else is passed on
// as text.
func parseWebhookBody(contentType string, raw []byte) (any, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)

	switch {
	case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
		if len(strings.TrimSpace(string(raw))) == 0 {
			return map[string]any{}, nil
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBody, err)
		}
		return v, nil
	case mediaType == "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBody, err)
		}
		form := make(map[string]any, len(values))
		for k, v := range values {
			if len(v) == 1 {
				form[k] = v[0]
			} else {
				form[k] = v
			}
		}
		return form, nil
	default:
		return string(raw), nil
	}
}
