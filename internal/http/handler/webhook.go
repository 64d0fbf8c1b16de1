package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"autoflow.app/relay/internal/http/dto"
	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/service"
)

// secret headers are never forwarded to the workflow.
var webhookSecretHeaders = []string{"x-webhook-secret", "x-webhook-signature"}

type WebhookHandler struct {
	service  service.WebhookService
	verifier RequestVerifier
}

func NewWebhookHandler(service service.WebhookService, verifier RequestVerifier) *WebhookHandler {
	return &WebhookHandler{service: service, verifier: verifier}
}

// Receive accepts an arbitrary request aimed at ?workflowId=.
func (h *WebhookHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.WebhookResponse{Error: err.Error()})
		return
	}

	if err := verifyRequest(c, h.verifier, model.ProviderGenericWebhook, body); err != nil {
		slog.WarnContext(ctx, "generic webhook rejected", "error", err)
		status, reason := verifyStatus(err)
		c.JSON(status, dto.WebhookResponse{Error: reason})
		return
	}

	hook := service.GenericWebhook{
		WorkflowID:  c.Query("workflowId"),
		NodeID:      c.Query("nodeId"),
		Method:      c.Request.Method,
		ContentType: c.ContentType(),
		Headers:     flatten(c.Request.Header, true, webhookSecretHeaders...),
		Query:       flatten(c.Request.URL.Query(), false),
		Body:        body,
	}

	res, err := h.service.Receive(ctx, hook)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMissingWorkflowID):
			c.JSON(http.StatusBadRequest, dto.WebhookResponse{Error: "workflowId is required"})
		case errors.Is(err, service.ErrInvalidBody):
			c.JSON(http.StatusBadRequest, dto.WebhookResponse{Error: "invalid body"})
		default:
			slog.ErrorContext(ctx, "failed to dispatch generic webhook", "error", err)
			c.JSON(http.StatusInternalServerError, dto.WebhookResponse{Error: "failed to start workflow"})
		}
		return
	}

	c.JSON(http.StatusOK, dto.WebhookResponse{Success: true, Duplicate: res.Duplicate})
}
