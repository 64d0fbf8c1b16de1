package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"autoflow.app/relay/internal/http/dto"
	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/service"
)

type MailboxHandler struct {
	service  service.MailboxService
	verifier RequestVerifier
}

func NewMailboxHandler(service service.MailboxService, verifier RequestVerifier) *MailboxHandler {
	return &MailboxHandler{service: service, verifier: verifier}
}

func (h *MailboxHandler) Verify(c *gin.Context) {
	c.JSON(http.StatusOK, dto.StatusResponse{Status: "ok"})
}

// Push acknowledges every authenticated notification with 200. Sync failures
// are logged; the cursor is left where it was so the next push retries them.
func (h *MailboxHandler) Push(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := readBody(c)
	if err != nil {
		slog.WarnContext(ctx, "unreadable mailbox push", "error", err)
		c.JSON(http.StatusOK, dto.StatusResponse{Status: "ignored"})
		return
	}

	if err := verifyRequest(c, h.verifier, model.ProviderMailbox, body); err != nil {
		slog.WarnContext(ctx, "mailbox push rejected", "error", err)
		status, reason := verifyStatus(err)
		c.JSON(status, dto.StatusResponse{Status: reason})
		return
	}

	report, err := h.service.HandlePush(ctx, body)
	if err != nil {
		slog.ErrorContext(ctx, "failed to handle mailbox push", "error", err)
		c.JSON(http.StatusOK, dto.StatusResponse{Status: "ignored"})
		return
	}

	var dispatched, failed int
	for _, r := range report.Subscriptions {
		dispatched += r.Dispatched
		failed += r.Failed
		if r.Err != nil {
			slog.WarnContext(ctx, "mailbox subscription sync incomplete",
				"subscription_id", r.SubscriptionID,
				"error", r.Err)
		}
	}
	slog.InfoContext(ctx, "mailbox push handled",
		"subscriptions", len(report.Subscriptions),
		"dispatched", dispatched,
		"failed", failed)

	c.JSON(http.StatusOK, dto.StatusResponse{Status: "ok"})
}
