package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/service"
	"autoflow.app/relay/internal/verify"
)

type SocialHandler struct {
	service  service.SocialService
	verifier RequestVerifier
}

func NewSocialHandler(service service.SocialService, verifier RequestVerifier) *SocialHandler {
	return &SocialHandler{service: service, verifier: verifier}
}

// Verify answers the webhook registration handshake.
func (h *SocialHandler) Verify(c *gin.Context) {
	challenge, err := h.verifier.Handshake(model.ProviderSocialDM, verify.Handshake{
		Mode:      c.Query("hub.mode"),
		Token:     c.Query("hub.verify_token"),
		Challenge: c.Query("hub.challenge"),
	})
	if err != nil {
		slog.WarnContext(c.Request.Context(), "social handshake rejected", "error", err)
		if !verify.IsAuthError(err) {
			c.String(http.StatusInternalServerError, "internal error")
			return
		}
		c.String(http.StatusForbidden, "forbidden")
		return
	}
	c.String(http.StatusOK, challenge)
}

// Receive answers 200 once the signature passes, whatever happens downstream,
// so the provider does not redeliver in a loop.
func (h *SocialHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := readBody(c)
	if err != nil {
		c.String(http.StatusBadRequest, "bad request")
		return
	}

	if err := verifyRequest(c, h.verifier, model.ProviderSocialDM, body); err != nil {
		slog.WarnContext(ctx, "social webhook rejected", "error", err)
		status, reason := verifyStatus(err)
		c.String(status, reason)
		return
	}

	if _, err := h.service.Process(ctx, body); err != nil {
		slog.ErrorContext(ctx, "failed to process social webhook", "error", err)
	}
	c.String(http.StatusOK, "EVENT_RECEIVED")
}
