package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"autoflow.app/relay/internal/http/dto"
	"autoflow.app/relay/internal/model"
	"autoflow.app/relay/internal/service"
)

type ChatHandler struct {
	service  service.ChatService
	verifier RequestVerifier
}

func NewChatHandler(service service.ChatService, verifier RequestVerifier) *ChatHandler {
	return &ChatHandler{service: service, verifier: verifier}
}

// Relay accepts one message from the chat bot and dispatches every matching
// trigger.
func (h *ChatHandler) Relay(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ChatMessageResponse{Error: err.Error()})
		return
	}

	if err := verifyRequest(c, h.verifier, model.ProviderChatMessage, body); err != nil {
		slog.WarnContext(ctx, "chat relay rejected", "error", err)
		status, reason := verifyStatus(err)
		c.JSON(status, dto.ChatMessageResponse{Error: reason})
		return
	}

	var req dto.ChatMessageRequest
	if err := binding.JSON.BindBody(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ChatMessageResponse{Error: err.Error()})
		return
	}

	msg := service.ChatMessage{
		GuildID:        req.GuildID,
		ChannelID:      req.ChannelID,
		MessageID:      req.MessageID,
		Content:        req.Content,
		AuthorID:       req.AuthorID,
		AuthorUsername: req.AuthorUsername,
		Raw:            body,
		IsBot:          req.IsBot,
		IsDM:           req.IsDM,
	}
	if req.Timestamp != nil {
		msg.Timestamp = req.Timestamp.UTC()
	} else {
		msg.Timestamp = time.Now().UTC()
	}
	for _, a := range req.Attachments {
		msg.Attachments = append(msg.Attachments, model.Attachment{
			URL:         a.URL,
			Name:        a.Name,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}

	summary, err := h.service.Process(ctx, msg)
	if err != nil {
		slog.ErrorContext(ctx, "failed to process chat message", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ChatMessageResponse{Error: "failed to process message"})
		return
	}

	c.JSON(http.StatusOK, dto.ChatMessageResponse{Success: true, Processed: summary.Dispatched})
}
