package router

import (
	"github.com/gin-gonic/gin"

	"autoflow.app/relay/internal/http/handler"
)

func ChatRouter(rg *gin.RouterGroup, h *handler.ChatHandler) {
	rg.POST("/chat", h.Relay)
}

func WebhookRouter(rg *gin.RouterGroup, h *handler.WebhookHandler) {
	rg.POST("/generic", h.Receive)
}

// SocialRouter serves the registration handshake (GET) and deliveries (POST).
func SocialRouter(rg *gin.RouterGroup, h *handler.SocialHandler) {
	rg.GET("", h.Verify)
	rg.POST("", h.Receive)
}

func MailboxRouter(rg *gin.RouterGroup, h *handler.MailboxHandler) {
	rg.GET("", h.Verify)
	rg.POST("", h.Push)
}
