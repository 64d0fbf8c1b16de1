package router

import (
	"github.com/gin-gonic/gin"

	"autoflow.app/relay/internal/http/dto"
	"autoflow.app/relay/internal/http/handler"
	"autoflow.app/relay/internal/service"
)

func SetupRoutes(router *gin.Engine, services *service.Services, verifier handler.RequestVerifier) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, dto.StatusResponse{Status: "ok"})
	})

	webhooks := router.Group("/webhooks")
	{
		ChatRouter(webhooks, handler.NewChatHandler(services.Chat(), verifier))
		WebhookRouter(webhooks, handler.NewWebhookHandler(services.Webhooks(), verifier))
		SocialRouter(webhooks.Group("/social"), handler.NewSocialHandler(services.Social(), verifier))
		MailboxRouter(webhooks.Group("/mailbox"), handler.NewMailboxHandler(services.Mailbox(), verifier))
	}
}
