package routes

import (
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/onurcolak/inbox-delivery-service/environments"
	"github.com/onurcolak/inbox-delivery-service/handlers"
	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/internal/middlewares"
)

type Handlers struct {
	Health        *handlers.HealthHandler
	Messages      *handlers.MessageHandler
	Conversations *handlers.ConversationHandler
	Instagram     *handlers.InstagramWebhookHandler
	WhatsApp      *handlers.WhatsAppWebhookHandler
	TikTok        *handlers.TikTokWebhookHandler
}

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(e *echo.Echo, h Handlers, cfg *environments.Config) {
	e.GET("/health", h.Health.Health)
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// API v1 base group, used by the business UI
	v1 := e.Group("/api/v1", middlewares.APIKeyAuth(cfg.Auth.MessagesAPIKeys...))

	messages := v1.Group("/messages")
	messages.POST("", h.Messages.SendMessage)
	messages.POST("/:id/retry", h.Messages.RetryMessage)

	conversations := v1.Group("/conversations")
	conversations.POST("", h.Conversations.CreateConversation)
	conversations.GET("/:id/messages", h.Conversations.ListMessages)

	// Provider webhooks: no API key, the body signature authenticates them
	webhooks := e.Group("/webhooks")

	webhooks.GET("/instagram", h.Instagram.Verify)
	webhooks.POST("/instagram", h.Instagram.Receive, middlewares.WebhookSignature(middlewares.SignatureConfig{
		Channel: domain.ChannelInstagram,
		Secret:  cfg.Instagram.AppSecret,
		Header:  middlewares.MetaSignatureHeader,
	}))

	webhooks.GET("/whatsapp", h.WhatsApp.Verify)
	webhooks.POST("/whatsapp", h.WhatsApp.Receive, middlewares.WebhookSignature(middlewares.SignatureConfig{
		Channel: domain.ChannelWhatsApp,
		Secret:  cfg.WhatsApp.AppSecret,
		Header:  middlewares.MetaSignatureHeader,
	}))

	webhooks.GET("/tiktok", h.TikTok.Verify)
	webhooks.POST("/tiktok", h.TikTok.Receive, middlewares.WebhookSignature(middlewares.SignatureConfig{
		Channel:      domain.ChannelTikTok,
		Secret:       cfg.TikTok.WebhookSecret,
		Header:       middlewares.TikTokSignatureHeader,
		AllowBareHex: true,
	}))
}
