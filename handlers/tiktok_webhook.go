package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
	"github.com/onurcolak/inbox-delivery-service/pkg/response"
)

type TikTokWebhookHandler struct {
	inbound inboundProcessor
}

func NewTikTokWebhookHandler(inbound inboundProcessor) *TikTokWebhookHandler {
	return &TikTokWebhookHandler{inbound: inbound}
}

const tiktokMessageEvent = "receive_message"

type tiktokEnvelope struct {
	Event      string `json:"event"`
	UserOpenID string `json:"user_openid"`
	CreateTime int64  `json:"create_time"`
	// Content is itself a JSON document, delivered as a string.
	Content string `json:"content"`
}

type tiktokMessageContent struct {
	MessageID      string `json:"message_id"`
	ConversationID string `json:"conversation_id"`
	Sender         struct {
		OpenID      string `json:"open_id"`
		DisplayName string `json:"display_name"`
	} `json:"sender"`
	Recipient struct {
		OpenID string `json:"open_id"`
	} `json:"recipient"`
	Text   string `json:"text"`
	IsEcho bool   `json:"is_echo"`
}

// Verify godoc
// @Summary TikTok webhook verification
// @Description Echoes the challenge TikTok sends when the callback URL is registered
// @Tags webhooks
// @Produce plain
// @Param challenge query string false "Challenge to echo back"
// @Success 200 {string} string
// @Router /webhooks/tiktok [get]
func (h *TikTokWebhookHandler) Verify(c echo.Context) error {
	if challenge := c.QueryParam("challenge"); challenge != "" {
		return c.String(http.StatusOK, challenge)
	}
	return response.Ok(c, nil)
}

// Receive godoc
// @Summary TikTok webhook
// @Description Ingests TikTok direct messages. Always acknowledged once the signature is valid.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-TikTok-Signature header string true "HMAC-SHA256 of body"
// @Success 200 {object} response.SuccessResponse
// @Failure 403 {object} response.ErrorResponse
// @Router /webhooks/tiktok [post]
func (h *TikTokWebhookHandler) Receive(c echo.Context) error {
	events, err := parseTikTokPayload(webhookBody(c))
	if err != nil {
		logger.Error("unparseable tiktok webhook", zap.Error(err))
		return ack(c)
	}

	processEvents(detach(c), h.inbound, events)

	return ack(c)
}

func parseTikTokPayload(body []byte) ([]domain.InboundEvent, error) {
	var env tiktokEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}

	if env.Event != tiktokMessageEvent {
		logger.Debug("ignoring tiktok event", zap.String("event", env.Event))
		return nil, nil
	}

	var content tiktokMessageContent
	if err := json.Unmarshal([]byte(env.Content), &content); err != nil {
		return nil, fmt.Errorf("failed to decode tiktok message content: %w", err)
	}
	if content.MessageID == "" {
		return nil, nil
	}

	ev := domain.InboundEvent{
		Channel:           domain.ChannelTikTok,
		SenderID:          content.Sender.OpenID,
		RecipientID:       content.Recipient.OpenID,
		ProviderMessageID: content.MessageID,
		Text:              content.Text,
		IsEcho:            content.IsEcho,
		Timestamp:         unixTime(env.CreateTime),
		Metadata:          domain.JSONMap{},
	}
	if !content.IsEcho {
		ev.SenderName = content.Sender.DisplayName
	}
	if content.ConversationID != "" {
		ev.Metadata["tiktok_conversation_id"] = content.ConversationID
	}

	return []domain.InboundEvent{ev}, nil
}
