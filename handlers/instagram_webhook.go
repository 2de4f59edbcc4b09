package handlers

import (
	"encoding/json"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

type InstagramWebhookHandler struct {
	inbound     inboundProcessor
	verifyToken string
}

func NewInstagramWebhookHandler(inbound inboundProcessor, verifyToken string) *InstagramWebhookHandler {
	return &InstagramWebhookHandler{inbound: inbound, verifyToken: verifyToken}
}

type instagramPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID        string               `json:"id"`
		Time      int64                `json:"time"`
		Messaging []instagramMessaging `json:"messaging"`
	} `json:"entry"`
}

type instagramMessaging struct {
	Sender    struct{ ID string } `json:"sender"`
	Recipient struct{ ID string } `json:"recipient"`
	Timestamp int64               `json:"timestamp"`
	Message   *struct {
		MID         string `json:"mid"`
		Text        string `json:"text"`
		IsEcho      bool   `json:"is_echo"`
		IsDeleted   bool   `json:"is_deleted"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
}

// Verify godoc
// @Summary Instagram webhook verification
// @Description Answers Meta's subscription handshake
// @Tags webhooks
// @Produce plain
// @Param hub.mode query string true "Always 'subscribe'"
// @Param hub.verify_token query string true "Configured verify token"
// @Param hub.challenge query string true "Challenge to echo back"
// @Success 200 {string} string
// @Failure 403 {object} response.ErrorResponse
// @Router /webhooks/instagram [get]
func (h *InstagramWebhookHandler) Verify(c echo.Context) error {
	return verifyMetaHandshake(c, domain.ChannelInstagram, h.verifyToken)
}

// Receive godoc
// @Summary Instagram webhook
// @Description Ingests Instagram direct messages and echoes. Always acknowledged once the signature is valid.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Hub-Signature-256 header string true "sha256=<hex HMAC of body>"
// @Success 200 {object} response.SuccessResponse
// @Failure 403 {object} response.ErrorResponse
// @Router /webhooks/instagram [post]
func (h *InstagramWebhookHandler) Receive(c echo.Context) error {
	events, err := parseInstagramPayload(webhookBody(c))
	if err != nil {
		logger.Error("unparseable instagram webhook", zap.Error(err))
		return ack(c)
	}

	processEvents(detach(c), h.inbound, events)

	return ack(c)
}

// parseInstagramPayload keeps message events only; reads, reactions and
// deletions carry nothing to store.
func parseInstagramPayload(body []byte) ([]domain.InboundEvent, error) {
	var payload instagramPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	var events []domain.InboundEvent
	for _, entry := range payload.Entry {
		for _, m := range entry.Messaging {
			if m.Message == nil || m.Message.IsDeleted || m.Message.MID == "" {
				continue
			}

			text := m.Message.Text
			metadata := domain.JSONMap{}
			if len(m.Message.Attachments) > 0 {
				var types, urls []string
				for _, a := range m.Message.Attachments {
					types = append(types, a.Type)
					if a.Payload.URL != "" {
						urls = append(urls, a.Payload.URL)
					}
				}
				metadata["attachment_types"] = types
				if len(urls) > 0 {
					metadata["attachment_urls"] = urls
				}
				if text == "" {
					text = "[" + strings.Join(types, ", ") + "]"
				}
			}

			events = append(events, domain.InboundEvent{
				Channel:           domain.ChannelInstagram,
				SenderID:          m.Sender.ID,
				RecipientID:       m.Recipient.ID,
				ProviderMessageID: m.Message.MID,
				Text:              text,
				IsEcho:            m.Message.IsEcho,
				Timestamp:         unixMillis(m.Timestamp),
				Metadata:          metadata,
			})
		}
	}

	return events, nil
}
