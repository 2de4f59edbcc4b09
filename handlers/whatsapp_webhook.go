package handlers

import (
	"encoding/json"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

type WhatsAppWebhookHandler struct {
	inbound     inboundProcessor
	statuses    statusApplier
	verifyToken string
}

func NewWhatsAppWebhookHandler(inbound inboundProcessor, statuses statusApplier, verifyToken string) *WhatsAppWebhookHandler {
	return &WhatsAppWebhookHandler{inbound: inbound, statuses: statuses, verifyToken: verifyToken}
}

type whatsAppPayload struct {
	Object string `json:"object"`
	Entry  []struct {
		ID      string `json:"id"`
		Changes []struct {
			Field string        `json:"field"`
			Value whatsAppValue `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type whatsAppValue struct {
	Metadata struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages      []whatsAppMessage `json:"messages"`
	MessageEchoes []whatsAppMessage `json:"message_echoes"`
	Statuses      []whatsAppStatus  `json:"statuses"`
}

type whatsAppMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Button *struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive *struct {
		ButtonReply *struct {
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply *struct {
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
	Image    *whatsAppMedia `json:"image"`
	Video    *whatsAppMedia `json:"video"`
	Document *whatsAppMedia `json:"document"`
}

type whatsAppMedia struct {
	ID      string `json:"id"`
	Caption string `json:"caption"`
}

type whatsAppStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code    int    `json:"code"`
		Title   string `json:"title"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Verify godoc
// @Summary WhatsApp webhook verification
// @Description Answers Meta's subscription handshake
// @Tags webhooks
// @Produce plain
// @Param hub.mode query string true "Always 'subscribe'"
// @Param hub.verify_token query string true "Configured verify token"
// @Param hub.challenge query string true "Challenge to echo back"
// @Success 200 {string} string
// @Failure 403 {object} response.ErrorResponse
// @Router /webhooks/whatsapp [get]
func (h *WhatsAppWebhookHandler) Verify(c echo.Context) error {
	return verifyMetaHandshake(c, domain.ChannelWhatsApp, h.verifyToken)
}

// Receive godoc
// @Summary WhatsApp webhook
// @Description Ingests WhatsApp messages, coexistence echoes and delivery statuses. Always acknowledged once the signature is valid.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Hub-Signature-256 header string true "sha256=<hex HMAC of body>"
// @Success 200 {object} response.SuccessResponse
// @Failure 403 {object} response.ErrorResponse
// @Router /webhooks/whatsapp [post]
func (h *WhatsAppWebhookHandler) Receive(c echo.Context) error {
	events, updates, err := parseWhatsAppPayload(webhookBody(c))
	if err != nil {
		logger.Error("unparseable whatsapp webhook", zap.Error(err))
		return ack(c)
	}

	ctx := detach(c)
	processEvents(ctx, h.inbound, events)
	applyStatuses(ctx, h.statuses, updates)

	return ack(c)
}

func parseWhatsAppPayload(body []byte) ([]domain.InboundEvent, []domain.StatusUpdate, error) {
	var payload whatsAppPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, nil, err
	}

	var events []domain.InboundEvent
	var updates []domain.StatusUpdate

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			v := change.Value
			phoneNumberID := v.Metadata.PhoneNumberID

			names := make(map[string]string, len(v.Contacts))
			for _, contact := range v.Contacts {
				names[contact.WaID] = contact.Profile.Name
			}

			for _, m := range v.Messages {
				if m.ID == "" {
					continue
				}
				events = append(events, domain.InboundEvent{
					Channel:           domain.ChannelWhatsApp,
					SenderID:          m.From,
					RecipientID:       phoneNumberID,
					ProviderMessageID: m.ID,
					Text:              m.content(),
					SenderName:        names[m.From],
					Timestamp:         unixSeconds(m.Timestamp),
					Metadata:          domain.JSONMap{"message_type": m.Type},
				})
			}

			for _, m := range v.MessageEchoes {
				if m.ID == "" {
					continue
				}
				events = append(events, domain.InboundEvent{
					Channel:           domain.ChannelWhatsApp,
					SenderID:          phoneNumberID,
					RecipientID:       m.To,
					ProviderMessageID: m.ID,
					Text:              m.content(),
					IsEcho:            true,
					Timestamp:         unixSeconds(m.Timestamp),
					Metadata:          domain.JSONMap{"message_type": m.Type},
				})
			}

			for _, s := range v.Statuses {
				status, ok := whatsAppStatusMap[s.Status]
				if !ok || s.ID == "" {
					continue
				}
				up := domain.StatusUpdate{
					Channel:           domain.ChannelWhatsApp,
					ProviderMessageID: s.ID,
					Status:            status,
					Timestamp:         unixSeconds(s.Timestamp),
					RecipientID:       s.RecipientID,
				}
				if len(s.Errors) > 0 {
					up.ErrorMessage = s.Errors[0].Message
					if up.ErrorMessage == "" {
						up.ErrorMessage = s.Errors[0].Title
					}
				}
				updates = append(updates, up)
			}
		}
	}

	return events, updates, nil
}

var whatsAppStatusMap = map[string]domain.MessageStatus{
	"sent":      domain.StatusSent,
	"delivered": domain.StatusDelivered,
	"read":      domain.StatusRead,
	"failed":    domain.StatusFailed,
}

// content flattens a message to the text shown in the inbox.
func (m whatsAppMessage) content() string {
	switch {
	case m.Text != nil:
		return m.Text.Body
	case m.Button != nil:
		return m.Button.Text
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		return m.Interactive.ButtonReply.Title
	case m.Interactive != nil && m.Interactive.ListReply != nil:
		return m.Interactive.ListReply.Title
	}

	placeholder := "[" + m.Type + "]"
	for _, media := range []*whatsAppMedia{m.Image, m.Video, m.Document} {
		if media != nil && strings.TrimSpace(media.Caption) != "" {
			return placeholder + " " + media.Caption
		}
	}
	return placeholder
}
