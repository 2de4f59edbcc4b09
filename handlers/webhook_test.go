package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/internal/middlewares"
)

type recordingProcessor struct {
	events []domain.InboundEvent
	err    error
}

func (p *recordingProcessor) ProcessInbound(ctx context.Context, ev domain.InboundEvent) (domain.InboundOutcome, error) {
	p.events = append(p.events, ev)
	if p.err != nil {
		return "", p.err
	}
	return domain.OutcomeStored, nil
}

type recordingStatuses struct {
	updates []domain.StatusUpdate
}

func (s *recordingStatuses) ApplyStatusUpdate(ctx context.Context, up domain.StatusUpdate) error {
	s.updates = append(s.updates, up)
	return nil
}

const whatsAppBody = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "WABA-1",
    "changes": [{
      "field": "messages",
      "value": {
        "metadata": {"display_phone_number": "15550001111", "phone_number_id": "PNID-1"},
        "contacts": [{"wa_id": "15551234567", "profile": {"name": "Jane"}}],
        "messages": [
          {"id": "wamid.A", "from": "15551234567", "timestamp": "1767261600", "type": "text", "text": {"body": "Hi"}},
          {"id": "wamid.B", "from": "15551234567", "timestamp": "1767261601", "type": "image", "image": {"id": "media-1", "caption": "receipt"}},
          {"id": "wamid.C", "from": "15551234567", "timestamp": "1767261602", "type": "sticker"}
        ],
        "message_echoes": [
          {"id": "wamid.E", "from": "15550001111", "to": "15551234567", "timestamp": "1767261603", "type": "text", "text": {"body": "sent from phone"}}
        ],
        "statuses": [
          {"id": "wamid.OUT", "status": "delivered", "timestamp": "1767261604", "recipient_id": "15551234567"},
          {"id": "wamid.OUT2", "status": "failed", "timestamp": "1767261605", "recipient_id": "15551234567",
           "errors": [{"code": 131047, "title": "Re-engagement message", "message": "More than 24 hours have passed"}]},
          {"id": "wamid.OUT3", "status": "deleted"}
        ]
      }
    }]
  }]
}`

func TestParseWhatsAppPayload(t *testing.T) {
	events, updates, err := parseWhatsAppPayload([]byte(whatsAppBody))
	require.NoError(t, err)
	require.Len(t, events, 4)
	require.Len(t, updates, 2)

	first := events[0]
	assert.Equal(t, domain.ChannelWhatsApp, first.Channel)
	assert.Equal(t, "15551234567", first.SenderID)
	assert.Equal(t, "PNID-1", first.RecipientID)
	assert.Equal(t, "wamid.A", first.ProviderMessageID)
	assert.Equal(t, "Hi", first.Text)
	assert.Equal(t, "Jane", first.SenderName)
	assert.False(t, first.IsEcho)
	assert.True(t, first.Timestamp.Equal(time.Unix(1767261600, 0)))

	assert.Equal(t, "[image] receipt", events[1].Text)
	assert.Equal(t, "[sticker]", events[2].Text)

	echoed := events[3]
	assert.True(t, echoed.IsEcho)
	assert.Equal(t, "PNID-1", echoed.SenderID)
	assert.Equal(t, "15551234567", echoed.RecipientID)
	assert.Empty(t, echoed.SenderName)

	assert.Equal(t, domain.StatusDelivered, updates[0].Status)
	assert.Equal(t, "wamid.OUT", updates[0].ProviderMessageID)
	assert.Equal(t, domain.StatusFailed, updates[1].Status)
	assert.Equal(t, "More than 24 hours have passed", updates[1].ErrorMessage)
}

func TestParseInstagramPayload(t *testing.T) {
	body := `{
	  "object": "instagram",
	  "entry": [{
	    "id": "ig-biz",
	    "time": 1767261600000,
	    "messaging": [
	      {"sender": {"id": "cust-1"}, "recipient": {"id": "ig-biz"}, "timestamp": 1767261600000,
	       "message": {"mid": "mid.1", "text": "hello"}},
	      {"sender": {"id": "ig-biz"}, "recipient": {"id": "cust-1"}, "timestamp": 1767261601000,
	       "message": {"mid": "mid.2", "text": "hi back", "is_echo": true}},
	      {"sender": {"id": "cust-1"}, "recipient": {"id": "ig-biz"}, "timestamp": 1767261602000,
	       "message": {"mid": "mid.3", "attachments": [{"type": "image", "payload": {"url": "https://cdn.example/1.jpg"}}]}},
	      {"sender": {"id": "cust-1"}, "recipient": {"id": "ig-biz"}, "timestamp": 1767261603000,
	       "read": {"mid": "mid.2"}},
	      {"sender": {"id": "cust-1"}, "recipient": {"id": "ig-biz"}, "timestamp": 1767261604000,
	       "message": {"mid": "mid.1", "is_deleted": true}}
	    ]
	  }]
	}`

	events, err := parseInstagramPayload([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "cust-1", events[0].SenderID)
	assert.Equal(t, "ig-biz", events[0].RecipientID)
	assert.Equal(t, "hello", events[0].Text)
	assert.True(t, events[0].Timestamp.Equal(time.UnixMilli(1767261600000)))

	assert.True(t, events[1].IsEcho)

	assert.Equal(t, "[image]", events[2].Text)
	assert.Equal(t, []string{"https://cdn.example/1.jpg"}, events[2].Metadata["attachment_urls"])
}

func TestParseTikTokPayload(t *testing.T) {
	body := `{"event":"receive_message","user_openid":"tt-biz","create_time":1767261600,` +
		`"content":"{\"message_id\":\"tt-1\",\"conversation_id\":\"c-9\",\"sender\":{\"open_id\":\"open-123\",\"display_name\":\"Kai\"},` +
		`\"recipient\":{\"open_id\":\"tt-biz\"},\"text\":\"hey\",\"is_echo\":false}"}`

	events, err := parseTikTokPayload([]byte(body))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.ChannelTikTok, ev.Channel)
	assert.Equal(t, "open-123", ev.SenderID)
	assert.Equal(t, "tt-biz", ev.RecipientID)
	assert.Equal(t, "tt-1", ev.ProviderMessageID)
	assert.Equal(t, "Kai", ev.SenderName)
	assert.Equal(t, "c-9", ev.Metadata.String("tiktok_conversation_id"))

	events, err = parseTikTokPayload([]byte(`{"event":"authorization.removed","content":"{}"}`))
	require.NoError(t, err)
	assert.Empty(t, events)

	_, err = parseTikTokPayload([]byte(`{"event":"receive_message","content":"not json"}`))
	assert.Error(t, err)
}

func newWhatsAppServer(processor *recordingProcessor, statuses *recordingStatuses) *echo.Echo {
	e := echo.New()
	h := NewWhatsAppWebhookHandler(processor, statuses, "verify-me")
	sig := middlewares.WebhookSignature(middlewares.SignatureConfig{
		Channel: domain.ChannelWhatsApp,
		Secret:  "app-secret",
		Header:  middlewares.MetaSignatureHeader,
	})
	e.GET("/webhooks/whatsapp", h.Verify)
	e.POST("/webhooks/whatsapp", h.Receive, sig)
	return e
}

func postWebhook(e *echo.Echo, body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if signature != "" {
		req.Header.Set(middlewares.MetaSignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestWhatsAppReceive_SignedPayloadIsProcessed(t *testing.T) {
	processor := &recordingProcessor{}
	statuses := &recordingStatuses{}
	e := newWhatsAppServer(processor, statuses)

	rec := postWebhook(e, whatsAppBody, middlewares.Sign("app-secret", []byte(whatsAppBody)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	assert.Len(t, processor.events, 4)
	assert.Len(t, statuses.updates, 2)
}

func TestWhatsAppReceive_ProcessingErrorsStillAck(t *testing.T) {
	processor := &recordingProcessor{err: errors.New("db down")}
	e := newWhatsAppServer(processor, &recordingStatuses{})

	rec := postWebhook(e, whatsAppBody, middlewares.Sign("app-secret", []byte(whatsAppBody)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, processor.events, 4, "one failing event must not stop the rest")
}

func TestWhatsAppReceive_BadSignatureIsRejected(t *testing.T) {
	processor := &recordingProcessor{}
	e := newWhatsAppServer(processor, &recordingStatuses{})

	rec := postWebhook(e, whatsAppBody, middlewares.Sign("wrong", []byte(whatsAppBody)))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, processor.events)
}

func TestWhatsAppReceive_GarbageIsAcknowledged(t *testing.T) {
	processor := &recordingProcessor{}
	e := newWhatsAppServer(processor, &recordingStatuses{})

	body := `{"entry": [`
	rec := postWebhook(e, body, middlewares.Sign("app-secret", []byte(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, processor.events)
}

func TestMetaVerifyHandshake(t *testing.T) {
	e := newWhatsAppServer(&recordingProcessor{}, &recordingStatuses{})

	cases := []struct {
		name  string
		query string
		want  int
		body  string
	}{
		{name: "valid", query: "hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=12345", want: http.StatusOK, body: "12345"},
		{name: "wrong token", query: "hub.mode=subscribe&hub.verify_token=nope&hub.challenge=12345", want: http.StatusForbidden},
		{name: "wrong mode", query: "hub.mode=unsubscribe&hub.verify_token=verify-me&hub.challenge=12345", want: http.StatusForbidden},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/webhooks/whatsapp?"+tc.query, nil)
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
			if tc.body != "" {
				assert.Equal(t, tc.body, rec.Body.String())
			}
		})
	}
}

func TestTikTokVerify(t *testing.T) {
	e := echo.New()
	h := NewTikTokWebhookHandler(&recordingProcessor{})
	e.GET("/webhooks/tiktok", h.Verify)

	req := httptest.NewRequest(http.MethodGet, "/webhooks/tiktok?challenge=abc", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/webhooks/tiktok", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
}
