package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/internal/service"
	"github.com/onurcolak/inbox-delivery-service/pkg/response"
	validatorpkg "github.com/onurcolak/inbox-delivery-service/pkg/validator"
)

type fakeOutbound struct {
	lastSend  service.OutboundRequest
	sendErr   error
	retryErr  error
	retryArgs []any
	message   *domain.Message
}

func (f *fakeOutbound) Send(ctx context.Context, req service.OutboundRequest) (*domain.Message, error) {
	f.lastSend = req
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.message, nil
}

func (f *fakeOutbound) Retry(ctx context.Context, businessID string, messageID int64) (*domain.Message, error) {
	f.retryArgs = []any{businessID, messageID}
	if f.retryErr != nil {
		return nil, f.retryErr
	}
	return f.message, nil
}

func newJSONContext(e *echo.Echo, method, path, body string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

// TestSendMessage_BadJSON verifies that invalid JSON returns 400 Bad Request.
func TestSendMessage_BadJSON(t *testing.T) {
	e := echo.New()
	// Validator is not needed here because Bind will fail before Validate is called.
	handler := NewMessageHandler(nil)

	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/messages", `{"content": "Hello", "business_id":`)

	if err := handler.SendMessage(c); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}

	var resp response.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response body: %v", err)
	}

	if resp.Success {
		t.Fatalf("expected Success=false, got true")
	}
	if resp.Error == "" {
		t.Fatalf("expected Error to be non-empty")
	}
}

// TestSendMessage_ValidationFailure verifies that bad fields return 422 with
// per-field details before the service is reached.
func TestSendMessage_ValidationFailure(t *testing.T) {
	e := echo.New()
	e.Validator = validatorpkg.New()

	// service is nil on purpose; validation must fail before it is called.
	handler := NewMessageHandler(nil)

	body := `{"conversation_id": 1, "business_id": "biz-1", "sender_type": "bot", "content": "` +
		strings.Repeat("a", 4097) + `", "channel": "sms"}`
	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/messages", body)

	if err := handler.SendMessage(c); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status %d, got %d", http.StatusUnprocessableEntity, rec.Code)
	}

	var resp validatorpkg.ValidationErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response body: %v", err)
	}

	for _, field := range []string{"content", "sender_type", "channel"} {
		if _, ok := resp.Details[field]; !ok {
			t.Errorf("expected Details to contain %q, got %v", field, resp.Details)
		}
	}
}

func TestSendMessage_Created(t *testing.T) {
	e := echo.New()
	e.Validator = validatorpkg.New()

	fake := &fakeOutbound{message: &domain.Message{ID: 9, Status: domain.StatusPtr(domain.StatusSending)}}
	handler := NewMessageHandler(fake)

	body := `{"conversation_id": 3, "business_id": "biz-1", "sender_type": "business", "sender_name": "Support", "content": "Hello!"}`
	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/messages", body)

	if err := handler.SendMessage(c); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	if fake.lastSend.ConversationID != 3 || fake.lastSend.SenderType != domain.SenderBusiness {
		t.Errorf("unexpected request passed to service: %+v", fake.lastSend)
	}
	if !strings.Contains(rec.Body.String(), `"status":"sending"`) {
		t.Errorf("expected sending status in body, got %s", rec.Body.String())
	}
}

func TestSendMessage_ConversationNotFound(t *testing.T) {
	e := echo.New()
	e.Validator = validatorpkg.New()

	handler := NewMessageHandler(&fakeOutbound{sendErr: domain.ErrConversationNotFound})

	body := `{"conversation_id": 3, "business_id": "biz-1", "sender_type": "business", "content": "Hello!"}`
	c, rec := newJSONContext(e, http.MethodPost, "/api/v1/messages", body)

	if err := handler.SendMessage(c); err != nil {
		t.Fatalf("SendMessage returned error: %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func retryContext(e *echo.Echo, id, businessID string) (echo.Context, *httptest.ResponseRecorder) {
	path := "/api/v1/messages/" + id + "/retry"
	if businessID != "" {
		path += "?business_id=" + businessID
	}
	c, rec := newJSONContext(e, http.MethodPost, path, "")
	c.SetParamNames("id")
	c.SetParamValues(id)
	return c, rec
}

func TestRetryMessage_StatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		id         string
		businessID string
		err        error
		want       int
	}{
		{name: "ok", id: "5", businessID: "biz-1", want: http.StatusOK},
		{name: "invalid id", id: "abc", businessID: "biz-1", want: http.StatusBadRequest},
		{name: "missing business", id: "5", want: http.StatusBadRequest},
		{name: "not found", id: "5", businessID: "biz-1", err: domain.ErrMessageNotFound, want: http.StatusNotFound},
		{name: "not retryable", id: "5", businessID: "biz-1", err: domain.ErrNotRetryable, want: http.StatusBadRequest},
		{name: "internal", id: "5", businessID: "biz-1", err: errors.New("db down"), want: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := echo.New()
			fake := &fakeOutbound{
				retryErr: tc.err,
				message:  &domain.Message{ID: 5, Status: domain.StatusPtr(domain.StatusFailed)},
			}
			handler := NewMessageHandler(fake)

			c, rec := retryContext(e, tc.id, tc.businessID)
			if err := handler.RetryMessage(c); err != nil {
				t.Fatalf("RetryMessage returned error: %v", err)
			}

			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestParsePaginationParams(t *testing.T) {
	e := echo.New()

	c, _ := newJSONContext(e, http.MethodGet, "/?page=2&pageSize=50", "")
	page, pageSize, err := parsePaginationParams(c)
	if err != nil || page != 2 || pageSize != 50 {
		t.Fatalf("unexpected result page=%d pageSize=%d err=%v", page, pageSize, err)
	}

	c, _ = newJSONContext(e, http.MethodGet, "/", "")
	page, pageSize, err = parsePaginationParams(c)
	if err != nil || page != 1 || pageSize != 20 {
		t.Fatalf("expected defaults, got page=%d pageSize=%d err=%v", page, pageSize, err)
	}

	c, _ = newJSONContext(e, http.MethodGet, "/?pageSize=500", "")
	if _, _, err := parsePaginationParams(c); err == nil {
		t.Fatalf("expected error for oversized pageSize")
	}
}
