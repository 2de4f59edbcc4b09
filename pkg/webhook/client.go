package webhook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/inbox-delivery-service/environments"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

var ErrNotConfigured = errors.New("auto-note trigger not configured")

// NoteClient triggers auto-note generation for a conversation. The call is a
// single fire-and-forget POST; the response body is ignored.
type NoteClient struct {
	httpClient *resty.Client
	baseURL    string
}

func NewNoteClient(cfg environments.NotesConfig) *NoteClient {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &NoteClient{
		httpClient: client,
		baseURL:    strings.TrimRight(cfg.PublicBaseURL, "/"),
	}
}

type autoNoteRequest struct {
	BusinessID string `json:"businessId"`
	MessageID  int64  `json:"messageId"`
}

func (c *NoteClient) TriggerAutoNote(ctx context.Context, businessID string, conversationID, messageID int64) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}

	url := fmt.Sprintf("%s/api/conversations/%d/auto-note", c.baseURL, conversationID)

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(autoNoteRequest{BusinessID: businessID, MessageID: messageID}).
		Post(url)
	if err != nil {
		return fmt.Errorf("failed to trigger auto-note: %w", err)
	}

	logger.Debugf("Auto-note request to %s completed in %v (status: %d)", url, time.Since(startTime), resp.StatusCode())

	if resp.IsError() {
		return fmt.Errorf("auto-note trigger returned status %d", resp.StatusCode())
	}

	return nil
}

func (c *NoteClient) GetURL() string {
	return c.baseURL
}
