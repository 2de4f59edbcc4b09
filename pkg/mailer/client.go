package mailer

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

var ErrNotConfigured = errors.New("email provider not configured")

// Client sends transactional email through a Resend-compatible HTTP API.
type Client struct {
	httpClient *resty.Client
	baseURL    string
	apiKey     string
	from       string
}

func NewClient(cfg environments.EmailConfig) *Client {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	from := cfg.FromAddress
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", cfg.FromName, cfg.FromAddress)
	}

	return &Client{
		httpClient: client,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		from:       from,
	}
}

func (c *Client) Configured() bool {
	return c.apiKey != ""
}

type Email struct {
	To      string
	Subject string
	Text    string
	ReplyTo string
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	ReplyTo string   `json:"reply_to,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Send delivers one email and returns the provider's email id.
func (c *Client) Send(ctx context.Context, email Email) (string, error) {
	if !c.Configured() {
		return "", ErrNotConfigured
	}

	payload := sendRequest{
		From:    c.from,
		To:      []string{email.To},
		Subject: email.Subject,
		Text:    email.Text,
		ReplyTo: email.ReplyTo,
	}

	var result sendResponse
	var apiErr errorResponse

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetBody(payload).
		SetResult(&result).
		SetError(&apiErr).
		Post(c.baseURL + "/emails")
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}

	logger.Debugf("Email send completed in %v (status: %d)", time.Since(startTime), resp.StatusCode())

	if resp.IsError() {
		if apiErr.Message != "" {
			return "", fmt.Errorf("email provider error %d: %s", resp.StatusCode(), apiErr.Message)
		}
		return "", fmt.Errorf("email provider error %d: %s", resp.StatusCode(), resp.String())
	}

	return result.ID, nil
}
