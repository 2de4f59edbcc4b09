package tiktok

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/inbox-delivery-service/environments"
	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

type Client struct {
	httpClient   *resty.Client
	baseURL      string
	clientKey    string
	clientSecret string
}

func NewClient(cfg environments.TikTokConfig) *Client {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient:   client,
		baseURL:      strings.TrimRight(cfg.APIBaseURL, "/"),
		clientKey:    cfg.ClientKey,
		clientSecret: cfg.ClientSecret,
	}
}

// apiError is the error object TikTok attaches to every v2 response;
// Code is "ok" on success.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	LogID   string `json:"log_id"`
}

type sendRequest struct {
	RecipientOpenID string `json:"recipient_open_id"`
	Message         struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

type sendResponse struct {
	Data struct {
		MessageID string `json:"message_id"`
	} `json:"data"`
	Error apiError `json:"error"`
}

// SendDirectMessage sends a text DM to the customer's open id.
func (c *Client) SendDirectMessage(ctx context.Context, accessToken, recipientOpenID, text string) (string, error) {
	var payload sendRequest
	payload.RecipientOpenID = recipientOpenID
	payload.Message.Type = "text"
	payload.Message.Text = text

	var result sendResponse

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		SetResult(&result).
		SetError(&result).
		Post(c.baseURL + "/v2/business/message/send/")
	if err != nil {
		return "", fmt.Errorf("failed to send tiktok message: %w", err)
	}

	logger.Debugf("TikTok send completed in %v (status: %d)", time.Since(startTime), resp.StatusCode())

	if resp.IsError() || (result.Error.Code != "" && result.Error.Code != "ok") {
		return "", fmt.Errorf("tiktok api error %d (%s): %s", resp.StatusCode(), result.Error.Code, result.Error.Message)
	}

	return result.Data.MessageID, nil
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	ExpiresIn        int64  `json:"expires_in"`
	RefreshToken     string `json:"refresh_token"`
	RefreshExpiresIn int64  `json:"refresh_expires_in"`
	OpenID           string `json:"open_id"`
	Scope            string `json:"scope"`
	TokenType        string `json:"token_type"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// RefreshToken runs the OAuth refresh_token grant for conn.
func (c *Client) RefreshToken(ctx context.Context, conn *domain.Connection) (*domain.TokenSet, error) {
	if conn.RefreshToken == nil || *conn.RefreshToken == "" {
		return nil, fmt.Errorf("tiktok connection has no refresh token")
	}

	var result tokenResponse

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_key":    c.clientKey,
			"client_secret": c.clientSecret,
			"grant_type":    "refresh_token",
			"refresh_token": *conn.RefreshToken,
		}).
		SetResult(&result).
		SetError(&result).
		Post(c.baseURL + "/v2/oauth/token/")
	if err != nil {
		return nil, fmt.Errorf("failed to refresh tiktok token: %w", err)
	}

	if resp.IsError() || result.Error != "" || result.AccessToken == "" {
		return nil, fmt.Errorf("tiktok token refresh failed (%d): %s %s", resp.StatusCode(), result.Error, result.ErrorDescription)
	}

	tokens := &domain.TokenSet{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}
	if result.ExpiresIn > 0 {
		expiresAt := time.Now().UTC().Add(time.Duration(result.ExpiresIn) * time.Second)
		tokens.ExpiresAt = &expiresAt
	}

	return tokens, nil
}
