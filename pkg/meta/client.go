package meta

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

// Client talks to the Graph API for both Instagram and WhatsApp. Instagram
// login tokens live on graph.instagram.com, WhatsApp Cloud API on
// graph.facebook.com.
type Client struct {
	httpClient       *resty.Client
	graphBaseURL     string
	instagramBaseURL string
	version          string
}

func NewClient(cfg environments.MetaAPIConfig) *Client {
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient:       client,
		graphBaseURL:     strings.TrimRight(cfg.GraphBaseURL, "/"),
		instagramBaseURL: strings.TrimRight(cfg.InstagramGraphBaseURL, "/"),
		version:          cfg.GraphVersion,
	}
}

type graphError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}

func apiError(resp *resty.Response, graphErr *graphError) error {
	if graphErr != nil && graphErr.Error.Message != "" {
		return fmt.Errorf("graph api error %d (code %d): %s", resp.StatusCode(), graphErr.Error.Code, graphErr.Error.Message)
	}
	return fmt.Errorf("graph api error %d: %s", resp.StatusCode(), resp.String())
}

type instagramSendRequest struct {
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Message struct {
		Text string `json:"text"`
	} `json:"message"`
}

type instagramSendResponse struct {
	RecipientID string `json:"recipient_id"`
	MessageID   string `json:"message_id"`
}

// SendInstagramMessage sends a DM from the business account igUserID.
func (c *Client) SendInstagramMessage(ctx context.Context, accessToken, igUserID, recipientID, text string) (string, error) {
	var payload instagramSendRequest
	payload.Recipient.ID = recipientID
	payload.Message.Text = text

	var result instagramSendResponse
	var graphErr graphError

	url := fmt.Sprintf("%s/%s/%s/messages", c.instagramBaseURL, c.version, igUserID)

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(payload).
		SetResult(&result).
		SetError(&graphErr).
		Post(url)
	if err != nil {
		return "", fmt.Errorf("failed to send instagram message: %w", err)
	}

	logger.Debugf("Instagram send completed in %v (status: %d)", time.Since(startTime), resp.StatusCode())

	if resp.IsError() {
		return "", apiError(resp, &graphErr)
	}

	return result.MessageID, nil
}

type whatsAppSendRequest struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type whatsAppSendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendWhatsAppMessage sends a text message and returns the wamid the
// provider will reference in later status callbacks.
func (c *Client) SendWhatsAppMessage(ctx context.Context, accessToken, phoneNumberID, to, text string) (string, error) {
	payload := whatsAppSendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               strings.TrimPrefix(to, "+"),
		Type:             "text",
	}
	payload.Text.Body = text

	var result whatsAppSendResponse
	var graphErr graphError

	url := fmt.Sprintf("%s/%s/%s/messages", c.graphBaseURL, c.version, phoneNumberID)

	startTime := time.Now()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetBody(payload).
		SetResult(&result).
		SetError(&graphErr).
		Post(url)
	if err != nil {
		return "", fmt.Errorf("failed to send whatsapp message: %w", err)
	}

	logger.Debugf("WhatsApp send completed in %v (status: %d)", time.Since(startTime), resp.StatusCode())

	if resp.IsError() {
		return "", apiError(resp, &graphErr)
	}

	if len(result.Messages) == 0 || result.Messages[0].ID == "" {
		return "", fmt.Errorf("whatsapp response did not include a message id")
	}

	return result.Messages[0].ID, nil
}

type Profile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

// DisplayName prefers the full name, then the handle.
func (p *Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Username
}

func (c *Client) GetInstagramProfile(ctx context.Context, accessToken, userID string) (*Profile, error) {
	var profile Profile
	var graphErr graphError

	url := fmt.Sprintf("%s/%s/%s", c.instagramBaseURL, c.version, userID)

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("fields", "name,username").
		SetAuthToken(accessToken).
		SetResult(&profile).
		SetError(&graphErr).
		Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch instagram profile: %w", err)
	}

	if resp.IsError() {
		return nil, apiError(resp, &graphErr)
	}

	return &profile, nil
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// RefreshInstagramToken exchanges a still-refreshable long-lived token for a
// new one. Instagram has no separate refresh token: the access token is
// refreshed with itself.
func (c *Client) RefreshInstagramToken(ctx context.Context, conn *domain.Connection) (*domain.TokenSet, error) {
	var result refreshResponse
	var graphErr graphError

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"grant_type":   "ig_refresh_token",
			"access_token": conn.AccessToken,
		}).
		SetResult(&result).
		SetError(&graphErr).
		Get(c.instagramBaseURL + "/refresh_access_token")
	if err != nil {
		return nil, fmt.Errorf("failed to refresh instagram token: %w", err)
	}

	if resp.IsError() {
		return nil, apiError(resp, &graphErr)
	}

	if result.AccessToken == "" {
		return nil, fmt.Errorf("instagram refresh returned no access token")
	}

	tokens := &domain.TokenSet{AccessToken: result.AccessToken}
	if result.ExpiresIn > 0 {
		expiresAt := time.Now().UTC().Add(time.Duration(result.ExpiresIn) * time.Second)
		tokens.ExpiresAt = &expiresAt
	}

	return tokens, nil
}
