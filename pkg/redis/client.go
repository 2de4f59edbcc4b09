package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/onurcolak/inbox-delivery-service/environments"
	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

// Client is the optional cache in front of the database. A nil *Client is
// valid and behaves as an always-empty cache.
type Client struct {
	client valkey.Client
}

const (
	seenKeyPrefix    = "inbound_seen:"
	seenTTL          = 24 * time.Hour
	profileKeyPrefix = "profile_name:"
	profileTTL       = 7 * 24 * time.Hour
)

func NewRedisClient(cfg environments.RedisConfig) (*Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)},
		Password:    cfg.Password,
		SelectDB:    cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Infof("Connected to Redis (via Valkey client)")

	return &Client{client: client}, nil
}

func seenKey(conversationID int64, channel domain.Channel, providerMessageID string) string {
	return fmt.Sprintf("%s%d:%s:%s", seenKeyPrefix, conversationID, channel, providerMessageID)
}

func profileKey(channel domain.Channel, customerID string) string {
	return fmt.Sprintf("%s%s:%s", profileKeyPrefix, channel, customerID)
}

// MarkSeen records that a provider message was stored in a conversation.
func (c *Client) MarkSeen(ctx context.Context, conversationID int64, channel domain.Channel, providerMessageID string) error {
	if c == nil {
		return nil
	}

	key := seenKey(conversationID, channel, providerMessageID)

	err := c.client.Do(ctx, c.client.B().Set().Key(key).Value("1").Ex(seenTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to mark message as seen: %w", err)
	}

	return nil
}

func (c *Client) IsSeen(ctx context.Context, conversationID int64, channel domain.Channel, providerMessageID string) (bool, error) {
	if c == nil {
		return false, nil
	}

	result := c.client.Do(ctx, c.client.B().Get().Key(seenKey(conversationID, channel, providerMessageID)).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check seen marker: %w", result.Error())
	}

	return true, nil
}

func (c *Client) GetProfileName(ctx context.Context, channel domain.Channel, customerID string) (string, error) {
	if c == nil {
		return "", nil
	}

	result := c.client.Do(ctx, c.client.B().Get().Key(profileKey(channel, customerID)).Build())
	if result.Error() != nil {
		if valkey.IsValkeyNil(result.Error()) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get cached profile name: %w", result.Error())
	}

	name, err := result.ToString()
	if err != nil {
		return "", fmt.Errorf("failed to read cached profile name: %w", err)
	}

	return name, nil
}

func (c *Client) SetProfileName(ctx context.Context, channel domain.Channel, customerID, name string) error {
	if c == nil {
		return nil
	}

	key := profileKey(channel, customerID)

	err := c.client.Do(ctx, c.client.B().Set().Key(key).Value(name).Ex(profileTTL).Build()).Error()
	if err != nil {
		return fmt.Errorf("failed to cache profile name: %w", err)
	}

	logger.Debugf("Cached profile name for %s", key)

	return nil
}

func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.client.Close()
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("redis is disabled")
	}
	return c.client.Do(ctx, c.client.B().Ping().Build()).Error()
}
