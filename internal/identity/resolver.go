package identity

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

type Direction string

const (
	// Incoming is a customer writing to the business.
	Incoming Direction = "incoming"
	// Echo is the business's own message sent from the provider's native app.
	Echo Direction = "echo"
)

// Resolution is the business side of an event and the customer on the other side.
type Resolution struct {
	Direction  Direction
	Connection *domain.Connection
	CustomerID string
}

func (r *Resolution) IsEcho() bool {
	return r.Direction == Echo
}

type connectionFinder interface {
	FindActiveByPlatformUserID(ctx context.Context, platform domain.Channel, platformUserID string) (*domain.Connection, error)
}

type tokenProvider interface {
	EnsureValidToken(ctx context.Context, conn *domain.Connection) (string, error)
}

// ProfileFetcher looks up a customer's display name on the provider.
type ProfileFetcher interface {
	FetchDisplayName(ctx context.Context, accessToken, customerID string) (string, error)
}

type nameCache interface {
	GetProfileName(ctx context.Context, channel domain.Channel, customerID string) (string, error)
	SetProfileName(ctx context.Context, channel domain.Channel, customerID, name string) error
}

type Resolver struct {
	connections connectionFinder
	tokens      tokenProvider
	fetchers    map[domain.Channel]ProfileFetcher
	cache       nameCache
}

func NewResolver(
	connections connectionFinder,
	tokens tokenProvider,
	fetchers map[domain.Channel]ProfileFetcher,
	cache nameCache,
) *Resolver {
	return &Resolver{
		connections: connections,
		tokens:      tokens,
		fetchers:    fetchers,
		cache:       cache,
	}
}

// Resolve finds the business an event belongs to. The recipient is tried
// first as the business's own account (incoming); failing that, the sender
// (echo). An explicit provider echo flag skips the first pass. A nil
// Resolution means no business matched.
func (r *Resolver) Resolve(ctx context.Context, ev domain.InboundEvent) (*Resolution, error) {
	if !ev.IsEcho && ev.RecipientID != "" {
		conn, err := r.connections.FindActiveByPlatformUserID(ctx, ev.Channel, ev.RecipientID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve recipient: %w", err)
		}
		if conn != nil {
			return &Resolution{Direction: Incoming, Connection: conn, CustomerID: ev.SenderID}, nil
		}
	}

	if ev.SenderID != "" {
		conn, err := r.connections.FindActiveByPlatformUserID(ctx, ev.Channel, ev.SenderID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve sender: %w", err)
		}
		if conn != nil {
			return &Resolution{Direction: Echo, Connection: conn, CustomerID: ev.RecipientID}, nil
		}
	}

	return nil, nil
}

// DisplayName picks the customer's name for a new conversation. It never
// fails: any lookup problem falls back to the raw customer id.
func (r *Resolver) DisplayName(ctx context.Context, res *Resolution, ev domain.InboundEvent) string {
	if res.IsEcho() {
		return res.CustomerID
	}
	if ev.SenderName != "" {
		return ev.SenderName
	}

	log := logger.With(
		zap.String("channel", string(ev.Channel)),
		zap.String("business_id", res.Connection.BusinessID),
		zap.String("customer_id", res.CustomerID),
	)

	if r.cache != nil {
		name, err := r.cache.GetProfileName(ctx, ev.Channel, res.CustomerID)
		if err != nil {
			log.Debug("profile name cache lookup failed", zap.Error(err))
		} else if name != "" {
			return name
		}
	}

	fetcher, ok := r.fetchers[ev.Channel]
	if !ok {
		return res.CustomerID
	}

	token, err := r.tokens.EnsureValidToken(ctx, res.Connection)
	if err != nil {
		log.Warn("skipping profile lookup, no valid token", zap.Error(err))
		return res.CustomerID
	}

	name, err := fetcher.FetchDisplayName(ctx, token, res.CustomerID)
	if err != nil || name == "" {
		log.Warn("profile lookup failed, using raw id", zap.Error(err))
		return res.CustomerID
	}

	if r.cache != nil {
		if err := r.cache.SetProfileName(ctx, ev.Channel, res.CustomerID, name); err != nil {
			log.Debug("failed to cache profile name", zap.Error(err))
		}
	}

	return name
}
