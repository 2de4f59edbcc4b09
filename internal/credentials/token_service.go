package credentials

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

// NotConnectedError means the business has no active connection for the platform.
type NotConnectedError struct {
	Platform domain.Channel
}

func (e *NotConnectedError) Error() string {
	return e.Platform.DisplayName() + " not connected"
}

// ReconnectRequiredError means the stored token expired and could not be
// refreshed. The business has to go through OAuth again.
type ReconnectRequiredError struct {
	Platform domain.Channel
	Cause    error
}

func (e *ReconnectRequiredError) Error() string {
	return e.Platform.DisplayName() + " token expired, please reconnect"
}

func (e *ReconnectRequiredError) Unwrap() error {
	return e.Cause
}

// Refresher exchanges an expired connection's credentials for new tokens.
type Refresher interface {
	Refresh(ctx context.Context, conn *domain.Connection) (*domain.TokenSet, error)
}

type RefresherFunc func(ctx context.Context, conn *domain.Connection) (*domain.TokenSet, error)

func (f RefresherFunc) Refresh(ctx context.Context, conn *domain.Connection) (*domain.TokenSet, error) {
	return f(ctx, conn)
}

type connectionStore interface {
	FindActive(ctx context.Context, businessID string, platform domain.Channel) (*domain.Connection, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error
}

type TokenService struct {
	store      connectionStore
	refreshers map[domain.Channel]Refresher
	now        func() time.Time
}

func NewTokenService(store connectionStore, refreshers map[domain.Channel]Refresher) *TokenService {
	return &TokenService{
		store:      store,
		refreshers: refreshers,
		now:        time.Now,
	}
}

// ActiveConnection loads the business's connection and a usable token for it.
func (s *TokenService) ActiveConnection(
	ctx context.Context,
	businessID string,
	platform domain.Channel,
) (*domain.Connection, string, error) {
	conn, err := s.store.FindActive(ctx, businessID, platform)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load %s connection: %w", platform, err)
	}
	if conn == nil {
		return nil, "", &NotConnectedError{Platform: platform}
	}

	token, err := s.EnsureValidToken(ctx, conn)
	if err != nil {
		return nil, "", err
	}

	return conn, token, nil
}

// EnsureValidToken returns a token that is safe to use right now. An expired
// token is refreshed exactly once. conn is updated in place on success.
func (s *TokenService) EnsureValidToken(ctx context.Context, conn *domain.Connection) (string, error) {
	if !conn.TokenExpired(s.now()) {
		return conn.AccessToken, nil
	}

	log := logger.With(
		zap.String("business_id", conn.BusinessID),
		zap.String("platform", string(conn.Platform)),
		zap.Int64("connection_id", conn.ID),
	)

	refresher, ok := s.refreshers[conn.Platform]
	if !ok {
		log.Warn("token expired and platform has no refresh flow")
		return "", &ReconnectRequiredError{Platform: conn.Platform}
	}

	tokens, err := refresher.Refresh(ctx, conn)
	if err != nil {
		log.Error("token refresh failed", zap.Error(err))
		return "", &ReconnectRequiredError{Platform: conn.Platform, Cause: err}
	}

	if err := s.store.UpdateTokens(ctx, conn.ID, tokens.AccessToken, tokens.RefreshToken, tokens.ExpiresAt); err != nil {
		// The provider has already rotated the token; the stored one is now dead.
		log.Error("failed to persist refreshed token", zap.Error(err))
	}

	conn.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		refresh := tokens.RefreshToken
		conn.RefreshToken = &refresh
	}
	conn.TokenExpiresAt = tokens.ExpiresAt

	log.Info("token refreshed")

	return tokens.AccessToken, nil
}
