package credentials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
)

type fakeStore struct {
	conn        *domain.Connection
	findErr     error
	updateErr   error
	updateCalls int
	lastAccess  string
	lastRefresh string
}

func (s *fakeStore) FindActive(ctx context.Context, businessID string, platform domain.Channel) (*domain.Connection, error) {
	return s.conn, s.findErr
}

func (s *fakeStore) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt *time.Time) error {
	s.updateCalls++
	s.lastAccess = accessToken
	s.lastRefresh = refreshToken
	return s.updateErr
}

type countingRefresher struct {
	calls  int
	tokens *domain.TokenSet
	err    error
}

func (r *countingRefresher) Refresh(ctx context.Context, conn *domain.Connection) (*domain.TokenSet, error) {
	r.calls++
	return r.tokens, r.err
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(store *fakeStore, refreshers map[domain.Channel]Refresher) *TokenService {
	s := NewTokenService(store, refreshers)
	s.now = func() time.Time { return fixedNow }
	return s
}

func expiringConn(platform domain.Channel, expiresAt *time.Time) *domain.Connection {
	return &domain.Connection{
		ID:             7,
		BusinessID:     "biz-1",
		Platform:       platform,
		AccessToken:    "stored",
		TokenExpiresAt: expiresAt,
		IsActive:       true,
	}
}

func TestEnsureValidToken_NoExpiryReturnsStored(t *testing.T) {
	refresher := &countingRefresher{}
	s := newService(&fakeStore{}, map[domain.Channel]Refresher{domain.ChannelWhatsApp: refresher})

	token, err := s.EnsureValidToken(context.Background(), expiringConn(domain.ChannelWhatsApp, nil))

	require.NoError(t, err)
	assert.Equal(t, "stored", token)
	assert.Zero(t, refresher.calls)
}

func TestEnsureValidToken_FutureExpiryReturnsStored(t *testing.T) {
	future := fixedNow.Add(time.Hour)
	refresher := &countingRefresher{}
	s := newService(&fakeStore{}, map[domain.Channel]Refresher{domain.ChannelInstagram: refresher})

	token, err := s.EnsureValidToken(context.Background(), expiringConn(domain.ChannelInstagram, &future))

	require.NoError(t, err)
	assert.Equal(t, "stored", token)
	assert.Zero(t, refresher.calls)
}

func TestEnsureValidToken_ExpiredRefreshesOnceAndPersists(t *testing.T) {
	past := fixedNow.Add(-time.Minute)
	newExpiry := fixedNow.Add(24 * time.Hour)
	store := &fakeStore{}
	refresher := &countingRefresher{tokens: &domain.TokenSet{
		AccessToken:  "fresh",
		RefreshToken: "rt-2",
		ExpiresAt:    &newExpiry,
	}}
	s := newService(store, map[domain.Channel]Refresher{domain.ChannelTikTok: refresher})

	conn := expiringConn(domain.ChannelTikTok, &past)
	token, err := s.EnsureValidToken(context.Background(), conn)

	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, 1, refresher.calls)
	assert.Equal(t, 1, store.updateCalls)
	assert.Equal(t, "fresh", store.lastAccess)
	assert.Equal(t, "rt-2", store.lastRefresh)
	assert.Equal(t, "fresh", conn.AccessToken)
	require.NotNil(t, conn.RefreshToken)
	assert.Equal(t, "rt-2", *conn.RefreshToken)
}

func TestEnsureValidToken_RefreshFailureRequiresReconnect(t *testing.T) {
	past := fixedNow.Add(-time.Minute)
	refresher := &countingRefresher{err: errors.New("invalid_grant")}
	store := &fakeStore{}
	s := newService(store, map[domain.Channel]Refresher{domain.ChannelInstagram: refresher})

	_, err := s.EnsureValidToken(context.Background(), expiringConn(domain.ChannelInstagram, &past))

	var reconnect *ReconnectRequiredError
	require.ErrorAs(t, err, &reconnect)
	assert.Equal(t, "Instagram token expired, please reconnect", err.Error())
	assert.Equal(t, 1, refresher.calls, "refresh must be attempted exactly once")
	assert.Zero(t, store.updateCalls)
}

func TestEnsureValidToken_NoRefresherRequiresReconnect(t *testing.T) {
	past := fixedNow.Add(-time.Minute)
	s := newService(&fakeStore{}, nil)

	_, err := s.EnsureValidToken(context.Background(), expiringConn(domain.ChannelWhatsApp, &past))

	var reconnect *ReconnectRequiredError
	require.ErrorAs(t, err, &reconnect)
	assert.Equal(t, "WhatsApp token expired, please reconnect", err.Error())
}

func TestEnsureValidToken_PersistFailureStillReturnsNewToken(t *testing.T) {
	past := fixedNow.Add(-time.Minute)
	store := &fakeStore{updateErr: errors.New("db down")}
	refresher := &countingRefresher{tokens: &domain.TokenSet{AccessToken: "fresh"}}
	s := newService(store, map[domain.Channel]Refresher{domain.ChannelInstagram: refresher})

	token, err := s.EnsureValidToken(context.Background(), expiringConn(domain.ChannelInstagram, &past))

	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
}

func TestActiveConnection_MissingConnection(t *testing.T) {
	s := newService(&fakeStore{}, nil)

	_, _, err := s.ActiveConnection(context.Background(), "biz-1", domain.ChannelInstagram)

	var notConnected *NotConnectedError
	require.ErrorAs(t, err, &notConnected)
	assert.Equal(t, "Instagram not connected", err.Error())
}

func TestActiveConnection_ReturnsConnectionAndToken(t *testing.T) {
	store := &fakeStore{conn: expiringConn(domain.ChannelWhatsApp, nil)}
	s := newService(store, nil)

	conn, token, err := s.ActiveConnection(context.Background(), "biz-1", domain.ChannelWhatsApp)

	require.NoError(t, err)
	assert.Equal(t, int64(7), conn.ID)
	assert.Equal(t, "stored", token)
}
