package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

type seenCache interface {
	IsSeen(ctx context.Context, conversationID int64, channel domain.Channel, providerMessageID string) (bool, error)
	MarkSeen(ctx context.Context, conversationID int64, channel domain.Channel, providerMessageID string) error
}

type messageExistence interface {
	ExistsByProviderMessageID(ctx context.Context, conversationID int64, providerMessageID string) (bool, error)
}

// Deduplicator is the advisory duplicate check in front of the store's
// unique key on (conversation_id, provider_message_id). It can only say
// "definitely seen"; a miss still has to survive the insert.
type Deduplicator struct {
	cache    seenCache
	messages messageExistence
}

func NewDeduplicator(cache seenCache, messages messageExistence) *Deduplicator {
	return &Deduplicator{cache: cache, messages: messages}
}

func (d *Deduplicator) Seen(ctx context.Context, conversationID int64, channel domain.Channel, providerMessageID string) bool {
	log := logger.With(
		zap.String("channel", string(channel)),
		zap.Int64("conversation_id", conversationID),
		zap.String("provider_message_id", providerMessageID),
	)

	if d.cache != nil {
		seen, err := d.cache.IsSeen(ctx, conversationID, channel, providerMessageID)
		if err != nil {
			log.Debug("seen cache lookup failed", zap.Error(err))
		} else if seen {
			return true
		}
	}

	exists, err := d.messages.ExistsByProviderMessageID(ctx, conversationID, providerMessageID)
	if err != nil {
		log.Warn("duplicate pre-check failed, relying on unique key", zap.Error(err))
		return false
	}

	return exists
}

// Remember marks a committed message so retries short-circuit in the cache.
func (d *Deduplicator) Remember(ctx context.Context, conversationID int64, channel domain.Channel, providerMessageID string) {
	if d.cache == nil {
		return
	}

	if err := d.cache.MarkSeen(ctx, conversationID, channel, providerMessageID); err != nil {
		logger.Debug("failed to mark message as seen",
			zap.Int64("conversation_id", conversationID),
			zap.String("provider_message_id", providerMessageID),
			zap.Error(err),
		)
	}
}
