package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

type conversationFinder interface {
	FindByCustomer(ctx context.Context, businessID string, channel domain.Channel, customerKey string) (*domain.Conversation, error)
}

// UsageTracker is the conversation quota collaborator.
type UsageTracker interface {
	CanCreateConversation(ctx context.Context, businessID string) (bool, error)
	IncrementConversationUsage(ctx context.Context, businessID string) error
}

type MatchInput struct {
	BusinessID string
	Channel    domain.Channel
	CustomerID string
	IsEcho     bool
	At         time.Time
	// CustomerName is only called when a conversation has to be created.
	CustomerName func(ctx context.Context) string
}

// MatchResult carries either a conversation (existing or new and unsaved)
// or the outcome explaining why the event is dropped.
type MatchResult struct {
	Conversation *domain.Conversation
	Created      bool
	Dropped      domain.InboundOutcome
}

type ConversationMatcher struct {
	conversations conversationFinder
	usage         UsageTracker
}

func NewConversationMatcher(conversations conversationFinder, usage UsageTracker) *ConversationMatcher {
	return &ConversationMatcher{
		conversations: conversations,
		usage:         usage,
	}
}

func (m *ConversationMatcher) Match(ctx context.Context, in MatchInput) (*MatchResult, error) {
	key := domain.NormalizeCustomerKey(in.Channel, in.CustomerID)
	if key == "" {
		return &MatchResult{Dropped: domain.OutcomeIgnored}, nil
	}

	conv, err := m.conversations.FindByCustomer(ctx, in.BusinessID, in.Channel, key)
	if err != nil {
		return nil, fmt.Errorf("failed to match conversation: %w", err)
	}
	if conv != nil {
		return &MatchResult{Conversation: conv}, nil
	}

	log := logger.With(
		zap.String("channel", string(in.Channel)),
		zap.String("business_id", in.BusinessID),
		zap.String("customer_key", key),
	)

	if in.IsEcho {
		log.Warn("echo for a conversation that does not exist, dropping")
		return &MatchResult{Dropped: domain.OutcomeUnknownEcho}, nil
	}

	allowed, err := m.usage.CanCreateConversation(ctx, in.BusinessID)
	if err != nil {
		log.Error("conversation quota check failed, allowing", zap.Error(err))
		allowed = true
	}
	if !allowed {
		log.Info("conversation quota exhausted, dropping message")
		return &MatchResult{Dropped: domain.OutcomeQuotaExceeded}, nil
	}

	name := in.CustomerID
	if in.CustomerName != nil {
		name = in.CustomerName(ctx)
	}

	conv = domain.NewConversation(in.BusinessID, in.Channel, in.CustomerID, name)
	conv.UnreadCount = 1
	at := in.At
	conv.LastMessageAt = &at

	return &MatchResult{Conversation: conv, Created: true}, nil
}

// ConfirmCreated reports a persisted conversation to the quota collaborator.
func (m *ConversationMatcher) ConfirmCreated(ctx context.Context, conv *domain.Conversation) {
	if err := m.usage.IncrementConversationUsage(ctx, conv.BusinessID); err != nil {
		logger.Error("failed to increment conversation usage",
			zap.String("business_id", conv.BusinessID),
			zap.Int64("conversation_id", conv.ID),
			zap.Error(err),
		)
	}
}
