package service

import (
	"context"
	"errors"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
)

type conversationStore interface {
	conversationFinder
	GetByID(ctx context.Context, id int64) (*domain.Conversation, error)
	Create(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error)
}

type messageLister interface {
	ListByConversation(ctx context.Context, conversationID int64, page, pageSize int) ([]domain.Message, int64, error)
}

type CreateConversationRequest struct {
	BusinessID   string
	Channel      domain.Channel
	CustomerID   string
	CustomerName string
	IsSimulated  bool
}

// ConversationService covers the business-initiated side of conversations:
// email threads and simulated test conversations.
type ConversationService struct {
	conversations conversationStore
	messages      messageLister
}

func NewConversationService(conversations conversationStore, messages messageLister) *ConversationService {
	return &ConversationService{conversations: conversations, messages: messages}
}

// Create opens a conversation, or returns the live one for the same customer.
func (s *ConversationService) Create(ctx context.Context, req CreateConversationRequest) (*domain.Conversation, bool, error) {
	conv := domain.NewConversation(req.BusinessID, req.Channel, req.CustomerID, req.CustomerName)
	conv.IsSimulated = req.IsSimulated

	created, err := s.conversations.Create(ctx, conv)
	if errors.Is(err, domain.ErrConversationExists) {
		existing, findErr := s.conversations.FindByCustomer(ctx, conv.BusinessID, conv.Channel, conv.CustomerKey)
		if findErr != nil {
			return nil, false, findErr
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}

	return created, true, nil
}

func (s *ConversationService) ListMessages(
	ctx context.Context,
	businessID string,
	conversationID int64,
	page, pageSize int,
) ([]domain.Message, int64, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, 0, err
	}
	if conv == nil || conv.BusinessID != businessID {
		return nil, 0, domain.ErrConversationNotFound
	}

	return s.messages.ListByConversation(ctx, conversationID, page, pageSize)
}
