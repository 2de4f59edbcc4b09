package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
)

func TestConversationService_CreateIsIdempotentPerCustomer(t *testing.T) {
	ctx := context.Background()
	db := newMemDB()
	svc := NewConversationService(db.convs(), db.msgs())

	req := CreateConversationRequest{
		BusinessID:   "biz-1",
		Channel:      domain.ChannelEmail,
		CustomerID:   "Ada@Example.com",
		CustomerName: "Ada",
	}

	first, created, err := svc.Create(ctx, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "ada@example.com", first.CustomerKey)

	second, created, err := svc.Create(ctx, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, db.conversationCount())
}

func TestConversationService_ListMessagesChecksOwnership(t *testing.T) {
	ctx := context.Background()
	db := newMemDB()
	svc := NewConversationService(db.convs(), db.msgs())

	conv := db.seedConversation(domain.NewConversation("biz-1", domain.ChannelWhatsApp, "+15551234567", "Jane"))
	for i := 0; i < 3; i++ {
		db.seedMessage(&domain.Message{
			ConversationID: conv.ID,
			BusinessID:     "biz-1",
			SenderType:     domain.SenderCustomer,
			Channel:        domain.ChannelWhatsApp,
			Content:        "hi",
		})
	}

	messages, total, err := svc.ListMessages(ctx, "biz-1", conv.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	assert.Len(t, messages, 2)

	_, _, err = svc.ListMessages(ctx, "biz-2", conv.ID, 1, 2)
	assert.ErrorIs(t, err, domain.ErrConversationNotFound)
}
