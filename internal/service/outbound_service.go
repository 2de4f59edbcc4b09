package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

type outboundMessageStore interface {
	Create(ctx context.Context, msg *domain.Message) (*domain.Message, error)
	GetByID(ctx context.Context, id int64) (*domain.Message, error)
	FindByProviderMessageID(ctx context.Context, channel domain.Channel, providerMessageID string) (*domain.Message, error)
	MarkSent(ctx context.Context, id int64, sentAt time.Time, providerMessageID string, metadata domain.JSONMap, retry bool) (bool, error)
	MarkFailed(ctx context.Context, id int64, failedAt time.Time, reason string) (bool, error)
	MarkDelivered(ctx context.Context, id int64, deliveredAt time.Time) (bool, error)
	MarkRead(ctx context.Context, id int64, readAt time.Time) (bool, error)
}

type outboundConversationStore interface {
	GetByID(ctx context.Context, id int64) (*domain.Conversation, error)
	TouchOutbound(ctx context.Context, id int64, at time.Time, unreadDelta int) error
}

type OutboundRequest struct {
	ConversationID int64
	BusinessID     string
	SenderType     domain.SenderType
	SenderName     string
	Content        string
	Channel        domain.Channel
}

// OutboundService owns the delivery state machine of business replies.
type OutboundService struct {
	messages      outboundMessageStore
	conversations outboundConversationStore
	senders       map[domain.Channel]ChannelSender
	tasks         taskSubmitter
	now           func() time.Time
}

func NewOutboundService(
	messages outboundMessageStore,
	conversations outboundConversationStore,
	senders map[domain.Channel]ChannelSender,
	tasks taskSubmitter,
) *OutboundService {
	return &OutboundService{
		messages:      messages,
		conversations: conversations,
		senders:       senders,
		tasks:         tasks,
		now:           time.Now,
	}
}

// Send persists req and, for business messages, starts delivery without
// waiting for it. The returned record is usually still "sending".
func (s *OutboundService) Send(ctx context.Context, req OutboundRequest) (*domain.Message, error) {
	conv, err := s.conversations.GetByID(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.BusinessID != req.BusinessID {
		return nil, domain.ErrConversationNotFound
	}

	channel := req.Channel
	if channel == "" {
		channel = conv.Channel
	}
	if channel != conv.Channel {
		return nil, domain.ErrChannelMismatch
	}

	now := s.now().UTC()

	msg := &domain.Message{
		ConversationID: conv.ID,
		BusinessID:     conv.BusinessID,
		SenderType:     req.SenderType,
		SenderName:     req.SenderName,
		Content:        req.Content,
		Channel:        channel,
		Metadata:       domain.JSONMap{},
	}

	unreadDelta := 0
	if req.SenderType == domain.SenderBusiness {
		msg.Status = domain.StatusPtr(domain.StatusSending)
	} else {
		// Customer messages entered by staff are never queued.
		msg.Status = domain.StatusPtr(domain.StatusSent)
		msg.SentAt = &now
		unreadDelta = 1
	}

	created, err := s.messages.Create(ctx, msg)
	if err != nil {
		return nil, err
	}

	if err := s.conversations.TouchOutbound(ctx, conv.ID, now, unreadDelta); err != nil {
		logger.Error("failed to update conversation after send",
			zap.Int64("conversation_id", conv.ID),
			zap.Error(err),
		)
	}

	if req.SenderType != domain.SenderBusiness {
		return created, nil
	}

	if conv.IsSimulated {
		return s.completeSimulated(ctx, conv, created, false)
	}

	s.dispatchAsync(ctx, conv, created)

	return created, nil
}

// completeSimulated is the audited bypass for test conversations: no provider
// call, straight to sent.
func (s *OutboundService) completeSimulated(
	ctx context.Context,
	conv *domain.Conversation,
	msg *domain.Message,
	retry bool,
) (*domain.Message, error) {
	logger.Info("simulated conversation, provider dispatch bypassed",
		zap.String("business_id", conv.BusinessID),
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("message_id", msg.ID),
	)

	if _, err := s.messages.MarkSent(ctx, msg.ID, s.now().UTC(), "", domain.JSONMap{"simulated": true}, retry); err != nil {
		return nil, err
	}

	return s.messages.GetByID(ctx, msg.ID)
}

func (s *OutboundService) dispatchAsync(ctx context.Context, conv *domain.Conversation, msg *domain.Message) {
	task := func(taskCtx context.Context) error {
		return s.dispatch(taskCtx, conv, msg)
	}

	if s.tasks != nil && s.tasks.Submit("dispatch:"+string(conv.Channel), task) {
		return
	}

	logger.Warn("worker pool unavailable, dispatching inline",
		zap.Int64("message_id", msg.ID),
		zap.String("channel", string(conv.Channel)),
	)
	_ = s.dispatch(context.WithoutCancel(ctx), conv, msg)
}

// dispatch runs the channel sender and records the outcome on the message.
// The returned error is the dispatch failure, already persisted.
func (s *OutboundService) dispatch(ctx context.Context, conv *domain.Conversation, msg *domain.Message) error {
	log := logger.With(
		zap.String("channel", string(conv.Channel)),
		zap.String("business_id", conv.BusinessID),
		zap.Int64("conversation_id", conv.ID),
		zap.Int64("message_id", msg.ID),
	)

	retry := msg.CurrentStatus() == domain.StatusFailed

	var dispatchErr error
	var res domain.DispatchResult

	sender, ok := s.senders[conv.Channel]
	if !ok {
		dispatchErr = unsupportedChannel(conv.Channel)
	} else {
		res, dispatchErr = sender.Send(ctx, conv, msg)
	}

	now := s.now().UTC()

	if dispatchErr != nil {
		log.Warn("message dispatch failed", zap.Error(dispatchErr))

		if _, err := s.messages.MarkFailed(ctx, msg.ID, now, dispatchErr.Error()); err != nil {
			log.Error("failed to record dispatch failure", zap.Error(err))
		}
		return dispatchErr
	}

	metadata := res.Metadata
	if res.ProviderMessageID != "" {
		metadata = metadata.Merge(domain.JSONMap{domain.MetadataKey(conv.Channel): res.ProviderMessageID})
	}

	applied, err := s.messages.MarkSent(ctx, msg.ID, now, res.ProviderMessageID, metadata, retry)
	if err != nil {
		log.Error("failed to record dispatch success", zap.Error(err))
		return nil
	}
	if !applied {
		log.Warn("message was no longer sendable when dispatch completed")
		return nil
	}

	log.Info("message dispatched", zap.String("provider_message_id", res.ProviderMessageID))
	return nil
}

// Retry re-dispatches a failed business message synchronously and returns
// the updated record. A failed attempt is not an error: the record carries it.
func (s *OutboundService) Retry(ctx context.Context, businessID string, messageID int64) (*domain.Message, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.BusinessID != businessID {
		return nil, domain.ErrMessageNotFound
	}
	if msg.SenderType != domain.SenderBusiness || msg.CurrentStatus() != domain.StatusFailed {
		return nil, domain.ErrNotRetryable
	}

	conv, err := s.conversations.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, domain.ErrConversationNotFound
	}

	if conv.IsSimulated {
		return s.completeSimulated(ctx, conv, msg, true)
	}

	_ = s.dispatch(ctx, conv, msg)

	return s.messages.GetByID(ctx, msg.ID)
}

// ApplyStatusUpdate advances a message from a provider delivery receipt.
// Unknown ids and regressions are logged and dropped.
func (s *OutboundService) ApplyStatusUpdate(ctx context.Context, up domain.StatusUpdate) error {
	if up.ProviderMessageID == "" {
		return nil
	}

	log := logger.With(
		zap.String("channel", string(up.Channel)),
		zap.String("provider_message_id", up.ProviderMessageID),
		zap.String("status", string(up.Status)),
	)

	msg, err := s.messages.FindByProviderMessageID(ctx, up.Channel, up.ProviderMessageID)
	if err != nil {
		return err
	}
	if msg == nil {
		log.Info("status update for unknown message, dropping")
		return nil
	}

	at := up.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	var applied bool
	switch up.Status {
	case domain.StatusSent:
		applied, err = s.messages.MarkSent(ctx, msg.ID, at, "", nil, false)
	case domain.StatusDelivered:
		applied, err = s.messages.MarkDelivered(ctx, msg.ID, at)
	case domain.StatusRead:
		applied, err = s.messages.MarkRead(ctx, msg.ID, at)
	case domain.StatusFailed:
		reason := up.ErrorMessage
		if reason == "" {
			reason = fmt.Sprintf("%s reported delivery failure", up.Channel.DisplayName())
		}
		applied, err = s.messages.MarkFailed(ctx, msg.ID, at, reason)
	default:
		log.Debug("ignoring unsupported status")
		return nil
	}
	if err != nil {
		return err
	}

	if !applied {
		log.Debug("status update would not move message forward, ignored",
			zap.String("current_status", string(msg.CurrentStatus())),
		)
		return nil
	}

	log.Info("message status updated", zap.Int64("message_id", msg.ID))
	return nil
}
