package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/internal/identity"
	"github.com/onurcolak/inbox-delivery-service/internal/repository"
	"github.com/onurcolak/inbox-delivery-service/internal/worker"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

type identityResolver interface {
	Resolve(ctx context.Context, ev domain.InboundEvent) (*identity.Resolution, error)
	DisplayName(ctx context.Context, res *identity.Resolution, ev domain.InboundEvent) string
}

type inboundStore interface {
	SaveInbound(ctx context.Context, w repository.InboundWrite) (repository.InboundResult, error)
}

type taskSubmitter interface {
	Submit(name string, fn worker.TaskFunc) bool
}

// NoteTrigger asks the notes service to summarize a conversation after an
// inbound message. A nil NoteTrigger disables auto-notes.
type NoteTrigger interface {
	TriggerAutoNote(ctx context.Context, businessID string, conversationID, messageID int64) error
}

// InboundService runs one parsed webhook event through the pipeline:
// resolve, match, dedup, save, post-process.
type InboundService struct {
	resolver identityResolver
	matcher  *ConversationMatcher
	dedup    *Deduplicator
	store    inboundStore
	tasks    taskSubmitter
	notes    NoteTrigger
	now      func() time.Time
}

func NewInboundService(
	resolver identityResolver,
	matcher *ConversationMatcher,
	dedup *Deduplicator,
	store inboundStore,
	tasks taskSubmitter,
	notes NoteTrigger,
) *InboundService {
	return &InboundService{
		resolver: resolver,
		matcher:  matcher,
		dedup:    dedup,
		store:    store,
		tasks:    tasks,
		notes:    notes,
		now:      time.Now,
	}
}

// conversation creation can lose a race to a concurrent delivery at most once
// before the winner's row is visible to FindByCustomer.
const maxMatchAttempts = 2

// ProcessInbound stores ev and reports what happened to it. Drops are
// outcomes, not errors; an error means an internal fault.
func (s *InboundService) ProcessInbound(ctx context.Context, ev domain.InboundEvent) (domain.InboundOutcome, error) {
	log := logger.With(
		zap.String("channel", string(ev.Channel)),
		zap.String("provider_message_id", ev.ProviderMessageID),
	)

	res, err := s.resolver.Resolve(ctx, ev)
	if err != nil {
		return "", err
	}
	if res == nil {
		log.Info("no business found for event",
			zap.String("sender_id", ev.SenderID),
			zap.String("recipient_id", ev.RecipientID),
		)
		return domain.OutcomeNoBusiness, nil
	}

	businessID := res.Connection.BusinessID
	log = log.With(zap.String("business_id", businessID), zap.String("direction", string(res.Direction)))

	at := ev.Timestamp
	if at.IsZero() {
		at = s.now()
	}
	at = at.UTC()

	for attempt := 0; attempt < maxMatchAttempts; attempt++ {
		match, err := s.matcher.Match(ctx, MatchInput{
			BusinessID: businessID,
			Channel:    ev.Channel,
			CustomerID: res.CustomerID,
			IsEcho:     res.IsEcho(),
			At:         at,
			CustomerName: func(ctx context.Context) string {
				return s.resolver.DisplayName(ctx, res, ev)
			},
		})
		if err != nil {
			return "", err
		}
		if match.Dropped != "" {
			return match.Dropped, nil
		}

		conv := match.Conversation

		if !match.Created && ev.ProviderMessageID != "" &&
			s.dedup.Seen(ctx, conv.ID, ev.Channel, ev.ProviderMessageID) {
			log.Info("duplicate, skipping", zap.Int64("conversation_id", conv.ID))
			return domain.OutcomeDuplicate, nil
		}

		write := repository.InboundWrite{
			Message:     s.buildMessage(res, ev, conv, at),
			UnreadDelta: 1,
			ActivityAt:  at,
		}
		if res.IsEcho() {
			write.UnreadDelta = 0
		}
		if match.Created {
			write.NewConversation = conv
		} else {
			write.ConversationID = conv.ID
		}

		result, err := s.store.SaveInbound(ctx, write)
		switch {
		case errors.Is(err, domain.ErrConversationExists):
			log.Debug("conversation created concurrently, re-matching")
			continue
		case errors.Is(err, domain.ErrDuplicateMessage):
			log.Info("duplicate, skipping", zap.Int64("conversation_id", conv.ID))
			return domain.OutcomeDuplicate, nil
		case err != nil:
			return "", fmt.Errorf("failed to save inbound message: %w", err)
		}

		conv.ID = result.ConversationID
		if match.Created {
			s.matcher.ConfirmCreated(ctx, conv)
		}
		if ev.ProviderMessageID != "" {
			s.dedup.Remember(ctx, conv.ID, ev.Channel, ev.ProviderMessageID)
		}

		log.Info("inbound message stored",
			zap.Int64("conversation_id", conv.ID),
			zap.Int64("message_id", result.MessageID),
			zap.Bool("conversation_created", match.Created),
		)

		if !res.IsEcho() {
			s.triggerAutoNote(businessID, conv.ID, result.MessageID)
		}

		return domain.OutcomeStored, nil
	}

	return "", fmt.Errorf("conversation for %s kept conflicting after %d attempts", res.CustomerID, maxMatchAttempts)
}

func (s *InboundService) buildMessage(
	res *identity.Resolution,
	ev domain.InboundEvent,
	conv *domain.Conversation,
	at time.Time,
) *domain.Message {
	metadata := domain.JSONMap{
		"is_echo":      res.IsEcho(),
		"sender_id":    ev.SenderID,
		"recipient_id": ev.RecipientID,
	}.Merge(ev.Metadata)

	msg := &domain.Message{
		BusinessID: res.Connection.BusinessID,
		Content:    ev.Text,
		Channel:    ev.Channel,
		Metadata:   metadata,
	}

	if ev.ProviderMessageID != "" {
		pid := ev.ProviderMessageID
		msg.ProviderMessageID = &pid
		msg.Metadata[domain.MetadataKey(ev.Channel)] = pid
	}

	if res.IsEcho() {
		// Already delivered by the provider's own app.
		msg.SenderType = domain.SenderBusiness
		msg.SenderName = ev.SenderName
		msg.Status = domain.StatusPtr(domain.StatusSent)
		msg.SentAt = &at
		return msg
	}

	msg.SenderType = domain.SenderCustomer
	msg.SenderName = conv.CustomerName
	if ev.SenderName != "" {
		msg.SenderName = ev.SenderName
	}

	return msg
}

func (s *InboundService) triggerAutoNote(businessID string, conversationID, messageID int64) {
	if s.tasks == nil || s.notes == nil {
		return
	}

	submitted := s.tasks.Submit("auto-note", func(ctx context.Context) error {
		return s.notes.TriggerAutoNote(ctx, businessID, conversationID, messageID)
	})
	if !submitted {
		logger.Debug("worker pool saturated, auto-note skipped",
			zap.String("business_id", businessID),
			zap.Int64("conversation_id", conversationID),
		)
	}
}
