package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
)

const messageColumns = `id, conversation_id, business_id, sender_type, sender_name, content, channel, status,
	provider_message_id, metadata, sent_at, delivered_at, read_at, failed_at, error_message,
	created_at, updated_at`

// MessageRepository handles database operations for messages.
type MessageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// InboundWrite is one inbound message and the conversation change it causes.
// Exactly one of NewConversation and ConversationID is set.
type InboundWrite struct {
	NewConversation *domain.Conversation
	ConversationID  int64
	Message         *domain.Message
	UnreadDelta     int
	ActivityAt      time.Time
}

type InboundResult struct {
	ConversationID int64
	MessageID      int64
}

// SaveInbound applies the message insert and conversation update in one
// transaction. The unread increment is computed by MySQL against the row as
// it stands at update time, so concurrent deliveries don't lose increments.
func (r *MessageRepository) SaveInbound(ctx context.Context, w InboundWrite) (result InboundResult, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	conversationID := w.ConversationID
	if w.NewConversation != nil {
		conversationID, err = insertConversation(ctx, tx, w.NewConversation)
		if err != nil {
			return result, err
		}
	}

	msg := *w.Message
	msg.ConversationID = conversationID

	messageID, err := insertMessage(ctx, tx, &msg)
	if err != nil {
		return result, err
	}

	if w.NewConversation == nil {
		query := `
			UPDATE conversations
			SET last_message_at = ?,
			    status = 'open',
			    archive_type = NULL,
			    unread_count = unread_count + ?,
			    updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`
		if _, err = tx.ExecContext(ctx, query, w.ActivityAt, w.UnreadDelta, conversationID); err != nil {
			return result, fmt.Errorf("failed to update conversation: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit inbound message: %w", err)
	}

	return InboundResult{ConversationID: conversationID, MessageID: messageID}, nil
}

// Create inserts an outbound (or staff-entered) message and returns the stored row.
func (r *MessageRepository) Create(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	id, err := insertMessage(ctx, r.db, msg)
	if err != nil {
		return nil, err
	}

	return r.GetByID(ctx, id)
}

func insertMessage(ctx context.Context, exec sqlx.ExecerContext, msg *domain.Message) (int64, error) {
	query := `
		INSERT INTO messages (conversation_id, business_id, sender_type, sender_name, content, channel,
			status, provider_message_id, metadata, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := exec.ExecContext(ctx, query,
		msg.ConversationID, msg.BusinessID, msg.SenderType, msg.SenderName, msg.Content, msg.Channel,
		msg.Status, msg.ProviderMessageID, msg.Metadata, msg.SentAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, domain.ErrDuplicateMessage
		}
		return 0, fmt.Errorf("failed to create message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	var message domain.Message
	if err := r.db.GetContext(ctx, &message, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &message, nil
}

// ExistsByProviderMessageID is the advisory duplicate check.
func (r *MessageRepository) ExistsByProviderMessageID(
	ctx context.Context,
	conversationID int64,
	providerMessageID string,
) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM messages WHERE conversation_id = ? AND provider_message_id = ?)`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, conversationID, providerMessageID); err != nil {
		return false, fmt.Errorf("failed to check message existence: %w", err)
	}

	return exists, nil
}

// FindByProviderMessageID correlates a provider status callback with a message.
func (r *MessageRepository) FindByProviderMessageID(
	ctx context.Context,
	channel domain.Channel,
	providerMessageID string,
) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE channel = ? AND provider_message_id = ?
		ORDER BY id DESC
		LIMIT 1
	`

	var message domain.Message
	if err := r.db.GetContext(ctx, &message, query, channel, providerMessageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find message by provider id: %w", err)
	}

	return &message, nil
}

func (r *MessageRepository) ListByConversation(
	ctx context.Context,
	conversationID int64,
	page, pageSize int,
) ([]domain.Message, int64, error) {
	offset := (page - 1) * pageSize

	var totalCount int64
	countQuery := "SELECT COUNT(*) FROM messages WHERE conversation_id = ?"
	if err := r.db.GetContext(ctx, &totalCount, countQuery, conversationID); err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	query := `SELECT ` + messageColumns + `
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?
	`

	messages := []domain.Message{}
	if err := r.db.SelectContext(ctx, &messages, query, conversationID, pageSize, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to get messages: %w", err)
	}

	return messages, totalCount, nil
}

// MarkSent records a successful dispatch. It applies from sending, and from
// failed when retry is set. Returns false when the message was in another state.
func (r *MessageRepository) MarkSent(
	ctx context.Context,
	id int64,
	sentAt time.Time,
	providerMessageID string,
	metadata domain.JSONMap,
	retry bool,
) (bool, error) {
	var provider *string
	if providerMessageID != "" {
		provider = &providerMessageID
	}
	if metadata == nil {
		metadata = domain.JSONMap{}
	}

	return r.transition(ctx, domain.StatusSent, retry, `
		status = 'sent',
		sent_at = ?,
		provider_message_id = COALESCE(?, provider_message_id),
		metadata = JSON_MERGE_PATCH(COALESCE(metadata, JSON_OBJECT()), ?),
		error_message = NULL
	`, id, sentAt, provider, metadata)
}

func (r *MessageRepository) MarkFailed(ctx context.Context, id int64, failedAt time.Time, reason string) (bool, error) {
	return r.transition(ctx, domain.StatusFailed, false, `
		status = 'failed',
		failed_at = ?,
		error_message = ?
	`, id, failedAt, reason)
}

func (r *MessageRepository) MarkDelivered(ctx context.Context, id int64, deliveredAt time.Time) (bool, error) {
	return r.transition(ctx, domain.StatusDelivered, false, `
		status = 'delivered',
		delivered_at = ?
	`, id, deliveredAt)
}

// MarkRead also back-fills delivered_at when the delivered receipt never came.
func (r *MessageRepository) MarkRead(ctx context.Context, id int64, readAt time.Time) (bool, error) {
	return r.transition(ctx, domain.StatusRead, false, `
		status = 'read',
		read_at = ?,
		delivered_at = COALESCE(delivered_at, ?)
	`, id, readAt, readAt)
}

// FailStaleSending fails business messages that have sat in sending since
// before the cutoff, which only happens when a dispatch task was lost.
func (r *MessageRepository) FailStaleSending(
	ctx context.Context,
	cutoff time.Time,
	failedAt time.Time,
	reason string,
) (int64, error) {
	query := `
		UPDATE messages
		SET status = 'failed', failed_at = ?, error_message = ?
		WHERE status = 'sending' AND sender_type = 'business' AND updated_at < ?
	`

	result, err := r.db.ExecContext(ctx, query, failedAt, reason, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale messages: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

// transition runs a status update guarded by the allowed source statuses of
// next, so racing updates can never move a message backwards.
func (r *MessageRepository) transition(
	ctx context.Context,
	next domain.MessageStatus,
	retry bool,
	set string,
	id int64,
	setArgs ...any,
) (bool, error) {
	from := domain.StatusesAllowing(next, retry)

	args := append(setArgs, id, from)

	query, args, err := sqlx.In(`
		UPDATE messages
		SET `+set+`
		WHERE id = ? AND status IN (?)
	`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to build %s update: %w", next, err)
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to mark message as %s: %w", next, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}
