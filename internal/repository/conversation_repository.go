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

const conversationColumns = `id, business_id, channel, customer_key, customer_name, customer_email,
	customer_instagram_id, customer_phone, customer_tiktok_id, status, archive_type, unread_count,
	last_message_at, is_simulated, deleted_at, created_at, updated_at`

type ConversationRepository struct {
	db *sqlx.DB
}

func NewConversationRepository(db *sqlx.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// FindByCustomer looks up the live conversation for (business, channel, customer key).
func (r *ConversationRepository) FindByCustomer(
	ctx context.Context,
	businessID string,
	channel domain.Channel,
	customerKey string,
) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE business_id = ? AND channel = ? AND customer_key = ? AND deleted_at IS NULL
		LIMIT 1
	`

	var conv domain.Conversation
	if err := r.db.GetContext(ctx, &conv, query, businessID, channel, customerKey); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find conversation: %w", err)
	}

	return &conv, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id int64) (*domain.Conversation, error) {
	query := `SELECT ` + conversationColumns + `
		FROM conversations
		WHERE id = ? AND deleted_at IS NULL
	`

	var conv domain.Conversation
	if err := r.db.GetContext(ctx, &conv, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return &conv, nil
}

// Create inserts a business-created conversation (email or simulated).
func (r *ConversationRepository) Create(ctx context.Context, conv *domain.Conversation) (*domain.Conversation, error) {
	id, err := insertConversation(ctx, r.db, conv)
	if err != nil {
		return nil, err
	}

	return r.GetByID(ctx, id)
}

// TouchOutbound records activity from a message the business sent through us.
// unreadDelta is 1 for customer-originated messages entered by staff.
func (r *ConversationRepository) TouchOutbound(ctx context.Context, id int64, at time.Time, unreadDelta int) error {
	query := `
		UPDATE conversations
		SET last_message_at = ?,
		    unread_count = unread_count + ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, query, at, unreadDelta, id); err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	return nil
}

// insertConversation is shared by Create and the inbound transaction.
func insertConversation(ctx context.Context, exec sqlx.ExecerContext, conv *domain.Conversation) (int64, error) {
	query := `
		INSERT INTO conversations (business_id, channel, customer_key, customer_name, customer_email,
			customer_instagram_id, customer_phone, customer_tiktok_id, status, unread_count,
			last_message_at, is_simulated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := exec.ExecContext(ctx, query,
		conv.BusinessID, conv.Channel, conv.CustomerKey, conv.CustomerName, conv.CustomerEmail,
		conv.CustomerInstagramID, conv.CustomerPhone, conv.CustomerTikTokID, conv.Status,
		conv.UnreadCount, conv.LastMessageAt, conv.IsSimulated,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return 0, domain.ErrConversationExists
		}
		return 0, fmt.Errorf("failed to create conversation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}
