package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// UsageRepository tracks how many conversations each business may still open.
// A business without a usage row, or with a zero limit, is unlimited.
type UsageRepository struct {
	db *sqlx.DB
}

func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

type usageRow struct {
	ConversationLimit int `db:"conversation_limit"`
	ConversationsUsed int `db:"conversations_used"`
}

func (r *UsageRepository) CanCreateConversation(ctx context.Context, businessID string) (bool, error) {
	query := `SELECT conversation_limit, conversations_used FROM business_usage WHERE business_id = ?`

	var row usageRow
	if err := r.db.GetContext(ctx, &row, query, businessID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("failed to get business usage: %w", err)
	}

	if row.ConversationLimit == 0 {
		return true, nil
	}

	return row.ConversationsUsed < row.ConversationLimit, nil
}

func (r *UsageRepository) IncrementConversationUsage(ctx context.Context, businessID string) error {
	query := `
		INSERT INTO business_usage (business_id, conversations_used) VALUES (?, 1)
		ON DUPLICATE KEY UPDATE conversations_used = conversations_used + 1
	`

	if _, err := r.db.ExecContext(ctx, query, businessID); err != nil {
		return fmt.Errorf("failed to increment conversation usage: %w", err)
	}

	return nil
}
