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

const connectionColumns = `id, business_id, platform, platform_user_id, access_token, refresh_token,
	token_expires_at, metadata, is_active, created_at, updated_at`

// ConnectionRepository is the credential store: one row per business and platform.
type ConnectionRepository struct {
	db *sqlx.DB
}

func NewConnectionRepository(db *sqlx.DB) *ConnectionRepository {
	return &ConnectionRepository{db: db}
}

// FindActive returns the business's active connection for platform, or nil.
func (r *ConnectionRepository) FindActive(
	ctx context.Context,
	businessID string,
	platform domain.Channel,
) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM connections
		WHERE business_id = ? AND platform = ? AND is_active = TRUE
		LIMIT 1
	`

	return r.getOne(ctx, query, businessID, platform)
}

// FindActiveByPlatformUserID looks the business up by its own id on the
// platform. WhatsApp webhooks identify the business by phone-number id, which
// lives in metadata, so both are checked.
func (r *ConnectionRepository) FindActiveByPlatformUserID(
	ctx context.Context,
	platform domain.Channel,
	platformUserID string,
) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + `
		FROM connections
		WHERE platform = ? AND is_active = TRUE
		  AND (platform_user_id = ? OR phone_number_id = ?)
		ORDER BY updated_at DESC
		LIMIT 1
	`

	return r.getOne(ctx, query, platform, platformUserID, platformUserID)
}

func (r *ConnectionRepository) getOne(ctx context.Context, query string, args ...any) (*domain.Connection, error) {
	var conn domain.Connection
	if err := r.db.GetContext(ctx, &conn, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}

	return &conn, nil
}

func (r *ConnectionRepository) UpdateTokens(
	ctx context.Context,
	id int64,
	accessToken string,
	refreshToken string,
	expiresAt *time.Time,
) error {
	query := `
		UPDATE connections
		SET access_token = ?,
		    refresh_token = COALESCE(NULLIF(?, ''), refresh_token),
		    token_expires_at = ?,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, accessToken, refreshToken, expiresAt, id)
	if err != nil {
		return fmt.Errorf("failed to update connection tokens: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("no connection found with id %d", id)
	}

	return nil
}

// Deactivate soft-deletes a connection.
func (r *ConnectionRepository) Deactivate(ctx context.Context, id int64) error {
	query := `UPDATE connections SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to deactivate connection: %w", err)
	}

	return nil
}

// Upsert stores a connection the way the OAuth callback does: one row per
// business and platform, reactivated on reconnect.
func (r *ConnectionRepository) Upsert(ctx context.Context, conn *domain.Connection) error {
	query := `
		INSERT INTO connections (business_id, platform, platform_user_id, access_token, refresh_token,
			token_expires_at, metadata, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, TRUE)
		ON DUPLICATE KEY UPDATE
			platform_user_id = VALUES(platform_user_id),
			access_token = VALUES(access_token),
			refresh_token = VALUES(refresh_token),
			token_expires_at = VALUES(token_expires_at),
			metadata = VALUES(metadata),
			is_active = TRUE,
			updated_at = CURRENT_TIMESTAMP
	`

	_, err := r.db.ExecContext(ctx, query,
		conn.BusinessID, conn.Platform, conn.PlatformUserID, conn.AccessToken, conn.RefreshToken,
		conn.TokenExpiresAt, conn.Metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert connection: %w", err)
	}

	return nil
}
