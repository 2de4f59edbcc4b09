package database

import (
	"fmt"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/inbox-delivery-service/environments"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

// buildDSN pins both sides to UTC: loc for the driver's time.Time encoding and
// the session time_zone for CURRENT_TIMESTAMP columns, so Go-computed cutoffs
// compare against updated_at in the same zone.
func buildDSN(cfg environments.DatabaseConfig) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, cfg.Port)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Collation = "utf8mb4_unicode_ci"
	mc.Params = map[string]string{
		"charset":   "utf8mb4",
		"time_zone": "'+00:00'",
	}

	return mc.FormatDSN()
}

func NewMySQLDB(cfg environments.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("mysql", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Infof("Connected to MySQL database")
	return db, nil
}

// migrations run in order; every statement is idempotent.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS connections (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		business_id VARCHAR(64) NOT NULL,
		platform VARCHAR(20) NOT NULL,
		platform_user_id VARCHAR(191) NOT NULL,
		access_token TEXT NOT NULL,
		refresh_token TEXT NULL,
		token_expires_at DATETIME NULL,
		metadata JSON NULL,
		phone_number_id VARCHAR(64)
			GENERATED ALWAYS AS (JSON_UNQUOTE(JSON_EXTRACT(metadata, '$.phone_number_id'))) STORED,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY ux_connections_business_platform (business_id, platform),
		INDEX idx_connections_platform_user (platform, platform_user_id),
		INDEX idx_connections_phone_number (platform, phone_number_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
	`,
	`
	CREATE TABLE IF NOT EXISTS conversations (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		business_id VARCHAR(64) NOT NULL,
		channel VARCHAR(20) NOT NULL,
		customer_key VARCHAR(191) NOT NULL,
		customer_name VARCHAR(255) NOT NULL DEFAULT '',
		customer_email VARCHAR(255) NULL,
		customer_instagram_id VARCHAR(191) NULL,
		customer_phone VARCHAR(32) NULL,
		customer_tiktok_id VARCHAR(191) NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'open',
		archive_type VARCHAR(20) NULL,
		unread_count INT UNSIGNED NOT NULL DEFAULT 0,
		last_message_at DATETIME(3) NULL,
		is_simulated BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_at DATETIME NULL,
		live_marker TINYINT
			GENERATED ALWAYS AS (CASE WHEN deleted_at IS NULL THEN 1 ELSE NULL END) STORED,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		UNIQUE KEY ux_conversations_customer (business_id, channel, customer_key, live_marker),
		INDEX idx_conversations_last_message (business_id, last_message_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
	`,
	`
	CREATE TABLE IF NOT EXISTS messages (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		conversation_id BIGINT NOT NULL,
		business_id VARCHAR(64) NOT NULL,
		sender_type VARCHAR(20) NOT NULL,
		sender_name VARCHAR(255) NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		channel VARCHAR(20) NOT NULL,
		status VARCHAR(20) NULL,
		provider_message_id VARCHAR(191) NULL,
		metadata JSON NULL,
		sent_at DATETIME(3) NULL,
		delivered_at DATETIME(3) NULL,
		read_at DATETIME(3) NULL,
		failed_at DATETIME(3) NULL,
		error_message TEXT NULL,
		created_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3),
		updated_at DATETIME(3) NOT NULL DEFAULT CURRENT_TIMESTAMP(3) ON UPDATE CURRENT_TIMESTAMP(3),
		UNIQUE KEY ux_messages_provider_id (conversation_id, provider_message_id),
		INDEX idx_messages_channel_provider_id (channel, provider_message_id),
		INDEX idx_messages_conversation_created (conversation_id, created_at),
		CONSTRAINT fk_messages_conversation FOREIGN KEY (conversation_id)
			REFERENCES conversations (id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
	`,
	`
	CREATE TABLE IF NOT EXISTS business_usage (
		business_id VARCHAR(64) PRIMARY KEY,
		conversation_limit INT UNSIGNED NOT NULL DEFAULT 0,
		conversations_used INT UNSIGNED NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
	`,
}

func RunMigrations(db *sqlx.DB) error {
	for i, stmt := range migrations {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to run migration %d: %w", i+1, err)
		}
	}

	logger.Infof("Database migrations completed")

	return nil
}

// SeedOptions describes the demo business inserted by SeedTestData.
type SeedOptions struct {
	BusinessID        string
	InstagramUserID   string
	WhatsAppPhoneID   string
	TikTokOpenID      string
	ConversationLimit int
}

func DefaultSeedOptions() SeedOptions {
	return SeedOptions{
		BusinessID:        "demo-business",
		InstagramUserID:   "17841400000000000",
		WhatsAppPhoneID:   "100000000000001",
		TikTokOpenID:      "tt-demo-business",
		ConversationLimit: 100,
	}
}

func SeedTestData(db *sqlx.DB, opts SeedOptions) error {
	var count int

	err := db.Get(&count, "SELECT COUNT(*) FROM connections WHERE business_id = ?", opts.BusinessID)
	if err != nil {
		return err
	}

	if count > 0 {
		logger.Infof("Business %s already has %d connections, skipping seed", opts.BusinessID, count)
		return nil
	}

	testConnections := []struct {
		platform       string
		platformUserID string
		metadata       string
	}{
		{"instagram", opts.InstagramUserID, `{}`},
		{"whatsapp", "waba-" + opts.BusinessID, fmt.Sprintf(`{"phone_number_id":%q}`, opts.WhatsAppPhoneID)},
		{"tiktok", opts.TikTokOpenID, `{}`},
	}

	for _, conn := range testConnections {
		_, err := db.Exec(
			`INSERT INTO connections (business_id, platform, platform_user_id, access_token, metadata, is_active)
			 VALUES (?, ?, ?, 'seed-access-token', ?, TRUE)`,
			opts.BusinessID, conn.platform, conn.platformUserID, conn.metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to seed test data: %w", err)
		}
	}

	_, err = db.Exec(
		`INSERT INTO business_usage (business_id, conversation_limit) VALUES (?, ?)
		 ON DUPLICATE KEY UPDATE conversation_limit = VALUES(conversation_limit)`,
		opts.BusinessID, opts.ConversationLimit,
	)
	if err != nil {
		return fmt.Errorf("failed to seed usage: %w", err)
	}

	logger.Infof("Seeded %d test connections for business %s", len(testConnections), opts.BusinessID)
	return nil
}
