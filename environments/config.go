package environments

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Instagram MetaChannelConfig
	WhatsApp  MetaChannelConfig
	Meta      MetaAPIConfig
	TikTok    TikTokConfig
	Email     EmailConfig
	Notes     NotesConfig
	Worker    WorkerConfig
	Auth      AuthConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	// SeedData inserts the demo business at startup.
	SeedData bool
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
	DB       int
}

// MetaChannelConfig holds the webhook secrets of a Meta-family channel.
type MetaChannelConfig struct {
	AppSecret   string
	VerifyToken string
}

type MetaAPIConfig struct {
	GraphBaseURL          string
	GraphVersion          string
	InstagramGraphBaseURL string
	Timeout               time.Duration
}

type TikTokConfig struct {
	ClientKey     string
	ClientSecret  string
	WebhookSecret string
	APIBaseURL    string
	Timeout       time.Duration
}

type EmailConfig struct {
	APIKey      string
	BaseURL     string
	FromAddress string
	FromName    string
	Timeout     time.Duration
}

// NotesConfig configures the fire-and-forget auto-note trigger.
type NotesConfig struct {
	PublicBaseURL string
	Timeout       time.Duration
}

type WorkerConfig struct {
	Concurrency int
	QueueSize   int

	// SweepInterval of zero disables the stale sending sweeper.
	SweepInterval     time.Duration
	StaleSendingAfter time.Duration
}

type AuthConfig struct {
	// MessagesAPIKeys accepts several keys so one can be rotated out without downtime.
	MessagesAPIKeys []string
}

type LogConfig struct {
	Level string
	File  string
}

func Load() *Config {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port: GetEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     GetEnv("DB_HOST", "localhost"),
			Port:     GetEnv("DB_PORT", "3306"),
			User:     GetEnv("DB_USER", "inbox"),
			Password: GetEnv("DB_PASSWORD", "inbox123"),
			DBName:   GetEnv("DB_NAME", "inbox"),
			SeedData: GetEnvAsBool("SEED_DATA", false),
		},
		Redis: RedisConfig{
			Enabled:  GetEnvAsBool("REDIS_ENABLED", true),
			Host:     GetEnv("REDIS_HOST", "localhost"),
			Port:     GetEnv("REDIS_PORT", "6379"),
			Password: GetEnv("REDIS_PASSWORD", ""),
			DB:       GetEnvAsInt("REDIS_DB", 0),
		},
		Instagram: MetaChannelConfig{
			AppSecret:   GetEnv("INSTAGRAM_APP_SECRET", ""),
			VerifyToken: GetEnv("INSTAGRAM_VERIFY_TOKEN", ""),
		},
		WhatsApp: MetaChannelConfig{
			AppSecret:   GetEnv("WHATSAPP_APP_SECRET", ""),
			VerifyToken: GetEnv("WHATSAPP_VERIFY_TOKEN", ""),
		},
		Meta: MetaAPIConfig{
			GraphBaseURL:          GetEnv("META_GRAPH_BASE_URL", "https://graph.facebook.com"),
			GraphVersion:          GetEnv("META_GRAPH_VERSION", "v21.0"),
			InstagramGraphBaseURL: GetEnv("INSTAGRAM_GRAPH_BASE_URL", "https://graph.instagram.com"),
			Timeout:               GetEnvAsDuration("META_TIMEOUT", 30*time.Second),
		},
		TikTok: TikTokConfig{
			ClientKey:     GetEnv("TIKTOK_CLIENT_KEY", ""),
			ClientSecret:  GetEnv("TIKTOK_CLIENT_SECRET", ""),
			WebhookSecret: GetEnv("TIKTOK_WEBHOOK_SECRET", ""),
			APIBaseURL:    GetEnv("TIKTOK_API_BASE_URL", "https://open.tiktokapis.com"),
			Timeout:       GetEnvAsDuration("TIKTOK_TIMEOUT", 30*time.Second),
		},
		Email: EmailConfig{
			APIKey:      GetEnv("EMAIL_API_KEY", ""),
			BaseURL:     GetEnv("EMAIL_API_BASE_URL", "https://api.resend.com"),
			FromAddress: GetEnv("EMAIL_FROM_ADDRESS", "inbox@example.com"),
			FromName:    GetEnv("EMAIL_FROM_NAME", "Inbox"),
			Timeout:     GetEnvAsDuration("EMAIL_TIMEOUT", 30*time.Second),
		},
		Notes: NotesConfig{
			PublicBaseURL: GetEnv("PUBLIC_BASE_URL", ""),
			Timeout:       GetEnvAsDuration("NOTES_TIMEOUT", 10*time.Second),
		},
		Worker: WorkerConfig{
			Concurrency: GetEnvAsInt("WORKER_CONCURRENCY", 8),
			QueueSize:   GetEnvAsInt("WORKER_QUEUE_SIZE", 256),

			SweepInterval:     GetEnvAsDuration("SENDING_SWEEP_INTERVAL", time.Minute),
			StaleSendingAfter: GetEnvAsDuration("SENDING_STALE_AFTER", 10*time.Minute),
		},
		Auth: AuthConfig{
			MessagesAPIKeys: GetEnvAsList("MESSAGES_API_KEY"),
		},
		Log: LogConfig{
			Level: GetEnv("LOG_LEVEL", "info"),
			File:  GetEnv("LOG_FILE", ""),
		},
	}
}

func GetEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvAsList splits a comma separated value, dropping empty entries.
func GetEnvAsList(key string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return nil
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
