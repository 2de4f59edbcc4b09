package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/onurcolak/inbox-delivery-service/environments"
	"github.com/onurcolak/inbox-delivery-service/handlers"
	"github.com/onurcolak/inbox-delivery-service/internal/credentials"
	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/internal/identity"
	"github.com/onurcolak/inbox-delivery-service/internal/middlewares"
	"github.com/onurcolak/inbox-delivery-service/internal/repository"
	"github.com/onurcolak/inbox-delivery-service/internal/scheduler"
	"github.com/onurcolak/inbox-delivery-service/internal/service"
	"github.com/onurcolak/inbox-delivery-service/internal/worker"
	"github.com/onurcolak/inbox-delivery-service/pkg/database"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
	"github.com/onurcolak/inbox-delivery-service/pkg/mailer"
	"github.com/onurcolak/inbox-delivery-service/pkg/meta"
	"github.com/onurcolak/inbox-delivery-service/pkg/redis"
	"github.com/onurcolak/inbox-delivery-service/pkg/tiktok"
	"github.com/onurcolak/inbox-delivery-service/pkg/validator"
	"github.com/onurcolak/inbox-delivery-service/pkg/webhook"
	"github.com/onurcolak/inbox-delivery-service/routes"

	_ "github.com/onurcolak/inbox-delivery-service/docs" // swagger docs
)

// @title Inbox Delivery Service API
// @version 1.0
// @description Multi-channel inbox: webhook ingestion for email, Instagram, WhatsApp and TikTok plus outbound delivery
// @termsOfService http://swagger.io/terms/

// @contact.name API Support

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name x-api-key

// @schemes http https
func main() {
	// Load config
	cfg := environments.Load()

	logger.Init(logger.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	defer logger.Sync()

	// Hard-fail if required secrets are missing
	if len(cfg.Auth.MessagesAPIKeys) == 0 {
		logger.Fatalf("MESSAGES_API_KEY is required but not set")
	}

	logger.Infof("Starting Inbox Delivery Service...")

	// Init DB
	db, err := database.NewMySQLDB(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed data
	if cfg.Database.SeedData {
		if err := database.SeedTestData(db, database.DefaultSeedOptions()); err != nil {
			logger.Warnf("Failed to seed test data: %v", err)
		}
	}

	// Init redis; a nil client means every cache lookup misses
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Warnf("Redis not available, caching disabled: %v", err)
			redisClient = nil
		}
	}

	// Provider clients
	metaClient := meta.NewClient(cfg.Meta)
	tiktokClient := tiktok.NewClient(cfg.TikTok)
	mailClient := mailer.NewClient(cfg.Email)
	if !mailClient.Configured() {
		logger.Warnf("Email provider not configured, email replies will fail")
	}

	var notes service.NoteTrigger
	noteClient := webhook.NewNoteClient(cfg.Notes)
	if noteClient.GetURL() != "" {
		notes = noteClient
		logger.Infof("Auto-notes configured: %s", noteClient.GetURL())
	} else {
		logger.Warnf("PUBLIC_BASE_URL not set, auto-notes disabled")
	}

	// Initialize repositories
	connectionRepo := repository.NewConnectionRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	usageRepo := repository.NewUsageRepository(db)

	tokens := credentials.NewTokenService(connectionRepo, map[domain.Channel]credentials.Refresher{
		domain.ChannelInstagram: credentials.RefresherFunc(metaClient.RefreshInstagramToken),
		domain.ChannelTikTok:    credentials.RefresherFunc(tiktokClient.RefreshToken),
	})

	resolver := identity.NewResolver(
		connectionRepo,
		tokens,
		map[domain.Channel]identity.ProfileFetcher{
			domain.ChannelInstagram: identity.NewInstagramProfiles(metaClient),
		},
		redisClient,
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Background dispatch and post-processing
	pool := worker.NewPool(cfg.Worker)
	if err := pool.Start(ctx); err != nil {
		logger.Fatalf("Failed to start worker pool: %v", err)
	}

	// Fails messages whose dispatch task was lost, e.g. across a restart
	sweeper := scheduler.NewSweeper(messageRepo, cfg.Worker)
	if err := sweeper.Start(ctx); err != nil {
		logger.Warnf("Failed to start sweeper: %v", err)
	}

	// Initialize services
	inboundService := service.NewInboundService(
		resolver,
		service.NewConversationMatcher(conversationRepo, usageRepo),
		service.NewDeduplicator(redisClient, messageRepo),
		messageRepo,
		pool,
		notes,
	)

	senders := service.NewSenderRegistry(
		service.NewEmailSender(mailClient),
		service.NewInstagramSender(tokens, metaClient),
		service.NewWhatsAppSender(tokens, metaClient),
		service.NewTikTokSender(tokens, tiktokClient),
	)
	outboundService := service.NewOutboundService(messageRepo, conversationRepo, senders, pool)
	conversationService := service.NewConversationService(conversationRepo, messageRepo)

	// Initialize handlers
	h := routes.Handlers{
		Health:        handlers.NewHealthHandler(db, redisClient, pool),
		Messages:      handlers.NewMessageHandler(outboundService),
		Conversations: handlers.NewConversationHandler(conversationService),
		Instagram:     handlers.NewInstagramWebhookHandler(inboundService, cfg.Instagram.VerifyToken),
		WhatsApp:      handlers.NewWhatsAppWebhookHandler(inboundService, outboundService, cfg.WhatsApp.VerifyToken),
		TikTok:        handlers.NewTikTokWebhookHandler(inboundService),
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			middlewares.APIKeyHeader,
			middlewares.MetaSignatureHeader,
			middlewares.TikTokSignatureHeader,
		},
	}))

	// Setup routes
	routes.RegisterRoutes(e, h, cfg)

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		logger.Infof("Swagger docs available at http://localhost%s/swagger/index.html", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down gracefully...")

	// Shutdown HTTP server first so no new work reaches the pool
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	if err := sweeper.Stop(); err != nil {
		logger.Errorf("Error stopping sweeper: %v", err)
	}

	// Drain the worker pool (with timeout)
	if pool.IsRunning() {
		logger.Infof("Stopping worker pool...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		done := make(chan error, 1)
		go func() {
			done <- pool.Stop()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Error stopping worker pool: %v", err)
			} else {
				logger.Infof("Worker pool stopped successfully")
			}
		case <-stopCtx.Done():
			logger.Warnf("Worker pool stop timeout, forcing shutdown")
		}
	}

	// Release the root context; pool tasks already run detached from it
	cancel()

	// Close database connection
	logger.Infof("Closing database connection...")
	if err := db.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	}

	// Close Redis connection
	if redisClient != nil {
		logger.Infof("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			logger.Errorf("Error closing Redis: %v", err)
		}
	}

	logger.Infof("Graceful shutdown completed")
}
