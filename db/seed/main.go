package main

import (
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/onurcolak/inbox-delivery-service/environments"
	"github.com/onurcolak/inbox-delivery-service/pkg/database"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

func main() {
	cfg := environments.Load()
	logger.Init(logger.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	defer logger.Sync()

	root := &cobra.Command{
		Use:          "seed",
		Short:        "Database maintenance for the inbox delivery service",
		SilenceUsage: true,
	}

	root.AddCommand(migrateCmd(cfg))
	root.AddCommand(seedCmd(cfg))
	root.AddCommand(connectCmd(cfg))
	root.AddCommand(disconnectCmd(cfg))

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// openDB connects and brings the schema up to date.
func openDB(cfg *environments.Config) (*sqlx.DB, error) {
	db, err := database.NewMySQLDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func closeDB(db *sqlx.DB) {
	if err := db.Close(); err != nil {
		logger.Warnf("Failed to close database: %v", err)
	}
}

func migrateCmd(cfg *environments.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			logger.Infof("Migrations completed successfully")
			return nil
		},
	}
}

func seedCmd(cfg *environments.Config) *cobra.Command {
	opts := database.DefaultSeedOptions()

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert a demo business with one connection per social channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.BusinessID == "" {
				return fmt.Errorf("--business-id must not be empty")
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			if err := database.SeedTestData(db, opts); err != nil {
				return fmt.Errorf("failed to seed test data: %w", err)
			}

			logger.Infof("Seed completed successfully")
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.BusinessID, "business-id", opts.BusinessID, "business to seed")
	cmd.Flags().StringVar(&opts.InstagramUserID, "instagram-user-id", opts.InstagramUserID, "Instagram business account id")
	cmd.Flags().StringVar(&opts.WhatsAppPhoneID, "whatsapp-phone-id", opts.WhatsAppPhoneID, "WhatsApp phone number id")
	cmd.Flags().StringVar(&opts.TikTokOpenID, "tiktok-open-id", opts.TikTokOpenID, "TikTok business open id")
	cmd.Flags().IntVar(&opts.ConversationLimit, "conversation-limit", opts.ConversationLimit, "new conversations allowed this period")

	return cmd
}
