package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/onurcolak/inbox-delivery-service/environments"
	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/internal/repository"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
)

type connectFlags struct {
	businessID     string
	platform       string
	platformUserID string
	accessToken    string
	refreshToken   string
	expiresIn      time.Duration
	phoneNumberID  string
}

// toConnection validates the flags and builds the row to upsert.
func (f connectFlags) toConnection(now time.Time) (*domain.Connection, error) {
	platform := domain.Channel(f.platform)
	if !platform.Valid() || platform == domain.ChannelEmail {
		return nil, fmt.Errorf("unsupported platform %q", f.platform)
	}
	if f.businessID == "" || f.platformUserID == "" || f.accessToken == "" {
		return nil, fmt.Errorf("--business-id, --platform-user-id and --access-token are required")
	}
	if platform == domain.ChannelWhatsApp && f.phoneNumberID == "" {
		return nil, fmt.Errorf("--phone-number-id is required for whatsapp")
	}

	conn := &domain.Connection{
		BusinessID:     f.businessID,
		Platform:       platform,
		PlatformUserID: f.platformUserID,
		AccessToken:    f.accessToken,
		Metadata:       domain.JSONMap{},
	}
	if f.refreshToken != "" {
		conn.RefreshToken = &f.refreshToken
	}
	if f.expiresIn > 0 {
		expiresAt := now.Add(f.expiresIn)
		conn.TokenExpiresAt = &expiresAt
	}
	if f.phoneNumberID != "" {
		conn.Metadata[domain.MetadataPhoneNumberID] = f.phoneNumberID
	}

	return conn, nil
}

func connectCmd(cfg *environments.Config) *cobra.Command {
	var flags connectFlags

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Link a business account on instagram, whatsapp or tiktok",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := flags.toConnection(time.Now())
			if err != nil {
				return err
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if err := repository.NewConnectionRepository(db).Upsert(ctx, conn); err != nil {
				return err
			}

			logger.Infof("Connected %s account %s for business %s", conn.Platform, conn.PlatformUserID, conn.BusinessID)
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.businessID, "business-id", "", "business that owns the account")
	cmd.Flags().StringVar(&flags.platform, "platform", "", "instagram, whatsapp or tiktok")
	cmd.Flags().StringVar(&flags.platformUserID, "platform-user-id", "", "business account id on the platform")
	cmd.Flags().StringVar(&flags.accessToken, "access-token", "", "provider access token")
	cmd.Flags().StringVar(&flags.refreshToken, "refresh-token", "", "provider refresh token (tiktok)")
	cmd.Flags().DurationVar(&flags.expiresIn, "expires-in", 0, "access token lifetime, 0 for no expiry")
	cmd.Flags().StringVar(&flags.phoneNumberID, "phone-number-id", "", "WhatsApp phone number id")

	return cmd
}

func disconnectCmd(cfg *environments.Config) *cobra.Command {
	var id int64

	cmd := &cobra.Command{
		Use:   "disconnect",
		Short: "Deactivate a connection so it no longer sends or receives",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id <= 0 {
				return fmt.Errorf("--id must be a positive connection id")
			}

			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer closeDB(db)

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if err := repository.NewConnectionRepository(db).Deactivate(ctx, id); err != nil {
				return err
			}

			logger.Infof("Deactivated connection %d", id)
			return nil
		},
	}

	cmd.Flags().Int64Var(&id, "id", 0, "connection id")

	return cmd
}
