package handlers

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/internal/middlewares"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
	"github.com/onurcolak/inbox-delivery-service/pkg/response"
)

type inboundProcessor interface {
	ProcessInbound(ctx context.Context, ev domain.InboundEvent) (domain.InboundOutcome, error)
}

type statusApplier interface {
	ApplyStatusUpdate(ctx context.Context, up domain.StatusUpdate) error
}

// webhookBody returns the verified body, falling back to reading the request
// when no signature middleware ran.
func webhookBody(c echo.Context) []byte {
	if body := middlewares.RawBody(c); body != nil {
		return body
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil
	}
	return body
}

// ack is the only answer a provider gets once the signature checked out.
// Anything else makes it redeliver the whole batch.
func ack(c echo.Context) error {
	return response.Ok(c, nil)
}

// detach keeps processing alive if the provider hangs up mid-request.
func detach(c echo.Context) context.Context {
	return context.WithoutCancel(c.Request().Context())
}

func processEvents(ctx context.Context, processor inboundProcessor, events []domain.InboundEvent) {
	for _, ev := range events {
		outcome, err := processor.ProcessInbound(ctx, ev)
		if err != nil {
			logger.Error("failed to process inbound event",
				zap.String("channel", string(ev.Channel)),
				zap.String("provider_message_id", ev.ProviderMessageID),
				zap.String("sender_id", ev.SenderID),
				zap.String("recipient_id", ev.RecipientID),
				zap.Error(err),
			)
			continue
		}

		logger.Debug("inbound event processed",
			zap.String("channel", string(ev.Channel)),
			zap.String("provider_message_id", ev.ProviderMessageID),
			zap.String("outcome", string(outcome)),
		)
	}
}

func applyStatuses(ctx context.Context, applier statusApplier, updates []domain.StatusUpdate) {
	for _, up := range updates {
		if err := applier.ApplyStatusUpdate(ctx, up); err != nil {
			logger.Error("failed to apply status update",
				zap.String("channel", string(up.Channel)),
				zap.String("provider_message_id", up.ProviderMessageID),
				zap.String("status", string(up.Status)),
				zap.Error(err),
			)
		}
	}
}

// verifyMetaHandshake answers the GET subscription check Meta sends when a
// webhook URL is registered.
func verifyMetaHandshake(c echo.Context, channel domain.Channel, verifyToken string) error {
	mode := c.QueryParam("hub.mode")
	token := c.QueryParam("hub.verify_token")
	challenge := c.QueryParam("hub.challenge")

	if mode == "subscribe" && verifyToken != "" &&
		subtle.ConstantTimeCompare([]byte(token), []byte(verifyToken)) == 1 {
		logger.Info("webhook subscription verified", zap.String("channel", string(channel)))
		return c.String(http.StatusOK, challenge)
	}

	logger.Warn("webhook verification failed",
		zap.String("channel", string(channel)),
		zap.String("mode", mode),
	)
	return response.Forbidden(c, "Verification failed")
}

func unixSeconds(s string) time.Time {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return unixTime(sec)
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func unixMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
