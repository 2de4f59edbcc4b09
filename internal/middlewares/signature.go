package middlewares

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/onurcolak/inbox-delivery-service/internal/domain"
	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
	"github.com/onurcolak/inbox-delivery-service/pkg/response"
)

const (
	MetaSignatureHeader   = "X-Hub-Signature-256"
	TikTokSignatureHeader = "X-TikTok-Signature"

	maxWebhookBody = 1 << 20

	rawBodyKey = "webhook_raw_body"
)

type SignatureConfig struct {
	Channel domain.Channel
	Secret  string
	Header  string
	// AllowBareHex accepts a signature without the "sha256=" prefix.
	AllowBareHex bool
}

// WebhookSignature checks the HMAC-SHA256 of the raw request body against
// the provider's signature header. Handlers read the verified bytes with
// RawBody.
func WebhookSignature(cfg SignatureConfig) echo.MiddlewareFunc {
	if cfg.Secret == "" {
		logger.Warn("webhook secret not configured, signatures are not verified",
			zap.String("channel", string(cfg.Channel)),
		)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody+1))
			if err != nil || len(body) > maxWebhookBody {
				logger.Warn("webhook body rejected before verification",
					zap.String("channel", string(cfg.Channel)),
					zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
					zap.Int("bytes_read", len(body)),
					zap.Error(err),
				)
				return response.Forbidden(c, "Invalid signature")
			}

			if cfg.Secret != "" && !validSignature(cfg, body, req.Header.Get(cfg.Header)) {
				logger.Warn("webhook signature mismatch",
					zap.String("channel", string(cfg.Channel)),
					zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
				)
				return response.Forbidden(c, "Invalid signature")
			}

			c.Set(rawBodyKey, body)
			req.Body = io.NopCloser(bytes.NewReader(body))

			return next(c)
		}
	}
}

// RawBody returns the bytes the signature was computed over.
func RawBody(c echo.Context) []byte {
	if body, ok := c.Get(rawBodyKey).([]byte); ok {
		return body
	}
	return nil
}

func validSignature(cfg SignatureConfig, body []byte, header string) bool {
	header = strings.TrimSpace(header)

	got, found := strings.CutPrefix(header, "sha256=")
	if !found && !cfg.AllowBareHex {
		return false
	}

	sig, err := hex.DecodeString(got)
	if err != nil || len(sig) == 0 {
		return false
	}

	return hmac.Equal(sig, bodyMAC(cfg.Secret, body))
}

func bodyMAC(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// Sign computes the header value a provider would send for body.
func Sign(secret string, body []byte) string {
	return "sha256=" + hex.EncodeToString(bodyMAC(secret, body))
}
