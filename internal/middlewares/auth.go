package middlewares

import (
	"crypto/subtle"
	"errors"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/onurcolak/inbox-delivery-service/pkg/logger"
	"github.com/onurcolak/inbox-delivery-service/pkg/response"
)

const (
	APIKeyHeader = "x-api-key"
)

var errAPIKeyNotConfigured = errors.New("API key is not configured for this endpoint group")

// matchesAny compares token against every key in constant time, without
// stopping at the first match.
func matchesAny(token string, keys [][]byte) bool {
	matched := 0
	for _, key := range keys {
		matched |= subtle.ConstantTimeCompare([]byte(token), key)
	}
	return matched == 1
}

// APIKeyAuth accepts requests carrying any of keys in the x-api-key header.
// With no keys configured every request is refused as a server fault.
func APIKeyAuth(keys ...string) echo.MiddlewareFunc {
	accepted := make([][]byte, 0, len(keys))
	for _, key := range keys {
		if key != "" {
			accepted = append(accepted, []byte(key))
		}
	}

	if len(accepted) == 0 {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				return response.InternalServerError(c, errAPIKeyNotConfigured)
			}
		}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := c.Request().Header.Get(APIKeyHeader)
			if token == "" || !matchesAny(token, accepted) {
				logger.Warn("rejected API request",
					zap.String("path", c.Path()),
					zap.String("remote_ip", c.RealIP()),
					zap.Bool("key_present", token != ""),
				)
				return response.Unauthorized(c)
			}

			return next(c)
		}
	}
}
