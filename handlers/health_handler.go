package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"

	"github.com/onurcolak/inbox-delivery-service/internal/worker"
	"github.com/onurcolak/inbox-delivery-service/pkg/redis"
)

type poolStatus interface {
	GetStatus() worker.PoolStatus
}

// HealthHandler handles health checks.
type HealthHandler struct {
	db           *sqlx.DB
	redis        *redis.Client
	pool         poolStatus
	checkTimeout time.Duration
}

func NewHealthHandler(db *sqlx.DB, redisClient *redis.Client, pool poolStatus) *HealthHandler {
	return &HealthHandler{
		db:           db,
		redis:        redisClient,
		pool:         pool,
		checkTimeout: 2 * time.Second,
	}
}

// Health returns overall status and component statuses (DB, Redis, worker pool).
// @Summary Health check
// @Description Returns overall status with DB and Redis connectivity and the dispatch worker pool counters
// @Tags health
// @Accept json
// @Produce json
// @Success 200 {object} map[string]any
// @Router /health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.checkTimeout)
	defer cancel()

	overallStatus := "ok"

	dbStatus := "up"
	if h.db == nil {
		dbStatus = "down"
		overallStatus = "down"
	} else if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "down"
		overallStatus = "down"
	}

	redisStatus := "disabled"
	if h.redis != nil {
		if err := h.redis.Ping(ctx); err != nil {
			redisStatus = "down"
			if overallStatus == "ok" {
				overallStatus = "degraded"
			}
		} else {
			redisStatus = "up"
		}
	}

	components := map[string]any{
		"database": map[string]any{
			"status": dbStatus,
		},
		"redis": map[string]any{
			"status": redisStatus,
		},
	}

	if h.pool != nil {
		status := h.pool.GetStatus()
		workerStatus := "up"
		if !status.Running {
			workerStatus = "down"
			if overallStatus == "ok" {
				overallStatus = "degraded"
			}
		}
		components["workers"] = map[string]any{
			"status": workerStatus,
			"pool":   status,
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":     overallStatus,
		"timestamp":  time.Now().Format(time.RFC3339),
		"components": components,
	})
}
