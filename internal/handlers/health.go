package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// HealthHandler answers liveness and readiness probes.
type HealthHandler struct {
	DB      *gorm.DB
	Redis   redis.Cmdable
	Env     string
	Version string
}

// NewHealthHandler creates a new HealthHandler. rdb may be nil when Redis is
// not configured.
func NewHealthHandler(db *gorm.DB, rdb redis.Cmdable, env, version string) *HealthHandler {
	return &HealthHandler{DB: db, Redis: rdb, Env: env, Version: version}
}

type LivenessResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Env     string `json:"env,omitempty"`
}

type ReadinessResponse struct {
	Status       string            `json:"status"`
	Version      string            `json:"version,omitempty"`
	Env          string            `json:"env,omitempty"`
	Dependencies map[string]string `json:"dependencies"`
}

func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, LivenessResponse{Status: "ok", Version: h.Version, Env: h.Env})
}

// Readiness pings the database and Redis. A Redis outage degrades the
// service; a database outage makes it unready.
func (h *HealthHandler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string)
	status := "ok"

	if err := h.pingDB(ctx); err != nil {
		deps["database"] = "down"
		status = "error"
	} else {
		deps["database"] = "ok"
	}

	switch {
	case h.Redis == nil:
		deps["redis"] = "disabled"
	default:
		redisCtx, redisCancel := context.WithTimeout(ctx, time.Second)
		err := h.Redis.Ping(redisCtx).Err()
		redisCancel()
		if err != nil {
			deps["redis"] = "down"
			if status == "ok" {
				status = "degraded"
			}
		} else {
			deps["redis"] = "ok"
		}
	}

	httpStatus := http.StatusOK
	if status == "error" {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, ReadinessResponse{
		Status:       status,
		Version:      h.Version,
		Env:          h.Env,
		Dependencies: deps,
	})
}

func (h *HealthHandler) pingDB(ctx context.Context) error {
	sqlDB, err := h.DB.DB()
	if err != nil {
		return err
	}
	pingCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return sqlDB.PingContext(pingCtx)
}
