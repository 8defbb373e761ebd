package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"telehealth-portal-server/internal/utils"
)

const (
	defaultRateLimit  = 10
	defaultRateWindow = 15 * time.Minute
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	Limit  int
	Window time.Duration
}

// RateLimiter counts requests per client IP and path in Redis. When Redis is
// not configured or fails, requests are allowed.
func RateLimiter(rdb redis.Cmdable, cfg RateLimitConfig, log *logrus.Logger) gin.HandlerFunc {
	if cfg.Limit <= 0 {
		cfg.Limit = defaultRateLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultRateWindow
	}

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = c.Request.URL.Path
		}
		key := rateLimitKey(endpoint, clientIP)

		allowed, err := checkRateLimit(c.Request.Context(), rdb, key, cfg.Limit, cfg.Window)
		if err != nil {
			log.WithFields(logrus.Fields{
				"ip":       clientIP,
				"endpoint": endpoint,
				"error":    err,
			}).Warn("rate limit check failed")
			c.Next()
			return
		}
		if !allowed {
			log.WithFields(logrus.Fields{
				"ip":       clientIP,
				"endpoint": endpoint,
			}).Warn("rate limit exceeded")
			utils.TooManyRequests(c, "Too many requests. Please try again later.")
			c.Abort()
			return
		}
		c.Next()
	}
}

func rateLimitKey(endpoint, clientIP string) string {
	return fmt.Sprintf("ratelimit:%s:%s", endpoint, clientIP)
}

// checkRateLimit reports whether the request is within the limit.
func checkRateLimit(ctx context.Context, rdb redis.Cmdable, key string, limit int, window time.Duration) (bool, error) {
	if rdb == nil {
		return true, nil
	}

	pipe := rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	// NX keeps the window anchored on the first request.
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return false, fmt.Errorf("check rate limit: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}
