package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telehealth-portal-server/internal/config"
	"telehealth-portal-server/internal/logger"
	"telehealth-portal-server/internal/models"
	"telehealth-portal-server/internal/scheduling"
	"telehealth-portal-server/internal/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:                 "access-secret",
		JWTRefreshSecret:          "refresh-secret",
		JWTExpirationMinutes:      15,
		JWTRefreshExpirationHours: 1,
	}
}

func tokenFor(t *testing.T, cfg *config.Config, id string, role models.Role) string {
	access, _, err := utils.GenerateTokens(&models.User{BaseModel: models.BaseModel{ID: id}, Role: role}, cfg)
	require.NoError(t, err)
	return access
}

func newAuthRouter(cfg *config.Config, roles ...models.Role) *gin.Engine {
	r := gin.New()
	handlers := []gin.HandlerFunc{AuthMiddleware(cfg)}
	if len(roles) > 0 {
		handlers = append(handlers, RoleAuthMiddleware(roles...))
	}
	handlers = append(handlers, func(c *gin.Context) {
		actor, ok := ActorFromContext(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, actor)
	})
	r.GET("/me", handlers...)
	return r
}

func doGet(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig()
	r := newAuthRouter(cfg)

	w := doGet(r, "/me", tokenFor(t, cfg, "patient-1", models.RolePatient))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "patient-1")

	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/me", "garbage").Code)

	other := testConfig()
	other.JWTSecret = "different"
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "/me", tokenFor(t, other, "x", models.RoleAdmin)).Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Token abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRoleAuthMiddleware(t *testing.T) {
	cfg := testConfig()
	r := newAuthRouter(cfg, models.RoleDoctor)

	assert.Equal(t, http.StatusOK, doGet(r, "/me", tokenFor(t, cfg, "doc", models.RoleDoctor)).Code)
	assert.Equal(t, http.StatusForbidden, doGet(r, "/me", tokenFor(t, cfg, "pat", models.RolePatient)).Code)
}

func TestActorFromContext(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := ActorFromContext(c)
	assert.False(t, ok)

	c.Set(userIDKey, "doc")
	c.Set(userRoleKey, models.RoleDoctor)
	actor, ok := ActorFromContext(c)
	require.True(t, ok)
	assert.Equal(t, scheduling.Actor{UserID: "doc", Role: models.RoleDoctor}, actor)
}

func newLimitedRouter(limiter gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.POST("/login", limiter, func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func doPost(r http.Handler, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimiter(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	key := rateLimitKey("/login", "10.0.0.1")
	r := newLimitedRouter(RateLimiter(rdb, RateLimitConfig{Limit: 2, Window: time.Minute}, logger.Discard()))

	mock.ExpectIncr(key).SetVal(1)
	mock.ExpectExpireNX(key, time.Minute).SetVal(true)
	assert.Equal(t, http.StatusOK, doPost(r, "/login").Code)

	mock.ExpectIncr(key).SetVal(2)
	mock.ExpectExpireNX(key, time.Minute).SetVal(false)
	assert.Equal(t, http.StatusOK, doPost(r, "/login").Code)

	mock.ExpectIncr(key).SetVal(3)
	mock.ExpectExpireNX(key, time.Minute).SetVal(false)
	assert.Equal(t, http.StatusTooManyRequests, doPost(r, "/login").Code)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	key := rateLimitKey("/login", "10.0.0.1")
	mock.ExpectIncr(key).SetErr(errors.New("connection refused"))

	r := newLimitedRouter(RateLimiter(rdb, RateLimitConfig{Limit: 1, Window: time.Minute}, logger.Discard()))
	assert.Equal(t, http.StatusOK, doPost(r, "/login").Code)

	noRedis := newLimitedRouter(RateLimiter(nil, RateLimitConfig{}, logger.Discard()))
	for i := 0; i < defaultRateLimit+1; i++ {
		assert.Equal(t, http.StatusOK, doPost(noRedis, "/login").Code)
	}
}

func TestRequestLogger(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger(logger.Discard()))
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(utils.RequestIDKey))
	})

	w := doGet(r, "/ping", "")
	id := w.Header().Get(RequestIDHeader)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}
