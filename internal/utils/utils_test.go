package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/config"
	"telehealth-portal-server/internal/logger"
	"telehealth-portal-server/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestGenerateAndValidateTokens(t *testing.T) {
	cfg := &config.Config{
		JWTSecret:                 "access-secret",
		JWTRefreshSecret:          "refresh-secret",
		JWTExpirationMinutes:      15,
		JWTRefreshExpirationHours: 1,
	}
	user := &models.User{BaseModel: models.BaseModel{ID: "user-1"}, Role: models.RoleDoctor}

	access, refresh, err := GenerateTokens(user, cfg)
	require.NoError(t, err)

	claims, err := ValidateToken(access, cfg.JWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, models.RoleDoctor, claims.Role)

	_, err = ValidateToken(access, cfg.JWTRefreshSecret)
	assert.Error(t, err)

	claims, err = ValidateToken(refresh, cfg.JWTRefreshSecret)
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)

	_, second, err := GenerateTokens(user, cfg)
	require.NoError(t, err)
	assert.NotEqual(t, refresh, second)
}

func TestHandleError(t *testing.T) {
	cases := []struct {
		err     error
		status  int
		message string
	}{
		{apperr.Validation("bad date"), http.StatusBadRequest, "bad date"},
		{apperr.NotFound("missing"), http.StatusNotFound, "missing"},
		{apperr.Conflict("slot already booked"), http.StatusConflict, "slot already booked"},
		{apperr.Authorization("nope"), http.StatusForbidden, "nope"},
		{apperr.Unavailable("try later", nil), http.StatusServiceUnavailable, "try later"},
		{apperr.Internal("db", assert.AnError), http.StatusInternalServerError, "internal server error"},
		{assert.AnError, http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

		HandleError(c, logger.Discard(), tc.err)

		assert.Equal(t, tc.status, w.Code)
		var body ResponseData
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, tc.message, body.Error)
	}
}

type bookBody struct {
	Date string `json:"date" binding:"required,date"`
	Time string `json:"time" binding:"required,clock"`
}

func TestBindAndValidate(t *testing.T) {
	RegisterValidators()

	run := func(payload string) (*httptest.ResponseRecorder, bool) {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
		c.Request.Header.Set("Content-Type", "application/json")
		var body bookBody
		return w, BindAndValidate(c, &body)
	}

	_, ok := run(`{"date":"2030-01-07","time":"09:30"}`)
	assert.True(t, ok)

	w, ok := run(`{"date":"2030-13-07","time":"9:30"}`)
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "YYYY-MM-DD")
	assert.Contains(t, w.Body.String(), "HH:MM")

	w, ok = run(`{"date":`)
	assert.False(t, ok)
	assert.Contains(t, w.Body.String(), "Invalid request payload")
}
