package utils

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"telehealth-portal-server/internal/apperr"
)

// StatusFor maps an error kind onto an HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindAuthorization:
		return http.StatusForbidden
	case apperr.KindUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// HandleError writes the response for a service error. Internal and upstream
// failures are logged with their cause; clients only see the public message.
func HandleError(c *gin.Context, log *logrus.Logger, err error) {
	kind := apperr.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError && log != nil {
		log.WithFields(logrus.Fields{
			"method":     c.Request.Method,
			"path":       c.FullPath(),
			"request_id": c.GetString(RequestIDKey),
			"error":      err,
		}).Error("request failed")
	}
	Error(c, status, apperr.PublicMessage(err))
}

// RequestIDKey is the gin context key holding the request ID.
const RequestIDKey = "requestID"
