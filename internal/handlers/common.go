package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"telehealth-portal-server/internal/middleware"
	"telehealth-portal-server/internal/scheduling"
	"telehealth-portal-server/internal/utils"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Page is a paginated list response.
type Page[T any] struct {
	Items    []T   `json:"items"`
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
}

// requireActor reads the authenticated caller, answering 401 when missing.
func requireActor(c *gin.Context) (scheduling.Actor, bool) {
	actor, ok := middleware.ActorFromContext(c)
	if !ok {
		utils.Unauthorized(c, "User not authenticated")
	}
	return actor, ok
}

// idParam reads a UUID path parameter, answering 400 when malformed.
func idParam(c *gin.Context, name string) (string, bool) {
	raw := c.Param(name)
	if _, err := uuid.Parse(raw); err != nil {
		utils.BadRequest(c, "Invalid "+name+" format")
		return "", false
	}
	return raw, true
}

// bindOptional binds a JSON body that may be absent entirely.
func bindOptional(c *gin.Context, obj any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return utils.BindAndValidate(c, obj)
}

// pageParams reads ?page= and ?pageSize= with defaults and bounds.
func pageParams(c *gin.Context) (page, size int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	size, _ = strconv.Atoi(c.DefaultQuery("pageSize", strconv.Itoa(defaultPageSize)))
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return page, size
}
