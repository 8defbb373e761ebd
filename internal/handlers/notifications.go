package handlers

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/models"
	"telehealth-portal-server/internal/scheduling"
	"telehealth-portal-server/internal/utils"
)

// NotificationHandler serves the caller's in-app notifications.
type NotificationHandler struct {
	DB  *gorm.DB
	Log *logrus.Logger
}

// NewNotificationHandler creates a new NotificationHandler.
func NewNotificationHandler(db *gorm.DB, log *logrus.Logger) *NotificationHandler {
	return &NotificationHandler{DB: db, Log: log}
}

// inbox scopes a query to the caller's notifications.
func (h *NotificationHandler) inbox(actor scheduling.Actor) *gorm.DB {
	return h.DB.Model(&models.Notification{}).
		Where("recipient_id = ? AND recipient_role = ?", actor.UserID, actor.Role)
}

// GetNotifications lists the caller's notifications, newest first.
// ?unread=true restricts the list to unread ones.
func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	page, size := pageParams(c)
	q := h.inbox(actor)
	if c.Query("unread") == "true" {
		q = q.Where("is_read = ?", false)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("count notifications", err))
		return
	}
	var notifications []models.Notification
	if err := q.Order("created_at desc").Offset((page - 1) * size).Limit(size).Find(&notifications).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("list notifications", err))
		return
	}
	utils.Success(c, "Notifications fetched successfully", Page[models.Notification]{
		Items: notifications, Total: total, Page: page, PageSize: size,
	})
}

// GetUnreadCount returns the number of unread notifications.
func (h *NotificationHandler) GetUnreadCount(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var count int64
	if err := h.inbox(actor).Where("is_read = ?", false).Count(&count).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("count unread notifications", err))
		return
	}
	utils.Success(c, "Unread count fetched successfully", gin.H{"count": count})
}

// MarkAsRead marks one of the caller's notifications read.
func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var n models.Notification
	if err := h.inbox(actor).Where("id = ?", id).First(&n).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "Notification not found")
			return
		}
		utils.HandleError(c, h.Log, apperr.Internal("load notification", err))
		return
	}
	if !n.IsRead {
		now := time.Now()
		if err := h.DB.Model(&n).Updates(map[string]any{"is_read": true, "read_at": now}).Error; err != nil {
			utils.HandleError(c, h.Log, apperr.Internal("mark notification read", err))
			return
		}
		n.IsRead = true
		n.ReadAt = &now
	}
	utils.Success(c, "Notification marked as read", n)
}

// MarkAllAsRead marks every unread notification of the caller read.
func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	res := h.inbox(actor).Where("is_read = ?", false).
		Updates(map[string]any{"is_read": true, "read_at": time.Now()})
	if res.Error != nil {
		utils.HandleError(c, h.Log, apperr.Internal("mark notifications read", res.Error))
		return
	}
	utils.Success(c, "Notifications marked as read", gin.H{"updated": res.RowsAffected})
}
