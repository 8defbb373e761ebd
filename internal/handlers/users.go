package handlers

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/models"
	"telehealth-portal-server/internal/notify"
	"telehealth-portal-server/internal/utils"
)

// UserHandler handles admin user management.
type UserHandler struct {
	DB   *gorm.DB
	Sink *notify.Sink
	Log  *logrus.Logger
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(db *gorm.DB, sink *notify.Sink, log *logrus.Logger) *UserHandler {
	return &UserHandler{DB: db, Sink: sink, Log: log}
}

// GetUsers lists users, filtered by ?role= and ?search= (name or email).
func (h *UserHandler) GetUsers(c *gin.Context) {
	page, size := pageParams(c)
	q := h.DB.Model(&models.User{})
	if role := models.Role(c.Query("role")); role != "" {
		if !role.Valid() {
			utils.BadRequest(c, "Invalid role filter")
			return
		}
		q = q.Where("role = ?", role)
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		q = q.Where("(LOWER(email) LIKE ? OR LOWER(first_name) LIKE ? OR LOWER(last_name) LIKE ?)", like, like, like)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("count users", err))
		return
	}
	var users []models.User
	if err := q.Order("created_at desc").Offset((page - 1) * size).Limit(size).Find(&users).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("list users", err))
		return
	}

	sanitized := make([]models.UserSanitized, 0, len(users))
	for i := range users {
		sanitized = append(sanitized, users[i].Sanitize())
	}
	utils.Success(c, "Users fetched successfully", Page[models.UserSanitized]{
		Items: sanitized, Total: total, Page: page, PageSize: size,
	})
}

// GetPendingDoctors lists doctor profiles awaiting approval.
func (h *UserHandler) GetPendingDoctors(c *gin.Context) {
	var profiles []models.DoctorProfile
	err := h.DB.Preload("User").
		Where("is_approved = ?", false).
		Order("created_at asc").
		Find(&profiles).Error
	if err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("list pending doctors", err))
		return
	}
	utils.Success(c, "Pending doctors fetched successfully", profiles)
}

// ApproveDoctor makes a doctor bookable and notifies them.
func (h *UserHandler) ApproveDoctor(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var profile models.DoctorProfile
	err := h.DB.Preload("User").Where("user_id = ?", id).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.NotFound(c, "Doctor not found")
		return
	}
	if err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("load doctor profile", err))
		return
	}
	if profile.IsApproved {
		utils.Conflict(c, "Doctor is already approved")
		return
	}

	notification := notify.For(profile.UserID, models.RoleDoctor, models.NotificationDoctorApproved,
		"Profile approved", "Your doctor profile has been approved. Patients can now book appointments with you.", "")
	err = h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.DoctorProfile{}).
			Where("user_id = ? AND is_approved = ?", id, false).
			Updates(map[string]any{"is_approved": true, "availability_status": models.AvailabilityAvailable})
		if res.Error != nil {
			return apperr.Internal("approve doctor", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Conflict("Doctor is already approved")
		}
		if err := h.Sink.Create(tx, notification); err != nil {
			return apperr.Internal("notify doctor", err)
		}
		return nil
	})
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	h.Sink.Dispatch(c.Request.Context(), notification)

	h.Log.WithFields(logrus.Fields{"doctor_id": id}).Info("doctor approved")
	utils.Success(c, "Doctor approved successfully", gin.H{"doctorId": id, "isApproved": true})
}

// SetActiveRequest toggles an account.
type SetActiveRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

// SetUserActive activates or deactivates an account. A deactivated doctor is
// no longer bookable; existing appointments are kept.
func (h *UserHandler) SetUserActive(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req SetActiveRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	if id == actor.UserID && !*req.IsActive {
		utils.BadRequest(c, "You cannot deactivate your own account")
		return
	}

	err := h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("User not found")
			}
			return apperr.Internal("load user", err)
		}
		if err := tx.Model(&user).Update("is_active", *req.IsActive).Error; err != nil {
			return apperr.Internal("update user", err)
		}
		if user.Role == models.RoleDoctor {
			err := tx.Model(&models.DoctorProfile{}).Where("user_id = ?", id).Update("is_active", *req.IsActive).Error
			if err != nil {
				return apperr.Internal("update doctor profile", err)
			}
		}
		if !*req.IsActive {
			err := tx.Model(&models.RefreshToken{}).Where("user_id = ? AND is_revoked = ?", id, false).
				Update("is_revoked", true).Error
			if err != nil {
				return apperr.Internal("revoke refresh tokens", err)
			}
		}
		return nil
	})
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "User updated successfully", gin.H{"userId": id, "isActive": *req.IsActive})
}

// Stats are the admin dashboard counters.
type Stats struct {
	UsersByRole          map[models.Role]int64              `json:"usersByRole"`
	AppointmentsByStatus map[models.AppointmentStatus]int64 `json:"appointmentsByStatus"`
	PendingDoctors       int64                              `json:"pendingDoctors"`
	Documents            int64                              `json:"documents"`
}

// GetStats returns counts of users by role and appointments by status.
func (h *UserHandler) GetStats(c *gin.Context) {
	stats := Stats{
		UsersByRole:          map[models.Role]int64{},
		AppointmentsByStatus: map[models.AppointmentStatus]int64{},
	}

	var byRole []struct {
		Role  models.Role
		Count int64
	}
	if err := h.DB.Model(&models.User{}).Select("role, COUNT(*) AS count").Group("role").Scan(&byRole).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("count users", err))
		return
	}
	for _, r := range byRole {
		stats.UsersByRole[r.Role] = r.Count
	}

	var byStatus []struct {
		Status models.AppointmentStatus
		Count  int64
	}
	if err := h.DB.Model(&models.Appointment{}).Select("status, COUNT(*) AS count").Group("status").Scan(&byStatus).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("count appointments", err))
		return
	}
	for _, s := range byStatus {
		stats.AppointmentsByStatus[s.Status] = s.Count
	}

	if err := h.DB.Model(&models.DoctorProfile{}).Where("is_approved = ?", false).Count(&stats.PendingDoctors).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("count pending doctors", err))
		return
	}
	if err := h.DB.Model(&models.Document{}).Count(&stats.Documents).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("count documents", err))
		return
	}
	utils.Success(c, "Stats fetched successfully", stats)
}
