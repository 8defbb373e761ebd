package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/models"
	"telehealth-portal-server/internal/scheduling"
	"telehealth-portal-server/internal/utils"
)

// DoctorHandler serves the doctor directory and doctor self-service.
type DoctorHandler struct {
	DB         *gorm.DB
	Scheduling *scheduling.Service
	Log        *logrus.Logger
}

// NewDoctorHandler creates a new DoctorHandler.
func NewDoctorHandler(db *gorm.DB, svc *scheduling.Service, log *logrus.Logger) *DoctorHandler {
	return &DoctorHandler{DB: db, Scheduling: svc, Log: log}
}

// DoctorSummary is a directory entry.
type DoctorSummary struct {
	ID                 string                    `json:"id"`
	FirstName          string                    `json:"firstName"`
	LastName           string                    `json:"lastName"`
	Specialization     string                    `json:"specialization"`
	Qualification      string                    `json:"qualification"`
	ExperienceYears    int                       `json:"experienceYears"`
	Bio                string                    `json:"bio"`
	ConsultationFee    decimal.Decimal           `json:"consultationFee"`
	AvailabilityStatus models.AvailabilityStatus `json:"availabilityStatus"`
	Schedule           []models.AvailabilityRule `json:"schedule,omitempty"`
}

func summarize(p *models.DoctorProfile) DoctorSummary {
	s := DoctorSummary{
		ID:                 p.UserID,
		Specialization:     p.Specialization,
		Qualification:      p.Qualification,
		ExperienceYears:    p.ExperienceYears,
		Bio:                p.Bio,
		ConsultationFee:    p.ConsultationFee,
		AvailabilityStatus: p.AvailabilityStatus,
		Schedule:           p.AvailabilityRules,
	}
	if p.User != nil {
		s.FirstName = p.User.FirstName
		s.LastName = p.User.LastName
	}
	return s
}

// bookableProfiles selects approved, active profiles of active doctor users.
func (h *DoctorHandler) bookableProfiles() *gorm.DB {
	return h.DB.Model(&models.DoctorProfile{}).
		Joins("JOIN users ON users.id = doctor_profiles.user_id").
		Where("doctor_profiles.is_approved = ? AND doctor_profiles.is_active = ? AND users.is_active = ?", true, true, true)
}

// ListDoctors returns bookable doctors, optionally filtered by
// ?specialization= and ?search= (name).
func (h *DoctorHandler) ListDoctors(c *gin.Context) {
	page, size := pageParams(c)
	q := h.bookableProfiles()
	if spec := strings.TrimSpace(c.Query("specialization")); spec != "" {
		q = q.Where("LOWER(doctor_profiles.specialization) = ?", strings.ToLower(spec))
	}
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		like := "%" + strings.ToLower(search) + "%"
		q = q.Where("(LOWER(users.first_name) LIKE ? OR LOWER(users.last_name) LIKE ?)", like, like)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("count doctors", err))
		return
	}
	var profiles []models.DoctorProfile
	err := q.Preload("User").Order("users.last_name asc, users.first_name asc").
		Offset((page - 1) * size).Limit(size).
		Find(&profiles).Error
	if err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("list doctors", err))
		return
	}

	items := make([]DoctorSummary, 0, len(profiles))
	for i := range profiles {
		items = append(items, summarize(&profiles[i]))
	}
	utils.Success(c, "Doctors fetched successfully", Page[DoctorSummary]{Items: items, Total: total, Page: page, PageSize: size})
}

// GetDoctor returns a bookable doctor with the weekly schedule.
func (h *DoctorHandler) GetDoctor(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var profile models.DoctorProfile
	err := h.bookableProfiles().
		Preload("User").
		Preload("AvailabilityRules", "is_active = ?", true).
		Where("doctor_profiles.user_id = ?", id).
		First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.NotFound(c, "Doctor not found")
		return
	}
	if err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("load doctor", err))
		return
	}
	utils.Success(c, "Doctor fetched successfully", summarize(&profile))
}

// SlotsResponse is the availability of a doctor on one date.
type SlotsResponse struct {
	DoctorID    string            `json:"doctorId"`
	Date        string            `json:"date"`
	SlotMinutes int               `json:"slotMinutes"`
	Slots       []scheduling.Slot `json:"slots"`
}

// GetAvailability lists the slots of a doctor on ?date=YYYY-MM-DD.
func (h *DoctorHandler) GetAvailability(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	date := c.Query("date")
	if date == "" {
		utils.BadRequest(c, "date query parameter is required")
		return
	}
	slots, err := h.Scheduling.AvailableSlots(c.Request.Context(), id, date)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Availability fetched successfully", SlotsResponse{
		DoctorID:    id,
		Date:        date,
		SlotMinutes: h.Scheduling.SlotMinutes(),
		Slots:       slots,
	})
}

// GetOwnProfile returns the calling doctor's profile, approved or not.
func (h *DoctorHandler) GetOwnProfile(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	profile, err := h.ownProfile(actor.UserID)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Profile fetched successfully", profile)
}

// UpdateDoctorProfileRequest holds the editable professional fields.
type UpdateDoctorProfileRequest struct {
	Specialization  *string `json:"specialization" binding:"omitempty,min=1,max=100"`
	Qualification   *string `json:"qualification" binding:"omitempty,max=255"`
	ExperienceYears *int    `json:"experienceYears" binding:"omitempty,min=0,max=80"`
	Bio             *string `json:"bio" binding:"omitempty,max=5000"`
	ConsultationFee *string `json:"consultationFee" binding:"omitempty,numeric"`
}

// UpdateOwnProfile edits the calling doctor's professional profile.
func (h *DoctorHandler) UpdateOwnProfile(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req UpdateDoctorProfileRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	profile, err := h.ownProfile(actor.UserID)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}

	updates := map[string]any{}
	if req.Specialization != nil {
		updates["specialization"] = *req.Specialization
	}
	if req.Qualification != nil {
		updates["qualification"] = *req.Qualification
	}
	if req.ExperienceYears != nil {
		updates["experience_years"] = *req.ExperienceYears
	}
	if req.Bio != nil {
		updates["bio"] = *req.Bio
	}
	if req.ConsultationFee != nil {
		fee, err := decimal.NewFromString(*req.ConsultationFee)
		if err != nil || fee.IsNegative() {
			utils.BadRequest(c, "consultationFee must be a non-negative amount")
			return
		}
		updates["consultation_fee"] = fee.Round(2)
	}
	if len(updates) > 0 {
		if err := h.DB.Model(profile).Updates(updates).Error; err != nil {
			utils.HandleError(c, h.Log, apperr.Internal("update doctor profile", err))
			return
		}
	}
	profile, err = h.ownProfile(actor.UserID)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Profile updated successfully", profile)
}

// AvailabilityStatusRequest sets the doctor's presence.
type AvailabilityStatusRequest struct {
	Status models.AvailabilityStatus `json:"status" binding:"required,oneof=available busy offline"`
}

// UpdateAvailabilityStatus sets available, busy or offline.
func (h *DoctorHandler) UpdateAvailabilityStatus(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req AvailabilityStatusRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	res := h.DB.Model(&models.DoctorProfile{}).Where("user_id = ?", actor.UserID).
		Update("availability_status", req.Status)
	if res.Error != nil {
		utils.HandleError(c, h.Log, apperr.Internal("update availability status", res.Error))
		return
	}
	if res.RowsAffected == 0 {
		utils.NotFound(c, "Doctor profile not found")
		return
	}
	utils.Success(c, "Availability status updated", gin.H{"status": req.Status})
}

// GetOwnAvailability lists the calling doctor's weekly rules.
func (h *DoctorHandler) GetOwnAvailability(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	rules, err := h.Scheduling.Rules(c.Request.Context(), actor.UserID)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Availability fetched successfully", rules)
}

// ReplaceAvailabilityRequest is the full weekly schedule.
type ReplaceAvailabilityRequest struct {
	Rules []scheduling.RuleInput `json:"rules" binding:"max=7"`
}

// ReplaceAvailability replaces the calling doctor's weekly rules.
func (h *DoctorHandler) ReplaceAvailability(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req ReplaceAvailabilityRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	rules, err := h.Scheduling.ReplaceRules(c.Request.Context(), actor, req.Rules)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Availability updated successfully", rules)
}

// DeleteAvailability removes the rule of one weekday.
func (h *DoctorHandler) DeleteAvailability(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	day, err := strconv.Atoi(c.Param("day"))
	if err != nil {
		utils.BadRequest(c, "day must be a number from 0 (Sunday) to 6")
		return
	}
	if err := h.Scheduling.DeleteRule(c.Request.Context(), actor, day); err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Availability rule deleted", nil)
}

func (h *DoctorHandler) ownProfile(userID string) (*models.DoctorProfile, error) {
	var profile models.DoctorProfile
	err := h.DB.Preload("User").Preload("AvailabilityRules").Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("doctor profile not found")
	}
	if err != nil {
		return nil, apperr.Internal("load doctor profile", err)
	}
	return &profile, nil
}
