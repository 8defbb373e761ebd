package handlers

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/models"
	"telehealth-portal-server/internal/scheduling"
	"telehealth-portal-server/internal/utils"
)

// AppointmentHandler handles appointment related requests.
type AppointmentHandler struct {
	DB         *gorm.DB
	Scheduling *scheduling.Service
	Log        *logrus.Logger
}

// NewAppointmentHandler creates a new AppointmentHandler.
func NewAppointmentHandler(db *gorm.DB, svc *scheduling.Service, log *logrus.Logger) *AppointmentHandler {
	return &AppointmentHandler{DB: db, Scheduling: svc, Log: log}
}

// BookAppointmentRequest represents the request body for booking a slot.
type BookAppointmentRequest struct {
	DoctorID         string                  `json:"doctorId" binding:"required,uuid"`
	AppointmentDate  string                  `json:"appointmentDate" binding:"required,date"`
	AppointmentTime  string                  `json:"appointmentTime" binding:"required,clock"`
	ReasonForVisit   string                  `json:"reasonForVisit" binding:"required,max=2000"`
	Symptoms         string                  `json:"symptoms" binding:"omitempty,max=2000"`
	ConsultationType models.ConsultationType `json:"consultationType" binding:"omitempty,oneof=video audio chat"`
}

// BookAppointmentResponse is returned after a successful booking.
type BookAppointmentResponse struct {
	AppointmentID string                   `json:"appointmentId"`
	Status        models.AppointmentStatus `json:"status"`
	Appointment   *models.Appointment      `json:"appointment"`
}

// BookAppointment books a slot for the calling patient.
func (h *AppointmentHandler) BookAppointment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var req BookAppointmentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}

	appt, err := h.Scheduling.Book(c.Request.Context(), actor, scheduling.BookRequest{
		DoctorID:         req.DoctorID,
		Date:             req.AppointmentDate,
		Time:             req.AppointmentTime,
		ReasonForVisit:   req.ReasonForVisit,
		Symptoms:         req.Symptoms,
		ConsultationType: req.ConsultationType,
	})
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Created(c, "Appointment booked successfully", BookAppointmentResponse{
		AppointmentID: appt.ID,
		Status:        appt.Status,
		Appointment:   appt,
	})
}

// CancelAppointmentRequest carries an optional cancellation reason.
type CancelAppointmentRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=1000"`
}

// CancelAppointment cancels the calling patient's pending appointment.
func (h *AppointmentHandler) CancelAppointment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req CancelAppointmentRequest
	if !bindOptional(c, &req) {
		return
	}
	appt, err := h.Scheduling.CancelByPatient(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Appointment cancelled successfully", appt)
}

// RescheduleAppointmentRequest moves an appointment to another slot.
type RescheduleAppointmentRequest struct {
	NewDate string `json:"newDate" binding:"required,date"`
	NewTime string `json:"newTime" binding:"required,clock"`
	Reason  string `json:"reason" binding:"omitempty,max=1000"`
}

// RescheduleAppointment moves the calling patient's pending appointment.
func (h *AppointmentHandler) RescheduleAppointment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req RescheduleAppointmentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	appt, err := h.Scheduling.Reschedule(c.Request.Context(), actor, id, scheduling.RescheduleRequest{
		Date:   req.NewDate,
		Time:   req.NewTime,
		Reason: req.Reason,
	})
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Appointment rescheduled successfully", appt)
}

// GetAppointmentsForUser lists the caller's appointments: patients and doctors
// see their own, admins see all. ?status= filters by status.
func (h *AppointmentHandler) GetAppointmentsForUser(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	page, size := pageParams(c)

	q := h.DB.Model(&models.Appointment{})
	switch actor.Role {
	case models.RolePatient:
		q = q.Where("patient_id = ?", actor.UserID)
	case models.RoleDoctor:
		q = q.Where("doctor_id = ?", actor.UserID)
	case models.RoleAdmin:
	default:
		utils.Forbidden(c, "User role not permitted to view appointments")
		return
	}
	if status := models.AppointmentStatus(c.Query("status")); status != "" {
		if !status.Valid() {
			utils.BadRequest(c, "Invalid status filter")
			return
		}
		q = q.Where("status = ?", status)
	}
	if date := c.Query("date"); date != "" {
		q = q.Where("appointment_date = ?", date)
	}

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("count appointments", err))
		return
	}
	var appointments []models.Appointment
	err := q.Preload("Patient").Preload("Doctor").Preload("Request").
		Order("appointment_date desc, appointment_time desc").
		Offset((page - 1) * size).Limit(size).
		Find(&appointments).Error
	if err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("list appointments", err))
		return
	}
	utils.Success(c, "Appointments fetched successfully", Page[models.Appointment]{
		Items: appointments, Total: total, Page: page, PageSize: size,
	})
}

// GetAppointmentByID returns an appointment to its patient, its doctor or an admin.
func (h *AppointmentHandler) GetAppointmentByID(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	var appointment models.Appointment
	err := h.DB.Preload("Patient").Preload("Doctor").Preload("Request").First(&appointment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		utils.NotFound(c, "Appointment not found")
		return
	}
	if err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("load appointment", err))
		return
	}
	if actor.Role != models.RoleAdmin && appointment.PatientID != actor.UserID && appointment.DoctorID != actor.UserID {
		// Foreign appointments are indistinguishable from missing ones.
		utils.NotFound(c, "Appointment not found")
		return
	}
	utils.Success(c, "Appointment fetched successfully", appointment)
}

// DecisionRequest carries the doctor's optional message.
type DecisionRequest struct {
	Message string `json:"message" binding:"omitempty,max=1000"`
}

// AcceptAppointment confirms a pending appointment of the calling doctor.
func (h *AppointmentHandler) AcceptAppointment(c *gin.Context) {
	h.decide(c, "Appointment accepted", h.Scheduling.Accept)
}

// RejectAppointment rejects a pending appointment of the calling doctor.
func (h *AppointmentHandler) RejectAppointment(c *gin.Context) {
	h.decide(c, "Appointment rejected", h.Scheduling.Reject)
}

// DoctorCancelAppointment cancels a pending or confirmed appointment of the calling doctor.
func (h *AppointmentHandler) DoctorCancelAppointment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req CancelAppointmentRequest
	if !utils.BindAndValidate(c, &req) {
		return
	}
	if req.Reason == "" {
		utils.BadRequest(c, "reason is required")
		return
	}
	appt, err := h.Scheduling.CancelByDoctor(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Appointment cancelled successfully", appt)
}

// CompleteAppointment marks a confirmed appointment completed once it has started.
func (h *AppointmentHandler) CompleteAppointment(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	appt, err := h.Scheduling.Complete(c.Request.Context(), actor, id)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, "Appointment completed", appt)
}

type decisionFunc func(ctx context.Context, actor scheduling.Actor, appointmentID, message string) (*models.Appointment, error)

func (h *AppointmentHandler) decide(c *gin.Context, message string, fn decisionFunc) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req DecisionRequest
	if !bindOptional(c, &req) {
		return
	}
	appt, err := fn(c.Request.Context(), actor, id, req.Message)
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	utils.Success(c, message, appt)
}
