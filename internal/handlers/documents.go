package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/models"
	"telehealth-portal-server/internal/notify"
	"telehealth-portal-server/internal/scheduling"
	"telehealth-portal-server/internal/utils"
)

var allowedMimeTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"text/plain":      true,
}

// DocumentHandler stores patient documents in the database.
type DocumentHandler struct {
	DB          *gorm.DB
	Sink        *notify.Sink
	Log         *logrus.Logger
	MaxUploadMB int
}

// NewDocumentHandler creates a new DocumentHandler.
func NewDocumentHandler(db *gorm.DB, sink *notify.Sink, maxUploadMB int, log *logrus.Logger) *DocumentHandler {
	if maxUploadMB <= 0 {
		maxUploadMB = 10
	}
	return &DocumentHandler{DB: db, Sink: sink, Log: log, MaxUploadMB: maxUploadMB}
}

// UploadDocument stores a file for a patient. Patients upload for themselves;
// doctors upload for a patient they have an appointment with, passing patientId.
// Form fields: file, title, category, patientId, appointmentId.
func (h *DocumentHandler) UploadDocument(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	limit := int64(h.MaxUploadMB) << 20
	// Room for the other form fields on top of the file itself.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+1<<20)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			utils.Error(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds %d MB", h.MaxUploadMB))
			return
		}
		utils.BadRequest(c, "A file is required in the 'file' form field")
		return
	}
	defer file.Close()
	if header.Size > limit {
		utils.Error(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds %d MB", h.MaxUploadMB))
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, limit+1))
	if err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("read upload", err))
		return
	}
	if len(data) == 0 {
		utils.BadRequest(c, "File is empty")
		return
	}
	if int64(len(data)) > limit {
		utils.Error(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("File exceeds %d MB", h.MaxUploadMB))
		return
	}

	mimeType := detectMimeType(header.Header.Get("Content-Type"), data)
	if !allowedMimeTypes[mimeType] {
		utils.BadRequest(c, "Unsupported file type "+mimeType)
		return
	}

	doc := models.Document{
		Title:     strings.TrimSpace(c.PostForm("title")),
		Category:  strings.TrimSpace(c.PostForm("category")),
		FileName:  filepath.Base(header.Filename),
		MimeType:  mimeType,
		SizeBytes: int64(len(data)),
		Data:      data,
	}
	if doc.Title == "" {
		doc.Title = doc.FileName
	}
	if doc.Category == "" {
		doc.Category = "general"
	}
	if len(doc.Title) > 255 || len(doc.Category) > 50 {
		utils.BadRequest(c, "title or category is too long")
		return
	}

	switch actor.Role {
	case models.RolePatient:
		doc.PatientID = actor.UserID
		doc.SetUploadedBy(models.UploadedByPatient())
	case models.RoleDoctor:
		patientID := c.PostForm("patientId")
		if _, err := uuid.Parse(patientID); err != nil {
			utils.BadRequest(c, "patientId is required when a doctor uploads a document")
			return
		}
		treats, err := h.treats(actor.UserID, patientID)
		if err != nil {
			utils.HandleError(c, h.Log, err)
			return
		}
		if !treats {
			utils.Forbidden(c, "You can only upload documents for your patients")
			return
		}
		doc.PatientID = patientID
		doc.SetUploadedBy(models.UploadedByDoctor(actor.UserID))
	default:
		utils.Forbidden(c, "Only patients and doctors can upload documents")
		return
	}

	var appt *models.Appointment
	if raw := c.PostForm("appointmentId"); raw != "" {
		appt, err = h.linkedAppointment(actor, doc.PatientID, raw)
		if err != nil {
			utils.HandleError(c, h.Log, err)
			return
		}
		doc.AppointmentID = &appt.ID
	}

	notifications := uploadNotifications(actor, &doc, appt)
	err = h.DB.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&doc).Error; err != nil {
			return apperr.Internal("store document", err)
		}
		for _, n := range notifications {
			n.Metadata = []byte(fmt.Sprintf(`{"documentId":%q}`, doc.ID))
		}
		if err := h.Sink.Create(tx, notifications...); err != nil {
			return apperr.Internal("notify document upload", err)
		}
		return nil
	})
	if err != nil {
		utils.HandleError(c, h.Log, err)
		return
	}
	h.Sink.Dispatch(c.Request.Context(), notifications...)

	utils.Created(c, "Document uploaded successfully", doc)
}

// GetDocuments lists documents. Patients see their own; doctors pass
// ?patientId= for a patient they treat.
func (h *DocumentHandler) GetDocuments(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	var patientID string
	switch actor.Role {
	case models.RolePatient:
		patientID = actor.UserID
	case models.RoleDoctor:
		patientID = c.Query("patientId")
		if _, err := uuid.Parse(patientID); err != nil {
			utils.BadRequest(c, "patientId query parameter is required")
			return
		}
		treats, err := h.treats(actor.UserID, patientID)
		if err != nil {
			utils.HandleError(c, h.Log, err)
			return
		}
		if !treats {
			utils.Forbidden(c, "You can only view documents of your patients")
			return
		}
	default:
		utils.Forbidden(c, "Only patients and doctors can list documents")
		return
	}

	q := h.DB.Omit("data").Where("patient_id = ?", patientID)
	if category := c.Query("category"); category != "" {
		q = q.Where("category = ?", category)
	}
	var docs []models.Document
	if err := q.Order("created_at desc").Find(&docs).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("list documents", err))
		return
	}
	utils.Success(c, "Documents fetched successfully", docs)
}

// DownloadDocument serves the file bytes to someone allowed to read them.
func (h *DocumentHandler) DownloadDocument(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	doc, ok := h.readable(c, actor, true)
	if !ok {
		return
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.FileName}))
	c.Header("X-Content-Type-Options", "nosniff")
	c.Data(http.StatusOK, doc.MimeType, doc.Data)
}

// DeleteDocument removes a document. Patients delete what they uploaded;
// doctors delete what they uploaded.
func (h *DocumentHandler) DeleteDocument(c *gin.Context) {
	actor, ok := requireActor(c)
	if !ok {
		return
	}
	doc, ok := h.readable(c, actor, false)
	if !ok {
		return
	}
	by := doc.UploadedBy()
	allowed := (actor.Role == models.RolePatient && by.Kind == models.UploaderPatient && doc.PatientID == actor.UserID) ||
		(actor.Role == models.RoleDoctor && by.Kind == models.UploaderDoctor && by.DoctorID == actor.UserID)
	if !allowed {
		utils.Forbidden(c, "Only the uploader can delete this document")
		return
	}
	if err := h.DB.Delete(&models.Document{}, "id = ?", doc.ID).Error; err != nil {
		utils.HandleError(c, h.Log, apperr.Internal("delete document", err))
		return
	}
	utils.Success(c, "Document deleted successfully", nil)
}

// readable loads the :id document when actor may read it. Documents the
// actor cannot read answer 404.
func (h *DocumentHandler) readable(c *gin.Context, actor scheduling.Actor, withData bool) (*models.Document, bool) {
	id, ok := idParam(c, "id")
	if !ok {
		return nil, false
	}
	q := h.DB
	if !withData {
		q = q.Omit("data")
	}
	var doc models.Document
	if err := q.First(&doc, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			utils.NotFound(c, "Document not found")
		} else {
			utils.HandleError(c, h.Log, apperr.Internal("load document", err))
		}
		return nil, false
	}

	allowed := false
	switch actor.Role {
	case models.RolePatient:
		allowed = doc.PatientID == actor.UserID
	case models.RoleDoctor:
		by := doc.UploadedBy()
		allowed = by.Kind == models.UploaderDoctor && by.DoctorID == actor.UserID
		if !allowed {
			treats, err := h.treats(actor.UserID, doc.PatientID)
			if err != nil {
				utils.HandleError(c, h.Log, err)
				return nil, false
			}
			allowed = treats
		}
	}
	if !allowed {
		utils.NotFound(c, "Document not found")
		return nil, false
	}
	return &doc, true
}

// treats reports whether the doctor has a non-rejected appointment with the patient.
func (h *DocumentHandler) treats(doctorID, patientID string) (bool, error) {
	var n int64
	err := h.DB.Model(&models.Appointment{}).
		Where("doctor_id = ? AND patient_id = ? AND status <> ?", doctorID, patientID, models.StatusRejected).
		Count(&n).Error
	if err != nil {
		return false, apperr.Internal("check doctor patient relation", err)
	}
	return n > 0, nil
}

// linkedAppointment loads the appointment a document is attached to. It must
// belong to the patient, and to the uploading doctor when a doctor uploads.
func (h *DocumentHandler) linkedAppointment(actor scheduling.Actor, patientID, appointmentID string) (*models.Appointment, error) {
	if _, err := uuid.Parse(appointmentID); err != nil {
		return nil, apperr.Validation("invalid appointmentId")
	}
	q := h.DB.Preload("Patient").Preload("Doctor").Where("id = ? AND patient_id = ?", appointmentID, patientID)
	if actor.Role == models.RoleDoctor {
		q = q.Where("doctor_id = ?", actor.UserID)
	}
	var appt models.Appointment
	if err := q.First(&appt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("appointment not found")
		}
		return nil, apperr.Internal("load appointment", err)
	}
	return &appt, nil
}

// uploadNotifications tells the patient about a doctor upload, and the doctor
// about a patient upload attached to their appointment.
func uploadNotifications(actor scheduling.Actor, doc *models.Document, appt *models.Appointment) []*models.Notification {
	apptID := ""
	if appt != nil {
		apptID = appt.ID
	}
	switch {
	case actor.Role == models.RoleDoctor:
		return []*models.Notification{notify.For(doc.PatientID, models.RolePatient, models.NotificationDocumentUploaded,
			"New document", fmt.Sprintf("Your doctor uploaded %q to your records.", doc.Title), apptID)}
	case appt != nil:
		name := "A patient"
		if appt.Patient != nil {
			name = appt.Patient.FullName()
		}
		return []*models.Notification{notify.For(appt.DoctorID, models.RoleDoctor, models.NotificationDocumentUploaded,
			"New document", fmt.Sprintf("%s uploaded %q for the appointment on %s at %s.",
				name, doc.Title, appt.AppointmentDate, appt.AppointmentTime), apptID)}
	}
	return nil
}

// detectMimeType prefers the declared type and falls back to sniffing.
func detectMimeType(declared string, data []byte) string {
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && mt != "application/octet-stream" {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(data))
	return mt
}
