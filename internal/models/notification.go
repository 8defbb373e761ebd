package models

import (
	"time"

	"gorm.io/datatypes"
)

// NotificationType identifies the event a notification reports.
type NotificationType string

const (
	NotificationAppointmentBooked      NotificationType = "appointment_booked"
	NotificationAppointmentConfirmed   NotificationType = "appointment_confirmed"
	NotificationAppointmentRejected    NotificationType = "appointment_rejected"
	NotificationAppointmentCancelled   NotificationType = "appointment_cancelled"
	NotificationAppointmentRescheduled NotificationType = "appointment_rescheduled"
	NotificationAppointmentCompleted   NotificationType = "appointment_completed"
	NotificationAppointmentReminder    NotificationType = "appointment_reminder"
	NotificationDocumentUploaded       NotificationType = "document_uploaded"
	NotificationDoctorApproved         NotificationType = "doctor_approved"
)

// Notification is an in-app message for one recipient.
type Notification struct {
	BaseModel
	RecipientID   string           `gorm:"size:36;not null;index:idx_notification_recipient" json:"recipientId"`
	RecipientRole Role             `gorm:"size:20;not null;index:idx_notification_recipient" json:"recipientRole"`
	Type          NotificationType `gorm:"size:40;index;not null" json:"type"`
	Title         string           `gorm:"size:255;not null" json:"title"`
	Message       string           `gorm:"type:text" json:"message"`
	AppointmentID *string          `gorm:"size:36;index" json:"appointmentId,omitempty"`
	Metadata      datatypes.JSON   `json:"metadata,omitempty"`
	IsRead        bool             `gorm:"not null;index" json:"isRead"`
	ReadAt        *time.Time       `json:"readAt,omitempty"`
}
