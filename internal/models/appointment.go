package models

import (
	"time"
)

// AppointmentStatus represents the status of an appointment
type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
	StatusRejected  AppointmentStatus = "rejected"
)

// ActiveStatuses are the statuses that hold a slot.
var ActiveStatuses = []AppointmentStatus{StatusPending, StatusConfirmed}

// IsTerminal reports whether no further transition is possible.
func (s AppointmentStatus) IsTerminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusRejected
}

// Valid reports whether s is a known status.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusRejected:
		return true
	}
	return false
}

// ConsultationType is the channel used for the consultation.
type ConsultationType string

const (
	ConsultationVideo ConsultationType = "video"
	ConsultationAudio ConsultationType = "audio"
	ConsultationChat  ConsultationType = "chat"
)

// Appointment represents a scheduled consultation between a patient and a doctor.
//
// ActiveSlotKey is "<doctor>|<date>|<time>" while the appointment is pending or
// confirmed and NULL once it reaches a terminal status. Its unique index keeps
// at most one active appointment per doctor slot.
type Appointment struct {
	BaseModel
	PatientID          string            `gorm:"size:36;index;not null" json:"patientId"`
	DoctorID           string            `gorm:"size:36;not null;index:idx_appointment_doctor_date" json:"doctorId"`
	AppointmentDate    string            `gorm:"size:10;not null;index:idx_appointment_doctor_date" json:"appointmentDate"`
	AppointmentTime    string            `gorm:"size:5;not null" json:"appointmentTime"`
	DurationMinutes    int               `gorm:"not null" json:"durationMinutes"`
	Status             AppointmentStatus `gorm:"size:20;index;not null" json:"status"`
	ReasonForVisit     string            `gorm:"type:text" json:"reasonForVisit"`
	Symptoms           string            `gorm:"type:text" json:"symptoms,omitempty"`
	ConsultationType   ConsultationType  `gorm:"size:10" json:"consultationType"`
	CancellationReason string            `gorm:"type:text" json:"cancellationReason,omitempty"`
	CancelledBy        Role              `gorm:"size:20" json:"cancelledBy,omitempty"`
	ActiveSlotKey      *string           `gorm:"size:64;uniqueIndex" json:"-"`

	// Relations
	Patient *User               `gorm:"foreignKey:PatientID" json:"patient,omitempty"`
	Doctor  *User               `gorm:"foreignKey:DoctorID" json:"doctor,omitempty"`
	Request *AppointmentRequest `gorm:"foreignKey:AppointmentID" json:"request,omitempty"`
}

// SlotKey builds the value stored in ActiveSlotKey.
func SlotKey(doctorID, date, clock string) string {
	return doctorID + "|" + date + "|" + clock
}

// RequestStatus is the doctor's decision on an appointment request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestAccepted RequestStatus = "accepted"
	RequestRejected RequestStatus = "rejected"
)

// AppointmentRequest records the doctor's decision for an appointment. There is
// exactly one per appointment; rescheduling resets it to pending.
type AppointmentRequest struct {
	BaseModel
	AppointmentID   string        `gorm:"size:36;uniqueIndex;not null" json:"appointmentId"`
	DoctorID        string        `gorm:"size:36;index;not null" json:"doctorId"`
	PatientID       string        `gorm:"size:36;index;not null" json:"patientId"`
	Status          RequestStatus `gorm:"size:20;not null" json:"status"`
	ResponseMessage string        `gorm:"type:text" json:"responseMessage,omitempty"`
	RespondedAt     *time.Time    `json:"respondedAt,omitempty"`
}
