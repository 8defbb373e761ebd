package models

import (
	"encoding/json"
)

// UploaderKind tags who uploaded a document.
type UploaderKind string

const (
	UploaderPatient UploaderKind = "patient"
	UploaderDoctor  UploaderKind = "doctor"
)

// UploadedBy is either the owning patient or a specific doctor.
type UploadedBy struct {
	Kind     UploaderKind `json:"kind"`
	DoctorID string       `json:"doctorId,omitempty"`
}

func UploadedByPatient() UploadedBy { return UploadedBy{Kind: UploaderPatient} }

func UploadedByDoctor(doctorID string) UploadedBy {
	return UploadedBy{Kind: UploaderDoctor, DoctorID: doctorID}
}

// Document is a file stored for a patient.
type Document struct {
	BaseModel
	PatientID        string       `gorm:"size:36;index;not null" json:"patientId"`
	AppointmentID    *string      `gorm:"size:36;index" json:"appointmentId,omitempty"`
	Title            string       `gorm:"size:255;not null" json:"title"`
	Category         string       `gorm:"size:50" json:"category"`
	FileName         string       `gorm:"size:255;not null" json:"fileName"`
	MimeType         string       `gorm:"size:100;not null" json:"mimeType"`
	SizeBytes        int64        `json:"sizeBytes"`
	Data             []byte       `gorm:"type:longblob;not null" json:"-"`
	UploaderKind     UploaderKind `gorm:"column:uploader_kind;size:10;not null" json:"-"`
	UploaderDoctorID *string      `gorm:"column:uploader_doctor_id;size:36;index" json:"-"`
}

// UploadedBy rebuilds the uploader union from its columns.
func (d *Document) UploadedBy() UploadedBy {
	if d.UploaderKind == UploaderDoctor && d.UploaderDoctorID != nil {
		return UploadedByDoctor(*d.UploaderDoctorID)
	}
	return UploadedByPatient()
}

// SetUploadedBy stores the uploader union into its columns.
func (d *Document) SetUploadedBy(u UploadedBy) {
	d.UploaderKind = u.Kind
	d.UploaderDoctorID = nil
	if u.Kind == UploaderDoctor {
		id := u.DoctorID
		d.UploaderDoctorID = &id
	}
}

// MarshalJSON exposes the uploader as a single uploadedBy object.
func (d Document) MarshalJSON() ([]byte, error) {
	type document Document
	return json.Marshal(struct {
		document
		UploadedBy UploadedBy `json:"uploadedBy"`
	}{document(d), d.UploadedBy()})
}
