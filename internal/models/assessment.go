package models

import (
	"gorm.io/datatypes"
)

// Dosha is one of the three Ayurvedic constitutions.
type Dosha string

const (
	DoshaVata  Dosha = "vata"
	DoshaPitta Dosha = "pitta"
	DoshaKapha Dosha = "kapha"
)

// DoshaAssessment is a scored questionnaire submitted by a patient.
// Scores are percentages summing to 100.
type DoshaAssessment struct {
	BaseModel
	PatientID       string         `gorm:"size:36;index;not null" json:"patientId"`
	Answers         datatypes.JSON `gorm:"not null" json:"answers"`
	VataScore       int            `json:"vataScore"`
	PittaScore      int            `json:"pittaScore"`
	KaphaScore      int            `json:"kaphaScore"`
	DominantDosha   string         `gorm:"size:20" json:"dominantDosha"`
	Recommendations string         `gorm:"type:text" json:"recommendations"`
	Provider        string         `gorm:"size:50" json:"provider,omitempty"`
}

// ConsultationSummary is the structured AI summary of one consultation.
type ConsultationSummary struct {
	BaseModel
	AppointmentID string         `gorm:"size:36;uniqueIndex;not null" json:"appointmentId"`
	DoctorID      string         `gorm:"size:36;index;not null" json:"doctorId"`
	PatientID     string         `gorm:"size:36;index;not null" json:"patientId"`
	Transcript    string         `gorm:"type:text" json:"transcript"`
	Summary       datatypes.JSON `json:"summary"`
	Provider      string         `gorm:"size:50" json:"provider"`
}
