package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/models"
)

// MaxTranscriptLength bounds the transcript sent to a provider.
const MaxTranscriptLength = 50000

// Summary is the structured result of a consultation transcript.
type Summary struct {
	Summary       string   `json:"summary"`
	Symptoms      []string `json:"symptoms"`
	Diagnosis     string   `json:"diagnosis"`
	Prescriptions []string `json:"prescriptions"`
	FollowUp      string   `json:"followUp"`
	RedFlags      []string `json:"redFlags"`
}

// ParseSummary decodes a provider response, tolerating a Markdown code fence.
func ParseSummary(text string) (*Summary, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}
	var s Summary
	if err := json.Unmarshal([]byte(text), &s); err != nil {
		return nil, err
	}
	if strings.TrimSpace(s.Summary) == "" {
		return nil, errors.New("summary field is empty")
	}
	if s.Symptoms == nil {
		s.Symptoms = []string{}
	}
	if s.Prescriptions == nil {
		s.Prescriptions = []string{}
	}
	if s.RedFlags == nil {
		s.RedFlags = []string{}
	}
	return &s, nil
}

const summarySystemPrompt = "You summarise doctor-patient teleconsultation transcripts for the doctor's records. " +
	"Reply with a single JSON object with the keys summary (string), symptoms (array of strings), " +
	"diagnosis (string), prescriptions (array of strings), followUp (string) and redFlags (array of strings). " +
	"Only use facts stated in the transcript."

// Summarize builds and stores the summary of a confirmed or completed
// appointment of doctorID. Summarising again replaces the previous summary.
func (s *Service) Summarize(ctx context.Context, doctorID, appointmentID, transcript string) (*models.ConsultationSummary, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil, apperr.Validation("transcript is required")
	}
	if len(transcript) > MaxTranscriptLength {
		return nil, apperr.Validationf("transcript exceeds %d characters", MaxTranscriptLength)
	}

	db := s.db.WithContext(ctx)
	var appt models.Appointment
	if err := db.Where("id = ? AND doctor_id = ?", appointmentID, doctorID).First(&appt).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("appointment not found")
		}
		return nil, apperr.Internal("load appointment", err)
	}
	if appt.Status != models.StatusConfirmed && appt.Status != models.StatusCompleted {
		return nil, apperr.Conflict("only confirmed or completed consultations can be summarised")
	}

	var parsed *Summary
	res, err := s.chain.Complete(ctx, Request{
		Messages: []Message{
			{Role: "system", Content: summarySystemPrompt},
			{Role: "user", Content: transcript},
		},
		Temperature: 0.2,
		JSON:        true,
		Validate: func(text string) error {
			var perr error
			parsed, perr = ParseSummary(text)
			return perr
		},
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"appointment_id": appointmentID,
			"error":          err,
		}).Error("consultation summary failed")
		if Classify(err) == FailureHard {
			return nil, apperr.Unavailable("assistant returned an invalid response", err)
		}
		return nil, apperr.Unavailable("assistant unavailable, try again later", err)
	}

	raw, err := json.Marshal(parsed)
	if err != nil {
		return nil, apperr.Internal("encode summary", err)
	}
	summary := models.ConsultationSummary{
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		PatientID:     appt.PatientID,
		Transcript:    transcript,
		Summary:       datatypes.JSON(raw),
		Provider:      res.Provider,
	}
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "appointment_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"transcript", "summary", "provider", "updated_at"}),
	}).Create(&summary).Error
	if err != nil {
		return nil, apperr.Internal("store consultation summary", err)
	}

	// On conflict the insert keeps the generated id; read back the stored row.
	var stored models.ConsultationSummary
	if err := db.Where("appointment_id = ?", appt.ID).First(&stored).Error; err != nil {
		return nil, apperr.Internal("reload consultation summary", err)
	}
	return &stored, nil
}

// GetSummary returns the summary of an appointment the user takes part in.
func (s *Service) GetSummary(ctx context.Context, userID, appointmentID string) (*models.ConsultationSummary, error) {
	var out models.ConsultationSummary
	err := s.db.WithContext(ctx).
		Where("appointment_id = ? AND (doctor_id = ? OR patient_id = ?)", appointmentID, userID, userID).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("consultation summary not found")
	}
	if err != nil {
		return nil, apperr.Internal("load consultation summary", err)
	}
	return &out, nil
}
