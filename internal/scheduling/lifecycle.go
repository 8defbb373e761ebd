package scheduling

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/models"
	"telehealth-portal-server/internal/notify"
)

// transition describes one guarded status change.
type transition struct {
	name    string
	role    models.Role
	owner   string // column that must equal the actor
	from    []models.AppointmentStatus
	to      models.AppointmentStatus
	updates map[string]any
	// decision, when set, is written to the appointment request.
	decision *models.RequestStatus
	message  string
	check    func(appt *models.Appointment) error
	notice   func(appt *models.Appointment) *models.Notification
}

// CancelByPatient cancels a patient's pending appointment.
func (s *Service) CancelByPatient(ctx context.Context, actor Actor, appointmentID, reason string) (*models.Appointment, error) {
	return s.apply(ctx, actor, appointmentID, transition{
		name:  "cancel_by_patient",
		role:  models.RolePatient,
		owner: "patient_id",
		from:  []models.AppointmentStatus{models.StatusPending},
		to:    models.StatusCancelled,
		updates: map[string]any{
			"cancellation_reason": reason,
			"cancelled_by":        models.RolePatient,
		},
		notice: func(a *models.Appointment) *models.Notification {
			return notify.For(a.DoctorID, models.RoleDoctor, models.NotificationAppointmentCancelled,
				"Appointment cancelled",
				withReason(fmt.Sprintf("%s cancelled the appointment on %s at %s.", patientName(a), a.AppointmentDate, a.AppointmentTime), reason),
				a.ID)
		},
	})
}

// CancelByDoctor cancels a pending or confirmed appointment of the doctor.
func (s *Service) CancelByDoctor(ctx context.Context, actor Actor, appointmentID, reason string) (*models.Appointment, error) {
	return s.apply(ctx, actor, appointmentID, transition{
		name:  "cancel_by_doctor",
		role:  models.RoleDoctor,
		owner: "doctor_id",
		from:  []models.AppointmentStatus{models.StatusPending, models.StatusConfirmed},
		to:    models.StatusCancelled,
		updates: map[string]any{
			"cancellation_reason": reason,
			"cancelled_by":        models.RoleDoctor,
		},
		notice: func(a *models.Appointment) *models.Notification {
			return notify.For(a.PatientID, models.RolePatient, models.NotificationAppointmentCancelled,
				"Appointment cancelled",
				withReason(fmt.Sprintf("%s cancelled your appointment on %s at %s.", doctorName(a), a.AppointmentDate, a.AppointmentTime), reason),
				a.ID)
		},
	})
}

// Accept confirms a pending appointment.
func (s *Service) Accept(ctx context.Context, actor Actor, appointmentID, message string) (*models.Appointment, error) {
	decision := models.RequestAccepted
	return s.apply(ctx, actor, appointmentID, transition{
		name:     "accept",
		role:     models.RoleDoctor,
		owner:    "doctor_id",
		from:     []models.AppointmentStatus{models.StatusPending},
		to:       models.StatusConfirmed,
		decision: &decision,
		message:  message,
		notice: func(a *models.Appointment) *models.Notification {
			return notify.For(a.PatientID, models.RolePatient, models.NotificationAppointmentConfirmed,
				"Appointment confirmed",
				withReason(fmt.Sprintf("%s confirmed your appointment on %s at %s.", doctorName(a), a.AppointmentDate, a.AppointmentTime), message),
				a.ID)
		},
	})
}

// Reject declines a pending appointment and frees its slot.
func (s *Service) Reject(ctx context.Context, actor Actor, appointmentID, message string) (*models.Appointment, error) {
	decision := models.RequestRejected
	return s.apply(ctx, actor, appointmentID, transition{
		name:     "reject",
		role:     models.RoleDoctor,
		owner:    "doctor_id",
		from:     []models.AppointmentStatus{models.StatusPending},
		to:       models.StatusRejected,
		decision: &decision,
		message:  message,
		notice: func(a *models.Appointment) *models.Notification {
			return notify.For(a.PatientID, models.RolePatient, models.NotificationAppointmentRejected,
				"Appointment declined",
				withReason(fmt.Sprintf("%s could not accept your appointment on %s at %s.", doctorName(a), a.AppointmentDate, a.AppointmentTime), message),
				a.ID)
		},
	})
}

// Complete marks a confirmed appointment as done once it has started.
func (s *Service) Complete(ctx context.Context, actor Actor, appointmentID string) (*models.Appointment, error) {
	return s.apply(ctx, actor, appointmentID, transition{
		name:  "complete",
		role:  models.RoleDoctor,
		owner: "doctor_id",
		from:  []models.AppointmentStatus{models.StatusConfirmed},
		to:    models.StatusCompleted,
		check: func(a *models.Appointment) error {
			day, err := ParseDate(a.AppointmentDate, s.loc)
			if err != nil {
				return apperr.Internal("parse appointment date", err)
			}
			minutes, err := ParseClock(a.AppointmentTime)
			if err != nil {
				return apperr.Internal("parse appointment time", err)
			}
			if s.now().Before(At(day, minutes)) {
				return ErrNotStarted
			}
			return nil
		},
		notice: func(a *models.Appointment) *models.Notification {
			return notify.For(a.PatientID, models.RolePatient, models.NotificationAppointmentCompleted,
				"Consultation completed",
				fmt.Sprintf("Your consultation with %s on %s is complete.", doctorName(a), a.AppointmentDate),
				a.ID)
		},
	})
}

// apply runs t as a conditional update inside a transaction. A missing or
// foreign appointment is NotFound; an ineligible status is ErrAlreadyProcessed.
func (s *Service) apply(ctx context.Context, actor Actor, appointmentID string, t transition) (*models.Appointment, error) {
	if actor.Role != t.role {
		return nil, apperr.Authorization(fmt.Sprintf("only %ss can %s this appointment", t.role, verb(t.to)))
	}

	var appt models.Appointment
	var sent []*models.Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.loadOwned(tx, appointmentID, t.owner, actor.UserID, &appt); err != nil {
			return err
		}
		if !slices.Contains(t.from, appt.Status) {
			return ErrAlreadyProcessed
		}
		if t.check != nil {
			if err := t.check(&appt); err != nil {
				return err
			}
		}

		updates := map[string]any{"status": t.to}
		if t.to.IsTerminal() {
			updates["active_slot_key"] = nil
		}
		for k, v := range t.updates {
			updates[k] = v
		}
		res := tx.Model(&models.Appointment{}).
			Where("id = ? AND status IN ?", appt.ID, t.from).
			Updates(updates)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return ErrSlotTaken
			}
			return apperr.Internal(t.name, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyProcessed
		}

		if t.decision != nil {
			err := tx.Model(&models.AppointmentRequest{}).
				Where("appointment_id = ?", appt.ID).
				Updates(map[string]any{
					"status":           *t.decision,
					"response_message": t.message,
					"responded_at":     s.now(),
				}).Error
			if err != nil {
				return apperr.Internal("record decision", err)
			}
		}

		if err := s.reload(tx, &appt); err != nil {
			return err
		}
		if t.notice != nil {
			sent = append(sent, t.notice(&appt))
			if err := s.sink.Create(tx, sent...); err != nil {
				return apperr.Internal("create notifications", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sink.Dispatch(ctx, sent...)
	s.log.WithFields(logrus.Fields{
		"appointment_id": appt.ID,
		"transition":     t.name,
		"status":         appt.Status,
		"actor_id":       actor.UserID,
	}).Info("appointment status changed")
	return &appt, nil
}

func withReason(message, reason string) string {
	if reason == "" {
		return message
	}
	return message + " Note: " + reason
}

func verb(to models.AppointmentStatus) string {
	switch to {
	case models.StatusConfirmed:
		return "accept"
	case models.StatusRejected:
		return "reject"
	case models.StatusCompleted:
		return "complete"
	default:
		return "cancel"
	}
}
