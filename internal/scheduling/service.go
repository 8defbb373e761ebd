// Package scheduling is the appointment engine: slot generation, booking and
// the appointment lifecycle. Every write runs in one database transaction and
// the doctor profile row is locked while a slot is being taken.
package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"telehealth-portal-server/internal/apperr"
	"telehealth-portal-server/internal/models"
	"telehealth-portal-server/internal/notify"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   models.Role
}

// Options configures a Service.
type Options struct {
	Location    *time.Location
	SlotMinutes int
	Now         func() time.Time
}

// Service implements slot listing, booking and lifecycle transitions.
type Service struct {
	db          *gorm.DB
	sink        *notify.Sink
	loc         *time.Location
	slotMinutes int
	now         func() time.Time
	log         *logrus.Logger
}

// NewService creates a scheduling service.
func NewService(db *gorm.DB, sink *notify.Sink, opts Options, log *logrus.Logger) *Service {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.SlotMinutes <= 0 {
		opts.SlotMinutes = 30
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		db:          db,
		sink:        sink,
		loc:         opts.Location,
		slotMinutes: opts.SlotMinutes,
		now:         opts.Now,
		log:         log,
	}
}

// SlotMinutes returns the slot length.
func (s *Service) SlotMinutes() int { return s.slotMinutes }

// Location returns the clinic time zone.
func (s *Service) Location() *time.Location { return s.loc }

// AvailableSlots lists the slots of a bookable doctor on date. A doctor with
// no active rule for that weekday has no slots.
func (s *Service) AvailableSlots(ctx context.Context, doctorID, date string) ([]Slot, error) {
	day, err := ParseDate(date, s.loc)
	if err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx)
	if _, err := s.bookableDoctor(db, doctorID, false); err != nil {
		return nil, err
	}

	var rule models.AvailabilityRule
	err = db.Where("doctor_id = ? AND day_of_week = ? AND is_active = ?", doctorID, int(day.Weekday()), true).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []Slot{}, nil
	}
	if err != nil {
		return nil, apperr.Internal("load availability rule", err)
	}

	var taken []string
	err = db.Model(&models.Appointment{}).
		Where("doctor_id = ? AND appointment_date = ? AND status IN ?", doctorID, date, models.ActiveStatuses).
		Pluck("appointment_time", &taken).Error
	if err != nil {
		return nil, apperr.Internal("load booked slots", err)
	}
	booked := make(map[string]bool, len(taken))
	for _, t := range taken {
		booked[t] = true
	}

	slots, err := GenerateSlots(&rule, day, s.now(), s.slotMinutes, booked)
	if err != nil {
		return nil, apperr.Internal("generate slots", err)
	}
	return slots, nil
}

// BookRequest is the input of Book.
type BookRequest struct {
	DoctorID         string
	Date             string
	Time             string
	ReasonForVisit   string
	Symptoms         string
	ConsultationType models.ConsultationType
}

// Book creates a pending appointment and its pending request, and notifies
// both parties, all in one transaction.
func (s *Service) Book(ctx context.Context, actor Actor, req BookRequest) (*models.Appointment, error) {
	if actor.Role != models.RolePatient {
		return nil, apperr.Authorization("only patients can book appointments")
	}
	consultation, err := normalizeConsultationType(req.ConsultationType)
	if err != nil {
		return nil, err
	}

	var appt models.Appointment
	var sent []*models.Notification
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var patient models.User
		if err := tx.Where("id = ? AND role = ?", actor.UserID, models.RolePatient).First(&patient).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPatientNotFound
			}
			return apperr.Internal("load patient", err)
		}

		doctor, err := s.lockSlot(tx, req.DoctorID, req.Date, req.Time, "")
		if err != nil {
			return err
		}

		key := models.SlotKey(req.DoctorID, req.Date, req.Time)
		appt = models.Appointment{
			PatientID:        actor.UserID,
			DoctorID:         req.DoctorID,
			AppointmentDate:  req.Date,
			AppointmentTime:  req.Time,
			DurationMinutes:  s.slotMinutes,
			Status:           models.StatusPending,
			ReasonForVisit:   req.ReasonForVisit,
			Symptoms:         req.Symptoms,
			ConsultationType: consultation,
			ActiveSlotKey:    &key,
		}
		if err := tx.Create(&appt).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrSlotTaken
			}
			return apperr.Internal("create appointment", err)
		}

		request := models.AppointmentRequest{
			AppointmentID: appt.ID,
			DoctorID:      appt.DoctorID,
			PatientID:     appt.PatientID,
			Status:        models.RequestPending,
		}
		if err := tx.Create(&request).Error; err != nil {
			return apperr.Internal("create appointment request", err)
		}
		appt.Request = &request
		appt.Doctor = doctor
		appt.Patient = &patient

		sent = []*models.Notification{
			notify.For(doctor.ID, models.RoleDoctor, models.NotificationAppointmentBooked,
				"New appointment request",
				fmt.Sprintf("%s requested a consultation on %s at %s.", patient.FullName(), appt.AppointmentDate, appt.AppointmentTime),
				appt.ID),
			notify.For(patient.ID, models.RolePatient, models.NotificationAppointmentBooked,
				"Appointment requested",
				fmt.Sprintf("Your request with Dr. %s on %s at %s is awaiting confirmation.", doctor.FullName(), appt.AppointmentDate, appt.AppointmentTime),
				appt.ID),
		}
		if err := s.sink.Create(tx, sent...); err != nil {
			return apperr.Internal("create notifications", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sink.Dispatch(ctx, sent...)
	s.log.WithFields(logrus.Fields{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
		"patient_id":     appt.PatientID,
		"date":           appt.AppointmentDate,
		"time":           appt.AppointmentTime,
	}).Info("appointment booked")
	return &appt, nil
}

// RescheduleRequest is the input of Reschedule.
type RescheduleRequest struct {
	Date   string
	Time   string
	Reason string
}

// Reschedule moves a patient's pending appointment to another slot of the
// same doctor. The doctor's decision is reset to pending.
func (s *Service) Reschedule(ctx context.Context, actor Actor, appointmentID string, req RescheduleRequest) (*models.Appointment, error) {
	if actor.Role != models.RolePatient {
		return nil, apperr.Authorization("only patients can reschedule appointments")
	}

	var appt models.Appointment
	var sent []*models.Notification
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.loadOwned(tx, appointmentID, "patient_id", actor.UserID, &appt); err != nil {
			return err
		}
		if appt.Status != models.StatusPending {
			return ErrAlreadyProcessed
		}
		previousDate, previousTime := appt.AppointmentDate, appt.AppointmentTime

		if _, err := s.lockSlot(tx, appt.DoctorID, req.Date, req.Time, appt.ID); err != nil {
			return err
		}

		key := models.SlotKey(appt.DoctorID, req.Date, req.Time)
		res := tx.Model(&models.Appointment{}).
			Where("id = ? AND status = ?", appt.ID, models.StatusPending).
			Updates(map[string]any{
				"appointment_date": req.Date,
				"appointment_time": req.Time,
				"active_slot_key":  key,
				"status":           models.StatusPending,
			})
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				return ErrSlotTaken
			}
			return apperr.Internal("reschedule appointment", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyProcessed
		}

		err := tx.Model(&models.AppointmentRequest{}).
			Where("appointment_id = ?", appt.ID).
			Updates(map[string]any{
				"status":           models.RequestPending,
				"response_message": "",
				"responded_at":     nil,
			}).Error
		if err != nil {
			return apperr.Internal("reset appointment request", err)
		}

		if err := s.reload(tx, &appt); err != nil {
			return err
		}

		message := fmt.Sprintf("%s moved their appointment from %s %s to %s %s.",
			patientName(&appt), previousDate, previousTime, appt.AppointmentDate, appt.AppointmentTime)
		if req.Reason != "" {
			message += " Reason: " + req.Reason
		}
		sent = []*models.Notification{
			notify.For(appt.DoctorID, models.RoleDoctor, models.NotificationAppointmentRescheduled,
				"Appointment rescheduled", message, appt.ID),
		}
		if err := s.sink.Create(tx, sent...); err != nil {
			return apperr.Internal("create notifications", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.sink.Dispatch(ctx, sent...)
	s.log.WithFields(logrus.Fields{
		"appointment_id": appt.ID,
		"date":           appt.AppointmentDate,
		"time":           appt.AppointmentTime,
	}).Info("appointment rescheduled")
	return &appt, nil
}

// lockSlot validates that (doctor, date, clock) can be taken inside tx. The
// doctor profile row is locked first so concurrent bookings for the same
// doctor serialise. excludeID skips an appointment that already holds the
// slot (the one being rescheduled).
func (s *Service) lockSlot(tx *gorm.DB, doctorID, date, clock, excludeID string) (*models.User, error) {
	day, err := ParseDate(date, s.loc)
	if err != nil {
		return nil, err
	}
	minutes, err := ParseClock(clock)
	if err != nil {
		return nil, err
	}
	if !At(day, minutes).After(s.now()) {
		return nil, ErrNotInFuture
	}

	doctor, err := s.bookableDoctor(tx, doctorID, true)
	if err != nil {
		return nil, err
	}

	query := tx.Model(&models.Appointment{}).
		Where("doctor_id = ? AND appointment_date = ? AND appointment_time = ? AND status IN ?",
			doctorID, date, clock, models.ActiveStatuses)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	var taken int64
	if err := query.Count(&taken).Error; err != nil {
		return nil, apperr.Internal("check slot", err)
	}
	if taken > 0 {
		return nil, ErrSlotTaken
	}

	var rule models.AvailabilityRule
	err = tx.Where("doctor_id = ? AND day_of_week = ? AND is_active = ?", doctorID, int(day.Weekday()), true).
		First(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotAvailableDay
	}
	if err != nil {
		return nil, apperr.Internal("load availability rule", err)
	}
	w, err := parseWindow(&rule)
	if err != nil {
		return nil, apperr.Internal("parse availability rule", err)
	}

	switch {
	case minutes < w.start || minutes >= w.end:
		return nil, ErrOutsideHours
	case w.inBreak(minutes):
		return nil, ErrDuringBreak
	case !w.onGrid(minutes, s.slotMinutes):
		return nil, ErrOffGrid
	}
	return doctor, nil
}

// bookableDoctor loads an active doctor with an approved, active profile.
func (s *Service) bookableDoctor(db *gorm.DB, doctorID string, lock bool) (*models.User, error) {
	var doctor models.User
	err := db.Where("id = ? AND role = ? AND is_active = ?", doctorID, models.RoleDoctor, true).First(&doctor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, apperr.Internal("load doctor", err)
	}

	q := db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var profile models.DoctorProfile
	err = q.Where("user_id = ?", doctorID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, apperr.Internal("load doctor profile", err)
	}
	if !profile.Bookable() {
		return nil, ErrDoctorNotFound
	}
	doctor.DoctorProfile = &profile
	return &doctor, nil
}

func (s *Service) loadOwned(tx *gorm.DB, id, ownerColumn, ownerID string, appt *models.Appointment) error {
	err := tx.Preload("Doctor").Preload("Patient").
		Where("id = ? AND "+ownerColumn+" = ?", id, ownerID).
		First(appt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAppointmentNotFound
	}
	if err != nil {
		return apperr.Internal("load appointment", err)
	}
	return nil
}

func (s *Service) reload(tx *gorm.DB, appt *models.Appointment) error {
	id := appt.ID
	*appt = models.Appointment{}
	err := tx.Preload("Doctor").Preload("Patient").Preload("Request").First(appt, "id = ?", id).Error
	if err != nil {
		return apperr.Internal("reload appointment", err)
	}
	return nil
}

func normalizeConsultationType(t models.ConsultationType) (models.ConsultationType, error) {
	switch t {
	case "":
		return models.ConsultationVideo, nil
	case models.ConsultationVideo, models.ConsultationAudio, models.ConsultationChat:
		return t, nil
	}
	return "", apperr.Validationf("invalid consultation type %q", t)
}

func patientName(appt *models.Appointment) string {
	if appt.Patient != nil {
		return appt.Patient.FullName()
	}
	return "The patient"
}

func doctorName(appt *models.Appointment) string {
	if appt.Doctor != nil {
		return "Dr. " + appt.Doctor.FullName()
	}
	return "Your doctor"
}
