package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/models"
)

// Reminder notifies both parties of confirmed appointments due tomorrow.
type Reminder struct {
	db   *gorm.DB
	sink *Sink
	loc  *time.Location
	now  func() time.Time
	log  *logrus.Logger
}

// NewReminder creates a reminder job. loc is the clinic time zone that
// appointment dates are expressed in.
func NewReminder(db *gorm.DB, sink *Sink, loc *time.Location, log *logrus.Logger) *Reminder {
	return &Reminder{db: db, sink: sink, loc: loc, now: time.Now, log: log}
}

// Run sends reminders for tomorrow's confirmed appointments and returns how
// many notifications were created. A recipient is reminded at most once per
// appointment, so running the job twice a day is harmless.
func (r *Reminder) Run(ctx context.Context) (int, error) {
	tomorrow := r.now().In(r.loc).AddDate(0, 0, 1).Format("2006-01-02")

	var appointments []models.Appointment
	err := r.db.WithContext(ctx).
		Preload("Doctor").Preload("Patient").
		Where("appointment_date = ? AND status = ?", tomorrow, models.StatusConfirmed).
		Order("appointment_time asc").
		Find(&appointments).Error
	if err != nil {
		return 0, fmt.Errorf("load appointments for %s: %w", tomorrow, err)
	}

	sent := 0
	for _, appt := range appointments {
		var pending []*models.Notification
		for _, n := range reminderNotifications(appt) {
			var count int64
			err := r.db.WithContext(ctx).Model(&models.Notification{}).
				Where("type = ? AND appointment_id = ? AND recipient_id = ?",
					models.NotificationAppointmentReminder, appt.ID, n.RecipientID).
				Count(&count).Error
			if err != nil {
				return sent, fmt.Errorf("check reminder for %s: %w", appt.ID, err)
			}
			if count == 0 {
				pending = append(pending, n)
			}
		}
		if len(pending) == 0 {
			continue
		}
		if err := r.sink.Send(ctx, r.db, pending...); err != nil {
			r.log.WithFields(logrus.Fields{
				"appointment_id": appt.ID,
				"error":          err,
			}).Error("failed to send appointment reminder")
			continue
		}
		sent += len(pending)
	}

	r.log.WithFields(logrus.Fields{
		"date":          tomorrow,
		"appointments":  len(appointments),
		"notifications": sent,
	}).Info("appointment reminders sent")
	return sent, nil
}

func reminderNotifications(appt models.Appointment) []*models.Notification {
	doctorName, patientName := "your doctor", "your patient"
	if appt.Doctor != nil {
		doctorName = "Dr. " + appt.Doctor.FullName()
	}
	if appt.Patient != nil {
		patientName = appt.Patient.FullName()
	}
	return []*models.Notification{
		For(appt.PatientID, models.RolePatient, models.NotificationAppointmentReminder,
			"Appointment tomorrow",
			fmt.Sprintf("Reminder: your consultation with %s is on %s at %s.", doctorName, appt.AppointmentDate, appt.AppointmentTime),
			appt.ID),
		For(appt.DoctorID, models.RoleDoctor, models.NotificationAppointmentReminder,
			"Appointment tomorrow",
			fmt.Sprintf("Reminder: consultation with %s on %s at %s.", patientName, appt.AppointmentDate, appt.AppointmentTime),
			appt.ID),
	}
}

// Schedule registers the job on a new cron scheduler in the clinic time zone.
// The caller starts and stops the returned scheduler.
func (r *Reminder) Schedule(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithLocation(r.loc))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := r.Run(ctx); err != nil {
			r.log.WithField("error", err).Error("appointment reminder job failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule reminder job %q: %w", spec, err)
	}
	return c, nil
}
