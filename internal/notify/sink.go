// Package notify stores in-app notifications and forwards them to the
// configured publisher once they are committed.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"telehealth-portal-server/internal/models"
)

// defaultPublishTimeout bounds how long a request waits on the publisher.
const defaultPublishTimeout = 2 * time.Second

// Sink writes notification rows. Create runs inside the caller's transaction;
// Dispatch must only be called after that transaction commits.
type Sink struct {
	publisher      Publisher
	publishTimeout time.Duration
	log            *logrus.Logger
}

// NewSink creates a Sink. A nil publisher disables forwarding.
func NewSink(publisher Publisher, log *logrus.Logger) *Sink {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Sink{publisher: publisher, publishTimeout: defaultPublishTimeout, log: log}
}

// Create inserts the notifications using tx.
func (s *Sink) Create(tx *gorm.DB, notifications ...*models.Notification) error {
	for _, n := range notifications {
		if err := tx.Create(n).Error; err != nil {
			return fmt.Errorf("create notification %s: %w", n.Type, err)
		}
	}
	return nil
}

// Dispatch hands committed notifications to the publisher. Failures are logged
// and never reported to the caller: the rows are already stored. The publish
// outlives a cancelled request but not publishTimeout.
func (s *Sink) Dispatch(ctx context.Context, notifications ...*models.Notification) {
	if len(notifications) == 0 {
		return
	}
	batch := make([]models.Notification, 0, len(notifications))
	for _, n := range notifications {
		batch = append(batch, *n)
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, batch...); err != nil {
		s.log.WithFields(logrus.Fields{
			"count": len(batch),
			"error": err,
		}).Warn("failed to publish notifications")
	}
}

// Send stores notifications in their own transaction and dispatches them.
// Used by callers that have no surrounding transaction.
func (s *Sink) Send(ctx context.Context, db *gorm.DB, notifications ...*models.Notification) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.Create(tx, notifications...)
	})
	if err != nil {
		return err
	}
	s.Dispatch(ctx, notifications...)
	return nil
}

// For builds a notification for a single recipient.
func For(recipientID string, role models.Role, typ models.NotificationType, title, message string, appointmentID string) *models.Notification {
	n := &models.Notification{
		RecipientID:   recipientID,
		RecipientRole: role,
		Type:          typ,
		Title:         title,
		Message:       message,
	}
	if appointmentID != "" {
		id := appointmentID
		n.AppointmentID = &id
	}
	return n
}
