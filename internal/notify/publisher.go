package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"telehealth-portal-server/internal/models"
)

// Publisher forwards committed notifications to an external channel.
type Publisher interface {
	Publish(ctx context.Context, notifications ...models.Notification) error
	Close() error
}

// NopPublisher drops everything. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...models.Notification) error { return nil }
func (NopPublisher) Close() error                                          { return nil }

// Event is the Kafka payload for one notification.
type Event struct {
	NotificationID string                  `json:"notificationId"`
	RecipientID    string                  `json:"recipientId"`
	RecipientRole  models.Role             `json:"recipientRole"`
	Type           models.NotificationType `json:"type"`
	Title          string                  `json:"title"`
	Message        string                  `json:"message"`
	AppointmentID  string                  `json:"appointmentId,omitempty"`
	CreatedAt      time.Time               `json:"createdAt"`
}

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes notification events to a topic, keyed by recipient so
// one recipient's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    *logrus.Logger
}

// NewKafkaPublisher creates a publisher for the given brokers and topic. The
// writer is async: Publish only enqueues, and delivery failures are logged
// from the completion callback.
func NewKafkaPublisher(brokers []string, topic string, log *logrus.Logger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion:   deliveryLogger(topic, log),
	}
	return &KafkaPublisher{writer: writer, topic: topic, log: log}
}

func deliveryLogger(topic string, log *logrus.Logger) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		log.WithFields(logrus.Fields{
			"topic": topic,
			"count": len(msgs),
			"error": err,
		}).Warn("failed to deliver notification events")
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, notifications ...models.Notification) error {
	if len(notifications) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(notifications))
	for _, n := range notifications {
		ev := Event{
			NotificationID: n.ID,
			RecipientID:    n.RecipientID,
			RecipientRole:  n.RecipientRole,
			Type:           n.Type,
			Title:          n.Title,
			Message:        n.Message,
			CreatedAt:      n.CreatedAt,
		}
		if n.AppointmentID != nil {
			ev.AppointmentID = *n.AppointmentID
		}
		value, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal notification event: %w", err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(n.RecipientID),
			Value: value,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte(n.Type)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to produce notification events: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"topic": p.topic,
		"count": len(msgs),
	}).Debug("notification events delivered")
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
