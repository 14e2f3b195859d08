package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/taskplane/identity-service/internal/core/domain"
	"github.com/taskplane/identity-service/internal/core/port"
	"github.com/taskplane/identity-service/internal/infra/config"
	"github.com/taskplane/identity-service/internal/infra/logger"
)

const schemaVersion = "1.0"

// Event types carried on the notification bus. The email worker consumes
// verification, reset, and reminder events; audit consumers take the rest.
const (
	EventTypeVerificationRequested  = "email.verification_requested"
	EventTypePasswordResetRequested = "password.reset_requested"
	EventTypePasswordChanged        = "password.changed"
	EventTypeReminderDue            = "reminder.due"
)

// EventPublisher implements port.EventPublisher using Kafka.
type EventPublisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

// NewEventPublisher constructs a Kafka-backed event publisher.
func NewEventPublisher(producer *Producer, appCfg config.AppSettings, logger *zap.Logger) *EventPublisher {
	return &EventPublisher{producer: producer, appCfg: appCfg, logger: logger}
}

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	AccountID string           `json:"account_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

func (p *EventPublisher) publish(ctx context.Context, eventID, eventType, accountID string, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		AccountID: accountID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishVerificationEmailRequested publishes email.verification_requested events.
// The raw token travels in the payload so the email worker can build the
// verification link; only its hash exists anywhere else.
func (p *EventPublisher) PublishVerificationEmailRequested(ctx context.Context, event domain.VerificationEmailRequestedEvent) error {
	payload := struct {
		AccountID   string         `json:"account_id"`
		Name        string         `json:"name"`
		Email       string         `json:"email"`
		Token       string         `json:"token"`
		RequestedAt time.Time      `json:"requested_at"`
		ExpiresAt   time.Time      `json:"expires_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:   event.AccountID,
		Name:        event.Name,
		Email:       event.Email,
		Token:       event.Token,
		RequestedAt: event.RequestedAt.UTC(),
		ExpiresAt:   event.ExpiresAt.UTC(),
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventTypeVerificationRequested, event.AccountID, event.RequestedAt, payload)
}

// PublishPasswordResetRequested publishes password.reset_requested events.
func (p *EventPublisher) PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := struct {
		AccountID   string         `json:"account_id"`
		Name        string         `json:"name"`
		Email       string         `json:"email"`
		Token       string         `json:"token"`
		RequestedAt time.Time      `json:"requested_at"`
		ExpiresAt   time.Time      `json:"expires_at"`
		Metadata    map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:   event.AccountID,
		Name:        event.Name,
		Email:       event.Email,
		Token:       event.Token,
		RequestedAt: event.RequestedAt.UTC(),
		ExpiresAt:   event.ExpiresAt.UTC(),
		Metadata:    event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventTypePasswordResetRequested, event.AccountID, event.RequestedAt, payload)
}

// PublishPasswordChanged publishes password.changed events.
func (p *EventPublisher) PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error {
	payload := struct {
		AccountID    string         `json:"account_id"`
		ChangedAt    time.Time      `json:"changed_at"`
		ChangedBy    string         `json:"changed_by"`
		TokenVersion int64          `json:"token_version"`
		Metadata     map[string]any `json:"metadata,omitempty"`
	}{
		AccountID:    event.AccountID,
		ChangedAt:    event.ChangedAt.UTC(),
		ChangedBy:    event.ChangedBy,
		TokenVersion: event.TokenVersion,
		Metadata:     event.Metadata,
	}

	return p.publish(ctx, event.EventID, EventTypePasswordChanged, event.AccountID, event.ChangedAt, payload)
}

// PublishReminderDue publishes reminder.due events. ReminderID is the
// idempotence key consumers use to suppress duplicate sends.
func (p *EventPublisher) PublishReminderDue(ctx context.Context, event domain.ReminderDueEvent) error {
	payload := struct {
		ReminderID string         `json:"reminder_id"`
		AccountID  string         `json:"account_id"`
		Email      string         `json:"email"`
		Subject    string         `json:"subject"`
		DueAt      time.Time      `json:"due_at"`
		Metadata   map[string]any `json:"metadata,omitempty"`
	}{
		ReminderID: event.ReminderID,
		AccountID:  event.AccountID,
		Email:      event.Email,
		Subject:    event.Subject,
		DueAt:      event.DueAt.UTC(),
		Metadata:   event.Metadata,
	}

	p.logger.Debug("Queueing reminder event",
		zap.String("reminder_id", event.ReminderID),
		zap.String("email", logger.MaskEmail(event.Email)),
	)

	return p.publish(ctx, event.EventID, EventTypeReminderDue, event.AccountID, event.DueAt, payload)
}

var _ port.EventPublisher = (*EventPublisher)(nil)
