package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taskplane/identity-service/internal/core/domain"
	"github.com/taskplane/identity-service/internal/core/port"
	"github.com/taskplane/identity-service/internal/infra/logger"
)

// StubPublisher logs events instead of sending them to Kafka. Useful for development environments.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a development-friendly event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(eventType, accountID string, at time.Time, payload any) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	p.logger.Info("Stub event published",
		zap.String("event_type", eventType),
		zap.String("account_id", accountID),
		zap.Time("timestamp", at.UTC()),
		zap.Any("payload", payload),
	)
}

// PublishVerificationEmailRequested logs email.verification_requested events.
// The raw token is masked; the stub is for local development, not delivery.
func (p *StubPublisher) PublishVerificationEmailRequested(_ context.Context, event domain.VerificationEmailRequestedEvent) error {
	payload := map[string]any{
		"account_id":   event.AccountID,
		"name":         event.Name,
		"email":        logger.MaskEmail(event.Email),
		"token":        logger.MaskString(event.Token),
		"requested_at": event.RequestedAt,
		"expires_at":   event.ExpiresAt,
		"metadata":     event.Metadata,
	}
	p.logEvent(EventTypeVerificationRequested, event.AccountID, event.RequestedAt, payload)
	return nil
}

// PublishPasswordResetRequested logs password.reset_requested events.
func (p *StubPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	payload := map[string]any{
		"account_id":   event.AccountID,
		"name":         event.Name,
		"email":        logger.MaskEmail(event.Email),
		"token":        logger.MaskString(event.Token),
		"requested_at": event.RequestedAt,
		"expires_at":   event.ExpiresAt,
		"metadata":     event.Metadata,
	}
	p.logEvent(EventTypePasswordResetRequested, event.AccountID, event.RequestedAt, payload)
	return nil
}

// PublishPasswordChanged logs password.changed events.
func (p *StubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	payload := map[string]any{
		"account_id":    event.AccountID,
		"changed_at":    event.ChangedAt,
		"changed_by":    event.ChangedBy,
		"token_version": event.TokenVersion,
		"metadata":      event.Metadata,
	}
	p.logEvent(EventTypePasswordChanged, event.AccountID, event.ChangedAt, payload)
	return nil
}

// PublishReminderDue logs reminder.due events.
func (p *StubPublisher) PublishReminderDue(_ context.Context, event domain.ReminderDueEvent) error {
	payload := map[string]any{
		"reminder_id": event.ReminderID,
		"account_id":  event.AccountID,
		"email":       logger.MaskEmail(event.Email),
		"subject":     event.Subject,
		"due_at":      event.DueAt,
		"metadata":    event.Metadata,
	}
	p.logEvent(EventTypeReminderDue, event.AccountID, event.DueAt, payload)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
