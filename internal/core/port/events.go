package port

import (
	"context"

	"github.com/taskplane/identity-service/internal/core/domain"
)

// EventPublisher publishes notification events to the message bus.
// Publishing is fire-and-forget from the caller's perspective: failures are
// logged by implementations and never fail the triggering request.
type EventPublisher interface {
	PublishVerificationEmailRequested(ctx context.Context, event domain.VerificationEmailRequestedEvent) error
	PublishPasswordResetRequested(ctx context.Context, event domain.PasswordResetRequestedEvent) error
	PublishPasswordChanged(ctx context.Context, event domain.PasswordChangedEvent) error
	PublishReminderDue(ctx context.Context, event domain.ReminderDueEvent) error
}
