package domain

import "time"

// VerificationEmailRequestedEvent represents the payload for
// identity.email.verification_requested messages. The consumer renders and
// delivers the actual email; this service only records the request.
type VerificationEmailRequestedEvent struct {
	EventID     string
	AccountID   string
	Name        string
	Email       string
	Token       string
	RequestedAt time.Time
	ExpiresAt   time.Time
	Metadata    map[string]any
}

// PasswordResetRequestedEvent represents the payload for
// identity.password.reset_requested messages.
type PasswordResetRequestedEvent struct {
	EventID     string
	AccountID   string
	Name        string
	Email       string
	Token       string
	RequestedAt time.Time
	ExpiresAt   time.Time
	Metadata    map[string]any
}

// PasswordChangedEvent represents the payload for
// identity.password.changed messages, emitted after reset or change.
type PasswordChangedEvent struct {
	EventID      string
	AccountID    string
	ChangedAt    time.Time
	ChangedBy    string
	TokenVersion int64
	Metadata     map[string]any
}

// ReminderDueEvent represents the payload for identity.reminder.due
// messages dispatched on behalf of the scheduling collaborator. ReminderID
// doubles as the idempotence key: a consumer must suppress redelivery for
// a reminder it has already sent.
type ReminderDueEvent struct {
	EventID    string
	ReminderID string
	AccountID  string
	Email      string
	Subject    string
	DueAt      time.Time
	Metadata   map[string]any
}
