package domain

import (
	"strings"
	"time"
)

// Role enumerates the access levels an account can hold.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// NormalizeEmail lower-cases and trims an email address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Account mirrors the persisted representation in the accounts table.
// Verification, reset, refresh, and backup-code secrets are stored as
// SHA-256 hashes; raw values are handed to the caller exactly once.
type Account struct {
	ID    string
	Name  string
	Email string
	Role  Role

	// PasswordHash is empty for identity-only accounts.
	PasswordHash string
	// ExternalID is the linked third-party identity; at most one account
	// per external id.
	ExternalID *string

	IsEmailVerified            bool
	EmailVerificationTokenHash *string
	EmailVerificationExpiresAt *time.Time

	ResetPasswordTokenHash *string
	ResetPasswordExpiresAt *time.Time

	// TokenVersion is the monotonic revocation counter stamped into every
	// issued token. Incrementing it invalidates all outstanding tokens.
	TokenVersion int64

	// A single live refresh session per account: last writer wins.
	RefreshTokenHash      *string
	RefreshTokenExpiresAt *time.Time

	TwoFactorEnabled       bool
	TwoFactorSecret        *string
	TwoFactorPendingSecret *string
	BackupCodeHashes       []string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPassword reports whether the account carries a local credential.
func (a Account) HasPassword() bool {
	return a.PasswordHash != ""
}

// HasExternalIdentity reports whether the account is linked to a third-party identity.
func (a Account) HasExternalIdentity() bool {
	return a.ExternalID != nil && *a.ExternalID != ""
}

// VerificationTokenValid reports whether the stored verification token can
// still be redeemed at the given instant.
func (a Account) VerificationTokenValid(at time.Time) bool {
	if a.EmailVerificationTokenHash == nil || a.EmailVerificationExpiresAt == nil {
		return false
	}
	return a.EmailVerificationExpiresAt.After(at)
}

// ResetTokenValid reports whether the stored reset token can still be
// redeemed at the given instant.
func (a Account) ResetTokenValid(at time.Time) bool {
	if a.ResetPasswordTokenHash == nil || a.ResetPasswordExpiresAt == nil {
		return false
	}
	return a.ResetPasswordExpiresAt.After(at)
}

// RefreshSessionValid reports whether the presented refresh token hash
// matches the stored session and the session has not expired.
func (a Account) RefreshSessionValid(tokenHash string, at time.Time) bool {
	if a.RefreshTokenHash == nil || a.RefreshTokenExpiresAt == nil {
		return false
	}
	return *a.RefreshTokenHash == tokenHash && a.RefreshTokenExpiresAt.After(at)
}

// SetRefreshSession overwrites the single live refresh session.
func (a *Account) SetRefreshSession(tokenHash string, expiresAt time.Time) {
	a.RefreshTokenHash = &tokenHash
	expiry := expiresAt
	a.RefreshTokenExpiresAt = &expiry
}

// ClearRefreshSession drops the stored refresh session, forcing re-login.
func (a *Account) ClearRefreshSession() {
	a.RefreshTokenHash = nil
	a.RefreshTokenExpiresAt = nil
}

// SetVerificationToken stores a new verification token hash, superseding any prior one.
func (a *Account) SetVerificationToken(tokenHash string, expiresAt time.Time) {
	a.EmailVerificationTokenHash = &tokenHash
	expiry := expiresAt
	a.EmailVerificationExpiresAt = &expiry
}

// ClearVerificationToken nulls the verification token fields after consumption.
func (a *Account) ClearVerificationToken() {
	a.EmailVerificationTokenHash = nil
	a.EmailVerificationExpiresAt = nil
}

// SetResetToken stores a new reset token hash, superseding any prior one.
func (a *Account) SetResetToken(tokenHash string, expiresAt time.Time) {
	a.ResetPasswordTokenHash = &tokenHash
	expiry := expiresAt
	a.ResetPasswordExpiresAt = &expiry
}

// ClearResetToken nulls the reset token fields after consumption.
func (a *Account) ClearResetToken() {
	a.ResetPasswordTokenHash = nil
	a.ResetPasswordExpiresAt = nil
}

// BumpTokenVersion advances the revocation counter. Every credential-
// invalidating event must call this before Save.
func (a *Account) BumpTokenVersion() {
	a.TokenVersion++
}

// ConsumeBackupCodeHash removes the matching backup code hash from the set.
// Returns true when a code was consumed; a consumed code can never match again.
func (a *Account) ConsumeBackupCodeHash(hash string) bool {
	for i, stored := range a.BackupCodeHashes {
		if stored == hash {
			a.BackupCodeHashes = append(a.BackupCodeHashes[:i], a.BackupCodeHashes[i+1:]...)
			return true
		}
	}
	return false
}

// ClearTwoFactor drops the shared secret, pending secret, flag, and backup codes.
func (a *Account) ClearTwoFactor() {
	a.TwoFactorEnabled = false
	a.TwoFactorSecret = nil
	a.TwoFactorPendingSecret = nil
	a.BackupCodeHashes = nil
}

// Sanitized returns a copy with every secret-bearing field stripped,
// suitable for API responses and logs.
func (a Account) Sanitized() Account {
	clean := a
	clean.PasswordHash = ""
	clean.EmailVerificationTokenHash = nil
	clean.ResetPasswordTokenHash = nil
	clean.RefreshTokenHash = nil
	clean.TwoFactorSecret = nil
	clean.TwoFactorPendingSecret = nil
	clean.BackupCodeHashes = nil
	return clean
}

// ExternalIdentity is a verified third-party account assertion.
type ExternalIdentity struct {
	ExternalID  string
	Email       string
	DisplayName string
}
