package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskplane/identity-service/internal/core/domain"
	"github.com/taskplane/identity-service/internal/usecase"
)

// Envelope is the uniform response body: success, a human-readable message,
// an optional machine-readable error code, an optional data payload, and an
// optional itemized error list.
type Envelope struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Code    string       `json:"code,omitempty"`
	Data    any          `json:"data,omitempty"`
	Errors  []FieldError `json:"errors,omitempty"`
	TraceID string       `json:"trace_id,omitempty"`
}

// FieldError mirrors domain.FieldError for JSON rendering.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// OK builds a success envelope.
func OK(c *gin.Context, message string, data any) Envelope {
	return Envelope{
		Success: true,
		Message: message,
		Data:    data,
		TraceID: traceID(c),
	}
}

// Fail builds a failure envelope without field errors.
func Fail(c *gin.Context, message string) Envelope {
	return Envelope{
		Success: false,
		Message: message,
		TraceID: traceID(c),
	}
}

// FailValidation builds a failure envelope carrying the violation list.
func FailValidation(c *gin.Context, verrs domain.ValidationErrors) Envelope {
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Path: fe.Path, Message: fe.Message})
	}
	return Envelope{
		Success: false,
		Message: "validation failed",
		Errors:  fields,
		TraceID: traceID(c),
	}
}

func traceID(c *gin.Context) string {
	value, _ := c.Get("trace_id")
	id, _ := value.(string)
	return id
}

// AccountPayload is the sanitized account view returned by the API.
type AccountPayload struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	IsEmailVerified  bool      `json:"is_email_verified"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	ExternalIdentity bool      `json:"external_identity"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func newAccountPayload(account domain.Account) AccountPayload {
	return AccountPayload{
		ID:               account.ID,
		Name:             account.Name,
		Email:            account.Email,
		Role:             string(account.Role),
		IsEmailVerified:  account.IsEmailVerified,
		TwoFactorEnabled: account.TwoFactorEnabled,
		ExternalIdentity: account.HasExternalIdentity(),
		CreatedAt:        account.CreatedAt,
		UpdatedAt:        account.UpdatedAt,
	}
}

// TokenPairPayload carries the issued tokens and their expiries.
type TokenPairPayload struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}

// LoginPayload is the data section of login, register, and OAuth responses.
type LoginPayload struct {
	Account          AccountPayload   `json:"account"`
	Tokens           TokenPairPayload `json:"tokens"`
	TwoFactorEnabled bool             `json:"two_factor_enabled"`
}

func newLoginPayload(result *usecase.LoginResult) LoginPayload {
	return LoginPayload{
		Account: newAccountPayload(result.Account),
		Tokens: TokenPairPayload{
			AccessToken:      result.Tokens.AccessToken,
			RefreshToken:     result.Tokens.RefreshToken,
			TokenType:        "Bearer",
			AccessExpiresAt:  result.Tokens.AccessExpiresAt,
			RefreshExpiresAt: result.Tokens.RefreshExpiresAt,
		},
		TwoFactorEnabled: result.TwoFactorEnabled,
	}
}

// LoginRequest is the login endpoint payload.
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRequest is the registration endpoint payload.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RefreshRequest carries an explicit refresh token; the cookie is preferred.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshPayload is the data section of a refresh response.
type RefreshPayload struct {
	AccessToken     string         `json:"access_token"`
	TokenType       string         `json:"token_type"`
	AccessExpiresAt time.Time      `json:"access_expires_at"`
	Account         AccountPayload `json:"account"`
}

// VerifyEmailRequest carries the raw verification token.
type VerifyEmailRequest struct {
	Token string `json:"token" binding:"required"`
}

// ResendVerificationRequest carries the address to re-verify.
type ResendVerificationRequest struct {
	Email string `json:"email" binding:"required"`
}

// ForgotPasswordRequest starts the reset flow.
type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

// ResetPasswordRequest redeems a reset token.
type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePasswordRequest replaces the password for the authenticated account.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// TwoFactorEnrollPayload returns the pending secret shown exactly once.
type TwoFactorEnrollPayload struct {
	Secret       string `json:"secret"`
	ProvisionURI string `json:"provision_uri"`
}

// TwoFactorCodeRequest carries a TOTP or backup code.
type TwoFactorCodeRequest struct {
	Code string `json:"code" binding:"required"`
}

// TwoFactorVerifyRequest completes a two-factor login with the pending token
// from the password step and a TOTP or backup code.
type TwoFactorVerifyRequest struct {
	PendingToken string `json:"pending_token" binding:"required"`
	Code         string `json:"code" binding:"required"`
}

// TwoFactorChallengePayload is the login response when a second factor is
// still owed. No session exists until the code is verified.
type TwoFactorChallengePayload struct {
	PendingToken string    `json:"pending_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// TwoFactorDisableRequest turns two-factor off.
type TwoFactorDisableRequest struct {
	Password string `json:"password" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

// TwoFactorBackupCodesPayload returns the raw backup codes exactly once.
type TwoFactorBackupCodesPayload struct {
	BackupCodes []string `json:"backup_codes"`
}

// OAuthCallbackRequest carries the provider authorization code.
type OAuthCallbackRequest struct {
	Code string `json:"code" binding:"required"`
}

// UpdateProfileRequest patches the account profile; absent fields are untouched.
type UpdateProfileRequest struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

// HealthPayload describes the service health data section.
type HealthPayload struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadyPayload describes readiness probe results per dependency.
type ReadyPayload struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
