package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	uuid "github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskplane/identity-service/internal/core/domain"
	"github.com/taskplane/identity-service/internal/core/port"
	"github.com/taskplane/identity-service/internal/infra/config"
	"github.com/taskplane/identity-service/internal/infra/logger"
	"github.com/taskplane/identity-service/internal/infra/security"
	"github.com/taskplane/identity-service/internal/repository"
)

const (
	defaultResetTTL = time.Hour
	resetTokenBytes = 32

	scopePasswordReset = "password_reset"
)

var (
	// ErrResetTokenInvalid indicates the reset token is unknown or already used.
	ErrResetTokenInvalid = errors.New("reset token invalid")
	// ErrResetTokenExpired indicates the token exists but is past its TTL.
	ErrResetTokenExpired = errors.New("reset token expired")
	// ErrCurrentPasswordInvalid indicates the re-entered password did not match.
	ErrCurrentPasswordInvalid = errors.New("current password invalid")
	// ErrSamePassword indicates the replacement equals the current password.
	ErrSamePassword = errors.New("new password must differ from the current password")
)

// PasswordService handles the forgot/reset flow and authenticated password
// changes. Every successful replacement bumps the token version and clears
// the refresh session in the same save, revoking all outstanding tokens.
type PasswordService struct {
	cfg               *config.AppConfig
	accounts          port.AccountRepository
	events            port.EventPublisher
	rateLimits        port.RateLimitStore
	passwordValidator *security.PasswordValidator
	logger            *zap.Logger
	now               func() time.Time
	resetTTL          time.Duration
}

// NewPasswordService constructs a password service.
func NewPasswordService(cfg *config.AppConfig, accounts port.AccountRepository, events port.EventPublisher, rateLimits port.RateLimitStore, validator *security.PasswordValidator, log *zap.Logger) *PasswordService {
	if validator == nil {
		validator = security.DefaultPasswordValidator()
	}
	if log == nil {
		log = zap.NewNop()
	}

	ttl := defaultResetTTL
	if cfg != nil && cfg.Tokens.PasswordResetTTL > 0 {
		ttl = cfg.Tokens.PasswordResetTTL
	}

	return &PasswordService{
		cfg:               cfg,
		accounts:          accounts,
		events:            events,
		rateLimits:        rateLimits,
		passwordValidator: validator,
		logger:            log,
		now:               time.Now,
		resetTTL:          ttl,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *PasswordService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// ForgotPassword issues a reset token and queues the notification email.
// Unknown emails return nil after the rate-limit check so responses cannot
// be used to probe which addresses are registered.
func (s *PasswordService) ForgotPassword(ctx context.Context, email, clientIP string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}

	now := s.now().UTC()
	if err := s.enforceResetRateLimit(ctx, email, clientIP, now); err != nil {
		return err
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup account: %w", err)
	}

	rawToken, err := security.GenerateSecureToken(resetTokenBytes)
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}

	expiresAt := now.Add(s.resetTTL)
	account.SetResetToken(security.HashToken(rawToken), expiresAt)

	if err := s.accounts.Save(ctx, *account); err != nil {
		return fmt.Errorf("persist reset token: %w", err)
	}

	if s.events != nil {
		event := domain.PasswordResetRequestedEvent{
			EventID:     uuid.NewString(),
			AccountID:   account.ID,
			Name:        account.Name,
			Email:       account.Email,
			Token:       rawToken,
			RequestedAt: now,
			ExpiresAt:   expiresAt,
		}
		if err := s.events.PublishPasswordResetRequested(ctx, event); err != nil {
			s.logger.Warn("publish password reset event failed",
				zap.String("account_id", account.ID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("password reset requested",
		zap.String("account_id", account.ID),
		zap.String("email", logger.MaskEmail(account.Email)),
	)

	return nil
}

func (s *PasswordService) enforceResetRateLimit(ctx context.Context, email, clientIP string, now time.Time) error {
	window := time.Minute
	maxAttempts := 0
	if s.cfg != nil {
		if s.cfg.RateLimit.WindowDuration > 0 {
			window = s.cfg.RateLimit.WindowDuration
		}
		maxAttempts = s.cfg.RateLimit.PasswordResetMaxAttempts
	}

	if err := enforceRateLimit(ctx, s.rateLimits, s.logger, scopePasswordReset, email, maxAttempts, window, now); err != nil {
		return err
	}
	if clientIP != "" {
		if err := enforceRateLimit(ctx, s.rateLimits, s.logger, scopePasswordReset, clientIP, maxAttempts, window, now); err != nil {
			return err
		}
	}
	return nil
}

// ResetPassword redeems a reset token and installs the new password. The
// single save replaces the hash, nulls the reset fields, bumps the token
// version, and drops the refresh session.
func (s *PasswordService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if rawToken == "" {
		return ErrResetTokenInvalid
	}

	account, err := s.accounts.GetByResetTokenHash(ctx, security.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("lookup reset token: %w", err)
	}

	now := s.now().UTC()
	if !account.ResetTokenValid(now) {
		return ErrResetTokenExpired
	}

	if err := s.validateReplacement(account, newPassword); err != nil {
		return err
	}

	if err := s.installPassword(ctx, account, newPassword, "reset", now); err != nil {
		return err
	}

	s.logger.Info("password reset completed", zap.String("account_id", account.ID))
	return nil
}

// ChangePassword replaces the password for an authenticated account after
// re-verifying the current one. Revocation semantics match ResetPassword.
func (s *PasswordService) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lookup account: %w", err)
	}

	if !account.HasPassword() {
		return ErrExternalIdentityOnly
	}

	ok, err := security.VerifyPassword(currentPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrCurrentPasswordInvalid
	}

	if err := s.validateReplacement(account, newPassword); err != nil {
		return err
	}

	now := s.now().UTC()
	if err := s.installPassword(ctx, account, newPassword, "change", now); err != nil {
		return err
	}

	s.logger.Info("password changed", zap.String("account_id", account.ID))
	return nil
}

func (s *PasswordService) validateReplacement(account *domain.Account, newPassword string) error {
	if newPassword == "" {
		var verrs domain.ValidationErrors
		verrs.Append("password", "password is required")
		return verrs.OrNil()
	}

	if account.HasPassword() {
		same, err := security.VerifyPassword(newPassword, account.PasswordHash)
		if err != nil {
			return fmt.Errorf("compare passwords: %w", err)
		}
		if same {
			return ErrSamePassword
		}
	}

	if err := s.passwordValidator.Validate(newPassword); err != nil {
		var verrs domain.ValidationErrors
		verrs.Append("password", err.Error())
		return verrs.OrNil()
	}
	return nil
}

// installPassword writes the new hash and revokes every outstanding
// credential in one save.
func (s *PasswordService) installPassword(ctx context.Context, account *domain.Account, newPassword, changedBy string, now time.Time) error {
	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	account.PasswordHash = hash
	account.ClearResetToken()
	account.BumpTokenVersion()
	account.ClearRefreshSession()

	if err := s.accounts.Save(ctx, *account); err != nil {
		return fmt.Errorf("persist password: %w", err)
	}

	if s.events != nil {
		event := domain.PasswordChangedEvent{
			EventID:      uuid.NewString(),
			AccountID:    account.ID,
			ChangedAt:    now,
			ChangedBy:    changedBy,
			TokenVersion: account.TokenVersion,
		}
		if err := s.events.PublishPasswordChanged(ctx, event); err != nil {
			s.logger.Warn("publish password changed event failed",
				zap.String("account_id", account.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}
