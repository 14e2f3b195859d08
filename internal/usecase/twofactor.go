package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskplane/identity-service/internal/core/domain"
	"github.com/taskplane/identity-service/internal/core/port"
	"github.com/taskplane/identity-service/internal/infra/config"
	"github.com/taskplane/identity-service/internal/infra/security"
	"github.com/taskplane/identity-service/internal/repository"
)

const (
	backupCodeCount  = 10
	defaultTOTPSkew  = security.DefaultTOTPSkew
	defaultTOTPLabel = "TaskPlane"
)

var (
	// ErrTwoFactorAlreadyEnabled indicates the account already completed setup.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrTwoFactorNotEnrolled indicates ConfirmSetup was called without a pending secret.
	ErrTwoFactorNotEnrolled = errors.New("two-factor enrollment not started")
	// ErrTwoFactorNotEnabled indicates the account has no active two-factor setup.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrTwoFactorCodeInvalid covers rejected TOTP codes and backup codes alike.
	ErrTwoFactorCodeInvalid = errors.New("two-factor code invalid")
)

// EnrollmentResult carries the fresh shared secret shown to the user once.
type EnrollmentResult struct {
	Secret       string
	ProvisionURI string
}

// TwoFactorService manages the TOTP enrollment lifecycle. A pending secret
// only becomes active after the user proves they captured it; backup codes
// are minted at that point and returned raw exactly once.
type TwoFactorService struct {
	cfg      *config.AppConfig
	accounts port.AccountRepository
	auth     *AuthService
	logger   *zap.Logger
	now      func() time.Time
}

// NewTwoFactorService constructs a two-factor service.
func NewTwoFactorService(cfg *config.AppConfig, accounts port.AccountRepository, auth *AuthService, log *zap.Logger) *TwoFactorService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TwoFactorService{
		cfg:      cfg,
		accounts: accounts,
		auth:     auth,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *TwoFactorService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

func (s *TwoFactorService) issuer() string {
	if s.cfg != nil && s.cfg.TOTP.Issuer != "" {
		return s.cfg.TOTP.Issuer
	}
	return defaultTOTPLabel
}

func (s *TwoFactorService) skew() int {
	if s.cfg != nil && s.cfg.TOTP.Skew > 0 {
		return s.cfg.TOTP.Skew
	}
	return defaultTOTPSkew
}

// Enroll generates a pending secret for the account. Re-enrolling before
// confirmation replaces the pending secret; an active setup must be disabled
// first.
func (s *TwoFactorService) Enroll(ctx context.Context, accountID string) (*EnrollmentResult, error) {
	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}

	secret, err := security.GenerateTOTPSecret()
	if err != nil {
		return nil, fmt.Errorf("generate totp secret: %w", err)
	}

	account.TwoFactorPendingSecret = &secret
	if err := s.accounts.Save(ctx, *account); err != nil {
		return nil, fmt.Errorf("persist pending secret: %w", err)
	}

	s.logger.Info("two-factor enrollment started", zap.String("account_id", account.ID))

	return &EnrollmentResult{
		Secret:       secret,
		ProvisionURI: security.TOTPProvisionURI(s.issuer(), account.Email, secret),
	}, nil
}

// ConfirmSetup verifies a code against the pending secret, promotes it to
// the active slot, and mints the backup code set. The returned codes are the
// only time the raw values exist outside the user's possession.
func (s *TwoFactorService) ConfirmSetup(ctx context.Context, accountID, code string) ([]string, error) {
	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if account.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if account.TwoFactorPendingSecret == nil {
		return nil, ErrTwoFactorNotEnrolled
	}

	ok, err := security.VerifyTOTP(*account.TwoFactorPendingSecret, code, s.now(), s.skew())
	if err != nil {
		return nil, fmt.Errorf("verify totp: %w", err)
	}
	if !ok {
		return nil, ErrTwoFactorCodeInvalid
	}

	rawCodes, err := security.GenerateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}

	hashes := make([]string, 0, len(rawCodes))
	for _, raw := range rawCodes {
		hashes = append(hashes, security.HashBackupCode(raw))
	}

	account.TwoFactorSecret = account.TwoFactorPendingSecret
	account.TwoFactorPendingSecret = nil
	account.TwoFactorEnabled = true
	account.BackupCodeHashes = hashes

	if err := s.accounts.Save(ctx, *account); err != nil {
		return nil, fmt.Errorf("persist two-factor setup: %w", err)
	}

	s.logger.Info("two-factor enabled", zap.String("account_id", account.ID))
	return rawCodes, nil
}

// VerifyLogin completes a two-factor login. The pending token minted by the
// password check identifies the account; the code is checked as a TOTP
// first, then against the remaining backup codes. A consumed backup code is
// removed in the same save that establishes the session.
func (s *TwoFactorService) VerifyLogin(ctx context.Context, pendingToken, code string) (*LoginResult, error) {
	account, err := s.auth.ResolveTwoFactorPending(ctx, pendingToken)
	if err != nil {
		return nil, err
	}

	if !account.TwoFactorEnabled || account.TwoFactorSecret == nil {
		return nil, ErrTwoFactorNotEnabled
	}

	ok, err := security.VerifyTOTP(*account.TwoFactorSecret, code, s.now(), s.skew())
	if err != nil {
		return nil, fmt.Errorf("verify totp: %w", err)
	}
	if !ok {
		if !account.ConsumeBackupCodeHash(security.HashBackupCode(code)) {
			return nil, ErrTwoFactorCodeInvalid
		}
		s.logger.Info("backup code consumed",
			zap.String("account_id", account.ID),
			zap.Int("remaining", len(account.BackupCodeHashes)),
		)
	}

	// EstablishSession saves the account, persisting any consumed backup code
	// together with the new refresh session.
	return s.auth.EstablishSession(ctx, account)
}

// Disable turns two-factor off after the user re-proves both factors:
// the password and a currently valid code (TOTP or backup).
func (s *TwoFactorService) Disable(ctx context.Context, accountID, password, code string) error {
	account, err := s.getAccount(ctx, accountID)
	if err != nil {
		return err
	}

	if !account.TwoFactorEnabled || account.TwoFactorSecret == nil {
		return ErrTwoFactorNotEnabled
	}

	if !account.HasPassword() {
		return ErrExternalIdentityOnly
	}
	ok, err := security.VerifyPassword(password, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return ErrCurrentPasswordInvalid
	}

	ok, err = security.VerifyTOTP(*account.TwoFactorSecret, code, s.now(), s.skew())
	if err != nil {
		return fmt.Errorf("verify totp: %w", err)
	}
	if !ok && !account.ConsumeBackupCodeHash(security.HashBackupCode(code)) {
		return ErrTwoFactorCodeInvalid
	}

	account.ClearTwoFactor()
	if err := s.accounts.Save(ctx, *account); err != nil {
		return fmt.Errorf("persist two-factor disable: %w", err)
	}

	s.logger.Info("two-factor disabled", zap.String("account_id", account.ID))
	return nil
}

func (s *TwoFactorService) getAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	return account, nil
}
