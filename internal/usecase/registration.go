package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
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
	defaultVerificationTTL = 24 * time.Hour
	verificationTokenBytes = 32
	maxAccountNameLength   = 100
)

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

var (
	// ErrDuplicateAccount indicates the email is already registered.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrPasswordPolicyViolation indicates the password does not satisfy complexity requirements.
	ErrPasswordPolicyViolation = errors.New("password does not meet complexity requirements")
	// ErrVerificationTokenInvalid indicates the provided verification token is unknown or already used.
	ErrVerificationTokenInvalid = errors.New("verification token invalid")
	// ErrVerificationTokenExpired indicates the token exists but is expired.
	ErrVerificationTokenExpired = errors.New("verification token expired")
	// ErrAlreadyVerified indicates the email was verified earlier.
	ErrAlreadyVerified = errors.New("email already verified")
)

// RegistrationService handles new account onboarding and email verification.
type RegistrationService struct {
	cfg               *config.AppConfig
	accounts          port.AccountRepository
	auth              *AuthService
	events            port.EventPublisher
	passwordValidator *security.PasswordValidator
	logger            *zap.Logger
	now               func() time.Time
	verificationTTL   time.Duration
}

// NewRegistrationService constructs a registration service.
func NewRegistrationService(cfg *config.AppConfig, accounts port.AccountRepository, auth *AuthService, events port.EventPublisher, validator *security.PasswordValidator, log *zap.Logger) *RegistrationService {
	if validator == nil {
		validator = security.DefaultPasswordValidator()
	}
	if log == nil {
		log = zap.NewNop()
	}

	ttl := defaultVerificationTTL
	if cfg != nil && cfg.Tokens.VerificationTTL > 0 {
		ttl = cfg.Tokens.VerificationTTL
	}

	return &RegistrationService{
		cfg:               cfg,
		accounts:          accounts,
		auth:              auth,
		events:            events,
		passwordValidator: validator,
		logger:            log,
		now:               time.Now,
		verificationTTL:   ttl,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *RegistrationService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// WithTTL allows tests to override the verification token TTL.
func (s *RegistrationService) WithTTL(ttl time.Duration) {
	if ttl > 0 {
		s.verificationTTL = ttl
	}
}

// RegisterInput carries the registration request fields.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

func (s *RegistrationService) validateRegisterInput(input RegisterInput) (RegisterInput, error) {
	var verrs domain.ValidationErrors

	input.Name = strings.TrimSpace(input.Name)
	if input.Name == "" {
		verrs.Append("name", "name is required")
	} else if len([]rune(input.Name)) > maxAccountNameLength {
		verrs.Append("name", fmt.Sprintf("name must be at most %d characters", maxAccountNameLength))
	}

	input.Email = domain.NormalizeEmail(input.Email)
	if input.Email == "" {
		verrs.Append("email", "email is required")
	} else if !emailPattern.MatchString(input.Email) {
		verrs.Append("email", "email is not valid")
	}

	if input.Password == "" {
		verrs.Append("password", "password is required")
	}

	if err := verrs.OrNil(); err != nil {
		return input, err
	}
	return input, nil
}

// Register creates a pending account, queues a verification email, and
// issues an initial token pair. Duplicate email detection happens before
// any hashing work.
func (s *RegistrationService) Register(ctx context.Context, input RegisterInput) (*LoginResult, error) {
	input, err := s.validateRegisterInput(input)
	if err != nil {
		return nil, err
	}

	if _, err := s.accounts.GetByEmail(ctx, input.Email); err == nil {
		return nil, ErrDuplicateAccount
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if err := s.passwordValidator.Validate(input.Password); err != nil {
		var verr domain.ValidationErrors
		verr.Append("password", err.Error())
		return nil, verr.OrNil()
	}

	passwordHash, err := security.HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	account := domain.Account{
		ID:           uuid.NewString(),
		Name:         input.Name,
		Email:        input.Email,
		Role:         domain.RoleUser,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	rawToken, err := security.GenerateSecureToken(verificationTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate verification token: %w", err)
	}
	expiresAt := now.Add(s.verificationTTL)
	account.SetVerificationToken(security.HashToken(rawToken), expiresAt)

	if err := s.accounts.Create(ctx, account); err != nil {
		// A concurrent registration can win between the duplicate check and
		// the insert; the unique index reports it here.
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrDuplicateAccount
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.publishVerificationEvent(ctx, account, rawToken, now, expiresAt)

	result, err := s.auth.EstablishSession(ctx, &account)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account registered",
		zap.String("account_id", account.ID),
		zap.String("email", logger.MaskEmail(account.Email)),
	)

	return result, nil
}

// VerifyEmail redeems a verification token: marks the account verified and
// nulls the token fields in one save.
func (s *RegistrationService) VerifyEmail(ctx context.Context, rawToken string) (*domain.Account, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrVerificationTokenInvalid
	}

	account, err := s.accounts.GetByVerificationTokenHash(ctx, security.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrVerificationTokenInvalid
		}
		return nil, fmt.Errorf("lookup verification token: %w", err)
	}

	now := s.now().UTC()
	if !account.VerificationTokenValid(now) {
		return nil, ErrVerificationTokenExpired
	}

	account.IsEmailVerified = true
	account.ClearVerificationToken()

	if err := s.accounts.Save(ctx, *account); err != nil {
		return nil, fmt.Errorf("persist verification: %w", err)
	}

	sanitized := account.Sanitized()
	return &sanitized, nil
}

// ResendVerification replaces the stored verification token and queues a
// fresh email. Unknown emails succeed silently to avoid enumeration.
func (s *RegistrationService) ResendVerification(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup account: %w", err)
	}

	if account.IsEmailVerified {
		return ErrAlreadyVerified
	}

	rawToken, err := security.GenerateSecureToken(verificationTokenBytes)
	if err != nil {
		return fmt.Errorf("generate verification token: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.verificationTTL)
	account.SetVerificationToken(security.HashToken(rawToken), expiresAt)

	if err := s.accounts.Save(ctx, *account); err != nil {
		return fmt.Errorf("persist verification token: %w", err)
	}

	s.publishVerificationEvent(ctx, *account, rawToken, now, expiresAt)
	return nil
}

func (s *RegistrationService) publishVerificationEvent(ctx context.Context, account domain.Account, rawToken string, requestedAt, expiresAt time.Time) {
	if s.events == nil {
		return
	}

	event := domain.VerificationEmailRequestedEvent{
		EventID:     uuid.NewString(),
		AccountID:   account.ID,
		Name:        account.Name,
		Email:       account.Email,
		Token:       rawToken,
		RequestedAt: requestedAt,
		ExpiresAt:   expiresAt,
	}

	if err := s.events.PublishVerificationEmailRequested(ctx, event); err != nil {
		s.logger.Warn("publish verification email event failed",
			zap.String("account_id", account.ID),
			zap.Error(err),
		)
	}
}
