package usecase

import (
	"context"
	"errors"
	"fmt"
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

// ErrForbidden indicates the principal may not act on the target account.
var ErrForbidden = errors.New("forbidden")

// ProfilePatch carries optional profile updates; nil fields are untouched.
type ProfilePatch struct {
	Name  *string
	Email *string
}

// AccountService exposes profile reads and updates guarded by the ownership
// predicate: admins reach any account, everyone else only their own.
type AccountService struct {
	cfg             *config.AppConfig
	accounts        port.AccountRepository
	events          port.EventPublisher
	logger          *zap.Logger
	now             func() time.Time
	verificationTTL time.Duration
}

// NewAccountService constructs an account service.
func NewAccountService(cfg *config.AppConfig, accounts port.AccountRepository, events port.EventPublisher, log *zap.Logger) *AccountService {
	if log == nil {
		log = zap.NewNop()
	}

	ttl := defaultVerificationTTL
	if cfg != nil && cfg.Tokens.VerificationTTL > 0 {
		ttl = cfg.Tokens.VerificationTTL
	}

	return &AccountService{
		cfg:             cfg,
		accounts:        accounts,
		events:          events,
		logger:          log,
		now:             time.Now,
		verificationTTL: ttl,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *AccountService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Get returns the sanitized account when the principal owns it or is admin.
func (s *AccountService) Get(ctx context.Context, principal domain.Principal, accountID string) (*domain.Account, error) {
	if !principal.CanAccess(accountID) {
		return nil, ErrForbidden
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	sanitized := account.Sanitized()
	return &sanitized, nil
}

// UpdateProfile applies a partial profile update. Changing the email marks
// the account unverified and queues a fresh verification token for the new
// address; outstanding tokens keep working until that flow completes.
func (s *AccountService) UpdateProfile(ctx context.Context, principal domain.Principal, accountID string, patch ProfilePatch) (*domain.Account, error) {
	if !principal.CanAccess(accountID) {
		return nil, ErrForbidden
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	var verrs domain.ValidationErrors

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		switch {
		case name == "":
			verrs.Append("name", "name is required")
		case len([]rune(name)) > maxAccountNameLength:
			verrs.Append("name", fmt.Sprintf("name must be at most %d characters", maxAccountNameLength))
		default:
			account.Name = name
		}
	}

	emailChanged := false
	var rawToken string
	if patch.Email != nil {
		email := domain.NormalizeEmail(*patch.Email)
		switch {
		case email == "":
			verrs.Append("email", "email is required")
		case !emailPattern.MatchString(email):
			verrs.Append("email", "email is not valid")
		case email != account.Email:
			if _, err := s.accounts.GetByEmail(ctx, email); err == nil {
				return nil, ErrDuplicateAccount
			} else if !errors.Is(err, repository.ErrNotFound) {
				return nil, fmt.Errorf("lookup account: %w", err)
			}

			rawToken, err = security.GenerateSecureToken(verificationTokenBytes)
			if err != nil {
				return nil, fmt.Errorf("generate verification token: %w", err)
			}

			account.Email = email
			account.IsEmailVerified = false
			account.SetVerificationToken(security.HashToken(rawToken), s.now().UTC().Add(s.verificationTTL))
			emailChanged = true
		}
	}

	if err := verrs.OrNil(); err != nil {
		return nil, err
	}

	if err := s.accounts.Save(ctx, *account); err != nil {
		return nil, fmt.Errorf("persist profile: %w", err)
	}

	if emailChanged && s.events != nil {
		now := s.now().UTC()
		event := domain.VerificationEmailRequestedEvent{
			EventID:     uuid.NewString(),
			AccountID:   account.ID,
			Name:        account.Name,
			Email:       account.Email,
			Token:       rawToken,
			RequestedAt: now,
			ExpiresAt:   now.Add(s.verificationTTL),
		}
		if err := s.events.PublishVerificationEmailRequested(ctx, event); err != nil {
			s.logger.Warn("publish verification email event failed",
				zap.String("account_id", account.ID),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("profile updated",
		zap.String("account_id", account.ID),
		zap.String("email", logger.MaskEmail(account.Email)),
		zap.Bool("email_changed", emailChanged),
	)

	sanitized := account.Sanitized()
	return &sanitized, nil
}
