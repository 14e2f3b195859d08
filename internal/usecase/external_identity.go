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
	"github.com/taskplane/identity-service/internal/repository"
)

// ErrExternalIdentityIncomplete indicates the provider assertion lacks the
// email needed to create or match an account.
var ErrExternalIdentityIncomplete = errors.New("external identity missing email")

// ExternalIdentityService signs users in through a third-party provider.
// Matching is by external id first, then by verified email; a brand-new
// identity gets a pre-verified passwordless account.
type ExternalIdentityService struct {
	cfg      *config.AppConfig
	accounts port.AccountRepository
	auth     *AuthService
	verifier port.IdentityVerifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewExternalIdentityService constructs an external identity service.
func NewExternalIdentityService(cfg *config.AppConfig, accounts port.AccountRepository, auth *AuthService, verifier port.IdentityVerifier, log *zap.Logger) *ExternalIdentityService {
	if log == nil {
		log = zap.NewNop()
	}
	return &ExternalIdentityService{
		cfg:      cfg,
		accounts: accounts,
		auth:     auth,
		verifier: verifier,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *ExternalIdentityService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Link exchanges the authorization code, resolves or creates the matching
// account, and issues a fresh token pair. Provider rejection aborts before
// any state changes.
func (s *ExternalIdentityService) Link(ctx context.Context, code string) (*LoginResult, error) {
	identity, err := s.verifier.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}

	account, err := s.accounts.GetByExternalID(ctx, identity.ExternalID)
	switch {
	case err == nil:
		return s.establish(ctx, account, "existing")
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("lookup external identity: %w", err)
	}

	email := domain.NormalizeEmail(identity.Email)
	if email == "" {
		return nil, ErrExternalIdentityIncomplete
	}

	account, err = s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		// Attaching a verified provider identity confirms ownership of the
		// address, so a pending verification completes here too.
		externalID := identity.ExternalID
		account.ExternalID = &externalID
		account.IsEmailVerified = true
		account.ClearVerificationToken()
		return s.establish(ctx, account, "linked")
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	now := s.now().UTC()
	externalID := identity.ExternalID
	created := domain.Account{
		ID:              uuid.NewString(),
		Name:            s.displayName(identity, email),
		Email:           email,
		Role:            domain.RoleUser,
		ExternalID:      &externalID,
		IsEmailVerified: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.accounts.Create(ctx, created); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	return s.establish(ctx, &created, "created")
}

func (s *ExternalIdentityService) establish(ctx context.Context, account *domain.Account, outcome string) (*LoginResult, error) {
	result, err := s.auth.EstablishSession(ctx, account)
	if err != nil {
		return nil, err
	}

	s.logger.Info("external identity sign-in",
		zap.String("account_id", account.ID),
		zap.String("email", logger.MaskEmail(account.Email)),
		zap.String("outcome", outcome),
	)

	return result, nil
}

func (s *ExternalIdentityService) displayName(identity *domain.ExternalIdentity, email string) string {
	if name := strings.TrimSpace(identity.DisplayName); name != "" {
		return name
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}
