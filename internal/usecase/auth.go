package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taskplane/identity-service/internal/core/domain"
	"github.com/taskplane/identity-service/internal/core/port"
	"github.com/taskplane/identity-service/internal/infra/config"
	"github.com/taskplane/identity-service/internal/infra/logger"
	"github.com/taskplane/identity-service/internal/infra/security"
	"github.com/taskplane/identity-service/internal/repository"
)

var (
	// ErrInvalidCredentials covers unknown email and wrong password alike;
	// callers must not be able to distinguish the two.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotVerified blocks login until the verification flow completes.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrExternalIdentityOnly indicates the account has no local password.
	ErrExternalIdentityOnly = errors.New("account uses external identity only")
	// ErrInvalidOrExpiredToken covers every refresh validation failure:
	// bad signature, expiry, stored-session mismatch, or revocation.
	ErrInvalidOrExpiredToken = errors.New("invalid or expired token")
	// ErrInvalidAccessToken indicates the access token failed verification.
	ErrInvalidAccessToken = errors.New("invalid access token")
	// ErrAccountNotFound indicates the referenced account does not exist.
	ErrAccountNotFound = errors.New("account not found")
	// ErrTwoFactorPendingInvalid covers every pending-challenge failure:
	// missing, malformed, expired, wrong class, or revoked.
	ErrTwoFactorPendingInvalid = errors.New("two-factor challenge invalid or expired")
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	// A pending challenge only has to outlive the user reaching for their
	// authenticator app.
	twoFactorPendingTTL = 5 * time.Minute
)

// TokenPair bundles the two bearer tokens issued on successful authentication.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// LoginResult carries the authenticated account and its fresh token pair.
// When the account has two-factor enabled the password alone earns no
// session: Tokens is empty and TwoFactorPendingToken must be redeemed with a
// valid code before any tokens exist.
type LoginResult struct {
	Account                   domain.Account
	Tokens                    TokenPair
	TwoFactorEnabled          bool
	TwoFactorPendingToken     string
	TwoFactorPendingExpiresAt time.Time
}

// AuthService coordinates credential verification and token lifecycle.
type AuthService struct {
	cfg      *config.AppConfig
	accounts port.AccountRepository
	jwt      *security.JWTManager
	kid      string
	logger   *zap.Logger
	now      func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(cfg *config.AppConfig, accounts port.AccountRepository, jwt *security.JWTManager, kid string, log *zap.Logger) *AuthService {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthService{
		cfg:      cfg,
		accounts: accounts,
		jwt:      jwt,
		kid:      kid,
		logger:   log,
		now:      time.Now,
	}
}

// WithClock allows tests to override the clock used by the service.
func (s *AuthService) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Login verifies credentials and issues a fresh token pair, overwriting the
// stored refresh session. Unknown email and wrong password produce the same
// error after the same amount of hashing work.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = domain.NormalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if password == "" {
		return nil, fmt.Errorf("password is required")
	}

	account, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			security.DummyVerifyPassword(password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if !account.HasPassword() {
		security.DummyVerifyPassword(password)
		return nil, ErrExternalIdentityOnly
	}

	ok, err := security.VerifyPassword(password, account.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}

	if !account.IsEmailVerified {
		return nil, ErrEmailNotVerified
	}

	if account.TwoFactorEnabled {
		pending, expiresAt, err := s.issueTwoFactorPending(*account)
		if err != nil {
			return nil, err
		}

		s.logger.Info("login awaiting second factor",
			zap.String("account_id", account.ID),
			zap.String("email", logger.MaskEmail(account.Email)),
		)

		return &LoginResult{
			Account:                   account.Sanitized(),
			TwoFactorEnabled:          true,
			TwoFactorPendingToken:     pending,
			TwoFactorPendingExpiresAt: expiresAt,
		}, nil
	}

	result, err := s.EstablishSession(ctx, account)
	if err != nil {
		return nil, err
	}

	s.logger.Info("login succeeded",
		zap.String("account_id", account.ID),
		zap.String("email", logger.MaskEmail(account.Email)),
	)

	return result, nil
}

// EstablishSession issues a token pair for an already-authenticated account
// and persists the refresh session hash. Registration and external-identity
// flows share it with Login.
func (s *AuthService) EstablishSession(ctx context.Context, account *domain.Account) (*LoginResult, error) {
	if account == nil {
		return nil, fmt.Errorf("account is required")
	}

	pair, err := s.issueTokenPair(*account)
	if err != nil {
		return nil, err
	}

	account.SetRefreshSession(security.HashToken(pair.RefreshToken), pair.RefreshExpiresAt)
	if err := s.accounts.Save(ctx, *account); err != nil {
		return nil, fmt.Errorf("persist refresh session: %w", err)
	}

	return &LoginResult{
		Account:          account.Sanitized(),
		Tokens:           pair,
		TwoFactorEnabled: account.TwoFactorEnabled,
	}, nil
}

func (s *AuthService) issueTokenPair(account domain.Account) (TokenPair, error) {
	now := s.now().UTC()
	accessTTL := s.cfg.JWT.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}
	refreshTTL := s.cfg.JWT.RefreshTokenTTL
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}

	access, err := security.NewBearerClaims(security.BearerTokenOptions{
		UserID:       account.ID,
		Email:        account.Email,
		Role:         string(account.Role),
		TokenVersion: account.TokenVersion,
		Class:        security.TokenClassAccess,
		Issuer:       s.cfg.JWT.Issuer,
		TTL:          accessTTL,
		IssuedAt:     now,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("build access claims: %w", err)
	}

	refresh, err := security.NewBearerClaims(security.BearerTokenOptions{
		UserID:       account.ID,
		Email:        account.Email,
		Role:         string(account.Role),
		TokenVersion: account.TokenVersion,
		Class:        security.TokenClassRefresh,
		Issuer:       s.cfg.JWT.Issuer,
		TTL:          refreshTTL,
		IssuedAt:     now,
	})
	if err != nil {
		return TokenPair{}, fmt.Errorf("build refresh claims: %w", err)
	}

	signedAccess, err := s.jwt.Sign(s.kid, access)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	signedRefresh, err := s.jwt.Sign(s.kid, refresh)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:      signedAccess,
		RefreshToken:     signedRefresh,
		AccessExpiresAt:  now.Add(accessTTL),
		RefreshExpiresAt: now.Add(refreshTTL),
	}, nil
}

// issueTwoFactorPending signs the short-lived token proving the password
// check already passed for this account.
func (s *AuthService) issueTwoFactorPending(account domain.Account) (string, time.Time, error) {
	now := s.now().UTC()

	claims, err := security.NewBearerClaims(security.BearerTokenOptions{
		UserID:       account.ID,
		Email:        account.Email,
		Role:         string(account.Role),
		TokenVersion: account.TokenVersion,
		Class:        security.TokenClassTwoFactorPending,
		Issuer:       s.cfg.JWT.Issuer,
		TTL:          twoFactorPendingTTL,
		IssuedAt:     now,
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("build pending claims: %w", err)
	}

	signed, err := s.jwt.Sign(s.kid, claims)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign pending token: %w", err)
	}

	return signed, now.Add(twoFactorPendingTTL), nil
}

// ResolveTwoFactorPending validates a pending two-factor challenge and loads
// its account. Only the pending class is accepted, so neither an access nor
// a refresh token can stand in for the password check, and a token-version
// mismatch rejects challenges issued before a revocation.
func (s *AuthService) ResolveTwoFactorPending(ctx context.Context, pendingToken string) (*domain.Account, error) {
	pendingToken = strings.TrimSpace(pendingToken)
	if pendingToken == "" {
		return nil, ErrTwoFactorPendingInvalid
	}

	claims, err := s.jwt.Parse(pendingToken)
	if err != nil || claims.Class != security.TokenClassTwoFactorPending {
		return nil, ErrTwoFactorPendingInvalid
	}

	account, err := s.accounts.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTwoFactorPendingInvalid
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	if claims.TokenVersion != account.TokenVersion {
		return nil, ErrTwoFactorPendingInvalid
	}

	return account, nil
}

// RefreshResult carries the replacement access token issued by Refresh.
type RefreshResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	Account         domain.Account
}

// Refresh validates a refresh token against its signature, the stored
// session hash, and the current token version, then issues a new access
// token. The refresh session itself is not rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil, ErrInvalidOrExpiredToken
	}

	claims, err := s.jwt.Parse(refreshToken)
	if err != nil || claims.Class != security.TokenClassRefresh {
		return nil, ErrInvalidOrExpiredToken
	}

	account, err := s.accounts.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidOrExpiredToken
		}
		return nil, fmt.Errorf("lookup account: %w", err)
	}

	now := s.now().UTC()
	if claims.TokenVersion != account.TokenVersion {
		return nil, ErrInvalidOrExpiredToken
	}
	if !account.RefreshSessionValid(security.HashToken(refreshToken), now) {
		return nil, ErrInvalidOrExpiredToken
	}

	accessTTL := s.cfg.JWT.AccessTokenTTL
	if accessTTL <= 0 {
		accessTTL = defaultAccessTTL
	}

	access, err := security.NewBearerClaims(security.BearerTokenOptions{
		UserID:       account.ID,
		Email:        account.Email,
		Role:         string(account.Role),
		TokenVersion: account.TokenVersion,
		Class:        security.TokenClassAccess,
		Issuer:       s.cfg.JWT.Issuer,
		TTL:          accessTTL,
		IssuedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("build access claims: %w", err)
	}

	signed, err := s.jwt.Sign(s.kid, access)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	return &RefreshResult{
		AccessToken:     signed,
		AccessExpiresAt: now.Add(accessTTL),
		Account:         account.Sanitized(),
	}, nil
}

// Logout clears the stored refresh session for the token's account. It is
// idempotent and best-effort: an invalid, expired, or already-cleared token
// returns nil so repeated logouts never surface an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}

	claims, err := s.jwt.Parse(refreshToken)
	if err != nil || claims.Class != security.TokenClassRefresh {
		return nil
	}

	account, err := s.accounts.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("lookup account: %w", err)
	}

	if account.RefreshTokenHash == nil {
		return nil
	}
	// Only the session established by this token is cleared; a newer login's
	// session survives a stale logout.
	if *account.RefreshTokenHash != security.HashToken(refreshToken) {
		return nil
	}

	account.ClearRefreshSession()
	if err := s.accounts.Save(ctx, *account); err != nil {
		return fmt.Errorf("clear refresh session: %w", err)
	}

	s.logger.Info("logout completed", zap.String("account_id", account.ID))
	return nil
}

// ResolveAccessToken verifies an access token and loads its account,
// rejecting revoked token versions. The transport guard builds the request
// principal from the result.
func (s *AuthService) ResolveAccessToken(ctx context.Context, accessToken string) (*domain.Account, *security.BearerClaims, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return nil, nil, ErrInvalidAccessToken
	}

	claims, err := s.jwt.Parse(accessToken)
	if err != nil || claims.Class != security.TokenClassAccess {
		return nil, nil, ErrInvalidAccessToken
	}

	account, err := s.accounts.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil, ErrInvalidAccessToken
		}
		return nil, nil, fmt.Errorf("lookup account: %w", err)
	}

	if claims.TokenVersion != account.TokenVersion {
		return nil, nil, ErrInvalidAccessToken
	}

	return account, claims, nil
}
