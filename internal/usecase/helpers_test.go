package usecase

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/taskplane/identity-service/internal/core/domain"
	"github.com/taskplane/identity-service/internal/infra/config"
	"github.com/taskplane/identity-service/internal/infra/security"
	"github.com/taskplane/identity-service/internal/repository"
)

const testKID = "test-key"

var (
	testKeyOnce sync.Once
	testKey     *rsa.PrivateKey
)

func testSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	testKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			t.Fatalf("generate rsa key: %v", err)
		}
		testKey = key
	})
	return testKey
}

func newTestConfig() *config.AppConfig {
	cfg := &config.AppConfig{}
	cfg.JWT.Issuer = "identity-test"
	cfg.JWT.AccessTokenTTL = 15 * time.Minute
	cfg.JWT.RefreshTokenTTL = 7 * 24 * time.Hour
	cfg.Tokens.VerificationTTL = 24 * time.Hour
	cfg.Tokens.PasswordResetTTL = time.Hour
	cfg.TOTP.Issuer = "TaskPlane"
	cfg.TOTP.Skew = 1
	return cfg
}

// stubAccountRepo is an in-memory account store. It keeps value copies so a
// caller mutating a returned account without calling Save changes nothing.
type stubAccountRepo struct {
	mu        sync.Mutex
	accounts  map[string]domain.Account
	saveErr   error
	createErr error
}

func newStubAccountRepo(seed ...domain.Account) *stubAccountRepo {
	repo := &stubAccountRepo{accounts: make(map[string]domain.Account)}
	for _, account := range seed {
		repo.accounts[account.ID] = account
	}
	return repo
}

func (r *stubAccountRepo) Create(_ context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	if _, ok := r.accounts[account.ID]; ok {
		return repository.ErrAlreadyExists
	}
	r.accounts[account.ID] = account
	return nil
}

func (r *stubAccountRepo) Save(_ context.Context, account domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	if _, ok := r.accounts[account.ID]; !ok {
		return repository.ErrNotFound
	}
	r.accounts[account.ID] = account
	return nil
}

func (r *stubAccountRepo) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := account
	return &copied, nil
}

func (r *stubAccountRepo) GetByEmail(_ context.Context, email string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool { return a.Email == email })
}

func (r *stubAccountRepo) GetByExternalID(_ context.Context, externalID string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool {
		return a.ExternalID != nil && *a.ExternalID == externalID
	})
}

func (r *stubAccountRepo) GetByVerificationTokenHash(_ context.Context, hash string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool {
		return a.EmailVerificationTokenHash != nil && *a.EmailVerificationTokenHash == hash
	})
}

func (r *stubAccountRepo) GetByResetTokenHash(_ context.Context, hash string) (*domain.Account, error) {
	return r.find(func(a domain.Account) bool {
		return a.ResetPasswordTokenHash != nil && *a.ResetPasswordTokenHash == hash
	})
}

func (r *stubAccountRepo) find(match func(domain.Account) bool) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if match(account) {
			copied := account
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubAccountRepo) stored(t *testing.T, id string) domain.Account {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[id]
	if !ok {
		t.Fatalf("account %s not stored", id)
	}
	return account
}

// stubPublisher records every published event for assertions.
type stubPublisher struct {
	mu           sync.Mutex
	verification []domain.VerificationEmailRequestedEvent
	resets       []domain.PasswordResetRequestedEvent
	changed      []domain.PasswordChangedEvent
	reminders    []domain.ReminderDueEvent
}

func (p *stubPublisher) PublishVerificationEmailRequested(_ context.Context, event domain.VerificationEmailRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verification = append(p.verification, event)
	return nil
}

func (p *stubPublisher) PublishPasswordResetRequested(_ context.Context, event domain.PasswordResetRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets = append(p.resets, event)
	return nil
}

func (p *stubPublisher) PublishPasswordChanged(_ context.Context, event domain.PasswordChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, event)
	return nil
}

func (p *stubPublisher) PublishReminderDue(_ context.Context, event domain.ReminderDueEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reminders = append(p.reminders, event)
	return nil
}

func newTestAuthService(t *testing.T, repo *stubAccountRepo) *AuthService {
	t.Helper()

	manager := security.NewJWTManager(&security.StaticKeyProvider{
		KID: testKID,
		Key: testSigningKey(t),
	})

	return NewAuthService(newTestConfig(), repo, manager, testKID, zaptest.NewLogger(t))
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return hash
}

func verifiedAccount(t *testing.T, id, email, password string) domain.Account {
	t.Helper()
	now := time.Now().UTC()
	return domain.Account{
		ID:              id,
		Name:            "Test Account",
		Email:           email,
		Role:            domain.RoleUser,
		PasswordHash:    mustHash(t, password),
		IsEmailVerified: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
