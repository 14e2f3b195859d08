package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/taskplane/identity-service/internal/infra/security"
)

func newTestPasswordService(t *testing.T, repo *stubAccountRepo) (*PasswordService, *stubPublisher) {
	t.Helper()
	events := &stubPublisher{}
	svc := NewPasswordService(newTestConfig(), repo, events, nil, nil, zaptest.NewLogger(t))
	return svc, events
}

func TestForgotPasswordStoresTokenAndPublishes(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc, events := newTestPasswordService(t, repo)

	if err := svc.ForgotPassword(context.Background(), "User@example.com", "1.2.3.4"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}

	stored := repo.stored(t, "acct-1")
	if stored.ResetPasswordTokenHash == nil || stored.ResetPasswordExpiresAt == nil {
		t.Fatal("reset token not stored")
	}
	if len(events.resets) != 1 {
		t.Fatalf("expected 1 reset event, got %d", len(events.resets))
	}
	if security.HashToken(events.resets[0].Token) != *stored.ResetPasswordTokenHash {
		t.Error("event token does not match the stored hash")
	}
}

func TestForgotPasswordUnknownEmailSilentSuccess(t *testing.T) {
	repo := newStubAccountRepo()
	svc, events := newTestPasswordService(t, repo)

	if err := svc.ForgotPassword(context.Background(), "nobody@example.com", ""); err != nil {
		t.Fatalf("expected silent success, got %v", err)
	}
	if len(events.resets) != 0 {
		t.Errorf("no event expected for unknown email, got %d", len(events.resets))
	}
}

// memoryRateLimitStore is a minimal in-memory sliding window for tests.
type memoryRateLimitStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

func newMemoryRateLimitStore() *memoryRateLimitStore {
	return &memoryRateLimitStore{attempts: make(map[string][]time.Time)}
}

func (m *memoryRateLimitStore) TrimWindow(_ context.Context, identifier string, window time.Duration, reference time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.attempts[identifier][:0]
	for _, at := range m.attempts[identifier] {
		if at.After(reference.Add(-window)) {
			kept = append(kept, at)
		}
	}
	m.attempts[identifier] = kept
	return nil
}

func (m *memoryRateLimitStore) CountAttempts(_ context.Context, identifier string, window time.Duration, reference time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, at := range m.attempts[identifier] {
		if at.After(reference.Add(-window)) && !at.After(reference) {
			count++
		}
	}
	return count, nil
}

func (m *memoryRateLimitStore) RecordAttempt(_ context.Context, identifier string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts[identifier] = append(m.attempts[identifier], at)
	return nil
}

func (m *memoryRateLimitStore) OldestAttempt(_ context.Context, identifier string, window time.Duration, reference time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var oldest time.Time
	found := false
	for _, at := range m.attempts[identifier] {
		if at.After(reference.Add(-window)) && !at.After(reference) {
			if !found || at.Before(oldest) {
				oldest = at
				found = true
			}
		}
	}
	return oldest, found, nil
}

func TestForgotPasswordRateLimited(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	events := &stubPublisher{}
	cfg := newTestConfig()
	cfg.RateLimit.WindowDuration = time.Minute
	cfg.RateLimit.PasswordResetMaxAttempts = 2
	svc := NewPasswordService(cfg, repo, events, newMemoryRateLimitStore(), nil, zaptest.NewLogger(t))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := svc.ForgotPassword(ctx, "user@example.com", ""); err != nil {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	err := svc.ForgotPassword(ctx, "user@example.com", "")
	var limited *RateLimitExceededError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitExceededError, got %v", err)
	}
	if limited.RetryAfter <= 0 {
		t.Errorf("expected positive RetryAfter, got %v", limited.RetryAfter)
	}
}

func TestResetPasswordReplacesHashAndRevokes(t *testing.T) {
	account := verifiedAccount(t, "acct-1", "user@example.com", "secret1")
	hash := "stale-session-hash"
	expiry := time.Now().Add(time.Hour)
	account.RefreshTokenHash = &hash
	account.RefreshTokenExpiresAt = &expiry
	repo := newStubAccountRepo(account)
	svc, events := newTestPasswordService(t, repo)
	ctx := context.Background()

	if err := svc.ForgotPassword(ctx, "user@example.com", ""); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	rawToken := events.resets[0].Token

	if err := svc.ResetPassword(ctx, rawToken, "newsecret2"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	stored := repo.stored(t, "acct-1")
	if ok, _ := security.VerifyPassword("newsecret2", stored.PasswordHash); !ok {
		t.Error("new password does not verify")
	}
	if stored.ResetPasswordTokenHash != nil || stored.ResetPasswordExpiresAt != nil {
		t.Error("reset token fields must be nulled")
	}
	if stored.TokenVersion != 1 {
		t.Errorf("token version must be bumped, got %d", stored.TokenVersion)
	}
	if stored.RefreshTokenHash != nil {
		t.Error("refresh session must be cleared")
	}

	if len(events.changed) != 1 {
		t.Fatalf("expected 1 password changed event, got %d", len(events.changed))
	}
	if events.changed[0].TokenVersion != 1 {
		t.Errorf("event token version mismatch: %d", events.changed[0].TokenVersion)
	}

	// A consumed token cannot be redeemed again.
	if err := svc.ResetPassword(ctx, rawToken, "another3x"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid on reuse, got %v", err)
	}
}

func TestResetPasswordExpiredToken(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc, events := newTestPasswordService(t, repo)
	ctx := context.Background()

	if err := svc.ForgotPassword(ctx, "user@example.com", ""); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}

	svc.WithClock(func() time.Time { return time.Now().Add(2 * time.Hour) })

	if err := svc.ResetPassword(ctx, events.resets[0].Token, "newsecret2"); !errors.Is(err, ErrResetTokenExpired) {
		t.Fatalf("expected ErrResetTokenExpired, got %v", err)
	}
}

func TestResetPasswordRejectsSamePassword(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc, events := newTestPasswordService(t, repo)
	ctx := context.Background()

	if err := svc.ForgotPassword(ctx, "user@example.com", ""); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}

	if err := svc.ResetPassword(ctx, events.resets[0].Token, "secret1"); !errors.Is(err, ErrSamePassword) {
		t.Fatalf("expected ErrSamePassword, got %v", err)
	}
}

func TestChangePassword(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc, events := newTestPasswordService(t, repo)
	ctx := context.Background()

	if err := svc.ChangePassword(ctx, "acct-1", "wrong", "newsecret2"); !errors.Is(err, ErrCurrentPasswordInvalid) {
		t.Fatalf("expected ErrCurrentPasswordInvalid, got %v", err)
	}
	if err := svc.ChangePassword(ctx, "acct-1", "secret1", "secret1"); !errors.Is(err, ErrSamePassword) {
		t.Fatalf("expected ErrSamePassword, got %v", err)
	}

	if err := svc.ChangePassword(ctx, "acct-1", "secret1", "newsecret2"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	stored := repo.stored(t, "acct-1")
	if ok, _ := security.VerifyPassword("newsecret2", stored.PasswordHash); !ok {
		t.Error("new password does not verify")
	}
	if stored.TokenVersion != 1 {
		t.Errorf("token version must be bumped, got %d", stored.TokenVersion)
	}
	if len(events.changed) != 1 {
		t.Errorf("expected 1 password changed event, got %d", len(events.changed))
	}
	if events.changed[0].ChangedBy != "change" {
		t.Errorf("unexpected ChangedBy: %q", events.changed[0].ChangedBy)
	}

	if err := svc.ChangePassword(ctx, "missing", "secret1", "newsecret2"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestChangePasswordExternalIdentityOnly(t *testing.T) {
	account := verifiedAccount(t, "acct-1", "user@example.com", "secret1")
	account.PasswordHash = ""
	repo := newStubAccountRepo(account)
	svc, _ := newTestPasswordService(t, repo)

	if err := svc.ChangePassword(context.Background(), "acct-1", "anything", "newsecret2"); !errors.Is(err, ErrExternalIdentityOnly) {
		t.Fatalf("expected ErrExternalIdentityOnly, got %v", err)
	}
}
