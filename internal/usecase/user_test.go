package usecase

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/taskplane/identity-service/internal/core/domain"
)

func newTestAccountService(t *testing.T, repo *stubAccountRepo) (*AccountService, *stubPublisher) {
	t.Helper()
	events := &stubPublisher{}
	svc := NewAccountService(newTestConfig(), repo, events, zaptest.NewLogger(t))
	return svc, events
}

func strPtr(s string) *string { return &s }

func TestGetEnforcesOwnership(t *testing.T) {
	repo := newStubAccountRepo(
		verifiedAccount(t, "acct-1", "user@example.com", "secret1"),
		verifiedAccount(t, "acct-2", "other@example.com", "secret1"),
	)
	svc, _ := newTestAccountService(t, repo)
	ctx := context.Background()

	owner := domain.Principal{ID: "acct-1", Email: "user@example.com", Role: domain.RoleUser}
	admin := domain.Principal{ID: "acct-9", Email: "admin@example.com", Role: domain.RoleAdmin}

	account, err := svc.Get(ctx, owner, "acct-1")
	if err != nil {
		t.Fatalf("owner Get: %v", err)
	}
	if account.PasswordHash != "" {
		t.Error("returned account must be sanitized")
	}

	if _, err := svc.Get(ctx, owner, "acct-2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	if _, err := svc.Get(ctx, admin, "acct-2"); err != nil {
		t.Fatalf("admin Get: %v", err)
	}

	if _, err := svc.Get(ctx, admin, "missing"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestUpdateProfileName(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc, events := newTestAccountService(t, repo)
	owner := domain.Principal{ID: "acct-1", Role: domain.RoleUser}

	account, err := svc.UpdateProfile(context.Background(), owner, "acct-1", ProfilePatch{Name: strPtr("  New Name  ")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if account.Name != "New Name" {
		t.Errorf("name not trimmed and applied: %q", account.Name)
	}
	if len(events.verification) != 0 {
		t.Error("name change must not queue verification")
	}

	stored := repo.stored(t, "acct-1")
	if !stored.IsEmailVerified {
		t.Error("verification state must be untouched")
	}
}

func TestUpdateProfileEmailMarksUnverified(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc, events := newTestAccountService(t, repo)
	owner := domain.Principal{ID: "acct-1", Role: domain.RoleUser}

	account, err := svc.UpdateProfile(context.Background(), owner, "acct-1", ProfilePatch{Email: strPtr("Fresh@Example.com")})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if account.Email != "fresh@example.com" {
		t.Errorf("email not normalized: %q", account.Email)
	}

	stored := repo.stored(t, "acct-1")
	if stored.IsEmailVerified {
		t.Error("email change must mark the account unverified")
	}
	if stored.EmailVerificationTokenHash == nil {
		t.Error("a new verification token must be stored")
	}
	if len(events.verification) != 1 {
		t.Fatalf("expected 1 verification event, got %d", len(events.verification))
	}
	if events.verification[0].Email != "fresh@example.com" {
		t.Errorf("event addressed to %q", events.verification[0].Email)
	}
}

func TestUpdateProfileSameEmailIsNoop(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc, events := newTestAccountService(t, repo)
	owner := domain.Principal{ID: "acct-1", Role: domain.RoleUser}

	if _, err := svc.UpdateProfile(context.Background(), owner, "acct-1", ProfilePatch{Email: strPtr("User@Example.com")}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	stored := repo.stored(t, "acct-1")
	if !stored.IsEmailVerified {
		t.Error("unchanged email must keep its verified state")
	}
	if len(events.verification) != 0 {
		t.Error("no verification event expected")
	}
}

func TestUpdateProfileRejectsTakenEmail(t *testing.T) {
	repo := newStubAccountRepo(
		verifiedAccount(t, "acct-1", "user@example.com", "secret1"),
		verifiedAccount(t, "acct-2", "taken@example.com", "secret1"),
	)
	svc, _ := newTestAccountService(t, repo)
	owner := domain.Principal{ID: "acct-1", Role: domain.RoleUser}

	if _, err := svc.UpdateProfile(context.Background(), owner, "acct-1", ProfilePatch{Email: strPtr("taken@example.com")}); !errors.Is(err, ErrDuplicateAccount) {
		t.Fatalf("expected ErrDuplicateAccount, got %v", err)
	}
}

func TestUpdateProfileValidation(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc, _ := newTestAccountService(t, repo)
	owner := domain.Principal{ID: "acct-1", Role: domain.RoleUser}

	_, err := svc.UpdateProfile(context.Background(), owner, "acct-1", ProfilePatch{
		Name:  strPtr("   "),
		Email: strPtr("not-an-email"),
	})
	var verrs domain.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}
	if len(verrs) != 2 {
		t.Errorf("expected 2 violations, got %v", verrs)
	}

	other := domain.Principal{ID: "acct-2", Role: domain.RoleUser}
	if _, err := svc.UpdateProfile(context.Background(), other, "acct-1", ProfilePatch{Name: strPtr("X")}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}
