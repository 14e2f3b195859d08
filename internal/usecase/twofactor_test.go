package usecase

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// totpCode derives the RFC 6238 code for a secret at a given instant, so
// tests can play the role of the authenticator app.
func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()

	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	if err != nil {
		t.Fatalf("decode secret: %v", err)
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(at.Unix()/30))

	mac := hmac.New(sha1.New, raw)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	return fmt.Sprintf("%06d", bin%1000000)
}

func newTestTwoFactorService(t *testing.T, repo *stubAccountRepo) *TwoFactorService {
	t.Helper()
	auth := newTestAuthService(t, repo)
	return NewTwoFactorService(newTestConfig(), repo, auth, zaptest.NewLogger(t))
}

func enableTwoFactor(t *testing.T, svc *TwoFactorService, repo *stubAccountRepo, accountID string, at time.Time) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enrollment, err := svc.Enroll(ctx, accountID)
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	svc.WithClock(func() time.Time { return at })
	backupCodes, err := svc.ConfirmSetup(ctx, accountID, totpCode(t, enrollment.Secret, at))
	if err != nil {
		t.Fatalf("ConfirmSetup: %v", err)
	}
	return enrollment.Secret, backupCodes
}

func TestEnrollStoresPendingSecret(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc := newTestTwoFactorService(t, repo)

	enrollment, err := svc.Enroll(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if enrollment.Secret == "" {
		t.Fatal("expected a secret")
	}
	if !strings.HasPrefix(enrollment.ProvisionURI, "otpauth://totp/") {
		t.Errorf("unexpected provision URI: %s", enrollment.ProvisionURI)
	}

	stored := repo.stored(t, "acct-1")
	if stored.TwoFactorEnabled {
		t.Error("enrollment must not enable two-factor yet")
	}
	if stored.TwoFactorPendingSecret == nil || *stored.TwoFactorPendingSecret != enrollment.Secret {
		t.Error("pending secret not stored")
	}

	// Re-enrolling replaces the pending secret.
	second, err := svc.Enroll(context.Background(), "acct-1")
	if err != nil {
		t.Fatalf("second Enroll: %v", err)
	}
	if second.Secret == enrollment.Secret {
		t.Error("re-enrollment must mint a new secret")
	}
}

func TestConfirmSetupPromotesSecretAndMintsBackupCodes(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc := newTestTwoFactorService(t, repo)
	at := time.Now().UTC()

	secret, backupCodes := enableTwoFactor(t, svc, repo, "acct-1", at)

	if len(backupCodes) != 10 {
		t.Fatalf("expected 10 backup codes, got %d", len(backupCodes))
	}
	for _, code := range backupCodes {
		if len(code) != 11 || code[5] != '-' {
			t.Errorf("unexpected backup code format: %q", code)
		}
	}

	stored := repo.stored(t, "acct-1")
	if !stored.TwoFactorEnabled {
		t.Error("two-factor not enabled")
	}
	if stored.TwoFactorSecret == nil || *stored.TwoFactorSecret != secret {
		t.Error("secret not promoted to the active slot")
	}
	if stored.TwoFactorPendingSecret != nil {
		t.Error("pending secret must be cleared")
	}
	if len(stored.BackupCodeHashes) != 10 {
		t.Errorf("expected 10 backup code hashes, got %d", len(stored.BackupCodeHashes))
	}
	for i, hash := range stored.BackupCodeHashes {
		if hash == backupCodes[i] {
			t.Error("backup codes must be stored hashed")
		}
	}
}

func TestConfirmSetupRejectsWrongCode(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc := newTestTwoFactorService(t, repo)
	ctx := context.Background()

	if _, err := svc.ConfirmSetup(ctx, "acct-1", "000000"); !errors.Is(err, ErrTwoFactorNotEnrolled) {
		t.Fatalf("expected ErrTwoFactorNotEnrolled, got %v", err)
	}

	if _, err := svc.Enroll(ctx, "acct-1"); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if _, err := svc.ConfirmSetup(ctx, "acct-1", "000000"); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("expected ErrTwoFactorCodeInvalid, got %v", err)
	}
}

// pendingChallenge runs the password step and returns the pending token the
// verification endpoint demands.
func pendingChallenge(t *testing.T, svc *TwoFactorService, email, password string) string {
	t.Helper()

	result, err := svc.auth.Login(context.Background(), email, password)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.TwoFactorPendingToken == "" {
		t.Fatal("expected a pending two-factor challenge")
	}
	return result.TwoFactorPendingToken
}

func TestVerifyLoginWithTOTP(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc := newTestTwoFactorService(t, repo)
	at := time.Now().UTC()
	secret, _ := enableTwoFactor(t, svc, repo, "acct-1", at)
	pending := pendingChallenge(t, svc, "user@example.com", "secret1")

	result, err := svc.VerifyLogin(context.Background(), pending, totpCode(t, secret, at))
	if err != nil {
		t.Fatalf("VerifyLogin: %v", err)
	}
	if result.Tokens.AccessToken == "" || result.Tokens.RefreshToken == "" {
		t.Error("expected a token pair after verification")
	}

	if _, err := svc.VerifyLogin(context.Background(), pending, "999999"); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("expected ErrTwoFactorCodeInvalid, got %v", err)
	}
}

func TestVerifyLoginBackupCodeSingleUse(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc := newTestTwoFactorService(t, repo)
	at := time.Now().UTC()
	_, backupCodes := enableTwoFactor(t, svc, repo, "acct-1", at)
	pending := pendingChallenge(t, svc, "user@example.com", "secret1")

	// Backup codes match regardless of separator or case.
	code := strings.ToLower(strings.ReplaceAll(backupCodes[0], "-", ""))
	if _, err := svc.VerifyLogin(context.Background(), pending, code); err != nil {
		t.Fatalf("VerifyLogin with backup code: %v", err)
	}

	stored := repo.stored(t, "acct-1")
	if len(stored.BackupCodeHashes) != 9 {
		t.Errorf("consumed code must be removed, %d hashes remain", len(stored.BackupCodeHashes))
	}

	if _, err := svc.VerifyLogin(context.Background(), pending, backupCodes[0]); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("expected consumed code rejection, got %v", err)
	}
}

func TestVerifyLoginWithoutSetup(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc := newTestTwoFactorService(t, repo)

	pending, _, err := svc.auth.issueTwoFactorPending(repo.stored(t, "acct-1"))
	if err != nil {
		t.Fatalf("issue pending token: %v", err)
	}
	if _, err := svc.VerifyLogin(context.Background(), pending, "123456"); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("expected ErrTwoFactorNotEnabled, got %v", err)
	}
}

func TestVerifyLoginDemandsPasswordProof(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc := newTestTwoFactorService(t, repo)
	at := time.Now().UTC()
	secret, _ := enableTwoFactor(t, svc, repo, "acct-1", at)
	ctx := context.Background()
	code := totpCode(t, secret, at)

	// A bare account id plus a valid code earns nothing.
	if _, err := svc.VerifyLogin(ctx, "acct-1", code); !errors.Is(err, ErrTwoFactorPendingInvalid) {
		t.Fatalf("expected ErrTwoFactorPendingInvalid, got %v", err)
	}
	if stored := repo.stored(t, "acct-1"); stored.RefreshTokenHash != nil {
		t.Error("no session may exist without the pending challenge")
	}

	// Neither can an access token stand in for the pending challenge.
	pending := pendingChallenge(t, svc, "user@example.com", "secret1")
	result, err := svc.VerifyLogin(ctx, pending, code)
	if err != nil {
		t.Fatalf("VerifyLogin: %v", err)
	}
	if _, err := svc.VerifyLogin(ctx, result.Tokens.AccessToken, code); !errors.Is(err, ErrTwoFactorPendingInvalid) {
		t.Fatalf("expected access token rejection, got %v", err)
	}
}

func TestDisableTwoFactor(t *testing.T) {
	repo := newStubAccountRepo(verifiedAccount(t, "acct-1", "user@example.com", "secret1"))
	svc := newTestTwoFactorService(t, repo)
	at := time.Now().UTC()
	secret, _ := enableTwoFactor(t, svc, repo, "acct-1", at)
	ctx := context.Background()

	if err := svc.Disable(ctx, "acct-1", "wrong-password", totpCode(t, secret, at)); !errors.Is(err, ErrCurrentPasswordInvalid) {
		t.Fatalf("expected ErrCurrentPasswordInvalid, got %v", err)
	}
	if err := svc.Disable(ctx, "acct-1", "secret1", "000000"); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("expected ErrTwoFactorCodeInvalid, got %v", err)
	}

	if err := svc.Disable(ctx, "acct-1", "secret1", totpCode(t, secret, at)); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	stored := repo.stored(t, "acct-1")
	if stored.TwoFactorEnabled || stored.TwoFactorSecret != nil || len(stored.BackupCodeHashes) != 0 {
		t.Error("two-factor state must be fully cleared")
	}

	if err := svc.Disable(ctx, "acct-1", "secret1", "123456"); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("expected ErrTwoFactorNotEnabled after disable, got %v", err)
	}
}
