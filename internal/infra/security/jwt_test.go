package security

import (
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"
)

func newTestJWTManager(t *testing.T) *JWTManager {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate rsa key: %v", err)
	}
	return NewJWTManager(&StaticKeyProvider{KID: "test-key", Key: key})
}

func TestSignAndParseBearerToken(t *testing.T) {
	mgr := newTestJWTManager(t)

	claims, err := NewBearerClaims(BearerTokenOptions{
		UserID:       "acct-1",
		Email:        "user@example.com",
		Role:         "user",
		TokenVersion: 3,
		Class:        TokenClassAccess,
		Issuer:       "identity-service",
		TTL:          time.Minute,
	})
	if err != nil {
		t.Fatalf("NewBearerClaims: %v", err)
	}

	signed, err := mgr.Sign("test-key", claims)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	parsed, err := mgr.Parse(signed)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.UserID != "acct-1" || parsed.Email != "user@example.com" || parsed.Role != "user" {
		t.Errorf("unexpected identity claims: %+v", parsed)
	}
	if parsed.TokenVersion != 3 {
		t.Errorf("expected token version 3, got %d", parsed.TokenVersion)
	}
	if parsed.Class != TokenClassAccess {
		t.Errorf("expected access class, got %s", parsed.Class)
	}
}

func TestParseRejectsTamperedToken(t *testing.T) {
	mgr := newTestJWTManager(t)

	claims, err := NewBearerClaims(BearerTokenOptions{
		UserID: "acct-1",
		Class:  TokenClassAccess,
		Issuer: "identity-service",
		TTL:    time.Minute,
	})
	if err != nil {
		t.Fatalf("NewBearerClaims: %v", err)
	}
	signed, err := mgr.Sign("test-key", claims)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	tampered := signed[:len(signed)-4] + "AAAA"
	if _, err := mgr.Parse(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	mgr := newTestJWTManager(t)

	claims, err := NewBearerClaims(BearerTokenOptions{
		UserID:   "acct-1",
		Class:    TokenClassAccess,
		Issuer:   "identity-service",
		TTL:      time.Minute,
		IssuedAt: time.Now().Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("NewBearerClaims: %v", err)
	}
	signed, err := mgr.Sign("test-key", claims)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := mgr.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestParseRejectsForeignKey(t *testing.T) {
	mgr := newTestJWTManager(t)
	other := newTestJWTManager(t)

	claims, err := NewBearerClaims(BearerTokenOptions{
		UserID: "acct-1",
		Class:  TokenClassRefresh,
		Issuer: "identity-service",
		TTL:    time.Minute,
	})
	if err != nil {
		t.Fatalf("NewBearerClaims: %v", err)
	}
	signed, err := other.Sign("test-key", claims)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if _, err := mgr.Parse(signed); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestNewBearerClaimsValidation(t *testing.T) {
	if _, err := NewBearerClaims(BearerTokenOptions{Class: TokenClassAccess, Issuer: "x"}); err == nil {
		t.Error("expected error when user id missing")
	}
	if _, err := NewBearerClaims(BearerTokenOptions{UserID: "u", Class: TokenClassAccess}); err == nil {
		t.Error("expected error when issuer missing")
	}
	if _, err := NewBearerClaims(BearerTokenOptions{UserID: "u", Issuer: "x", Class: "session"}); err == nil {
		t.Error("expected error for unknown token class")
	}
}
