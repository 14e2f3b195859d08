package security

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"
)

// Token classes distinguish the bearer token kinds the service issues.
// Class is embedded in the claims so a refresh token can never be replayed
// against an access-token guard and vice versa.
const (
	TokenClassAccess  = "access"
	TokenClassRefresh = "refresh"
	// TokenClassTwoFactorPending is the short-lived token issued after a
	// correct password when the account still owes a second factor. It grants
	// nothing on its own; only the two-factor verification flow accepts it.
	TokenClassTwoFactorPending = "2fa_pending"
)

// ErrKeyIDMissing indicates no kid is associated with the supplied key or token.
var ErrKeyIDMissing = errors.New("jwt: missing key identifier")

// ErrKeyNotRegistered indicates a supplied kid is unknown to the JWT manager.
var ErrKeyNotRegistered = errors.New("jwt: key not registered")

// ErrInvalidToken covers every verification failure: bad signature, wrong
// algorithm, malformed claims, or expiry. Callers treat all of them alike.
var ErrInvalidToken = errors.New("jwt: invalid token")

// BearerClaims carries the account identity snapshot embedded in every token.
// TokenVersion pins the token to the revocation counter current at issue time.
type BearerClaims struct {
	UserID       string `json:"uid"`
	Email        string `json:"email,omitempty"`
	Role         string `json:"role,omitempty"`
	TokenVersion int64  `json:"tv"`
	Class        string `json:"cls"`
	jwt.RegisteredClaims
}

// BearerTokenOptions configures creation of bearer token claims.
type BearerTokenOptions struct {
	UserID       string
	Email        string
	Role         string
	TokenVersion int64
	Class        string
	Issuer       string
	TTL          time.Duration
	IssuedAt     time.Time
	JTI          string
}

const defaultAccessTokenTTL = 15 * time.Minute

// NewBearerClaims constructs standardized claims for either token class.
func NewBearerClaims(opts BearerTokenOptions) (*BearerClaims, error) {
	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		return nil, fmt.Errorf("jwt: user id is required")
	}
	issuer := strings.TrimSpace(opts.Issuer)
	if issuer == "" {
		return nil, fmt.Errorf("jwt: issuer is required")
	}
	class := strings.TrimSpace(opts.Class)
	switch class {
	case TokenClassAccess, TokenClassRefresh, TokenClassTwoFactorPending:
	default:
		return nil, fmt.Errorf("jwt: unknown token class %q", opts.Class)
	}

	now := opts.IssuedAt
	if now.IsZero() {
		now = time.Now().UTC()
	} else {
		now = now.UTC()
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = defaultAccessTokenTTL
	}

	jti := strings.TrimSpace(opts.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	return &BearerClaims{
		UserID:       userID,
		Email:        strings.TrimSpace(opts.Email),
		Role:         strings.TrimSpace(opts.Role),
		TokenVersion: opts.TokenVersion,
		Class:        class,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}, nil
}

// JWTManager coordinates signing key retrieval, verification, and JWKS generation.
type JWTManager struct {
	KeyProvider KeyProvider
	mu          sync.RWMutex
	publicKeys  map[string]*rsa.PublicKey
}

// NewJWTManager constructs a JWTManager for the supplied key provider.
func NewJWTManager(provider KeyProvider) *JWTManager {
	mgr := &JWTManager{
		KeyProvider: provider,
		publicKeys:  make(map[string]*rsa.PublicKey),
	}

	if enumerator, ok := provider.(interface {
		ListVerificationKeys() map[string]*rsa.PublicKey
	}); ok {
		for kid, key := range enumerator.ListVerificationKeys() {
			_ = mgr.RegisterPublicKey(kid, key)
		}
	}

	return mgr
}

// RegisterPublicKey associates a kid with a public key for JWKS publication and future lookup.
func (m *JWTManager) RegisterPublicKey(kid string, key *rsa.PublicKey) error {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return ErrKeyIDMissing
	}
	if key == nil {
		return fmt.Errorf("jwt: public key for %s is nil", kid)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.publicKeys[kid] = key
	return nil
}

// GetSigningKey retrieves the active signing key from the provider.
func (m *JWTManager) GetSigningKey() (*rsa.PrivateKey, error) {
	if m.KeyProvider == nil {
		return nil, fmt.Errorf("jwt: key provider not configured")
	}
	return m.KeyProvider.GetSigningKey()
}

// GetVerificationKey retrieves a public key by kid, consulting the provider on a miss.
func (m *JWTManager) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return nil, ErrKeyIDMissing
	}

	m.mu.RLock()
	key, ok := m.publicKeys[kid]
	m.mu.RUnlock()
	if ok {
		return key, nil
	}

	if m.KeyProvider != nil {
		fetched, err := m.KeyProvider.GetVerificationKey(kid)
		if err == nil {
			_ = m.RegisterPublicKey(kid, fetched)
			return fetched, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrKeyNotRegistered, kid)
}

// Sign signs the provided claims with RS256 using the active signing key and kid.
func (m *JWTManager) Sign(kid string, claims *BearerClaims) (string, error) {
	if claims == nil {
		return "", fmt.Errorf("jwt: claims required")
	}
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return "", ErrKeyIDMissing
	}

	signingKey, err := m.GetSigningKey()
	if err != nil {
		return "", fmt.Errorf("jwt: get signing key: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", fmt.Errorf("jwt: sign token: %w", err)
	}

	return signed, nil
}

// Parse verifies a signed token and returns its claims. Verification fails
// closed: any parse, signature, algorithm, or expiry problem yields
// ErrInvalidToken without detail.
func (m *JWTManager) Parse(tokenString string) (*BearerClaims, error) {
	claims := &BearerClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			return nil, ErrKeyIDMissing
		}
		return m.GetVerificationKey(kid)
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	if claims.UserID == "" || claims.Class == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// JWKS produces the JSON Web Key Set for registered keys.
func (m *JWTManager) JWKS() ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.publicKeys) == 0 {
		return json.Marshal(struct {
			Keys []any `json:"keys"`
		}{Keys: []any{}})
	}

	keys := make([]map[string]string, 0, len(m.publicKeys))
	for kid, key := range m.publicKeys {
		if key == nil {
			continue
		}
		keys = append(keys, buildJWK(kid, key))
	}

	return json.Marshal(map[string]any{"keys": keys})
}

func buildJWK(kid string, key *rsa.PublicKey) map[string]string {
	return map[string]string{
		"kty": "RSA",
		"use": "sig",
		"alg": "RS256",
		"kid": kid,
		"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
	}
}
