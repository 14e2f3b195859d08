package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

// Argon2Config captures tunable parameters for password hashing.
type Argon2Config struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var (
	argonMu     sync.RWMutex
	argonConfig = Argon2Config{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
)

// ConfigureArgon2 overrides the process-wide hashing parameters. Zero fields
// keep their current values.
func ConfigureArgon2(cfg Argon2Config) {
	argonMu.Lock()
	defer argonMu.Unlock()
	if cfg.Memory > 0 {
		argonConfig.Memory = cfg.Memory
	}
	if cfg.Iterations > 0 {
		argonConfig.Iterations = cfg.Iterations
	}
	if cfg.Parallelism > 0 {
		argonConfig.Parallelism = cfg.Parallelism
	}
	if cfg.SaltLength > 0 {
		argonConfig.SaltLength = cfg.SaltLength
	}
	if cfg.KeyLength > 0 {
		argonConfig.KeyLength = cfg.KeyLength
	}
}

func currentArgon2Config() Argon2Config {
	argonMu.RLock()
	defer argonMu.RUnlock()
	return argonConfig
}

// HashPassword derives an argon2id hash and encodes it together with the
// parameters used, so verification survives parameter changes.
func HashPassword(password string) (string, error) {
	cfg := currentArgon2Config()

	salt := make([]byte, cfg.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := argon2.IDKey([]byte(password), salt, cfg.Iterations, cfg.Memory, cfg.Parallelism, cfg.KeyLength)

	encoded := fmt.Sprintf("argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		cfg.Memory,
		cfg.Iterations,
		cfg.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)
	return encoded, nil
}

// VerifyPassword checks password against an encoded argon2id hash in
// constant time with respect to the derived keys.
func VerifyPassword(password, encoded string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "argon2id" {
		return false, errors.New("unsupported password hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &version); err != nil {
		return false, fmt.Errorf("parse hash version: %w", err)
	}
	if version != argon2.Version {
		return false, errors.New("incompatible argon2 version")
	}

	var memory, iterations uint32
	var parallelism uint8
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return false, fmt.Errorf("parse hash parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	actual := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(expected, actual) == 1, nil
}

// DummyVerifyPassword burns the same argon2 work as a real verification.
// Login flows call it when no account matches the submitted email so the
// response time does not reveal whether the address is registered.
func DummyVerifyPassword(password string) {
	cfg := currentArgon2Config()
	salt := make([]byte, cfg.SaltLength)
	argon2.IDKey([]byte(password), salt, cfg.Iterations, cfg.Memory, cfg.Parallelism, cfg.KeyLength)
}
