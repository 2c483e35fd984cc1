package cryptox

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// MinBcryptCost is the lowest work factor Hasher will produce.
const MinBcryptCost = 10

// ErrPasswordMismatch is returned when a password does not match its hash.
var ErrPasswordMismatch = errors.New("password does not match")

// Hasher hashes passwords with bcrypt and verifies both bcrypt hashes and
// legacy PHC-format Argon2id hashes. The pepper is mixed in with HMAC before
// bcrypt so long passwords are not silently truncated at 72 bytes.
type Hasher struct {
	pepper string
	cost   int

	dummyOnce sync.Once
	dummy     string
}

// NewHasher returns a Hasher. Costs below MinBcryptCost are raised to it.
func NewHasher(pepper string, cost int) *Hasher {
	if cost < MinBcryptCost {
		cost = MinBcryptCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{pepper: pepper, cost: cost}
}

// Cost returns the configured bcrypt work factor.
func (h *Hasher) Cost() int { return h.cost }

// Hash returns a bcrypt hash of the peppered password.
func (h *Hasher) Hash(password string) (string, error) {
	out, err := bcrypt.GenerateFromPassword(h.prehash(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("cryptox: bcrypt: %w", err)
	}
	return string(out), nil
}

// Verify compares a plaintext password against a stored hash. It returns
// ErrPasswordMismatch when the password is wrong.
func (h *Hasher) Verify(password, encoded string) error {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return verifyArgon2id(password+h.pepper, encoded)
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), h.prehash(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return err
	default:
		return errors.New("cryptox: unknown hash format")
	}
}

// VerifyDummy burns the same time as a real bcrypt comparison. Use it when
// the account does not exist so response timing does not leak that fact.
func (h *Hasher) VerifyDummy(password string) {
	h.dummyOnce.Do(func() {
		out, err := bcrypt.GenerateFromPassword([]byte("dummy-password"), h.cost)
		if err == nil {
			h.dummy = string(out)
		}
	})
	if h.dummy != "" {
		_ = bcrypt.CompareHashAndPassword([]byte(h.dummy), h.prehash(password))
	}
}

// NeedsRehash reports whether a stored hash should be replaced on the next
// successful login (legacy algorithm or a cost below the current one).
func (h *Hasher) NeedsRehash(encoded string) bool {
	if strings.HasPrefix(encoded, "$argon2id$") {
		return true
	}
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return true
	}
	return cost < h.cost
}

func (h *Hasher) prehash(password string) []byte {
	mac := hmac.New(sha256.New, []byte(h.pepper))
	mac.Write([]byte(password))
	return []byte(base64.RawStdEncoding.EncodeToString(mac.Sum(nil)))
}

// Argon2id parameters used for legacy hashes created by HashArgon2id.
const (
	argonMemory      = 19 * 1024 // KiB
	argonIterations  = 2
	argonParallelism = 1
	argonKeyLength   = 32
	argonSaltLength  = 16
)

// HashArgon2id produces a PHC-format Argon2id hash. Kept for importing
// accounts from systems that used it; new hashes come from Hasher.Hash.
func HashArgon2id(password string) (string, error) {
	salt := make([]byte, argonSaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLength)

	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argonMemory,
		argonIterations,
		argonParallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// verifyArgon2id checks $argon2id$v=19$m=X,t=Y,p=Z$salt$hash.
func verifyArgon2id(password, encoded string) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return errors.New("invalid hash format: expected 6 parts")
	}
	if parts[1] != "argon2id" {
		return errors.New("invalid hash format: not argon2id")
	}
	if parts[2] != "v=19" {
		return errors.New("invalid hash format: wrong version")
	}

	var mem, iters uint32
	var par uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iters, &par); err != nil {
		return fmt.Errorf("invalid hash format: failed to parse parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("invalid hash format: failed to decode salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return fmt.Errorf("invalid hash format: failed to decode hash: %w", err)
	}

	computed := argon2.IDKey(
		[]byte(password),
		salt,
		iters,
		mem,
		par,
		uint32(len(expected)), // #nosec G115 - If this overflows we have bigger problems
	)

	if subtle.ConstantTimeCompare(computed, expected) == 1 {
		return nil
	}
	return ErrPasswordMismatch
}
