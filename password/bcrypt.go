// Package password hashes and verifies account passwords with bcrypt.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// MinLength is the minimum accepted password length in bytes.
	MinLength = 8

	// bcrypt silently truncates beyond 72 bytes; reject instead.
	maxLength = 72

	// DefaultCost trades roughly 100ms of hashing per attempt; raise it as
	// hardware improves.
	DefaultCost = 12
)

var (
	ErrTooShort = fmt.Errorf("password must be at least %d bytes", MinLength)
	ErrTooLong  = fmt.Errorf("password must be at most %d bytes", maxLength)
)

// Hasher hashes passwords at a fixed cost. The zero value is not usable;
// construct with NewHasher.
type Hasher struct {
	cost int
}

// NewHasher builds a Hasher. A cost outside bcrypt's supported range falls
// back to DefaultCost.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash returns the bcrypt encoding of password. Length limits are enforced
// here so every caller gets the same policy.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < MinLength {
		return "", ErrTooShort
	}
	if len(password) > maxLength {
		return "", ErrTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether password matches the stored encoding. Any error
// other than a mismatch (a corrupt or foreign encoding) is returned so it
// can be surfaced as a server fault rather than a bad credential.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}
