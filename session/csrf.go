package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrCSRFInvalid covers every CSRF rejection: bad signature, expiry, or a
// token minted for a different session.
var ErrCSRFInvalid = errors.New("session: csrf token invalid")

// CSRFSigner mints and checks the stateless companion token handed out next
// to the session token. It is an HS256 JWT whose subject is the session ID,
// so it is worthless with any other session and needs no storage.
type CSRFSigner struct {
	secret []byte
	now    func() time.Time
}

// NewCSRFSigner builds a signer from a shared secret. The secret must be at
// least 32 bytes.
func NewCSRFSigner(secret []byte) (*CSRFSigner, error) {
	if len(secret) < 32 {
		return nil, errors.New("session: csrf secret must be at least 32 bytes")
	}
	return &CSRFSigner{secret: secret, now: time.Now}, nil
}

// Issue returns a CSRF token bound to sessionID, expiring with the session.
func (c *CSRFSigner) Issue(sessionID string, expiresAt time.Time) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   sessionID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign csrf token: %w", err)
	}
	return signed, nil
}

// Verify checks signature, expiry, and session binding.
func (c *CSRFSigner) Verify(csrfToken, sessionID string) error {
	parsed, err := jwt.ParseWithClaims(csrfToken, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return c.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	)
	if err != nil || !parsed.Valid {
		return ErrCSRFInvalid
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject != sessionID {
		return ErrCSRFInvalid
	}
	return nil
}
