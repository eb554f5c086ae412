// Package secrets generates and hashes the short-lived secret material used
// across the engine: opaque session tokens, link tokens, numeric OTP codes,
// and API keys. Plaintext secrets exist only in return values; everything
// persisted goes through HashString/HashBytes first.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"math/big"
)

const (
	tokenSize        = 32
	apiKeyIDSize     = 16
	apiKeySecretSize = 32
	apiKeyRawSize    = apiKeyIDSize + apiKeySecretSize
)

// NewToken returns a fresh 32-byte secret encoded as unpadded base64url.
func NewToken() (string, error) {
	var raw [tokenSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

// NewOTP returns a 6-digit numeric code drawn uniformly from
// [100000, 999999]. The range excludes leading zeros so the code survives
// being treated as a number anywhere downstream.
func NewOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	code := n.Int64() + 100000

	buf := make([]byte, 0, 6)
	for div := int64(100000); div >= 1; div /= 10 {
		buf = append(buf, byte('0'+(code/div)%10))
	}
	return string(buf), nil
}

// HashString returns the SHA-256 digest of the plaintext secret.
func HashString(plaintext string) [32]byte {
	return sha256.Sum256([]byte(plaintext))
}

// HashBytes returns the SHA-256 digest of raw secret bytes.
func HashBytes(raw []byte) [32]byte {
	return sha256.Sum256(raw)
}

// Equal compares two digests in constant time.
func Equal(a, b [32]byte) bool {
	return subtle.ConstantTimeCompare(a[:], b[:]) == 1
}

// NewAPIKey returns a fresh API key plaintext together with its key ID.
// The plaintext encodes keyID||secret so verification can address the stored
// record directly without scanning.
func NewAPIKey() (plaintext, keyID string, err error) {
	var raw [apiKeyRawSize]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", "", err
	}

	keyID = base64.RawURLEncoding.EncodeToString(raw[:apiKeyIDSize])
	return base64.RawURLEncoding.EncodeToString(raw[:]), keyID, nil
}

// SplitAPIKey decodes an API key plaintext into its key ID and secret digest.
func SplitAPIKey(plaintext string) (keyID string, secretHash [32]byte, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(plaintext)
	if err != nil {
		return "", secretHash, err
	}
	if len(raw) != apiKeyRawSize {
		return "", secretHash, errors.New("invalid api key size")
	}

	keyID = base64.RawURLEncoding.EncodeToString(raw[:apiKeyIDSize])
	return keyID, sha256.Sum256(raw[apiKeyIDSize:]), nil
}
