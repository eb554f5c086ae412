// Package device derives stable fingerprints from request metadata. The
// fingerprint is a one-way hash used to correlate repeat sign-ins from the
// same client; it is a grouping heuristic, never an authentication factor.
package device

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Info carries the request metadata a fingerprint is derived from. Both
// fields are optional; missing values degrade to the fallback fingerprint
// rather than an error.
type Info struct {
	UserAgent string
	IPAddress string
}

// fallbackSeed keeps Derive total: empty inputs still map to one stable id
// instead of hashing the empty string shared with "no metadata" callers.
const fallbackSeed = "unknown-device"

// Derive returns a hex-encoded fingerprint for the given metadata. Equal
// inputs always produce equal fingerprints, and the raw user agent and IP
// are not recoverable from the result.
func Derive(info Info) string {
	ua := strings.TrimSpace(info.UserAgent)
	ip := strings.TrimSpace(info.IPAddress)
	if ua == "" && ip == "" {
		sum := sha256.Sum256([]byte(fallbackSeed))
		return hex.EncodeToString(sum[:])
	}
	sum := sha256.Sum256([]byte(ua + "|" + ip))
	return hex.EncodeToString(sum[:])
}
