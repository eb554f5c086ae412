// Package redisstore provides the Redis-backed implementations of the
// session, token, API key, and rate-limit store interfaces. Redis is the
// single source of truth for this state: nothing is cached in process, and
// every consume path is atomic on the server side.
package redisstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AfriConnectExchange/authcore/internal/secrets"
	"github.com/AfriConnectExchange/authcore/token"
)

// ErrUnavailable wraps transport-level Redis failures so callers can tell
// an outage from a semantic miss.
var ErrUnavailable = errors.New("redisstore: redis unavailable")

// consumeTokenLua performs GET→compare→DEL atomically so two concurrent
// consumers of the same token cannot both win.
// KEYS[1] = record key, ARGV[1] = hex-encoded secret hash.
var consumeTokenLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end
local rec = cjson.decode(data)
if rec.hash ~= ARGV[1] then
  return {err='no_match'}
end
redis.call('DEL', KEYS[1])
return data
`)

// tokenRecord timestamps are unix milliseconds, matching sessionRecord, so
// expiry comparisons are not skewed by whole-second truncation.
type tokenRecord struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Subject   string `json:"subject"`
	Hash      string `json:"hash"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
}

// Tokens implements token.Store. Records carry a TTL of their logical
// expiry plus a grace period, so a consume shortly after expiry can still
// report the expired state instead of a plain miss.
type Tokens struct {
	redis  redis.UniversalClient
	prefix string

	// grace keeps expired records around long enough to distinguish
	// "expired" from "never existed".
	grace time.Duration
}

func NewTokens(client redis.UniversalClient, prefix string) *Tokens {
	if prefix == "" {
		prefix = "tok"
	}
	return &Tokens{redis: client, prefix: prefix, grace: time.Hour}
}

func (s *Tokens) key(kind token.Kind, subject string) string {
	return s.prefix + ":" + string(kind) + ":" + subject
}

func (s *Tokens) Put(ctx context.Context, rec token.Record) error {
	encoded, err := json.Marshal(tokenRecord{
		ID:        rec.ID,
		Kind:      string(rec.Kind),
		Subject:   rec.Subject,
		Hash:      hex.EncodeToString(rec.SecretHash[:]),
		IssuedAt:  rec.IssuedAt.UnixMilli(),
		ExpiresAt: rec.ExpiresAt.UnixMilli(),
	})
	if err != nil {
		return err
	}
	ttl := time.Until(rec.ExpiresAt) + s.grace
	if ttl <= 0 {
		ttl = s.grace
	}
	// SET replaces any previous record for the (kind, subject) pair, which
	// is what invalidates prior unused OTPs on reissue.
	if err := s.redis.Set(ctx, s.key(rec.Kind, rec.Subject), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Tokens) Consume(ctx context.Context, kind token.Kind, subject string, hash [32]byte) (token.Record, error) {
	result, err := consumeTokenLua.Run(ctx, s.redis,
		[]string{s.key(kind, subject)},
		hex.EncodeToString(hash[:]),
	).Result()
	if err != nil {
		switch err.Error() {
		case "not_found", "no_match":
			return token.Record{}, token.ErrNoRecord
		default:
			return token.Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return token.Record{}, fmt.Errorf("%w: unexpected lua result type", ErrUnavailable)
	}
	rec, err := decodeTokenRecord([]byte(data))
	if err != nil {
		return token.Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Lua already compared, but its string compare is not constant-time;
	// recheck in Go before trusting the match.
	if !secrets.Equal(rec.SecretHash, hash) {
		return token.Record{}, token.ErrNoRecord
	}
	return rec, nil
}

func (s *Tokens) Delete(ctx context.Context, kind token.Kind, subject string) error {
	if err := s.redis.Del(ctx, s.key(kind, subject)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func decodeTokenRecord(data []byte) (token.Record, error) {
	var raw tokenRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return token.Record{}, err
	}
	hash, err := hex.DecodeString(raw.Hash)
	if err != nil || len(hash) != 32 {
		return token.Record{}, errors.New("corrupt token hash")
	}
	rec := token.Record{
		ID:        raw.ID,
		Kind:      token.Kind(raw.Kind),
		Subject:   raw.Subject,
		IssuedAt:  time.UnixMilli(raw.IssuedAt).UTC(),
		ExpiresAt: time.UnixMilli(raw.ExpiresAt).UTC(),
	}
	copy(rec.SecretHash[:], hash)
	return rec, nil
}
