package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AfriConnectExchange/authcore/session"
)

// touchSessionLua bumps last_activity_at in place while keeping the TTL.
// KEYS[1] = session key, ARGV[1] = unix millisecond timestamp.
var touchSessionLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end
local rec = cjson.decode(data)
rec.last_activity_at = tonumber(ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl <= 0 then
  return {err='not_found'}
end
redis.call('SET', KEYS[1], cjson.encode(rec), 'PX', ttl)
return 1
`)

// revokeSessionLua flips active off without extending or shrinking the TTL.
// KEYS[1] = session key, ARGV[1] = unix millisecond timestamp.
var revokeSessionLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end
local rec = cjson.decode(data)
rec.active = false
rec.revoked_at = tonumber(ARGV[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl <= 0 then
  return {err='not_found'}
end
redis.call('SET', KEYS[1], cjson.encode(rec), 'PX', ttl)
return 1
`)

// sessionRecord timestamps are unix milliseconds: session TTLs can be
// sub-second and whole-second truncation would make a fresh short-lived
// session decode as already expired.
type sessionRecord struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	Fingerprint    string `json:"fingerprint"`
	IssuedAt       int64  `json:"issued_at"`
	ExpiresAt      int64  `json:"expires_at"`
	LastActivityAt int64  `json:"last_activity_at"`
	Active         bool   `json:"active"`
	RevokedAt      int64  `json:"revoked_at,omitempty"`
}

// Sessions implements session.Store. Each record lives under its own key
// with a per-account index set used for bulk revocation; records disappear
// only when their retention TTL lapses.
type Sessions struct {
	redis  redis.UniversalClient
	prefix string
}

func NewSessions(client redis.UniversalClient, prefix string) *Sessions {
	if prefix == "" {
		prefix = "sess"
	}
	return &Sessions{redis: client, prefix: prefix}
}

func (s *Sessions) key(id string) string { return s.prefix + ":id:" + id }

func (s *Sessions) indexKey(accountID string) string { return s.prefix + ":acct:" + accountID }

func (s *Sessions) Put(ctx context.Context, sess session.Session, retainFor time.Duration) error {
	encoded, err := json.Marshal(encodeSession(sess))
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(sess.ID), encoded, retainFor)
		pipe.SAdd(ctx, s.indexKey(sess.AccountID), sess.ID)
		// The index outlives its longest member; stale ids are skipped on
		// read.
		pipe.Expire(ctx, s.indexKey(sess.AccountID), retainFor)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Sessions) Get(ctx context.Context, id string) (session.Session, error) {
	data, err := s.redis.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return session.Session{}, session.ErrNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeSession(data)
}

func (s *Sessions) Touch(ctx context.Context, id string, at time.Time) error {
	err := touchSessionLua.Run(ctx, s.redis, []string{s.key(id)}, at.UnixMilli()).Err()
	if err != nil {
		if err.Error() == "not_found" {
			return session.ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Sessions) Revoke(ctx context.Context, id string, at time.Time) error {
	err := revokeSessionLua.Run(ctx, s.redis, []string{s.key(id)}, at.UnixMilli()).Err()
	if err != nil {
		if err.Error() == "not_found" {
			return session.ErrNotFound
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Sessions) RevokeAll(ctx context.Context, accountID string, at time.Time) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.indexKey(accountID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	var n int
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err == session.ErrNotFound {
			continue
		}
		if err != nil {
			return n, err
		}
		if !sess.Active {
			continue
		}
		// The record can lapse between Get and Revoke; a miss here is a
		// session that no longer needed flipping, so it stays out of n.
		if err := s.Revoke(ctx, id, at); err != nil {
			if err == session.ErrNotFound {
				continue
			}
			return n, err
		}
		n++
	}
	return n, nil
}

// SweepExpired walks the session keyspace and deactivates anything past its
// expiry. SCAN-based, so it is safe to run while traffic flows.
func (s *Sessions) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	var n int
	iter := s.redis.Scan(ctx, 0, s.prefix+":id:*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := s.redis.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return n, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		sess, err := decodeSession(data)
		if err != nil {
			continue
		}
		if !sess.Active || now.Before(sess.ExpiresAt) {
			continue
		}
		if err := s.Revoke(ctx, sess.ID, now); err != nil && err != session.ErrNotFound {
			return n, err
		}
		n++
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

func encodeSession(s session.Session) sessionRecord {
	rec := sessionRecord{
		ID:             s.ID,
		AccountID:      s.AccountID,
		Fingerprint:    s.Fingerprint,
		IssuedAt:       s.IssuedAt.UnixMilli(),
		ExpiresAt:      s.ExpiresAt.UnixMilli(),
		LastActivityAt: s.LastActivityAt.UnixMilli(),
		Active:         s.Active,
	}
	if !s.RevokedAt.IsZero() {
		rec.RevokedAt = s.RevokedAt.UnixMilli()
	}
	return rec
}

func decodeSession(data []byte) (session.Session, error) {
	var raw sessionRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return session.Session{}, fmt.Errorf("%w: corrupt session record", ErrUnavailable)
	}
	s := session.Session{
		ID:             raw.ID,
		AccountID:      raw.AccountID,
		Fingerprint:    raw.Fingerprint,
		IssuedAt:       time.UnixMilli(raw.IssuedAt).UTC(),
		ExpiresAt:      time.UnixMilli(raw.ExpiresAt).UTC(),
		LastActivityAt: time.UnixMilli(raw.LastActivityAt).UTC(),
		Active:         raw.Active,
	}
	if raw.RevokedAt != 0 {
		s.RevokedAt = time.UnixMilli(raw.RevokedAt).UTC()
	}
	return s, nil
}
