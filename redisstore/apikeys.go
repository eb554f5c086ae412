package redisstore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AfriConnectExchange/authcore/token"
)

// ErrKeyNotFound is the API key store's miss. The token layer folds it into
// its own invalid-key error before callers see it.
var ErrKeyNotFound = errors.New("redisstore: api key not found")

type apiKeyRecord struct {
	KeyID     string `json:"key_id"`
	AccountID string `json:"account_id"`
	Hash      string `json:"hash"`
	IssuedAt  int64  `json:"issued_at"`
	ExpiresAt int64  `json:"expires_at"`
	Revoked   bool   `json:"revoked"`
	RevokedAt int64  `json:"revoked_at,omitempty"`
}

// APIKeys implements token.APIKeyStore. Records carry no TTL: revoked and
// expired keys stay inspectable until operators clean them up.
type APIKeys struct {
	redis  redis.UniversalClient
	prefix string
}

func NewAPIKeys(client redis.UniversalClient, prefix string) *APIKeys {
	if prefix == "" {
		prefix = "apikey"
	}
	return &APIKeys{redis: client, prefix: prefix}
}

func (s *APIKeys) key(keyID string) string { return s.prefix + ":id:" + keyID }

func (s *APIKeys) indexKey(accountID string) string { return s.prefix + ":acct:" + accountID }

func (s *APIKeys) Put(ctx context.Context, rec token.APIKeyRecord) error {
	encoded, err := json.Marshal(encodeAPIKey(rec))
	if err != nil {
		return err
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(rec.KeyID), encoded, 0)
		pipe.SAdd(ctx, s.indexKey(rec.AccountID), rec.KeyID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *APIKeys) Get(ctx context.Context, keyID string) (token.APIKeyRecord, error) {
	data, err := s.redis.Get(ctx, s.key(keyID)).Bytes()
	if err == redis.Nil {
		return token.APIKeyRecord{}, ErrKeyNotFound
	}
	if err != nil {
		return token.APIKeyRecord{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeAPIKey(data)
}

// Revoke is a WATCH-guarded read-modify-write so a concurrent update cannot
// be silently overwritten.
func (s *APIKeys) Revoke(ctx context.Context, keyID string, at time.Time) error {
	key := s.key(keyID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		rec, err := decodeAPIKey(data)
		if err != nil {
			return err
		}
		rec.Revoked = true
		rec.RevokedAt = at
		encoded, err := json.Marshal(encodeAPIKey(rec))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, 0)
			return nil
		})
		return err
	}

	for i := 0; i < 3; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err == ErrKeyNotFound {
			return err
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	}
	return fmt.Errorf("%w: revoke contended", ErrUnavailable)
}

func (s *APIKeys) RevokeAll(ctx context.Context, accountID string, at time.Time) error {
	ids, err := s.redis.SMembers(ctx, s.indexKey(accountID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	for _, id := range ids {
		if err := s.Revoke(ctx, id, at); err != nil && err != ErrKeyNotFound {
			return err
		}
	}
	return nil
}

func encodeAPIKey(rec token.APIKeyRecord) apiKeyRecord {
	out := apiKeyRecord{
		KeyID:     rec.KeyID,
		AccountID: rec.AccountID,
		Hash:      hex.EncodeToString(rec.SecretHash[:]),
		IssuedAt:  rec.IssuedAt.Unix(),
		ExpiresAt: rec.ExpiresAt.Unix(),
		Revoked:   rec.Revoked,
	}
	if !rec.RevokedAt.IsZero() {
		out.RevokedAt = rec.RevokedAt.Unix()
	}
	return out
}

func decodeAPIKey(data []byte) (token.APIKeyRecord, error) {
	var raw apiKeyRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return token.APIKeyRecord{}, fmt.Errorf("%w: corrupt api key record", ErrUnavailable)
	}
	hash, err := hex.DecodeString(raw.Hash)
	if err != nil || len(hash) != 32 {
		return token.APIKeyRecord{}, fmt.Errorf("%w: corrupt api key hash", ErrUnavailable)
	}
	rec := token.APIKeyRecord{
		KeyID:     raw.KeyID,
		AccountID: raw.AccountID,
		IssuedAt:  time.Unix(raw.IssuedAt, 0).UTC(),
		ExpiresAt: time.Unix(raw.ExpiresAt, 0).UTC(),
		Revoked:   raw.Revoked,
	}
	copy(rec.SecretHash[:], hash)
	if raw.RevokedAt != 0 {
		rec.RevokedAt = time.Unix(raw.RevokedAt, 0).UTC()
	}
	return rec, nil
}
