package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/AfriConnectExchange/authcore/rate"
)

// Attempts implements rate.AttemptStore on a sorted set per (identifier,
// action): member is a unique id, score is the attempt's unix millisecond
// timestamp. Counting a window is a ZCOUNT over scores.
type Attempts struct {
	redis  redis.UniversalClient
	prefix string

	// retention bounds how long attempts are kept. It must be at least the
	// largest configured rate window or counts will come up short.
	retention time.Duration
}

func NewAttempts(client redis.UniversalClient, prefix string, retention time.Duration) *Attempts {
	if prefix == "" {
		prefix = "rl"
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &Attempts{redis: client, prefix: prefix, retention: retention}
}

func (s *Attempts) key(identifier string, action rate.Action) string {
	return s.prefix + ":" + string(action) + ":" + identifier
}

func (s *Attempts) Record(ctx context.Context, identifier string, action rate.Action, at time.Time) error {
	key := s.key(identifier, action)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{
			Score:  float64(at.UnixMilli()),
			Member: uuid.NewString(),
		})
		// Prune members that can no longer influence any window, then keep
		// the key itself from outliving its last relevant attempt.
		pipe.ZRemRangeByScore(ctx, key, "-inf",
			strconv.FormatInt(at.Add(-s.retention).UnixMilli(), 10))
		pipe.Expire(ctx, key, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Prune removes attempts older than before from every attempt set. Record
// already trims inline on the write path; Prune is the explicit sweep for
// identifiers that stopped writing.
func (s *Attempts) Prune(ctx context.Context, before time.Time) error {
	max := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	iter := s.redis.Scan(ctx, 0, s.prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.redis.ZRemRangeByScore(ctx, iter.Val(), "-inf", max).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Attempts) CountSince(ctx context.Context, identifier string, action rate.Action, since time.Time) (int, time.Time, error) {
	key := s.key(identifier, action)
	min := strconv.FormatInt(since.UnixMilli(), 10)

	count, err := s.redis.ZCount(ctx, key, min, "+inf").Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count == 0 {
		return 0, time.Time{}, nil
	}

	oldest, err := s.redis.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: min, Max: "+inf", Offset: 0, Count: 1,
	}).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(oldest) == 0 {
		// Raced a prune between the two reads; treat as empty window.
		return 0, time.Time{}, nil
	}
	return int(count), time.UnixMilli(int64(oldest[0].Score)).UTC(), nil
}
