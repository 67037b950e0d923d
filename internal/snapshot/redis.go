package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/model"
)

// RedisStore keeps the slot under one Redis key, for takers that run on a
// shared host where a local file would not survive the process being moved.
type RedisStore struct {
	rdb redis.Cmdable
	key string
}

func NewRedisStore(rdb redis.Cmdable, slot string) *RedisStore {
	return &RedisStore{rdb: rdb, key: config.CacheKey.SnapshotSlotKey(slot)}
}

func (r *RedisStore) Save(ctx context.Context, s *model.ExamSession) error {
	raw, err := Encode(s)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set snapshot: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context) (*model.ExamSession, error) {
	raw, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get snapshot: %w", err)
	}
	return Decode(raw)
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("redis del snapshot: %w", err)
	}
	return nil
}
