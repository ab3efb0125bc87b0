package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding one field per task.
const DefaultRedisKey = "dashdata:state"

// RedisStore keeps records as JSON fields of a single Redis hash, so
// several checkouts can share state.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects using a redis:// URL and pings the server.
func NewRedisStore(ctx context.Context, url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}, nil
}

func (s *RedisStore) Load(ctx context.Context, task string) (Record, bool, error) {
	raw, err := s.client.HGet(ctx, s.key, task).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("redis hget %s: %w", task, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		// An unreadable record only forces a rerun.
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (s *RedisStore) Save(ctx context.Context, task string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.key, task, raw).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", task, err)
	}
	return nil
}

func (s *RedisStore) Forget(ctx context.Context, tasks ...string) error {
	var err error
	if len(tasks) == 0 {
		err = s.client.Del(ctx, s.key).Err()
	} else {
		err = s.client.HDel(ctx, s.key, tasks...).Err()
	}
	if err != nil {
		return fmt.Errorf("redis forget: %w", err)
	}
	return nil
}

func (s *RedisStore) Close() error { return s.client.Close() }
