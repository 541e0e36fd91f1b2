package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/meridian-lab/meridian-trading/pkg/errors"
)

// redisKeyPrefix namespaces session snapshots in a shared redis.
const redisKeyPrefix = "meridian:session:"

// RedisStore persists snapshots in redis with a TTL, so pruning is handled
// by the server and a crashed host can recover state from elsewhere.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeStateLoadFailed, "failed to connect to redis", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func redisKey(date string) string {
	return redisKeyPrefix + date
}

// Save writes the snapshot under its date key with the store TTL.
func (s *RedisStore) Save(ctx context.Context, snapshot Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrap(errors.ErrCodeStatePersistFailed, "failed to encode session state", err)
	}

	if err := s.client.Set(ctx, redisKey(snapshot.Date), payload, s.ttl).Err(); err != nil {
		return errors.Wrap(errors.ErrCodeStatePersistFailed, "failed to write session state to redis", err)
	}

	return nil
}

// Load reads the snapshot for the date; ok is false when the key is absent.
func (s *RedisStore) Load(ctx context.Context, date string) (Snapshot, bool, error) {
	payload, err := s.client.Get(ctx, redisKey(date)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return Snapshot{}, false, nil
		}

		return Snapshot{}, false, errors.Wrap(errors.ErrCodeStateLoadFailed, "failed to read session state from redis", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return Snapshot{}, false, errors.Wrap(errors.ErrCodeStateLoadFailed, "failed to decode session state", err)
	}

	return snapshot, true, nil
}

// Prune is a no-op: the TTL set on Save expires old snapshots server-side.
func (s *RedisStore) Prune(context.Context, time.Time, time.Duration) error {
	return nil
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
