package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "spltransfer:journal:"

// RedisStore shares entries between processes through redis. Begin is
// guarded with WATCH so two processes cannot both start the same request.
type RedisStore struct {
	rdb          *redis.Client
	ttl          time.Duration
	numOfRetries int
	retryDelay   time.Duration
}

// NewRedisStore creates a store over rdb. Settled entries expire ttl after
// their last write; zero keeps them forever. Pending and unknown entries never
// expire.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb:          rdb,
		ttl:          ttl,
		numOfRetries: maxRetries,
		retryDelay:   10 * time.Millisecond,
	}
}

// NewRedisStoreFromURL parses a redis:// URL and connects
func NewRedisStoreFromURL(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisStore(rdb, ttl), nil
}

// Begin implements Store
func (s *RedisStore) Begin(ctx context.Context, entry Entry) (*Entry, bool, error) {
	entry.Status = StatusPending
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, false, err
	}
	key := redisKeyPrefix + entry.RequestID

	var existing *Entry
	var started bool
	for range s.numOfRetries {
		existing, started = nil, false
		err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, key).Bytes()
			switch {
			case err == nil:
				var e Entry
				if err := json.Unmarshal(current, &e); err != nil {
					return fmt.Errorf("failed to decode journal entry: %w", err)
				}
				if !e.replaceable() {
					existing = &e
					return nil
				}
			case errors.Is(err, redis.Nil):
			default:
				return fmt.Errorf("failed to read journal entry: %w", err)
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttlFor(entry))
				return nil
			})
			if err == nil {
				started = true
			}
			return err
		}, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
		time.Sleep(s.retryDelay)
	}
	if err != nil {
		return nil, false, err
	}
	return existing, started, nil
}

// Save implements Store
func (s *RedisStore) Save(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, redisKeyPrefix+entry.RequestID, payload, s.ttlFor(entry)).Err(); err != nil {
		return fmt.Errorf("failed to save journal entry: %w", err)
	}
	return nil
}

func (s *RedisStore) ttlFor(entry Entry) time.Duration {
	if !entry.expires() {
		return 0
	}
	return s.ttl
}

// Get implements Store
func (s *RedisStore) Get(ctx context.Context, requestID string) (*Entry, error) {
	payload, err := s.rdb.Get(ctx, redisKeyPrefix+requestID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get journal entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("failed to decode journal entry: %w", err)
	}
	return &entry, nil
}

// Close implements Store
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

var _ Store = (*RedisStore)(nil)
