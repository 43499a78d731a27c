package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/bidwise/rfpcore/core"
)

// RedisStore implements Store on a shared Redis instance. Entries are
// stored as JSON under a namespaced key with Redis-native expiry; version
// bumps and increments run inside WATCH transactions.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    core.Logger
}

// NewRedisStore creates a store on an already-connected Redis client.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "rfpcore:state"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    &core.NoOpLogger{},
	}
}

// SetLogger configures the logger for this store.
func (s *RedisStore) SetLogger(logger core.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *RedisStore) redisKey(key string) string {
	return s.keyPrefix + ":" + key
}

// Set writes a value, carrying the version counter forward on overwrite.
func (s *RedisStore) Set(ctx context.Context, key string, value interface{}, category Category, ttl time.Duration) error {
	rkey := s.redisKey(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		now := time.Now()
		entry := Entry{
			Key:       key,
			Value:     value,
			Category:  category,
			CreatedAt: now,
			UpdatedAt: now,
			Version:   1,
		}

		if data, err := tx.Get(ctx, rkey).Bytes(); err == nil {
			var existing Entry
			if err := json.Unmarshal(data, &existing); err == nil {
				entry.CreatedAt = existing.CreatedAt
				entry.Version = existing.Version + 1
			}
		}
		if ttl > 0 {
			entry.ExpiresAt = now.Add(ttl)
		}

		data, err := json.Marshal(&entry)
		if err != nil {
			return fmt.Errorf("marshaling state entry %s: %w", key, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, data, ttl)
			return nil
		})
		return err
	}, rkey)
}

// Get returns the value at key.
func (s *RedisStore) Get(ctx context.Context, key string) (interface{}, bool) {
	entry, ok := s.GetEntry(ctx, key)
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// GetEntry returns the full entry at key. Redis enforces expiry natively;
// the entry-level check guards clock drift between writers.
func (s *RedisStore) GetEntry(ctx context.Context, key string) (*Entry, bool) {
	data, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("State read failed", map[string]interface{}{
				"operation": "state_get",
				"key":       key,
				"error":     err.Error(),
			})
		}
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		s.logger.Error("Discarding undecodable state entry", map[string]interface{}{
			"operation": "state_get",
			"key":       key,
			"error":     err.Error(),
		})
		return nil, false
	}
	if entry.expired(time.Now()) {
		s.client.Del(ctx, s.redisKey(key))
		return nil, false
	}
	return &entry, true
}

// Delete removes the entry at key.
func (s *RedisStore) Delete(ctx context.Context, key string) bool {
	removed, err := s.client.Del(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false
	}
	return removed > 0
}

// Exists reports whether a live entry is present at key.
func (s *RedisStore) Exists(ctx context.Context, key string) bool {
	_, ok := s.GetEntry(ctx, key)
	return ok
}

// GetAll returns all live values whose keys match the glob pattern.
// Uses SCAN to avoid blocking the server on large keyspaces.
func (s *RedisStore) GetAll(ctx context.Context, pattern string) map[string]interface{} {
	out := make(map[string]interface{})
	match := s.redisKey(pattern)
	iter := s.client.Scan(ctx, 0, match, 100).Iterator()
	prefixLen := len(s.keyPrefix) + 1
	for iter.Next(ctx) {
		rkey := iter.Val()
		if len(rkey) <= prefixLen {
			continue
		}
		key := rkey[prefixLen:]
		if entry, ok := s.GetEntry(ctx, key); ok {
			out[key] = entry.Value
		}
	}
	if err := iter.Err(); err != nil {
		s.logger.Warn("State scan failed", map[string]interface{}{
			"operation": "state_get_all",
			"pattern":   pattern,
			"error":     err.Error(),
		})
	}
	return out
}

// Increment atomically adds delta to the integer at key. Retries on
// transaction conflicts with concurrent writers.
func (s *RedisStore) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	rkey := s.redisKey(key)
	var result int64

	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			now := time.Now()
			entry := Entry{
				Key:       key,
				Value:     float64(0),
				Category:  CategoryCache,
				CreatedAt: now,
				Version:   0,
			}
			if data, err := tx.Get(ctx, rkey).Bytes(); err == nil {
				if err := json.Unmarshal(data, &entry); err != nil {
					return fmt.Errorf("unmarshaling state entry %s: %w", key, err)
				}
			}

			// JSON numbers decode as float64.
			current, ok := entry.Value.(float64)
			if !ok {
				return fmt.Errorf("state.Increment [%s]: value is not an integer", key)
			}
			result = int64(current) + delta
			entry.Value = float64(result)
			entry.UpdatedAt = now
			entry.Version++

			data, err := json.Marshal(&entry)
			if err != nil {
				return fmt.Errorf("marshaling state entry %s: %w", key, err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, rkey, data, redis.KeepTTL)
				return nil
			})
			return err
		}, rkey)

		if err == nil {
			return result, nil
		}
		if err != redis.TxFailedErr {
			return 0, err
		}
	}
	return 0, fmt.Errorf("state.Increment [%s]: too many transaction conflicts", key)
}

// Close is a no-op; the Redis client is managed externally.
func (s *RedisStore) Close() error {
	return nil
}
