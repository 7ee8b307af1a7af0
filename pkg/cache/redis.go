package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// RedisStore keeps entries in Redis. Each entry lives under
// <prefix>:entry:<fingerprint>; a set under <prefix>:source:<sourceFingerprint>
// indexes the fingerprints computed against one schema snapshot.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisClient creates a Redis client and verifies the connection.
// Returns nil if Redis is not configured (host is empty).
func NewRedisClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	if cfg.Host == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.ResolveHostForDocker(cfg.Host), cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisStore wraps client.
func NewRedisStore(client *redis.Client, prefix string, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, logger: logger.Named("redis_cache")}
}

func (s *RedisStore) entryKey(fingerprint string) string {
	return s.prefix + ":entry:" + fingerprint
}

func (s *RedisStore) sourceKey(sourceFingerprint string) string {
	return s.prefix + ":source:" + sourceFingerprint
}

func (s *RedisStore) Get(ctx context.Context, fingerprint string) (*models.CacheEntry, error) {
	raw, err := s.client.Get(ctx, s.entryKey(fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		s.logger.Warn("Dropping undecodable cache entry", zap.String("fingerprint", fingerprint), zap.Error(err))
		s.client.Del(ctx, s.entryKey(fingerprint))
		return nil, nil
	}
	return &entry, nil
}

func (s *RedisStore) SetIfAbsent(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) (bool, error) {
	cp := *entry
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if ttl > 0 {
		cp.ExpiresAt = cp.CreatedAt.Add(ttl)
	}

	raw, err := json.Marshal(&cp)
	if err != nil {
		return false, fmt.Errorf("encode cache entry: %w", err)
	}

	written, err := s.client.SetNX(ctx, s.entryKey(cp.Fingerprint), raw, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	if !written {
		return false, nil
	}

	if cp.SourceFingerprint != "" {
		srcKey := s.sourceKey(cp.SourceFingerprint)
		pipe := s.client.TxPipeline()
		pipe.SAdd(ctx, srcKey, cp.Fingerprint)
		if ttl > 0 {
			pipe.Expire(ctx, srcKey, ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return true, fmt.Errorf("redis index source: %w", err)
		}
	}
	return true, nil
}

func (s *RedisStore) InvalidateSource(ctx context.Context, sourceFingerprint string) (int, error) {
	srcKey := s.sourceKey(sourceFingerprint)
	fingerprints, err := s.client.SMembers(ctx, srcKey).Result()
	if err != nil {
		return 0, fmt.Errorf("redis smembers: %w", err)
	}

	keys := make([]string, 0, len(fingerprints)+1)
	for _, fp := range fingerprints {
		keys = append(keys, s.entryKey(fp))
	}
	keys = append(keys, srcKey)

	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}
	// The source index key itself is not an entry.
	if removed > int64(len(fingerprints)) {
		removed = int64(len(fingerprints))
	}
	return int(removed), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
