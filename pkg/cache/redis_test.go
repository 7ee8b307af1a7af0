package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/testhelpers"
)

func configWithBackend(backend string) config.CacheConfig {
	return config.CacheConfig{Backend: backend, TTL: time.Hour, KeyPrefix: "test"}
}

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	r := testhelpers.GetTestRedis(t)

	client, err := NewRedisClient(context.Background(), &config.RedisConfig{Host: r.Host, Port: r.Port})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	// Unique prefix per test keeps the shared container isolated.
	return NewRedisStore(client, fmt.Sprintf("test:%s", uuid.NewString()), zaptest.NewLogger(t))
}

func TestRedisStore_SetIfAbsentAndGet(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)

	ok, err := s.SetIfAbsent(ctx, &models.CacheEntry{Fingerprint: "fp", SourceFingerprint: "src", Payload: []byte(`{"a":1}`)}, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SetIfAbsent(ctx, &models.CacheEntry{Fingerprint: "fp", SourceFingerprint: "src", Payload: []byte(`{"a":2}`)}, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := s.Get(ctx, "fp")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte(`{"a":1}`), got.Payload)
	assert.False(t, got.ExpiresAt.IsZero())

	missing, err := s.Get(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRedisStore_InvalidateSource(t *testing.T) {
	ctx := context.Background()
	s := newRedisStore(t)

	for _, fp := range []string{"a", "b"} {
		_, err := s.SetIfAbsent(ctx, &models.CacheEntry{Fingerprint: fp, SourceFingerprint: "old"}, time.Minute)
		require.NoError(t, err)
	}
	_, err := s.SetIfAbsent(ctx, &models.CacheEntry{Fingerprint: "c", SourceFingerprint: "new"}, time.Minute)
	require.NoError(t, err)

	n, err := s.InvalidateSource(ctx, "old")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, _ := s.Get(ctx, "a")
	assert.Nil(t, got)
	got, _ = s.Get(ctx, "c")
	assert.NotNil(t, got)
}
