package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/cache"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/snapshotstore"
)

type countingExporter struct {
	exports atomic.Int32
	err     error
}

func (e *countingExporter) Export(context.Context, *models.SchemaSnapshot) (string, error) {
	e.exports.Add(1)
	return "exports/hr/latest.json", e.err
}

func newTestSchemaCache(t *testing.T, adapter *fakeAdapter, ttl time.Duration, invalidator sourceInvalidator, exporter *countingExporter) *SchemaCache {
	t.Helper()
	conn := NewConnection(config.ConnectionConfig{ID: "hr", Type: "postgres", Host: "db.internal", Port: 5432, Database: "hr"}, adapter)
	var exp snapshotstore.Exporter
	if exporter != nil {
		exp = exporter
	}
	return NewSchemaCache(
		SchemaCacheOptions{TTL: ttl},
		[]*Connection{conn},
		NewSchemaIntrospector(IntrospectionOptions{Retry: noRetry()}, nil),
		NewSemanticAnnotator(AnnotatorOptions{}, nil, nil, nil),
		invalidator,
		exp,
		zaptest.NewLogger(t),
	)
}

func TestNewConnection_FingerprintExcludesCredentials(t *testing.T) {
	base := config.ConnectionConfig{ID: "hr", Type: "postgres", Host: "db", Port: 5432, Database: "hr", Password: "one"}
	other := base
	other.Password = "two"
	assert.Equal(t, NewConnection(base, nil).Fingerprint, NewConnection(other, nil).Fingerprint)

	other.Database = "finance"
	assert.NotEqual(t, NewConnection(base, nil).Fingerprint, NewConnection(other, nil).Fingerprint)
}

func TestSchemaCache_ConcurrentGetsShareOneDiscovery(t *testing.T) {
	adapter := hrAdapter()
	adapter.discoverDelay = 50 * time.Millisecond
	sc := newTestSchemaCache(t, adapter, time.Hour, nil, nil)

	const callers = 10
	snaps := make([]*models.SchemaSnapshot, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := sc.Get(context.Background(), "hr")
			assert.NoError(t, err)
			snaps[i] = snap
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), adapter.discoverCalls.Load())
	for _, s := range snaps {
		assert.Same(t, snaps[0], s)
	}
}

func TestSchemaCache_ExpiredSnapshotIsRediscovered(t *testing.T) {
	adapter := hrAdapter()
	sc := newTestSchemaCache(t, adapter, time.Minute, nil, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sc.now = func() time.Time { return now }

	first, err := sc.Get(context.Background(), "hr")
	require.NoError(t, err)
	again, err := sc.Get(context.Background(), "hr")
	require.NoError(t, err)
	assert.Same(t, first, again)
	assert.Equal(t, int32(1), adapter.discoverCalls.Load())

	now = now.Add(2 * time.Minute)
	replaced, err := sc.Get(context.Background(), "hr")
	require.NoError(t, err)
	assert.NotSame(t, first, replaced)
	assert.Equal(t, int32(2), adapter.discoverCalls.Load())
}

func TestSchemaCache_RefreshInvalidatesAndExports(t *testing.T) {
	store := cache.NewMemoryStore()
	exporter := &countingExporter{err: errors.New("bucket unreachable")}
	sc := newTestSchemaCache(t, hrAdapter(), time.Hour, store, exporter)
	ctx := context.Background()

	snap, err := sc.Get(ctx, "hr")
	require.NoError(t, err)

	written, err := store.SetIfAbsent(ctx, &models.CacheEntry{
		Fingerprint:       "q1",
		SourceFingerprint: snap.SourceFingerprint,
		Payload:           []byte(`{}`),
		CreatedAt:         time.Now(),
		ExpiresAt:         time.Now().Add(time.Hour),
	}, time.Hour)
	require.NoError(t, err)
	require.True(t, written)

	_, err = sc.Refresh(ctx, "hr")
	require.NoError(t, err, "export failures do not fail a refresh")
	assert.Zero(t, store.Len())
	assert.Equal(t, int32(2), exporter.exports.Load())
}

func TestSchemaCache_DiscoveryOutlivesCancelledCaller(t *testing.T) {
	adapter := hrAdapter()
	adapter.discoverDelay = 50 * time.Millisecond
	sc := newTestSchemaCache(t, adapter, time.Hour, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err := sc.Get(ctx, "hr")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		_, ok := sc.Peek("hr")
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestSchemaCache_Errors(t *testing.T) {
	adapter := hrAdapter()
	adapter.tablesErr = apperrors.NewConnectionError("db.internal", errors.New("connection refused"))
	sc := newTestSchemaCache(t, adapter, time.Hour, nil, nil)

	_, err := sc.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = sc.Get(context.Background(), "hr")
	assert.ErrorIs(t, err, apperrors.ErrConnection)
	_, ok := sc.Peek("hr")
	assert.False(t, ok)
}

func TestSchemaCache_Close(t *testing.T) {
	adapter := hrAdapter()
	sc := newTestSchemaCache(t, adapter, time.Hour, nil, nil)
	_, err := sc.Get(context.Background(), "hr")
	require.NoError(t, err)

	require.NoError(t, sc.Close())
	assert.True(t, adapter.closed.Load())
	_, ok := sc.Peek("hr")
	assert.False(t, ok)

	_, err = sc.Get(context.Background(), "hr")
	assert.ErrorIs(t, err, apperrors.ErrSchemaUnavailable)
	assert.NoError(t, sc.Close(), "second close is a no-op")
}
