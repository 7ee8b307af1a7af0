// Package cache holds resolution payloads keyed by query fingerprint.
package cache

import (
	"context"
	"time"

	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// Store persists cache entries. SetIfAbsent never overwrites a live entry, so
// the first writer for a fingerprint wins and later readers see its payload.
type Store interface {
	// Get returns the live entry for fingerprint, or nil when absent or expired.
	Get(ctx context.Context, fingerprint string) (*models.CacheEntry, error)

	// SetIfAbsent stores entry unless a live entry already exists. It reports
	// whether the entry was written.
	SetIfAbsent(ctx context.Context, entry *models.CacheEntry, ttl time.Duration) (bool, error)

	// InvalidateSource removes every entry computed against sourceFingerprint
	// and returns how many were removed.
	InvalidateSource(ctx context.Context, sourceFingerprint string) (int, error)

	Close() error
}
