// Package snapshotstore exports annotated schema snapshots to S3-compatible
// object storage after each refresh, for offline inspection and diffing.
package snapshotstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

// Exporter receives every freshly discovered snapshot.
type Exporter interface {
	Export(ctx context.Context, snapshot *models.SchemaSnapshot) (string, error)
}

// Nop discards snapshots.
type Nop struct{}

func (Nop) Export(context.Context, *models.SchemaSnapshot) (string, error) { return "", nil }

type putter interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
}

// Store writes snapshots as JSON objects. Each export writes a versioned
// object and overwrites <connection>/latest.json.
type Store struct {
	client putter
	bucket string
	prefix string
	logger *zap.Logger
}

// New connects to the configured endpoint. Returns Nop when export is disabled.
func New(ctx context.Context, cfg config.SnapshotStoreConfig, logger *zap.Logger) (Exporter, error) {
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("snapshot_store.bucket is required")
	}

	endpoint, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	exists, err := mc.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := mc.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %q: %w", cfg.Bucket, err)
		}
	}

	return newStore(&minioPutter{client: mc}, cfg.Bucket, cfg.Prefix, logger), nil
}

func newStore(client putter, bucket, prefix string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(strings.TrimSpace(prefix), "/"),
		logger: logger.Named("snapshot_store"),
	}
}

// Export writes snapshot and returns the versioned object key.
func (s *Store) Export(ctx context.Context, snapshot *models.SchemaSnapshot) (string, error) {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	dir := path.Join(s.prefix, safeSegment(snapshot.ConnectionID))
	fp := snapshot.SourceFingerprint
	if len(fp) > 12 {
		fp = fp[:12]
	}
	key := path.Join(dir, fmt.Sprintf("%s-%s.json", snapshot.DiscoveredAt.UTC().Format("20060102T150405Z"), fp))

	for _, k := range []string{key, path.Join(dir, "latest.json")} {
		if err := s.client.Put(ctx, s.bucket, k, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
			return "", fmt.Errorf("put object %q: %w", k, err)
		}
	}

	s.logger.Info("Exported schema snapshot",
		zap.String("connection_id", snapshot.ConnectionID),
		zap.String("key", key),
		zap.Int("bytes", len(body)))
	return key, nil
}

// safeSegment keeps connection ids from escaping their directory.
func safeSegment(s string) string {
	s = strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(strings.TrimSpace(s))
	if s == "" {
		return "default"
	}
	return s
}

func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, fmt.Errorf("snapshot_store.endpoint is required")
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		parsed, err := url.Parse(raw)
		if err != nil {
			return "", false, fmt.Errorf("parse endpoint URL: %w", err)
		}
		if parsed.Host == "" {
			return "", false, fmt.Errorf("endpoint host is required")
		}
		return parsed.Host, parsed.Scheme == "https" || useSSL, nil
	}
	return raw, useSSL, nil
}

type minioPutter struct {
	client *minio.Client
}

func (m *minioPutter) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, bucket, key, body, size, minio.PutObjectOptions{ContentType: contentType})
	return err
}
