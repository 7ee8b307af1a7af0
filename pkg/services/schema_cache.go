package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/metrics"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/snapshotstore"
)

// Connection is a configured datasource and its identity.
type Connection struct {
	ID string
	// Fingerprint hashes the connection identity without credentials.
	Fingerprint string
	Adapter     datasource.Adapter
}

// NewConnection builds a Connection from its configuration.
func NewConnection(cfg config.ConnectionConfig, adapter datasource.Adapter) *Connection {
	return &Connection{
		ID: cfg.ID,
		Fingerprint: models.SourceFingerprint(
			cfg.ID, cfg.Type, cfg.Host, fmt.Sprint(cfg.Port), cfg.Database, cfg.Schema, cfg.Path,
		),
		Adapter: adapter,
	}
}

// sourceInvalidator drops cached resolutions built on a replaced snapshot.
type sourceInvalidator interface {
	InvalidateSource(ctx context.Context, sourceFingerprint string) (int, error)
}

// SchemaCacheOptions configures snapshot lifetime.
type SchemaCacheOptions struct {
	TTL              time.Duration
	DiscoveryTimeout time.Duration
}

// SchemaCache holds the current snapshot per connection. It starts empty,
// is populated by the first discovery of each connection, and replaces a
// snapshot wholesale on refresh or expiry. At most one discovery runs per
// connection; concurrent callers wait on it.
type SchemaCache struct {
	opts         SchemaCacheOptions
	introspector SchemaIntrospector
	annotator    SemanticAnnotator
	invalidator  sourceInvalidator
	exporter     snapshotstore.Exporter
	logger       *zap.Logger
	now          func() time.Time

	mu          sync.RWMutex
	connections map[string]*Connection
	snapshots   map[string]*models.SchemaSnapshot
	closed      bool

	discovery singleflight.Group
}

// NewSchemaCache creates an empty cache over connections. invalidator and
// exporter may be nil.
func NewSchemaCache(
	opts SchemaCacheOptions,
	connections []*Connection,
	introspector SchemaIntrospector,
	annotator SemanticAnnotator,
	invalidator sourceInvalidator,
	exporter snapshotstore.Exporter,
	logger *zap.Logger,
) *SchemaCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if exporter == nil {
		exporter = snapshotstore.Nop{}
	}
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = 2 * time.Minute
	}
	c := &SchemaCache{
		opts:         opts,
		introspector: introspector,
		annotator:    annotator,
		invalidator:  invalidator,
		exporter:     exporter,
		logger:       logger.Named("schema_cache"),
		now:          time.Now,
		connections:  make(map[string]*Connection, len(connections)),
		snapshots:    map[string]*models.SchemaSnapshot{},
	}
	for _, conn := range connections {
		c.connections[conn.ID] = conn
	}
	return c
}

// Connection returns a configured connection.
func (c *SchemaCache) Connection(id string) (*Connection, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.connections[id]
	if !ok {
		return nil, fmt.Errorf("%w: connection %q", apperrors.ErrNotFound, id)
	}
	return conn, nil
}

// ConnectionIDs lists configured connections in sorted order.
func (c *SchemaCache) ConnectionIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return sortedKeys(c.connections)
}

// Get returns the current snapshot, discovering it when absent or expired.
func (c *SchemaCache) Get(ctx context.Context, connectionID string) (*models.SchemaSnapshot, error) {
	c.mu.RLock()
	snap, ok := c.snapshots[connectionID]
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: schema cache closed", apperrors.ErrSchemaUnavailable)
	}
	if ok && !snap.Expired(c.opts.TTL, c.now()) {
		return snap, nil
	}
	return c.Refresh(ctx, connectionID)
}

// Peek returns the current snapshot without triggering discovery.
func (c *SchemaCache) Peek(connectionID string) (*models.SchemaSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.snapshots[connectionID]
	return snap, ok
}

// Refresh discovers the schema and swaps in the new snapshot. Callers
// arriving while a discovery for the same connection is in flight share its
// outcome. The discovery runs detached from any single caller's
// cancellation, bounded by the discovery timeout.
func (c *SchemaCache) Refresh(ctx context.Context, connectionID string) (*models.SchemaSnapshot, error) {
	conn, err := c.Connection(connectionID)
	if err != nil {
		return nil, err
	}

	ch := c.discovery.DoChan(connectionID, func() (any, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.opts.DiscoveryTimeout)
		defer cancel()
		return c.discover(dctx, conn)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.SchemaSnapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *SchemaCache) discover(ctx context.Context, conn *Connection) (*models.SchemaSnapshot, error) {
	start := time.Now()
	raw, err := c.introspector.Introspect(ctx, conn.Adapter)
	metrics.ObserveDiscovery(conn.ID, time.Since(start), err)
	if err != nil {
		c.logger.Error("Schema discovery failed", zap.String("connection_id", conn.ID), zap.Error(err))
		return nil, err
	}

	snap := c.annotator.Annotate(ctx, conn.ID, conn.Fingerprint, raw, c.now())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: schema cache closed", apperrors.ErrSchemaUnavailable)
	}
	old := c.snapshots[conn.ID]
	c.snapshots[conn.ID] = snap
	c.mu.Unlock()

	if old != nil && c.invalidator != nil {
		n, err := c.invalidator.InvalidateSource(ctx, old.SourceFingerprint)
		if err != nil {
			c.logger.Warn("Failed to invalidate cached resolutions",
				zap.String("connection_id", conn.ID),
				zap.Error(err))
		} else {
			c.logger.Debug("Invalidated cached resolutions",
				zap.String("connection_id", conn.ID),
				zap.Int("entries", n))
		}
	}

	if _, err := c.exporter.Export(ctx, snap); err != nil {
		c.logger.Warn("Snapshot export failed", zap.String("connection_id", conn.ID), zap.Error(err))
	}

	c.logger.Info("Schema snapshot replaced",
		zap.String("connection_id", conn.ID),
		zap.Int("tables", len(snap.Tables)),
		zap.Int("relationships", len(snap.Relationships)),
		zap.Duration("elapsed", time.Since(start)))
	return snap, nil
}

// Close drops every snapshot and closes the connections' adapters.
func (c *SchemaCache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.snapshots = map[string]*models.SchemaSnapshot{}
	conns := make([]*Connection, 0, len(c.connections))
	for _, conn := range c.connections {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })
	var errs []error
	for _, conn := range conns {
		if conn.Adapter == nil {
			continue
		}
		if err := conn.Adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", conn.ID, err))
		}
	}
	return errors.Join(errs...)
}
