package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-query/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-query/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
	"github.com/ekaya-inc/ekaya-query/pkg/retry"
)

// RawSchema is the unannotated output of introspection.
type RawSchema struct {
	Database    models.DatabaseInfo
	Tables      []*models.TableDescriptor // sorted by name
	ForeignKeys []datasource.ForeignKeyMetadata
	// Unreadable maps tables whose metadata could not be read to the reason.
	Unreadable map[string]string
}

// IntrospectionOptions bounds how much data discovery reads.
type IntrospectionOptions struct {
	SampleRows   int
	SampleValues int
	MaxTables    int
	Retry        *retry.Config
}

// SchemaIntrospector extracts structural facts from a live database.
type SchemaIntrospector interface {
	// Introspect reads tables, columns, constraints and bounded samples.
	// It fails with *apperrors.ConnectionError when the database cannot be
	// reached. Tables whose metadata cannot be read are kept with no columns
	// and listed in RawSchema.Unreadable.
	Introspect(ctx context.Context, discoverer datasource.SchemaDiscoverer) (*RawSchema, error)
}

type schemaIntrospector struct {
	opts   IntrospectionOptions
	logger *zap.Logger
}

// NewSchemaIntrospector creates a SchemaIntrospector.
func NewSchemaIntrospector(opts IntrospectionOptions, logger *zap.Logger) SchemaIntrospector {
	if opts.SampleRows <= 0 {
		opts.SampleRows = 5
	}
	if opts.SampleValues <= 0 {
		opts.SampleValues = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &schemaIntrospector{opts: opts, logger: logger.Named("schema_introspector")}
}

func (s *schemaIntrospector) Introspect(ctx context.Context, d datasource.SchemaDiscoverer) (*RawSchema, error) {
	info, err := retry.DoWithResult(ctx, s.opts.Retry, s.logger, "database info", func() (*datasource.DatabaseInfo, error) {
		return d.DatabaseInfo(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("read database info: %w", err)
	}

	tables, err := retry.DoWithResult(ctx, s.opts.Retry, s.logger, "discover tables", func() ([]datasource.TableMetadata, error) {
		return d.DiscoverTables(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("discover tables: %w", err)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].TableName < tables[j].TableName })
	if s.opts.MaxTables > 0 && len(tables) > s.opts.MaxTables {
		s.logger.Warn("Table count exceeds limit, truncating",
			zap.Int("tables", len(tables)),
			zap.Int("max_tables", s.opts.MaxTables))
		tables = tables[:s.opts.MaxTables]
	}

	raw := &RawSchema{
		Database: models.DatabaseInfo{
			Dialect:      info.Dialect,
			Version:      info.Version,
			DatabaseName: info.DatabaseName,
		},
		Unreadable: map[string]string{},
	}

	for _, t := range tables {
		desc, err := s.introspectTable(ctx, d, t)
		if err != nil {
			if !errors.Is(err, apperrors.ErrPermission) {
				return nil, err
			}
			s.logger.Warn("Table metadata unreadable, recording as unknown",
				zap.String("table", t.TableName),
				zap.Error(err))
			raw.Unreadable[t.TableName] = err.Error()
			desc = &models.TableDescriptor{SchemaName: t.SchemaName, Name: t.TableName, RowCount: t.RowCount}
		}
		raw.Tables = append(raw.Tables, desc)
	}

	fks, err := retry.DoWithResult(ctx, s.opts.Retry, s.logger, "discover foreign keys", func() ([]datasource.ForeignKeyMetadata, error) {
		return d.DiscoverForeignKeys(ctx)
	})
	switch {
	case err == nil:
		raw.ForeignKeys = keptForeignKeys(raw.Tables, fks)
		if dropped := len(fks) - len(raw.ForeignKeys); dropped > 0 {
			s.logger.Debug("Dropped foreign keys to tables outside the snapshot", zap.Int("foreign_keys", dropped))
		}
	case errors.Is(err, apperrors.ErrPermission):
		s.logger.Warn("Foreign keys unreadable, continuing with inferred relationships only", zap.Error(err))
	default:
		return nil, fmt.Errorf("discover foreign keys: %w", err)
	}
	markForeignKeys(raw)

	s.logger.Info("Schema introspected",
		zap.String("dialect", raw.Database.Dialect),
		zap.Int("tables", len(raw.Tables)),
		zap.Int("foreign_keys", len(raw.ForeignKeys)),
		zap.Int("unreadable", len(raw.Unreadable)))
	return raw, nil
}

func (s *schemaIntrospector) introspectTable(ctx context.Context, d datasource.SchemaDiscoverer, t datasource.TableMetadata) (*models.TableDescriptor, error) {
	cols, err := retry.DoWithResult(ctx, s.opts.Retry, s.logger, "discover columns", func() ([]datasource.ColumnMetadata, error) {
		return d.DiscoverColumns(ctx, t.SchemaName, t.TableName)
	})
	if err != nil {
		return nil, fmt.Errorf("discover columns for %s: %w", t.TableName, err)
	}

	desc := &models.TableDescriptor{
		SchemaName: t.SchemaName,
		Name:       t.TableName,
		RowCount:   t.RowCount,
		Columns:    make([]models.ColumnDescriptor, 0, len(cols)),
	}
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].OrdinalPosition < cols[j].OrdinalPosition })
	for _, c := range cols {
		desc.Columns = append(desc.Columns, models.ColumnDescriptor{
			Name:         c.ColumnName,
			DataType:     c.DataType,
			Nullable:     c.IsNullable,
			IsPrimaryKey: c.IsPrimaryKey,
			IsUnique:     c.IsUnique,
		})
	}

	// Samples are evidence, not structure: failures leave them empty.
	rows, err := d.SampleRows(ctx, t.SchemaName, t.TableName, s.opts.SampleRows)
	if err != nil {
		if errors.Is(err, apperrors.ErrConnection) {
			return nil, err
		}
		s.logger.Debug("Sample rows unavailable", zap.String("table", t.TableName), zap.Error(err))
	} else {
		desc.SampleRows = rows
	}

	for i := range desc.Columns {
		col := &desc.Columns[i]
		if col.IsPrimaryKey || !col.IsText() {
			continue
		}
		values, err := d.GetDistinctValues(ctx, t.SchemaName, t.TableName, col.Name, s.opts.SampleValues)
		if err != nil {
			if errors.Is(err, apperrors.ErrConnection) {
				return nil, err
			}
			s.logger.Debug("Distinct values unavailable",
				zap.String("table", t.TableName),
				zap.String("column", col.Name),
				zap.Error(err))
			continue
		}
		for _, v := range values {
			col.SampleValues = append(col.SampleValues, v)
		}
	}
	return desc, nil
}

// markForeignKeys flags source columns of declared constraints.
func markForeignKeys(raw *RawSchema) {
	byName := make(map[string]*models.TableDescriptor, len(raw.Tables))
	for _, t := range raw.Tables {
		byName[strings.ToLower(t.Name)] = t
	}
	for _, fk := range raw.ForeignKeys {
		t, ok := byName[strings.ToLower(fk.SourceTable)]
		if !ok {
			continue
		}
		if col, ok := t.Column(fk.SourceColumn); ok {
			col.IsForeignKey = true
		}
	}
}

// keptForeignKeys drops constraints whose source or target table was not
// introspected.
func keptForeignKeys(tables []*models.TableDescriptor, fks []datasource.ForeignKeyMetadata) []datasource.ForeignKeyMetadata {
	present := make(map[string]bool, len(tables))
	for _, t := range tables {
		present[t.Name] = true
	}
	kept := fks[:0:0]
	for _, fk := range fks {
		if present[fk.SourceTable] && present[fk.TargetTable] {
			kept = append(kept, fk)
		}
	}
	return kept
}
