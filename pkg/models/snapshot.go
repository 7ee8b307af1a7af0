package models

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// PurposeUnknown labels tables or columns whose purpose could not be determined.
const PurposeUnknown = "unknown"

// Purpose is a semantic label with a confidence and the evidence behind it.
type Purpose struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Evidence   []string `json:"evidence,omitempty"`
}

// UnknownPurpose is assigned when metadata for a table could not be read.
func UnknownPurpose(evidence ...string) Purpose {
	return Purpose{Label: PurposeUnknown, Confidence: 0, Evidence: evidence}
}

// ColumnDescriptor describes one discovered column.
type ColumnDescriptor struct {
	Name         string  `json:"name"`
	DataType     string  `json:"data_type"`
	Nullable     bool    `json:"nullable"`
	IsPrimaryKey bool    `json:"is_primary_key"`
	IsUnique     bool    `json:"is_unique"`
	IsForeignKey bool    `json:"is_foreign_key"`
	Purpose      Purpose `json:"purpose"`
	SampleValues []any   `json:"sample_values,omitempty"` // bounded distinct values
}

// IsNumeric reports whether the declared type holds numbers.
func (c *ColumnDescriptor) IsNumeric() bool {
	t := strings.ToLower(c.DataType)
	for _, n := range []string{"int", "numeric", "decimal", "float", "double", "real", "money", "number"} {
		if strings.Contains(t, n) {
			return true
		}
	}
	return false
}

// IsTemporal reports whether the declared type holds dates or timestamps.
func (c *ColumnDescriptor) IsTemporal() bool {
	t := strings.ToLower(c.DataType)
	return strings.Contains(t, "date") || strings.Contains(t, "time")
}

// IsText reports whether the declared type holds character data.
func (c *ColumnDescriptor) IsText() bool {
	t := strings.ToLower(c.DataType)
	for _, n := range []string{"char", "text", "string", "clob"} {
		if strings.Contains(t, n) {
			return true
		}
	}
	return false
}

// TableDescriptor describes one discovered table. SampleRows is bounded by
// the introspection sample size and never holds the full table.
type TableDescriptor struct {
	SchemaName string             `json:"schema_name,omitempty"`
	Name       string             `json:"name"`
	Columns    []ColumnDescriptor `json:"columns"`
	Purpose    Purpose            `json:"purpose"`
	SampleRows []map[string]any   `json:"sample_rows,omitempty"`
	RowCount   int64              `json:"row_count"`
}

// Column finds a column by case-insensitive name.
func (t *TableDescriptor) Column(name string) (*ColumnDescriptor, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// PrimaryKey returns the first primary key column name, or "" when none is declared.
func (t *TableDescriptor) PrimaryKey() string {
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			return c.Name
		}
	}
	return ""
}

// Relationship kinds.
const (
	RelationshipExplicitFK = "explicit_fk" // declared constraint, confidence 1.0
	RelationshipInferred   = "inferred"    // naming convention, confidence <= 0.9
)

// MaxInferredConfidence bounds every inferred relationship.
const MaxInferredConfidence = 0.9

// RelationshipEdge links a column in one table to a column in another.
type RelationshipEdge struct {
	FromTable  string  `json:"from_table"`
	FromColumn string  `json:"from_column"`
	ToTable    string  `json:"to_table"`
	ToColumn   string  `json:"to_column"`
	Kind       string  `json:"kind"`
	Confidence float64 `json:"confidence"`
}

// DatabaseInfo identifies the engine behind a snapshot.
type DatabaseInfo struct {
	Dialect      string `json:"dialect"`
	Version      string `json:"version,omitempty"`
	DatabaseName string `json:"database_name,omitempty"`
}

// SchemaSnapshot is an immutable, annotated view of one connection's schema.
// Refresh replaces the whole snapshot; nothing mutates one after construction.
type SchemaSnapshot struct {
	ConnectionID      string                      `json:"connection_id"`
	SourceFingerprint string                      `json:"source_fingerprint"`
	Database          DatabaseInfo                `json:"database"`
	Tables            map[string]*TableDescriptor `json:"tables"`
	Relationships     []RelationshipEdge          `json:"relationships"`
	DiscoveredAt      time.Time                   `json:"discovered_at"`

	indexOnce sync.Once
	byLower   map[string]string
	edgesFrom map[string][]int
	edgesTo   map[string][]int
}

// NewSchemaSnapshot builds a snapshot and its edge indexes. Relationships are
// sorted so snapshots built from the same metadata compare equal.
func NewSchemaSnapshot(connectionID, fingerprint string, db DatabaseInfo, tables []*TableDescriptor, edges []RelationshipEdge, discoveredAt time.Time) *SchemaSnapshot {
	s := &SchemaSnapshot{
		ConnectionID:      connectionID,
		SourceFingerprint: fingerprint,
		Database:          db,
		Tables:            make(map[string]*TableDescriptor, len(tables)),
		Relationships:     append([]RelationshipEdge(nil), edges...),
		DiscoveredAt:      discoveredAt,
	}
	for _, t := range tables {
		s.Tables[t.Name] = t
	}
	sort.Slice(s.Relationships, func(i, j int) bool {
		a, b := s.Relationships[i], s.Relationships[j]
		if a.FromTable != b.FromTable {
			return a.FromTable < b.FromTable
		}
		if a.FromColumn != b.FromColumn {
			return a.FromColumn < b.FromColumn
		}
		if a.ToTable != b.ToTable {
			return a.ToTable < b.ToTable
		}
		return a.ToColumn < b.ToColumn
	})
	s.indexOnce.Do(s.reindex)
	return s
}

func (s *SchemaSnapshot) reindex() {
	s.byLower = make(map[string]string, len(s.Tables))
	for name := range s.Tables {
		s.byLower[strings.ToLower(name)] = name
	}
	s.edgesFrom = map[string][]int{}
	s.edgesTo = map[string][]int{}
	for i, e := range s.Relationships {
		s.edgesFrom[strings.ToLower(e.FromTable)] = append(s.edgesFrom[strings.ToLower(e.FromTable)], i)
		s.edgesTo[strings.ToLower(e.ToTable)] = append(s.edgesTo[strings.ToLower(e.ToTable)], i)
	}
}

// Table finds a table by case-insensitive name.
func (s *SchemaSnapshot) Table(name string) (*TableDescriptor, bool) {
	s.indexOnce.Do(s.reindex)
	key, ok := s.byLower[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return s.Tables[key], true
}

// TableNames returns table names in sorted order.
func (s *SchemaSnapshot) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EdgesFrom returns relationships whose source is table.
func (s *SchemaSnapshot) EdgesFrom(table string) []RelationshipEdge {
	s.indexOnce.Do(s.reindex)
	return s.collect(s.edgesFrom[strings.ToLower(table)])
}

// EdgesTo returns relationships whose target is table.
func (s *SchemaSnapshot) EdgesTo(table string) []RelationshipEdge {
	s.indexOnce.Do(s.reindex)
	return s.collect(s.edgesTo[strings.ToLower(table)])
}

func (s *SchemaSnapshot) collect(idx []int) []RelationshipEdge {
	out := make([]RelationshipEdge, 0, len(idx))
	for _, i := range idx {
		out = append(out, s.Relationships[i])
	}
	return out
}

// FanIn counts relationships that reference table.
func (s *SchemaSnapshot) FanIn(table string) int {
	return len(s.EdgesTo(table))
}

// Expired reports whether the snapshot is older than ttl. A zero ttl never expires.
func (s *SchemaSnapshot) Expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(s.DiscoveredAt) > ttl
}

// SchemaSummary is the compact description returned by a refresh.
type SchemaSummary struct {
	ConnectionID      string       `json:"connection_id"`
	SourceFingerprint string       `json:"source_fingerprint"`
	Database          DatabaseInfo `json:"database"`
	TableCount        int          `json:"table_count"`
	ColumnCount       int          `json:"column_count"`
	RelationshipCount int          `json:"relationship_count"`
	KeyEntities       []string     `json:"key_entities"`
	UnknownTables     []string     `json:"unknown_tables,omitempty"`
	DiscoveredAt      time.Time    `json:"discovered_at"`
}

// Summary describes the snapshot. Key entities are the most referenced tables
// with a known purpose, up to five.
func (s *SchemaSnapshot) Summary() SchemaSummary {
	sum := SchemaSummary{
		ConnectionID:      s.ConnectionID,
		SourceFingerprint: s.SourceFingerprint,
		Database:          s.Database,
		TableCount:        len(s.Tables),
		RelationshipCount: len(s.Relationships),
		DiscoveredAt:      s.DiscoveredAt,
	}
	var known []string
	for _, name := range s.TableNames() {
		t := s.Tables[name]
		sum.ColumnCount += len(t.Columns)
		if t.Purpose.Label == PurposeUnknown {
			sum.UnknownTables = append(sum.UnknownTables, name)
			continue
		}
		known = append(known, name)
	}
	sort.SliceStable(known, func(i, j int) bool {
		return s.FanIn(known[i]) > s.FanIn(known[j])
	})
	if len(known) > 5 {
		known = known[:5]
	}
	sum.KeyEntities = known
	return sum
}

// SourceFingerprint hashes the parts identifying a connection. Credentials
// must not be passed in.
func SourceFingerprint(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
