package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config.yaml: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "test")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Version != "test" {
		t.Errorf("Version = %q, want %q", cfg.Version, "test")
	}
	if cfg.Port != "3443" {
		t.Errorf("Port = %q, want 3443", cfg.Port)
	}
	if cfg.Annotator.HeuristicCeiling != 0.6 {
		t.Errorf("HeuristicCeiling = %v, want 0.6", cfg.Annotator.HeuristicCeiling)
	}
	if cfg.Mapper.MinScore != 0.6 || cfg.Mapper.TopK != 5 {
		t.Errorf("Mapper = %+v, want min 0.6 topK 5", cfg.Mapper)
	}
	if cfg.Classifier.HighConfidence != 0.75 {
		t.Errorf("HighConfidence = %v, want 0.75", cfg.Classifier.HighConfidence)
	}
	if cfg.Search.TopK != 10 || cfg.Search.MaxTopK != 100 {
		t.Errorf("Search = %+v, want topK 10 max 100", cfg.Search)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Cache.TTL = %v, want 1h", cfg.Cache.TTL)
	}
	if cfg.Resolver.MaxQueryLength != 1000 {
		t.Errorf("MaxQueryLength = %d, want 1000", cfg.Resolver.MaxQueryLength)
	}
	if cfg.Oracle.Enabled() {
		t.Error("oracle should be disabled by default")
	}
	if cfg.DefaultConnectionID() != "" {
		t.Errorf("DefaultConnectionID() = %q, want empty", cfg.DefaultConnectionID())
	}
}

func TestLoad_YAMLWithEnvOverride(t *testing.T) {
	path := writeConfig(t, `
port: "4000"
datasource:
  type: postgres
  host: db.internal
  user: reader
  database: hr
connections:
  - id: warehouse
    type: sqlite
    path: /data/warehouse.db
  - id: legacy
    type: mssql
    host: legacy.internal
    user: sa
    database: hr
    password_env: LEGACY_DB_PASSWORD
mapper:
  min_score: 0.7
`)
	t.Setenv("PORT", "5000")
	t.Setenv("DATASOURCE_PASSWORD", "primary-secret")
	t.Setenv("LEGACY_DB_PASSWORD", "legacy-secret")
	t.Setenv("ORACLE_PROVIDER", "anthropic")

	cfg, err := Load(path, "dev")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Port != "5000" {
		t.Errorf("Port = %q, want env override 5000", cfg.Port)
	}
	if cfg.Mapper.MinScore != 0.7 {
		t.Errorf("Mapper.MinScore = %v, want 0.7", cfg.Mapper.MinScore)
	}
	if !cfg.Oracle.Enabled() {
		t.Error("oracle should be enabled when provider is set")
	}

	conns := cfg.AllConnections()
	if len(conns) != 3 {
		t.Fatalf("AllConnections() len = %d, want 3", len(conns))
	}
	if conns[0].ID != "default" || conns[0].Password != "primary-secret" {
		t.Errorf("primary connection = %+v", conns[0])
	}
	if conns[2].Password != "legacy-secret" {
		t.Errorf("legacy password = %q, want resolved from env", conns[2].Password)
	}
	if cfg.DefaultConnectionID() != "default" {
		t.Errorf("DefaultConnectionID() = %q, want default", cfg.DefaultConnectionID())
	}
}

func TestLoad_RejectsInvalidRanges(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"ceiling above one", "annotator:\n  heuristic_ceiling: 1.5\n"},
		{"inferred confidence above 0.9", "annotator:\n  inferred_base_confidence: 0.95\n"},
		{"negative combiner weight", "combiner:\n  structured_weight: -0.5\n"},
		{"top_k above max", "search:\n  top_k: 500\n  max_top_k: 100\n"},
		{"duplicate connection ids", "connections:\n  - id: a\n    type: sqlite\n  - id: a\n    type: sqlite\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.yaml), "test"); err == nil {
				t.Error("Load() expected error, got nil")
			}
		})
	}
}

func TestConnectionConfig_AdapterConfig(t *testing.T) {
	m := ConnectionConfig{
		Type:     "postgres",
		Host:     "db.internal",
		Port:     5433,
		User:     "reader",
		Password: "secret",
		Database: "hr",
	}.AdapterConfig()

	if m["host"] != "db.internal" || m["port"] != 5433 || m["password"] != "secret" {
		t.Errorf("AdapterConfig() = %v", m)
	}
	if _, ok := m["schema"]; ok {
		t.Error("empty schema should be omitted")
	}
}

func TestResolveHostForDocker_NonLocalUnchanged(t *testing.T) {
	if got := ResolveHostForDocker("db.example.com"); got != "db.example.com" {
		t.Errorf("ResolveHostForDocker() = %q, want unchanged", got)
	}
}
