package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	_ "modernc.org/sqlite"

	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/services"
)

const hrSchema = `
CREATE TABLE departments (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
CREATE TABLE employees (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	department_id INTEGER REFERENCES departments(id)
);
INSERT INTO departments VALUES (1, 'Engineering'), (2, 'Sales');
INSERT INTO employees VALUES (1, 'Ada', 1), (2, 'Grace', 1), (3, 'Linus', 2);
`

func writeHRDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hr.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(hrSchema)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	return path
}

func writeConfig(t *testing.T, dbPath string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "env: test\n" +
		"logging:\n  level: error\n" +
		"datasource:\n  id: hr\n  type: sqlite\n  path: " + dbPath + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, Version+"\n", out)
}

func TestDriversCommand(t *testing.T) {
	out, err := run(t, "drivers")
	require.NoError(t, err)

	var infos []struct {
		Type string `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	var types []string
	for _, info := range infos {
		types = append(types, info.Type)
	}
	assert.Equal(t, []string{"mssql", "mysql", "postgres", "sqlite"}, types)
}

func TestResolveCommand_SQLite(t *testing.T) {
	cfgPath := writeConfig(t, writeHRDatabase(t))

	out, err := run(t, "--config", cfgPath, "resolve", "How many employees do we have?")
	require.NoError(t, err)

	var got struct {
		Result struct {
			ConnectionID   string `json:"connection_id"`
			Classification struct {
				Type string `json:"type"`
			} `json:"classification"`
			Items []struct {
				Payload map[string]any `json:"payload"`
			} `json:"items"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, "hr", got.Result.ConnectionID)
	assert.Equal(t, "STRUCTURED", got.Result.Classification.Type)
	require.Len(t, got.Result.Items, 1)
	assert.EqualValues(t, 3, got.Result.Items[0].Payload["count"])
}

func TestRefreshSchemaCommand_SQLite(t *testing.T) {
	cfgPath := writeConfig(t, writeHRDatabase(t))

	out, err := run(t, "--config", cfgPath, "refresh-schema", "hr")
	require.NoError(t, err)

	var summary struct {
		TableCount        int `json:"table_count"`
		RelationshipCount int `json:"relationship_count"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary), out)
	assert.Equal(t, 2, summary.TableCount)
	assert.Equal(t, 1, summary.RelationshipCount)
}

func TestRefreshSchemaCommand_UnknownConnection(t *testing.T) {
	cfgPath := writeConfig(t, writeHRDatabase(t))

	_, err := run(t, "--config", cfgPath, "refresh-schema", "nope")
	assert.Error(t, err)
}

func TestBuildApp_RejectsUnknownSearchBackend(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"), "test")
	require.NoError(t, err)
	cfg.Search.Backend = "elastic"

	_, err = buildApp(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorContains(t, err, "unknown search backend")
}

type staticHealth services.HealthReport

func (h staticHealth) Health(context.Context) services.HealthReport { return services.HealthReport(h) }

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		report services.HealthReport
		code   int
	}{
		{services.HealthReport{Status: "ok", DocumentSearch: "disabled"}, http.StatusOK},
		{services.HealthReport{Status: "degraded", Connections: map[string]string{"hr": "refused"}}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		healthHandler(staticHealth(tt.report)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, tt.code, rec.Code)
		var got services.HealthReport
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, tt.report.Status, got.Status)
	}
}
