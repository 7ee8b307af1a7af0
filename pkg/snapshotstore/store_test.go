package snapshotstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-query/pkg/config"
	"github.com/ekaya-inc/ekaya-query/pkg/models"
)

type fakePutter struct {
	objects map[string][]byte
	err     error
}

func (f *fakePutter) Put(_ context.Context, bucket, key string, body io.Reader, _ int64, _ string) error {
	if f.err != nil {
		return f.err
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[bucket+"/"+key] = b
	return nil
}

func testSnapshot() *models.SchemaSnapshot {
	return models.NewSchemaSnapshot("hr/main", "abcdef0123456789", models.DatabaseInfo{Dialect: "sqlite"},
		[]*models.TableDescriptor{{Name: "employees", Purpose: models.Purpose{Label: "employee", Confidence: 0.6}}},
		nil, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestStore_Export(t *testing.T) {
	fp := &fakePutter{objects: map[string][]byte{}}
	s := newStore(fp, "snaps", "/exports/", nil)

	key, err := s.Export(context.Background(), testSnapshot())
	require.NoError(t, err)
	assert.Equal(t, "exports/hr_main/20260301T120000Z-abcdef012345.json", key)

	require.Contains(t, fp.objects, "snaps/"+key)
	require.Contains(t, fp.objects, "snaps/exports/hr_main/latest.json")

	var decoded models.SchemaSnapshot
	require.NoError(t, json.Unmarshal(fp.objects["snaps/"+key], &decoded))
	assert.Equal(t, "employee", decoded.Tables["employees"].Purpose.Label)
}

func TestStore_ExportError(t *testing.T) {
	s := newStore(&fakePutter{err: errors.New("denied")}, "snaps", "", nil)
	_, err := s.Export(context.Background(), testSnapshot())
	assert.ErrorContains(t, err, "denied")
}

func TestNew_DisabledReturnsNop(t *testing.T) {
	exp, err := New(context.Background(), config.SnapshotStoreConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, exp)
}

func TestParseEndpoint(t *testing.T) {
	host, secure, err := parseEndpoint("https://s3.example.com", false)
	require.NoError(t, err)
	assert.Equal(t, "s3.example.com", host)
	assert.True(t, secure)

	host, secure, err = parseEndpoint("localhost:9000", false)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9000", host)
	assert.False(t, secure)

	_, _, err = parseEndpoint("", false)
	assert.Error(t, err)
}
