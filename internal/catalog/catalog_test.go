package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cobquec/internal/testutil"
)

func createTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")
	c1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, c1.Close())

	c2, err := Open(path)
	require.NoError(t, err)
	defer c2.Close()

	var version int
	require.NoError(t, c2.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var mode string
	require.NoError(t, c2.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpen_Memory(t *testing.T) {
	c, err := Open(":memory:")
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Put(context.Background(), "mini", "mini1", testutil.Corpus(t))
	require.NoError(t, err)
	list, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestPutGet_RoundTrip(t *testing.T) {
	ctx := context.Background()
	c := createTestCatalog(t)
	cfg := testutil.Corpus(t)

	s, err := c.Put(ctx, "mini", "mini1", cfg)
	require.NoError(t, err)
	assert.Equal(t, "mini", s.Name)
	assert.Equal(t, "mini1", s.Schema)
	assert.Equal(t, 1, s.Revision)
	assert.Len(t, s.Hash, 64)

	e, err := c.Get(ctx, "mini")
	require.NoError(t, err)
	assert.Equal(t, "mini1", e.Schema)
	assert.Equal(t, s.Hash, e.Hash)
	assert.Equal(t, cfg.FirstClass, e.Config.FirstClass)
	assert.Equal(t, cfg.LayerNames(), e.Config.LayerNames())
	assert.Equal(t, "token_lemma", e.Config.Mapping.Layer["Token"].Attributes["lemma"].Name)
	assert.Contains(t, e.Config.Layer["Token"].Meta, "misc")
}

func TestPut_Revisions(t *testing.T) {
	ctx := context.Background()
	c := createTestCatalog(t)
	cfg := testutil.Corpus(t)

	first, err := c.Put(ctx, "mini", "mini1", cfg)
	require.NoError(t, err)

	same, err := c.Put(ctx, "mini", "mini1", cfg)
	require.NoError(t, err)
	assert.Equal(t, first, same, "registering the same descriptor is a no-op")

	changed, err := c.Put(ctx, "mini", "mini2", testutil.FTSCorpus(t))
	require.NoError(t, err)
	assert.Equal(t, 2, changed.Revision)
	assert.Equal(t, "mini2", changed.Schema)
	assert.NotEqual(t, first.Hash, changed.Hash)

	e, err := c.Get(ctx, "mini")
	require.NoError(t, err)
	assert.True(t, e.Config.Mapping.HasFTS)
}

func TestPut_Invalid(t *testing.T) {
	ctx := context.Background()
	c := createTestCatalog(t)

	tests := []struct {
		name   string
		corpus string
		schema string
	}{
		{"empty name", "", "s"},
		{"empty schema", "mini", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Put(ctx, tt.corpus, tt.schema, testutil.Corpus(t))
			assert.Error(t, err)
		})
	}

	t.Run("invalid descriptor", func(t *testing.T) {
		cfg := testutil.Corpus(t)
		cfg.FirstClass.Token = "Missing"
		_, err := c.Put(ctx, "mini", "mini1", cfg)
		assert.ErrorContains(t, err, "firstClass.token")
	})
}

func TestGet_NotFound(t *testing.T) {
	c := createTestCatalog(t)
	_, err := c.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_Ordered(t *testing.T) {
	ctx := context.Background()
	c := createTestCatalog(t)
	for _, name := range []string{"zeta", "Alpha", "beta"} {
		_, err := c.Put(ctx, name, name+"1", testutil.Corpus(t))
		require.NoError(t, err)
	}

	list, err := c.List(ctx)
	require.NoError(t, err)
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"Alpha", "beta", "zeta"}, names)
}

func TestClose_Twice(t *testing.T) {
	c := createTestCatalog(t)
	require.NoError(t, c.Close())
	assert.NotPanics(t, func() { c.Close() })
}
