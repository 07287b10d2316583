package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanpawarit/Chative-Shopping-Assistant/agent/index"
)

const sampleCatalog = `Category,Product,Price,Description
Smartphones,Pixel 9,$699,Google phone with Tensor G4 chip
Laptops,MacBook Air,"$1,099.00",Apple laptop with M3 chip
`

func writeCatalog(t *testing.T) AppConfig {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "products.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))
	return AppConfig{
		CatalogPath:       path,
		IndexDir:          filepath.Join(dir, "index"),
		Embedder:          embedderHash,
		SessionStore:      sessionStoreMemory,
		MaxToolIterations: 5,
	}
}

func TestLoadIndexRebuildsThenReopens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := writeCatalog(t)

	embedder, err := newEmbedder(cfg, nil)
	require.NoError(t, err)

	// A missing index is rebuilt even when rebuilding is off.
	cfg.RebuildIndex = false
	ix, err := loadIndex(ctx, cfg, embedder)
	require.NoError(t, err)
	assert.Equal(t, 2, ix.Len())

	reopened, err := loadIndex(ctx, cfg, embedder)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())

	results, err := reopened.Search(ctx, "pixel 9 phone", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Pixel 9", results[0].Name)
}

func TestLoadIndexStaleEmbedder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := writeCatalog(t)

	_, err := rebuildIndex(ctx, cfg, index.NewHashEmbedder(64))
	require.NoError(t, err)

	cfg.RebuildIndex = false
	_, err = loadIndex(ctx, cfg, index.NewHashEmbedder(128))
	assert.ErrorIs(t, err, index.ErrStaleIndex)
}

func TestLoadIndexAppliesMinScore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := writeCatalog(t)
	cfg.RebuildIndex = true

	embedder, err := newEmbedder(cfg, nil)
	require.NoError(t, err)

	ix, err := loadIndex(ctx, cfg, embedder)
	require.NoError(t, err)
	results, err := ix.Search(ctx, "pixel 9 phone", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Only an exact document match can reach a similarity of 1.
	cfg.SearchMinScore = 1
	strict, err := loadIndex(ctx, cfg, embedder)
	require.NoError(t, err)
	results, err = strict.Search(ctx, "pixel 9 phone", 1)
	require.NoError(t, err)
	assert.Empty(t, results)
}
