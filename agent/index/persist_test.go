package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuildThenOpenRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	embedder := NewHashEmbedder(0)

	built, err := Rebuild(ctx, dir, sampleCatalog(), embedder)
	require.NoError(t, err)
	require.Equal(t, 3, built.Len())

	opened, err := Open(ctx, dir, embedder)
	require.NoError(t, err)
	assert.Equal(t, indexedProducts(built), indexedProducts(opened))

	want, err := built.Search(ctx, "wireless earbuds", 2)
	require.NoError(t, err)
	got, err := opened.Search(ctx, "wireless earbuds", 2)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRebuildWipesDirectory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	stale := filepath.Join(dir, "leftover.bin")
	require.NoError(t, os.WriteFile(stale, []byte("old"), 0o600))

	_, err := Rebuild(ctx, dir, sampleCatalog()[:1], NewHashEmbedder(0))
	require.NoError(t, err)

	_, err = os.Stat(stale)
	assert.True(t, errors.Is(err, os.ErrNotExist), "leftover file should be removed")

	opened, err := Open(ctx, dir, NewHashEmbedder(0))
	require.NoError(t, err)
	assert.Equal(t, 1, opened.Len())
}

func TestOpenRejectsDifferentEmbedder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := t.TempDir()

	_, err := Rebuild(ctx, dir, sampleCatalog(), NewHashEmbedder(64))
	require.NoError(t, err)

	_, err = Open(ctx, dir, NewHashEmbedder(128))
	assert.ErrorIs(t, err, ErrStaleIndex)
}

func TestOpenMissingIndex(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope"), NewHashEmbedder(0))
	assert.ErrorIs(t, err, ErrIndexNotFound)
}

func TestRebuildFailureKeepsPreviousIndex(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "index")
	embedder := NewHashEmbedder(0)

	_, err := Rebuild(ctx, dir, sampleCatalog(), embedder)
	require.NoError(t, err)

	_, err = Rebuild(ctx, dir, sampleCatalog()[:1], &constantEmbedder{err: errors.New("embedding service down")})
	require.Error(t, err)

	opened, err := Open(ctx, dir, embedder)
	require.NoError(t, err)
	assert.Equal(t, 3, opened.Len())

	entries, err := os.ReadDir(filepath.Dir(dir))
	require.NoError(t, err)
	require.Len(t, entries, 1, "staging directories must not be left behind")
	assert.Equal(t, "index", entries[0].Name())
}
