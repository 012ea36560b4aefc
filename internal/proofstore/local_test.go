package proofstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreRoundTrip(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "req-1/receipt", "image/png", []byte("payload")))

	got, err := store.Get(ctx, "req-1/receipt")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got.Data)
	assert.Equal(t, "image/png", got.MimeType)

	require.NoError(t, store.Delete(ctx, "req-1/receipt"))

	_, err = store.Get(ctx, "req-1/receipt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreDeleteMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	assert.NoError(t, store.Delete(context.Background(), "never-existed"))
}

func TestLocalStoreKeyFlattening(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	// Path separators must not let a key escape the store directory.
	require.NoError(t, store.Put(ctx, "../escape/attempt", "text/plain", []byte("x")))

	got, err := store.Get(ctx, "../escape/attempt")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), got.Data)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", "application/pdf", []byte("doc")))
	assert.True(t, store.Has("k"))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", got.MimeType)

	require.NoError(t, store.Delete(ctx, "k"))
	assert.False(t, store.Has("k"))

	_, err = store.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, store.Delete(ctx, "k"))
}
