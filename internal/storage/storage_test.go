package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blobSuite exercises the Blob contract against any implementation.
func blobSuite(t *testing.T, blob Blob) {
	ctx := context.Background()

	t.Run("get missing key", func(t *testing.T) {
		_, err := blob.Get(ctx, NamespaceTemplates, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, blob.Set(ctx, NamespaceTemplates, "k1", []byte(`{"a":1}`)))
		got, err := blob.Get(ctx, NamespaceTemplates, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"a":1}`), got)
	})

	t.Run("set replaces", func(t *testing.T) {
		require.NoError(t, blob.Set(ctx, NamespaceTemplates, "k1", []byte("v2")))
		got, err := blob.Get(ctx, NamespaceTemplates, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("namespaces are isolated", func(t *testing.T) {
		require.NoError(t, blob.Set(ctx, NamespaceVersions, "k1", []byte("versions")))
		got, err := blob.Get(ctx, NamespaceTemplates, "k1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)
	})

	t.Run("keys lists one namespace", func(t *testing.T) {
		require.NoError(t, blob.Set(ctx, NamespaceTemplates, "k2", []byte("x")))
		keys, err := blob.Keys(ctx, NamespaceTemplates)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"k1", "k2"}, keys)

		keys, err = blob.Keys(ctx, NamespaceExecutions)
		require.NoError(t, err)
		assert.Empty(t, keys)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, blob.Delete(ctx, NamespaceTemplates, "k2"))
		_, err := blob.Get(ctx, NamespaceTemplates, "k2")
		assert.ErrorIs(t, err, ErrNotFound)
		// Deleting a missing key is not an error.
		assert.NoError(t, blob.Delete(ctx, NamespaceTemplates, "k2"))
	})
}

func TestMemoryBlob(t *testing.T) {
	m := NewMemory()
	defer m.Close()
	blobSuite(t, m)
}

func TestMemoryCopiesOnReadAndWrite(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	in := []byte("abc")
	require.NoError(t, m.Set(ctx, NamespaceTemplates, "k", in))
	in[0] = 'z' // Caller mutation must not leak in.

	got, err := m.Get(ctx, NamespaceTemplates, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[0] = 'z' // Nor out.
	again, err := m.Get(ctx, NamespaceTemplates, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestSQLiteBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "quill.db")
	s, err := NewSQLite(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()
	blobSuite(t, s)
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "quill.db")

	s, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, NamespaceTemplates, "k", []byte("persisted")))
	require.NoError(t, s.Close())

	s2, err := NewSQLite(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, NamespaceTemplates, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}
