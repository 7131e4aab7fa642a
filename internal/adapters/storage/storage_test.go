package storage

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/internal/domain"
	"github.com/weftflow/weft/internal/ports"
)

func openStores(t *testing.T) map[string]ports.Storage {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	badger, err := NewBadger(BadgerOptions{InMemory: true}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = badger.Close() })

	memory := NewMemory()
	t.Cleanup(func() { _ = memory.Close() })

	return map[string]ports.Storage{
		"badger": badger,
		"memory": memory,
	}
}

func TestStorageGetPutDelete(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, exists, err := store.Get("missing")
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, store.Put("key", []byte("value")))

			got, exists, err := store.Get("key")
			require.NoError(t, err)
			require.True(t, exists)
			assert.Equal(t, []byte("value"), got)

			require.NoError(t, store.Delete("key"))
			_, exists, err = store.Get("key")
			require.NoError(t, err)
			assert.False(t, exists)
		})
	}
}

func TestStorageListByPrefix(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put("run:b", []byte("2")))
			require.NoError(t, store.Put("run:a", []byte("1")))
			require.NoError(t, store.Put("other:x", []byte("3")))

			items, err := store.ListByPrefix("run:")
			require.NoError(t, err)
			require.Len(t, items, 2)
			assert.Equal(t, "run:a", items[0].Key)
			assert.Equal(t, "run:b", items[1].Key)
		})
	}
}

func TestStorageDeleteByPrefix(t *testing.T) {
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put("gone:1", []byte("a")))
			require.NoError(t, store.Put("gone:2", []byte("b")))
			require.NoError(t, store.Put("kept:1", []byte("c")))

			deleted, err := store.DeleteByPrefix("gone:")
			require.NoError(t, err)
			assert.Equal(t, 2, deleted)

			items, err := store.ListByPrefix("kept:")
			require.NoError(t, err)
			assert.Len(t, items, 1)
		})
	}
}

func TestStorageCloseTwice(t *testing.T) {
	memory := NewMemory()
	require.NoError(t, memory.Close())
	assert.ErrorIs(t, memory.Close(), domain.ErrClosed)
	assert.ErrorIs(t, memory.Put("k", nil), domain.ErrClosed)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	badger, err := NewBadger(BadgerOptions{InMemory: true}, logger)
	require.NoError(t, err)
	require.NoError(t, badger.Close())
	assert.ErrorIs(t, badger.Close(), domain.ErrClosed)
}
