package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	return store
}

func TestFileStorePutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	chunk := &RecordingChunk{
		SessionID:  "sess-1",
		PartNumber: 1,
		Data:       []byte("media-bytes"),
		Timestamp:  time.Now(),
	}
	require.NoError(t, store.Put(ctx, chunk))

	got, err := store.Get(ctx, "sess-1", 1)
	require.NoError(t, err)
	assert.Equal(t, chunk.Data, got.Data)
	assert.Equal(t, 1, got.PartNumber)
	assert.Equal(t, 0, got.RetryCount)
}

func TestFileStoreGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "sess-1", 99)
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestFileStoreListOrdersByPart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, part := range []int{3, 1, 10, 2} {
		require.NoError(t, store.Put(ctx, &RecordingChunk{
			SessionID:  "sess-1",
			PartNumber: part,
			Data:       []byte{byte(part)},
			Timestamp:  time.Now(),
		}))
	}
	// Another session must not leak into the listing.
	require.NoError(t, store.Put(ctx, &RecordingChunk{
		SessionID: "sess-2", PartNumber: 1, Data: []byte{0}, Timestamp: time.Now(),
	}))

	chunks, err := store.ListBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	parts := make([]int, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.PartNumber)
	}
	assert.Equal(t, []int{1, 2, 3, 10}, parts)
}

func TestFileStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &RecordingChunk{
		SessionID: "sess-1", PartNumber: 1, Data: []byte("x"), Timestamp: time.Now(),
	}))
	require.NoError(t, store.Delete(ctx, "sess-1", 1))
	_, err := store.Get(ctx, "sess-1", 1)
	assert.ErrorIs(t, err, ErrChunkNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, store.Delete(ctx, "sess-1", 1))
}

func TestFileStoreIncrementRetry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &RecordingChunk{
		SessionID: "sess-1", PartNumber: 1, Data: []byte("x"), Timestamp: time.Now(),
	}))

	n, err := store.IncrementRetry(ctx, "sess-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = store.IncrementRetry(ctx, "sess-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.Get(ctx, "sess-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
}

func TestFileStoreSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, &RecordingChunk{
		SessionID: "sess-1", PartNumber: 7, Data: []byte("persisted"), Timestamp: time.Now(),
	}))
	_, err = store.IncrementRetry(ctx, "sess-1", 7)
	require.NoError(t, err)

	// A fresh store over the same directory sees the chunk and its retry count.
	reopened, err := NewFileStore(dir, nil)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, "sess-1", 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got.Data)
	assert.Equal(t, 1, got.RetryCount)
}
