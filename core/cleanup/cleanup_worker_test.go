package cleanup

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funmusicplace/mirlo-sub003/model"
	"github.com/funmusicplace/mirlo-sub003/queue"
	"github.com/funmusicplace/mirlo-sub003/storage"
)

func cleanupJob(t *testing.T, p model.CleanupPayload) *queue.Job {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return &queue.Job{ID: "j1", Queue: model.QueueCleanup, Payload: raw}
}

func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	old := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, old, old))
	return path
}

func TestSweepDirRetention(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, dir, "stale-1", 72*time.Hour)
	writeAged(t, dir, "stale-2", 49*time.Hour)
	fresh := writeAged(t, dir, "fresh", time.Hour)

	deleted, err := SweepDir(dir, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = os.Stat(fresh)
	assert.NoError(t, err)

	// Idempotence: the second run has nothing left to delete.
	deleted, err = SweepDir(dir, 48*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestSweepDirRemovesStaleSubdirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "convert-audio-asset-9")
	require.NoError(t, os.MkdirAll(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "segment-000.ts"), []byte("x"), 0644))
	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(sub, old, old))

	deleted, err := SweepDir(dir, 48*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	_, statErr := os.Stat(sub)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSweepDirMissingDirectory(t *testing.T) {
	deleted, err := SweepDir(filepath.Join(t.TempDir(), "does-not-exist"), 48*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestCleanupJobBucketPrefix(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemStore()
	store.Put(storage.BucketFinalAudio, "asset-1/playlist.m3u8", []byte("x"))
	store.Put(storage.BucketFinalAudio, "asset-1/segment-000.ts", []byte("x"))
	store.Put(storage.BucketFinalAudio, "asset-2/playlist.m3u8", []byte("x"))

	worker := NewCleanupWorker(store, 48*time.Hour)
	result, err := worker.Handle(ctx, cleanupJob(t, model.CleanupPayload{
		Bucket: storage.BucketFinalAudio,
		Prefix: "asset-1/",
	}))
	require.NoError(t, err)

	res := result.(model.CleanupResult)
	assert.Equal(t, 2, res.Deleted)
	assert.False(t, store.Exists(storage.BucketFinalAudio, "asset-1/playlist.m3u8"))
	assert.True(t, store.Exists(storage.BucketFinalAudio, "asset-2/playlist.m3u8"))
}

func TestCleanupJobDirectory(t *testing.T) {
	dir := t.TempDir()
	writeAged(t, dir, "stale", 72*time.Hour)

	worker := NewCleanupWorker(storage.NewMemStore(), 48*time.Hour)
	result, err := worker.Handle(context.Background(), cleanupJob(t, model.CleanupPayload{Directory: dir}))
	require.NoError(t, err)
	assert.Equal(t, 1, result.(model.CleanupResult).Deleted)
}

func TestCleanupJobEmptyPayloadRejected(t *testing.T) {
	worker := NewCleanupWorker(storage.NewMemStore(), 48*time.Hour)
	_, err := worker.Handle(context.Background(), cleanupJob(t, model.CleanupPayload{}))
	require.Error(t, err)
}
