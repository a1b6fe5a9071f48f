package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/funmusicplace/mirlo-sub003/logger"
	"github.com/funmusicplace/mirlo-sub003/model"
	"github.com/funmusicplace/mirlo-sub003/queue"
	"github.com/funmusicplace/mirlo-sub003/storage"
)

// CleanupWorker purges stale local temp directories and bulk-deletes
// blob-store prefixes. It only ever touches stale or explicitly targeted
// resources, so it is safe to run alongside the other workers.
type CleanupWorker struct {
	store     storage.ObjectStore
	retention time.Duration
}

// NewCleanupWorker wires a cleanup worker with the retention window for
// local temp entries.
func NewCleanupWorker(store storage.ObjectStore, retention time.Duration) *CleanupWorker {
	if retention <= 0 {
		retention = 48 * time.Hour
	}
	return &CleanupWorker{store: store, retention: retention}
}

// Handle processes one cleanup job; the payload shape selects the behavior.
func (w *CleanupWorker) Handle(ctx context.Context, job *queue.Job) (interface{}, error) {
	var p model.CleanupPayload
	if err := job.UnmarshalPayload(&p); err != nil {
		return nil, fmt.Errorf("invalid cleanup payload: %w", err)
	}

	deleted := 0
	switch {
	case p.Bucket != "":
		n, err := w.store.RemovePrefix(ctx, p.Bucket, p.Prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to purge %s/%s: %w", p.Bucket, p.Prefix, err)
		}
		deleted = n
		logger.Info("purged bucket prefix",
			logger.String("bucket", p.Bucket),
			logger.String("prefix", p.Prefix),
			logger.Int("deleted", n))
	case p.Directory != "":
		n, err := SweepDir(p.Directory, w.retention)
		if err != nil {
			return nil, err
		}
		deleted = n
		logger.Info("swept stale temp entries",
			logger.String("dir", p.Directory),
			logger.Int("deleted", n))
	default:
		return nil, fmt.Errorf("cleanup payload selects neither a bucket nor a directory")
	}

	return model.CleanupResult{Deleted: deleted}, nil
}

// SweepDir deletes every entry directly under dir older than the retention
// window and returns the count. Running it again immediately deletes nothing.
func SweepDir(dir string, retention time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	cutoff := time.Now().Add(-retention)
	deleted := 0
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue
		}
		// ModTime stands in for creation time; temp entries are written once
		// and never touched again.
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return deleted, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		deleted++
	}
	return deleted, nil
}
