package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectStat describes a stored object.
type ObjectStat struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
}

// ObjectStore is the uniform contract every worker uses against the blob
// backend. Implementations are bucket-scoped by argument so bucket names stay
// the fixed constants in buckets.go.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	StatObject(ctx context.Context, bucket, key string) (*ObjectStat, error)
	RemoveObject(ctx context.Context, bucket, key string) error
	ListObjects(ctx context.Context, bucket, prefix string) ([]string, error)
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
	PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)

	// Helpers layered on the primitives; every worker needs them.
	DownloadToFile(ctx context.Context, bucket, key, path string) error
	UploadFile(ctx context.Context, bucket, key, path, contentType string) error
	UploadDir(ctx context.Context, bucket, keyPrefix, dir string) error
	RemovePrefix(ctx context.Context, bucket, prefix string) (int, error)

	// ObjectURL builds the public URL a final-bucket object is served under.
	ObjectURL(bucket, key string) string
}
