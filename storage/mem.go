package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory ObjectStore used in tests and local development.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte // "bucket/key" -> data

	// FailPutKeys makes PutObject fail for the listed keys, to exercise
	// partial-failure paths in tests.
	FailPutKeys map[string]bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[string][]byte),
	}
}

func memKey(bucket, key string) string { return bucket + "/" + key }

func (s *MemStore) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	if s.FailPutKeys[key] {
		return fmt.Errorf("put of %s/%s refused", bucket, key)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[memKey(bucket, key)] = data
	return nil
}

func (s *MemStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[memKey(bucket, key)]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemStore) StatObject(ctx context.Context, bucket, key string) (*ObjectStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[memKey(bucket, key)]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return &ObjectStat{Key: key, Size: int64(len(data)), LastModified: time.Now()}, nil
}

func (s *MemStore) RemoveObject(ctx context.Context, bucket, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, memKey(bucket, key))
	return nil
}

func (s *MemStore) ListObjects(ctx context.Context, bucket, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, bucket+"/") {
			key := strings.TrimPrefix(k, bucket+"/")
			if strings.HasPrefix(key, prefix) {
				keys = append(keys, key)
			}
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemStore) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if _, err := s.StatObject(ctx, bucket, key); err != nil {
		return "", err
	}
	return "memstore://" + memKey(bucket, key), nil
}

func (s *MemStore) PresignPut(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	return "memstore://" + memKey(bucket, key), nil
}

func (s *MemStore) DownloadToFile(ctx context.Context, bucket, key, path string) error {
	obj, err := s.GetObject(ctx, bucket, key)
	if err != nil {
		return err
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (s *MemStore) UploadFile(ctx context.Context, bucket, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.PutObject(ctx, bucket, key, f, -1, contentType)
}

func (s *MemStore) UploadDir(ctx context.Context, bucket, keyPrefix, dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return s.UploadFile(ctx, bucket, keyPrefix+"/"+filepath.ToSlash(rel), path, "")
	})
}

func (s *MemStore) RemovePrefix(ctx context.Context, bucket, prefix string) (int, error) {
	keys, err := s.ListObjects(ctx, bucket, prefix)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		if err := s.RemoveObject(ctx, bucket, key); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func (s *MemStore) ObjectURL(bucket, key string) string {
	return "http://media.test/" + memKey(bucket, key)
}

// Exists reports whether a key is present. Test helper.
func (s *MemStore) Exists(bucket, key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[memKey(bucket, key)]
	return ok
}

// Put stores raw bytes directly. Test helper.
func (s *MemStore) Put(bucket, key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[memKey(bucket, key)] = data
}

// Get returns raw bytes directly. Test helper.
func (s *MemStore) Get(bucket, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[memKey(bucket, key)]
	return data, ok
}

var _ ObjectStore = (*MemStore)(nil)
