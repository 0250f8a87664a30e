package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	dherr "github.com/deployhub/deployhub/pkg/errors"
)

// MemoryStore keeps objects in memory. It's for tests, and for
// running a single node without an object store.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}}
}

func (m *MemoryStore) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[bucket+"/"+key] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Download(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	data, ok := m.objects[bucket+"/"+key]
	m.mu.RUnlock()
	if !ok {
		return nil, dherr.MissingError("object "+key, fmt.Errorf("no object %s in bucket %s", key, bucket))
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}
