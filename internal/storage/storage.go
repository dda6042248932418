package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ImageKey returns the object key for an image: images/<yyyy>/<mm>/<id>.<ext>.
func ImageKey(now time.Time, id, ext string) string {
	now = now.UTC()
	return fmt.Sprintf("images/%04d/%02d/%s.%s", now.Year(), int(now.Month()), id, strings.TrimPrefix(ext, "."))
}

// Object is a stored blob held by MemoryStorage.
type Object struct {
	Data        []byte
	ContentType string
}

// MemoryStorage keeps objects in process. It backs local development when no
// bucket is configured.
type MemoryStorage struct {
	baseURL string

	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemoryStorage returns an empty store whose locations are prefixed with baseURL.
func NewMemoryStorage(baseURL string) *MemoryStorage {
	return &MemoryStorage{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		objects: make(map[string]Object),
	}
}

func (m *MemoryStorage) Save(_ context.Context, key string, data []byte, contentType string) (string, error) {
	key = strings.TrimLeft(key, "/")
	if key == "" {
		return "", fmt.Errorf("memory storage: empty key")
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	m.mu.Lock()
	m.objects[key] = Object{Data: buf, ContentType: contentType}
	m.mu.Unlock()
	return publicURL(m.baseURL, key), nil
}

// Get returns the object stored under key.
func (m *MemoryStorage) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Len reports how many objects are stored.
func (m *MemoryStorage) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
