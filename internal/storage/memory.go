package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// MemoryStorage keeps objects in process memory. It serves local development without a
// bucket and stands in for S3 in tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string]Object
	baseURL string
}

// Object is a stored blob and its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// NewMemoryStorage returns an empty store whose URLs start with baseURL.
func NewMemoryStorage(baseURL string) *MemoryStorage {
	return &MemoryStorage{objects: make(map[string]Object), baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (m *MemoryStorage) Save(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	key = normalizeKey(key)
	if key == "" {
		return "", ErrEmptyKey
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("memory storage read %s: %w", key, err)
	}

	m.mu.Lock()
	m.objects[key] = Object{Data: data, ContentType: contentType}
	m.mu.Unlock()

	return publicURL(m.baseURL, key), nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	key = normalizeKey(key)
	if key == "" {
		return ErrEmptyKey
	}

	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

// Get returns the object stored under key.
func (m *MemoryStorage) Get(key string) (Object, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[normalizeKey(key)]
	return obj, ok
}

// KeyFromURL recovers the object key from a URL produced by Save.
func (m *MemoryStorage) KeyFromURL(url string) (string, bool) {
	return keyFromURL(m.baseURL, url)
}

// Keys lists stored keys in no particular order.
func (m *MemoryStorage) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	return keys
}
