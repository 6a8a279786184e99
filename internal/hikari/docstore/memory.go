package docstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store. Documents are kept JSON-encoded so callers
// observe the same copy semantics as with the persistent backends.
type Memory struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, path string, dst any) (bool, error) {
	if err := validatePath(path); err != nil {
		return false, err
	}
	m.mu.RLock()
	b, ok := m.docs[path]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return true, decode(path, b, dst)
}

func (m *Memory) Set(_ context.Context, path string, v any) error {
	if err := validatePath(path); err != nil {
		return err
	}
	b, err := encode(path, v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.docs[path] = b
	m.mu.Unlock()
	return nil
}

func (m *Memory) Update(_ context.Context, path string, fields map[string]any) error {
	if err := validatePath(path); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	merged, err := mergeFields(m.docs[path], fields)
	if err != nil {
		return err
	}
	m.docs[path] = merged
	return nil
}

func (m *Memory) Remove(_ context.Context, path string) error {
	if err := validatePath(path); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.docs, path)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for p := range m.docs {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }
