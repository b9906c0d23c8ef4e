package stores

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps documents in process memory. Saved documents are
// copied so callers cannot mutate persisted state.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[Key]*Document

	// SaveHook, when set, runs before every save and can fail it.
	SaveHook func(key Key, doc *Document) error
	saves    int
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[Key]*Document)}
}

// Load returns a copy of the stored document.
func (b *MemoryBackend) Load(_ context.Context, key Key) (*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	doc, ok := b.docs[key]
	if !ok {
		return nil, nil
	}
	return doc.Clone(), nil
}

// Save stores a copy of doc.
func (b *MemoryBackend) Save(ctx context.Context, key Key, doc *Document) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SaveHook != nil {
		if err := b.SaveHook(key, doc); err != nil {
			return err
		}
	}
	b.docs[key] = doc.Clone()
	b.saves++
	return nil
}

// Delete removes the document for key.
func (b *MemoryBackend) Delete(_ context.Context, key Key) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.docs, key)
	return nil
}

// List returns the stored keys.
func (b *MemoryBackend) List(_ context.Context, env string) ([]Key, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]Key, 0, len(b.docs))
	for k := range b.docs {
		if env == "" || k.Environment == env {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

// Saves returns how many successful saves the backend has seen.
func (b *MemoryBackend) Saves() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.saves
}
