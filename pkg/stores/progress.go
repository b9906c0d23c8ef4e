package stores

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// StatusFunc derives the deploymentStatus written with each document.
type StatusFunc func(r Reader) string

// Progress is the in-memory view of one progress document. Every mutation
// is persisted through the backend before the in-memory copy changes, so a
// failed write leaves both sides at the last confirmed checkpoint.
type Progress struct {
	mu       sync.RWMutex
	key      Key
	backend  Backend
	doc      *Document
	statusFn StatusFunc
	now      func() time.Time
}

// Load reads the progress document for key. A missing document yields an empty store.
func Load(ctx context.Context, backend Backend, key Key) (*Progress, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	doc, err := backend.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress for %s: %w", key, err)
	}
	if doc == nil {
		doc = NewDocument(key)
	}
	if doc.Steps == nil {
		doc.Steps = make(map[string]Record)
	}
	if doc.EnvironmentID != key.Environment || doc.Scenario != key.Scenario {
		return nil, fmt.Errorf("progress document for %s belongs to %s/%s", key, doc.EnvironmentID, doc.Scenario)
	}
	if doc.Mode == "" {
		doc.Mode = ModeCommit
	}
	if doc.Mode != key.Mode {
		return nil, fmt.Errorf("progress document for %s has mode %s", key, doc.Mode)
	}

	return &Progress{
		key:      key,
		backend:  backend,
		doc:      doc,
		statusFn: defaultStatus,
		now:      time.Now,
	}, nil
}

func defaultStatus(r Reader) string {
	if r.Len() == 0 {
		return StatusNotStarted
	}
	return StatusInProgress
}

// Key returns the key this store was loaded for.
func (p *Progress) Key() Key {
	return p.key
}

// SetStatusFunc installs the function used to compute deploymentStatus on save.
func (p *Progress) SetStatusFunc(fn StatusFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fn == nil {
		fn = defaultStatus
	}
	p.statusFn = fn
}

// Get returns the record for a step.
func (p *Progress) Get(step string) (Record, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	rec, ok := p.doc.Steps[step]
	return rec, ok
}

// Len returns the number of recorded steps.
func (p *Progress) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.doc.Steps)
}

// Steps returns the recorded step names in lexical order.
func (p *Progress) Steps() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.doc.Steps))
	for name := range p.doc.Steps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns the deploymentStatus of the last persisted document.
func (p *Progress) Status() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc.DeploymentStatus
}

// Snapshot returns a copy of the current document.
func (p *Progress) Snapshot() *Document {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc.Clone()
}

// Record inserts or overwrites the record for step and persists the whole
// document before returning. On error the store is unchanged.
func (p *Progress) Record(ctx context.Context, step string, rec Record) error {
	if step == "" {
		return fmt.Errorf("step name is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now().UTC()
	rec.UpdatedAt = now

	next := p.doc.Clone()
	next.Steps[step] = rec
	next.UpdatedAt = now
	next.DeploymentStatus = p.statusFn(documentReader{next})

	if err := p.backend.Save(ctx, p.key, next); err != nil {
		return fmt.Errorf("failed to persist step %s: %w", step, err)
	}

	p.doc = next
	return nil
}

// Reset discards the persisted document and empties the store.
func (p *Progress) Reset(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.backend.Delete(ctx, p.key); err != nil {
		return fmt.Errorf("failed to reset progress for %s: %w", p.key, err)
	}
	p.doc = NewDocument(p.key)
	return nil
}

type documentReader struct {
	doc *Document
}

func (r documentReader) Get(step string) (Record, bool) {
	rec, ok := r.doc.Steps[step]
	return rec, ok
}

func (r documentReader) Len() int {
	return len(r.doc.Steps)
}
