package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	documentExt        = ".json"
	previewDocumentExt = ".preview.json"
)

// FileBackend stores one JSON document per key under Dir/<environment>/.
type FileBackend struct {
	Dir string
}

// NewFileBackend creates a file backend rooted at dir.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	return &FileBackend{Dir: dir}, nil
}

// Path returns the file that holds the document for key.
func (b *FileBackend) Path(key Key) string {
	ext := documentExt
	if key.Mode == ModePreview {
		ext = previewDocumentExt
	}
	return filepath.Join(b.Dir, key.Environment, key.Scenario+ext)
}

// Load reads the document for key.
func (b *FileBackend) Load(_ context.Context, key Key) (*Document, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read progress file: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode progress file %s: %w", b.Path(key), err)
	}
	return &doc, nil
}

// Save writes the document to a temporary file, syncs it and renames it over
// the previous version, so readers only ever see a complete document.
func (b *FileBackend) Save(ctx context.Context, key Key, doc *Document) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode progress: %w", err)
	}
	data = append(data, '\n')

	path := b.Path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write progress: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close progress file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace progress file: %w", err)
	}

	return syncDir(dir)
}

// Delete removes the document for key.
func (b *FileBackend) Delete(_ context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	err := os.Remove(b.Path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete progress file: %w", err)
	}
	return nil
}

// List returns keys with documents on disk.
func (b *FileBackend) List(_ context.Context, env string) ([]Key, error) {
	var envs []string
	if env != "" {
		envs = []string{env}
	} else {
		entries, err := os.ReadDir(b.Dir)
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list state directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() && identifierPattern.MatchString(e.Name()) {
				envs = append(envs, e.Name())
			}
		}
	}

	var keys []Key
	for _, e := range envs {
		entries, err := os.ReadDir(filepath.Join(b.Dir, e))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list environment %s: %w", e, err)
		}
		for _, f := range entries {
			if f.IsDir() {
				continue
			}
			if key, ok := keyFromFile(e, f.Name()); ok {
				keys = append(keys, key)
			}
		}
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys, nil
}

func keyFromFile(env, name string) (Key, bool) {
	var key Key
	switch {
	case strings.HasSuffix(name, previewDocumentExt):
		key = Key{Environment: env, Scenario: strings.TrimSuffix(name, previewDocumentExt), Mode: ModePreview}
	case strings.HasSuffix(name, documentExt):
		key = Key{Environment: env, Scenario: strings.TrimSuffix(name, documentExt), Mode: ModeCommit}
	default:
		return Key{}, false
	}
	return key, key.Validate() == nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("failed to open state directory: %w", err)
	}
	defer d.Close()
	// Directory fsync is unsupported on some platforms; the rename has already landed.
	_ = d.Sync()
	return nil
}
