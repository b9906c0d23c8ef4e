package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/deploykit/pkg/stores"
)

// runLock is an advisory lock file marking a progress store as in use.
// The engine assumes one runner per store; the lock makes a second
// deployctl process fail fast instead of interleaving checkpoints.
type runLock struct {
	path string
}

func lockPath(stateDir string, key stores.Key) string {
	return filepath.Join(stateDir, "locks", fmt.Sprintf("%s.%s.%s.lock", key.Environment, key.Scenario, key.Mode))
}

func acquireLock(stateDir string, key stores.Key) (*runLock, error) {
	path := lockPath(stateDir, key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		holder, _ := os.ReadFile(path)
		return nil, fmt.Errorf("progress store %s is locked by another run (%s); remove %s if that run is gone",
			key, strings.TrimSpace(string(holder)), path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "pid=%d started=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339)); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}
	return &runLock{path: path}, nil
}

// Release removes the lock file.
func (l *runLock) Release() error {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
