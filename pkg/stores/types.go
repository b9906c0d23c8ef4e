package stores

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Mode separates committed progress from dry-run progress.
type Mode string

const (
	// ModeCommit is the mode of real runs whose actions mutate the target.
	ModeCommit Mode = "commit"
	// ModePreview is the mode of dry runs against non-committing actions.
	ModePreview Mode = "preview"
)

// Validate checks that the mode is known.
func (m Mode) Validate() error {
	switch m {
	case ModeCommit, ModePreview:
		return nil
	default:
		return fmt.Errorf("invalid mode: %q", m)
	}
}

// DeploymentStatus values as they appear in persisted documents.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ErrInvalidKey is returned when a key cannot address a progress document.
var ErrInvalidKey = errors.New("invalid progress key")

// Key addresses one progress document.
type Key struct {
	Environment string `json:"environment"`
	Scenario    string `json:"scenario"`
	Mode        Mode   `json:"mode"`
}

// Validate checks that the key components are safe to use as file names and row keys.
func (k Key) Validate() error {
	if !identifierPattern.MatchString(k.Environment) {
		return fmt.Errorf("%w: environment %q", ErrInvalidKey, k.Environment)
	}
	if !identifierPattern.MatchString(k.Scenario) || strings.HasSuffix(k.Scenario, ".preview") {
		return fmt.Errorf("%w: scenario %q", ErrInvalidKey, k.Scenario)
	}
	if err := k.Mode.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

// String renders the key as environment/scenario[@preview].
func (k Key) String() string {
	if k.Mode == ModePreview {
		return k.Environment + "/" + k.Scenario + "@preview"
	}
	return k.Environment + "/" + k.Scenario
}

// Record is the persisted outcome of one step.
type Record struct {
	ResourceID    string    `json:"resourceId,omitempty"`
	Created       bool      `json:"created"`
	Configured    bool      `json:"configured"`
	CreateCost    uint64    `json:"createCost"`
	ConfigureCost uint64    `json:"configureCost"`
	Warning       string    `json:"warning,omitempty"`
	UpdatedAt     time.Time `json:"updatedAt,omitempty"`
}

// Document is the full persisted progress for one key.
type Document struct {
	EnvironmentID    string            `json:"environmentId"`
	Scenario         string            `json:"scenario"`
	Mode             Mode              `json:"mode,omitempty"`
	DeploymentStatus string            `json:"deploymentStatus"`
	UpdatedAt        time.Time         `json:"updatedAt,omitempty"`
	Steps            map[string]Record `json:"steps"`
}

// NewDocument returns an empty document for the key.
func NewDocument(key Key) *Document {
	return &Document{
		EnvironmentID:    key.Environment,
		Scenario:         key.Scenario,
		Mode:             key.Mode,
		DeploymentStatus: StatusNotStarted,
		Steps:            make(map[string]Record),
	}
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := *d
	out.Steps = make(map[string]Record, len(d.Steps))
	for name, rec := range d.Steps {
		out.Steps[name] = rec
	}
	return &out
}

// Reader is the read side of a progress store.
type Reader interface {
	Get(step string) (Record, bool)
	Len() int
}

// Backend persists whole progress documents.
type Backend interface {
	// Load returns the document for key, or nil with no error when none exists.
	Load(ctx context.Context, key Key) (*Document, error)
	// Save durably replaces the document for key before returning.
	Save(ctx context.Context, key Key, doc *Document) error
	// Delete discards the document for key. Deleting a missing document is not an error.
	Delete(ctx context.Context, key Key) error
	// List returns the keys with persisted documents for an environment, or all keys when env is empty.
	List(ctx context.Context, env string) ([]Key, error)
}

// RunEntry is one row of the run journal.
type RunEntry struct {
	ID          string     `json:"id"`
	Environment string     `json:"environment"`
	Scenario    string     `json:"scenario"`
	Mode        Mode       `json:"mode"`
	Status      string     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
}

// EventEntry is one appended journal event.
type EventEntry struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Type      string    `json:"type"`
	Step      string    `json:"step,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Data      string    `json:"data,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}
