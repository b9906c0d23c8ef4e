package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/deploykit/pkg/engine"
	"github.com/openfroyo/deploykit/pkg/stores"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block operations.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether the severity prevents a run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Validate checks that the severity is known.
func (s Severity) Validate() error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("invalid severity: %q", s)
	}
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the policy module. Violations are collected from its
	// `deny` set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from, empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single policy violation.
type Violation struct {
	Policy   string   `json:"policy"`
	Step     string   `json:"step,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// String renders the violation for terminal output.
func (v Violation) String() string {
	if v.Step != "" {
		return fmt.Sprintf("[%s] %s: %s (step=%s)", v.Severity, v.Policy, v.Message, v.Step)
	}
	return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that don't block the run.
	Warnings []Violation `json:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Err returns an error describing the blocking violations, or nil.
func (r *Result) Err() error {
	if r == nil || r.Allowed {
		return nil
	}
	msgs := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		msgs[i] = v.String()
	}
	return fmt.Errorf("run denied by policy: %s", strings.Join(msgs, "; "))
}

// Input is the document policies are evaluated against.
type Input struct {
	Environment EnvironmentInput `json:"environment"`
	Scenario    string           `json:"scenario"`
	Mode        stores.Mode      `json:"mode"`

	// AllowProtected is set when the operator explicitly allows a run
	// against a protected environment.
	AllowProtected bool `json:"allow_protected"`

	Steps []StepInput `json:"steps"`

	// Progress is the current progress for the run's key, keyed by step.
	Progress map[string]stores.Record `json:"progress"`
}

// EnvironmentInput describes the target environment.
type EnvironmentInput struct {
	ID        string            `json:"id"`
	Protected bool              `json:"protected"`
	Params    map[string]string `json:"params"`
}

// StepInput is a catalog step as seen by policies.
type StepInput struct {
	Name              string              `json:"name"`
	Create            bool                `json:"create"`
	Configure         bool                `json:"configure"`
	Target            string              `json:"target,omitempty"`
	Policy            string              `json:"policy"`
	Requires          []PrerequisiteInput `json:"requires"`
	ConfigureRequires []PrerequisiteInput `json:"configure_requires"`
}

// PrerequisiteInput is a prerequisite as seen by policies.
type PrerequisiteInput struct {
	Step  string `json:"step"`
	Phase string `json:"phase"`
}

// NewInput builds policy input from a catalog and the current progress.
// progress may be nil when no document exists yet.
func NewInput(catalog *engine.Catalog, env EnvironmentInput, mode stores.Mode, progress *stores.Document) *Input {
	in := &Input{
		Environment: env,
		Scenario:    catalog.Scenario(),
		Mode:        mode,
		Steps:       make([]StepInput, 0, catalog.Len()),
		Progress:    make(map[string]stores.Record),
	}
	if in.Environment.Params == nil {
		in.Environment.Params = map[string]string{}
	}

	for _, s := range catalog.Steps() {
		in.Steps = append(in.Steps, StepInput{
			Name:              s.Name,
			Create:            s.Create,
			Configure:         s.Configure,
			Target:            s.Target,
			Policy:            string(s.EffectivePolicy()),
			Requires:          prerequisites(s.Requires),
			ConfigureRequires: prerequisites(s.ConfigureRequires),
		})
	}

	if progress != nil {
		for name, rec := range progress.Steps {
			in.Progress[name] = rec
		}
	}

	return in
}

func prerequisites(ps []engine.Prerequisite) []PrerequisiteInput {
	out := make([]PrerequisiteInput, 0, len(ps))
	for _, p := range ps {
		out = append(out, PrerequisiteInput{Step: p.Step, Phase: string(p.Phase)})
	}
	return out
}
