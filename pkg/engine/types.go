package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/deploykit/pkg/stores"
)

// Step is a named unit of orchestrated work with an optional create phase
// and an optional configure phase.
type Step struct {
	// Name is the unique, stable identifier of the step.
	Name string `json:"name"`

	// Description is a human-readable summary.
	Description string `json:"description,omitempty"`

	// Create marks a step whose create action produces a resource.
	Create bool `json:"create"`

	// Configure marks a step with a configure action.
	Configure bool `json:"configure"`

	// Target names an earlier step whose resource a configure-only step operates on.
	// This is how a back-reference is added after both sides of a cycle exist.
	Target string `json:"target,omitempty"`

	// Requires gates the whole step.
	Requires []Prerequisite `json:"requires,omitempty"`

	// ConfigureRequires additionally gates the configure phase.
	ConfigureRequires []Prerequisite `json:"configure_requires,omitempty"`

	// Policy decides whether an action failure aborts the run.
	Policy FailurePolicy `json:"policy,omitempty"`
}

// SatisfiedBy reports whether rec marks the step as fully done. This is the
// single satisfaction predicate used for skipping, prerequisites, and status.
func (s Step) SatisfiedBy(rec stores.Record, found bool) bool {
	if !found {
		return false
	}
	if rec.Configured {
		return true
	}
	return !s.Configure && rec.Created
}

// EffectivePolicy returns the step policy, defaulting to hard.
func (s Step) EffectivePolicy() FailurePolicy {
	if s.Policy == "" {
		return PolicyHard
	}
	return s.Policy
}

// clone returns a deep copy of the step.
func (s Step) clone() Step {
	out := s
	out.Requires = append([]Prerequisite(nil), s.Requires...)
	out.ConfigureRequires = append([]Prerequisite(nil), s.ConfigureRequires...)
	return out
}

// Prerequisite is a dependency edge on another step.
type Prerequisite struct {
	Step  string      `json:"step"`
	Phase PrereqPhase `json:"phase"`
}

// After requires the named step to be fully satisfied.
func After(step string) Prerequisite {
	return Prerequisite{Step: step, Phase: PrereqSatisfied}
}

// AfterCreate requires only the named step's create phase to have completed.
func AfterCreate(step string) Prerequisite {
	return Prerequisite{Step: step, Phase: PrereqCreated}
}

// ParsePrerequisite parses "name" or "name:created" / "name:satisfied".
func ParsePrerequisite(s string) (Prerequisite, error) {
	name, phase, hasPhase := strings.Cut(strings.TrimSpace(s), ":")
	if name == "" {
		return Prerequisite{}, fmt.Errorf("empty prerequisite")
	}
	p := Prerequisite{Step: name, Phase: PrereqSatisfied}
	if hasPhase {
		p.Phase = PrereqPhase(phase)
	}
	if err := p.Phase.Validate(); err != nil {
		return Prerequisite{}, err
	}
	return p, nil
}

// String renders the prerequisite in ParsePrerequisite form.
func (p Prerequisite) String() string {
	if p.Phase == PrereqCreated {
		return p.Step + ":created"
	}
	return p.Step
}

// MetBy reports whether the prerequisite holds for the referenced step's record.
func (p Prerequisite) MetBy(target Step, rec stores.Record, found bool) bool {
	if p.Phase == PrereqCreated {
		return found && rec.Created
	}
	return target.SatisfiedBy(rec, found)
}

// ActionRequest is what the orchestrator passes to a resource action.
type ActionRequest struct {
	// Step is the step being executed.
	Step string

	// ResourceID is the resource a configure action operates on; empty for create.
	ResourceID string

	// Inputs maps prerequisite step names to the resource IDs they produced.
	Inputs map[string]string

	// Params are the environment's configuration parameters.
	Params map[string]string

	Environment string
	Scenario    string
	Mode        stores.Mode
}

// ActionResult is what a successful action reports back.
type ActionResult struct {
	// ResourceID identifies the created resource. Required from create actions.
	ResourceID string

	// Cost is an opaque consumption counter, used only for reporting.
	Cost uint64
}

// RunContext is the explicit state threaded through one run: the environment
// parameters and the resource identifiers produced so far.
type RunContext struct {
	RunID       string
	Environment string
	Scenario    string
	Mode        stores.Mode
	Params      map[string]string
	Resources   map[string]string
}

func newRunContext(runID string, key stores.Key, params map[string]string) *RunContext {
	p := make(map[string]string, len(params))
	for k, v := range params {
		p[k] = v
	}
	return &RunContext{
		RunID:       runID,
		Environment: key.Environment,
		Scenario:    key.Scenario,
		Mode:        key.Mode,
		Params:      p,
		Resources:   make(map[string]string),
	}
}

// inputs resolves the resource IDs of the given prerequisites. Steps without
// a resource (configure-only or soft-failed creates) are omitted.
func (rc *RunContext) inputs(prereqs ...[]Prerequisite) map[string]string {
	out := make(map[string]string)
	for _, list := range prereqs {
		for _, p := range list {
			if id := rc.Resources[p.Step]; id != "" {
				out[p.Step] = id
			}
		}
	}
	return out
}

func (rc *RunContext) request(step, resourceID string, inputs map[string]string) ActionRequest {
	return ActionRequest{
		Step:        step,
		ResourceID:  resourceID,
		Inputs:      inputs,
		Params:      rc.Params,
		Environment: rc.Environment,
		Scenario:    rc.Scenario,
		Mode:        rc.Mode,
	}
}

// StepResult is the outcome of one step in a run.
type StepResult struct {
	Step       string      `json:"step"`
	Outcome    StepOutcome `json:"outcome"`
	ResourceID string      `json:"resource_id,omitempty"`

	// Phases lists the phases actually executed in this run.
	Phases []Phase `json:"phases,omitempty"`

	CreateCost    uint64        `json:"create_cost,omitempty"`
	ConfigureCost uint64        `json:"configure_cost,omitempty"`
	Warning       string        `json:"warning,omitempty"`
	Error         error         `json:"-"`
	Duration      time.Duration `json:"duration"`
}

// RunResult reports a whole orchestration run.
type RunResult struct {
	RunID       string           `json:"run_id"`
	Environment string           `json:"environment"`
	Scenario    string           `json:"scenario"`
	Mode        stores.Mode      `json:"mode"`
	Steps       []StepResult     `json:"steps"`
	Status      DeploymentStatus `json:"status"`

	// FailedStep names the step that stopped the run, if any.
	FailedStep string `json:"failed_step,omitempty"`
	Err        error  `json:"-"`

	// Cancelled is set when the context was cancelled between steps.
	Cancelled bool `json:"cancelled,omitempty"`

	// PersistenceSuspect is set after a PersistenceError: the store must be
	// inspected before the next run.
	PersistenceSuspect bool `json:"persistence_suspect,omitempty"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	TotalCost   uint64    `json:"total_cost"`
}

// Failed reports whether the run must map to a non-zero exit.
func (r *RunResult) Failed() bool {
	return r.Err != nil || r.Cancelled
}

// Summary counts step outcomes.
func (r *RunResult) Summary() map[StepOutcome]int {
	out := make(map[StepOutcome]int)
	for _, s := range r.Steps {
		out[s.Outcome]++
	}
	return out
}

// Step returns the result for a named step.
func (r *RunResult) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Step == name {
			return s, true
		}
	}
	return StepResult{}, false
}

// Warnings returns the soft-failure warnings raised in this run.
func (r *RunResult) Warnings() []string {
	var out []string
	for _, s := range r.Steps {
		if s.Outcome == OutcomeSoftFailed && s.Warning != "" {
			out = append(out, fmt.Sprintf("%s: %s", s.Step, s.Warning))
		}
	}
	return out
}
