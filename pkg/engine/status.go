package engine

import (
	"fmt"

	"github.com/openfroyo/deploykit/pkg/stores"
)

// DeploymentStatus is the aggregate state of an environment for one scenario.
type DeploymentStatus string

const (
	// StatusNotStarted indicates the store holds no records.
	StatusNotStarted DeploymentStatus = stores.StatusNotStarted

	// StatusInProgress indicates some but not all steps are satisfied.
	StatusInProgress DeploymentStatus = stores.StatusInProgress

	// StatusCompleted indicates every catalog step is satisfied.
	StatusCompleted DeploymentStatus = stores.StatusCompleted
)

// IsTerminal returns true if nothing is left to run.
func (s DeploymentStatus) IsTerminal() bool {
	return s == StatusCompleted
}

// Validate checks if the deployment status is valid.
func (s DeploymentStatus) Validate() error {
	switch s {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return nil
	default:
		return fmt.Errorf("invalid deployment status: %s", s)
	}
}

// Phase is one half of a step.
type Phase string

const (
	// PhaseCreate produces the step's resource.
	PhaseCreate Phase = "create"

	// PhaseConfigure invokes a configuration call on an existing resource.
	PhaseConfigure Phase = "configure"
)

// FailurePolicy decides what an action failure does to the run.
type FailurePolicy string

const (
	// PolicyHard aborts the run on failure.
	PolicyHard FailurePolicy = "hard"

	// PolicySoft logs a warning, records the step as done, and continues.
	PolicySoft FailurePolicy = "soft"
)

// Validate checks if the failure policy is valid. Empty means hard.
func (p FailurePolicy) Validate() error {
	switch p {
	case "", PolicyHard, PolicySoft:
		return nil
	default:
		return fmt.Errorf("invalid failure policy: %s", p)
	}
}

// PrereqPhase selects how much of a prerequisite step must be done.
type PrereqPhase string

const (
	// PrereqSatisfied requires the prerequisite step to be fully satisfied.
	PrereqSatisfied PrereqPhase = "satisfied"

	// PrereqCreated requires only the prerequisite's create phase.
	PrereqCreated PrereqPhase = "created"
)

// Validate checks if the prerequisite phase is valid.
func (p PrereqPhase) Validate() error {
	switch p {
	case PrereqSatisfied, PrereqCreated:
		return nil
	default:
		return fmt.Errorf("invalid prerequisite phase: %q", p)
	}
}

// StepOutcome is what happened to a step during one run.
type StepOutcome string

const (
	// OutcomeSkipped indicates the step was already satisfied.
	OutcomeSkipped StepOutcome = "skipped"

	// OutcomeSucceeded indicates every pending phase completed.
	OutcomeSucceeded StepOutcome = "succeeded"

	// OutcomeSoftFailed indicates an action failed and the failure was tolerated.
	OutcomeSoftFailed StepOutcome = "soft-failed"

	// OutcomeHardFailed indicates the step stopped the run.
	OutcomeHardFailed StepOutcome = "hard-failed"

	// OutcomeNotRun indicates the run stopped before reaching the step.
	OutcomeNotRun StepOutcome = "not-run"
)
