package engine

import (
	"time"

	"github.com/openfroyo/deploykit/pkg/stores"
)

// Status derives the aggregate deployment status of a store for a catalog.
// It is a pure function of its inputs.
func Status(c *Catalog, r stores.Reader) DeploymentStatus {
	if r.Len() == 0 {
		return StatusNotStarted
	}
	for _, s := range c.steps {
		rec, found := r.Get(s.Name)
		if !s.SatisfiedBy(rec, found) {
			return StatusInProgress
		}
	}
	return StatusCompleted
}

// StatusFunc adapts Status for stores.Progress.SetStatusFunc.
func StatusFunc(c *Catalog) stores.StatusFunc {
	return func(r stores.Reader) string {
		return string(Status(c, r))
	}
}

// StepState is one row of a status report.
type StepState struct {
	Step          string    `json:"step"`
	Phases        string    `json:"phases"`
	Policy        string    `json:"policy"`
	Recorded      bool      `json:"recorded"`
	ResourceID    string    `json:"resource_id,omitempty"`
	Created       bool      `json:"created"`
	Configured    bool      `json:"configured"`
	Satisfied     bool      `json:"satisfied"`
	CreateCost    uint64    `json:"create_cost"`
	ConfigureCost uint64    `json:"configure_cost"`
	Warning       string    `json:"warning,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// StatusReport is the per-step view of a store, for dashboards and the CLI.
type StatusReport struct {
	Scenario  string           `json:"scenario"`
	Status    DeploymentStatus `json:"status"`
	Steps     []StepState      `json:"steps"`
	Satisfied int              `json:"satisfied"`
	Total     int              `json:"total"`
	TotalCost uint64           `json:"total_cost"`

	// Unknown lists recorded steps the catalog does not declare.
	Unknown []string `json:"unknown,omitempty"`
}

// Report builds a status report. Recorded steps that are no longer in the
// catalog are listed in Unknown and do not affect the status.
func Report(c *Catalog, r stores.Reader) StatusReport {
	report := StatusReport{
		Scenario: c.scenario,
		Status:   Status(c, r),
		Steps:    make([]StepState, 0, len(c.steps)),
		Total:    len(c.steps),
	}

	for _, s := range c.steps {
		rec, found := r.Get(s.Name)
		state := StepState{
			Step:     s.Name,
			Phases:   stepPhases(s),
			Policy:   string(s.EffectivePolicy()),
			Recorded: found,
		}
		if found {
			state.ResourceID = rec.ResourceID
			state.Created = rec.Created
			state.Configured = rec.Configured
			state.CreateCost = rec.CreateCost
			state.ConfigureCost = rec.ConfigureCost
			state.Warning = rec.Warning
			state.UpdatedAt = rec.UpdatedAt
			report.TotalCost += rec.CreateCost + rec.ConfigureCost
		}
		state.Satisfied = s.SatisfiedBy(rec, found)
		if state.Satisfied {
			report.Satisfied++
		}
		report.Steps = append(report.Steps, state)
	}

	if lister, ok := r.(interface{ Steps() []string }); ok {
		for _, name := range lister.Steps() {
			if _, known := c.index[name]; !known {
				report.Unknown = append(report.Unknown, name)
			}
		}
	}

	return report
}
