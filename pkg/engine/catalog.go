package engine

import (
	"fmt"

	"github.com/openfroyo/deploykit/pkg/stores"
)

// Catalog is the ordered, validated list of steps for one scenario.
// It is immutable once built; accessors hand out copies.
type Catalog struct {
	scenario string
	steps    []Step
	index    map[string]int
	graph    *stepGraph
}

// NewCatalog validates steps and builds a catalog. Steps run in the order given.
//
// Validation rejects empty or duplicate names, steps with no phase, unknown
// policies, references to unknown steps, dependency cycles, prerequisites on
// later steps, created-phase prerequisites on steps without a create phase,
// and targets that are not earlier create steps.
func NewCatalog(scenario string, steps ...Step) (*Catalog, error) {
	if scenario == "" {
		return nil, NewValidationError("scenario name is required", nil)
	}

	c := &Catalog{
		scenario: scenario,
		steps:    make([]Step, 0, len(steps)),
		index:    make(map[string]int, len(steps)),
	}

	for i, s := range steps {
		if s.Name == "" {
			return nil, NewValidationError(fmt.Sprintf("step %d has an empty name", i), nil)
		}
		if _, exists := c.index[s.Name]; exists {
			return nil, NewValidationError(fmt.Sprintf("duplicate step name: %s", s.Name), nil).
				WithCode(ErrCodeDuplicateStep).WithStep(s.Name)
		}
		if !s.Create && !s.Configure {
			return nil, NewValidationError("step has neither a create nor a configure phase", nil).
				WithStep(s.Name)
		}
		if err := s.Policy.Validate(); err != nil {
			return nil, NewValidationError("invalid step policy", err).WithStep(s.Name)
		}
		for _, p := range append(append([]Prerequisite(nil), s.Requires...), s.ConfigureRequires...) {
			if err := p.Phase.Validate(); err != nil {
				return nil, NewValidationError(fmt.Sprintf("invalid prerequisite %s", p.Step), err).WithStep(s.Name)
			}
		}
		c.index[s.Name] = i
		c.steps = append(c.steps, s.clone())
	}

	if err := c.validateReferences(); err != nil {
		return nil, err
	}

	graph := newStepGraph(c.steps)
	if cycle := graph.findCycle(); cycle != nil {
		return nil, NewValidationError(fmt.Sprintf("circular dependency detected: %s", formatCycle(cycle)), nil).
			WithCode(ErrCodeCycle)
	}
	c.graph = graph

	if err := c.validateOrdering(); err != nil {
		return nil, err
	}

	return c, nil
}

// validateReferences checks that every referenced step exists.
func (c *Catalog) validateReferences() error {
	for _, s := range c.steps {
		refs := make([]string, 0, len(s.Requires)+len(s.ConfigureRequires)+1)
		for _, p := range s.Requires {
			refs = append(refs, p.Step)
		}
		for _, p := range s.ConfigureRequires {
			refs = append(refs, p.Step)
		}
		if s.Target != "" {
			refs = append(refs, s.Target)
		}

		for _, ref := range refs {
			if ref == s.Name {
				return NewValidationError("step references itself", nil).
					WithCode(ErrCodeCycle).WithStep(s.Name)
			}
			if _, ok := c.index[ref]; !ok {
				return NewValidationError(fmt.Sprintf("step references unknown step %s", ref), nil).
					WithCode(ErrCodeUnknownStep).WithStep(s.Name)
			}
		}
	}
	return nil
}

// validateOrdering checks that the declared order can satisfy every edge in
// a single sequential pass.
func (c *Catalog) validateOrdering() error {
	for i, s := range c.steps {
		for _, p := range append(append([]Prerequisite(nil), s.Requires...), s.ConfigureRequires...) {
			j := c.index[p.Step]
			if j > i {
				return NewValidationError(fmt.Sprintf("prerequisite %s is declared after the step", p.Step), nil).
					WithStep(s.Name)
			}
			if p.Phase == PrereqCreated && !c.steps[j].Create {
				return NewValidationError(fmt.Sprintf("prerequisite %s has no create phase", p.Step), nil).
					WithStep(s.Name)
			}
		}

		if s.Target == "" {
			continue
		}
		if s.Create || !s.Configure {
			return NewValidationError("only configure-only steps may have a target", nil).WithStep(s.Name)
		}
		j := c.index[s.Target]
		if j > i {
			return NewValidationError(fmt.Sprintf("target %s is declared after the step", s.Target), nil).
				WithStep(s.Name)
		}
		if !c.steps[j].Create {
			return NewValidationError(fmt.Sprintf("target %s has no create phase", s.Target), nil).
				WithStep(s.Name)
		}
	}
	return nil
}

// Scenario returns the scenario name.
func (c *Catalog) Scenario() string {
	return c.scenario
}

// Len returns the number of steps.
func (c *Catalog) Len() int {
	return len(c.steps)
}

// Steps returns a copy of the steps in execution order.
func (c *Catalog) Steps() []Step {
	out := make([]Step, len(c.steps))
	for i, s := range c.steps {
		out[i] = s.clone()
	}
	return out
}

// Step returns a copy of the named step.
func (c *Catalog) Step(name string) (Step, bool) {
	i, ok := c.index[name]
	if !ok {
		return Step{}, false
	}
	return c.steps[i].clone(), true
}

// Names returns step names in execution order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.steps))
	for i, s := range c.steps {
		out[i] = s.Name
	}
	return out
}

// Satisfied reports whether the named step is fully satisfied in r.
func (c *Catalog) Satisfied(r stores.Reader, name string) bool {
	i, ok := c.index[name]
	if !ok {
		return false
	}
	rec, found := r.Get(name)
	return c.steps[i].SatisfiedBy(rec, found)
}

// firstUnmet returns the first prerequisite not met in r.
func (c *Catalog) firstUnmet(r stores.Reader, prereqs []Prerequisite) (Prerequisite, bool) {
	for _, p := range prereqs {
		target := c.steps[c.index[p.Step]]
		rec, found := r.Get(p.Step)
		if !p.MetBy(target, rec, found) {
			return p, true
		}
	}
	return Prerequisite{}, false
}

// ToDOT renders the prerequisite graph in Graphviz DOT format.
func (c *Catalog) ToDOT() string {
	return c.graph.toDOT(c.scenario)
}
