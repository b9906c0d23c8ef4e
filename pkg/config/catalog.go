package config

import (
	"fmt"

	"github.com/openfroyo/deploykit/pkg/engine"
)

// BuildCatalog converts a scenario into a validated engine catalog.
func (p *Project) BuildCatalog(scenario string) (*engine.Catalog, error) {
	sc, ok := p.Scenario(scenario)
	if !ok {
		return nil, fmt.Errorf("unknown scenario %q", scenario)
	}

	steps := make([]engine.Step, 0, len(sc.Steps))
	for _, s := range sc.Steps {
		step, err := s.toEngine()
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	return engine.NewCatalog(sc.Name, steps...)
}

func (s StepConfig) toEngine() (engine.Step, error) {
	requires, err := parsePrerequisites(s.Name, s.Requires)
	if err != nil {
		return engine.Step{}, err
	}
	configureRequires, err := parsePrerequisites(s.Name, s.ConfigureRequires)
	if err != nil {
		return engine.Step{}, err
	}

	return engine.Step{
		Name:              s.Name,
		Description:       s.Description,
		Create:            s.Create,
		Configure:         s.Configure,
		Target:            s.Target,
		Requires:          requires,
		ConfigureRequires: configureRequires,
		Policy:            engine.FailurePolicy(s.Policy),
	}, nil
}

func parsePrerequisites(step string, raw []string) ([]engine.Prerequisite, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]engine.Prerequisite, 0, len(raw))
	for _, r := range raw {
		p, err := engine.ParsePrerequisite(r)
		if err != nil {
			return nil, engine.NewValidationError(fmt.Sprintf("invalid prerequisite %q", r), err).WithStep(step)
		}
		out = append(out, p)
	}
	return out, nil
}
