package actions

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/openfroyo/deploykit/pkg/engine"
)

// Call records one simulated action.
type Call struct {
	Step       string
	Phase      engine.Phase
	ResourceID string
}

// Simulator performs no side effects. Create returns a deterministic
// sim-<step>-<hash> ID derived from the environment, scenario, step and
// inputs, and every action costs zero. Failures can be injected per phase.
type Simulator struct {
	mu       sync.Mutex
	failures map[string]error
	calls    []Call
}

// NewSimulator creates a simulator.
func NewSimulator() *Simulator {
	return &Simulator{failures: make(map[string]error)}
}

// FailOn makes the given step phase fail with err. A nil err clears the failure.
func (s *Simulator) FailOn(step string, phase engine.Phase, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := step + "/" + string(phase)
	if err == nil {
		delete(s.failures, key)
		return
	}
	s.failures[key] = err
}

// Calls returns the actions performed so far, in order.
func (s *Simulator) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// Create simulates creating the step's resource.
func (s *Simulator) Create(ctx context.Context, req engine.ActionRequest) (engine.ActionResult, error) {
	if err := ctx.Err(); err != nil {
		return engine.ActionResult{}, err
	}
	id := SimulatedID(req)
	if err := s.record(req.Step, engine.PhaseCreate, id); err != nil {
		return engine.ActionResult{}, err
	}
	return engine.ActionResult{ResourceID: id}, nil
}

// Configure simulates configuring req.ResourceID.
func (s *Simulator) Configure(ctx context.Context, req engine.ActionRequest) (engine.ActionResult, error) {
	if err := ctx.Err(); err != nil {
		return engine.ActionResult{}, err
	}
	if err := s.record(req.Step, engine.PhaseConfigure, req.ResourceID); err != nil {
		return engine.ActionResult{}, err
	}
	return engine.ActionResult{ResourceID: req.ResourceID}, nil
}

func (s *Simulator) record(step string, phase engine.Phase, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls = append(s.calls, Call{Step: step, Phase: phase, ResourceID: id})
	return s.failures[step+"/"+string(phase)]
}

// SimulatedID returns the resource ID the simulator assigns for a create request.
func SimulatedID(req engine.ActionRequest) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(req.Environment)
	write(req.Scenario)
	write(req.Step)

	names := make([]string, 0, len(req.Inputs))
	for name := range req.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		write(name)
		write(req.Inputs[name])
	}

	return "sim-" + req.Step + "-" + hex.EncodeToString(h.Sum(nil))[:8]
}
