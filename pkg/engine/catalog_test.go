package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openfroyo/deploykit/pkg/stores"
)

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name     string
		scenario string
		steps    []Step
		wantCode string
	}{
		{
			name:     "empty scenario",
			scenario: "",
			steps:    []Step{{Name: "A", Create: true}},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "empty step name",
			scenario: "default",
			steps:    []Step{{Create: true}},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "duplicate step",
			scenario: "default",
			steps:    []Step{{Name: "A", Create: true}, {Name: "A", Configure: true}},
			wantCode: ErrCodeDuplicateStep,
		},
		{
			name:     "no phase",
			scenario: "default",
			steps:    []Step{{Name: "A"}},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "unknown policy",
			scenario: "default",
			steps:    []Step{{Name: "A", Create: true, Policy: "lenient"}},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "invalid prerequisite phase",
			scenario: "default",
			steps: []Step{
				{Name: "A", Create: true},
				{Name: "B", Create: true, Requires: []Prerequisite{{Step: "A", Phase: "started"}}},
			},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "unknown prerequisite",
			scenario: "default",
			steps:    []Step{{Name: "A", Create: true, Requires: []Prerequisite{After("missing")}}},
			wantCode: ErrCodeUnknownStep,
		},
		{
			name:     "self reference",
			scenario: "default",
			steps:    []Step{{Name: "A", Create: true, Requires: []Prerequisite{After("A")}}},
			wantCode: ErrCodeCycle,
		},
		{
			name:     "cycle",
			scenario: "default",
			steps: []Step{
				{Name: "A", Create: true, Requires: []Prerequisite{After("B")}},
				{Name: "B", Create: true, Requires: []Prerequisite{After("A")}},
			},
			wantCode: ErrCodeCycle,
		},
		{
			name:     "forward reference",
			scenario: "default",
			steps: []Step{
				{Name: "A", Create: true, Requires: []Prerequisite{After("B")}},
				{Name: "B", Create: true},
			},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "created prerequisite without create phase",
			scenario: "default",
			steps: []Step{
				{Name: "A", Configure: true},
				{Name: "B", Create: true, Requires: []Prerequisite{AfterCreate("A")}},
			},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "target on create step",
			scenario: "default",
			steps: []Step{
				{Name: "A", Create: true},
				{Name: "B", Create: true, Configure: true, Target: "A"},
			},
			wantCode: ErrCodeValidation,
		},
		{
			name:     "target without create phase",
			scenario: "default",
			steps: []Step{
				{Name: "A", Configure: true},
				{Name: "B", Configure: true, Target: "A"},
			},
			wantCode: ErrCodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.scenario, tt.steps...)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !IsValidation(err) {
				t.Fatalf("Expected validation class, got %v", err)
			}
			var engErr *EngineError
			if !errors.As(err, &engErr) || engErr.Code != tt.wantCode {
				t.Errorf("Expected code %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestNewCatalog_CycleMessage(t *testing.T) {
	_, err := NewCatalog("default",
		Step{Name: "A", Create: true, ConfigureRequires: []Prerequisite{After("C")}, Configure: true},
		Step{Name: "B", Create: true, Requires: []Prerequisite{After("A")}},
		Step{Name: "C", Create: true, Requires: []Prerequisite{After("B")}},
	)
	if err == nil {
		t.Fatal("Expected cycle error")
	}
	if !strings.Contains(err.Error(), "A -> B -> C -> A") {
		t.Errorf("Expected cycle path in error, got %v", err)
	}
}

func TestCatalog_Accessors(t *testing.T) {
	c, err := NewCatalog("default",
		Step{Name: "network", Create: true},
		Step{Name: "vm", Create: true, Configure: true, Requires: []Prerequisite{After("network")}},
	)
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}

	if c.Scenario() != "default" || c.Len() != 2 {
		t.Errorf("Unexpected catalog: %s/%d", c.Scenario(), c.Len())
	}
	if names := c.Names(); names[0] != "network" || names[1] != "vm" {
		t.Errorf("Expected declaration order, got %v", names)
	}

	// Accessors return copies.
	steps := c.Steps()
	steps[1].Requires[0].Step = "mutated"
	vm, ok := c.Step("vm")
	if !ok || vm.Requires[0].Step != "network" {
		t.Errorf("Catalog was mutated through Steps(): %+v", vm)
	}
	if _, ok := c.Step("missing"); ok {
		t.Error("Expected missing step lookup to fail")
	}
}

func TestCatalog_Satisfied(t *testing.T) {
	c, err := NewCatalog("default",
		Step{Name: "A", Create: true},
		Step{Name: "B", Create: true, Configure: true},
		Step{Name: "C", Configure: true},
	)
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}

	backend := stores.NewMemoryBackend()
	store, err := stores.Load(context.Background(), backend, stores.Key{Environment: "dev", Scenario: "default", Mode: stores.ModeCommit})
	if err != nil {
		t.Fatalf("Failed to load store: %v", err)
	}

	ctx := context.Background()
	_ = store.Record(ctx, "A", stores.Record{ResourceID: "a", Created: true})
	_ = store.Record(ctx, "B", stores.Record{ResourceID: "b", Created: true})
	_ = store.Record(ctx, "C", stores.Record{Configured: true})

	tests := []struct {
		step string
		want bool
	}{
		{"A", true},
		{"B", false},
		{"C", true},
		{"missing", false},
	}
	for _, tt := range tests {
		if got := c.Satisfied(store, tt.step); got != tt.want {
			t.Errorf("Satisfied(%s) = %v, want %v", tt.step, got, tt.want)
		}
	}
}

func TestStep_SatisfiedBy(t *testing.T) {
	tests := []struct {
		name  string
		step  Step
		rec   stores.Record
		found bool
		want  bool
	}{
		{"no record", Step{Create: true}, stores.Record{}, false, false},
		{"create only created", Step{Create: true}, stores.Record{Created: true}, true, true},
		{"create+configure created", Step{Create: true, Configure: true}, stores.Record{Created: true}, true, false},
		{"create+configure configured", Step{Create: true, Configure: true}, stores.Record{Created: true, Configured: true}, true, true},
		{"soft-failed create", Step{Create: true}, stores.Record{Configured: true}, true, true},
		{"configure only", Step{Configure: true}, stores.Record{Configured: true}, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.step.SatisfiedBy(tt.rec, tt.found); got != tt.want {
				t.Errorf("SatisfiedBy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePrerequisite(t *testing.T) {
	tests := []struct {
		in      string
		want    Prerequisite
		wantErr bool
	}{
		{in: "db", want: After("db")},
		{in: "db:satisfied", want: After("db")},
		{in: " db:created ", want: AfterCreate("db")},
		{in: "db:started", wantErr: true},
		{in: "", wantErr: true},
		{in: ":created", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePrerequisite(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePrerequisite(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParsePrerequisite(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if !tt.wantErr {
			if back, _ := ParsePrerequisite(got.String()); back != got {
				t.Errorf("String() of %+v does not parse back", got)
			}
		}
	}
}

func TestCatalog_ToDOT(t *testing.T) {
	c, err := NewCatalog("web",
		Step{Name: "db", Create: true},
		Step{Name: "app", Create: true, Configure: true, Requires: []Prerequisite{After("db")}, Policy: PolicySoft},
		Step{Name: "db-allow-app", Configure: true, Target: "db", Requires: []Prerequisite{AfterCreate("app")}},
	)
	if err != nil {
		t.Fatalf("Failed to build catalog: %v", err)
	}

	dot := c.ToDOT()

	for _, want := range []string{
		`digraph "web" {`,
		`"db" -> "app" [style=solid, color=black];`,
		`"app" -> "db-allow-app" [style=solid, color=black, arrowhead=empty];`,
		`"db" -> "db-allow-app" [style=dotted, color=gray, label="target"];`,
		`fillcolor="lightyellow"`,
		`3. db-allow-app\nconfigure db`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("Expected DOT output to contain %q\n%s", want, dot)
		}
	}
}
