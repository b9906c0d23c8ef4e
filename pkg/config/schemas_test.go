package config

import (
	"context"
	"testing"
)

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	for _, name := range []string{"environment", "project", "scenario", "step"} {
		schema, ok := sr.schemas[name]
		if !ok {
			t.Fatalf("built-in schema %s not found", name)
		}
		if schema.Err() != nil {
			t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
		}
	}
}

func TestSchemaRegistry_RegisterAndValidate(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	custom := `
#Limits: {
	max_steps: int & >0
	owner:     string
}
`
	if err := sr.RegisterSchema("limits", "#Limits", custom); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}

	valid := map[string]interface{}{"max_steps": 10, "owner": "platform"}
	if err := sr.ValidateAgainstSchema(ctx, "limits", valid); err != nil {
		t.Errorf("expected valid data, got %v", err)
	}

	invalid := map[string]interface{}{"max_steps": 0, "owner": "platform"}
	if err := sr.ValidateAgainstSchema(ctx, "limits", invalid); err == nil {
		t.Error("expected error for max_steps <= 0")
	}

	extra := map[string]interface{}{"max_steps": 1, "owner": "x", "color": "red"}
	if err := sr.ValidateAgainstSchema(ctx, "limits", extra); err == nil {
		t.Error("expected closed definition to reject unknown fields")
	}
}

func TestSchemaRegistry_RegisterErrors(t *testing.T) {
	sr := NewSchemaRegistry()

	if err := sr.RegisterSchema("broken", "#Broken", "#Broken: {"); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.RegisterSchema("nodef", "#Missing", "#Other: string"); err == nil {
		t.Error("expected error for missing definition")
	}
	if err := sr.ValidateAgainstSchema(context.Background(), "unknown", nil); err == nil {
		t.Error("expected error for unknown schema")
	}
}

func TestSchemaRegistry_ProjectScenarios(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	tests := []struct {
		name     string
		scenario ScenarioConfig
		wantErr  bool
	}{
		{
			name: "valid",
			scenario: ScenarioConfig{Name: "default", Steps: []StepConfig{
				{Name: "a", Create: true},
				{Name: "b", Configure: true, Requires: []string{"a:created"}, Policy: "soft"},
			}},
		},
		{
			name:     "no steps",
			scenario: ScenarioConfig{Name: "default"},
			wantErr:  true,
		},
		{
			name: "bad prerequisite phase",
			scenario: ScenarioConfig{Name: "default", Steps: []StepConfig{
				{Name: "a", Create: true, Requires: []string{"x:configured"}},
			}},
			wantErr: true,
		},
		{
			name: "bad policy",
			scenario: ScenarioConfig{Name: "default", Steps: []StepConfig{
				{Name: "a", Create: true, Policy: "retry"},
			}},
			wantErr: true,
		},
		{
			name: "bad step name",
			scenario: ScenarioConfig{Name: "default", Steps: []StepConfig{
				{Name: "has space", Create: true},
			}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			project, err := NewLoader().Parse([]byte(minimalProject), "/work")
			if err != nil {
				t.Fatalf("failed to parse: %v", err)
			}
			project.Scenarios = []ScenarioConfig{tt.scenario}

			err = sr.ValidateProject(ctx, project)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProject() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
