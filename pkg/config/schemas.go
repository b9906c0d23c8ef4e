package config

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	for name, def := range builtinDefinitions {
		if err := sr.RegisterSchema(name, def, builtinSchemas); err != nil {
			// The built-in source is a constant; failing here is a programming error.
			panic(err)
		}
	}

	return sr
}

// builtinDefinitions maps schema names to definitions in builtinSchemas.
var builtinDefinitions = map[string]string{
	"project":     "#Project",
	"environment": "#Environment",
	"scenario":    "#Scenario",
	"step":        "#Step",
}

// RegisterSchema compiles source and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}

	sr.schemas[name] = def
	return nil
}

// ValidateAgainstSchema validates data against a named schema. Data is
// converted through its JSON encoding so field names follow the json tags.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	// A cue.Context is not safe for concurrent use.
	sr.mu.Lock()
	defer sr.mu.Unlock()

	schema, ok := sr.schemas[schemaName]
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	// JSON is valid CUE; compiling it keeps integers distinct from floats.
	dataVal := sr.ctx.CompileBytes(raw, cue.Filename(schemaName+".json"))
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// ValidateProject validates a project against the project schema.
func (sr *SchemaRegistry) ValidateProject(ctx context.Context, project *Project) error {
	return sr.ValidateAgainstSchema(ctx, "project", project)
}

// Built-in schema definitions

const builtinSchemas = `
#Identifier: =~"^[A-Za-z0-9][A-Za-z0-9._-]*$"

// Prerequisite is "step" or "step:phase".
#Prerequisite: =~"^[A-Za-z0-9][A-Za-z0-9._-]*(:(created|satisfied))?$"

#Step: {
	name:                #Identifier
	description?:        string
	create?:             bool
	configure?:          bool
	requires?:           [...#Prerequisite]
	configure_requires?: [...#Prerequisite]
	target?:             #Identifier
	policy?:             "hard" | "soft"
}

#Scenario: {
	name:         #Identifier
	description?: string
	steps: [#Step, ...#Step]
}

#Environment: {
	id:             #Identifier
	description?:   string
	params?:        {[string]: string}
	params_script?: string & =~"\\.star$"
	protected?:     bool
}

#Project: {
	name: #Identifier
	state: {
		backend?: "file" | "sqlite"
		dir?:     string
		path?:    string
	}
	environments: [#Environment, ...#Environment]
	scenarios: [#Scenario, ...#Scenario]
	actions: {
		mode?:    "exec" | "simulate"
		shell?:   string
		workdir?: string
		env?:     {[string]: string}
		steps?: {[#Identifier]: {
			create?:    string
			configure?: string
		}}
	}
	policies: {
		files?:   [...string & =~"\\.rego$"]
		disable?: [...string]
	}
	telemetry?: {...}
}
`
