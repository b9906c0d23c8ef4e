package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/openfroyo/deploykit/pkg/telemetry"
)

// DefaultFileName is the project file looked up by the CLI.
const DefaultFileName = "deploykit.yaml"

// State backend kinds.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Action modes.
const (
	ActionsExec     = "exec"
	ActionsSimulate = "simulate"
)

// Project is the parsed deploykit.yaml.
type Project struct {
	// Name identifies the project.
	Name string `yaml:"name" json:"name" validate:"required,identifier"`

	// State configures where progress documents are stored.
	State StateConfig `yaml:"state" json:"state"`

	// Environments lists the deployment targets. Each has its own progress.
	Environments []EnvironmentConfig `yaml:"environments" json:"environments" validate:"required,min=1,dive"`

	// Scenarios lists the step catalogs that can be run.
	Scenarios []ScenarioConfig `yaml:"scenarios" json:"scenarios" validate:"required,min=1,dive"`

	// Actions configures how create and configure actions are performed.
	Actions ActionsConfig `yaml:"actions" json:"actions"`

	// Policies configures preflight policy evaluation.
	Policies PolicyConfig `yaml:"policies" json:"policies"`

	// Telemetry overrides the default logging, metrics and tracing settings.
	Telemetry *telemetry.Config `yaml:"telemetry" json:"telemetry,omitempty"`

	baseDir string
}

// StateConfig configures the progress store backend.
type StateConfig struct {
	// Backend is "file" (one JSON document per key) or "sqlite".
	Backend string `yaml:"backend" json:"backend,omitempty" validate:"omitempty,oneof=file sqlite"`

	// Dir is the state directory, relative to the project file.
	Dir string `yaml:"dir" json:"dir,omitempty"`

	// Path is the SQLite database path. Defaults to <dir>/deploykit.db.
	Path string `yaml:"path" json:"path,omitempty"`
}

// EnvironmentConfig is one deployment target.
type EnvironmentConfig struct {
	ID          string `yaml:"id" json:"id" validate:"required,identifier"`
	Description string `yaml:"description" json:"description,omitempty"`

	// Params are passed to every action of a run against this environment.
	Params map[string]string `yaml:"params" json:"params,omitempty"`

	// ParamsScript names a Starlark file whose top-level globals become
	// additional params.
	ParamsScript string `yaml:"params_script" json:"params_script,omitempty"`

	// Protected environments refuse commit runs and resets unless explicitly allowed.
	Protected bool `yaml:"protected" json:"protected,omitempty"`
}

// ScenarioConfig is an ordered list of steps.
type ScenarioConfig struct {
	Name        string       `yaml:"name" json:"name" validate:"required,identifier"`
	Description string       `yaml:"description" json:"description,omitempty"`
	Steps       []StepConfig `yaml:"steps" json:"steps" validate:"required,min=1,dive"`
}

// StepConfig declares one step.
type StepConfig struct {
	Name        string `yaml:"name" json:"name" validate:"required,identifier"`
	Description string `yaml:"description" json:"description,omitempty"`
	Create      bool   `yaml:"create" json:"create,omitempty"`
	Configure   bool   `yaml:"configure" json:"configure,omitempty"`

	// Requires lists prerequisites as "step" or "step:created".
	Requires []string `yaml:"requires" json:"requires,omitempty"`

	// ConfigureRequires additionally gates the configure phase.
	ConfigureRequires []string `yaml:"configure_requires" json:"configure_requires,omitempty"`

	// Target makes a configure-only step operate on an earlier step's resource.
	Target string `yaml:"target" json:"target,omitempty" validate:"omitempty,identifier"`

	Policy string `yaml:"policy" json:"policy,omitempty" validate:"omitempty,oneof=hard soft"`
}

// ActionsConfig configures the resource actions.
type ActionsConfig struct {
	// Mode is "exec" (run commands) or "simulate" (no side effects).
	Mode string `yaml:"mode" json:"mode,omitempty" validate:"omitempty,oneof=exec simulate"`

	// Shell runs each command as `<shell> -c <command>`.
	Shell string `yaml:"shell" json:"shell,omitempty"`

	// WorkDir is the working directory of commands, relative to the project file.
	WorkDir string `yaml:"workdir" json:"workdir,omitempty"`

	// Env is added to the environment of every command.
	Env map[string]string `yaml:"env" json:"env,omitempty"`

	// Steps maps step names to their commands.
	Steps map[string]StepCommands `yaml:"steps" json:"steps,omitempty"`
}

// StepCommands holds the commands for one step's phases.
type StepCommands struct {
	Create    string `yaml:"create" json:"create,omitempty"`
	Configure string `yaml:"configure" json:"configure,omitempty"`
}

// PolicyConfig configures preflight policies.
type PolicyConfig struct {
	// Files are additional rego files, relative to the project file.
	Files []string `yaml:"files" json:"files,omitempty"`

	// Disable names built-in policies to skip.
	Disable []string `yaml:"disable" json:"disable,omitempty"`
}

// ValidationError represents a configuration problem.
type ValidationError struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Column   int    `json:"column,omitempty"`
	Path     string `json:"path,omitempty"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	var loc string
	switch {
	case e.File != "" && e.Line > 0:
		loc = fmt.Sprintf("%s:%d:%d: ", e.File, e.Line, e.Column)
	case e.Path != "":
		loc = e.Path + ": "
	}
	return loc + e.Message
}

// ValidationErrors collects every problem found in a project.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d configuration error(s): %s", len(errs), strings.Join(msgs, "; "))
}

// BaseDir returns the directory relative paths are resolved against.
func (p *Project) BaseDir() string {
	return p.baseDir
}

// ResolvePath resolves a path from the project file against its directory.
func (p *Project) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.baseDir, path)
}

// StateDir returns the resolved state directory.
func (p *Project) StateDir() string {
	return p.ResolvePath(p.State.Dir)
}

// DatabasePath returns the resolved SQLite database path.
func (p *Project) DatabasePath() string {
	if p.State.Path != "" {
		return p.ResolvePath(p.State.Path)
	}
	return filepath.Join(p.StateDir(), "deploykit.db")
}

// Environment returns the environment with the given ID.
func (p *Project) Environment(id string) (EnvironmentConfig, bool) {
	for _, env := range p.Environments {
		if env.ID == id {
			return env, true
		}
	}
	return EnvironmentConfig{}, false
}

// Scenario returns the scenario with the given name.
func (p *Project) Scenario(name string) (ScenarioConfig, bool) {
	for _, s := range p.Scenarios {
		if s.Name == name {
			return s, true
		}
	}
	return ScenarioConfig{}, false
}

// applyDefaults fills unset optional fields.
func (p *Project) applyDefaults() {
	if p.State.Backend == "" {
		p.State.Backend = BackendFile
	}
	if p.State.Dir == "" {
		p.State.Dir = ".deploykit"
	}
	if p.Actions.Mode == "" {
		p.Actions.Mode = ActionsExec
	}
	if p.Actions.Shell == "" {
		p.Actions.Shell = "/bin/sh"
	}
	if p.Telemetry == nil {
		p.Telemetry = telemetry.DefaultConfig()
	}
}
