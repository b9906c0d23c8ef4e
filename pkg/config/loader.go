package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"time"

	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/deploykit/pkg/engine"
	"github.com/openfroyo/deploykit/pkg/telemetry"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Loader parses and validates project files.
type Loader struct {
	schemas  *SchemaRegistry
	scripts  *StarlarkEvaluator
	validate *validator.Validate
}

// NewLoader creates a loader with the built-in schemas.
func NewLoader() *Loader {
	v := validator.New()
	_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return identifierPattern.MatchString(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Loader{
		schemas:  NewSchemaRegistry(),
		scripts:  NewStarlarkEvaluator(10 * time.Second),
		validate: v,
	}
}

// Load reads, parses and validates the project file at path.
func (l *Loader) Load(ctx context.Context, path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read project file: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path: %w", err)
	}

	project, err := l.Parse(data, filepath.Dir(abs))
	if err != nil {
		return nil, err
	}
	if err := l.Validate(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// Parse decodes a project document. Unknown fields are rejected.
func (l *Loader) Parse(data []byte, baseDir string) (*Project, error) {
	// Pre-populated so telemetry settings in the file overlay the defaults.
	project := &Project{Telemetry: telemetry.DefaultConfig()}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(project); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("project file is empty")
		}
		return nil, fmt.Errorf("failed to parse project file: %w", err)
	}

	project.baseDir = baseDir
	project.applyDefaults()
	return project, nil
}

// Validate checks a project in three stages: struct tags, the CUE project
// schema, then cross-references. Each stage runs only if the previous one
// passed. Failures are returned as ValidationErrors.
func (l *Loader) Validate(ctx context.Context, project *Project) error {
	if errs := l.validateStruct(project); len(errs) > 0 {
		return errs
	}
	if err := l.schemas.ValidateProject(ctx, project); err != nil {
		return convertCUEErrors(err)
	}
	if errs := l.validateSemantics(project); len(errs) > 0 {
		return errs
	}
	return nil
}

// ResolveParams returns the effective params of an environment.
func (l *Loader) ResolveParams(ctx context.Context, project *Project, envID string) (map[string]string, error) {
	return l.scripts.ResolveParams(ctx, project, envID)
}

func (l *Loader) validateStruct(project *Project) ValidationErrors {
	err := l.validate.Struct(project)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return ValidationErrors{{Message: err.Error(), Severity: "error"}}
	}

	out := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Path:     fe.Namespace(),
			Message:  fieldMessage(fe),
			Severity: "error",
		})
	}
	return out
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s item(s)", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "identifier":
		return fmt.Sprintf("%q is not a valid identifier", fe.Value())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var out ValidationErrors

	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:     strings.Join(e.Path(), "."),
			Message:  strings.TrimSpace(cueerrors.Details(e, nil)),
			Severity: "error",
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}

	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error(), Severity: "error"})
	}
	return out
}

func (l *Loader) validateSemantics(project *Project) ValidationErrors {
	var errs ValidationErrors
	add := func(path, format string, args ...interface{}) {
		errs = append(errs, ValidationError{
			Path:     path,
			Message:  fmt.Sprintf(format, args...),
			Severity: "error",
		})
	}

	envs := make(map[string]bool)
	for i, env := range project.Environments {
		path := fmt.Sprintf("environments[%d]", i)
		if envs[env.ID] {
			add(path+".id", "duplicate environment %q", env.ID)
		}
		envs[env.ID] = true

		if env.ParamsScript != "" {
			if _, err := os.Stat(project.ResolvePath(env.ParamsScript)); err != nil {
				add(path+".params_script", "params script not found: %s", env.ParamsScript)
			}
		}
	}

	declared := make(map[string]StepConfig)
	scenarios := make(map[string]bool)
	for i, sc := range project.Scenarios {
		path := fmt.Sprintf("scenarios[%d]", i)
		if scenarios[sc.Name] {
			add(path+".name", "duplicate scenario %q", sc.Name)
		}
		scenarios[sc.Name] = true

		if _, err := project.BuildCatalog(sc.Name); err != nil {
			add(path, "%s", catalogMessage(err))
		}
		for _, step := range sc.Steps {
			prev, seen := declared[step.Name]
			declared[step.Name] = StepConfig{
				Name:      step.Name,
				Create:    step.Create || (seen && prev.Create),
				Configure: step.Configure || (seen && prev.Configure),
			}
		}
	}

	for name := range project.Actions.Steps {
		if _, ok := declared[name]; !ok {
			add("actions.steps."+name, "commands defined for unknown step %q", name)
		}
	}

	if project.Actions.Mode == ActionsExec {
		for name, step := range declared {
			cmds := project.Actions.Steps[name]
			if step.Create && cmds.Create == "" {
				add("actions.steps."+name+".create", "step %q creates a resource but has no create command", name)
			}
			if step.Configure && cmds.Configure == "" {
				add("actions.steps."+name+".configure", "step %q configures a resource but has no configure command", name)
			}
		}
	}

	for i, file := range project.Policies.Files {
		if _, err := os.Stat(project.ResolvePath(file)); err != nil {
			add(fmt.Sprintf("policies.files[%d]", i), "policy file not found: %s", file)
		}
	}

	if project.Telemetry != nil {
		if err := project.Telemetry.Validate(); err != nil {
			add("telemetry", "%v", err)
		}
		// The run journal is fed from the event publisher.
		if project.State.Backend == BackendSQLite && !project.Telemetry.Events.Enabled {
			add("telemetry.events.enabled", "the sqlite backend journals runs from events; events must be enabled")
		}
	}

	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	return errs
}

func catalogMessage(err error) string {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		msg := ee.Message
		if ee.Step != "" {
			msg = fmt.Sprintf("step %s: %s", ee.Step, msg)
		}
		if ee.Err != nil {
			msg += ": " + ee.Err.Error()
		}
		return msg
	}
	return err.Error()
}
