package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openfroyo/deploykit/pkg/actions"
	"github.com/openfroyo/deploykit/pkg/config"
	"github.com/openfroyo/deploykit/pkg/engine"
	"github.com/openfroyo/deploykit/pkg/policy"
	"github.com/openfroyo/deploykit/pkg/stores"
	"github.com/openfroyo/deploykit/pkg/telemetry"
	"github.com/rs/zerolog/log"
)

// workspace is a loaded project with its telemetry and progress backend.
type workspace struct {
	project *config.Project
	loader  *config.Loader
	tel     *telemetry.Telemetry
	backend stores.Backend

	// Exactly one of files and sqlite is set.
	files  *stores.FileBackend
	sqlite *stores.SQLiteBackend
}

// target is one environment/scenario pair resolved against the project.
type target struct {
	env     config.EnvironmentConfig
	catalog *engine.Catalog
	key     stores.Key
}

func projectPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultFileName
}

// loadProject loads and validates the project file.
func loadProject(ctx context.Context) (*config.Loader, *config.Project, error) {
	loader := config.NewLoader()
	project, err := loader.Load(ctx, projectPath())
	if err != nil {
		var verrs config.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, nil, fmt.Errorf("invalid project %s: %w (run 'deployctl validate' for details)", projectPath(), err)
		}
		return nil, nil, err
	}
	return loader, project, nil
}

// openWorkspace loads the project, builds telemetry from its settings and
// opens the configured progress backend.
func openWorkspace(ctx context.Context) (*workspace, error) {
	loader, project, err := loadProject(ctx)
	if err != nil {
		return nil, err
	}

	telCfg := *project.Telemetry
	if verbose {
		telCfg.Logging.Level = "debug"
	}
	tel, err := telemetry.NewTelemetry(&telCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	w := &workspace{project: project, loader: loader, tel: tel}
	if err := w.openBackend(ctx); err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (w *workspace) openBackend(ctx context.Context) error {
	switch w.project.State.Backend {
	case config.BackendSQLite:
		path := w.project.DatabasePath()
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
		db, err := stores.NewSQLiteBackend(stores.Config{Path: path})
		if err != nil {
			return err
		}
		if err := db.Init(ctx); err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		if err := db.HealthCheck(ctx); err != nil {
			_ = db.Close()
			return fmt.Errorf("database %s is not usable: %w", path, err)
		}
		w.sqlite = db
		w.backend = db
		w.tel.Events.Subscribe(db.JournalSubscriber(ctx))
	default:
		fb, err := stores.NewFileBackend(w.project.StateDir())
		if err != nil {
			return err
		}
		w.files = fb
		w.backend = fb
	}
	return nil
}

// Close flushes telemetry and closes the backend.
func (w *workspace) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.tel.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
	if w.sqlite != nil {
		if err := w.sqlite.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

// target resolves an environment and scenario. An empty scenario selects
// the project's only scenario when there is exactly one.
func (w *workspace) target(envID, scenario string, mode stores.Mode) (*target, error) {
	return resolveTarget(w.project, envID, scenario, mode)
}

func resolveTarget(project *config.Project, envID, scenario string, mode stores.Mode) (*target, error) {
	if envID == "" {
		return nil, fmt.Errorf("--env is required (one of: %s)", strings.Join(environmentIDs(project), ", "))
	}
	env, ok := project.Environment(envID)
	if !ok {
		return nil, fmt.Errorf("unknown environment %q (one of: %s)", envID, strings.Join(environmentIDs(project), ", "))
	}

	if scenario == "" {
		if len(project.Scenarios) != 1 {
			return nil, fmt.Errorf("--scenario is required (one of: %s)", strings.Join(scenarioNames(project), ", "))
		}
		scenario = project.Scenarios[0].Name
	}
	catalog, err := project.BuildCatalog(scenario)
	if err != nil {
		return nil, err
	}

	return &target{
		env:     env,
		catalog: catalog,
		key:     stores.Key{Environment: env.ID, Scenario: catalog.Scenario(), Mode: mode},
	}, nil
}

// actions returns the instrumented resource actions for a run mode. Preview
// runs always simulate.
func (w *workspace) actions(mode stores.Mode) engine.ResourceActions {
	if mode == stores.ModePreview || w.project.Actions.Mode == config.ActionsSimulate {
		return actions.Instrument(actions.NewSimulator(), config.ActionsSimulate, w.tel)
	}

	cfg := w.project.Actions
	workDir := w.project.ResolvePath(cfg.WorkDir)
	if workDir == "" {
		workDir = w.project.BaseDir()
	}

	commands := make(map[string]actions.Commands, len(cfg.Steps))
	for name, c := range cfg.Steps {
		commands[name] = actions.Commands{Create: c.Create, Configure: c.Configure}
	}

	exec := actions.NewExec(actions.ExecConfig{
		Shell:    cfg.Shell,
		WorkDir:  workDir,
		Env:      cfg.Env,
		Commands: commands,
	}, w.tel.Logger)
	return actions.Instrument(exec, config.ActionsExec, w.tel)
}

// newPolicyEngine builds a policy engine with the project's policy settings.
func newPolicyEngine(ctx context.Context, project *config.Project) (*policy.Engine, error) {
	eng, err := policy.NewEngine(log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(project.Policies.Files) > 0 {
		paths := make([]string, len(project.Policies.Files))
		for i, f := range project.Policies.Files {
			paths[i] = project.ResolvePath(f)
		}
		if err := eng.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	// Disable applies to built-in and file policies alike.
	for _, name := range project.Policies.Disable {
		if err := eng.DisablePolicy(name); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// policyInput describes a pending run to the policy engine.
func policyInput(t *target, params map[string]string, allowProtected bool, progress *stores.Document) *policy.Input {
	input := policy.NewInput(t.catalog, policy.EnvironmentInput{
		ID:        t.env.ID,
		Protected: t.env.Protected,
		Params:    params,
	}, t.key.Mode, progress)
	input.AllowProtected = allowProtected
	return input
}

func environmentIDs(project *config.Project) []string {
	ids := make([]string, len(project.Environments))
	for i, env := range project.Environments {
		ids[i] = env.ID
	}
	sort.Strings(ids)
	return ids
}

func scenarioNames(project *config.Project) []string {
	names := make([]string, len(project.Scenarios))
	for i, s := range project.Scenarios {
		names[i] = s.Name
	}
	sort.Strings(names)
	return names
}
