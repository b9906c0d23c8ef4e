package commands

import (
	"fmt"

	"github.com/openfroyo/deploykit/pkg/engine"
	"github.com/openfroyo/deploykit/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// runOptions are the flags shared by apply and preview.
type runOptions struct {
	env            string
	scenario       string
	mode           stores.Mode
	allowProtected bool
	fresh          bool
	metricsAddr    string
}

func newApplyCommand() *cobra.Command {
	opts := runOptions{mode: stores.ModeCommit}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Run a scenario against an environment",
		Long: `Run a scenario's steps in order against an environment, committing progress.

This command:
  - Takes the advisory lock for the environment's progress store
  - Derives environment params (including the params script)
  - Evaluates preflight policies; blocking violations abort the run
  - Skips satisfied steps and runs pending create/configure phases
  - Checkpoints every completed phase so an interrupted run resumes`,
		Example: `  # Deploy the default scenario to dev
  deployctl apply --env dev

  # Deploy to a protected environment
  deployctl apply --env prod --scenario default --allow-protected

  # Expose Prometheus metrics while the run is in progress
  deployctl apply --env dev --metrics-addr :9102`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.env, "env", "e", "", "environment ID")
	cmd.Flags().StringVarP(&opts.scenario, "scenario", "s", "", "scenario name (default: the only scenario)")
	cmd.Flags().BoolVar(&opts.allowProtected, "allow-protected", false, "allow a run against a protected environment")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}

func newPreviewCommand() *cobra.Command {
	opts := runOptions{mode: stores.ModePreview}

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Dry-run a scenario with simulated actions",
		Long: `Run a scenario with simulated actions against the environment's preview
progress store. Committed progress is never read or written.

Simulated creates return deterministic sim-<step>-<hash> resource IDs and
every action costs zero. Preview progress persists between invocations, so
an interrupted preview resumes like a real run; use --fresh to start over.`,
		Example: `  # Preview the default scenario on prod
  deployctl preview --env prod

  # Discard earlier preview progress first
  deployctl preview --env prod --fresh`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.env, "env", "e", "", "environment ID")
	cmd.Flags().StringVarP(&opts.scenario, "scenario", "s", "", "scenario name (default: the only scenario)")
	cmd.Flags().BoolVar(&opts.fresh, "fresh", false, "reset the preview progress store before running")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}

func runScenario(cmd *cobra.Command, opts runOptions) error {
	ctx := cmd.Context()

	w, err := openWorkspace(ctx)
	if err != nil {
		return err
	}
	defer w.Close()

	t, err := w.target(opts.env, opts.scenario, opts.mode)
	if err != nil {
		return err
	}

	log.Info().
		Str("environment", t.key.Environment).
		Str("scenario", t.key.Scenario).
		Str("mode", string(opts.mode)).
		Msg("Starting run")

	params, err := w.loader.ResolveParams(ctx, w.project, t.env.ID)
	if err != nil {
		return err
	}

	lock, err := acquireLock(w.project.StateDir(), t.key)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn().Err(err).Msg("Failed to release run lock")
		}
	}()

	store, err := stores.Load(ctx, w.backend, t.key)
	if err != nil {
		return err
	}

	// With --fresh, policies judge the empty store the run will start from,
	// and the stored progress is only discarded once they allow the run.
	progress := store.Snapshot()
	if opts.fresh {
		progress = nil
	}

	policies, err := newPolicyEngine(ctx, w.project)
	if err != nil {
		return err
	}
	verdict, err := policies.Evaluate(ctx, policyInput(t, params, opts.allowProtected, progress))
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}
	printPolicyResult(cmd.ErrOrStderr(), verdict)
	if err := verdict.Err(); err != nil {
		return err
	}

	if opts.fresh {
		if err := store.Reset(ctx); err != nil {
			return err
		}
	}

	if opts.metricsAddr != "" {
		if err := w.tel.StartMetricsServer(ctx, opts.metricsAddr); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	orch := engine.NewOrchestrator(
		engine.WithMode(opts.mode),
		engine.WithParams(params),
		engine.WithTelemetry(w.tel),
	)
	result, err := orch.Run(ctx, t.catalog, store, w.actions(opts.mode))
	if result != nil {
		if perr := printRunResult(cmd.OutOrStdout(), result); perr != nil {
			return perr
		}
	}
	if err != nil {
		return fmt.Errorf("%s run of %s failed: %w", opts.mode, t.key, err)
	}
	return nil
}
