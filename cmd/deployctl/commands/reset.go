package commands

import (
	"fmt"

	"github.com/openfroyo/deploykit/cmd/deployctl/ui"
	"github.com/openfroyo/deploykit/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newResetCommand() *cobra.Command {
	var (
		env            string
		scenario       string
		preview        bool
		yes            bool
		allowProtected bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Discard recorded progress",
		Long: `Discard the progress recorded for an environment and scenario. The next run
starts from the first step.

Resources created by earlier runs are not touched; only the record of them
is discarded. Resetting committed progress of a protected environment also
requires --allow-protected.`,
		Example: `  # Discard preview progress
  deployctl reset --env prod --preview --yes

  # Discard committed progress
  deployctl reset --env dev --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if !yes {
				return fmt.Errorf("refusing to discard progress without --yes")
			}

			w, err := openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer w.Close()

			mode := stores.ModeCommit
			if preview {
				mode = stores.ModePreview
			}
			t, err := w.target(env, scenario, mode)
			if err != nil {
				return err
			}
			if mode == stores.ModeCommit && t.env.Protected && !allowProtected {
				return fmt.Errorf("environment %s is protected; pass --allow-protected to reset its progress", t.env.ID)
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
			steps := store.Len()
			if err := store.Reset(ctx); err != nil {
				return err
			}

			log.Info().
				Str("environment", t.key.Environment).
				Str("scenario", t.key.Scenario).
				Str("mode", string(mode)).
				Int("steps", steps).
				Msg("Progress reset")

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"environment": t.key.Environment,
					"scenario":    t.key.Scenario,
					"mode":        mode,
					"discarded":   steps,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), ui.SuccessMsg("discarded %d step record(s) for %s (%s)", steps, t.key, mode))
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "environment ID")
	cmd.Flags().StringVarP(&scenario, "scenario", "s", "", "scenario name (default: the only scenario)")
	cmd.Flags().BoolVar(&preview, "preview", false, "reset the preview progress store instead of committed progress")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm the reset")
	cmd.Flags().BoolVar(&allowProtected, "allow-protected", false, "allow resetting a protected environment")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}
