package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openfroyo/deploykit/cmd/deployctl/ui"
	"github.com/openfroyo/deploykit/pkg/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	var (
		backend string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a sample project",
		Long: `Write a sample deploykit.yaml and initialize its state backend.

The sample declares a dev and a protected prod environment and one scenario
in simulate mode, so it can be applied immediately. With --backend sqlite
the database is created and migrated.`,
		Example: `  # Create ./deploykit.yaml with file-based progress
  deployctl init

  # Use the SQLite backend with a run journal
  deployctl init --backend sqlite`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := projectPath()

			if backend != config.BackendFile && backend != config.BackendSQLite {
				return fmt.Errorf("invalid backend %q: must be %s or %s", backend, config.BackendFile, config.BackendSQLite)
			}

			log.Info().
				Str("config", path).
				Str("backend", backend).
				Msg("Initializing project")

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite it", path)
			}

			content := strings.Replace(config.SampleProject, "backend: "+config.BackendFile, "backend: "+backend, 1)
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
			}
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				return fmt.Errorf("failed to write project file: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ui.SuccessMsg("Created project file: %s", path))

			w, err := openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer w.Close()

			if err := os.MkdirAll(w.project.StateDir(), 0o755); err != nil {
				return fmt.Errorf("failed to create state directory: %w", err)
			}
			if w.sqlite != nil {
				fmt.Fprintln(out, ui.SuccessMsg("Initialized SQLite database: %s", w.project.DatabasePath()))
			} else {
				fmt.Fprintln(out, ui.SuccessMsg("Created state directory: %s", w.project.StateDir()))
			}

			fmt.Fprintf(out, "\nNext steps:\n")
			fmt.Fprintf(out, "  1. Preview the sample scenario:\n")
			fmt.Fprintf(out, "     deployctl preview --env dev\n\n")
			fmt.Fprintf(out, "  2. Apply it:\n")
			fmt.Fprintf(out, "     deployctl apply --env dev\n\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&backend, "backend", config.BackendFile, "state backend (file or sqlite)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing project file")

	return cmd
}
