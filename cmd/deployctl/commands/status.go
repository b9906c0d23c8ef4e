package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/openfroyo/deploykit/cmd/deployctl/ui"
	"github.com/openfroyo/deploykit/pkg/engine"
	"github.com/openfroyo/deploykit/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	var (
		env      string
		scenario string
		preview  bool
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show deployment progress for an environment",
		Long: `Show the per-step progress recorded for an environment and scenario, and the
aggregate deployment status (not_started, in_progress, completed).

With --watch the report is re-rendered whenever the progress file changes;
this requires the file state backend.`,
		Example: `  # Show committed progress
  deployctl status --env dev

  # Show preview progress
  deployctl status --env prod --preview

  # Follow a run from another terminal
  deployctl status --env dev --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

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

			out := cmd.OutOrStdout()
			if err := renderStatus(ctx, out, w.backend, t); err != nil {
				return err
			}
			if !watch {
				return nil
			}
			if w.files == nil {
				return fmt.Errorf("--watch requires the file state backend")
			}
			return watchStatus(ctx, out, w.files, t)
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "environment ID")
	cmd.Flags().StringVarP(&scenario, "scenario", "s", "", "scenario name (default: the only scenario)")
	cmd.Flags().BoolVar(&preview, "preview", false, "show the preview progress store")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-render when progress changes")
	_ = cmd.MarkFlagRequired("env")

	return cmd
}

func renderStatus(ctx context.Context, out io.Writer, backend stores.Backend, t *target) error {
	store, err := stores.Load(ctx, backend, t.key)
	if err != nil {
		return err
	}
	report := engine.Report(t.catalog, store)

	if jsonOutput {
		return writeJSON(out, report)
	}

	fmt.Fprint(out, ui.Fields(
		ui.Field{Label: "Environment", Value: t.key.Environment},
		ui.Field{Label: "Protected", Value: yesNo(t.env.Protected)},
		ui.Field{Label: "Scenario", Value: report.Scenario},
		ui.Field{Label: "Mode", Value: string(t.key.Mode)},
		ui.Field{Label: "Status", Value: ui.Status(string(report.Status))},
		ui.Field{Label: "Satisfied", Value: fmt.Sprintf("%d/%d", report.Satisfied, report.Total)},
		ui.Field{Label: "Cost", Value: strconv.FormatUint(report.TotalCost, 10)},
	))

	rows := make([][]string, 0, len(report.Steps))
	for _, s := range report.Steps {
		updated := ""
		if !s.UpdatedAt.IsZero() {
			updated = s.UpdatedAt.Local().Format(time.DateTime)
		}
		rows = append(rows, []string{
			s.Step,
			s.Phases,
			s.Policy,
			ui.Check(s.Created),
			ui.Check(s.Configured),
			ui.Check(s.Satisfied),
			s.ResourceID,
			strconv.FormatUint(s.CreateCost+s.ConfigureCost, 10),
			updated,
			s.Warning,
		})
	}
	fmt.Fprintln(out, ui.Table(
		[]string{"Step", "Phases", "Policy", "Created", "Configured", "Satisfied", "Resource", "Cost", "Updated", "Warning"},
		rows,
	))

	for _, name := range report.Unknown {
		fmt.Fprintln(out, ui.WarnMsg("progress holds step %s, which the scenario no longer declares", name))
	}
	return nil
}

// watchStatus re-renders the report on changes to the progress file until
// ctx is cancelled. Saves replace the file by rename, so the parent
// directory is watched.
func watchStatus(ctx context.Context, out io.Writer, files *stores.FileBackend, t *target) error {
	path := files.Path(t.key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	log.Debug().Str("path", path).Msg("Watching progress file")

	// Coalesces the bursts of events produced by one save.
	const settle = 200 * time.Millisecond
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending = time.After(settle)
			}

		case <-pending:
			pending = nil
			if !jsonOutput {
				fmt.Fprintln(out, ui.Muted("updated "+time.Now().Format(time.TimeOnly)))
			}
			if err := renderStatus(ctx, out, files, t); err != nil {
				log.Warn().Err(err).Msg("Failed to render status")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")
		}
	}
}
