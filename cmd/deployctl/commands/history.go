package commands

import (
	"fmt"
	"time"

	"github.com/openfroyo/deploykit/cmd/deployctl/ui"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		env   string
		runID string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs from the run journal",
		Long: `List runs recorded in the run journal, newest first, or the events of one
run with --run. The journal is kept by the sqlite state backend.`,
		Example: `  # Recent runs in dev
  deployctl history --env dev

  # Events of one run
  deployctl history --run 3f0c1a9e-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			w, err := openWorkspace(ctx)
			if err != nil {
				return err
			}
			defer w.Close()

			if w.sqlite == nil {
				return fmt.Errorf("the run journal requires state.backend: sqlite")
			}
			out := cmd.OutOrStdout()

			if runID != "" {
				run, err := w.sqlite.GetRun(ctx, runID)
				if err != nil {
					return err
				}
				events, err := w.sqlite.ListEvents(ctx, runID)
				if err != nil {
					return err
				}
				if jsonOutput {
					return writeJSON(out, map[string]interface{}{"run": run, "events": events})
				}

				fmt.Fprint(out, ui.Fields(
					ui.Field{Label: "Run", Value: run.ID},
					ui.Field{Label: "Environment", Value: run.Environment},
					ui.Field{Label: "Scenario", Value: run.Scenario},
					ui.Field{Label: "Mode", Value: string(run.Mode)},
					ui.Field{Label: "Status", Value: ui.Status(run.Status)},
				))
				rows := make([][]string, 0, len(events))
				for _, e := range events {
					rows = append(rows, []string{
						e.Timestamp.Local().Format(time.TimeOnly),
						e.Type,
						e.Step,
						ui.Status(e.Level),
						e.Message,
					})
				}
				fmt.Fprintln(out, ui.Table([]string{"Time", "Event", "Step", "Level", "Message"}, rows))
				return nil
			}

			runs, err := w.sqlite.ListRuns(ctx, env, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(out, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, ui.Muted("no runs recorded"))
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, r := range runs {
				duration := ""
				if r.CompletedAt != nil {
					duration = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				errMsg := ""
				if r.Error != nil {
					errMsg = *r.Error
				}
				rows = append(rows, []string{
					r.ID,
					r.Environment,
					r.Scenario,
					string(r.Mode),
					ui.Status(r.Status),
					r.StartedAt.Local().Format(time.DateTime),
					duration,
					errMsg,
				})
			}
			fmt.Fprintln(out, ui.Table([]string{"Run", "Environment", "Scenario", "Mode", "Status", "Started", "Duration", "Error"}, rows))
			return nil
		},
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "only list runs of this environment")
	cmd.Flags().StringVar(&runID, "run", "", "show the events of one run")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to list")

	return cmd
}
