package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/deploykit/cmd/deployctl/ui"
	"github.com/openfroyo/deploykit/pkg/engine"
	"github.com/openfroyo/deploykit/pkg/policy"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runOutput adds the error text that RunResult omits from JSON.
type runOutput struct {
	*engine.RunResult
	Error string `json:"error,omitempty"`
}

func printRunResult(w io.Writer, r *engine.RunResult) error {
	if jsonOutput {
		out := runOutput{RunResult: r}
		if r.Err != nil {
			out.Error = r.Err.Error()
		}
		return writeJSON(w, out)
	}

	fmt.Fprint(w, ui.Fields(
		ui.Field{Label: "Run", Value: r.RunID},
		ui.Field{Label: "Environment", Value: r.Environment},
		ui.Field{Label: "Scenario", Value: r.Scenario},
		ui.Field{Label: "Mode", Value: string(r.Mode)},
		ui.Field{Label: "Status", Value: ui.Status(string(r.Status))},
		ui.Field{Label: "Cost", Value: strconv.FormatUint(r.TotalCost, 10)},
		ui.Field{Label: "Duration", Value: r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()},
	))

	rows := make([][]string, 0, len(r.Steps))
	for _, s := range r.Steps {
		phases := make([]string, len(s.Phases))
		for i, p := range s.Phases {
			phases[i] = string(p)
		}
		note := s.Warning
		if s.Error != nil {
			note = s.Error.Error()
		}
		rows = append(rows, []string{
			s.Step,
			ui.Status(string(s.Outcome)),
			strings.Join(phases, "+"),
			s.ResourceID,
			strconv.FormatUint(s.CreateCost+s.ConfigureCost, 10),
			note,
		})
	}
	fmt.Fprintln(w, ui.Table([]string{"Step", "Outcome", "Ran", "Resource", "Cost", "Note"}, rows))

	for _, warning := range r.Warnings() {
		fmt.Fprintln(w, ui.WarnMsg("%s", warning))
	}
	switch {
	case r.Cancelled:
		fmt.Fprintln(w, ui.ErrorMsg("run cancelled; run again to resume"))
	case r.PersistenceSuspect:
		fmt.Fprintln(w, ui.ErrorMsg("progress may not reflect step %s; inspect the store before the next run", r.FailedStep))
	case r.Err != nil:
		fmt.Fprintln(w, ui.ErrorMsg("run stopped at step %s: %v", r.FailedStep, r.Err))
	default:
		fmt.Fprintln(w, ui.SuccessMsg("run finished: %s", r.Status))
	}
	return nil
}

// printPolicyResult reports non-blocking findings. Blocking violations are
// returned to the caller through Result.Err.
func printPolicyResult(w io.Writer, res *policy.Result) {
	for _, v := range res.Warnings {
		fmt.Fprintln(w, ui.WarnMsg("%s", v))
	}
	for _, v := range res.Violations {
		fmt.Fprintln(w, ui.ErrorMsg("%s", v))
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
