package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/deploykit/cmd/deployctl/ui"
	"github.com/openfroyo/deploykit/pkg/config"
	"github.com/openfroyo/deploykit/pkg/policy"
	"github.com/openfroyo/deploykit/pkg/stores"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// validationReport is the JSON form of validate's findings.
type validationReport struct {
	Valid      bool                         `json:"valid"`
	Errors     []config.ValidationError     `json:"errors,omitempty"`
	Scenarios  map[string]int               `json:"scenarios,omitempty"`
	Violations []policy.Violation           `json:"violations,omitempty"`
	Warnings   []policy.Violation           `json:"warnings,omitempty"`
	Params     map[string]map[string]string `json:"params,omitempty"`
	Policies   []string                     `json:"policies,omitempty"`
}

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the project file",
		Long: `Validate deploykit.yaml without running anything.

This command checks:
  - Struct constraints and the CUE project schema
  - Scenario catalogs (forward references, cycles, targets)
  - Action commands for every step phase in exec mode
  - Environment params scripts
  - Preflight policies for every environment and scenario`,
		Example: `  # Validate ./deploykit.yaml
  deployctl validate

  # Validate another project and print findings as JSON
  deployctl validate --config ./infra/deploykit.yaml --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			path := projectPath()

			log.Info().Str("config", path).Msg("Validating project")

			report := validationReport{Scenarios: map[string]int{}, Params: map[string]map[string]string{}}

			loader := config.NewLoader()
			project, err := loader.Load(ctx, path)
			if err != nil {
				var verrs config.ValidationErrors
				if !errors.As(err, &verrs) {
					return err
				}
				report.Errors = verrs
				if jsonOutput {
					if err := writeJSON(out, report); err != nil {
						return err
					}
				} else {
					for _, e := range verrs {
						fmt.Fprintln(out, ui.ErrorMsg("%s", e.Error()))
					}
				}
				return fmt.Errorf("%s has %d configuration error(s)", path, len(verrs))
			}

			policies, err := newPolicyEngine(ctx, project)
			if err != nil {
				return err
			}
			for _, p := range policies.ListPolicies() {
				if p.Enabled {
					report.Policies = append(report.Policies, p.Name)
				}
			}

			for _, env := range project.Environments {
				params, err := loader.ResolveParams(ctx, project, env.ID)
				if err != nil {
					return err
				}
				report.Params[env.ID] = params

				for _, sc := range project.Scenarios {
					t, err := resolveTarget(project, env.ID, sc.Name, stores.ModeCommit)
					if err != nil {
						return err
					}
					report.Scenarios[sc.Name] = t.catalog.Len()

					// Protected environments are assumed approved here; the
					// gate itself is enforced at run time.
					res, err := policies.Evaluate(ctx, policyInput(t, params, true, nil))
					if err != nil {
						return fmt.Errorf("policy evaluation failed: %w", err)
					}
					report.Violations = append(report.Violations, res.Violations...)
					report.Warnings = append(report.Warnings, res.Warnings...)
				}
			}
			report.Valid = len(report.Violations) == 0

			if jsonOutput {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				for _, sc := range project.Scenarios {
					fmt.Fprintln(out, ui.SuccessMsg("scenario %s: %d steps", sc.Name, report.Scenarios[sc.Name]))
				}
				for _, env := range project.Environments {
					fmt.Fprintln(out, ui.SuccessMsg("environment %s: %d params", env.ID, len(report.Params[env.ID])))
				}
				fmt.Fprintln(out, ui.SuccessMsg("policies: %s", strings.Join(report.Policies, ", ")))
				for _, v := range report.Warnings {
					fmt.Fprintln(out, ui.WarnMsg("%s", v))
				}
				for _, v := range report.Violations {
					fmt.Fprintln(out, ui.ErrorMsg("%s", v))
				}
			}

			if !report.Valid {
				return fmt.Errorf("%s violates %d blocking policy rule(s)", path, len(report.Violations))
			}
			if !jsonOutput {
				fmt.Fprintln(out, ui.SuccessMsg("%s is valid", path))
			}
			return nil
		},
	}

	return cmd
}
