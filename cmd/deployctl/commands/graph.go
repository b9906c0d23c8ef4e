package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGraphCommand() *cobra.Command {
	var scenario string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Print a scenario's prerequisite graph in DOT format",
		Example: `  # Render the default scenario with Graphviz
  deployctl graph --scenario default | dot -Tsvg > default.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, project, err := loadProject(cmd.Context())
			if err != nil {
				return err
			}

			if scenario == "" {
				if len(project.Scenarios) != 1 {
					return fmt.Errorf("--scenario is required")
				}
				scenario = project.Scenarios[0].Name
			}
			catalog, err := project.BuildCatalog(scenario)
			if err != nil {
				return err
			}

			fmt.Fprint(cmd.OutOrStdout(), catalog.ToDOT())
			return nil
		},
	}

	cmd.Flags().StringVarP(&scenario, "scenario", "s", "", "scenario name (default: the only scenario)")

	return cmd
}
