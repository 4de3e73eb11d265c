package main

import (
	"os"

	"github.com/sealpatch/sealpatch/internal/plan"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the full procedure without executing anything",
		Long: `Run discovery and render the ordered step list the apply command would
execute. Destructive steps are marked with "!". Nothing is modified.`,
		Example: `  sealpatch plan`,
		RunE:    planRun,
	}

	return cmd
}

func planRun(cmd *cobra.Command, args []string) error {
	in, err := discoverAll(cmd.Context())
	if err != nil {
		return err
	}

	engine := plan.NewEngine(globalCfg, globalRunner, nil, logger)
	p := engine.Build(*in)
	p.Render(os.Stdout)

	return nil
}
