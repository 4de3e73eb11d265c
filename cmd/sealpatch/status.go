package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	statusLimit int
	statusSteps bool
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display journaled runs",
		Long: `Display recent runs from the journal: when they ran, whether they were dry
runs, and how they ended. Use --steps to include each run's step outcomes.`,
		Example: `  sealpatch status
  sealpatch status --limit 5 --steps`,
		RunE: statusRun,
	}

	cmd.Flags().IntVar(&statusLimit, "limit", 10, "maximum number of runs to show")
	cmd.Flags().BoolVar(&statusSteps, "steps", false, "show each run's step outcomes")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("journal not initialized")
	}

	runs, err := globalStore.ListRuns(statusLimit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	for _, run := range runs {
		mode := "apply"
		if run.DryRun {
			mode = "dry-run"
		}
		fmt.Printf("%s  %s  %-9s %s", run.ID, run.StartedAt.Format("2006-01-02 15:04:05"), run.Status, mode)
		if run.ErrorMessage != "" {
			fmt.Printf("  (%s)", run.ErrorMessage)
		}
		fmt.Println()

		if !statusSteps {
			continue
		}
		steps, err := globalStore.ListSteps(run.ID)
		if err != nil {
			return fmt.Errorf("listing steps for run %s: %w", run.ID, err)
		}
		for _, s := range steps {
			marker := " "
			if s.Destructive {
				marker = "!"
			}
			fmt.Printf("  %2d %s %-32s %-10s %s\n", s.Seq, marker, s.StepID, s.Status, s.Detail)
		}
	}

	return nil
}
