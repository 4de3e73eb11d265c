package main

import (
	"fmt"

	"github.com/sealpatch/sealpatch/internal/config"
	"github.com/sealpatch/sealpatch/internal/plan"
	"github.com/spf13/cobra"
)

var (
	applyDryRun bool
	applyYes    bool
	applyTarget string
)

func newApplyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Run the remote access hardening procedure",
		Long: `Run the full procedure: discovery, timestamped backups into the root home,
the boot-security status query, the destructive system-volume remount, the
descriptor port edits, and the daemon-config hardening. The boot-snapshot
command and the authenticated-root disable command are printed, never
executed.

The remount is irreversible within a run and requires --yes. Use --dry-run
to render the plan and journal it without touching anything. --target
overrides whether the descriptor edits land on the backup copies (the
default), the remounted live files, or both.`,
		Example: `  sealpatch apply --dry-run
  sealpatch apply --yes
  sealpatch apply --yes --target both`,
		RunE: applyRun,
	}

	cmd.Flags().BoolVar(&applyDryRun, "dry-run", false, "show what would be done without making changes")
	cmd.Flags().BoolVar(&applyYes, "yes", false, "confirm execution of destructive steps")
	cmd.Flags().StringVar(&applyTarget, "target", "", "patch target override (backup, live, or both)")

	return cmd
}

func applyRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if applyTarget != "" {
		target, err := config.ParsePatchTarget(applyTarget)
		if err != nil {
			return err
		}
		globalCfg.Patch.Target = target
	}

	in, err := discoverAll(cmd.Context())
	if err != nil {
		return err
	}

	logger.Info("apply", "dry_run", applyDryRun, "target", globalCfg.Patch.Target, "users", in.Users)

	engine := plan.NewEngine(globalCfg, globalRunner, globalStore, logger)
	p := engine.Build(*in)

	if applyDryRun {
		fmt.Println("DRY RUN: apply would perform the following steps:")
	}

	result := engine.Apply(cmd.Context(), p, plan.ApplyOptions{
		DryRun:             applyDryRun,
		ConfirmDestructive: applyYes,
	})

	for _, line := range result.Logs {
		fmt.Println("  " + line)
	}

	if result.Err != nil {
		return result.Err
	}

	if applyDryRun {
		fmt.Println("DRY RUN complete; nothing was modified.")
		return nil
	}

	fmt.Println()
	fmt.Println("sealpatch complete: remote access hardened.")
	fmt.Printf("Run %s recorded %d steps; see 'sealpatch status' and 'sealpatch backups'.\n",
		result.RunID, result.StepsRun)
	return nil
}
