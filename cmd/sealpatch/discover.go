package main

import (
	"context"
	"fmt"

	"github.com/sealpatch/sealpatch/internal/artifact"
	"github.com/sealpatch/sealpatch/internal/diskutil"
	"github.com/sealpatch/sealpatch/internal/plan"
	"github.com/sealpatch/sealpatch/internal/users"
	"github.com/spf13/cobra"
)

func newDiscoverCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Locate the volumes, config artifacts, and operating user",
		Long: `Locate the sealed system volume and its paired data volume from diskutil's
structured output, resolve the five fixed config artifacts, verify each
exists, and enumerate the data volume's user accounts. Any missing
precondition aborts with an error before anything is touched.`,
		Example: `  sealpatch discover
  sealpatch discover --log-level debug`,
		RunE: discoverRun,
	}

	return cmd
}

// discoverAll runs the full precondition pipeline shared by discover, plan,
// and apply: volumes, then artifacts, then users.
func discoverAll(ctx context.Context) (*plan.Inputs, error) {
	if globalCfg == nil || globalDiskutil == nil {
		return nil, fmt.Errorf("components not initialized")
	}

	system, data, err := globalDiskutil.Locate(ctx, diskutil.Hints{
		System: globalCfg.Volumes.SystemHint,
		Data:   globalCfg.Volumes.DataHint,
	})
	if err != nil {
		return nil, fmt.Errorf("volume discovery: %w", err)
	}

	arts := artifact.Resolve(system.MountPoint, data.MountPoint, globalCfg.Users.Container)
	if err := arts.Verify(); err != nil {
		return nil, fmt.Errorf("artifact verification: %w", err)
	}

	enum := &users.Enumerator{
		Container:     arts.UsersContainer.Path,
		Sentinels:     globalCfg.Users.Sentinels,
		RequiredCount: globalCfg.Users.RequiredCount,
	}
	names, err := enum.Users()
	if err != nil {
		return nil, fmt.Errorf("user enumeration: %w", err)
	}

	return &plan.Inputs{
		System:    *system,
		Data:      *data,
		Artifacts: arts,
		Users:     names,
	}, nil
}

func discoverRun(cmd *cobra.Command, args []string) error {
	in, err := discoverAll(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("System volume:  %s (%s) mounted at %s\n",
		diskutil.DisplayName(in.System.MountPoint), in.System.Device, in.System.MountPoint)
	fmt.Printf("Data volume:    %s (%s) mounted at %s\n",
		diskutil.DisplayName(in.Data.MountPoint), in.Data.Device, in.Data.MountPoint)
	fmt.Println("Artifacts:")
	for _, a := range in.Artifacts.All() {
		fmt.Printf("  %-26s %s\n", a.Kind, a.Path)
	}
	fmt.Printf("Operating users: %v\n", in.Users)

	return nil
}
