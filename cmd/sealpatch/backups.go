package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backupsLimit int

func newBackupsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backups",
		Short: "Display journaled backup copies",
		Long: `Display the timestamped backup copies recorded by previous runs, newest
first. The copies themselves live in the root home on the data volume.`,
		Example: `  sealpatch backups
  sealpatch backups --limit 5`,
		RunE: backupsRun,
	}

	cmd.Flags().IntVar(&backupsLimit, "limit", 20, "maximum number of backup records to show")

	return cmd
}

func backupsRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("journal not initialized")
	}

	backups, err := globalStore.ListBackups(backupsLimit)
	if err != nil {
		return fmt.Errorf("listing backups: %w", err)
	}

	if len(backups) == 0 {
		fmt.Println("no backups recorded")
		return nil
	}

	for _, b := range backups {
		verified := "unverified"
		if b.Verified {
			verified = "verified"
		}
		fmt.Printf("%s  %8d bytes  %-10s %s -> %s\n",
			b.CreatedAt.Format("2006-01-02 15:04:05"), b.SizeBytes, verified, b.Source, b.Dest)
	}

	return nil
}
