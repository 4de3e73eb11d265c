package main

import (
	"fmt"
	"os"

	"github.com/sealpatch/sealpatch/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize the configuration",
		Long: `Show the effective configuration after defaults and the loaded file are
merged, or write a default config file with "config init".`,
		Example: `  sealpatch config
  sealpatch config init
  sealpatch config init --path /etc/sealpatch/sealpatch.yaml`,
		RunE: configShowRun,
	}

	cmd.AddCommand(newConfigInitCmd())

	return cmd
}

func configShowRun(cmd *cobra.Command, args []string) error {
	cfg := globalCfg
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	fmt.Print(string(data))
	return nil
}

var configInitPath string

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "init",
		Short:   "Write a default config file",
		Example: `  sealpatch config init --path sealpatch.yaml`,
		RunE:    configInitRun,
	}

	cmd.Flags().StringVar(&configInitPath, "path", "sealpatch.yaml", "where to write the config file")

	return cmd
}

func configInitRun(cmd *cobra.Command, args []string) error {
	if _, err := os.Stat(configInitPath); err == nil {
		return fmt.Errorf("refusing to overwrite existing config at %s", configInitPath)
	}

	if err := config.DefaultConfig().Write(configInitPath); err != nil {
		return err
	}
	fmt.Printf("wrote default config to %s\n", configInitPath)
	return nil
}
