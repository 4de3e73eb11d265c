package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sealpatch/sealpatch/internal/config"
	"github.com/sealpatch/sealpatch/internal/diskutil"
	"github.com/sealpatch/sealpatch/internal/executil"
	"github.com/sealpatch/sealpatch/internal/store"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath   string
	dbPath    string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore    *store.Store
	globalRunner   executil.Runner
	globalDiskutil *diskutil.Client
)

// initializeComponents initializes the global store, runner, and diskutil client
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	// Initialize journal store
	journalPath := globalCfg.Journal.DBPath
	if dbPath != "" {
		journalPath = dbPath
	}
	st, err := store.New(journalPath, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize journal: %w", err)
	}
	globalStore = st

	// Initialize command runner and diskutil client
	globalRunner = executil.NewExecRunner(logger)
	globalDiskutil = diskutil.NewClient(globalRunner, logger)

	logger.Debug("components initialized")
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmdName string) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
		"init":    true,
	}
	return skipInitCmds[cmdName]
}

// closeStore closes the global journal connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close journal", "error", err)
		}
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sealpatch",
		Short: "Recovery-environment remote access hardening for a single-user Mac",
		Long: `sealpatch reconfigures remote shell login (SSH) and remote screen sharing
on a single-user workstation from the recovery environment. It discovers the
sealed system volume and its paired data volume, verifies the config
artifacts on each, backs the mutable ones up into the root home with a
timestamp suffix, applies the port and daemon-config edits, and prints the
boot-snapshot command for the operator to run.

Irreversible steps are flagged and require --yes; --dry-run renders the full
plan without touching anything.`,
		Example: `  sealpatch discover
  sealpatch plan
  sealpatch apply --dry-run
  sealpatch apply --yes
  sealpatch apply --yes --target live
  sealpatch status
  sealpatch backups`,
		Version: "0.1.0",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil && cmd.Name() != "config" {
					logger.Warn("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "patch_target", globalCfg.Patch.Target)
			}

			// Initialize components after config is loaded
			if !shouldSkipComponentInit(cmd.Name()) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "override journal database path")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	// Add subcommands
	cmd.AddCommand(
		newDiscoverCmd(),
		newPlanCmd(),
		newApplyCmd(),
		newStatusCmd(),
		newBackupsCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
