package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// PatchTarget selects which copies of the service descriptors receive the
// port edits.
type PatchTarget string

const (
	// TargetBackup edits the timestamped backup copies in the root home.
	TargetBackup PatchTarget = "backup"
	// TargetLive edits the descriptors on the remounted system volume.
	TargetLive PatchTarget = "live"
	// TargetBoth edits both.
	TargetBoth PatchTarget = "both"
)

// ParsePatchTarget validates a patch target string.
func ParsePatchTarget(s string) (PatchTarget, error) {
	switch PatchTarget(s) {
	case TargetBackup, TargetLive, TargetBoth:
		return PatchTarget(s), nil
	}
	return "", fmt.Errorf("invalid patch target %q (want backup, live, or both)", s)
}

// Config is the top-level configuration
type Config struct {
	Volumes  VolumesConfig  `yaml:"volumes"`
	Users    UsersConfig    `yaml:"users"`
	Services ServicesConfig `yaml:"services"`
	Patch    PatchConfig    `yaml:"patch"`
	Security SecurityConfig `yaml:"security"`
	Journal  JournalConfig  `yaml:"journal"`
}

// VolumesConfig holds the substrings used to pick the two APFS volumes
type VolumesConfig struct {
	SystemHint string `yaml:"system_hint"`
	DataHint   string `yaml:"data_hint"`
}

// UsersConfig holds the user-enumeration policy
type UsersConfig struct {
	Container     string   `yaml:"container"`
	Sentinels     []string `yaml:"sentinels"`
	RequiredCount int      `yaml:"required_count"`
}

// ServicesConfig holds the replacement ports for the two services
type ServicesConfig struct {
	SSHPort           int `yaml:"ssh_port"`
	ScreenSharingPort int `yaml:"screen_sharing_port"`
}

// PatchConfig selects where descriptor edits land
type PatchConfig struct {
	Target PatchTarget `yaml:"target"`
}

// SecurityConfig gates the irreversible boot-security instructions
type SecurityConfig struct {
	AllowAuthenticatedRootDisable bool `yaml:"allow_authenticated_root_disable"`
}

// JournalConfig holds journal settings
type JournalConfig struct {
	DBPath string `yaml:"db_path"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Volumes: VolumesConfig{
			SystemHint: "Macintosh HD",
			DataHint:   "Data",
		},
		Users: UsersConfig{
			Container:     "Users",
			Sentinels:     []string{"Shared", ".localized"},
			RequiredCount: 1,
		},
		Services: ServicesConfig{
			SSHPort:           22022,
			ScreenSharingPort: 59059,
		},
		Patch: PatchConfig{
			Target: TargetBackup,
		},
		Security: SecurityConfig{
			AllowAuthenticatedRootDisable: false,
		},
		Journal: JournalConfig{
			DBPath: "/private/var/root/sealpatch.db",
		},
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks values a typo would silently break
func (c *Config) Validate() error {
	if _, err := ParsePatchTarget(string(c.Patch.Target)); err != nil {
		return err
	}
	if c.Users.RequiredCount < 1 {
		return fmt.Errorf("users.required_count must be at least 1, got %d", c.Users.RequiredCount)
	}
	if c.Services.SSHPort <= 0 || c.Services.SSHPort > 65535 {
		return fmt.Errorf("services.ssh_port out of range: %d", c.Services.SSHPort)
	}
	if c.Services.ScreenSharingPort <= 0 || c.Services.ScreenSharingPort > 65535 {
		return fmt.Errorf("services.screen_sharing_port out of range: %d", c.Services.ScreenSharingPort)
	}
	if c.Volumes.SystemHint == "" || c.Volumes.DataHint == "" {
		return fmt.Errorf("volumes.system_hint and volumes.data_hint must be non-empty")
	}
	return nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"sealpatch.yaml",
		"/etc/sealpatch/sealpatch.yaml",
	}

	// Add user config path
	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "sealpatch", "sealpatch.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Write marshals the config to YAML at the given path
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
