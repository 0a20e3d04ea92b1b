package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	OutputDirectory string `yaml:"output_directory,omitempty"`
	GitHubHost      string `yaml:"github_host,omitempty"`

	// GitHub App identity. PrivateKey is a file:// path, a bare path,
	// or inline PEM; tokens themselves never live in config files.
	AppID          int64  `yaml:"app_id,omitempty"`
	PrivateKey     string `yaml:"private_key,omitempty"`
	InstallationID int64  `yaml:"installation_id,omitempty"`

	// Pacing
	ThrottleLimit int     `yaml:"throttle_limit,omitempty"`
	ThrottlePause float64 `yaml:"throttle_pause,omitempty"` // seconds
	Workers       int     `yaml:"workers,omitempty"`

	// Behavior
	Incremental bool `yaml:"incremental,omitempty"`
	Bare        bool `yaml:"bare,omitempty"`
	NoPrune     bool `yaml:"no_prune,omitempty"`

	// Repository selection
	NameRegex    string   `yaml:"name_regex,omitempty"`
	Languages    []string `yaml:"languages,omitempty"`
	ExcludeRepos []string `yaml:"exclude_repos,omitempty"`
}

// DefaultConfigDir returns the default config directory
func DefaultConfigDir() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return ".ghvault"
	}
	return filepath.Join(configDir, "ghvault")
}

// ConfigPath returns the path to the config file
func ConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// LocalConfigPath returns the path to the local config file in the current directory
func LocalConfigPath() string {
	return ".ghvault.yaml"
}

// ConfigFileExists returns true if the config file exists on disk
func ConfigFileExists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}

// Load loads the configuration from disk.
// It first loads the global config from XDG config directory, then merges
// any local .ghvault.yaml config on top (local values take precedence).
func Load() (*Config, error) {
	cfg := &Config{
		OutputDirectory: ".",
		Workers:         1,
	}

	// Load global config if it exists
	globalPath := ConfigPath()
	if _, err := os.Stat(globalPath); err == nil {
		data, err := os.ReadFile(globalPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read global config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse global config file: %w", err)
		}
	}

	// Load local config if it exists and merge on top
	localPath := LocalConfigPath()
	if _, err := os.Stat(localPath); err == nil {
		data, err := os.ReadFile(localPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read local config file: %w", err)
		}

		var localCfg Config
		if err := yaml.Unmarshal(data, &localCfg); err != nil {
			return nil, fmt.Errorf("failed to parse local config file: %w", err)
		}

		cfg = mergeConfig(cfg, &localCfg)
	}

	if cfg.OutputDirectory == "" {
		cfg.OutputDirectory = "."
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}

	return cfg, nil
}

// mergeConfig merges local config on top of global config.
// Local values take precedence; unset local values preserve global values.
func mergeConfig(global, local *Config) *Config {
	result := *global

	if local.OutputDirectory != "" {
		result.OutputDirectory = local.OutputDirectory
	}
	if local.GitHubHost != "" {
		result.GitHubHost = local.GitHubHost
	}
	if local.AppID != 0 {
		result.AppID = local.AppID
	}
	if local.PrivateKey != "" {
		result.PrivateKey = local.PrivateKey
	}
	if local.InstallationID != 0 {
		result.InstallationID = local.InstallationID
	}
	if local.ThrottleLimit != 0 {
		result.ThrottleLimit = local.ThrottleLimit
	}
	if local.ThrottlePause != 0 {
		result.ThrottlePause = local.ThrottlePause
	}
	if local.Workers != 0 {
		result.Workers = local.Workers
	}
	if local.Incremental {
		result.Incremental = true
	}
	if local.Bare {
		result.Bare = true
	}
	if local.NoPrune {
		result.NoPrune = true
	}
	if local.NameRegex != "" {
		result.NameRegex = local.NameRegex
	}
	if len(local.Languages) > 0 {
		result.Languages = local.Languages
	}
	if len(local.ExcludeRepos) > 0 {
		result.ExcludeRepos = local.ExcludeRepos
	}

	return &result
}

// ThrottlePauseDuration converts the configured pause (seconds) to a duration
func (c *Config) ThrottlePauseDuration() time.Duration {
	return time.Duration(c.ThrottlePause * float64(time.Second))
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	configDir := DefaultConfigDir()

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	configPath := ConfigPath()
	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetGitHubToken returns the GitHub token from the GITHUB_TOKEN environment variable.
// Following 12-factor app best practices, tokens are only read from the environment.
func (c *Config) GetGitHubToken() string {
	return os.Getenv("GITHUB_TOKEN")
}

// ToYAML returns the config as a YAML string
func (c *Config) ToYAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}
	return string(data), nil
}

// ConfigPathInfo contains information about config file paths
type ConfigPathInfo struct {
	GlobalPath   string
	GlobalExists bool
	LocalPath    string
	LocalExists  bool
}

// GetConfigPaths returns path info for both global and local configs
func GetConfigPaths() ConfigPathInfo {
	globalPath := ConfigPath()
	localPath := LocalConfigPath()

	absLocalPath, err := filepath.Abs(localPath)
	if err != nil {
		absLocalPath = localPath
	}

	_, globalErr := os.Stat(globalPath)
	_, localErr := os.Stat(localPath)

	return ConfigPathInfo{
		GlobalPath:   globalPath,
		GlobalExists: globalErr == nil,
		LocalPath:    absLocalPath,
		LocalExists:  localErr == nil,
	}
}

// MinimalConfig returns a minimal config template with comments
func MinimalConfig() string {
	return `# ghvault configuration file

# Where backups are written
output_directory: .

# GitHub Enterprise hostname (optional; defaults to github.com)
# github_host: github.example.com

# GitHub App credentials (personal tokens come from GITHUB_TOKEN instead)
# app_id: 12345
# private_key: file:///etc/ghvault/app.pem
# installation_id: 678910

# Pause between API calls once the remaining quota drops this low
# throttle_limit: 100
# throttle_pause: 30

# Parallel installations to back up at once
# workers: 4

# Repository selection (optional)
# name_regex: '^service-'
# languages:
#   - go
# exclude_repos:
#   - owner/noisy-repo
`
}

// SaveTo writes content to a specific path, creating directories as needed
func SaveTo(path string, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}

	return nil
}
