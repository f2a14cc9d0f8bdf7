package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultBranch is the primary branch name dotsyncd commits to and
// pushes. It can be overridden via repo.branch in the config file.
const DefaultBranch = "main"

// DefaultIgnorePatterns are seeded into every configuration before any
// user-supplied patterns.
var DefaultIgnorePatterns = []string{
	".git",
	".cache",
	"*.log",
	"*.swp",
	"*.tmp",
}

// Config represents the complete dotsyncd configuration
type Config struct {
	Repo   RepoConfig   `yaml:"repo"`
	Track  TrackConfig  `yaml:"track"`
	Ignore IgnoreConfig `yaml:"ignore"`
	Sync   SyncConfig   `yaml:"sync"`
	Daemon DaemonConfig `yaml:"daemon"`
}

// RepoConfig configures the local mirror repository and its remote
type RepoConfig struct {
	LocalDir  string `yaml:"local_dir"`
	RemoteURL string `yaml:"remote_url"`
	Branch    string `yaml:"branch"`
}

// TrackConfig lists the dotfile directories and individual files to mirror
type TrackConfig struct {
	Dirs  []string `yaml:"dirs"`
	Files []string `yaml:"files"`
}

// IgnoreConfig lists glob-like exclusion patterns, authored relative to
// the home directory unless absolute
type IgnoreConfig struct {
	Patterns []string `yaml:"patterns"`
}

// SyncConfig configures mirror and commit behavior
type SyncConfig struct {
	DeleteExtraneous   bool `yaml:"delete_extraneous"`
	CommitMessageFiles bool `yaml:"commit_message_files"`
}

// DaemonConfig configures the long-running scheduler mode
type DaemonConfig struct {
	Interval    Duration `yaml:"interval"`
	Watch       bool     `yaml:"watch"`
	TriggerAddr string   `yaml:"trigger_addr"`
}

// Duration is a time.Duration that round-trips through YAML in the
// "1h30m" notation.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".config", "dotsyncd", "config.yaml"), nil
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all string fields
func (c *Config) expandEnv() {
	c.Repo.LocalDir = os.ExpandEnv(c.Repo.LocalDir)
	c.Repo.RemoteURL = os.ExpandEnv(c.Repo.RemoteURL)
	c.Daemon.TriggerAddr = os.ExpandEnv(c.Daemon.TriggerAddr)
	for i, d := range c.Track.Dirs {
		c.Track.Dirs[i] = os.ExpandEnv(d)
	}
	for i, f := range c.Track.Files {
		c.Track.Files[i] = os.ExpandEnv(f)
	}
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Default ignore patterns are seeded ahead of user entries; tracked
// paths and patterns keep first-seen order with duplicates dropped.
func (c *Config) applyDefaults() {
	if c.Repo.Branch == "" {
		c.Repo.Branch = DefaultBranch
	}
	if c.Daemon.Interval == 0 {
		c.Daemon.Interval = Duration(time.Hour)
	}

	c.Ignore.Patterns = mergeUnique(DefaultIgnorePatterns, c.Ignore.Patterns)
	c.Track.Dirs = mergeUnique(nil, c.Track.Dirs)
	c.Track.Files = mergeUnique(nil, c.Track.Files)
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Repo.LocalDir == "" {
		return fmt.Errorf("repo.local_dir is required")
	}
	if !filepath.IsAbs(c.Repo.LocalDir) {
		return fmt.Errorf("repo.local_dir must be an absolute path: %s", c.Repo.LocalDir)
	}
	if c.Repo.Branch == "" {
		return fmt.Errorf("repo.branch must not be empty")
	}
	if time.Duration(c.Daemon.Interval) < time.Minute {
		return fmt.Errorf("daemon.interval must be at least 1m: %s", time.Duration(c.Daemon.Interval))
	}
	for _, d := range c.Track.Dirs {
		if !filepath.IsAbs(d) && !isHomeRelative(d) {
			return fmt.Errorf("track.dirs entries must be absolute or ~-relative: %s", d)
		}
	}
	for _, f := range c.Track.Files {
		if !filepath.IsAbs(f) && !isHomeRelative(f) {
			return fmt.Errorf("track.files entries must be absolute or ~-relative: %s", f)
		}
	}
	return nil
}

// IgnoreFilePath returns the path of the ignore file inside the mirror
// repository.
func (c *Config) IgnoreFilePath() string {
	return filepath.Join(c.Repo.LocalDir, ".gitignore")
}

// ExpandHome resolves a leading "~" or "~/" prefix against the current
// user's home directory. Paths without the prefix pass through.
func ExpandHome(p string) (string, error) {
	if !isHomeRelative(p) {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	if p == "~" {
		return home, nil
	}
	return filepath.Join(home, p[2:]), nil
}

func isHomeRelative(p string) bool {
	return p == "~" || len(p) > 1 && p[0] == '~' && p[1] == '/'
}

// mergeUnique appends entries from extra to base, skipping entries that
// were already seen. First-seen order wins.
func mergeUnique(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	result := make([]string, 0, len(base)+len(extra))
	for _, s := range append(append([]string{}, base...), extra...) {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		result = append(result, s)
	}
	return result
}
