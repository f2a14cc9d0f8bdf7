package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Store owns the persisted configuration file. Every mutation is
// written back to disk immediately, so out-of-band edits between runs
// are the only way the file and the in-memory view can diverge.
type Store struct {
	path string
	cfg  *Config
}

// NewStore loads the configuration at path into a store. A missing
// file yields a store around an empty (but defaulted) configuration;
// it is created on the first mutation.
//
// Unlike Load, opening for edit does not validate: tracking and ignore
// entries may be managed before the repository is configured.
func NewStore(path string) (*Store, error) {
	path = os.ExpandEnv(path)

	cfg, err := loadForEdit(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = &Config{}
		cfg.applyDefaults()
	}

	return &Store{path: path, cfg: cfg}, nil
}

// loadForEdit parses and defaults the config without validating it and
// without expanding environment variables, so references like $HOME in
// values survive a save round-trip.
func loadForEdit(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Config returns the current configuration value.
func (s *Store) Config() *Config {
	return s.cfg
}

// AddDir registers a directory for tracking. Returns false if it was
// already tracked.
func (s *Store) AddDir(path string) (bool, error) {
	return s.addTo(&s.cfg.Track.Dirs, path)
}

// RemoveDir stops tracking a directory. Returns false if it was not
// tracked.
func (s *Store) RemoveDir(path string) (bool, error) {
	return s.removeFrom(&s.cfg.Track.Dirs, path)
}

// AddFile registers an individual file for tracking.
func (s *Store) AddFile(path string) (bool, error) {
	return s.addTo(&s.cfg.Track.Files, path)
}

// RemoveFile stops tracking an individual file.
func (s *Store) RemoveFile(path string) (bool, error) {
	return s.removeFrom(&s.cfg.Track.Files, path)
}

// AddPattern registers an ignore pattern.
func (s *Store) AddPattern(pattern string) (bool, error) {
	return s.addTo(&s.cfg.Ignore.Patterns, pattern)
}

// RemovePattern removes an ignore pattern.
func (s *Store) RemovePattern(pattern string) (bool, error) {
	return s.removeFrom(&s.cfg.Ignore.Patterns, pattern)
}

func (s *Store) addTo(list *[]string, entry string) (bool, error) {
	if entry == "" {
		return false, fmt.Errorf("entry must not be empty")
	}
	for _, e := range *list {
		if e == entry {
			return false, nil
		}
	}
	*list = append(*list, entry)
	if err := s.Save(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) removeFrom(list *[]string, entry string) (bool, error) {
	kept := (*list)[:0]
	removed := false
	for _, e := range *list {
		if e == entry {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	if !removed {
		return false, nil
	}
	*list = kept
	if err := s.Save(); err != nil {
		return false, err
	}
	return true, nil
}

// Save writes the configuration back to its file atomically.
func (s *Store) Save() error {
	data, err := yaml.Marshal(s.cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".dotsyncd-config-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, s.path)
}
