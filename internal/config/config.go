// Package config manages YAML-based configuration for dfsselect: the scan root,
// filesystem backend, ignore rules, byte budget, and checkpoint storage.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/CageChen/dfsselect/internal/fs"
	"github.com/CageChen/dfsselect/internal/logging"
)

// Checkpoint storage backends.
const (
	CheckpointFile   = "file"
	CheckpointSQLite = "sqlite"
)

// DefaultSourceLimit is the byte budget used when none is configured.
const DefaultSourceLimit int64 = 1 << 30

// FilesystemConfig selects the filesystem the root lives on.
type FilesystemConfig struct {
	Type    string      `yaml:"type" json:"type"`
	GitRef  string      `yaml:"git_ref,omitempty" json:"git_ref,omitempty"`
	SubPath string      `yaml:"sub_path,omitempty" json:"sub_path,omitempty"`
	S3      fs.S3Config `yaml:"s3,omitempty" json:"s3,omitempty"`
}

// CheckpointConfig selects where callers persist checkpoints.
type CheckpointConfig struct {
	Backend string `yaml:"backend" json:"backend"`
	Path    string `yaml:"path" json:"path"`
}

// Config holds all configuration options for dfsselect
type Config struct {
	// Source names the checkpoint stream. Defaults to the root.
	Source string `yaml:"source,omitempty" json:"source,omitempty"`
	Root   string `yaml:"root" json:"root"`

	Filesystem FilesystemConfig `yaml:"filesystem" json:"filesystem"`

	// Entries whose names start with any of these prefixes are skipped at every depth.
	IgnorePrefixes []string `yaml:"ignore_prefixes" json:"ignore_prefixes"`
	// Exclude holds doublestar globs matched against root-relative paths.
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`

	SourceLimit int64 `yaml:"source_limit" json:"source_limit"`
	Parallelism int   `yaml:"parallelism" json:"parallelism"`

	Port  int  `yaml:"port" json:"port"`
	Watch bool `yaml:"watch" json:"watch"`

	Checkpoint CheckpointConfig `yaml:"checkpoint" json:"checkpoint"`
	Log        logging.Config   `yaml:"log" json:"log"`

	// Internal: path to config file for saving
	configPath string
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Root:           ".",
		Filesystem:     FilesystemConfig{Type: fs.TypeLocal},
		IgnorePrefixes: []string{".", "_"},
		SourceLimit:    DefaultSourceLimit,
		Parallelism:    8,
		Port:           8080,
		Watch:          true,
		Checkpoint: CheckpointConfig{
			Backend: CheckpointFile,
			Path:    filepath.Join(GetConfigDir(), "checkpoints.yaml"),
		},
		Log: logging.Config{Level: "info", Format: "json"},
	}
}

// GetConfigDir returns the config directory path
func GetConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/dfsselect"
	}
	return filepath.Join(home, ".config", "dfsselect")
}

// GetConfigPath returns the full path to the config file
func GetConfigPath() string {
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// Load reads the configuration file at path. An empty path looks for
// ~/.config/dfsselect/config.yaml, then ./dfsselect.yaml, and falls back to
// defaults when neither exists.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	cfgPath := path
	if cfgPath == "" {
		if _, err := os.Stat(GetConfigPath()); err == nil {
			cfgPath = GetConfigPath()
		} else if _, err := os.Stat("dfsselect.yaml"); err == nil {
			cfgPath = "dfsselect.yaml"
		}
	}

	if cfgPath != "" {
		if err := cfg.loadFromFile(cfgPath); err != nil {
			// Only fail hard if the user explicitly specified the file
			if path != "" || !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
			}
		}
		cfg.configPath = cfgPath
	} else {
		cfg.configPath = GetConfigPath()
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Normalize resolves the root to an absolute path for local filesystems and
// fills derived defaults.
func (c *Config) Normalize() {
	if c.Filesystem.Type == "" {
		c.Filesystem.Type = fs.TypeLocal
	}
	if c.Filesystem.Type == fs.TypeGit && c.Filesystem.GitRef == "" {
		c.Filesystem.GitRef = "HEAD"
	}
	if c.Filesystem.Type == fs.TypeLocal || c.Filesystem.Type == fs.TypeGit {
		if abs, err := filepath.Abs(c.Root); err == nil {
			c.Root = abs
		}
	}
	if c.Source == "" {
		c.Source = c.Root
		if c.Filesystem.Type == fs.TypeGit {
			c.Source = c.Root + "@" + c.Filesystem.GitRef + ":" + c.Filesystem.SubPath
		}
	}
	if c.IgnorePrefixes == nil {
		c.IgnorePrefixes = []string{".", "_"}
	}
}

// Validate checks the configuration for values the selector cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, errors.New("root is required"))
	}
	switch c.Filesystem.Type {
	case fs.TypeLocal, fs.TypeGit:
	case fs.TypeS3:
		if _, _, err := fs.ParseS3URI(c.Root); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("%w: %q", fs.ErrUnknownFilesystem, c.Filesystem.Type))
	}
	if c.SourceLimit <= 0 {
		errs = append(errs, fmt.Errorf("source_limit must be positive, got %d", c.SourceLimit))
	}
	if c.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("parallelism must not be negative, got %d", c.Parallelism))
	}
	for _, p := range c.IgnorePrefixes {
		if p == "" {
			errs = append(errs, errors.New("ignore_prefixes must not contain an empty prefix"))
			break
		}
	}
	for _, pattern := range c.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			errs = append(errs, fmt.Errorf("invalid exclude pattern %q", pattern))
		}
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("log: %w", err))
	}
	switch c.Checkpoint.Backend {
	case CheckpointFile, CheckpointSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint backend %q", c.Checkpoint.Backend))
	}
	return errors.Join(errs...)
}

// FilesystemOptions converts the config into options for fs.New.
func (c *Config) FilesystemOptions() fs.Options {
	return fs.Options{
		Type:    c.Filesystem.Type,
		Root:    c.Root,
		GitRef:  c.Filesystem.GitRef,
		SubPath: c.Filesystem.SubPath,
		S3:      c.Filesystem.S3,
	}
}

// Save saves the current configuration to the config file
func (c *Config) Save() error {
	// Ensure config directory exists
	configDir := filepath.Dir(c.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.configPath, data, 0644)
}

// GetConfigFilePath returns the path to the config file
func (c *Config) GetConfigFilePath() string {
	return c.configPath
}

// SetConfigFilePath overrides the path the config is saved to and watched at.
func (c *Config) SetConfigFilePath(path string) {
	c.configPath = path
}

// Marshal renders the configuration as YAML with secrets redacted.
func (c *Config) Marshal() ([]byte, error) {
	redacted := *c
	if redacted.Filesystem.S3.SecretKey != "" {
		redacted.Filesystem.S3.SecretKey = "********"
	}
	return yaml.Marshal(&redacted)
}
