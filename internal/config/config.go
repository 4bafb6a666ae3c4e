package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/safesim/simdash/internal/model"
)

const (
	dirName  = ".simdash"
	fileName = "config.yaml"
)

// Config represents the user's configuration
type Config struct {
	ServerURL       string        `yaml:"server_url"`
	PushPath        string        `yaml:"push_path"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	StepDelay       time.Duration `yaml:"step_delay"`
	VisibilityDelay time.Duration `yaml:"visibility_delay"`
	LogLevel        string        `yaml:"log_level"`
	LogPath         string        `yaml:"log_path"`
	JournalPath     string        `yaml:"journal_path"`
	JournalEnabled  bool          `yaml:"journal_enabled"`
	Defaults        SetupDefaults `yaml:"defaults"`

	// Source is the file the config was read from, empty for defaults
	Source string `yaml:"-"`
}

// SetupDefaults prefill the simulation setup form
type SetupDefaults struct {
	ProjectName      string              `yaml:"project_name"`
	Configuration    model.Configuration `yaml:"configuration"`
	UseSampleBacklog bool                `yaml:"use_sample_backlog"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	base := "~"
	if home, err := os.UserHomeDir(); err == nil {
		base = home
	}
	return &Config{
		ServerURL:       "http://localhost:5000",
		PushPath:        "/socket.io/",
		RequestTimeout:  30 * time.Second,
		StepDelay:       500 * time.Millisecond,
		VisibilityDelay: 10 * time.Millisecond,
		LogLevel:        "info",
		LogPath:         filepath.Join(base, dirName, "logs", "simdash.log"),
		JournalPath:     filepath.Join(base, dirName, "journal.db"),
		JournalEnabled:  true,
		Defaults: SetupDefaults{
			ProjectName:      "SAFe Simulation",
			Configuration:    model.ConfigEssential,
			UseSampleBacklog: true,
		},
	}
}

// globalConfigDir returns the global config directory path (~/.simdash)
func globalConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, dirName), nil
}

func globalConfigPath() (string, error) {
	dir, err := globalConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// projectConfigPath returns the project-level config path (.simdash/config.yaml in cwd)
func projectConfigPath() string {
	return filepath.Join(dirName, fileName)
}

// Exists checks if a config file exists (project or global)
func Exists() bool {
	if _, err := os.Stat(projectConfigPath()); err == nil {
		return true
	}
	path, err := globalConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Load reads the config, checking the project file first and then the
// global one. Environment variables override whatever the file says.
func Load() (*Config, error) {
	candidates := []string{projectConfigPath()}
	if global, err := globalConfigPath(); err == nil {
		candidates = append(candidates, global)
	}

	for _, path := range candidates {
		cfg, err := readFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return finish(cfg)
	}
	return finish(DefaultConfig())
}

// LoadFile reads the config from an explicit path. A missing file is an
// error here, unlike Load.
func LoadFile(path string) (*Config, error) {
	cfg, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return finish(cfg)
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Source = path
	return cfg, nil
}

func finish(cfg *Config) (*Config, error) {
	cfg.applyEnv()
	cfg.LogPath = expandHome(cfg.LogPath)
	cfg.JournalPath = expandHome(cfg.JournalPath)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ServerURL = envStr("SIMDASH_SERVER_URL", c.ServerURL)
	c.PushPath = envStr("SIMDASH_PUSH_PATH", c.PushPath)
	c.LogLevel = envStr("SIMDASH_LOG_LEVEL", c.LogLevel)
	c.LogPath = envStr("SIMDASH_LOG_PATH", c.LogPath)
	c.JournalPath = envStr("SIMDASH_JOURNAL_PATH", c.JournalPath)
	c.JournalEnabled = envBool("SIMDASH_JOURNAL_ENABLED", c.JournalEnabled)
	c.RequestTimeout = envDuration("SIMDASH_REQUEST_TIMEOUT", c.RequestTimeout)
	c.StepDelay = envDuration("SIMDASH_STEP_DELAY", c.StepDelay)
	c.VisibilityDelay = envDuration("SIMDASH_VISIBILITY_DELAY", c.VisibilityDelay)
}

// Validate checks the values a run depends on.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server_url must be an http(s) URL, got %q", c.ServerURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.StepDelay <= 0 {
		return fmt.Errorf("step_delay must be positive, got %s", c.StepDelay)
	}
	if c.VisibilityDelay < 0 {
		return fmt.Errorf("visibility_delay must not be negative, got %s", c.VisibilityDelay)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	if c.JournalEnabled && c.JournalPath == "" {
		return fmt.Errorf("journal_path must not be empty when the journal is enabled")
	}
	return nil
}

// Save writes the config to both project and global locations
func Save(cfg *Config) error {
	// A read-only working directory still leaves the global copy
	_ = SaveToProject(cfg)
	return SaveToGlobal(cfg)
}

// SaveToProject writes the config to .simdash/config.yaml in the working directory
func SaveToProject(cfg *Config) error {
	return writeFile(projectConfigPath(), cfg)
}

// SaveToGlobal writes the config to ~/.simdash/config.yaml
func SaveToGlobal(cfg *Config) error {
	path, err := globalConfigPath()
	if err != nil {
		return err
	}
	return writeFile(path, cfg)
}

func writeFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// bare numbers are milliseconds
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}
