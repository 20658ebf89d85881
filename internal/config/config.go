package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DataDirName is the default per-project data directory.
	DataDirName = ".attachview"

	// ProjectConfigName is the project configuration file name.
	ProjectConfigName = ".attachview.yaml"

	// projectConfigAltName is accepted when ProjectConfigName is absent.
	projectConfigAltName = ".attachview.yml"
)

// Config represents the complete attachview configuration.
type Config struct {
	Version int           `yaml:"version" json:"version"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Feed    FeedConfig    `yaml:"feed" json:"feed"`
	Watch   WatchConfig   `yaml:"watch" json:"watch"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// StoreConfig selects and configures the state and view backends.
type StoreConfig struct {
	// StateBackend holds per-document index state: memory, sqlite or redis.
	StateBackend string `yaml:"state_backend" json:"state_backend"`

	// ViewBackend holds the materialized rows: memory or sqlite. A memory view
	// requires a memory state backend.
	ViewBackend string `yaml:"view_backend" json:"view_backend"`

	// DataDir is the data directory, relative to the project root unless absolute.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// Path is the SQLite file, relative to DataDir unless absolute.
	Path string `yaml:"path" json:"path"`

	// CacheSize is the number of states kept in an LRU cache. 0 disables it.
	CacheSize int `yaml:"cache_size" json:"cache_size"`

	RedisAddr   string `yaml:"redis_addr" json:"redis_addr"`
	RedisDB     int    `yaml:"redis_db" json:"redis_db"`
	RedisPrefix string `yaml:"redis_prefix" json:"redis_prefix"`
}

// FeedConfig configures change feed processing.
type FeedConfig struct {
	// Workers is the number of partitions. Changes for one document id
	// always go to the same worker.
	Workers int `yaml:"workers" json:"workers"`

	// BufferSize is the per-worker queue length.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`

	// StopOnError aborts the feed on the first failed change.
	StopOnError bool `yaml:"stop_on_error" json:"stop_on_error"`
}

// WatchConfig configures directory watch mode.
type WatchConfig struct {
	Debounce     string   `yaml:"debounce" json:"debounce"`
	PollInterval string   `yaml:"poll_interval" json:"poll_interval"`
	Extensions   []string `yaml:"extensions" json:"extensions"`
	ForcePolling bool     `yaml:"force_polling" json:"force_polling"`

	// Prune removes documents whose file disappeared while not watching.
	Prune bool `yaml:"prune" json:"prune"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level     string `yaml:"level" json:"level"`
	File      string `yaml:"file" json:"file"`
	MaxSizeMB int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files" json:"max_files"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Store: StoreConfig{
			StateBackend: "sqlite",
			ViewBackend:  "sqlite",
			DataDir:      DataDirName,
			Path:         "index.db",
			RedisPrefix:  "attachview:",
		},
		Feed: FeedConfig{
			Workers:    runtime.NumCPU(),
			BufferSize: 64,
		},
		Watch: WatchConfig{
			Debounce:     "200ms",
			PollInterval: "2s",
			Extensions:   []string{".json"},
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: 10,
			MaxFiles:  5,
		},
	}
}

// GetUserConfigPath returns the path to the user/global configuration file.
// It follows XDG Base Directory specification:
//   - $XDG_CONFIG_HOME/attachview/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/attachview/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "attachview", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "attachview", "config.yaml")
	}
	return filepath.Join(home, ".config", "attachview", "config.yaml")
}

// UserConfigExists returns true if the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// loadUserConfig loads the user/global configuration file if it exists.
// Returns nil config and nil error if the file doesn't exist.
func loadUserConfig() (*Config, error) {
	configPath := GetUserConfigPath()
	if !fileExists(configPath) {
		return nil, nil
	}

	var cfg Config
	if err := readYAML(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load user config from %s: %w", configPath, err)
	}
	return &cfg, nil
}

// Load loads configuration from the specified directory.
// It applies configuration in order of increasing precedence:
//  1. Hardcoded defaults
//  2. User/global config (~/.config/attachview/config.yaml)
//  3. Project config (.attachview.yaml in dir)
//  4. Environment variables (ATTACHVIEW_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, err
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ProjectConfigPath returns the project config file in dir, preferring
// .attachview.yaml. The second result reports whether it exists.
func ProjectConfigPath(dir string) (string, bool) {
	yamlPath := filepath.Join(dir, ProjectConfigName)
	if fileExists(yamlPath) {
		return yamlPath, true
	}
	ymlPath := filepath.Join(dir, projectConfigAltName)
	if fileExists(ymlPath) {
		return ymlPath, true
	}
	return yamlPath, false
}

func (c *Config) loadFromFile(dir string) error {
	path, ok := ProjectConfigPath(dir)
	if !ok {
		return nil
	}
	var parsed Config
	if err := readYAML(path, &parsed); err != nil {
		return err
	}
	c.mergeWith(&parsed)
	return nil
}

func readYAML(path string, into *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	// Store
	if other.Store.StateBackend != "" {
		c.Store.StateBackend = other.Store.StateBackend
	}
	if other.Store.ViewBackend != "" {
		c.Store.ViewBackend = other.Store.ViewBackend
	}
	if other.Store.DataDir != "" {
		c.Store.DataDir = other.Store.DataDir
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.CacheSize != 0 {
		c.Store.CacheSize = other.Store.CacheSize
	}
	if other.Store.RedisAddr != "" {
		c.Store.RedisAddr = other.Store.RedisAddr
	}
	if other.Store.RedisDB != 0 {
		c.Store.RedisDB = other.Store.RedisDB
	}
	if other.Store.RedisPrefix != "" {
		c.Store.RedisPrefix = other.Store.RedisPrefix
	}

	// Feed
	if other.Feed.Workers != 0 {
		c.Feed.Workers = other.Feed.Workers
	}
	if other.Feed.BufferSize != 0 {
		c.Feed.BufferSize = other.Feed.BufferSize
	}
	if other.Feed.StopOnError {
		c.Feed.StopOnError = true
	}

	// Watch
	if other.Watch.Debounce != "" {
		c.Watch.Debounce = other.Watch.Debounce
	}
	if other.Watch.PollInterval != "" {
		c.Watch.PollInterval = other.Watch.PollInterval
	}
	if len(other.Watch.Extensions) > 0 {
		c.Watch.Extensions = other.Watch.Extensions
	}
	if other.Watch.ForcePolling {
		c.Watch.ForcePolling = true
	}
	if other.Watch.Prune {
		c.Watch.Prune = true
	}

	// Logging
	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.File != "" {
		c.Logging.File = other.Logging.File
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies ATTACHVIEW_* environment variable overrides.
// Malformed numeric values are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("ATTACHVIEW_STATE_BACKEND"); v != "" {
		c.Store.StateBackend = v
	}
	if v := os.Getenv("ATTACHVIEW_VIEW_BACKEND"); v != "" {
		c.Store.ViewBackend = v
	}
	if v := os.Getenv("ATTACHVIEW_DATA_DIR"); v != "" {
		c.Store.DataDir = v
	}
	if v := os.Getenv("ATTACHVIEW_DB_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("ATTACHVIEW_CACHE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Store.CacheSize = n
		}
	}
	if v := os.Getenv("ATTACHVIEW_REDIS_ADDR"); v != "" {
		c.Store.RedisAddr = v
	}
	if v := os.Getenv("ATTACHVIEW_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Store.RedisDB = n
		}
	}
	if v := os.Getenv("ATTACHVIEW_REDIS_PREFIX"); v != "" {
		c.Store.RedisPrefix = v
	}

	if v := os.Getenv("ATTACHVIEW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Feed.Workers = n
		}
	}
	if v := os.Getenv("ATTACHVIEW_STOP_ON_ERROR"); v != "" {
		c.Feed.StopOnError = parseBool(v)
	}

	if v := os.Getenv("ATTACHVIEW_WATCH_DEBOUNCE"); v != "" {
		c.Watch.Debounce = v
	}
	if v := os.Getenv("ATTACHVIEW_FORCE_POLLING"); v != "" {
		c.Watch.ForcePolling = parseBool(v)
	}

	if v := os.Getenv("ATTACHVIEW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ATTACHVIEW_LOG_FILE"); v != "" {
		c.Logging.File = v
	}
}

// normalize lower-cases enumerated values so they match the store and log
// level names exactly.
func (c *Config) normalize() {
	c.Store.StateBackend = strings.ToLower(strings.TrimSpace(c.Store.StateBackend))
	c.Store.ViewBackend = strings.ToLower(strings.TrimSpace(c.Store.ViewBackend))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	stateBackends := map[string]bool{"memory": true, "sqlite": true, "redis": true}
	if !stateBackends[c.Store.StateBackend] {
		return fmt.Errorf("store.state_backend must be 'memory', 'sqlite' or 'redis', got %q", c.Store.StateBackend)
	}
	viewBackends := map[string]bool{"memory": true, "sqlite": true}
	if !viewBackends[c.Store.ViewBackend] {
		return fmt.Errorf("store.view_backend must be 'memory' or 'sqlite', got %q", c.Store.ViewBackend)
	}
	// A memory view is empty in every new process and must not outlive its state.
	if c.Store.ViewBackend == "memory" && c.Store.StateBackend != "memory" {
		return fmt.Errorf("store.view_backend 'memory' requires state_backend 'memory', got %q", c.Store.StateBackend)
	}
	if c.Store.StateBackend == "redis" && c.Store.RedisAddr == "" {
		return fmt.Errorf("store.redis_addr is required when state_backend is 'redis'")
	}
	if c.Store.CacheSize < 0 {
		return fmt.Errorf("store.cache_size must be non-negative, got %d", c.Store.CacheSize)
	}
	if c.Store.RedisDB < 0 {
		return fmt.Errorf("store.redis_db must be non-negative, got %d", c.Store.RedisDB)
	}

	if c.Feed.Workers < 0 {
		return fmt.Errorf("feed.workers must be non-negative, got %d", c.Feed.Workers)
	}
	if c.Feed.BufferSize < 0 {
		return fmt.Errorf("feed.buffer_size must be non-negative, got %d", c.Feed.BufferSize)
	}

	if _, err := c.DebounceWindow(); err != nil {
		return err
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	for _, ext := range c.Watch.Extensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("watch.extensions entries must start with a dot, got %q", ext)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxFiles < 0 {
		return fmt.Errorf("logging.max_size_mb and logging.max_files must be non-negative")
	}
	return nil
}

// DebounceWindow parses Watch.Debounce. Empty means zero (use the watcher default).
func (c *Config) DebounceWindow() (time.Duration, error) {
	return parseDuration("watch.debounce", c.Watch.Debounce)
}

// PollInterval parses Watch.PollInterval. Empty means zero (use the watcher default).
func (c *Config) PollInterval() (time.Duration, error) {
	return parseDuration("watch.poll_interval", c.Watch.PollInterval)
}

func parseDuration(field, s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration like \"200ms\", got %q", field, s)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must be non-negative, got %s", field, s)
	}
	return d, nil
}

// ResolveDataDir returns the absolute data directory for a project root.
func (c *Config) ResolveDataDir(root string) string {
	if filepath.IsAbs(c.Store.DataDir) {
		return c.Store.DataDir
	}
	return filepath.Join(root, c.Store.DataDir)
}

// ResolveDBPath returns the absolute SQLite path for a project root.
func (c *Config) ResolveDBPath(root string) string {
	if filepath.IsAbs(c.Store.Path) {
		return c.Store.Path
	}
	return filepath.Join(c.ResolveDataDir(root), c.Store.Path)
}

// FindProjectRoot finds the project root directory.
// It looks for a .git directory or a .attachview.yaml/.yml file by walking up the directory tree.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if _, ok := ProjectConfigPath(currentDir); ok {
			return currentDir, nil
		}

		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			// Reached root, return original directory
			return absDir, nil
		}
		currentDir = parentDir
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileExists checks if a file exists and is not a directory.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// dirExists checks if a directory exists.
func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
