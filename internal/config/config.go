// Package config loads depcache configuration from layered JSONC files.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/apex/log"
	"github.com/tailscale/hujson"
)

// Error variables for configuration loading.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigFileRead     = errors.New("cannot read config file")
	ErrConfigInvalid      = errors.New("invalid config file")
	ErrCacheDirEmpty      = errors.New("cache-dir cannot be empty")
	ErrParallelism        = errors.New("parallelism must be positive")
	ErrLogLevel           = errors.New("unknown log level")
	ErrRetryMax           = errors.New("download.retry_max cannot be negative")
	ErrTimeout            = errors.New("download.timeout cannot be negative")
)

// Config holds all configuration options.
type Config struct {
	// From config files (serialized)
	CacheDir    string   `json:"cache_dir"`
	Parallelism int      `json:"parallelism,omitempty"`
	LogLevel    string   `json:"log_level,omitempty"`
	Download    Download `json:"download"`
	S3          S3       `json:"s3"`

	// Resolved paths (computed, not serialized)
	EffectiveCwd string `json:"-"` // Absolute working directory (from -C flag or os.Getwd)
	CacheDirAbs  string `json:"-"` // Absolute path to the cache root

	// Sources tracks which config files were loaded (for diagnostics)
	Sources Sources `json:"-"`
}

// Download configures the fetcher behind download caches.
type Download struct {
	Timeout  Duration `json:"timeout,omitempty"`
	RetryMax *int     `json:"retry_max,omitempty"`
}

// S3 selects credentials for s3:// URIs. Empty fields fall back to the
// AWS SDK defaults.
type S3 struct {
	Region  string `json:"region,omitempty"`
	Profile string `json:"profile,omitempty"`
}

// Sources tracks which config files were loaded.
type Sources struct {
	Global  string // Path to global config if loaded, empty otherwise
	Project string // Path to project config if loaded, empty otherwise
}

// Duration is a [time.Duration] written as a string such as "30s".
type Duration time.Duration

// UnmarshalJSON accepts strings understood by [time.ParseDuration].
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string

	err := json.Unmarshal(data, &s)
	if err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(parsed)

	return nil
}

// MarshalJSON writes the duration in [time.Duration.String] form.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

const (
	defaultCacheDir = ".depcache"
	defaultLogLevel = "info"
	defaultTimeout  = Duration(30 * time.Second)
	defaultRetryMax = 3
)

// Default returns the default configuration.
func Default() Config {
	retryMax := defaultRetryMax

	return Config{
		CacheDir:    defaultCacheDir,
		Parallelism: runtime.NumCPU(),
		LogLevel:    defaultLogLevel,
		Download: Download{
			Timeout:  defaultTimeout,
			RetryMax: &retryMax,
		},
	}
}

// FileName is the default project config file name.
const FileName = ".depcache.json"

// globalPath returns the path to the global config file.
// Uses $XDG_CONFIG_HOME/depcache/config.json if set, otherwise ~/.config/depcache/config.json.
// Returns empty string if home directory cannot be determined.
func globalPath(env map[string]string) string {
	if xdgConfig := env["XDG_CONFIG_HOME"]; xdgConfig != "" {
		return filepath.Join(xdgConfig, "depcache", "config.json")
	}

	if home := env["HOME"]; home != "" {
		return filepath.Join(home, ".config", "depcache", "config.json")
	}

	return ""
}

// Input holds the inputs for Load.
type Input struct {
	WorkDirOverride  string            // -C/--cwd flag value; if empty, os.Getwd() is used
	ConfigPath       string            // -c/--config flag value
	CacheDirOverride string            // --cache-dir flag value; empty means no override
	LogLevelOverride string            // --log-level flag value; empty means no override
	Env              map[string]string // environment variables
}

// Load loads configuration with the following precedence (highest wins):
// 1. Defaults
// 2. Global user config (~/.config/depcache/config.json or $XDG_CONFIG_HOME/depcache/config.json)
// 3. Project config file at default location (.depcache.json, if exists)
// 4. Explicit config file via ConfigPath (if non-empty)
// 5. CLI overrides.
//
// All paths in the returned Config are resolved to absolute paths.
func Load(input Input) (Config, error) {
	workDir := input.WorkDirOverride
	if workDir == "" {
		var err error

		workDir, err = os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("cannot get working directory: %w", err)
		}
	}

	workDir, err := filepath.Abs(workDir)
	if err != nil {
		return Config{}, fmt.Errorf("cannot resolve working directory: %w", err)
	}

	cfg := Default()

	globalCfg, global, err := loadGlobal(input.Env)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Global = global
	cfg = merge(cfg, globalCfg)

	projectCfg, project, err := loadProject(workDir, input.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	cfg.Sources.Project = project
	cfg = merge(cfg, projectCfg)

	if input.CacheDirOverride != "" {
		cfg.CacheDir = input.CacheDirOverride
	}

	if input.LogLevelOverride != "" {
		cfg.LogLevel = input.LogLevelOverride
	}

	err = Validate(cfg)
	if err != nil {
		return Config{}, err
	}

	cfg.EffectiveCwd = workDir

	if filepath.IsAbs(cfg.CacheDir) {
		cfg.CacheDirAbs = cfg.CacheDir
	} else {
		cfg.CacheDirAbs = filepath.Join(workDir, cfg.CacheDir)
	}

	return cfg, nil
}

// Level returns the parsed log level. Validate guarantees it parses.
func (c Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}

	return level
}

// RetryMaxOrDefault returns the configured retry count.
func (c Config) RetryMaxOrDefault() int {
	if c.Download.RetryMax == nil {
		return defaultRetryMax
	}

	return *c.Download.RetryMax
}

func loadGlobal(env map[string]string) (Config, string, error) {
	path := globalPath(env)
	if path == "" {
		return Config{}, "", nil
	}

	cfg, explicitEmpty, loaded, err := loadFile(path, false)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	if explicitEmpty["cache_dir"] {
		return Config{}, "", fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, ErrCacheDirEmpty)
	}

	return cfg, path, nil
}

// loadProject loads the project config file (.depcache.json) or an explicit config file.
func loadProject(workDir, configPath string) (Config, string, error) {
	var (
		path      string
		mustExist bool
	)

	if configPath != "" {
		path = configPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}

		mustExist = true

		_, statErr := os.Stat(path)
		if statErr != nil {
			return Config{}, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, configPath)
		}
	} else {
		path = filepath.Join(workDir, FileName)
	}

	cfg, explicitEmpty, loaded, err := loadFile(path, mustExist)
	if err != nil {
		return Config{}, "", err
	}

	if !loaded {
		return Config{}, "", nil
	}

	if explicitEmpty["cache_dir"] {
		return Config{}, "", fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, ErrCacheDirEmpty)
	}

	return cfg, path, nil
}

// loadFile loads a config file. If mustExist is false, missing files return zero config.
// Returns the config, a map of explicitly empty fields, whether file was loaded, and any error.
func loadFile(path string, mustExist bool) (Config, map[string]bool, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is intentionally user-controlled
	if err != nil {
		if os.IsNotExist(err) && !mustExist {
			return Config{}, nil, false, nil
		}

		if mustExist {
			return Config{}, nil, false, fmt.Errorf("%w: %s", ErrConfigFileRead, path)
		}

		return Config{}, nil, false, nil
	}

	cfg, explicitEmpty, err := parse(data)
	if err != nil {
		return Config{}, nil, false, fmt.Errorf("%w %s: %w", ErrConfigInvalid, path, err)
	}

	return cfg, explicitEmpty, true, nil
}

func parse(data []byte) (Config, map[string]bool, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, nil, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	err = json.Unmarshal(standardized, &cfg)
	if err != nil {
		return Config{}, nil, fmt.Errorf("invalid JSON: %w", err)
	}

	// Check which fields were explicitly set to empty
	var raw map[string]any

	_ = json.Unmarshal(standardized, &raw)

	explicitEmpty := make(map[string]bool)

	if val, exists := raw["cache_dir"]; exists {
		if str, ok := val.(string); ok && str == "" {
			explicitEmpty["cache_dir"] = true
		}
	}

	return cfg, explicitEmpty, nil
}

func merge(base, overlay Config) Config {
	if overlay.CacheDir != "" {
		base.CacheDir = overlay.CacheDir
	}

	if overlay.Parallelism != 0 {
		base.Parallelism = overlay.Parallelism
	}

	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}

	if overlay.Download.Timeout != 0 {
		base.Download.Timeout = overlay.Download.Timeout
	}

	if overlay.Download.RetryMax != nil {
		base.Download.RetryMax = overlay.Download.RetryMax
	}

	if overlay.S3.Region != "" {
		base.S3.Region = overlay.S3.Region
	}

	if overlay.S3.Profile != "" {
		base.S3.Profile = overlay.S3.Profile
	}

	return base
}

// Validate checks a merged configuration.
func Validate(cfg Config) error {
	if cfg.CacheDir == "" {
		return ErrCacheDirEmpty
	}

	if cfg.Parallelism <= 0 {
		return fmt.Errorf("%w: %d", ErrParallelism, cfg.Parallelism)
	}

	_, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrLogLevel, cfg.LogLevel)
	}

	if cfg.Download.Timeout < 0 {
		return ErrTimeout
	}

	if cfg.Download.RetryMax != nil && *cfg.Download.RetryMax < 0 {
		return ErrRetryMax
	}

	return nil
}

// Format returns the config as formatted JSON.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to format config: %w", err)
	}

	return string(data), nil
}
