package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StoreDir string `toml:"store_dir"`
	LogDir   string `toml:"log_dir"`
}

// API contains HTTP surface configuration.
type API struct {
	Bind        string  `toml:"bind"`
	BaseURL     string  `toml:"base_url"`
	Token       string  `toml:"token"`
	SubmitRate  float64 `toml:"submit_rate"`
	SubmitBurst int     `toml:"submit_burst"`
}

// Retention controls how long finalized artifacts stay on disk.
type Retention struct {
	// FileLifetime is the artifact TTL in seconds, measured from mtime.
	FileLifetime int `toml:"file_lifetime"`
	// CleanupInterval is the sweeper period in seconds.
	CleanupInterval int `toml:"cleanup_interval"`
}

// Fetch contains configuration for the extraction engine (yt-dlp).
type Fetch struct {
	Binary        string `toml:"binary"`
	Quality       string `toml:"quality"`
	Timeout       int    `toml:"timeout"`
	Retries       int    `toml:"retries"`
	MaxDuration   int    `toml:"max_duration"`
	MaxConcurrent int    `toml:"max_concurrent"`
}

// Transcode contains configuration for the optional ffmpeg remux step.
type Transcode struct {
	Enabled       bool   `toml:"enabled"`
	FFmpegBinary  string `toml:"ffmpeg_binary"`
	FFprobeBinary string `toml:"ffprobe_binary"`
	Verify        bool   `toml:"verify"`
}

// Journal controls the SQLite job journal.
type Journal struct {
	Enabled bool `toml:"enabled"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	JobReady       bool   `toml:"job_ready"`
	JobFailed      bool   `toml:"job_failed"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for Shuttle.
//
// Configuration sections by subsystem:
//   - Paths: artifact store and log directories
//   - API: bind address, public base URL, token, submission rate limit
//   - Retention: artifact lifetime and sweep interval
//   - Fetch: yt-dlp binary, format directive, timeouts and concurrency
//   - Transcode: optional ffmpeg remux and ffprobe verification
//   - Journal: SQLite job journal
//   - Notifications: ntfy push notification settings
//   - Logging: log format, level, and retention
type Config struct {
	Paths         Paths         `toml:"paths"`
	API           API           `toml:"api"`
	Retention     Retention     `toml:"retention"`
	Fetch         Fetch         `toml:"fetch"`
	Transcode     Transcode     `toml:"transcode"`
	Journal       Journal       `toml:"journal"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. Environment
// overrides are applied after the file is decoded. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("shuttle.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StoreDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FileLifetime returns the artifact TTL.
func (c *Config) FileLifetime() time.Duration {
	return time.Duration(c.Retention.FileLifetime) * time.Second
}

// CleanupInterval returns the sweeper period.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Retention.CleanupInterval) * time.Second
}

// FetchTimeout returns the upper bound for one job's background work.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.Timeout) * time.Second
}

// MaxDuration returns the longest media accepted, zero meaning unlimited.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.Fetch.MaxDuration) * time.Second
}

// JournalPath returns the SQLite job journal location.
func (c *Config) JournalPath() string {
	return filepath.Join(c.Paths.LogDir, "jobs.db")
}

// FFprobeBinary returns the ffprobe executable name used for media validation.
func (c *Config) FFprobeBinary() string {
	if v := strings.TrimSpace(c.Transcode.FFprobeBinary); v != "" {
		return v
	}
	return defaultFFprobeBinary
}

// FFmpegBinary returns the ffmpeg executable name used for remuxing.
func (c *Config) FFmpegBinary() string {
	if v := strings.TrimSpace(c.Transcode.FFmpegBinary); v != "" {
		return v
	}
	return defaultFFmpegBinary
}

// FetchBinary returns the extraction engine executable name.
func (c *Config) FetchBinary() string {
	if v := strings.TrimSpace(c.Fetch.Binary); v != "" {
		return v
	}
	return defaultFetchBinary
}

// DaemonURL returns the base URL CLI commands use to reach the daemon.
func (c *Config) DaemonURL() string {
	return strings.TrimRight(c.API.BaseURL, "/")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// Encode renders the config as TOML, masking secrets.
func (c *Config) Encode() ([]byte, error) {
	clone := *c
	if clone.API.Token != "" {
		clone.API.Token = "********"
	}
	data, err := toml.Marshal(clone)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}
