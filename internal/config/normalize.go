package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.applyEnv(); err != nil {
		return err
	}
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeAPI()
	c.normalizeFetch()
	c.normalizeTranscode()
	c.normalizeLogging()
	return nil
}

// applyEnv layers environment variables over file values. The unprefixed
// names are kept for deployments that configure the service purely through
// the environment.
func (c *Config) applyEnv() error {
	if value, ok := lookupEnv("SHUTTLE_STORE_DIR"); ok {
		c.Paths.StoreDir = value
	}
	if value, ok := lookupEnv("SHUTTLE_LOG_DIR"); ok {
		c.Paths.LogDir = value
	}
	if value, ok := lookupEnv("SHUTTLE_API_BIND"); ok {
		c.API.Bind = value
	}
	if value, ok := lookupEnv("PORT"); ok {
		port, err := strconv.Atoi(value)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("PORT: invalid port %q", value)
		}
		c.API.Bind = net.JoinHostPort("0.0.0.0", strconv.Itoa(port))
	}
	if value, ok := lookupEnv("BASE_URL"); ok {
		c.API.BaseURL = value
	}
	if value, ok := lookupEnv("SHUTTLE_API_TOKEN"); ok {
		c.API.Token = value
	}
	if value, ok := lookupEnv("SHUTTLE_NTFY_TOPIC"); ok {
		c.Notifications.NtfyTopic = value
	}
	if value, ok := lookupEnv("SHUTTLE_LOG_LEVEL"); ok {
		c.Logging.Level = value
	}

	ints := []struct {
		name   string
		target *int
	}{
		{"FILE_LIFETIME", &c.Retention.FileLifetime},
		{"CLEANUP_INTERVAL", &c.Retention.CleanupInterval},
		{"MAX_DURATION", &c.Fetch.MaxDuration},
		{"SHUTTLE_FETCH_TIMEOUT", &c.Fetch.Timeout},
	}
	for _, entry := range ints {
		value, ok := lookupEnv(entry.name)
		if !ok {
			continue
		}
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", entry.name, value)
		}
		*entry.target = parsed
	}
	return nil
}

func lookupEnv(name string) (string, bool) {
	value, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.StoreDir) == "" {
		c.Paths.StoreDir = defaultStoreDir
	}
	if c.Paths.StoreDir, err = expandPath(c.Paths.StoreDir); err != nil {
		return fmt.Errorf("paths.store_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeAPI() {
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	c.API.BaseURL = strings.TrimRight(strings.TrimSpace(c.API.BaseURL), "/")
	if c.API.BaseURL == "" {
		c.API.BaseURL = baseURLForBind(c.API.Bind)
	}
}

// baseURLForBind derives a loopback URL from a listen address.
func baseURLForBind(bind string) string {
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return defaultBaseURL
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func (c *Config) normalizeFetch() {
	c.Fetch.Binary = strings.TrimSpace(c.Fetch.Binary)
	if c.Fetch.Binary == "" {
		c.Fetch.Binary = defaultFetchBinary
	}
	c.Fetch.Quality = strings.TrimSpace(c.Fetch.Quality)
	if c.Fetch.Quality == "" {
		c.Fetch.Quality = defaultQualityDirective
	}
}

func (c *Config) normalizeTranscode() {
	c.Transcode.FFmpegBinary = strings.TrimSpace(c.Transcode.FFmpegBinary)
	if c.Transcode.FFmpegBinary == "" {
		c.Transcode.FFmpegBinary = defaultFFmpegBinary
	}
	c.Transcode.FFprobeBinary = strings.TrimSpace(c.Transcode.FFprobeBinary)
	if c.Transcode.FFprobeBinary == "" {
		c.Transcode.FFprobeBinary = defaultFFprobeBinary
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}
