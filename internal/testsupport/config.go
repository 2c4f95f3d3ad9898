package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"shuttle/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.StoreDir = filepath.Join(base, "artifacts")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.API.Bind = "127.0.0.1:0"
	cfgVal.API.BaseURL = "http://127.0.0.1:7490"
	cfgVal.Journal.Enabled = false
	cfgVal.Logging.Format = "json"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithToken enables bearer authentication on the API.
func WithToken(token string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.Token = token
	}
}

// WithRetention overrides the artifact lifetime and sweep interval, in seconds.
func WithRetention(lifetime, interval int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Retention.FileLifetime = lifetime
		b.cfg.Retention.CleanupInterval = interval
	}
}

// WithJournal enables the SQLite job journal.
func WithJournal() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Journal.Enabled = true
	}
}

// WithSubmitRate overrides the submit limiter.
func WithSubmitRate(rate float64, burst int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.API.SubmitRate = rate
		b.cfg.API.SubmitBurst = burst
	}
}

// WithStubbedBinaries creates executable stubs for the external tools and
// points the config at them.
func WithStubbedBinaries() ConfigOption {
	return func(b *configBuilder) {
		b.t.Helper()
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		for _, name := range []string{"yt-dlp", "ffmpeg", "ffprobe"} {
			path := filepath.Join(binDir, name)
			if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
				b.t.Fatalf("write stub %s: %v", name, err)
			}
		}
		b.cfg.Fetch.Binary = filepath.Join(binDir, "yt-dlp")
		b.cfg.Transcode.FFmpegBinary = filepath.Join(binDir, "ffmpeg")
		b.cfg.Transcode.FFprobeBinary = filepath.Join(binDir, "ffprobe")
	}
}

// BaseDir returns the temp directory backing the config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.StoreDir)
}
