package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"shuttle/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"SHUTTLE_STORE_DIR", "SHUTTLE_LOG_DIR", "SHUTTLE_API_BIND", "SHUTTLE_API_TOKEN",
		"SHUTTLE_NTFY_TOPIC", "SHUTTLE_LOG_LEVEL", "SHUTTLE_FETCH_TIMEOUT",
		"PORT", "BASE_URL", "FILE_LIFETIME", "CLEANUP_INTERVAL", "MAX_DURATION",
	} {
		t.Setenv(name, "")
	}
}

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	clearEnv(t)
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantStore := filepath.Join(tempHome, ".local", "share", "shuttle", "artifacts")
	if cfg.Paths.StoreDir != wantStore {
		t.Fatalf("unexpected store dir: got %q want %q", cfg.Paths.StoreDir, wantStore)
	}
	if cfg.API.Bind != "127.0.0.1:7490" {
		t.Fatalf("unexpected api bind: %q", cfg.API.Bind)
	}
	if cfg.FileLifetime() != time.Hour {
		t.Fatalf("unexpected file lifetime: %s", cfg.FileLifetime())
	}
	if cfg.CleanupInterval() != 5*time.Minute {
		t.Fatalf("unexpected cleanup interval: %s", cfg.CleanupInterval())
	}
	if !strings.HasPrefix(cfg.Fetch.Quality, "bestvideo[height<=720]") {
		t.Fatalf("unexpected quality directive: %q", cfg.Fetch.Quality)
	}
	if cfg.JournalPath() != filepath.Join(cfg.Paths.LogDir, "jobs.db") {
		t.Fatalf("unexpected journal path: %q", cfg.JournalPath())
	}
}

func TestEnvironmentOverridesFileValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := "[retention]\nfile_lifetime = 120\ncleanup_interval = 30\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("FILE_LIFETIME", "60")
	t.Setenv("PORT", "5000")
	t.Setenv("MAX_DURATION", "0")

	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to exist")
	}
	if cfg.Retention.FileLifetime != 60 {
		t.Fatalf("expected env lifetime 60, got %d", cfg.Retention.FileLifetime)
	}
	if cfg.Retention.CleanupInterval != 30 {
		t.Fatalf("expected file interval 30, got %d", cfg.Retention.CleanupInterval)
	}
	if cfg.API.Bind != "0.0.0.0:5000" {
		t.Fatalf("expected PORT to set bind, got %q", cfg.API.Bind)
	}
	if cfg.MaxDuration() != 0 {
		t.Fatalf("expected unlimited duration, got %s", cfg.MaxDuration())
	}
}

func TestInvalidEnvironmentIntegerRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CLEANUP_INTERVAL", "soon")

	_, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err == nil || !strings.Contains(err.Error(), "CLEANUP_INTERVAL") {
		t.Fatalf("expected CLEANUP_INTERVAL error, got %v", err)
	}
}

func TestValidateRejectsNonPositiveTimings(t *testing.T) {
	cfg := config.Default()
	cfg.Retention.CleanupInterval = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "retention.cleanup_interval") {
		t.Fatalf("expected cleanup interval error, got %v", err)
	}
}

func TestValidateRejectsRelativeBaseURL(t *testing.T) {
	cfg := config.Default()
	cfg.API.BaseURL = "/downloads"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected base url validation error")
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[fetch]\nbogus = 1\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected unknown key to fail parsing")
	}
}

func TestCreateSampleRoundTrips(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var decoded config.Config
	if err := toml.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("sample config does not parse: %v", err)
	}
	defaults := config.Default()
	if decoded.Fetch.Quality != defaults.Fetch.Quality {
		t.Fatalf("sample quality %q does not match default %q", decoded.Fetch.Quality, defaults.Fetch.Quality)
	}
	if decoded.Retention != defaults.Retention {
		t.Fatalf("sample retention %+v does not match defaults %+v", decoded.Retention, defaults.Retention)
	}

	if _, _, _, err := config.Load(path); err != nil {
		t.Fatalf("Load(sample) returned error: %v", err)
	}
}

func TestEncodeMasksToken(t *testing.T) {
	cfg := config.Default()
	cfg.API.Token = "secret-token"
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	if strings.Contains(string(data), "secret-token") {
		t.Fatalf("expected token to be masked, got %s", data)
	}
}
