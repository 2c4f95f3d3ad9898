package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"shuttle/internal/api"
	"shuttle/internal/config"
	"shuttle/internal/daemon"
	"shuttle/internal/jobid"
	"shuttle/internal/logging"
	"shuttle/internal/testsupport"
)

type versionRunner struct{}

func (versionRunner) Run(context.Context, string, ...string) ([]byte, []byte, error) {
	return []byte("1.0\n"), nil, nil
}

type cliTestEnv struct {
	cfg        *config.Config
	configPath string
	daemon     *daemon.Daemon
	engine     *testsupport.FakeEngine
}

func writeTestConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()
	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("encode config: %v", err)
	}
	path := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func setupCLITestEnv(t *testing.T, startDaemon bool) *cliTestEnv {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	env := &cliTestEnv{
		cfg:        cfg,
		configPath: writeTestConfig(t, cfg),
		engine:     testsupport.NewFakeEngine(),
	}
	if !startDaemon {
		return env
	}

	d, err := daemon.New(cfg, logging.NewNop(), daemon.Options{Engine: env.engine, Runner: versionRunner{}})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	env.daemon = d
	return env
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	full := []string{"--config", e.configPath}
	if e.daemon != nil {
		full = append(full, "--url", "http://"+e.daemon.Addr())
	}
	full = append(full, args...)

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(full)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSubmitWaitAndDownload(t *testing.T) {
	env := setupCLITestEnv(t, true)

	out, err := env.run(t, "submit", "--wait", "https://example.com/v/clip")
	if err != nil {
		t.Fatalf("submit --wait: %v\n%s", err, out)
	}
	if !strings.Contains(out, "State:    Ready") || !strings.Contains(out, "Title:    Test Clip") {
		t.Fatalf("unexpected submit output:\n%s", out)
	}

	out, err = env.run(t, "--json", "jobs")
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	var list api.JobListResponse
	if err := json.Unmarshal([]byte(out), &list); err != nil {
		t.Fatalf("decode jobs output: %v\n%s", err, out)
	}
	if len(list.Jobs) != 1 || list.Jobs[0].State != "ready" {
		t.Fatalf("unexpected jobs: %+v", list.Jobs)
	}
	id := list.Jobs[0].JobID

	target := filepath.Join(t.TempDir(), "clip.mp4")
	if out, err := env.run(t, "download", id, "-o", target); err != nil {
		t.Fatalf("download: %v\n%s", err, out)
	}
	data, err := os.ReadFile(target)
	if err != nil {
		t.Fatalf("read download: %v", err)
	}
	if !bytes.Equal(data, env.engine.Payload) {
		t.Fatal("downloaded bytes differ from engine payload")
	}

	out, err = env.run(t, "jobs", "--state", "failed")
	if err != nil || !strings.Contains(out, "No jobs") {
		t.Fatalf("expected empty filtered list, got %v\n%s", err, out)
	}
}

func TestSubmitOutputImpliesWait(t *testing.T) {
	env := setupCLITestEnv(t, true)
	target := filepath.Join(t.TempDir(), "out.mp4")
	if out, err := env.run(t, "submit", "-o", target, "https://example.com/v/clip"); err != nil {
		t.Fatalf("submit -o: %v\n%s", err, out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("expected downloaded file: %v", err)
	}
}

func TestSubmitFailedJobReturnsError(t *testing.T) {
	env := setupCLITestEnv(t, true)
	env.engine.Payload = nil

	_, err := env.run(t, "submit", "--wait", "https://example.com/v/empty")
	if err == nil || !strings.Contains(err.Error(), "failed") {
		t.Fatalf("expected failed job error, got %v", err)
	}
}

func TestStatusErrors(t *testing.T) {
	env := setupCLITestEnv(t, true)

	id, _ := jobid.New()
	_, err := env.run(t, "status", id)
	if err == nil || !strings.Contains(err.Error(), "not found or expired") {
		t.Fatalf("expected not found error, got %v", err)
	}
	_, err = env.run(t, "status", "not-a-job")
	if err == nil || !strings.Contains(err.Error(), "not a valid job id") {
		t.Fatalf("expected invalid id error, got %v", err)
	}
}

func TestHealthJSON(t *testing.T) {
	env := setupCLITestEnv(t, true)
	out, err := env.run(t, "--json", "health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	var health api.HealthResponse
	if err := json.Unmarshal([]byte(out), &health); err != nil {
		t.Fatalf("decode health: %v\n%s", err, out)
	}
	if health.Status != "ok" {
		t.Fatalf("unexpected health %+v", health)
	}

	out, err = env.run(t, "health")
	if err != nil || !strings.Contains(out, "== Jobs ==") {
		t.Fatalf("unexpected health output %v\n%s", err, out)
	}
}

func TestUnreachableDaemonHint(t *testing.T) {
	env := setupCLITestEnv(t, false)
	_, err := env.run(t, "--url", "http://127.0.0.1:1", "jobs")
	if err == nil || !strings.Contains(err.Error(), "shuttle start") {
		t.Fatalf("expected start hint, got %v", err)
	}
}

func TestSweepOffline(t *testing.T) {
	env := setupCLITestEnv(t, false)
	if err := os.MkdirAll(env.cfg.Paths.StoreDir, 0o755); err != nil {
		t.Fatalf("mkdir store: %v", err)
	}
	oldID, _ := jobid.New()
	freshID, _ := jobid.New()
	testsupport.WriteArtifact(t, env.cfg.Paths.StoreDir, oldID, 16, time.Now().Add(-2*env.cfg.FileLifetime()))
	testsupport.WriteArtifact(t, env.cfg.Paths.StoreDir, freshID, 16, time.Now())

	out, err := env.run(t, "sweep", "--dry-run")
	if err != nil {
		t.Fatalf("sweep --dry-run: %v", err)
	}
	if !strings.Contains(out, "Would delete 1 of 2") || !strings.Contains(out, oldID) {
		t.Fatalf("unexpected dry run output:\n%s", out)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.Paths.StoreDir, oldID+".mp4")); err != nil {
		t.Fatalf("dry run removed the artifact: %v", err)
	}

	out, err = env.run(t, "sweep")
	if err != nil || !strings.Contains(out, "Deleted 1 of 2") {
		t.Fatalf("unexpected sweep result %v\n%s", err, out)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.Paths.StoreDir, oldID+".mp4")); !os.IsNotExist(err) {
		t.Fatalf("expected old artifact removed, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(env.cfg.Paths.StoreDir, freshID+".mp4")); err != nil {
		t.Fatalf("fresh artifact removed: %v", err)
	}
}

func TestSweepRefusesWhileDaemonRuns(t *testing.T) {
	env := setupCLITestEnv(t, true)
	_, err := env.run(t, "sweep")
	if err == nil || !strings.Contains(err.Error(), "in use by a running daemon") {
		t.Fatalf("expected lock error, got %v", err)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	env := setupCLITestEnv(t, false)
	target := filepath.Join(t.TempDir(), "nested", "shuttle.toml")

	out, err := env.run(t, "config", "init", "--path", target)
	if err != nil || !strings.Contains(out, target) {
		t.Fatalf("config init: %v\n%s", err, out)
	}
	if _, err := env.run(t, "config", "init", "--path", target); err == nil {
		t.Fatal("expected init to refuse overwriting")
	}

	t.Setenv("SHUTTLE_API_TOKEN", "hunter2")
	out, err = env.run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "hunter2") || !strings.Contains(out, "********") || !strings.Contains(out, "store_dir") {
		t.Fatalf("unexpected config show output:\n%s", out)
	}
}

func TestStateLabel(t *testing.T) {
	if got := stateLabel("ready", false); got != "Ready" {
		t.Fatalf("stateLabel(ready) = %q", got)
	}
	if got := stateLabel("failed", true); !strings.HasPrefix(got, ansiRed) {
		t.Fatalf("expected colorized failed label, got %q", got)
	}
	if got := humanBytes(3 << 20); got != "3.0 MiB" {
		t.Fatalf("humanBytes = %q", got)
	}
}
