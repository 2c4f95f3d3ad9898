package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"shuttle/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func TestDiskFreeReportsSpace(t *testing.T) {
	free, err := DiskFree(t.TempDir())
	if err != nil {
		t.Fatalf("DiskFree: %v", err)
	}
	if free == 0 {
		t.Fatal("expected some free space on the temp filesystem")
	}
	if _, err := DiskFree(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestCheckFreeSpaceThreshold(t *testing.T) {
	dir := t.TempDir()
	if r := CheckFreeSpace("store", dir, 1); !r.Passed {
		t.Fatalf("expected pass with 1-byte minimum, got %s", r.Detail)
	}
	if r := CheckFreeSpace("store", dir, ^uint64(0)); r.Passed {
		t.Fatal("expected failure with impossible minimum")
	}
}

func TestCheckNtfy(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/topic/json" || r.URL.Query().Get("poll") != "1" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()
	if r := CheckNtfy(context.Background(), ok.URL+"/topic/"); !r.Passed {
		t.Fatalf("expected pass, got %s", r.Detail)
	}

	denied := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer denied.Close()
	if r := CheckNtfy(context.Background(), denied.URL+"/topic"); r.Passed || r.Detail != "topic requires authentication" {
		t.Fatalf("unexpected result %+v", r)
	}

	if r := CheckNtfy(context.Background(), " "); r.Passed {
		t.Fatal("expected failure for blank topic")
	}
}

func TestRunAllChecksConfiguredPaths(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StoreDir = filepath.Join(base, "artifacts")
	cfg.Paths.LogDir = filepath.Join(base, "missing-logs")
	cfg.Notifications.NtfyTopic = ""
	if err := os.MkdirAll(cfg.Paths.StoreDir, 0o755); err != nil {
		t.Fatal(err)
	}

	results := RunAll(context.Background(), &cfg)
	if len(results) != 3 {
		t.Fatalf("expected 3 results without ntfy, got %d", len(results))
	}
	if !results[0].Passed {
		t.Fatalf("store dir should pass: %s", results[0].Detail)
	}
	if results[1].Passed {
		t.Fatal("missing log dir should fail")
	}
	failed := Failed(results)
	if len(failed) == 0 || failed[0].Name != "Log directory" {
		t.Fatalf("unexpected failed list %+v", failed)
	}
}

func TestRunAllNilConfig(t *testing.T) {
	if got := RunAll(context.Background(), nil); got != nil {
		t.Fatalf("expected nil results, got %+v", got)
	}
}
