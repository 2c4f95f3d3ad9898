package testsupport

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteArtifact places a published artifact of size bytes directly in the
// store root with the given modification time, bypassing the job manager.
func WriteArtifact(t testing.TB, root, id string, size int, modTime time.Time) string {
	t.Helper()

	path := filepath.Join(root, id+".mp4")
	WriteFile(t, path, size)
	if !modTime.IsZero() {
		if err := os.Chtimes(path, modTime, modTime); err != nil {
			t.Fatalf("chtimes %s: %v", path, err)
		}
	}
	return path
}

// WriteFile fills path with size bytes of filler, creating parent
// directories. A size of zero creates an empty file.
func WriteFile(t testing.TB, path string, size int) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data := make([]byte, size)
	for i := range data {
		data[i] = 0x42
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
