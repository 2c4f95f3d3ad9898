package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"shuttle/internal/jobid"
	"shuttle/internal/services"
)

const (
	// Extension is appended to every finalized artifact.
	Extension = ".mp4"
	// ContentType is served for every artifact.
	ContentType = "video/mp4"

	stagingDirName = ".staging"
	lockFileName   = ".shuttle.lock"
)

// ErrStoreLocked reports that another process owns the store.
var ErrStoreLocked = errors.New("artifact store is locked by another process")

// Info describes a finalized artifact.
type Info struct {
	ID      string
	Path    string
	Size    int64
	ModTime time.Time
}

// Entry is one item returned by List. Staged entries are in-progress
// downloads and are never served.
type Entry struct {
	ID      string
	Path    string
	Size    int64
	ModTime time.Time
	Staged  bool
}

// Reservation is the writable location handed to the fetch engine.
type Reservation struct {
	ID   string
	Dir  string
	Path string
}

// Store is a directory-backed artifact store. All methods are safe for
// concurrent use as long as each job id is written by one goroutine.
type Store struct {
	root    string
	staging string
	lock    *flock.Flock
	now     func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp finalized artifacts.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open prepares root for use, creating it and its staging area if needed.
func Open(root string, opts ...Option) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("artifact store root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact root: %w", err)
	}
	s := &Store{
		root:    abs,
		staging: filepath.Join(abs, stagingDirName),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(s.staging, 0o755); err != nil {
		return nil, services.Wrap(services.ErrStorageFailure, "artifact", "open", "create store directories", err)
	}
	s.lock = flock.New(filepath.Join(abs, lockFileName))
	return s, nil
}

// Root returns the absolute store directory.
func (s *Store) Root() string { return s.root }

// Lock takes the exclusive store lock without blocking.
func (s *Store) Lock() error {
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire store lock: %w", err)
	}
	if !ok {
		return ErrStoreLocked
	}
	return nil
}

// Unlock releases the store lock.
func (s *Store) Unlock() error {
	return s.lock.Unlock()
}

// LockPath returns the lock file location.
func (s *Store) LockPath() string { return s.lock.Path() }

// Path returns where the finalized artifact for id lives. The id must
// already be validated.
func (s *Store) Path(id string) string {
	return filepath.Join(s.root, id+Extension)
}

func (s *Store) stagingDir(id string) string {
	return filepath.Join(s.staging, id)
}

func checkID(op, id string) error {
	if !jobid.Valid(id) {
		return services.Wrap(services.ErrInvalidRequest, "artifact", op, "invalid job id", nil)
	}
	return nil
}

// Reserve creates a fresh staging directory for id and returns the target
// path the engine should write to.
func (s *Store) Reserve(id string) (Reservation, error) {
	if err := checkID("reserve", id); err != nil {
		return Reservation{}, err
	}
	dir := s.stagingDir(id)
	if err := os.RemoveAll(dir); err != nil {
		return Reservation{}, services.Wrap(services.ErrStorageFailure, "artifact", "reserve", "clear staging", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Reservation{}, services.Wrap(services.ErrStorageFailure, "artifact", "reserve", "create staging", err)
	}
	return Reservation{ID: id, Dir: dir, Path: filepath.Join(dir, id+Extension)}, nil
}

// Finalize publishes the staged file for id and returns its size. A missing
// or empty staged file fails with ErrEmptyArtifact and the staging area is
// discarded; nothing becomes visible in that case.
func (s *Store) Finalize(id string) (int64, error) {
	if err := checkID("finalize", id); err != nil {
		return 0, err
	}
	dir := s.stagingDir(id)
	staged := filepath.Join(dir, id+Extension)

	info, err := os.Stat(staged)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		_ = os.RemoveAll(dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, services.Wrap(services.ErrStorageFailure, "artifact", "finalize", "stat staged file", err)
		}
		return 0, services.Wrap(services.ErrEmptyArtifact, "artifact", "finalize", "engine produced no data", nil)
	}

	// Retention is measured from publication, not from whatever mtime the
	// engine left on the file.
	now := s.now()
	if err := os.Chtimes(staged, now, now); err != nil {
		_ = os.RemoveAll(dir)
		return 0, services.Wrap(services.ErrStorageFailure, "artifact", "finalize", "stamp modification time", err)
	}

	final := s.Path(id)
	if err := os.Rename(staged, final); err != nil {
		_ = os.RemoveAll(dir)
		return 0, services.Wrap(services.ErrStorageFailure, "artifact", "finalize", "publish artifact", err)
	}
	_ = os.RemoveAll(dir)
	return info.Size(), nil
}

// Discard removes any staged data for id. Finalized artifacts are untouched.
func (s *Store) Discard(id string) error {
	if err := checkID("discard", id); err != nil {
		return err
	}
	if err := os.RemoveAll(s.stagingDir(id)); err != nil {
		return services.Wrap(services.ErrStorageFailure, "artifact", "discard", "remove staging", err)
	}
	return nil
}

// Stat returns metadata for a finalized artifact.
func (s *Store) Stat(id string) (Info, error) {
	if err := checkID("stat", id); err != nil {
		return Info{}, err
	}
	path := s.Path(id)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, services.Wrap(services.ErrNotFound, "artifact", "stat", "no artifact", nil)
		}
		return Info{}, services.Wrap(services.ErrStorageFailure, "artifact", "stat", "", err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return Info{}, services.Wrap(services.ErrNotFound, "artifact", "stat", "no artifact", nil)
	}
	return Info{ID: id, Path: path, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Exists reports whether a finalized artifact is present for id.
func (s *Store) Exists(id string) bool {
	_, err := s.Stat(id)
	return err == nil
}

// Open returns a reader for a finalized artifact. The caller closes it.
// Only finalized files are reachable; staged data never is.
func (s *Store) Open(id string) (*os.File, Info, error) {
	if err := checkID("open", id); err != nil {
		return nil, Info{}, err
	}
	path := s.Path(id)
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Info{}, services.Wrap(services.ErrNotFound, "artifact", "open", "no artifact", nil)
		}
		return nil, Info{}, services.Wrap(services.ErrStorageFailure, "artifact", "open", "", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, Info{}, services.Wrap(services.ErrStorageFailure, "artifact", "open", "stat", err)
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		file.Close()
		return nil, Info{}, services.Wrap(services.ErrNotFound, "artifact", "open", "no artifact", nil)
	}
	return file, Info{ID: id, Path: path, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Delete removes the finalized artifact and staging data for id. Deleting an
// id that has nothing on disk succeeds.
func (s *Store) Delete(id string) error {
	if err := checkID("delete", id); err != nil {
		return err
	}
	var errs []error
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		errs = append(errs, err)
	}
	if err := os.RemoveAll(s.stagingDir(id)); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return services.Wrap(services.ErrStorageFailure, "artifact", "delete", id, errors.Join(errs...))
	}
	return nil
}

// List enumerates finalized artifacts and staging directories. Names that
// are not job ids are ignored.
func (s *Store) List() ([]Entry, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, services.Wrap(services.ErrStorageFailure, "artifact", "list", "read store", err)
	}
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != Extension {
			continue
		}
		id := strings.TrimSuffix(name, Extension)
		if !jobid.Valid(id) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{ID: id, Path: filepath.Join(s.root, name), Size: info.Size(), ModTime: info.ModTime()})
	}

	staged, err := os.ReadDir(s.staging)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, services.Wrap(services.ErrStorageFailure, "artifact", "list", "read staging", err)
	}
	for _, entry := range staged {
		if !entry.IsDir() || !jobid.Valid(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			ID:      entry.Name(),
			Path:    filepath.Join(s.staging, entry.Name()),
			Size:    dirSize(filepath.Join(s.staging, entry.Name())),
			ModTime: info.ModTime(),
			Staged:  true,
		})
	}
	return out, nil
}

// Count returns the number of finalized artifacts.
func (s *Store) Count() (int, error) {
	entries, err := s.List()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.Staged {
			n++
		}
	}
	return n, nil
}

func dirSize(dir string) int64 {
	var total int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}
