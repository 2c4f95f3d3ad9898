package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"shuttle/internal/logging"
	"shuttle/internal/services"
)

// permanentFailures match engine errors that retrying cannot fix.
var permanentFailures = regexp.MustCompile(`(?i)(private video|video unavailable|not available|unsupported url|sign in to confirm|members-only|copyright|removed by the uploader|has been terminated|is not a valid url|no video formats found|requested format is not available)`)

// YTDLP drives the yt-dlp command line tool.
type YTDLP struct {
	binary  string
	retries int
	backoff time.Duration
	runner  services.CommandRunner
	logger  *slog.Logger
}

// YTDLPOption customises a YTDLP engine.
type YTDLPOption func(*YTDLP)

// WithRunner replaces command execution, mainly for tests.
func WithRunner(r services.CommandRunner) YTDLPOption {
	return func(y *YTDLP) {
		if r != nil {
			y.runner = r
		}
	}
}

// WithBackoff sets the delay before the first retry; later retries double it.
func WithBackoff(d time.Duration) YTDLPOption {
	return func(y *YTDLP) { y.backoff = d }
}

// NewYTDLP constructs an engine. retries is the number of extra attempts made
// for failures that look transient.
func NewYTDLP(binary string, retries int, logger *slog.Logger, opts ...YTDLPOption) *YTDLP {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = "yt-dlp"
	}
	if retries < 0 {
		retries = 0
	}
	y := &YTDLP{
		binary:  binary,
		retries: retries,
		backoff: 2 * time.Second,
		runner:  services.ExecRunner{},
		logger:  logging.NewComponentLogger(logger, "fetch"),
	}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

// Binary returns the configured executable.
func (y *YTDLP) Binary() string { return y.binary }

type ytdlpInfo struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Duration   *float64 `json:"duration"`
	Thumbnail  string   `json:"thumbnail"`
	Extractor  string   `json:"extractor_key"`
	IsLive     *bool    `json:"is_live"`
	LiveStatus string   `json:"live_status"`
}

// FetchMetadata asks the engine for media information without downloading.
func (y *YTDLP) FetchMetadata(ctx context.Context, url string) (Metadata, error) {
	args := []string{"-J", "--no-warnings", "--skip-download", "--no-playlist", "--", url}
	stdout, err := y.runWithRetry(ctx, "metadata", args, nil)
	if err != nil {
		return Metadata{}, err
	}

	var info ytdlpInfo
	if err := json.Unmarshal(stdout, &info); err != nil {
		return Metadata{}, services.WithDetail(
			services.Wrap(services.ErrEngineFailure, "fetch", "metadata", "decode engine output", err),
			"engine returned unreadable metadata")
	}
	meta := Metadata{
		ID:           info.ID,
		Title:        strings.TrimSpace(info.Title),
		ThumbnailURL: info.Thumbnail,
		Extractor:    info.Extractor,
		IsLive:       (info.IsLive != nil && *info.IsLive) || info.LiveStatus == "is_live",
	}
	if info.Duration != nil && *info.Duration > 0 {
		meta.DurationSeconds = *info.Duration
	}
	return meta, nil
}

// FetchMedia downloads url into target using the quality directive. The
// target name is used verbatim so the store controls the final path.
func (y *YTDLP) FetchMedia(ctx context.Context, url, quality, target string) error {
	if strings.TrimSpace(target) == "" {
		return errors.New("fetch media: empty target")
	}
	args := []string{
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"--no-part",
		"--no-mtime",
		"--force-overwrites",
		"--merge-output-format", "mp4",
	}
	if q := strings.TrimSpace(quality); q != "" {
		args = append(args, "-f", q)
	}
	args = append(args, "-o", target, "--", url)

	cleanup := func() { removePartials(target) }
	if _, err := y.runWithRetry(ctx, "download", args, cleanup); err != nil {
		cleanup()
		return err
	}
	if info, err := os.Stat(target); err != nil || info.Size() == 0 {
		cleanup()
		return services.Wrap(services.ErrEmptyArtifact, "fetch", "download", "engine reported success without output", err)
	}
	return nil
}

// runWithRetry runs the engine, retrying transient failures with doubling
// backoff. beforeRetry runs between attempts.
func (y *YTDLP) runWithRetry(ctx context.Context, op string, args []string, beforeRetry func()) ([]byte, error) {
	var lastErr error
	delay := y.backoff
	for attempt := 0; attempt <= y.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, contextError(ctx, op)
			}
			delay *= 2
			if beforeRetry != nil {
				beforeRetry()
			}
			y.logger.Info("retrying engine command",
				logging.String("operation", op),
				logging.Int("attempt", attempt+1),
				logging.EventType("engine_retry"),
			)
		}

		stdout, stderr, err := y.runner.Run(ctx, y.binary, args...)
		if err == nil {
			return stdout, nil
		}
		if ctx.Err() != nil {
			return nil, contextError(ctx, op)
		}

		detail := engineErrorLine(stderr)
		lastErr = services.WithDetail(
			services.Wrap(services.ErrEngineFailure, "fetch", op, y.binary+" failed", err),
			detail,
		)
		y.logger.Debug("engine command failed",
			logging.String("operation", op),
			logging.Int("attempt", attempt+1),
			logging.String("stderr", strings.TrimSpace(string(stderr))),
			logging.Error(err),
		)

		var execErr *exec.Error
		if errors.As(err, &execErr) || permanentFailures.MatchString(detail) {
			break
		}
	}
	return nil, lastErr
}

func contextError(ctx context.Context, op string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return services.Wrap(services.ErrTimeout, "fetch", op, "deadline exceeded", ctx.Err())
	}
	return services.Wrap(services.ErrCancelled, "fetch", op, "cancelled", ctx.Err())
}

// engineErrorLine picks the most useful line from engine stderr: the last
// ERROR line if any, otherwise the last non-empty line.
func engineErrorLine(stderr []byte) string {
	lines := strings.Split(strings.TrimSpace(string(stderr)), "\n")
	last := ""
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		if last == "" {
			last = line
		}
		if strings.HasPrefix(strings.ToUpper(line), "ERROR") {
			return line
		}
	}
	return last
}

// removePartials deletes target and the fragment files yt-dlp writes next to
// it (target.part, name.f137.mp4, name.temp.mp4, ...).
func removePartials(target string) {
	_ = os.Remove(target)
	dir := filepath.Dir(target)
	base := strings.TrimSuffix(filepath.Base(target), filepath.Ext(target))
	matches, err := filepath.Glob(filepath.Join(dir, globEscape(base)+".*"))
	if err != nil {
		return
	}
	for _, match := range matches {
		_ = os.Remove(match)
	}
}

func globEscape(s string) string {
	replacer := strings.NewReplacer(`*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return replacer.Replace(s)
}

var _ Engine = (*YTDLP)(nil)
