// Package transcode runs the optional post-download container step: an
// ffmpeg stream-copy remux into MP4 with the index moved to the front, and an
// ffprobe check that the result is playable media.
package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"shuttle/internal/logging"
	"shuttle/internal/services"
)

// Processor remuxes downloaded media in place.
type Processor struct {
	ffmpeg  string
	ffprobe string
	verify  bool
	runner  services.CommandRunner
	logger  *slog.Logger
}

// Options configures a Processor.
type Options struct {
	FFmpegBinary  string
	FFprobeBinary string
	Verify        bool
	Runner        services.CommandRunner
}

// New constructs a Processor.
func New(opts Options, logger *slog.Logger) *Processor {
	p := &Processor{
		ffmpeg:  strings.TrimSpace(opts.FFmpegBinary),
		ffprobe: strings.TrimSpace(opts.FFprobeBinary),
		verify:  opts.Verify,
		runner:  opts.Runner,
		logger:  logging.NewComponentLogger(logger, "transcode"),
	}
	if p.ffmpeg == "" {
		p.ffmpeg = "ffmpeg"
	}
	if p.ffprobe == "" {
		p.ffprobe = "ffprobe"
	}
	if p.runner == nil {
		p.runner = services.ExecRunner{}
	}
	return p
}

// Process remuxes path into a faststart MP4, replacing the original on
// success. Any temporary output is removed on failure.
func (p *Processor) Process(ctx context.Context, path string) error {
	tmp := filepath.Join(filepath.Dir(path), "remux-"+filepath.Base(path))
	args := []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-i", path,
		"-map", "0",
		"-c", "copy",
		"-movflags", "+faststart",
		"-f", "mp4",
		tmp,
	}
	_, stderr, err := p.runner.Run(ctx, p.ffmpeg, args...)
	if err != nil {
		_ = os.Remove(tmp)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "transcode", "remux", "deadline exceeded", ctx.Err())
		}
		if ctx.Err() != nil {
			return services.Wrap(services.ErrCancelled, "transcode", "remux", "cancelled", ctx.Err())
		}
		return services.WithDetail(
			services.Wrap(services.ErrEngineFailure, "transcode", "remux", "ffmpeg failed", err),
			lastLine(stderr))
	}

	info, err := os.Stat(tmp)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrEmptyArtifact, "transcode", "remux", "ffmpeg produced no output", err)
	}

	if p.verify {
		result, err := Probe(ctx, p.runner, p.ffprobe, tmp)
		if err != nil {
			_ = os.Remove(tmp)
			return err
		}
		if result.VideoStreamCount() == 0 {
			_ = os.Remove(tmp)
			return services.WithDetail(
				services.Wrap(services.ErrEngineFailure, "transcode", "verify", "no video stream", nil),
				"downloaded media has no video stream")
		}
		p.logger.Debug("remux verified",
			logging.Int("video_streams", result.VideoStreamCount()),
			logging.Int("audio_streams", result.AudioStreamCount()),
			logging.Float64("duration_seconds", result.DurationSeconds()),
		)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return services.Wrap(services.ErrStorageFailure, "transcode", "remux", "replace original", err)
	}
	return nil
}

// String describes the processor for status output.
func (p *Processor) String() string {
	return fmt.Sprintf("ffmpeg remux (%s, verify=%t)", p.ffmpeg, p.verify)
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
