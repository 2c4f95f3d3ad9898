package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"shuttle/internal/services"
)

// ProbeResult is the subset of ffprobe output used to verify artifacts.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// ProbeStream describes a single stream in the container.
type ProbeStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// ProbeFormat captures container-level metadata.
type ProbeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
}

// Probe runs ffprobe against path and decodes its JSON report.
func Probe(ctx context.Context, runner services.CommandRunner, binary, path string) (ProbeResult, error) {
	if strings.TrimSpace(path) == "" {
		return ProbeResult{}, errors.New("ffprobe: empty path")
	}
	if runner == nil {
		runner = services.ExecRunner{}
	}
	if strings.TrimSpace(binary) == "" {
		binary = "ffprobe"
	}
	stdout, stderr, err := runner.Run(ctx, binary, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return ProbeResult{}, services.WithDetail(
			services.Wrap(services.ErrEngineFailure, "transcode", "probe", "ffprobe failed", err),
			strings.TrimSpace(string(stderr)))
	}
	var result ProbeResult
	if err := json.Unmarshal(stdout, &result); err != nil {
		return ProbeResult{}, services.Wrap(services.ErrEngineFailure, "transcode", "probe", "decode ffprobe output", err)
	}
	return result, nil
}

// VideoStreamCount returns the number of video streams discovered.
func (r ProbeResult) VideoStreamCount() int {
	return r.countType("video")
}

// AudioStreamCount returns the number of audio streams discovered.
func (r ProbeResult) AudioStreamCount() int {
	return r.countType("audio")
}

func (r ProbeResult) countType(kind string) int {
	count := 0
	for _, stream := range r.Streams {
		if strings.EqualFold(stream.CodecType, kind) {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration in seconds, or 0 when unavailable.
func (r ProbeResult) DurationSeconds() float64 {
	value, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil || math.IsNaN(value) || value < 0 {
		return 0
	}
	return value
}
