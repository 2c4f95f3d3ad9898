package deps

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"shuttle/internal/config"
	"shuttle/internal/services"
)

// Requirement defines an external dependency Shuttle relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	// VersionArgs, when set, are passed to the binary to report its version.
	VersionArgs []string
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Path        string `json:"path,omitempty"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Version     string `json:"version,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// Requirements lists the binaries the configured pipeline executes. yt-dlp
// shells out to ffmpeg to merge separate audio and video streams, so ffmpeg
// is required even when the remux step is disabled.
func Requirements(cfg *config.Config) []Requirement {
	verify := cfg.Transcode.Enabled && cfg.Transcode.Verify
	return []Requirement{
		{
			Name:        "yt-dlp",
			Command:     cfg.FetchBinary(),
			Description: "Fetch engine for metadata and media",
			VersionArgs: []string{"--version"},
		},
		{
			Name:        "FFmpeg",
			Command:     cfg.FFmpegBinary(),
			Description: "Stream merging and MP4 remuxing",
			VersionArgs: []string{"-hide_banner", "-version"},
		},
		{
			Name:        "FFprobe",
			Command:     cfg.FFprobeBinary(),
			Description: "Post-remux stream verification",
			Optional:    !verify,
			VersionArgs: []string{"-hide_banner", "-version"},
		},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(cmd)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Path = path
		status.Available = true
		results = append(results, status)
	}
	return results
}

// ProbeVersions fills Version for every available requirement by running it
// with its VersionArgs. Probe failures leave Version empty.
func ProbeVersions(ctx context.Context, runner services.CommandRunner, requirements []Requirement, statuses []Status) {
	if runner == nil {
		runner = services.ExecRunner{}
	}
	for i := range statuses {
		if i >= len(requirements) || !statuses[i].Available || len(requirements[i].VersionArgs) == 0 {
			continue
		}
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		out, _, err := runner.Run(probeCtx, statuses[i].Path, requirements[i].VersionArgs...)
		cancel()
		if err != nil {
			continue
		}
		statuses[i].Version = firstVersionLine(string(out))
	}
}

// MissingRequired returns the names of unavailable, non-optional dependencies.
func MissingRequired(statuses []Status) []string {
	var missing []string
	for _, status := range statuses {
		if !status.Available && !status.Optional {
			missing = append(missing, status.Name)
		}
	}
	return missing
}

func firstVersionLine(out string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(out), "\n")
	line = strings.TrimSpace(line)
	// "ffmpeg version 6.1.1-3ubuntu5 Copyright ..." -> "6.1.1-3ubuntu5"
	if rest, ok := strings.CutPrefix(line, "ffmpeg version "); ok {
		line, _, _ = strings.Cut(rest, " ")
	} else if rest, ok := strings.CutPrefix(line, "ffprobe version "); ok {
		line, _, _ = strings.Cut(rest, " ")
	}
	return line
}
