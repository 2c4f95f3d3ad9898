package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"shuttle/internal/api"
	"shuttle/internal/client"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var wait bool
	var output string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "submit <url>",
		Short: "Submit a media URL for download",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.apiClient()
			if err != nil {
				return err
			}
			ack, err := cl.Submit(cmd.Context(), args[0])
			if err != nil {
				return wrapClientError(err, ctx.daemonURL())
			}
			if !wait && output == "" {
				if ctx.jsonOutput() {
					return writeJSON(cmd, ack)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %s accepted\n", ack.JobID)
				fmt.Fprintf(out, "  Status:   %s\n", ack.StatusURL)
				fmt.Fprintf(out, "  Download: %s\n", ack.DownloadURL)
				return nil
			}

			waitCtx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			job, err := cl.Wait(waitCtx, ack.JobID, time.Second)
			if err != nil {
				return wrapClientError(err, ctx.daemonURL())
			}
			if job.State != "ready" {
				if ctx.jsonOutput() {
					_ = writeJSON(cmd, job)
				}
				return fmt.Errorf("job %s %s: %s", job.JobID, job.State, valueOrDash(job.Error))
			}
			if output != "" {
				if _, err := downloadTo(cmd, cl, job.JobID, output); err != nil {
					return err
				}
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, job)
			}
			printJob(cmd.OutOrStdout(), job, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the job to finish")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Download the artifact to this path once ready (implies --wait)")
	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Minute, "Give up waiting after this long")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.apiClient()
			if err != nil {
				return err
			}
			job, err := cl.Status(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return describeJobError(wrapClientError(err, ctx.daemonURL()), args[0])
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, job)
			}
			printJob(cmd.OutOrStdout(), job, shouldColorize(cmd.OutOrStdout()))
			return nil
		},
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var stateFilter []string

	cmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"list", "ls"},
		Short:   "List tracked jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.apiClient()
			if err != nil {
				return err
			}
			list, err := cl.List(cmd.Context())
			if err != nil {
				return wrapClientError(err, ctx.daemonURL())
			}
			list = filterJobs(list, stateFilter)
			if ctx.jsonOutput() {
				return writeJSON(cmd, api.JobListResponse{Jobs: list})
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(list))
			for _, job := range list {
				size := "-"
				if job.SizeBytes > 0 {
					size = humanBytes(job.SizeBytes)
				}
				rows = append(rows, []string{
					job.JobID,
					stateLabel(job.State, colorize),
					valueOrDash(job.Title),
					size,
					valueOrDash(job.CreatedAt),
					valueOrDash(job.SourceURL),
				})
			}
			fmt.Fprint(out, renderTable([]column{
				{title: "ID"},
				{title: "State"},
				{title: "Title", maxWidth: 40},
				{title: "Size", right: true},
				{title: "Created"},
				{title: "Source", maxWidth: 60},
			}, rows))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&stateFilter, "state", nil, "Only show jobs in these states (repeatable)")
	return cmd
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "download <job-id>",
		Short: "Download a ready artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.apiClient()
			if err != nil {
				return err
			}
			id := strings.TrimSpace(args[0])
			target := output
			if target == "" {
				target = id + ".mp4"
			}
			n, err := downloadTo(cmd, cl, id, target)
			if err != nil {
				return describeJobError(wrapClientError(err, ctx.daemonURL()), id)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, map[string]any{"job_id": id, "path": target, "size_bytes": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", target, humanBytes(n))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (default <job-id>.mp4, - for stdout)")
	return cmd
}

// downloadTo writes the artifact to target through a temporary file so a
// failed transfer never leaves a truncated file behind.
func downloadTo(cmd *cobra.Command, cl *client.Client, id, target string) (int64, error) {
	if target == "-" {
		return cl.Download(cmd.Context(), id, cmd.OutOrStdout())
	}
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".shuttle-download-*")
	if err != nil {
		return 0, fmt.Errorf("create download file: %w", err)
	}
	n, err := cl.Download(cmd.Context(), id, tmp)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return n, err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return n, fmt.Errorf("move download into place: %w", err)
	}
	return n, nil
}

func describeJobError(err error, id string) error {
	var statusErr *client.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}
	switch statusErr.Code {
	case 400:
		return fmt.Errorf("%q is not a valid job id", id)
	case 404:
		return fmt.Errorf("job %s not found or expired", id)
	case 409:
		return fmt.Errorf("job %s is %s; artifact not ready yet", id, statusErr.State)
	case 410:
		return fmt.Errorf("job %s artifact has expired", id)
	}
	return err
}

func filterJobs(list []api.Job, states []string) []api.Job {
	if len(states) == 0 {
		return list
	}
	want := make(map[string]struct{}, len(states))
	for _, s := range states {
		want[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	out := list[:0:0]
	for _, job := range list {
		if _, ok := want[job.State]; ok {
			out = append(out, job)
		}
	}
	return out
}

func printJob(out io.Writer, job api.Job, colorize bool) {
	fmt.Fprintf(out, "Job %s\n", job.JobID)
	fmt.Fprintf(out, "  State:    %s\n", stateLabel(job.State, colorize))
	fmt.Fprintf(out, "  Source:   %s\n", job.SourceURL)
	if job.Title != "" {
		fmt.Fprintf(out, "  Title:    %s\n", job.Title)
	}
	if job.DurationSeconds > 0 {
		fmt.Fprintf(out, "  Duration: %s\n", (time.Duration(job.DurationSeconds) * time.Second).String())
	}
	fmt.Fprintf(out, "  Created:  %s\n", job.CreatedAt)
	if job.FinishedAt != "" {
		fmt.Fprintf(out, "  Finished: %s\n", job.FinishedAt)
	}
	if job.SizeBytes > 0 {
		fmt.Fprintf(out, "  Size:     %s (%s bytes)\n", humanBytes(job.SizeBytes), strconv.FormatInt(job.SizeBytes, 10))
	}
	if job.DownloadURL != "" {
		fmt.Fprintf(out, "  Download: %s\n", job.DownloadURL)
	}
	if job.Error != "" {
		fmt.Fprintf(out, "  Error:    %s\n", job.Error)
	}
}
