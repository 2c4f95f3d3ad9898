package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"shuttle/internal/api"
	"shuttle/internal/deps"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "health",
		Aliases: []string{"info"},
		Short:   "Show daemon health, job counts and dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := ctx.apiClient()
			if err != nil {
				return err
			}
			health, err := cl.Health(cmd.Context())
			if err != nil {
				return wrapClientError(err, ctx.daemonURL())
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, health)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
			kind := statusOK
			if health.Status != "ok" {
				kind = statusWarn
			}
			fmt.Fprintln(out, renderStatusLine("Status", kind, health.Status, colorize))
			fmt.Fprintln(out, renderStatusLine("Address", statusOK, ctx.daemonURL(), colorize))
			fmt.Fprintln(out, renderStatusLine("Uptime", statusOK, health.Uptime, colorize))
			fmt.Fprintln(out, renderStatusLine("Artifacts", statusOK, fmt.Sprint(health.Artifacts), colorize))
			if health.DiskFreeBytes > 0 {
				fmt.Fprintln(out, renderStatusLine("Free space", statusOK, humanBytes(int64(health.DiskFreeBytes)), colorize))
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, renderSectionHeader("Dependencies", colorize))
			for _, line := range dependencyLines(health.Dependencies, colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out)

			fmt.Fprintln(out, renderSectionHeader("Jobs", colorize))
			fmt.Fprint(out, renderTable([]column{{title: "State"}, {title: "Count", right: true}}, jobCountRows(health.Jobs, colorize)))
			return nil
		},
	}
}

func dependencyLines(statuses []deps.Status, colorize bool) []string {
	if len(statuses) == 0 {
		return []string{renderStatusLine("Summary", statusWarn, "not reported", colorize)}
	}
	lines := make([]string, 0, len(statuses))
	for _, dep := range statuses {
		if dep.Available {
			message := "Ready"
			if dep.Version != "" {
				message = fmt.Sprintf("Ready (%s)", dep.Version)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}
		kind := statusError
		if dep.Optional {
			kind = statusWarn
		}
		message := valueOrDash(dep.Detail)
		lines = append(lines, renderStatusLine(dep.Name, kind, message, colorize))
	}
	return lines
}

func jobCountRows(c api.JobCounts, colorize bool) [][]string {
	return [][]string{
		{stateLabel("pending", colorize), fmt.Sprint(c.Pending)},
		{stateLabel("running", colorize), fmt.Sprint(c.Running)},
		{stateLabel("ready", colorize), fmt.Sprint(c.Ready)},
		{stateLabel("failed", colorize), fmt.Sprint(c.Failed)},
		{stateLabel("expired", colorize), fmt.Sprint(c.Expired)},
		{"Total", fmt.Sprint(c.Total)},
	}
}
