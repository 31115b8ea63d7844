package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"spool/internal/daemonctl"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and download status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			client, err := ctx.client()
			if err != nil {
				return err
			}

			status, err := client.Status(cmd.Context())
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				for _, line := range renderSectionHeader("Spool", colorize) {
					fmt.Fprintln(out, line)
				}
				fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "Not running (start with `spool run`)", colorize))
				return nil
			}
			if err != nil {
				return err
			}

			for _, line := range renderSectionHeader("Spool", colorize) {
				fmt.Fprintln(out, line)
			}
			fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
			fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.DatabasePath, colorize))
			fmt.Fprintln(out, renderStatusLine("Downloads", statusInfo, summarizeCounts(status.RecordCount, status.StatusCounts), colorize))

			if len(status.Preflight) > 0 {
				fmt.Fprintln(out)
				for _, line := range renderSectionHeader("Checks", colorize) {
					fmt.Fprintln(out, line)
				}
				for _, check := range status.Preflight {
					kind := statusError
					if check.Passed {
						kind = statusOK
					}
					fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
				}
			}
			return nil
		},
	}
}

func summarizeCounts(total int, counts map[string]int) string {
	if total == 0 {
		return "none"
	}
	statuses := make([]string, 0, len(counts))
	for status := range counts {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, status := range statuses {
		parts = append(parts, fmt.Sprintf("%d %s", counts[status], status))
	}
	return fmt.Sprintf("%d (%s)", total, strings.Join(parts, ", "))
}
