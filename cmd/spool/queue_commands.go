package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"spool/internal/daemonctl"
	"spool/internal/identity"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "queue <key>",
		Short: "Queue an item for download, expanding shows and seasons",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyedClient(ctx, args[0], func(client *daemonctl.Client, key identity.GlobalKey) error {
				count, err := client.Queue(cmd.Context(), key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued %d download(s) for %s\n", count, key)
				return nil
			})
		},
	}
}

func newMissingCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "missing <key>",
		Short: "Queue a show or season's missing episodes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyedClient(ctx, args[0], func(client *daemonctl.Client, key identity.GlobalKey) error {
				count, err := client.QueueMissing(cmd.Context(), key)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Newly queued %d episode(s) for %s\n", count, key)
				return nil
			})
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all downloads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			items, err := client.List(cmd.Context())
			if err != nil {
				return describeDaemonError(err)
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No downloads.")
				return nil
			}

			sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
			rows := make([][]string, 0, len(items))
			for _, item := range items {
				rows = append(rows, []string{
					item.Key,
					item.Title,
					item.Type,
					item.Status,
					fmt.Sprintf("%d%%", item.Percent),
					formatBytes(item.DownloadedBytes),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Key", "Title", "Type", "Status", "Progress", "Downloaded"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
			))
			return nil
		},
	}
}

func newPauseCommand(ctx *commandContext) *cobra.Command {
	return newActionCommand(ctx, "pause", "Pause a download",
		func(client *daemonctl.Client, cmd *cobra.Command, key identity.GlobalKey) error {
			return client.Pause(cmd.Context(), key)
		})
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	return newActionCommand(ctx, "resume", "Resume a paused download",
		func(client *daemonctl.Client, cmd *cobra.Command, key identity.GlobalKey) error {
			return client.Resume(cmd.Context(), key)
		})
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return newActionCommand(ctx, "retry", "Retry a failed download",
		func(client *daemonctl.Client, cmd *cobra.Command, key identity.GlobalKey) error {
			return client.Retry(cmd.Context(), key)
		})
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return newActionCommand(ctx, "cancel", "Cancel a download and discard partial data",
		func(client *daemonctl.Client, cmd *cobra.Command, key identity.GlobalKey) error {
			return client.Cancel(cmd.Context(), key)
		})
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return newActionCommand(ctx, "delete", "Delete a download and its files (containers cascade)",
		func(client *daemonctl.Client, cmd *cobra.Command, key identity.GlobalKey) error {
			return client.Delete(cmd.Context(), key)
		})
}

func newActionCommand(ctx *commandContext, verb, short string, action func(*daemonctl.Client, *cobra.Command, identity.GlobalKey) error) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKeyedClient(ctx, args[0], func(client *daemonctl.Client, key identity.GlobalKey) error {
				if err := action(client, cmd, key); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "OK: %s %s\n", verb, key)
				return nil
			})
		},
	}
}

func withKeyedClient(ctx *commandContext, arg string, fn func(*daemonctl.Client, identity.GlobalKey) error) error {
	key, err := ctx.parseKey(arg)
	if err != nil {
		return err
	}
	client, err := ctx.client()
	if err != nil {
		return err
	}
	if err := fn(client, key); err != nil {
		return describeDaemonError(err)
	}
	return nil
}

func describeDaemonError(err error) error {
	if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		return fmt.Errorf("spool daemon is not running; start it with `spool run`")
	}
	return err
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
