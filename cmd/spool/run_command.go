package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"spool/internal/daemon"
	"spool/internal/logging"
)

// newRunCommand runs the daemon in the foreground until interrupted.
func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the spool daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return err
			}

			d, err := daemon.New(cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := d.Start(runCtx); err != nil {
				return err
			}

			<-runCtx.Done()
			logger.Info("spool shutting down")
			return nil
		},
	}
}
