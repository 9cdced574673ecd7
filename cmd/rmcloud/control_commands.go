package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"rmcloud/internal/daemonctl"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show whether a server is running for the configured data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			state, err := daemonctl.ProcessInfo(cfg)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, state)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			if state.Running {
				detail := "running"
				if state.PID > 0 {
					detail = fmt.Sprintf("running (pid %d)", state.PID)
				}
				fmt.Fprintln(out, renderStatusLine("Server", statusOK, detail, colorize))
			} else {
				fmt.Fprintln(out, renderStatusLine("Server", statusWarn, "not running", colorize))
			}
			fmt.Fprintln(out, renderStatusLine("Listen address", statusOK, cfg.Server.Bind, colorize))
			fmt.Fprintln(out, renderStatusLine("Demo mode", statusOK, yesNo(cfg.Demo.Enabled), colorize))
			fmt.Fprintln(out, renderStatusLine("Artifact cache", statusOK, yesNo(cfg.Cache.Enabled), colorize))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newStopCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			result, err := daemonctl.Stop(cmd.Context(), cfg, grace)
			if errors.Is(err, daemonctl.ErrNotRunning) {
				fmt.Fprintln(out, "Server is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if result.ForcedKill {
				fmt.Fprintf(out, "Server (pid %d) did not exit within %s and was killed\n", result.PID, grace)
				return nil
			}
			fmt.Fprintf(out, "Server (pid %d) stopped\n", result.PID)
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 10*time.Second, "Time to wait before force-killing the server")
	return cmd
}
