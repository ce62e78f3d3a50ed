package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"docket/internal/control"
	"docket/internal/textutil"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the health and counters of a running docketd",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			socket := control.SocketPath(cfg)
			client, err := control.Dial(socket)
			if err != nil {
				fmt.Fprintf(out, "docketd is not running (no socket at %s)\n", socket)
				return nil
			}
			defer client.Close()

			status, err := client.Status()
			if err != nil {
				return fmt.Errorf("query daemon status: %w", err)
			}

			fmt.Fprintf(out, "docketd is %s (pid %d, %s)\n",
				textutil.Ternary(status.Running, "running", "stopped"),
				status.PID,
				textutil.Ternary(status.Ready, "ready", "not ready"))

			rows := make([][]string, 0, len(status.Components))
			for _, component := range status.Components {
				rows = append(rows, []string{
					component.Name,
					textutil.Ternary(component.Ready, "yes", "no"),
					component.Detail,
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Component", "Ready", "Detail"}, rows))

			stats, err := client.Stats()
			if err != nil {
				return fmt.Errorf("query daemon stats: %w", err)
			}
			pool := stats.Stats.Pool
			fmt.Fprintf(out, "Tasks: %d total, %d active, %d queued, %d completed, %d failed, %d retries\n",
				pool.Total, pool.Active, pool.Queued, pool.Completed, pool.Failed, pool.Retries)
			if host := stats.Stats.Host; host != nil {
				fmt.Fprintf(out, "Host: %.1f%% memory used, load %.2f\n", host.UsedMemPercent, host.Load1)
			}
			if n := len(status.Checkpoints); n > 0 {
				fmt.Fprintf(out, "Resumable checkpoints: %s\n", strconv.Itoa(n))
				for _, id := range status.Checkpoints {
					fmt.Fprintf(out, "  docket run --resume %s\n", id)
				}
			}
			return nil
		},
	}
}
