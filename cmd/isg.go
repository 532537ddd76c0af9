package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newISGCmd() *cobra.Command {
	var flagLines int
	cmd := &cobra.Command{
		Use:       "isg <status|restart|start|stop|clear-cache|logs|crash-logs>",
		Short:     "Inspect or control the iSG companion app",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"status", "restart", "start", "stop", "clear-cache", "logs", "crash-logs"},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			coord, _, closeFn, err := openCoordinator(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			var ok bool
			switch sub := strings.ToLower(args[0]); sub {
			case "status":
				if err := coord.Refresh(ctx); err != nil {
					return err
				}
				return printJSON(coord.Snapshot().ISG)
			case "logs", "crash-logs":
				lines := coord.ISGLogs(ctx, flagLines)
				if sub == "crash-logs" {
					lines = coord.ISGCrashLogs(ctx, flagLines)
				}
				for _, line := range lines {
					fmt.Fprintln(os.Stdout, line)
				}
				return nil
			case "restart":
				ok = coord.RestartISG(ctx)
			case "start":
				ok = coord.StartISG(ctx)
			case "stop":
				ok = coord.StopISG(ctx)
			case "clear-cache":
				ok = coord.ClearISGCache(ctx)
			default:
				return errors.Errorf("unknown isg command %q", sub)
			}
			if !ok {
				return errors.Errorf("isg %s failed", args[0])
			}
			return printJSON(coord.Snapshot().ISG)
		},
	}
	cmd.Flags().IntVar(&flagLines, "lines", 50, "Number of log lines")
	return cmd
}
