package main

import (
	"fmt"
	"path/filepath"

	"github.com/httprunner/TVBoxAgent/internal/adb"
	"github.com/httprunner/TVBoxAgent/internal/config"
	"github.com/httprunner/TVBoxAgent/internal/eventlog"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newEventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent connection, restart, crash and action events",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, _, err := loadOptions()
			if err != nil {
				return err
			}
			store, err := eventlog.Open(config.String(config.EnvEventDBPath, filepath.Join(stateDir(), "events.db")))
			if err != nil {
				return errors.Wrap(err, "open event log")
			}
			defer store.Close()

			events, err := store.Recent(cmd.Context(), adb.DeviceID(opts.Host, opts.Port), limit)
			if err != nil {
				return err
			}
			for _, e := range events {
				status := "ok"
				if !e.Success {
					status = "fail"
				}
				fmt.Printf("%s  %-12s %-20s %-4s %s\n", e.At.Local().Format("2006-01-02 15:04:05"), e.Kind, e.Name, status, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "最多显示的事件条数")
	return cmd
}
