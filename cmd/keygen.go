package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/httprunner/TVBoxAgent/internal/adb"
	"github.com/httprunner/TVBoxAgent/internal/adbkey"
	"github.com/httprunner/TVBoxAgent/internal/config"
	"github.com/spf13/cobra"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Create (or show) the ADB key pair used for the configured box",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, _, err := loadOptions()
			if err != nil {
				return err
			}
			dir := config.String(config.EnvKeyDir, filepath.Join(stateDir(), "keys"))
			pair, err := adbkey.Provider{Dir: dir}.Ensure(adb.DeviceID(opts.Host, opts.Port))
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "private: %s\npublic:  %s\n", pair.PrivatePath, pair.PublicPath)
			return nil
		},
	}
}
