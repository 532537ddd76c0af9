package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	tvboxagent "github.com/httprunner/TVBoxAgent"
	"github.com/httprunner/TVBoxAgent/internal/adb"
	"github.com/httprunner/TVBoxAgent/internal/catalog"
	"github.com/httprunner/TVBoxAgent/internal/config"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// openCoordinator connects to the configured box for a one-shot command.
// The returned close func disconnects the session.
func openCoordinator(ctx context.Context) (*tvboxagent.Coordinator, *adb.Manager, func(), error) {
	opts, _, err := loadOptions()
	if err != nil {
		return nil, nil, nil, err
	}
	mgr, err := newManager(opts)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() { mgr.Disconnect(context.Background()) }
	if !mgr.Connect(ctx) {
		closeFn()
		return nil, nil, nil, errors.Errorf("cannot connect to %s", mgr.DeviceID())
	}
	shots, err := tvboxagent.NewScreenshotStore(config.String(config.EnvScreenshotDir, filepath.Join(stateDir(), "screenshots")))
	if err != nil {
		log.Warn().Err(err).Msg("screenshot store disabled")
		shots = nil
	}
	coord, err := tvboxagent.NewCoordinator(tvboxagent.Config{Commander: mgr, Options: opts, Screenshots: shots})
	if err != nil {
		closeFn()
		return nil, nil, nil, err
	}
	return coord, mgr, closeFn, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Run one refresh and print the snapshot as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, mgr, closeFn, err := openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			if err := coord.Refresh(cmd.Context()); err != nil {
				return err
			}
			stats := mgr.CacheStats()
			log.Debug().Int("size", stats.Size).Int64("hits", stats.Hits).Int64("misses", stats.Misses).Msg("command cache")
			return printJSON(coord.Snapshot())
		},
	}
}

func newExecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exec <shell command>",
		Short: "Run a shell command on the box, bypassing the cache",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, mgr, closeFn, err := openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			res := mgr.Shell(cmd.Context(), strings.Join(args, " "))
			if res.Stdout != "" {
				fmt.Fprintln(os.Stdout, res.Stdout)
			}
			if !res.Success {
				return errors.Errorf("command failed (%s): %s", res.Error, res.Stderr)
			}
			return nil
		},
	}
}

func newScreenshotCmd() *cobra.Command {
	var flagOutput string
	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Capture the screen and save it as PNG",
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, _, closeFn, err := openCoordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()
			if !coord.TakeScreenshot(cmd.Context()) {
				return errors.New("screenshot failed")
			}
			snap := coord.Snapshot()
			if flagOutput != "" {
				if err := os.WriteFile(flagOutput, snap.Screenshot, 0o644); err != nil {
					return errors.Wrap(err, "write screenshot")
				}
				log.Info().Str("file", flagOutput).Int("bytes", len(snap.Screenshot)).Msg("screenshot saved")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "Also write the PNG to this file")
	return cmd
}

// keyActions maps CLI names to coordinator actions.
var keyActions = map[string]func(c *tvboxagent.Coordinator, ctx context.Context) bool{
	"volume_up":   (*tvboxagent.Coordinator).VolumeUp,
	"volume_down": (*tvboxagent.Coordinator).VolumeDown,
	"mute":        (*tvboxagent.Coordinator).ToggleMute,
	"play":        (*tvboxagent.Coordinator).MediaPlay,
	"pause":       (*tvboxagent.Coordinator).MediaPause,
	"stop":        (*tvboxagent.Coordinator).MediaStop,
	"next":        (*tvboxagent.Coordinator).MediaNext,
	"previous":    (*tvboxagent.Coordinator).MediaPrevious,
	"power_on":    (*tvboxagent.Coordinator).PowerOn,
	"power_off":   (*tvboxagent.Coordinator).PowerOff,
}

func keyNames() []string {
	names := make([]string, 0, len(keyActions)+len(catalog.NavigationKeys))
	for name := range keyActions {
		names = append(names, name)
	}
	for name := range catalog.NavigationKeys {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func newKeyCmd() *cobra.Command {
	var (
		flagApp        string
		flagVolume     float64
		flagBrightness float64
		flagCastKind   string
	)
	cmd := &cobra.Command{
		Use:   "key [action|cast-target]",
		Short: "Send a remote-control action",
		Long:  "Actions: " + strings.Join(keyNames(), ", ") + ". Use --app, --volume, --brightness or --cast for the other controls.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			coord, _, closeFn, err := openCoordinator(ctx)
			if err != nil {
				return err
			}
			defer closeFn()

			var ok bool
			name := ""
			if len(args) > 0 {
				name = strings.ToLower(strings.TrimSpace(args[0]))
			}
			switch {
			case flagApp != "":
				name, ok = "start_app", coord.StartApp(ctx, flagApp)
			case cmd.Flags().Changed("volume"):
				name, ok = "set_volume", coord.SetVolumePercent(ctx, flagVolume)
			case cmd.Flags().Changed("brightness"):
				name, ok = "set_brightness", coord.SetBrightnessPercent(ctx, flagBrightness)
			case flagCastKind != "":
				if len(args) == 0 {
					return errors.New("cast needs a target argument")
				}
				name, ok = "cast", coord.CastMedia(ctx, catalog.CastKind(flagCastKind), args[0])
			case keyActions[name] != nil:
				ok = keyActions[name](coord, ctx)
			case name != "":
				if _, nav := catalog.NavigationKeys[name]; !nav {
					return errors.Errorf("unknown action %q", name)
				}
				ok = coord.Navigate(ctx, name)
			default:
				return errors.New("an action is required")
			}
			if !ok {
				return errors.Errorf("action %s was not confirmed by the device", name)
			}
			log.Info().Str("action", name).Msg("action confirmed")
			return nil
		},
	}
	cmd.Flags().StringVar(&flagApp, "app", "", "Launch an app by friendly name or package")
	cmd.Flags().Float64Var(&flagVolume, "volume", 0, "Set the volume percent (0-100)")
	cmd.Flags().Float64Var(&flagBrightness, "brightness", 0, "Set the brightness percent (0-100)")
	cmd.Flags().StringVar(&flagCastKind, "cast", "", "Cast the target argument (youtube, netflix, spotify, url)")
	return cmd
}
