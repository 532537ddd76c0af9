package main

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"

	tvboxagent "github.com/httprunner/TVBoxAgent"
	"github.com/httprunner/TVBoxAgent/internal/config"
	"github.com/httprunner/TVBoxAgent/internal/devrecorder"
	"github.com/httprunner/TVBoxAgent/internal/eventlog"
	"github.com/httprunner/TVBoxAgent/internal/options"
	"github.com/httprunner/TVBoxAgent/internal/publish"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the box, supervise iSG and publish snapshots until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx)
		},
	}
}

func runDaemon(ctx context.Context) error {
	opts, optionsPath, err := loadOptions()
	if err != nil {
		return err
	}
	mgr, err := newManager(opts)
	if err != nil {
		return err
	}
	defer mgr.Disconnect(context.Background())
	deviceID := mgr.DeviceID()

	events, err := eventlog.Open(config.String(config.EnvEventDBPath, filepath.Join(stateDir(), "events.db")))
	if err != nil {
		return errors.Wrap(err, "open event log")
	}
	defer events.Close()

	shots, err := tvboxagent.NewScreenshotStore(config.String(config.EnvScreenshotDir, filepath.Join(stateDir(), "screenshots")))
	if err != nil {
		return err
	}

	var listeners []tvboxagent.Listener
	if url := config.String(config.EnvNATSURL, ""); url != "" {
		pub, err := publish.Dial(url, config.String(config.EnvNATSSubjectPrefix, publish.DefaultSubjectPrefix), deviceID)
		if err != nil {
			return err
		}
		defer pub.Close()
		listeners = append(listeners, pub)
	}
	rec, err := devrecorder.NewFromEnv(deviceID, version)
	if err != nil {
		return errors.Wrap(err, "init feishu device recorder")
	}
	if rec != nil {
		listeners = append(listeners, rec)
	}

	coord, err := tvboxagent.NewCoordinator(tvboxagent.Config{
		Commander:   mgr,
		Options:     opts,
		Listeners:   listeners,
		Events:      events,
		Screenshots: shots,
	})
	if err != nil {
		return err
	}
	registry := tvboxagent.NewRegistry()
	if err := registry.Add(deviceID, coord); err != nil {
		return err
	}

	log.Info().Str("device", deviceID).Str("options_file", optionsPath).
		Int("listeners", len(listeners)).Str("events", events.Path()).Msg("starting tvboxagent")

	group, groupCtx := errgroup.WithContext(ctx)
	tvboxagent.GroupGoSafe(groupCtx, group, "registry", registry.Run)
	if optionsPath != "" {
		watcher := options.NewWatcher(optionsPath, func(fileSrc options.Source) {
			next := tvboxagent.DefaultOptions().Apply(options.FromEnv().Merge(fileSrc))
			next.Host, next.Port = opts.Host, opts.Port
			coord.ApplyOptions(next)
		})
		tvboxagent.GroupGoSafe(groupCtx, group, "options watcher", watcher.Run)
	}
	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
