package main

import (
	"os"
	"strings"

	"github.com/httprunner/TVBoxAgent/internal/env"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "tvboxagent",
	Short: "Control and supervise an Android TV box over network ADB",
	Long:  `tvboxagent 通过网络 ADB 轮询安卓电视盒子的状态（电源、音量、媒体、前台应用等），执行遥控动作，并监控 iSG 伴生应用，必要时自动重启。`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(rootLogLevel)))
		if err != nil {
			return err
		}
		zerolog.SetGlobalLevel(level)
		return nil
	},
}

var (
	rootHost     string
	rootPort     int
	rootLogLevel string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
	rootCmd.PersistentFlags().StringVar(&rootHost, "host", "", "设备地址，覆盖 TVBOX_HOST")
	rootCmd.PersistentFlags().IntVar(&rootPort, "port", 0, "ADB 端口，覆盖 TVBOX_PORT（默认 5555）")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "日志级别 (debug, info, warn, error)")
	rootCmd.AddCommand(
		newRunCmd(),
		newStatusCmd(),
		newExecCmd(),
		newScreenshotCmd(),
		newKeyCmd(),
		newISGCmd(),
		newEventsCmd(),
		newKeygenCmd(),
	)
	_ = env.Ensure()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("tvboxagent command failed")
	}
}
