package app

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TencentBlueKing/bk-user-sub004/internal/config"
	"github.com/TencentBlueKing/bk-user-sub004/internal/daemon"
	"github.com/TencentBlueKing/bk-user-sub004/internal/logger"
)

func init() { //nolint: gochecknoinits
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable dev mode")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration directory")

	rootCmd.AddCommand(startCmd)
}

var (
	configPath string // Path to the configuration file

	err     error
	devMode bool

	startCmd = &cobra.Command{ //nolint:gochecknoglobals
		Use:   "start",
		Short: "Start the sync engine daemon",
		PreRun: func(_ *cobra.Command, _ []string) {
			if cfg, err = config.ReadConfig(configPath); err != nil {
				panic(err)
			}

			if devMode {
				cfg.DevMode = true
			}

			if errLog := logger.Init(cfg.Log); errLog != nil {
				panic(errLog)
			}
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d := daemon.New(&cfg)

			return d.Start(ctx)
		},
	}
)
