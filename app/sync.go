package app

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/TencentBlueKing/bk-user-sub004/internal/config"
	"github.com/TencentBlueKing/bk-user-sub004/internal/daemon"
	"github.com/TencentBlueKing/bk-user-sub004/internal/db/models"
	"github.com/TencentBlueKing/bk-user-sub004/internal/logger"
	"github.com/TencentBlueKing/bk-user-sub004/internal/syncer"
)

func init() { //nolint: gochecknoinits
	syncCmd.Flags().Uint64Var(&syncSourceID, "source-id", 0, "Data source to sync")
	syncCmd.Flags().StringVar(&syncOperator, "operator", "", "Account recorded as the run's operator")
	syncCmd.Flags().BoolVar(&syncOverwrite, "overwrite", false, "Replace same-named users already present")
	syncCmd.Flags().BoolVar(&syncIncremental, "incremental", false, "Skip deletion of records absent from the fetch")

	if errFlag := syncCmd.MarkFlagRequired("source-id"); errFlag != nil {
		panic(errFlag)
	}

	rootCmd.AddCommand(syncCmd)
}

var (
	syncSourceID    uint64
	syncOperator    string
	syncOverwrite   bool
	syncIncremental bool

	syncCmd = &cobra.Command{ //nolint:gochecknoglobals
		Use:   "sync",
		Short: "Run a one-shot sync for a data source",
		PreRun: func(_ *cobra.Command, _ []string) {
			if cfg, err = config.ReadConfig(configPath); err != nil {
				panic(err)
			}

			if errLog := logger.Init(cfg.Log); errLog != nil {
				panic(errLog)
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			d := daemon.New(&cfg)

			taskID, errRun := d.RunDataSourceSync(context.Background(), syncSourceID, syncer.Options{
				Overwrite:   syncOverwrite,
				Incremental: syncIncremental,
				Trigger:     models.SyncTaskTriggerManual,
				Operator:    syncOperator,
			})

			log.Info().
				Uint64("source_id", syncSourceID).
				Uint64("task_id", taskID).
				Msg("sync run finished")

			cmd.SilenceUsage = true

			return errRun
		},
	}
)
