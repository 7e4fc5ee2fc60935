package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/internal/server"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail conversations that stopped making progress and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		a := server.New(cfg, log, server.ModeJob)
		if err := a.Start(ctx); err != nil {
			return err
		}
		defer stopApp(a)

		failed, err := a.Sweeper.Sweep(ctx)
		if err != nil {
			log.Error("sweep failed", zap.Error(err))
			return err
		}
		log.Info("sweep finished", zap.Int("failed", failed), zap.Duration("stale_after", cfg.SweepStaleAfter))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
