package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/internal/server"
	"github.com/Ramsey-B/wingfox/pkg/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the postgres migrations and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		db, err := database.Open(ctx, cfg.DatabaseDSN(), database.PoolConfig{MaxOpenConns: 1}, log)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := server.Migrate(cfg, db, log); err != nil {
			log.Error("migration failed", zap.Error(err))
			return err
		}
		log.Info("migrations applied", zap.String("folder", cfg.DatabaseMigrationFolderPath))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
