package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/internal/server"
)

var shutdownTimeout time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the wake-up workers and the scheduler",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "how long in-flight rounds get to finish on shutdown")
}

func serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting wingfox", zap.String("version", version), zap.Int("port", cfg.Port))

	a := server.New(cfg, log, server.ModeServe)
	if err := a.Start(ctx); err != nil {
		log.Error("startup failed", zap.Error(err))
		stopApp(a)
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")
	return stopApp(a)
}

func stopApp(a *server.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.Stop(ctx); err != nil {
		log.Error("shutdown finished with errors", zap.Error(err))
		return err
	}
	return nil
}
