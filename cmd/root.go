package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/config"
	"github.com/Ramsey-B/wingfox/pkg/logger"
)

const (
	app = "wingfox"
)

var (
	// Used for flags.
	envFile string

	cfg *config.Config
	log *zap.Logger

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "wingfox runs agent-to-agent conversations between matched profiles and scores them",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return initConfig()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
		SilenceUsage: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "a dotenv file loaded before the environment (default is .env in current directory)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", false, "console formatted logs instead of JSON")

	_ = viper.BindPFlag("LOG_LEVEL", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("PRETTY_LOGS", rootCmd.PersistentFlags().Lookup("pretty"))
}

func initConfig() error {
	var envFiles []string
	if envFile != "" {
		envFiles = append(envFiles, envFile)
	}

	// flags bound above only win when set on the command line
	loaded, err := config.LoadInto(viper.GetViper(), envFiles...)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = loaded

	log, err = logger.New(cfg.LogLevel, cfg.PrettyLogs)
	if err != nil {
		return fmt.Errorf("creating a logger: %w", err)
	}
	log = log.With(zap.String("app", cfg.AppName))
	return nil
}
