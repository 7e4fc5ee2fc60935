package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/internal/server"
	"github.com/Ramsey-B/wingfox/pkg/allocation"
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Run one matching cycle and start the conversations of the created matches",
	Long: `Scores every eligible pair of active profiles, allocates at most --max-per-user
matches per profile and starts their conversations. The conversations themselves are
played by a running "serve" instance.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		maxPerUser, _ := cmd.Flags().GetInt("max-per-user")
		if maxPerUser <= 0 {
			maxPerUser = cfg.MatchMaxPerUser
		}
		stagger, _ := cmd.Flags().GetDuration("stagger")
		if stagger <= 0 {
			stagger = cfg.MatchStaggerStep
		}

		a := server.New(cfg, log, server.ModeJob)
		if err := a.Start(ctx); err != nil {
			return err
		}
		defer stopApp(a)

		result, err := a.Batch.Run(ctx, allocation.BatchOptions{
			MaxPerUser:  maxPerUser,
			Stagger:     stagger,
			TotalRounds: cfg.ConversationTotalRounds,
			Concurrency: cfg.MatchScoringWorkers,
		})
		if err != nil {
			log.Error("matching cycle failed", zap.Error(err))
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(matchCmd)

	matchCmd.Flags().Int("max-per-user", 0, "matches allocated per profile (default MATCH_MAX_PER_USER)")
	matchCmd.Flags().Duration("stagger", 0, "delay added per created match before its first round (default MATCH_STAGGER_STEP)")
}
