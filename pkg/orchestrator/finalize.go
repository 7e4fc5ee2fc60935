package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/pkg/kafka"
	"github.com/Ramsey-B/wingfox/pkg/metrics"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/observer"
	"github.com/Ramsey-B/wingfox/pkg/repositories"
	"github.com/Ramsey-B/wingfox/pkg/scoring"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

// defaultProfileScore stands in for a match whose profile score was never stored
const defaultProfileScore = 50.0

// finalize assesses the transcript, scores the match and completes the conversation.
// The conditional status write makes completion happen once even if finalize runs twice.
func (o *Orchestrator) finalize(ctx context.Context, state *models.ConversationActorState) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.finalize")
	defer span.End()
	log := o.log(ctx).With(zap.Stringer("match_id", state.MatchID))

	conv, err := o.conversations.GetByID(ctx, state.ConversationID)
	if err != nil {
		return err
	}
	if conv.Status.IsTerminal() {
		state.Status = conv.Status
		if err := o.states.Save(ctx, state); err != nil {
			log.Warn("failed to save actor state", zap.Error(err))
		}
		return nil
	}

	turns, err := o.conversations.ListTurns(ctx, state.ConversationID)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	assessment := NeutralAssessment()
	raw, err := o.llm.Generate(ctx, AssessmentRequest(state, turns, o.config))
	if err != nil {
		log.Warn("assessment call failed, using neutral scores", zap.Error(err))
	} else {
		assessment = ParseAssessment(raw)
	}
	log.Info("conversation assessed",
		zap.String("source", assessment.Source),
		zap.Float64("overall_score", assessment.OverallScore))

	finalScore, err := o.score(ctx, state.MatchID, assessment)
	if err != nil {
		tracing.RecordError(span, err)
		return err
	}

	if err := o.conversations.UpdateStatus(ctx, state.ConversationID, models.ConversationStatusCompleted); err != nil {
		if repositories.IsConflict(err) {
			log.Info("conversation already finished")
			return nil
		}
		return err
	}
	if err := o.matches.UpdateStatus(ctx, state.MatchID, models.MatchStatusCompleted); err != nil {
		log.Warn("failed to mark match completed", zap.Error(err))
	}

	state.Status = models.ConversationStatusCompleted
	state.History = turns
	state.UpdatedAt = o.now()
	if err := o.states.Save(ctx, state); err != nil {
		log.Warn("failed to save actor state", zap.Error(err))
	}

	o.broadcaster.Broadcast(ctx, state.ConversationID, observer.CompletedMessage{
		Scores: observer.Scores{
			ConversationScore: assessment.OverallScore,
			FinalScore:        finalScore,
		},
		Analysis: assessment.Analysis(),
	})
	o.publish(ctx, &kafka.EventMessage{
		Type:           kafka.EventConversationCompleted,
		MatchID:        state.MatchID.String(),
		ConversationID: state.ConversationID.String(),
		Status:         string(models.ConversationStatusCompleted),
		FinalScore:     &finalScore,
	})
	metrics.RecordConversationFinished(string(models.ConversationStatusCompleted))
	log.Info("conversation completed", zap.Int("final_score", finalScore))
	return nil
}

// score runs the full pipeline and falls back to the blended formula when any step fails
func (o *Orchestrator) score(ctx context.Context, matchID uuid.UUID, assessment Assessment) (int, error) {
	log := o.log(ctx).With(zap.Stringer("match_id", matchID))
	conversationScore := assessment.OverallScore

	match, err := o.matches.GetByID(ctx, matchID)
	if err == nil {
		var eval *scoring.Evaluation
		eval, err = o.fullScore(ctx, match, assessment, conversationScore)
		if err == nil {
			return eval.FinalScore, nil
		}
	}
	log.Warn("scoring pipeline failed, using blended score", zap.Error(err))

	profileScore := defaultProfileScore
	if match != nil && match.ProfileScore != nil {
		profileScore = *match.ProfileScore
	}
	finalScore := scoring.BlendedScore(profileScore, conversationScore)
	if err := o.scorer.StoreFallback(ctx, matchID, conversationScore, finalScore, nil); err != nil {
		return 0, err
	}
	return finalScore, nil
}

func (o *Orchestrator) fullScore(ctx context.Context, match *models.Match, assessment Assessment, conversationScore float64) (*scoring.Evaluation, error) {
	if err := o.scorer.SaveFeatureScores(ctx, assessment.FeatureScores(match.ID)); err != nil {
		return nil, err
	}
	if _, err := o.scorer.EnsureProfileScores(ctx, match); err != nil {
		return nil, err
	}
	return o.scorer.Recompute(ctx, match.ID, &conversationScore)
}
