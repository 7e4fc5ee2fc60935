// Package orchestrator drives the AI persona conversation of a match. Each conversation is
// an actor: wake-ups arrive through the Redis stream, a per-conversation lock keeps a single
// writer, and every round is persisted before the next one is scheduled.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	appctx "github.com/Ramsey-B/wingfox/pkg/context"
	"github.com/Ramsey-B/wingfox/pkg/kafka"
	"github.com/Ramsey-B/wingfox/pkg/llm"
	"github.com/Ramsey-B/wingfox/pkg/metrics"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/observer"
	"github.com/Ramsey-B/wingfox/pkg/redis"
	"github.com/Ramsey-B/wingfox/pkg/repositories"
	"github.com/Ramsey-B/wingfox/pkg/scoring"
	"github.com/Ramsey-B/wingfox/pkg/tracing"
)

var (
	// ErrDataIntegrity marks a conversation that can never run, such as a missing persona
	ErrDataIntegrity = errors.New("data integrity violation")
	// ErrNotPending is returned when Init is called on a conversation that already started
	ErrNotPending = errors.New("conversation is not pending")
	// ErrMatchMismatch is returned when a conversation does not belong to the given match
	ErrMatchMismatch = fmt.Errorf("%w: conversation belongs to another match", ErrDataIntegrity)
)

// FailedMessage is the only failure text observers ever see
const FailedMessage = "conversation failed"

// Scorer is the part of the scoring service finalization needs
type Scorer interface {
	SaveFeatureScores(ctx context.Context, scores []models.FeatureScore) error
	EnsureProfileScores(ctx context.Context, match *models.Match) (bool, error)
	Recompute(ctx context.Context, matchID uuid.UUID, conversationScore *float64) (*scoring.Evaluation, error)
	StoreFallback(ctx context.Context, matchID uuid.UUID, conversationScore float64, finalScore int, layers *models.LayerScores) error
}

// Timers schedules durable wake-ups
type Timers interface {
	Schedule(ctx context.Context, conversationID uuid.UUID, round int, dueAt time.Time) error
	Cancel(ctx context.Context, conversationID uuid.UUID) (int, error)
}

// Locker runs fn while holding a distributed lock
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Transactor runs fn in one database transaction
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Dependencies are the collaborators of an Orchestrator
type Dependencies struct {
	Tx            Transactor
	Conversations repositories.ConversationRepo
	Matches       repositories.MatchRepo
	Personas      repositories.PersonaRepo
	States        repositories.ActorStateRepo
	Scorer        Scorer
	LLM           llm.Client
	Timers        Timers
	Locker        Locker
	Broadcaster   observer.Broadcaster
	Events        kafka.EventPublisher
	Logger        *zap.Logger
}

// Orchestrator runs conversation actors
type Orchestrator struct {
	tx            Transactor
	conversations repositories.ConversationRepo
	matches       repositories.MatchRepo
	personas      repositories.PersonaRepo
	states        repositories.ActorStateRepo
	scorer        Scorer
	llm           llm.Client
	timers        Timers
	locker        Locker
	broadcaster   observer.Broadcaster
	events        kafka.EventPublisher
	config        Config
	logger        *zap.Logger

	now    func() time.Time
	jitter jitterFunc
}

// New creates an orchestrator. The config must be valid.
func New(deps Dependencies, config Config) (*Orchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	events := deps.Events
	if events == nil {
		events = kafka.NoopPublisher{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		tx:            deps.Tx,
		conversations: deps.Conversations,
		matches:       deps.Matches,
		personas:      deps.Personas,
		states:        deps.States,
		scorer:        deps.Scorer,
		llm:           deps.LLM,
		timers:        deps.Timers,
		locker:        deps.Locker,
		broadcaster:   deps.Broadcaster,
		events:        events,
		config:        config,
		logger:        logger.Named("orchestrator"),
		now:           time.Now,
		jitter:        randomJitter,
	}, nil
}

// Config returns the orchestrator configuration
func (o *Orchestrator) Config() Config {
	return o.config
}

func lockKey(conversationID uuid.UUID) string {
	return "conversation:" + conversationID.String()
}

func (o *Orchestrator) log(ctx context.Context) *zap.Logger {
	return appctx.Logger(ctx, o.logger)
}

// Init prepares a pending conversation and schedules its first round after stagger
func (o *Orchestrator) Init(ctx context.Context, conversationID, matchID uuid.UUID, stagger time.Duration) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Init")
	defer span.End()
	ctx = appctx.SetConversationID(ctx, conversationID.String())

	err := o.init(ctx, conversationID, matchID, stagger)
	if err != nil {
		tracing.RecordError(span, err)
	}
	return err
}

func (o *Orchestrator) init(ctx context.Context, conversationID, matchID uuid.UUID, stagger time.Duration) error {
	conv, err := o.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return err
	}
	if conv.MatchID != matchID {
		return ErrMatchMismatch
	}
	if conv.Status != models.ConversationStatusPending {
		return ErrNotPending
	}

	match, err := o.matches.GetByID(ctx, matchID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return o.failIntegrity(ctx, conv, nil, "match not found")
		}
		return err
	}

	personaA, err := o.personas.Get(ctx, match.UserA, models.PersonaTypeWingfox)
	if err != nil {
		if repositories.IsNotFound(err) {
			return o.failIntegrity(ctx, conv, match, "persona missing for user_a")
		}
		return err
	}
	personaB, err := o.personas.Get(ctx, match.UserB, models.PersonaTypeWingfox)
	if err != nil {
		if repositories.IsNotFound(err) {
			return o.failIntegrity(ctx, conv, match, "persona missing for user_b")
		}
		return err
	}

	totalRounds := conv.TotalRounds
	if totalRounds <= 0 {
		totalRounds = o.config.TotalRounds
	}
	language := DetectLanguage(personaA.DisplayName, personaA.CompiledDocument, personaB.DisplayName, personaB.CompiledDocument)

	state := &models.ConversationActorState{
		ConversationID: conv.ID,
		MatchID:        match.ID,
		PersonaA: models.ActorPersona{
			UserID:            match.UserA,
			DisplayName:       personaA.DisplayName,
			SystemInstruction: BuildSystemInstruction(personaA, personaB.DisplayName, language, o.config.MaxReplyChars),
		},
		PersonaB: models.ActorPersona{
			UserID:            match.UserB,
			DisplayName:       personaB.DisplayName,
			SystemInstruction: BuildSystemInstruction(personaB, personaA.DisplayName, language, o.config.MaxReplyChars),
		},
		Language:    language,
		History:     []models.Turn{},
		Status:      models.ConversationStatusInProgress,
		TotalRounds: totalRounds,
		UpdatedAt:   o.now(),
	}
	if err := o.states.Save(ctx, state); err != nil {
		return err
	}
	if err := o.conversations.UpdateStatus(ctx, conv.ID, models.ConversationStatusInProgress); err != nil {
		return err
	}
	if err := o.matches.UpdateStatus(ctx, match.ID, models.MatchStatusConversationInProgress); err != nil {
		return err
	}
	if err := o.timers.Schedule(ctx, conv.ID, 1, o.now().Add(stagger)); err != nil {
		return err
	}

	o.publish(ctx, &kafka.EventMessage{
		Type:           kafka.EventConversationStarted,
		MatchID:        match.ID.String(),
		ConversationID: conv.ID.String(),
		Status:         string(models.ConversationStatusInProgress),
	})
	o.log(ctx).Info("conversation initialised",
		zap.Stringer("match_id", match.ID),
		zap.String("language", language),
		zap.Int("total_rounds", totalRounds),
		zap.Duration("stagger", stagger))
	return nil
}

func (o *Orchestrator) failIntegrity(ctx context.Context, conv *models.Conversation, match *models.Match, reason string) error {
	o.log(ctx).Error("conversation cannot start", zap.Stringer("match_id", conv.MatchID), zap.String("reason", reason))

	state := &models.ConversationActorState{
		ConversationID: conv.ID,
		MatchID:        conv.MatchID,
		Status:         models.ConversationStatusPending,
		TotalRounds:    conv.TotalRounds,
		UpdatedAt:      o.now(),
	}
	if err := o.fail(ctx, state, reason, match != nil); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrDataIntegrity, reason)
}

// HandleWake advances the conversation by one round. It is idempotent: a wake for a round
// that is already persisted only reschedules the next one.
func (o *Orchestrator) HandleWake(ctx context.Context, wake redis.WakeMessage) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.HandleWake")
	defer span.End()
	ctx = appctx.SetConversationID(ctx, wake.ConversationID.String())

	err := o.locker.WithLock(ctx, lockKey(wake.ConversationID), o.config.LockTTL, func(ctx context.Context) error {
		return o.advance(ctx, wake)
	})
	if errors.Is(err, redis.ErrLockNotAcquired) {
		// another worker holds the actor; try the same round again later
		metrics.RecordRound("skipped")
		return o.schedule(ctx, wake.ConversationID, wake.Round, o.config.DuplicateDelay)
	}
	if err != nil {
		tracing.RecordError(span, err)
	}
	return err
}

func (o *Orchestrator) advance(ctx context.Context, wake redis.WakeMessage) error {
	log := o.log(ctx).With(zap.Int("wake_round", wake.Round))

	state, err := o.states.Get(ctx, wake.ConversationID)
	if err != nil {
		if repositories.IsNotFound(err) {
			log.Warn("wake-up for unknown conversation")
			metrics.RecordRound("skipped")
			return nil
		}
		return err
	}
	if state.Status.IsTerminal() {
		metrics.RecordRound("skipped")
		return nil
	}

	current, err := o.conversations.GetCurrentRound(ctx, wake.ConversationID)
	if err != nil {
		return err
	}

	if current >= state.TotalRounds {
		// every turn is stored but the conversation never completed
		return o.finalize(ctx, state)
	}
	if current >= wake.Round {
		log.Info("duplicate wake-up", zap.Int("current_round", current))
		metrics.RecordRound("duplicate")
		return o.schedule(ctx, state.ConversationID, current+1, o.config.DuplicateDelay)
	}
	if wake.Round > current+1 {
		log.Warn("wake-up ahead of conversation", zap.Int("current_round", current))
	}

	return o.playRound(ctx, state, current+1)
}

func (o *Orchestrator) playRound(ctx context.Context, state *models.ConversationActorState, round int) error {
	log := o.log(ctx).With(zap.Int("round", round))

	speaker := models.SpeakerForRound(round)
	partner := models.SpeakerB
	if speaker == models.SpeakerB {
		partner = models.SpeakerA
	}

	if len(state.History) != round-1 {
		turns, err := o.conversations.ListTurns(ctx, state.ConversationID)
		if err != nil {
			return o.retryRound(ctx, state, round, err)
		}
		state.History = turns
	}

	self := state.Persona(speaker)
	reply, err := o.llm.Generate(ctx, llm.Request{
		Purpose:           "round",
		SystemInstruction: self.SystemInstruction,
		Messages:          RoundMessages(state.History, speaker, state.Language, state.Persona(partner).DisplayName),
		Temperature:       o.config.Temperature,
		MaxOutputTokens:   o.config.MaxOutputTokens,
	})
	if err != nil && !errors.Is(err, llm.ErrEmptyResponse) {
		return o.retryRound(ctx, state, round, err)
	}

	content := TruncateReply(reply, o.config.MaxReplyChars)
	if content == "" {
		content = PlaceholderReply(state.Language)
	}

	turn := models.Turn{
		ConversationID: state.ConversationID,
		RoundNumber:    round,
		Speaker:        speaker,
		Content:        content,
		CreatedAt:      o.now(),
	}
	if err := o.conversations.AppendTurn(ctx, turn); err != nil {
		if repositories.IsConflict(err) {
			log.Info("round already written")
			metrics.RecordRound("duplicate")
			return nil
		}
		return o.retryRound(ctx, state, round, err)
	}

	state.History = append(state.History, turn)
	state.RetryCount = 0
	state.UpdatedAt = o.now()
	if err := o.states.Save(ctx, state); err != nil {
		// turns are authoritative; the history is rebuilt on the next wake-up
		log.Warn("failed to save actor state", zap.Error(err))
	}

	o.broadcaster.Broadcast(ctx, state.ConversationID, observer.RoundMessage{
		RoundNumber: turn.RoundNumber,
		Speaker:     turn.Speaker,
		Content:     turn.Content,
	})
	o.publish(ctx, &kafka.EventMessage{
		Type:           kafka.EventConversationRound,
		MatchID:        state.MatchID.String(),
		ConversationID: state.ConversationID.String(),
		Round:          round,
	})
	metrics.RecordRound("committed")
	log.Info("round committed", zap.String("speaker", string(speaker)), zap.Int("chars", len([]rune(content))))

	if round >= state.TotalRounds {
		return o.finalize(ctx, state)
	}
	return o.schedule(ctx, state.ConversationID, round+1, o.config.RoundDelay+o.jitter(o.config.RoundJitter))
}

// retryRound counts a failed attempt. Once the budget is spent the conversation fails;
// otherwise the same round is rescheduled with backoff.
func (o *Orchestrator) retryRound(ctx context.Context, state *models.ConversationActorState, round int, cause error) error {
	state.RetryCount++
	state.UpdatedAt = o.now()
	rateLimited := llm.IsRateLimit(cause)

	o.log(ctx).Warn("round attempt failed",
		zap.Int("round", round),
		zap.Int("retry_count", state.RetryCount),
		zap.Bool("rate_limited", rateLimited),
		zap.Error(cause))

	if state.RetryCount >= o.config.MaxRetries {
		return o.fail(ctx, state, "round retries exhausted", true)
	}

	metrics.RecordRound("retried")
	if err := o.states.Save(ctx, state); err != nil {
		return err
	}
	delay := o.config.RetryDelay(state.RetryCount, rateLimited) + o.jitter(o.config.RoundJitter)
	return o.schedule(ctx, state.ConversationID, round, delay)
}

// fail moves the conversation, and the match when failMatch is set, to failed. A
// conversation that already reached a terminal status is left alone.
func (o *Orchestrator) fail(ctx context.Context, state *models.ConversationActorState, reason string, failMatch bool) error {
	log := o.log(ctx).With(zap.Stringer("match_id", state.MatchID), zap.String("reason", reason))

	if err := o.conversations.UpdateStatus(ctx, state.ConversationID, models.ConversationStatusFailed); err != nil {
		if repositories.IsConflict(err) {
			log.Info("conversation already finished")
			return nil
		}
		return err
	}
	if failMatch {
		if err := o.matches.UpdateStatus(ctx, state.MatchID, models.MatchStatusFailed); err != nil {
			log.Warn("failed to mark match failed", zap.Error(err))
		}
	}

	state.Status = models.ConversationStatusFailed
	state.UpdatedAt = o.now()
	if err := o.states.Save(ctx, state); err != nil {
		log.Warn("failed to save actor state", zap.Error(err))
	}
	if _, err := o.timers.Cancel(ctx, state.ConversationID); err != nil {
		log.Warn("failed to cancel wake-ups", zap.Error(err))
	}

	o.broadcaster.Broadcast(ctx, state.ConversationID, observer.ErrorMessage{Message: FailedMessage})
	o.publish(ctx, &kafka.EventMessage{
		Type:           kafka.EventConversationFailed,
		MatchID:        state.MatchID.String(),
		ConversationID: state.ConversationID.String(),
		Status:         string(models.ConversationStatusFailed),
		Reason:         reason,
	})
	metrics.RecordRound("failed")
	metrics.RecordConversationFinished(string(models.ConversationStatusFailed))
	log.Error("conversation failed")
	return nil
}

// FailConversation force-fails a conversation, for example one that stalled
func (o *Orchestrator) FailConversation(ctx context.Context, conversationID uuid.UUID, reason string) error {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.FailConversation")
	defer span.End()
	ctx = appctx.SetConversationID(ctx, conversationID.String())

	err := o.locker.WithLock(ctx, lockKey(conversationID), o.config.LockTTL, func(ctx context.Context) error {
		state, err := o.states.Get(ctx, conversationID)
		if err != nil {
			if !repositories.IsNotFound(err) {
				return err
			}
			conv, err := o.conversations.GetByID(ctx, conversationID)
			if err != nil {
				return err
			}
			state = &models.ConversationActorState{
				ConversationID: conv.ID,
				MatchID:        conv.MatchID,
				Status:         conv.Status,
				TotalRounds:    conv.TotalRounds,
			}
		}
		if state.Status.IsTerminal() {
			return nil
		}
		return o.fail(ctx, state, reason, true)
	})
	if err != nil {
		tracing.RecordError(span, err)
	}
	return err
}

// Reset discards the conversation of a finished match and starts a fresh one. It returns
// the new conversation id.
func (o *Orchestrator) Reset(ctx context.Context, matchID uuid.UUID) (uuid.UUID, error) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.Reset")
	defer span.End()

	match, err := o.matches.GetByID(ctx, matchID)
	if err != nil {
		tracing.RecordError(span, err)
		return uuid.Nil, err
	}
	if !match.Status.IsTerminal() {
		return uuid.Nil, repositories.Conflict("match %s is %s and cannot be reset", matchID, match.Status)
	}

	if old, err := o.conversations.GetByMatchID(ctx, matchID); err == nil {
		if _, err := o.timers.Cancel(ctx, old.ID); err != nil {
			o.log(ctx).Warn("failed to cancel wake-ups", zap.Stringer("conversation_id", old.ID), zap.Error(err))
		}
	} else if !repositories.IsNotFound(err) {
		tracing.RecordError(span, err)
		return uuid.Nil, err
	}

	conv := &models.Conversation{
		ID:          uuid.New(),
		MatchID:     matchID,
		Status:      models.ConversationStatusPending,
		TotalRounds: o.config.TotalRounds,
	}
	err = o.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := o.matches.Reset(ctx, matchID); err != nil {
			return err
		}
		if err := o.conversations.DeleteByMatchID(ctx, matchID); err != nil {
			return err
		}
		return o.conversations.Create(ctx, conv)
	})
	if err != nil {
		tracing.RecordError(span, err)
		return uuid.Nil, err
	}

	o.log(ctx).Info("match reset", zap.Stringer("match_id", matchID), zap.Stringer("conversation_id", conv.ID))
	if err := o.Init(ctx, conv.ID, matchID, 0); err != nil {
		return conv.ID, err
	}
	return conv.ID, nil
}

func (o *Orchestrator) schedule(ctx context.Context, conversationID uuid.UUID, round int, delay time.Duration) error {
	return o.timers.Schedule(ctx, conversationID, round, o.now().Add(delay))
}

func (o *Orchestrator) publish(ctx context.Context, evt *kafka.EventMessage) {
	evt.Timestamp = o.now()
	if err := o.events.PublishEvent(ctx, evt); err != nil {
		o.log(ctx).Warn("failed to publish event", zap.String("type", evt.Type), zap.Error(err))
	}
}
