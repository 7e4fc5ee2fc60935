package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Ramsey-B/wingfox/pkg/database"
	"github.com/Ramsey-B/wingfox/pkg/features"
	"github.com/Ramsey-B/wingfox/pkg/kafka"
	"github.com/Ramsey-B/wingfox/pkg/llm"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/observer"
	"github.com/Ramsey-B/wingfox/pkg/redis"
	"github.com/Ramsey-B/wingfox/pkg/repositories/repotest"
	"github.com/Ramsey-B/wingfox/pkg/scoring"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages []observer.ServerMessage
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, _ uuid.UUID, msg observer.ServerMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
}

func (b *recordingBroadcaster) count(messageType string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.messages {
		if m.MessageType() == messageType {
			n++
		}
	}
	return n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []kafka.EventMessage
}

func (p *recordingPublisher) PublishEvent(_ context.Context, evt *kafka.EventMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, *evt)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// scriptedLLM answers round calls through roundFn and assessment calls with assessment
type scriptedLLM struct {
	mu         sync.Mutex
	roundCalls int
	roundFn    func(call int, req llm.Request) (string, error)
	assessment string
	lastRound  llm.Request
}

func (s *scriptedLLM) Generate(_ context.Context, req llm.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Purpose == "assessment" {
		return s.assessment, nil
	}
	s.roundCalls++
	s.lastRound = req
	if s.roundFn != nil {
		return s.roundFn(s.roundCalls, req)
	}
	return fmt.Sprintf("Message number %d.", s.roundCalls), nil
}

func (s *scriptedLLM) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roundCalls
}

type harness struct {
	t           *testing.T
	store       *repotest.Store
	timers      *redis.Timers
	locker      *redis.Locker
	llm         *scriptedLLM
	broadcaster *recordingBroadcaster
	events      *recordingPublisher
	orch        *Orchestrator
	scorer      *scoring.Service
	config      Config

	matchID        uuid.UUID
	conversationID uuid.UUID
	userA, userB   uuid.UUID
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := redis.NewClientFromRedis(rdb, zap.NewNop())

	store := repotest.NewStore()
	events := &recordingPublisher{}
	h := &harness{
		t:           t,
		store:       store,
		timers:      redis.NewTimers(client, ""),
		locker:      redis.NewLocker(client, ""),
		llm:         &scriptedLLM{assessment: `{"overall_score": 80, "reciprocity": 0.8, "humor_sharing": 0.7, "self_disclosure": 0.9, "emotional_responsiveness": 0.8, "self_esteem": 0.7, "conflict_resolution": 0.8, "summary": "warm and balanced"}`},
		broadcaster: &recordingBroadcaster{},
		events:      events,
		config:      DefaultConfig(),
	}

	scorer := scoring.NewService(store, store.FeatureScores(), store.Matches(), store.Profiles(), events, zap.NewNop())
	orch, err := New(Dependencies{
		Tx:            store,
		Conversations: store.Conversations(),
		Matches:       store.Matches(),
		Personas:      store.Personas(),
		States:        store.ActorStates(),
		Scorer:        scorer,
		LLM:           h.llm,
		Timers:        h.timers,
		Locker:        h.locker,
		Broadcaster:   h.broadcaster,
		Events:        events,
		Logger:        zap.NewNop(),
	}, h.config)
	require.NoError(t, err)
	orch.now = func() time.Time { return testNow }
	orch.jitter = func(time.Duration) time.Duration { return 0 }
	h.orch = orch
	h.scorer = scorer
	return h
}

// seed creates a pending match and conversation. Personas and profiles are only stored
// for the sides listed in with.
func (h *harness) seed(withPersonas, withProfiles bool) {
	ctx := context.Background()
	h.userA, h.userB = models.OrderPair(uuid.New(), uuid.New())

	if withPersonas {
		h.store.PutPersona(models.Persona{UserID: h.userA, PersonaType: models.PersonaTypeWingfox, DisplayName: "Aki", CompiledDocument: "Loves hiking and board games."})
		h.store.PutPersona(models.Persona{UserID: h.userB, PersonaType: models.PersonaTypeWingfox, DisplayName: "Ben", CompiledDocument: "Bakes bread and reads history."})
	}
	if withProfiles {
		for _, id := range []uuid.UUID{h.userA, h.userB} {
			h.store.PutProfile(models.Profile{
				UserID:      id,
				Gender:      "x",
				Seeking:     []string{"any"},
				Personality: database.NewJSONB(models.Personality{Openness: 0.6, Extraversion: 0.5, Agreeableness: 0.7}),
				Active:      true,
			})
		}
	}

	match := &models.Match{UserA: h.userA, UserB: h.userB, Status: models.MatchStatusConversationPending}
	require.NoError(h.t, h.store.Matches().Create(ctx, match))
	conv := &models.Conversation{MatchID: match.ID, TotalRounds: h.config.TotalRounds}
	require.NoError(h.t, h.store.Conversations().Create(ctx, conv))
	h.matchID = match.ID
	h.conversationID = conv.ID
}

func (h *harness) pending() []redis.DueTimer {
	h.t.Helper()
	due, err := h.timers.Due(context.Background(), testNow.Add(24*time.Hour), 100)
	require.NoError(h.t, err)
	return due
}

// step claims the earliest timer and delivers it
func (h *harness) step() (redis.DueTimer, bool) {
	h.t.Helper()
	due := h.pending()
	if len(due) == 0 {
		return redis.DueTimer{}, false
	}
	claimed, err := h.timers.Claim(context.Background(), due[0].Member)
	require.NoError(h.t, err)
	require.True(h.t, claimed)
	require.NoError(h.t, h.orch.HandleWake(context.Background(), redis.WakeMessage{
		ConversationID: due[0].ConversationID,
		Round:          due[0].Round,
	}))
	return due[0], true
}

func (h *harness) drain() int {
	h.t.Helper()
	for i := 0; i < 50; i++ {
		if _, ok := h.step(); !ok {
			return i
		}
	}
	h.t.Fatal("conversation never settled")
	return 0
}

func TestInit_SchedulesFirstRound(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)

	require.NoError(t, h.orch.Init(context.Background(), h.conversationID, h.matchID, 3*time.Second))

	conv, _ := h.store.Conversation(h.conversationID)
	assert.Equal(t, models.ConversationStatusInProgress, conv.Status)
	match, _ := h.store.Match(h.matchID)
	assert.Equal(t, models.MatchStatusConversationInProgress, match.Status)

	due := h.pending()
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Round)
	assert.True(t, due[0].DueAt.Equal(testNow.Add(3*time.Second)))

	state, err := h.store.ActorStates().Get(context.Background(), h.conversationID)
	require.NoError(t, err)
	assert.Equal(t, LanguageEnglish, state.Language)
	assert.Equal(t, h.config.TotalRounds, state.TotalRounds)
	assert.Contains(t, state.PersonaA.SystemInstruction, "You are Aki, talking with Ben")
	assert.Contains(t, state.PersonaB.SystemInstruction, "You are Ben, talking with Aki")
	assert.Equal(t, []string{kafka.EventConversationStarted}, h.events.types())
}

func TestInit_MissingPersonaFailsWithoutRetry(t *testing.T) {
	h := newHarness(t)
	h.seed(false, false)

	err := h.orch.Init(context.Background(), h.conversationID, h.matchID, 0)
	require.ErrorIs(t, err, ErrDataIntegrity)

	conv, _ := h.store.Conversation(h.conversationID)
	assert.Equal(t, models.ConversationStatusFailed, conv.Status)
	match, _ := h.store.Match(h.matchID)
	assert.Equal(t, models.MatchStatusFailed, match.Status)
	assert.Empty(t, h.pending())
	assert.Equal(t, 0, h.llm.calls())
}

func TestInit_RejectsStartedConversation(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	ctx := context.Background()

	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))
	assert.ErrorIs(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0), ErrNotPending)
	assert.ErrorIs(t, h.orch.Init(ctx, h.conversationID, uuid.New(), 0), ErrDataIntegrity)
}

func TestHandleWake_FullConversationCompletesOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	ctx := context.Background()
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))

	assert.Equal(t, h.config.TotalRounds, h.drain())

	conv, _ := h.store.Conversation(h.conversationID)
	assert.Equal(t, models.ConversationStatusCompleted, conv.Status)
	assert.Equal(t, h.config.TotalRounds, conv.CurrentRound)
	require.Len(t, conv.Turns, h.config.TotalRounds)
	for i, turn := range conv.Turns {
		assert.Equal(t, i+1, turn.RoundNumber)
		assert.Equal(t, models.SpeakerForRound(i+1), turn.Speaker)
	}

	match, _ := h.store.Match(h.matchID)
	assert.Equal(t, models.MatchStatusCompleted, match.Status)
	require.NotNil(t, match.FinalScore)
	require.NotNil(t, match.ConversationScore)
	assert.InDelta(t, 80, *match.ConversationScore, 0.001)
	assert.GreaterOrEqual(t, *match.FinalScore, 0)
	assert.LessOrEqual(t, *match.FinalScore, 100)

	// a late duplicate of the last round changes nothing
	require.NoError(t, h.orch.HandleWake(ctx, redis.WakeMessage{ConversationID: h.conversationID, Round: h.config.TotalRounds}))

	assert.Equal(t, h.config.TotalRounds, h.broadcaster.count(observer.TypeRoundMessage))
	assert.Equal(t, 1, h.broadcaster.count(observer.TypeCompleted))
	completed := 0
	for _, typ := range h.events.types() {
		if typ == kafka.EventConversationCompleted {
			completed++
		}
	}
	assert.Equal(t, 1, completed)
	assert.Empty(t, h.pending())

	var conversationScores int
	for _, s := range h.store.Scores(h.matchID) {
		if s.SourcePhase == models.PhaseConversation {
			conversationScores++
			assert.InDelta(t, ConfidenceConversation, s.Confidence, 1e-9)
		}
	}
	assert.Equal(t, len(SubScoreFeatures), conversationScores)
}

func TestHandleWake_DuplicateRoundReschedulesNext(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	ctx := context.Background()
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))

	for i := 0; i < 3; i++ {
		_, ok := h.step()
		require.True(t, ok)
	}
	calls := h.llm.calls()
	conv, _ := h.store.Conversation(h.conversationID)
	require.Equal(t, 3, conv.CurrentRound)

	// round 4 is pending; drop it and replay round 3
	_, err := h.timers.Cancel(ctx, h.conversationID)
	require.NoError(t, err)
	require.NoError(t, h.orch.HandleWake(ctx, redis.WakeMessage{ConversationID: h.conversationID, Round: 3}))

	conv, _ = h.store.Conversation(h.conversationID)
	assert.Equal(t, 3, conv.CurrentRound)
	assert.Len(t, conv.Turns, 3)
	assert.Equal(t, calls, h.llm.calls())

	due := h.pending()
	require.Len(t, due, 1)
	assert.Equal(t, 4, due[0].Round)
	assert.True(t, due[0].DueAt.Equal(testNow.Add(h.config.DuplicateDelay)))
}

func TestHandleWake_RetriesExhaustedFailConversation(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	ctx := context.Background()
	h.llm.roundFn = func(int, llm.Request) (string, error) {
		return "", errors.New("upstream unavailable")
	}
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))

	first, ok := h.step()
	require.True(t, ok)
	assert.Equal(t, 1, first.Round)

	due := h.pending()
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Round)
	assert.True(t, due[0].DueAt.Equal(testNow.Add(h.config.RetryBaseDelay)))

	h.drain()

	assert.Equal(t, h.config.MaxRetries, h.llm.calls())
	conv, _ := h.store.Conversation(h.conversationID)
	assert.Equal(t, models.ConversationStatusFailed, conv.Status)
	assert.Zero(t, conv.CurrentRound)
	match, _ := h.store.Match(h.matchID)
	assert.Equal(t, models.MatchStatusFailed, match.Status)
	assert.Equal(t, 1, h.broadcaster.count(observer.TypeError))
	assert.Empty(t, h.pending())
	assert.Contains(t, h.events.types(), kafka.EventConversationFailed)
}

func TestHandleWake_RateLimitUsesLongerBackoff(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	ctx := context.Background()
	h.llm.roundFn = func(int, llm.Request) (string, error) {
		return "", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}
	}
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))
	h.step()

	due := h.pending()
	require.Len(t, due, 1)
	assert.True(t, due[0].DueAt.Equal(testNow.Add(h.config.RateLimitBaseDelay)))

	state, err := h.store.ActorStates().Get(ctx, h.conversationID)
	require.NoError(t, err)
	assert.Equal(t, 1, state.RetryCount)
}

func TestHandleWake_SuccessResetsRetryCount(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	ctx := context.Background()
	h.llm.roundFn = func(call int, _ llm.Request) (string, error) {
		if call == 1 {
			return "", errors.New("timeout")
		}
		return "Nice to meet you.", nil
	}
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))
	h.step()
	h.step()

	state, err := h.store.ActorStates().Get(ctx, h.conversationID)
	require.NoError(t, err)
	assert.Zero(t, state.RetryCount)
	require.Len(t, state.History, 1)
	assert.Equal(t, "Nice to meet you.", state.History[0].Content)
}

func TestHandleWake_EmptyReplyUsesPlaceholder(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	ctx := context.Background()
	h.llm.roundFn = func(int, llm.Request) (string, error) {
		return "", llm.ErrEmptyResponse
	}
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))
	h.step()

	conv, _ := h.store.Conversation(h.conversationID)
	require.Len(t, conv.Turns, 1)
	assert.Equal(t, PlaceholderReply(LanguageEnglish), conv.Turns[0].Content)
}

func TestHandleWake_TruncatesLongReplies(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	ctx := context.Background()
	h.llm.roundFn = func(int, llm.Request) (string, error) {
		return strings.Repeat("a", h.config.MaxReplyChars*3), nil
	}
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))
	h.step()

	conv, _ := h.store.Conversation(h.conversationID)
	require.Len(t, conv.Turns, 1)
	assert.Len(t, []rune(conv.Turns[0].Content), h.config.MaxReplyChars)
}

func TestHandleWake_LockedActorRetriesLater(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	ctx := context.Background()
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))

	lock, err := h.locker.Acquire(ctx, lockKey(h.conversationID), time.Minute)
	require.NoError(t, err)
	defer func() { _ = lock.Release(ctx) }()

	h.step()

	assert.Equal(t, 0, h.llm.calls())
	due := h.pending()
	require.Len(t, due, 1)
	assert.Equal(t, 1, due[0].Round)
	assert.True(t, due[0].DueAt.Equal(testNow.Add(h.config.DuplicateDelay)))
}

func TestHandleWake_SecondSpeakerSeesPartnerAsUser(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	ctx := context.Background()
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))
	h.step()
	h.step()

	req := h.llm.lastRound
	state, err := h.store.ActorStates().Get(ctx, h.conversationID)
	require.NoError(t, err)
	assert.Equal(t, state.PersonaB.SystemInstruction, req.SystemInstruction)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, llm.RoleUser, req.Messages[0].Role)
	assert.Equal(t, "Message number 1.", req.Messages[0].Text)
}

func TestFinalize_FallsBackToBlendedScore(t *testing.T) {
	h := newHarness(t)
	// no profiles: profile scoring cannot run
	h.seed(true, false)
	ctx := context.Background()
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))

	h.drain()

	match, _ := h.store.Match(h.matchID)
	assert.Equal(t, models.MatchStatusCompleted, match.Status)
	require.NotNil(t, match.FinalScore)
	assert.Equal(t, scoring.BlendedScore(defaultProfileScore, 80), *match.FinalScore)
	require.NotNil(t, match.LayerScores.Data)
	assert.True(t, match.LayerScores.Data.Fallback)
}

func TestFinalize_UnparseableAssessmentIsNeutral(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	h.llm.assessment = "I cannot rate this conversation."
	ctx := context.Background()
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))

	h.drain()

	match, _ := h.store.Match(h.matchID)
	assert.Equal(t, models.MatchStatusCompleted, match.Status)
	require.NotNil(t, match.ConversationScore)
	assert.InDelta(t, 50, *match.ConversationScore, 0.001)
}

// withQuiz replaces both seeded profiles with ones carrying quiz answers
func (h *harness) withQuiz(selfDisclosure float64, conflictStyle string) {
	for _, id := range []uuid.UUID{h.userA, h.userB} {
		h.store.PutProfile(models.Profile{
			UserID:      id,
			Gender:      "x",
			Seeking:     []string{"any"},
			Personality: database.NewJSONB(models.Personality{Openness: 0.6, Extraversion: 0.5, Agreeableness: 0.7}),
			Quiz: database.NewJSONB(&models.QuizAnswers{
				SelfDisclosure:    selfDisclosure,
				ConflictStyle:     conflictStyle,
				Values:            []string{"honesty", "family"},
				LifeGoals:         []string{"travel"},
				GrowthOrientation: 0.7,
			}),
			Active: true,
		})
	}
}

func bestScores(t *testing.T, h *harness) map[int]models.FeatureScore {
	t.Helper()
	scores, err := h.scorer.LoadFeatureScores(context.Background(), h.matchID)
	require.NoError(t, err)
	return scores
}

func TestFinalize_SalvagedLowScoreDoesNotInventDealbreakers(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	ctx := context.Background()

	// a batch-created match already has profile scores
	match, _ := h.store.Match(h.matchID)
	profileEval, err := h.scorer.ScoreMatchProfile(ctx, &match)
	require.NoError(t, err)
	require.Greater(t, profileEval.FinalScore, 0)

	h.llm.assessment = `Sure! overall_score: 12 -- I could not finish the JSON {`
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))
	h.drain()

	match, _ = h.store.Match(h.matchID)
	assert.Equal(t, models.MatchStatusCompleted, match.Status)
	require.NotNil(t, match.ConversationScore)
	assert.InDelta(t, 12, *match.ConversationScore, 0.001)
	require.NotNil(t, match.FinalScore)
	assert.Greater(t, *match.FinalScore, 0)
	require.NotNil(t, match.LayerScores.Data)
	assert.Empty(t, match.LayerScores.Data.Dealbreakers)

	best := bestScores(t, h)
	assert.InDelta(t, scoring.NeutralScore, best[features.SelfDisclosure].NormalizedScore, 1e-9)
	assert.InDelta(t, scoring.NeutralScore, best[features.ConflictResolution].NormalizedScore, 1e-9)
}

func TestFinalize_MissingSubScoresKeepProfileEvidence(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	// low quiz self-disclosure is a real dealbreaker
	h.withQuiz(0.1, "avoiding")
	ctx := context.Background()

	match, _ := h.store.Match(h.matchID)
	_, err := h.scorer.ScoreMatchProfile(ctx, &match)
	require.NoError(t, err)

	h.llm.assessment = `{"overall_score": 80}`
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))
	h.drain()

	best := bestScores(t, h)
	assert.Equal(t, models.PhaseProfile, best[features.SelfDisclosure].SourcePhase)
	assert.InDelta(t, 0.1, best[features.SelfDisclosure].NormalizedScore, 1e-9)
	assert.Equal(t, models.PhaseProfile, best[features.ConflictResolution].SourcePhase)

	match, _ = h.store.Match(h.matchID)
	require.NotNil(t, match.FinalScore)
	assert.Zero(t, *match.FinalScore)
	require.NotNil(t, match.LayerScores.Data)
	assert.NotEmpty(t, match.LayerScores.Data.Dealbreakers)
}

func TestFailConversation(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	ctx := context.Background()
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))

	require.NoError(t, h.orch.FailConversation(ctx, h.conversationID, "conversation stalled"))

	conv, _ := h.store.Conversation(h.conversationID)
	assert.Equal(t, models.ConversationStatusFailed, conv.Status)
	assert.Empty(t, h.pending())
	assert.Equal(t, 1, h.broadcaster.count(observer.TypeError))

	// already terminal
	require.NoError(t, h.orch.FailConversation(ctx, h.conversationID, "again"))
	assert.Equal(t, 1, h.broadcaster.count(observer.TypeError))
}

func TestReset_RestartsFinishedMatch(t *testing.T) {
	h := newHarness(t)
	h.seed(true, true)
	ctx := context.Background()
	require.NoError(t, h.orch.Init(ctx, h.conversationID, h.matchID, 0))

	_, err := h.orch.Reset(ctx, h.matchID)
	require.Error(t, err, "running match cannot be reset")

	h.drain()

	newID, err := h.orch.Reset(ctx, h.matchID)
	require.NoError(t, err)
	assert.NotEqual(t, h.conversationID, newID)

	_, ok := h.store.Conversation(h.conversationID)
	assert.False(t, ok)
	conv, ok := h.store.Conversation(newID)
	require.True(t, ok)
	assert.Equal(t, models.ConversationStatusInProgress, conv.Status)
	match, _ := h.store.Match(h.matchID)
	assert.Equal(t, models.MatchStatusConversationInProgress, match.Status)

	due := h.pending()
	require.Len(t, due, 1)
	assert.Equal(t, newID, due[0].ConversationID)
	assert.Equal(t, 1, due[0].Round)
}
