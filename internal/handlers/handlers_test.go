package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/internal/handlers"
	"github.com/Ramsey-B/wingfox/pkg/allocation"
	"github.com/Ramsey-B/wingfox/pkg/database"
	"github.com/Ramsey-B/wingfox/pkg/features"
	"github.com/Ramsey-B/wingfox/pkg/logger"
	"github.com/Ramsey-B/wingfox/pkg/middleware"
	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/observer"
	"github.com/Ramsey-B/wingfox/pkg/orchestrator"
	"github.com/Ramsey-B/wingfox/pkg/redis"
	"github.com/Ramsey-B/wingfox/pkg/repositories"
	"github.com/Ramsey-B/wingfox/pkg/repositories/repotest"
)

type fakeInitializer struct {
	err     error
	stagger time.Duration
	matchID uuid.UUID
}

func (f *fakeInitializer) Init(_ context.Context, _, matchID uuid.UUID, stagger time.Duration) error {
	f.matchID = matchID
	f.stagger = stagger
	return f.err
}

type fakeObservers struct{}

func (fakeObservers) Serve(_ context.Context, _ uuid.UUID, conn observer.Conn) error {
	defer conn.Close()
	data, err := observer.EncodeServerMessage(observer.PongMessage{})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

type fakeScores map[int]models.FeatureScore

func (f fakeScores) LoadFeatureScores(context.Context, uuid.UUID) (map[int]models.FeatureScore, error) {
	return f, nil
}

type fakeResetter struct {
	id  uuid.UUID
	err error
}

func (f fakeResetter) Reset(context.Context, uuid.UUID) (uuid.UUID, error) {
	return f.id, f.err
}

type fakeBatch struct {
	opts allocation.BatchOptions
	err  error
}

func (f *fakeBatch) Run(_ context.Context, opts allocation.BatchOptions) (*allocation.BatchResult, error) {
	f.opts = opts
	if f.err != nil {
		return nil, f.err
	}
	return &allocation.BatchResult{Users: 4, Selected: 2, Created: 2}, nil
}

func newServer() (*echo.Echo, *echo.Group) {
	e := echo.New()
	e.Validator = handlers.NewValidator()
	e.HTTPErrorHandler = middleware.Error(logger.NewEcto(zap.NewNop()))
	e.Use(middleware.Context())
	api := e.Group("/api/v1", middleware.Authentication(zap.NewNop(), middleware.InsecureVerifier{}))
	return e, api
}

func do(e *echo.Echo, method, path, body, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+user)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

type seeded struct {
	store          *repotest.Store
	matchID        uuid.UUID
	conversationID uuid.UUID
	userA, userB   uuid.UUID
}

func seed(t *testing.T) seeded {
	t.Helper()
	ctx := context.Background()
	store := repotest.NewStore()
	a, b := models.OrderPair(uuid.New(), uuid.New())

	match := &models.Match{UserA: a, UserB: b, Status: models.MatchStatusConversationPending}
	require.NoError(t, store.Matches().Create(ctx, match))
	conv := &models.Conversation{MatchID: match.ID, TotalRounds: 5}
	require.NoError(t, store.Conversations().Create(ctx, conv))
	require.NoError(t, store.Conversations().UpdateStatus(ctx, conv.ID, models.ConversationStatusInProgress))
	require.NoError(t, store.Conversations().AppendTurn(ctx, models.Turn{ConversationID: conv.ID, RoundNumber: 1, Speaker: models.SpeakerA, Content: "hi"}))

	return seeded{store: store, matchID: match.ID, conversationID: conv.ID, userA: a, userB: b}
}

func TestConversationHandler_Init(t *testing.T) {
	s := seed(t)
	matchID := uuid.New().String()

	tests := []struct {
		name     string
		path     string
		body     string
		initErr  error
		wantCode int
	}{
		{name: "started", path: "/api/v1/conversations/" + s.conversationID.String() + "/init", body: `{"match_id":"` + matchID + `","stagger_ms":1500}`, wantCode: http.StatusAccepted},
		{name: "bad id", path: "/api/v1/conversations/nope/init", body: `{"match_id":"` + matchID + `"}`, wantCode: http.StatusBadRequest},
		{name: "missing match", path: "/api/v1/conversations/" + s.conversationID.String() + "/init", body: `{}`, wantCode: http.StatusBadRequest},
		{name: "negative stagger", path: "/api/v1/conversations/" + s.conversationID.String() + "/init", body: `{"match_id":"` + matchID + `","stagger_ms":-1}`, wantCode: http.StatusBadRequest},
		{name: "already started", path: "/api/v1/conversations/" + s.conversationID.String() + "/init", body: `{"match_id":"` + matchID + `"}`, initErr: orchestrator.ErrNotPending, wantCode: http.StatusConflict},
		{name: "missing persona", path: "/api/v1/conversations/" + s.conversationID.String() + "/init", body: `{"match_id":"` + matchID + `"}`, initErr: orchestrator.ErrDataIntegrity, wantCode: http.StatusUnprocessableEntity},
		{name: "unknown conversation", path: "/api/v1/conversations/" + s.conversationID.String() + "/init", body: `{"match_id":"` + matchID + `"}`, initErr: repositories.NotFound("conversation missing"), wantCode: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			init := &fakeInitializer{err: tt.initErr}
			e, api := newServer()
			handlers.NewConversationHandler(s.store.Conversations(), s.store.Matches(), init, fakeObservers{}, []string{"*"}, zap.NewNop()).RegisterRoutes(api)

			rec := do(e, http.MethodPost, tt.path, tt.body, s.userA.String())
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusAccepted {
				assert.Equal(t, 1500*time.Millisecond, init.stagger)
				assert.Equal(t, matchID, init.matchID.String())
			}
		})
	}
}

func TestConversationHandler_GetRequiresParticipant(t *testing.T) {
	s := seed(t)
	e, api := newServer()
	handlers.NewConversationHandler(s.store.Conversations(), s.store.Matches(), &fakeInitializer{}, fakeObservers{}, nil, zap.NewNop()).RegisterRoutes(api)
	path := "/api/v1/conversations/" + s.conversationID.String()

	rec := do(e, http.MethodGet, path, "", s.userB.String())
	require.Equal(t, http.StatusOK, rec.Code)
	var conv models.Conversation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &conv))
	assert.Equal(t, s.conversationID, conv.ID)
	require.Len(t, conv.Turns, 1)
	assert.Equal(t, "hi", conv.Turns[0].Content)

	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, path, "", uuid.NewString()).Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, path, "", "").Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/conversations/"+uuid.NewString(), "", s.userA.String()).Code)
}

func TestConversationHandler_ObserveUpgrades(t *testing.T) {
	s := seed(t)
	e := echo.New()
	h := handlers.NewConversationHandler(s.store.Conversations(), s.store.Matches(), &fakeInitializer{}, fakeObservers{}, []string{"*"}, zap.NewNop())
	h.RegisterObserverRoutes(e.Group("/api/v1"))

	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/conversations/" + s.conversationID.String() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := observer.DecodeServerMessage(data)
	require.NoError(t, err)
	assert.Equal(t, observer.TypePong, msg.MessageType())
}

func TestMatchHandler_Get(t *testing.T) {
	s := seed(t)
	scores := fakeScores{
		features.ConflictResolution: {FeatureID: features.ConflictResolution, NormalizedScore: 0.8, Confidence: 0.7, SourcePhase: models.PhaseConversation},
		features.SimilarityComplementarity: {FeatureID: features.SimilarityComplementarity, NormalizedScore: 0.6, Confidence: 0.6, SourcePhase: models.PhaseProfile,
			Evidence: database.NewJSONB(models.Evidence{"axis_similarity": 0.6})},
	}
	e, api := newServer()
	handlers.NewMatchHandler(s.store.Matches(), scores, fakeResetter{}, &fakeBatch{}, handlers.MatchDefaults{}, zap.NewNop()).RegisterRoutes(api)

	rec := do(e, http.MethodGet, "/api/v1/matches/"+s.matchID.String(), "", s.userA.String())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		ID            uuid.UUID                   `json:"id"`
		Status        models.MatchStatus          `json:"status"`
		FeatureScores []handlers.FeatureScoreView `json:"feature_scores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, s.matchID, body.ID)
	assert.Equal(t, models.MatchStatusConversationPending, body.Status)
	require.Len(t, body.FeatureScores, 2)
	assert.Equal(t, features.SimilarityComplementarity, body.FeatureScores[0].FeatureID)
	assert.Equal(t, features.Name(features.ConflictResolution), body.FeatureScores[1].Name)

	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, "/api/v1/matches/"+s.matchID.String(), "", uuid.NewString()).Code)
}

func TestMatchHandler_Reset(t *testing.T) {
	s := seed(t)
	newID := uuid.New()

	tests := []struct {
		name     string
		resetter fakeResetter
		wantCode int
	}{
		{name: "restarted", resetter: fakeResetter{id: newID}, wantCode: http.StatusAccepted},
		{name: "still running", resetter: fakeResetter{err: repositories.Conflict("match is running")}, wantCode: http.StatusConflict},
		{name: "could not start", resetter: fakeResetter{id: newID, err: orchestrator.ErrDataIntegrity}, wantCode: http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, api := newServer()
			handlers.NewMatchHandler(s.store.Matches(), fakeScores{}, tt.resetter, &fakeBatch{}, handlers.MatchDefaults{}, zap.NewNop()).RegisterRoutes(api)

			rec := do(e, http.MethodPost, "/api/v1/matches/"+s.matchID.String()+"/reset", "", s.userA.String())
			assert.Equal(t, tt.wantCode, rec.Code, rec.Body.String())
			if tt.wantCode == http.StatusAccepted {
				assert.Contains(t, rec.Body.String(), newID.String())
			}
		})
	}
}

func TestMatchHandler_Batch(t *testing.T) {
	s := seed(t)
	defaults := handlers.MatchDefaults{StaggerStep: 5 * time.Second, TotalRounds: 5, Concurrency: 4}

	t.Run("runs with defaults", func(t *testing.T) {
		batch := &fakeBatch{}
		e, api := newServer()
		handlers.NewMatchHandler(s.store.Matches(), fakeScores{}, fakeResetter{}, batch, defaults, zap.NewNop()).RegisterRoutes(api)

		rec := do(e, http.MethodPost, "/api/v1/matches/batch", `{"max_per_user":2}`, s.userA.String())
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, 2, batch.opts.MaxPerUser)
		assert.Equal(t, 5*time.Second, batch.opts.Stagger)
		assert.Equal(t, 4, batch.opts.Concurrency)

		var result allocation.BatchResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		assert.Equal(t, 2, result.Created)
	})

	t.Run("validates cap", func(t *testing.T) {
		e, api := newServer()
		handlers.NewMatchHandler(s.store.Matches(), fakeScores{}, fakeResetter{}, &fakeBatch{}, defaults, zap.NewNop()).RegisterRoutes(api)

		assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/api/v1/matches/batch", `{"max_per_user":0}`, s.userA.String()).Code)
		assert.Equal(t, http.StatusBadRequest, do(e, http.MethodPost, "/api/v1/matches/batch", `{"max_per_user":50}`, s.userA.String()).Code)
	})

	t.Run("one at a time", func(t *testing.T) {
		e, api := newServer()
		handlers.NewMatchHandler(s.store.Matches(), fakeScores{}, fakeResetter{}, &fakeBatch{err: allocation.ErrBatchRunning}, defaults, zap.NewNop()).RegisterRoutes(api)

		assert.Equal(t, http.StatusConflict, do(e, http.MethodPost, "/api/v1/matches/batch", `{"max_per_user":2}`, s.userA.String()).Code)
	})
}

func TestDLQHandler(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := redis.NewClientFromRedis(rdb, zap.NewNop())
	streams := redis.NewStreams(client)
	dlq := redis.NewDeadLetterQueue(client, "wingfox:dlq", zap.NewNop())
	ctx := context.Background()

	convID := uuid.New()
	messageID, err := dlq.Add(ctx, &redis.DLQEntry{
		ID:             "w1",
		ConversationID: convID.String(),
		Round:          2,
		OriginalWake:   &redis.WakeMessage{ID: "w1", ConversationID: convID, Round: 2},
		Reason:         models.DLQReasonMaxRetries,
		ErrorMessage:   "boom",
	})
	require.NoError(t, err)
	_, err = dlq.Add(ctx, &redis.DLQEntry{ID: "w2", RawPayload: "{bad", Reason: models.DLQReasonInvalidMessage})
	require.NoError(t, err)

	e, api := newServer()
	handlers.NewDLQHandler(dlq, streams, "wingfox:wakeups", zap.NewNop()).RegisterRoutes(api)
	user := uuid.NewString()

	rec := do(e, http.MethodGet, "/api/v1/dlq?limit=10", "", user)
	require.Equal(t, http.StatusOK, rec.Code)
	var list handlers.DLQListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	assert.EqualValues(t, 2, list.Total)

	rec = do(e, http.MethodPost, "/api/v1/dlq/"+messageID+"/retry", "", user)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	queued, err := streams.Range(ctx, "wingfox:wakeups", "-", "+")
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, convID, queued[0].Wake.ConversationID)
	assert.Equal(t, 2, queued[0].Wake.Round)

	assert.Equal(t, http.StatusNotFound, do(e, http.MethodGet, "/api/v1/dlq/"+messageID, "", user).Code)
	assert.Equal(t, http.StatusNotFound, do(e, http.MethodDelete, "/api/v1/dlq/0-1", "", user).Code)
}

func TestValidatorRejectsInvalidStruct(t *testing.T) {
	v := handlers.NewValidator()
	err := v.Validate(&handlers.BatchRequest{MaxPerUser: 0})
	require.Error(t, err)
	require.True(t, httperror.IsBadRequest(err))
	assert.Contains(t, err.Error(), "invalid MaxPerUser")
	assert.NoError(t, v.Validate(&handlers.BatchRequest{MaxPerUser: 3}))
}
