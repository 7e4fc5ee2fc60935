// Package repotest provides an in-memory implementation of the repository interfaces for
// tests. Conditional writes follow the same rules as the SQL repositories.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Ramsey-B/wingfox/pkg/models"
	"github.com/Ramsey-B/wingfox/pkg/repositories"
)

// Store holds every table in memory
type Store struct {
	mu sync.Mutex

	matches       map[uuid.UUID]*models.Match
	conversations map[uuid.UUID]*models.Conversation
	turns         map[uuid.UUID][]models.Turn
	actorStates   map[uuid.UUID]*models.ConversationActorState
	scores        map[scoreKey]models.FeatureScore
	personas      map[personaKey]*models.Persona
	profiles      map[uuid.UUID]*models.Profile
	blocks        []models.Block

	// Fail lets a test inject an error for a named operation, e.g. "AppendTurn"
	Fail map[string]error

	now func() time.Time
}

type scoreKey struct {
	matchID   uuid.UUID
	featureID int
	phase     models.Phase
}

type personaKey struct {
	userID      uuid.UUID
	personaType models.PersonaType
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		matches:       map[uuid.UUID]*models.Match{},
		conversations: map[uuid.UUID]*models.Conversation{},
		turns:         map[uuid.UUID][]models.Turn{},
		actorStates:   map[uuid.UUID]*models.ConversationActorState{},
		scores:        map[scoreKey]models.FeatureScore{},
		personas:      map[personaKey]*models.Persona{},
		profiles:      map[uuid.UUID]*models.Profile{},
		Fail:          map[string]error{},
		now:           time.Now,
	}
}

func (s *Store) fail(op string) error {
	return s.Fail[op]
}

// WithTx runs fn directly; the store has no rollback
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Matches returns the match repository view
func (s *Store) Matches() repositories.MatchRepo { return matchRepo{s} }

// Conversations returns the conversation repository view
func (s *Store) Conversations() repositories.ConversationRepo { return conversationRepo{s} }

// FeatureScores returns the feature score repository view
func (s *Store) FeatureScores() repositories.FeatureScoreRepo { return scoreRepo{s} }

// ActorStates returns the actor state repository view
func (s *Store) ActorStates() repositories.ActorStateRepo { return actorStateRepo{s} }

// Personas returns the persona repository view
func (s *Store) Personas() repositories.PersonaRepo { return personaRepo{s} }

// Profiles returns the profile repository view
func (s *Store) Profiles() repositories.ProfileRepo { return profileRepo{s} }

// Blocks returns the block repository view
func (s *Store) Blocks() repositories.BlockRepo { return blockRepo{s} }

// PutPersona seeds a persona
func (s *Store) PutPersona(p models.Persona) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.personas[personaKey{p.UserID, p.PersonaType}] = &p
}

// PutProfile seeds a profile
func (s *Store) PutProfile(p models.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.UserID] = &p
}

// PutBlock seeds a block
func (s *Store) PutBlock(b models.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks = append(s.blocks, b)
}

// Match returns a copy of a stored match
func (s *Store) Match(id uuid.UUID) (models.Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[id]
	if !ok {
		return models.Match{}, false
	}
	return *m, true
}

// Conversation returns a copy of a stored conversation with its turns
func (s *Store) Conversation(id uuid.UUID) (models.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return models.Conversation{}, false
	}
	out := *c
	out.Turns = append([]models.Turn(nil), s.turns[id]...)
	return out, true
}

// Scores returns every stored feature score of a match
func (s *Store) Scores(matchID uuid.UUID) []models.FeatureScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scoresLocked(matchID)
}

func (s *Store) scoresLocked(matchID uuid.UUID) []models.FeatureScore {
	var out []models.FeatureScore
	for k, v := range s.scores {
		if k.matchID == matchID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].FeatureID != out[j].FeatureID {
			return out[i].FeatureID < out[j].FeatureID
		}
		return out[i].SourcePhase.Rank() < out[j].SourcePhase.Rank()
	})
	return out
}

type matchRepo struct{ s *Store }

func (r matchRepo) Create(_ context.Context, match *models.Match) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("MatchCreate"); err != nil {
		return err
	}
	if match.ID == uuid.Nil {
		match.ID = uuid.New()
	}
	if match.Status == "" {
		match.Status = models.MatchStatusPending
	}
	match.UserA, match.UserB = models.OrderPair(match.UserA, match.UserB)
	for _, m := range r.s.matches {
		if m.UserA == match.UserA && m.UserB == match.UserB {
			return repositories.Conflict("match for pair already exists")
		}
	}
	match.CreatedAt = r.s.now()
	match.UpdatedAt = match.CreatedAt
	stored := *match
	r.s.matches[match.ID] = &stored
	return nil
}

func (r matchRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Match, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.matches[id]
	if !ok {
		return nil, repositories.NotFound("match %s does not exist", id)
	}
	out := *m
	return &out, nil
}

func (r matchRepo) ListPairs(context.Context) ([][2]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var pairs [][2]uuid.UUID
	for _, m := range r.s.matches {
		pairs = append(pairs, [2]uuid.UUID{m.UserA, m.UserB})
	}
	return pairs, nil
}

func (r matchRepo) UpdateStatus(_ context.Context, id uuid.UUID, status models.MatchStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.matches[id]
	if !ok {
		return repositories.NotFound("match %s does not exist", id)
	}
	if m.Status == status {
		return nil
	}
	if !m.Status.CanTransitionTo(status) {
		return repositories.Conflict("match %s cannot move from %s to %s", id, m.Status, status)
	}
	m.Status = status
	m.UpdatedAt = r.s.now()
	return nil
}

func (r matchRepo) UpdateScores(_ context.Context, id uuid.UUID, update models.MatchScoreUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("UpdateScores"); err != nil {
		return err
	}
	m, ok := r.s.matches[id]
	if !ok {
		return repositories.NotFound("match %s does not exist", id)
	}
	if update.ProfileScore != nil {
		v := *update.ProfileScore
		m.ProfileScore = &v
	}
	if update.ConversationScore != nil {
		v := *update.ConversationScore
		m.ConversationScore = &v
	}
	final := update.FinalScore
	m.FinalScore = &final
	m.LayerScores.Data = update.LayerScores
	m.UpdatedAt = r.s.now()
	return nil
}

func (r matchRepo) Reset(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	m, ok := r.s.matches[id]
	if !ok {
		return repositories.NotFound("match %s does not exist", id)
	}
	if !m.Status.IsTerminal() {
		return repositories.Conflict("match %s is %s and cannot be reset", id, m.Status)
	}
	m.Status = models.MatchStatusConversationPending
	m.ConversationScore = nil
	m.UpdatedAt = r.s.now()
	return nil
}

type conversationRepo struct{ s *Store }

func (r conversationRepo) Create(_ context.Context, c *models.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.ConversationStatusPending
	}
	for _, existing := range r.s.conversations {
		if existing.MatchID == c.MatchID {
			return repositories.Internal("failed to create conversation",
				fmt.Errorf("conversation for match %s already exists", c.MatchID))
		}
	}
	c.CurrentRound = 0
	c.CreatedAt = r.s.now()
	c.UpdatedAt = c.CreatedAt
	stored := *c
	stored.Turns = nil
	r.s.conversations[c.ID] = &stored
	return nil
}

func (r conversationRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return nil, repositories.NotFound("conversation %s does not exist", id)
	}
	out := *c
	return &out, nil
}

func (r conversationRepo) GetByMatchID(_ context.Context, matchID uuid.UUID) (*models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.conversations {
		if c.MatchID == matchID {
			out := *c
			return &out, nil
		}
	}
	return nil, repositories.NotFound("conversation for match %s does not exist", matchID)
}

func (r conversationRepo) GetCurrentRound(_ context.Context, id uuid.UUID) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return 0, repositories.NotFound("conversation %s does not exist", id)
	}
	return c.CurrentRound, nil
}

func (r conversationRepo) AppendTurn(_ context.Context, turn models.Turn) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("AppendTurn"); err != nil {
		return err
	}
	c, ok := r.s.conversations[turn.ConversationID]
	if !ok || c.CurrentRound != turn.RoundNumber-1 || c.Status != models.ConversationStatusInProgress {
		return repositories.Conflict("round %d already written for conversation %s", turn.RoundNumber, turn.ConversationID)
	}
	c.CurrentRound++
	c.UpdatedAt = r.s.now()
	turn.CreatedAt = c.UpdatedAt
	r.s.turns[c.ID] = append(r.s.turns[c.ID], turn)
	return nil
}

func (r conversationRepo) ListTurns(_ context.Context, id uuid.UUID) ([]models.Turn, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]models.Turn{}, r.s.turns[id]...), nil
}

func (r conversationRepo) UpdateStatus(_ context.Context, id uuid.UUID, status models.ConversationStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok || c.Status.IsTerminal() {
		return repositories.Conflict("conversation %s is missing or already terminal", id)
	}
	now := r.s.now()
	c.Status = status
	if status == models.ConversationStatusInProgress && c.StartedAt == nil {
		c.StartedAt = &now
	}
	if status.IsTerminal() {
		c.CompletedAt = &now
	}
	c.UpdatedAt = now
	return nil
}

func (r conversationRepo) ListStale(_ context.Context, status models.ConversationStatus, olderThan time.Time, limit int) ([]models.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Conversation{}
	for _, c := range r.s.conversations {
		if c.Status == status && c.UpdatedAt.Before(olderThan) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r conversationRepo) DeleteByMatchID(_ context.Context, matchID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, c := range r.s.conversations {
		if c.MatchID == matchID {
			delete(r.s.conversations, id)
			delete(r.s.turns, id)
			delete(r.s.actorStates, id)
		}
	}
	return nil
}

// Backdate moves a conversation's updated_at into the past
func (s *Store) Backdate(id uuid.UUID, by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conversations[id]; ok {
		c.UpdatedAt = c.UpdatedAt.Add(-by)
	}
}

type scoreRepo struct{ s *Store }

func (r scoreRepo) Upsert(_ context.Context, scores []models.FeatureScore) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("Upsert"); err != nil {
		return err
	}
	for _, score := range scores {
		key := scoreKey{score.MatchID, score.FeatureID, score.SourcePhase}
		now := r.s.now()
		if existing, ok := r.s.scores[key]; ok {
			score.CreatedAt = existing.CreatedAt
		} else {
			score.CreatedAt = now
		}
		score.UpdatedAt = now
		score.RawScore = models.Clamp01(score.RawScore)
		score.NormalizedScore = models.Clamp01(score.NormalizedScore)
		score.Confidence = models.Clamp01(score.Confidence)
		r.s.scores[key] = score
	}
	return nil
}

func (r scoreRepo) ListByMatch(_ context.Context, matchID uuid.UUID) ([]models.FeatureScore, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("ListByMatch"); err != nil {
		return nil, err
	}
	return r.s.scoresLocked(matchID), nil
}

func (r scoreRepo) CountByPhase(_ context.Context, matchID uuid.UUID, phase models.Phase) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for k := range r.s.scores {
		if k.matchID == matchID && k.phase == phase {
			n++
		}
	}
	return n, nil
}

type actorStateRepo struct{ s *Store }

func (r actorStateRepo) Save(_ context.Context, state *models.ConversationActorState) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("SaveActorState"); err != nil {
		return err
	}
	state.UpdatedAt = r.s.now()
	stored := *state
	stored.History = append([]models.Turn(nil), state.History...)
	r.s.actorStates[state.ConversationID] = &stored
	return nil
}

func (r actorStateRepo) Get(_ context.Context, conversationID uuid.UUID) (*models.ConversationActorState, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	state, ok := r.s.actorStates[conversationID]
	if !ok {
		return nil, repositories.NotFound("actor state for conversation %s does not exist", conversationID)
	}
	out := *state
	out.History = append([]models.Turn(nil), state.History...)
	return &out, nil
}

type personaRepo struct{ s *Store }

func (r personaRepo) Get(_ context.Context, userID uuid.UUID, personaType models.PersonaType) (*models.Persona, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.personas[personaKey{userID, personaType}]
	if !ok {
		return nil, repositories.NotFound("persona for user %s does not exist", userID)
	}
	out := *p
	return &out, nil
}

type profileRepo struct{ s *Store }

func (r profileRepo) Get(_ context.Context, userID uuid.UUID) (*models.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[userID]
	if !ok {
		return nil, repositories.NotFound("profile for user %s does not exist", userID)
	}
	out := *p
	return &out, nil
}

func (r profileRepo) ListActive(context.Context) ([]models.Profile, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := []models.Profile{}
	for _, p := range r.s.profiles {
		if p.Active {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out, nil
}

type blockRepo struct{ s *Store }

func (r blockRepo) ListAll(context.Context) ([]models.Block, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]models.Block{}, r.s.blocks...), nil
}
