package observer

import (
	"context"

	"github.com/google/uuid"

	"github.com/Ramsey-B/wingfox/pkg/repositories"
)

// RepositorySnapshots reads snapshots from the conversation and match repositories
type RepositorySnapshots struct {
	Conversations repositories.ConversationRepo
	Matches       repositories.MatchRepo
}

func (r RepositorySnapshots) Snapshot(ctx context.Context, conversationID uuid.UUID) (*Snapshot, error) {
	conversation, err := r.Conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	match, err := r.Matches.GetByID(ctx, conversation.MatchID)
	if err != nil {
		return nil, err
	}
	turns, err := r.Conversations.ListTurns(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Conversation: conversation,
		Turns:        turns,
		UserA:        match.UserA,
		UserB:        match.UserB,
	}, nil
}
