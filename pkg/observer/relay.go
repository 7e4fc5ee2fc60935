package observer

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/pkg/redis"
)

// ChannelPrefix is the pub/sub channel prefix; the conversation id follows it
const ChannelPrefix = "wingfox:observer:"

// Relay fans server messages out to the hubs of every instance through Redis pub/sub
type Relay struct {
	client *redis.Client
	hub    *Hub
	logger *zap.Logger
}

// NewRelay creates a relay delivering received messages to hub
func NewRelay(client *redis.Client, hub *Hub, logger *zap.Logger) *Relay {
	return &Relay{client: client, hub: hub, logger: logger}
}

// Channel returns the pub/sub channel of a conversation
func Channel(conversationID uuid.UUID) string {
	return ChannelPrefix + conversationID.String()
}

// Broadcast publishes msg for every instance. If publishing fails the message is still
// delivered to this instance's observers.
func (r *Relay) Broadcast(ctx context.Context, conversationID uuid.UUID, msg ServerMessage) {
	data, err := EncodeServerMessage(msg)
	if err != nil {
		r.logger.Error("failed to encode relay message", zap.Error(err))
		return
	}
	if _, err := r.client.Publish(ctx, Channel(conversationID), data); err != nil {
		r.logger.Warn("relay publish failed, delivering locally",
			zap.Stringer("conversation_id", conversationID), zap.Error(err))
		r.hub.Broadcast(ctx, conversationID, msg)
	}
}

// Run forwards relayed messages to the local hub until ctx ends
func (r *Relay) Run(ctx context.Context) error {
	sub, err := r.client.PSubscribe(ctx, ChannelPrefix+"*")
	if err != nil {
		return err
	}
	defer sub.Close()

	r.logger.Info("observer relay started")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("observer relay stopped")
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			conversationID, err := uuid.Parse(strings.TrimPrefix(m.Channel, ChannelPrefix))
			if err != nil {
				r.logger.Debug("ignoring relay message on unexpected channel", zap.String("channel", m.Channel))
				continue
			}
			msg, err := DecodeServerMessage([]byte(m.Payload))
			if err != nil {
				r.logger.Warn("ignoring malformed relay message", zap.String("channel", m.Channel), zap.Error(err))
				continue
			}
			r.hub.Broadcast(ctx, conversationID, msg)
		}
	}
}
