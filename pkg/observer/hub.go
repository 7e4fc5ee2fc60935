// Package observer streams live conversation updates to authenticated participants.
package observer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/pkg/metrics"
	"github.com/Ramsey-B/wingfox/pkg/middleware"
	"github.com/Ramsey-B/wingfox/pkg/models"
)

// Errors sent to observers never carry internal details
const (
	msgAuthFailed     = "authentication failed"
	msgNotParticipant = "you are not a participant of this conversation"
	msgUnavailable    = "conversation unavailable"
)

// Conn is the part of a websocket connection the hub uses. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Snapshot is what the hub needs to authorise a user and catch them up
type Snapshot struct {
	Conversation *models.Conversation
	Turns        []models.Turn
	UserA        uuid.UUID
	UserB        uuid.UUID
}

// SnapshotProvider loads the current state of a conversation
type SnapshotProvider interface {
	Snapshot(ctx context.Context, conversationID uuid.UUID) (*Snapshot, error)
}

// Broadcaster delivers server messages to the observers of a conversation
type Broadcaster interface {
	Broadcast(ctx context.Context, conversationID uuid.UUID, msg ServerMessage)
}

// Session is the metadata of one connection. It lives in the hub, keyed by connection id.
type Session struct {
	ConnectionID   string
	ConversationID uuid.UUID
	Authenticated  bool
	UserID         string
	ConnectedAt    time.Time
}

type connection struct {
	id   string
	conn Conn
	// gorilla connections allow a single concurrent writer
	writeMu sync.Mutex
}

func (c *connection) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub tracks the observer connections of every conversation on this instance
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	conns    map[uuid.UUID]map[string]*connection

	verifier  middleware.TokenVerifier
	snapshots SnapshotProvider
	logger    *zap.Logger
}

// NewHub creates a hub
func NewHub(verifier middleware.TokenVerifier, snapshots SnapshotProvider, logger *zap.Logger) *Hub {
	return &Hub{
		sessions:  map[string]*Session{},
		conns:     map[uuid.UUID]map[string]*connection{},
		verifier:  verifier,
		snapshots: snapshots,
		logger:    logger,
	}
}

// Session returns a copy of the metadata of a connection
func (h *Hub) Session(connectionID string) (Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[connectionID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Count returns the number of connections watching a conversation
func (h *Hub) Count(conversationID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[conversationID])
}

// Serve runs the read loop of one connection until it closes or ctx ends
func (h *Hub) Serve(ctx context.Context, conversationID uuid.UUID, conn Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := h.register(conversationID, conn)
	defer h.unregister(conversationID, c)

	logger := h.logger.With(zap.Stringer("conversation_id", conversationID), zap.String("connection_id", c.id))
	logger.Debug("observer connected")

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("observer read failed", zap.Error(err))
			}
			return nil
		}

		msg, err := DecodeClientMessage(data)
		if err != nil {
			logger.Debug("ignoring observer message", zap.Error(err))
			continue
		}

		switch m := msg.(type) {
		case PingMessage:
			h.send(c, PongMessage{})
		case AuthMessage:
			if err := h.authenticate(ctx, conversationID, c, m.Token); err != nil {
				logger.Info("observer rejected", zap.Error(err))
				return nil
			}
		}
	}
}

func (h *Hub) authenticate(ctx context.Context, conversationID uuid.UUID, c *connection, token string) error {
	if s, ok := h.Session(c.id); ok && s.Authenticated {
		return nil
	}

	claims, err := h.verifier.Verify(ctx, token)
	if err != nil {
		h.reject(c, msgAuthFailed)
		return err
	}

	snapshot, err := h.snapshots.Snapshot(ctx, conversationID)
	if err != nil {
		h.reject(c, msgUnavailable)
		return fmt.Errorf("load snapshot: %w", err)
	}
	if claims.Sub != snapshot.UserA.String() && claims.Sub != snapshot.UserB.String() {
		h.reject(c, msgNotParticipant)
		return errors.New("user is not part of the match")
	}

	// The session goes live before the snapshot that is sent is read, and the write lock
	// is held until the state message is out. Rounds committed in between queue behind
	// the state and may repeat a turn it already holds; round_number identifies them.
	c.writeMu.Lock()
	h.setAuthenticated(c.id, claims.Sub, true)
	snapshot, err = h.snapshots.Snapshot(ctx, conversationID)
	if err != nil {
		h.setAuthenticated(c.id, "", false)
		c.writeMu.Unlock()
		h.reject(c, msgUnavailable)
		return fmt.Errorf("reload snapshot: %w", err)
	}
	h.sendLocked(c, NewStateMessage(snapshot.Conversation, snapshot.Turns))
	c.writeMu.Unlock()
	return nil
}

func (h *Hub) setAuthenticated(connectionID, userID string, authenticated bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.sessions[connectionID]; ok {
		s.Authenticated = authenticated
		s.UserID = userID
	}
}

func (h *Hub) reject(c *connection, message string) {
	h.send(c, ErrorMessage{Message: message})
	_ = c.conn.Close()
}

func (h *Hub) send(c *connection, msg ServerMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	h.sendLocked(c, msg)
}

// sendLocked writes msg to c. The caller holds c.writeMu.
func (h *Hub) sendLocked(c *connection, msg ServerMessage) {
	data, err := EncodeServerMessage(msg)
	if err != nil {
		h.logger.Error("failed to encode observer message", zap.Error(err))
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		h.logger.Debug("failed to write observer message", zap.String("connection_id", c.id), zap.Error(err))
		return
	}
	metrics.RecordObserverMessage(msg.MessageType())
}

// Broadcast sends msg to every authenticated connection of the conversation on this instance.
// Failures on individual connections are ignored.
func (h *Hub) Broadcast(_ context.Context, conversationID uuid.UUID, msg ServerMessage) {
	h.Deliver(conversationID, msg)
}

// Deliver is Broadcast returning how many connections were written to
func (h *Hub) Deliver(conversationID uuid.UUID, msg ServerMessage) int {
	data, err := EncodeServerMessage(msg)
	if err != nil {
		h.logger.Error("failed to encode observer message", zap.Error(err))
		return 0
	}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.conns[conversationID]))
	for id, c := range h.conns[conversationID] {
		if s, ok := h.sessions[id]; ok && s.Authenticated {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if err := c.write(data); err != nil {
			continue
		}
		delivered++
		metrics.RecordObserverMessage(msg.MessageType())
	}
	return delivered
}

func (h *Hub) register(conversationID uuid.UUID, conn Conn) *connection {
	c := &connection{id: uuid.NewString(), conn: conn}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[conversationID] == nil {
		h.conns[conversationID] = map[string]*connection{}
	}
	h.conns[conversationID][c.id] = c
	h.sessions[c.id] = &Session{
		ConnectionID:   c.id,
		ConversationID: conversationID,
		ConnectedAt:    time.Now(),
	}
	metrics.ObserversConnected.Inc()
	return c
}

func (h *Hub) unregister(conversationID uuid.UUID, c *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, c.id)
	if conns, ok := h.conns[conversationID]; ok {
		delete(conns, c.id)
		if len(conns) == 0 {
			delete(h.conns, conversationID)
		}
	}
	metrics.ObserversConnected.Dec()
	_ = c.conn.Close()
}
