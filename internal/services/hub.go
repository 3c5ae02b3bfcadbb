package services

import (
	"encoding/json"
	"sync"

	"sidequest-backend/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// StreamMessage is the envelope written to WebSocket subscribers.
type StreamMessage struct {
	Type       string                     `json:"type"`
	Visibility models.Visibility          `json:"visibility,omitempty"`
	Change     *models.ChangeNotification `json:"change,omitempty"`
	View       *LiveView                  `json:"view,omitempty"`
	Message    string                     `json:"message,omitempty"`
}

// LiveView is one server-reconciled snapshot of a viewer's surroundings,
// pushed to clients running in live view mode.
type LiveView struct {
	Presences []*models.Presence `json:"presences"`
	Mine      *models.Presence   `json:"mine,omitempty"`
	Sharing   bool               `json:"sharing"`
}

// ChangeSubscription is one in-process subscription to a single visibility
// class of the presence change stream. The transport filters per value, so
// a consumer wanting both classes opens two subscriptions.
type ChangeSubscription struct {
	hub        *PresenceHub
	id         int
	visibility models.Visibility
	ch         chan models.ChangeNotification
}

// Changes returns the notification channel.
func (s *ChangeSubscription) Changes() <-chan models.ChangeNotification {
	return s.ch
}

// Close unsubscribes. The channel is closed; pending notifications are lost.
func (s *ChangeSubscription) Close() {
	s.hub.unsubscribe(s.id)
}

type hubConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	classes map[models.Visibility]bool
}

// PresenceHub fans presence change notifications out to WebSocket clients
// and in-process subscriptions, each filtered by visibility class. Fan-out
// never blocks: a subscriber that cannot keep up drops notifications and is
// expected to recover via its next snapshot refresh.
type PresenceHub struct {
	mu     sync.RWMutex
	conns  map[string]*hubConn
	subs   map[int]*ChangeSubscription
	nextID int
}

// NewPresenceHub creates a new presence hub
func NewPresenceHub() *PresenceHub {
	return &PresenceHub{
		conns: make(map[string]*hubConn),
		subs:  make(map[int]*ChangeSubscription),
	}
}

// Register registers a WebSocket connection for a user, replacing any
// existing one.
func (h *PresenceHub) Register(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.conns[userID]; ok {
		existing.conn.Close()
	}
	h.conns[userID] = &hubConn{
		conn:    conn,
		classes: make(map[models.Visibility]bool),
	}

	log.Info().Str("user_id", userID).Msg("Stream connection registered")
}

// Unregister removes a user's WebSocket connection.
func (h *PresenceHub) Unregister(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conns[userID]; ok {
		c.conn.Close()
		delete(h.conns, userID)
		log.Info().Str("user_id", userID).Msg("Stream connection unregistered")
	}
}

// SetSubscribed turns delivery of one visibility class on or off for a
// user's connection.
func (h *PresenceHub) SetSubscribed(userID string, visibility models.Visibility, on bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.conns[userID]; ok {
		c.classes[visibility] = on
	}
}

// Subscribe opens an in-process subscription for one visibility class.
func (h *PresenceHub) Subscribe(visibility models.Visibility) *ChangeSubscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &ChangeSubscription{
		hub:        h,
		id:         h.nextID,
		visibility: visibility,
		ch:         make(chan models.ChangeNotification, 32),
	}
	h.subs[sub.id] = sub
	return sub
}

func (h *PresenceHub) unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub, ok := h.subs[id]; ok {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Publish fans one change notification out to every subscriber of the row's
// visibility class. Implements ChangePublisher. Called by the lifecycle
// service after each committed write, which preserves commit order per row.
func (h *PresenceHub) Publish(change models.ChangeNotification) {
	row := change.Row()
	if row == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.visibility != row.Visibility {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			log.Warn().
				Str("presence_id", row.ID).
				Msg("Dropping change for slow subscriber")
		}
	}

	msg := StreamMessage{
		Type:       "presence_change",
		Visibility: row.Visibility,
		Change:     &change,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal change notification")
		return
	}

	for userID, c := range h.conns {
		if !c.classes[row.Visibility] {
			continue
		}
		c.writeMu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
		if err != nil {
			log.Warn().
				Err(err).
				Str("user_id", userID).
				Msg("Failed to write change to stream client")
		}
	}
}

// SendToUser writes one message to a user's connection, if connected.
func (h *PresenceHub) SendToUser(userID string, msg StreamMessage) error {
	h.mu.RLock()
	c, ok := h.conns[userID]
	h.mu.RUnlock()

	if !ok {
		return models.ErrNotFound
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// IsOnline checks if a user has a stream connection.
func (h *PresenceHub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}
