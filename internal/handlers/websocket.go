package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"sidequest-backend/internal/liveview"
	"sidequest-backend/internal/middleware"
	"sidequest-backend/internal/models"
	"sidequest-backend/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // mobile clients, no browser origin
	},
}

const liveViewPushInterval = 2 * time.Second

// WebSocketHandler serves the presence change stream
type WebSocketHandler struct {
	hub           *services.PresenceHub
	userService   *services.UserService
	liveViews     *services.LiveViewFactory
	defaultRadius float64
}

// NewWebSocketHandler creates a new WebSocket handler. defaultRadius applies
// when live_view_start omits radius_miles.
func NewWebSocketHandler(hub *services.PresenceHub, userService *services.UserService, liveViews *services.LiveViewFactory, defaultRadius float64) *WebSocketHandler {
	return &WebSocketHandler{
		hub:           hub,
		userService:   userService,
		liveViews:     liveViews,
		defaultRadius: defaultRadius,
	}
}

// streamRequest is the client-to-server control message. Raw-change
// subscriptions filter per visibility class, so a client wanting both
// classes sends two subscribes. live_view_start opens a server-side
// reconciled view instead; sending it again replaces the current view.
type streamRequest struct {
	Type       string            `json:"type"` // subscribe | unsubscribe | live_view_start | live_view_stop
	Visibility models.Visibility `json:"visibility,omitempty"`

	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
	RadiusMiles float64  `json:"radius_miles,omitempty"`
}

// HandleWebSocket handles GET /ws
func (h *WebSocketHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.ValidateWebSocketToken(r.URL.Query().Get("token"), h.userService)
	if err != nil {
		respondError(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	h.hub.Register(userID, conn)
	defer h.hub.Unregister(userID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		session       *liveview.Session
		sessionCancel context.CancelFunc
	)
	stopSession := func() {
		if session == nil {
			return
		}
		sessionCancel()
		session.Stop()
		session = nil
	}
	defer stopSession()

	log.Info().Str("user_id", userID).Msg("Change stream connection established")

	for {
		_, messageBytes, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("user_id", userID).Msg("WebSocket error")
			}
			break
		}

		var msg streamRequest
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			log.Error().Err(err).Str("user_id", userID).Msg("Failed to parse stream message")
			h.sendError(userID, "Invalid message format")
			continue
		}

		switch msg.Type {
		case "subscribe", "unsubscribe":
			if !msg.Visibility.Valid() {
				h.sendError(userID, "Unknown visibility class")
				continue
			}
			h.hub.SetSubscribed(userID, msg.Visibility, msg.Type == "subscribe")
		case "live_view_start":
			if msg.Latitude == nil || msg.Longitude == nil {
				h.sendError(userID, "latitude and longitude are required")
				continue
			}
			// Same defaulting and clamp as the nearby endpoint.
			radius := clampRadius(msg.RadiusMiles, h.defaultRadius)

			stopSession()
			sctx, scancel := context.WithCancel(ctx)
			session = h.liveViews.Open(userID, *msg.Latitude, *msg.Longitude, radius)
			sessionCancel = scancel
			go session.Run(sctx)
			go h.pushLiveView(sctx, userID, session)
		case "live_view_stop":
			stopSession()
		default:
			h.sendError(userID, "Unknown message type")
		}
	}
}

// pushLiveView periodically writes the session's reconciled view to the
// viewer's connection until the session ends.
func (h *WebSocketHandler) pushLiveView(ctx context.Context, userID string, session *liveview.Session) {
	ticker := time.NewTicker(liveViewPushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rec := session.Reconciler()
			msg := services.StreamMessage{
				Type: "live_view",
				View: &services.LiveView{
					Presences: rec.Visible(),
					Mine:      rec.Mine(),
					Sharing:   rec.IsSharing(),
				},
			}
			if err := h.hub.SendToUser(userID, msg); err != nil {
				log.Debug().Err(err).Str("user_id", userID).Msg("Failed to push live view")
				return
			}
		}
	}
}

func (h *WebSocketHandler) sendError(userID, message string) {
	msg := services.StreamMessage{
		Type:    "error",
		Message: message,
	}
	if err := h.hub.SendToUser(userID, msg); err != nil {
		log.Debug().Err(err).Str("user_id", userID).Msg("Failed to send stream error")
	}
}
