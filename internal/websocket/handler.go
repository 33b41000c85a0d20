package websocket

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ndkramer/one80learn-sub000/internal/coordinator"
	"github.com/ndkramer/one80learn-sub000/internal/router"
	"github.com/ndkramer/one80learn-sub000/pkg/types"
)

// Settings controls heartbeat and frame limits
type Settings struct {
	PingInterval time.Duration
	// ReadTimeout is how long a tab may stay silent, pongs included
	ReadTimeout    time.Duration
	MaxMessageSize int64
}

// DefaultSettings returns a 30s heartbeat with a 60s read deadline
func DefaultSettings() Settings {
	return Settings{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// FUNCTIONAL DISCOVERY: Slides are served from the LMS origin, so
		// origin checks belong to the fronting proxy
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// CoordinatorFactory builds the server-side coordinator for one tab
type CoordinatorFactory func(cb coordinator.Callbacks) *coordinator.Coordinator

// Handler upgrades tab connections and pumps their commands through the router
// ARCHITECTURAL DISCOVERY: One Coordinator per socket; the browser is a thin
// view that sends commands and renders pushed callback frames
type Handler struct {
	registry       *Registry
	router         *router.Router
	newCoordinator CoordinatorFactory
	settings       Settings
	wg             sync.WaitGroup
}

// NewHandler creates a websocket handler
func NewHandler(registry *Registry, r *router.Router, factory CoordinatorFactory, settings Settings) *Handler {
	defaults := DefaultSettings()
	if settings.PingInterval <= 0 {
		settings.PingInterval = defaults.PingInterval
	}
	if settings.ReadTimeout <= settings.PingInterval {
		settings.ReadTimeout = 2 * settings.PingInterval
	}
	if settings.MaxMessageSize <= 0 {
		settings.MaxMessageSize = defaults.MaxMessageSize
	}
	return &Handler{
		registry:       registry,
		router:         r,
		newCoordinator: factory,
		settings:       settings,
	}
}

// HandleWebSocket validates the user and upgrades the request
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "Missing required query parameter: user_id", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, "Invalid user_id format", http.StatusBadRequest)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(ws, userID)
	client := &router.Client{
		UserID: userID,
		Push:   func(frame *types.ServerFrame) { h.push(conn, frame) },
	}
	client.Coordinator = h.newCoordinator(h.callbacks(conn))

	if err := h.registry.Register(conn); err != nil {
		log.Printf("Failed to register connection: user=%s err=%v", userID, err)
		_ = conn.Close()
		return
	}
	log.Printf("Tab connected: conn=%s user=%s", conn.ID(), userID)

	h.wg.Add(1)
	go h.handleConnection(conn, client)
}

// Wait blocks until every connection goroutine has finished
func (h *Handler) Wait() {
	h.wg.Wait()
}

// callbacks turns coordinator notifications into pushed frames
func (h *Handler) callbacks(conn *Connection) coordinator.Callbacks {
	return coordinator.Callbacks{
		OnSlideChange: func(slide int) {
			h.push(conn, event(types.FrameSlideChange, map[string]int{"slide": slide}))
		},
		OnSyncStatusChange: func(status types.SyncStatus) {
			h.registry.SetSession(conn, status.SessionID)
			h.push(conn, event(types.FrameSyncStatus, status))
		},
		OnParticipantUpdate: func(kind string, p *types.SessionParticipant, stats types.SyncStats) {
			h.push(conn, event(types.FrameParticipantUpdate, types.ParticipantUpdateEvent{
				Kind:        kind,
				Participant: p,
				Stats:       stats,
			}))
		},
		OnSessionEnd: func(sessionID string) {
			h.push(conn, event(types.FrameSessionEnd, map[string]string{"session_id": sessionID}))
		},
		OnError: func(err error) {
			frame := event(types.FrameError, nil)
			frame.OK = false
			frame.Code = router.ErrorCode(err)
			frame.Error = err.Error()
			h.push(conn, frame)
		},
		OnModuleSwitch: func(change coordinator.UnitChange) {
			h.push(conn, event(types.FrameModuleSwitch, unitChangeEvent(change)))
		},
		OnStepSwitch: func(change coordinator.UnitChange) {
			h.push(conn, event(types.FrameStepSwitch, unitChangeEvent(change)))
		},
	}
}

func (h *Handler) push(conn *Connection, frame *types.ServerFrame) {
	if err := conn.WriteJSON(frame); err != nil && !errors.Is(err, ErrConnectionClosed) {
		log.Printf("Failed to push frame: conn=%s type=%s err=%v", conn.ID(), frame.Type, err)
	}
}

// handleConnection runs the read pump and heartbeat until the socket closes
func (h *Handler) handleConnection(conn *Connection, client *router.Client) {
	defer h.wg.Done()
	defer func() {
		h.registry.Unregister(conn)
		_ = conn.Close()
		client.Coordinator.Disconnect()
		client.Coordinator.Wait()
		log.Printf("Tab disconnected: conn=%s user=%s", conn.ID(), conn.UserID())
	}()

	conn.conn.SetReadLimit(h.settings.MaxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout))
	})

	go func() {
		ticker := time.NewTicker(h.settings.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: conn=%s err=%v", conn.ID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		// Commands from one tab are handled in order; the response follows
		// any callback frames the command produced
		h.push(conn, h.router.Route(conn.ctx, client, data))
	}
}

func event(frameType string, data interface{}) *types.ServerFrame {
	return &types.ServerFrame{
		Type:      frameType,
		OK:        true,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func unitChangeEvent(change coordinator.UnitChange) types.UnitChangeEvent {
	return types.UnitChangeEvent{
		ModuleID:    change.ModuleID,
		StepID:      change.StepID,
		TotalSlides: change.TotalSlides,
		Slide:       change.Slide,
	}
}
