package websocket

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"livepoll/pkg/interfaces"
	"livepoll/pkg/types"
)

// DisconnectNotifier is told when a connection's read loop ends
type DisconnectNotifier interface {
	Disconnect(connID string) error
}

// HandlerConfig tunes the upgrade and heartbeat
type HandlerConfig struct {
	AllowedOrigin  string // "*" allows any origin
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
}

// DefaultHandlerConfig returns the classroom heartbeat: ping every 30s, drop after 60s silent
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		AllowedOrigin:  "*",
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   DefaultWriteTimeout,
		BufferSize:     DefaultWriteBufferSize,
		MaxMessageSize: 64 * 1024,
	}
}

// Handler upgrades HTTP requests and pumps frames into the router
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from session logic
type Handler struct {
	registry *Registry
	router   interfaces.Router
	notifier DisconnectNotifier
	config   HandlerConfig
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, router interfaces.Router, notifier DisconnectNotifier, config HandlerConfig) *Handler {
	defaults := DefaultHandlerConfig()
	if config.PingInterval <= 0 {
		config.PingInterval = defaults.PingInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}

	h := &Handler{
		registry: registry,
		router:   router,
		notifier: notifier,
		config:   config,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.config.AllowedOrigin == "" || h.config.AllowedOrigin == "*" {
		return true
	}
	origin := r.Header.Get("Origin")
	// Non-browser clients send no Origin
	return origin == "" || origin == h.config.AllowedOrigin
}

// HandleWebSocket upgrades the request and starts the connection's read loop.
// Participants declare their role with a join command after connecting.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, h.config.BufferSize, h.config.WriteTimeout)
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = wsConn.Close()
		return
	}

	go h.handleConnection(wsConn)
}

// handleConnection runs the heartbeat and read pump for one connection.
// Frames are routed in arrival order on this goroutine.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		if h.notifier != nil {
			if err := h.notifier.Disconnect(conn.GetConnID()); err != nil {
				log.Printf("Failed to report disconnect for conn=%s: %v", conn.GetConnID(), err)
			}
		}
	}()

	readTimeout := h.config.ReadTimeout
	if h.config.MaxMessageSize > 0 {
		conn.conn.SetReadLimit(h.config.MaxMessageSize)
	}
	if err := conn.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	go func() {
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error: conn=%s err=%v", conn.GetConnID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		// Any traffic proves liveness
		_ = conn.conn.SetReadDeadline(time.Now().Add(readTimeout))

		envelope, err := types.DecodeEnvelope(data)
		if err != nil {
			h.sendError(conn, "Invalid message format")
			continue
		}

		if err := h.router.RouteCommand(conn.ctx, conn, envelope); err != nil {
			log.Printf("Command %s from conn=%s failed: %v", envelope.Type, conn.GetConnID(), err)
		}
	}
}

func (h *Handler) sendError(conn *Connection, message string) {
	frame := types.NewOutboundMessage(types.EventError, map[string]string{"message": message})
	if err := conn.WriteJSON(frame); err != nil {
		log.Printf("Failed to send error to conn=%s: %v", conn.GetConnID(), err)
	}
}
