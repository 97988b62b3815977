// File: internal/wscallback/hub.go

// Package wscallback provides the live-push channel between the bridge and
// HUD frames: the callback URL substituted into trusted-origin assets, and
// a small hub that broadcasts events to connected frames.
package wscallback

import (
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Event is a single push message to HUD frames.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// Hub tracks connected HUD frames and broadcasts events to them.
type Hub struct {
	callbackURL string
	upgrader    websocket.Upgrader
	log         *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

// NewHub builds the hub for a trusted origin, e.g. "https://hud". The push
// endpoint only ever accepts connections from that origin; a target page
// attempting to open the socket is refused at the handshake.
func NewHub(trustedOrigin, callbackPath string, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	host := strings.TrimPrefix(trustedOrigin, "https://")
	h := &Hub{
		callbackURL: "wss://" + host + callbackPath + "/ws",
		log:         logger.Named("wscallback"),
		clients:     make(map[*websocket.Conn]bool),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return r.Header.Get("Origin") == trustedOrigin
		},
	}
	return h
}

// CallbackURL returns the wss:// URL substituted into trusted-origin
// assets.
func (h *Hub) CallbackURL() string { return h.callbackURL }

// ServeHTTP upgrades a trusted-origin request into a push connection.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade refused", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	h.log.Debug("hud frame connected", zap.String("remote", r.RemoteAddr))

	// Drain the connection; frames only listen, but reading surfaces
	// closes promptly.
	go func() {
		defer h.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Broadcast sends an event to every connected frame. Dead connections are
// dropped.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(ev); err != nil {
			h.log.Debug("dropping dead hud frame", zap.Error(err))
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

// ClientCount reports the number of connected frames.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all frames.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[conn] {
		conn.Close()
		delete(h.clients, conn)
	}
}
