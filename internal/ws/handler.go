package ws

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades authenticated HTTP requests into hub-registered sockets.
// Authentication happens before the upgrade: a bad token costs a plain 401,
// not an upgraded-then-closed connection.
type Handler struct {
	hub      *Hub
	secret   string
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewHandler(hub *Hub, secret string, handshakeTimeout time.Duration, logger *zap.Logger) *Handler {
	return &Handler{
		hub:    hub,
		secret: secret,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			// Cross-origin is allowed; the token is the access control, not
			// the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, err := ParseSession(tokenFrom(r), h.secret)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	newClient(h.hub, conn, session, h.logger).start()
}

// tokenFrom accepts the handshake credential either as a bearer header or as
// a query parameter, since browser websocket clients cannot set headers.
func tokenFrom(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
