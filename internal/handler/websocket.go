package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"support_chat/internal/config"
	"support_chat/internal/middleware"
	"support_chat/internal/relay"
	"support_chat/pkg/logger"
)

type WebSocketHandler struct {
	relay    *relay.Relay
	cfg      config.RelayConfig
	upgrader websocket.Upgrader
	log      logger.Logger
}

func NewWebSocketHandler(r *relay.Relay, cfg config.RelayConfig, allowedOrigin string, log logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		relay: r,
		cfg:   cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(req *http.Request) bool {
				origin := req.Header.Get("Origin")
				return allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
		log: log,
	}
}

// HandleChat upgrades the request and serves one relay session until the
// client goes away. The token is taken from ?token= or the Authorization header
// and re-validated on every event.
func (h *WebSocketHandler) HandleChat(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token, _ = middleware.BearerToken(c.GetHeader("Authorization"))
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	session := relay.NewSession(token, c.ClientIP(), h.cfg.SendBuffer)
	ctx := context.WithoutCancel(c.Request.Context())
	h.log.Debug("Connection opened", "session_id", session.ID, "remote_addr", session.RemoteAddr)

	go h.writePump(conn, session)
	h.readPump(ctx, conn, session)
}

func (h *WebSocketHandler) readPump(ctx context.Context, conn *websocket.Conn, session *relay.Session) {
	defer func() {
		h.relay.Disconnect(ctx, session)
		_ = conn.Close()
	}()

	conn.SetReadLimit(h.cfg.MaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.log.Warn("Unexpected connection close", "session_id", session.ID, "error", err)
			}
			return
		}
		h.relay.Handle(ctx, session, frame)
	}
}

// writePump owns all writes to conn. It ends when the session's queue is
// closed or a write fails; closing conn then unblocks readPump.
func (h *WebSocketHandler) writePump(conn *websocket.Conn, session *relay.Session) {
	ticker := time.NewTicker(h.cfg.PingPeriod())
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case frame, ok := <-session.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.log.Debug("Failed to write frame", "session_id", session.ID, "error", err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
