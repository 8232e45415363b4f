package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"callsignal/internal/auth"
	"callsignal/internal/config"
	"callsignal/internal/presence"
	"callsignal/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Handler upgrades authenticated requests to signaling connections.
type Handler struct {
	router   *Router
	presence *presence.Registry
	upgrader websocket.Upgrader
	cfg      config.WSConfig

	pingEvery time.Duration
	pongWait  time.Duration
}

// NewHandler builds the websocket endpoint. With allowAnyOrigin false only
// the listed browser origins may connect.
func NewHandler(router *Router, reg *presence.Registry, cfg config.WSConfig, allowAnyOrigin bool, origins []string) *Handler {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	return &Handler{
		router:   router,
		presence: reg,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin: func(r *http.Request) bool {
				if allowAnyOrigin {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Non-browser clients.
					return true
				}
				_, ok := allowed[strings.TrimRight(origin, "/")]
				return ok
			},
		},
		pingEvery: pingPeriod,
		pongWait:  pongWait,
	}
}

// ServeWS must run behind auth.RequireAccessTokenOrQuery.
func (h *Handler) ServeWS(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": "unauthorized"})
		return
	}
	log := logger.FromGin(c)

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}

	conn := newWSConn(uuid.NewString(), ws, h.cfg.SendBuffer)
	log = log.With("conn_id", conn.ID(), "user_id", userID)
	peer := h.router.Connect(conn, userID)

	go conn.writePump(h.pingEvery)

	// The request context ends with the handler; cleanup must still run.
	ctx := context.WithoutCancel(c.Request.Context())
	defer func() {
		h.router.Disconnect(ctx, peer)
		conn.close()
	}()

	h.readPump(ctx, peer, conn, log)
}

func (h *Handler) readPump(ctx context.Context, p *Peer, conn *wsConn, log *slog.Logger) {
	ws := conn.ws
	if h.cfg.MaxMessageSize > 0 {
		ws.SetReadLimit(h.cfg.MaxMessageSize)
	}
	_ = ws.SetReadDeadline(time.Now().Add(h.pongWait))
	ws.SetPongHandler(func(string) error {
		_ = ws.SetReadDeadline(time.Now().Add(h.pongWait))
		if uid := p.UserID(); uid != "" {
			h.presence.Touch(ctx, uid, conn)
		}
		return nil
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn("websocket read failed", "err", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Debug("frame ignored", "err", err)
			continue
		}
		if err := h.router.Dispatch(ctx, p, env); err != nil {
			log.Warn("event rejected", "event", env.Event, "err", err)
			continue
		}
		if env.Event == EventDisconnect {
			return
		}
	}
}
