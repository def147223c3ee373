package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"bookdesk/internal/services"
	"bookdesk/internal/transport/httpdto"
	"bookdesk/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// PresenceTracker records which users hold a live session.
type PresenceTracker interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string) error
	Heartbeat(ctx context.Context, userID string) error
}

type clientFrame struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Handler struct {
	auth     *services.AuthService
	hub      *Hub
	authz    *ChannelAuthorizer
	presence PresenceTracker
	log      *logger.Logger
}

func NewHandler(auth *services.AuthService, hub *Hub, authz *ChannelAuthorizer, presence PresenceTracker, log *logger.Logger) *Handler {
	return &Handler{auth: auth, hub: hub, authz: authz, presence: presence, log: logger.OrNop(log).Named("websocket")}
}

// Connect upgrades an authenticated request. The token comes from the
// token query parameter or a bearer header.
func (h *Handler) Connect(c *gin.Context) {
	claims, err := h.auth.ParseAccessToken(extractToken(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}
	userID, err := uuid.Parse(strings.TrimSpace(claims.UserID))
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	client := NewClient(conn, userID.String(), claims.Role)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.hub.Register(client)
	h.setPresence(ctx, client, true)
	go client.WriteLoop(ctx)

	h.readLoop(ctx, client, userID)

	h.hub.Unregister(client)
	h.setPresence(context.WithoutCancel(ctx), client, false)
}

func (h *Handler) readLoop(ctx context.Context, client *Client, userID uuid.UUID) {
	conn := client.Conn
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		if h.presence != nil {
			_ = h.presence.Heartbeat(ctx, client.UserID)
		}
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.reply(client, Frame{Type: "error", Error: "malformed frame"})
			continue
		}
		switch frame.Action {
		case "subscribe":
			ok, err := h.authz.CanSubscribe(ctx, userID, client.Role, frame.Channel)
			if err != nil || !ok {
				h.reply(client, Frame{Type: "error", Channel: frame.Channel, Error: "forbidden"})
				continue
			}
			h.hub.Subscribe(client, frame.Channel)
			h.reply(client, Frame{Type: "subscribed", Channel: frame.Channel})
		case "unsubscribe":
			h.hub.Unsubscribe(client, frame.Channel)
			h.reply(client, Frame{Type: "unsubscribed", Channel: frame.Channel})
		case "ping":
			h.reply(client, Frame{Type: "pong"})
		default:
			h.reply(client, Frame{Type: "error", Error: "unknown action"})
		}
	}
}

func (h *Handler) reply(client *Client, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	client.SendMessage(data)
}

func (h *Handler) setPresence(ctx context.Context, client *Client, online bool) {
	if h.presence == nil {
		return
	}
	var err error
	if online {
		err = h.presence.SetOnline(ctx, client.UserID)
	} else if !h.hub.connectedExcept(client.UserID, client.ID) {
		err = h.presence.SetOffline(ctx, client.UserID)
	}
	if err != nil {
		h.log.Warn("presence update failed", zap.String("user_id", client.UserID), zap.Bool("online", online), zap.Error(err))
	}
}

func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
