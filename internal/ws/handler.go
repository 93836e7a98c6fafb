package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"storefront-chat/internal/auth"
	"storefront-chat/internal/models"
	"storefront-chat/internal/observability"
)

// ThreadAccess decides whether a user may join a thread's group.
type ThreadAccess interface {
	IsParticipant(ctx context.Context, threadID, userID int) (bool, error)
}

// Options tune connection behaviour.
type Options struct {
	SendBuffer      int
	PingInterval    time.Duration
	PongTimeout     time.Duration
	TypingPerSecond int
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= o.PingInterval {
		o.PongTimeout = 3 * o.PingInterval
	}
	if o.TypingPerSecond <= 0 {
		o.TypingPerSecond = 5
	}
	return o
}

// Handler upgrades HTTP requests and runs the signal loop of each connection.
type Handler struct {
	hub    *Hub
	auth   auth.Provider
	access ThreadAccess
	opts   Options
}

// NewHandler constructs a Handler.
func NewHandler(hub *Hub, provider auth.Provider, access ThreadAccess, opts Options) *Handler {
	return &Handler{hub: hub, auth: provider, access: access, opts: opts.withDefaults()}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection. The client must send an auth signal before anything else is honored.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("storefront-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	conn, err := upgrader.Upgrade(c.Writer, c.Request.WithContext(ctx), nil)
	if err != nil {
		return
	}

	info := connInfoFromRequest(c.Request, span.SpanContext().TraceID().String())
	if requestID := c.GetString("request_id"); requestID != "" {
		info.RequestID = requestID
	}
	// the request context ends when Handle returns
	connCtx := trace.ContextWithSpanContext(context.Background(), span.SpanContext())
	connCtx = observability.WithRequestID(connCtx, info.RequestID)

	client := newClient(connCtx, conn, info, h.opts.SendBuffer, h.opts.TypingPerSecond)
	h.hub.Register(client)

	go client.writePump(h.opts.PingInterval)
	go func() {
		reason := client.readPump(h.opts.PongTimeout, h.handleSignal)
		h.hub.Unregister(client, reason)
	}()
}

func (h *Handler) handleSignal(c *Client, sig Signal) {
	observability.IncWSEvent("signal_" + sig.Type)

	if sig.Type == SignalPing {
		h.reply(c, models.NewPongEvent())
		return
	}
	if sig.Type == SignalAuth {
		h.authenticate(c, sig)
		return
	}
	if c.UserID() == 0 {
		observability.IncWSEvent("signal_ignored")
		return
	}

	switch sig.Type {
	case SignalThreadJoin:
		threadID, ok := sig.threadID()
		if !ok {
			return
		}
		allowed, err := h.access.IsParticipant(c.ctx, threadID, c.UserID())
		if err != nil {
			log.Warn().Err(err).Int("thread_id", threadID).Msg("thread join check failed")
			return
		}
		if allowed {
			h.hub.JoinThread(c, threadID)
		}
	case SignalThreadLeave:
		if threadID, ok := sig.threadID(); ok {
			h.hub.LeaveThread(c, threadID)
		}
	case SignalTyping:
		threadID, ok := sig.threadID()
		if !ok || !h.hub.InThread(c, threadID) {
			return
		}
		if !c.typing.Allow() {
			observability.IncWSEvent("typing_throttled")
			return
		}
		h.hub.BroadcastThread(threadID, models.NewTypingEvent(threadID, c.UserID()), c.ID())
	default:
		observability.IncWSEvent("signal_unknown")
	}
}

func (h *Handler) authenticate(c *Client, sig Signal) {
	if c.UserID() != 0 {
		return
	}
	identity, err := h.auth.Resolve(sig.token())
	if err != nil {
		observability.IncWSEvent("auth_failed")
		log.Debug().Err(err).Str("conn_id", c.ID()).Msg("websocket auth rejected")
		return
	}
	h.hub.Authenticate(c, identity.UserID)
}

func (h *Handler) reply(c *Client, event models.Event) {
	h.hub.deliver([]*Client{c}, event)
}
