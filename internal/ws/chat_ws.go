package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"devconnector-chat/internal/middleware"
	"devconnector-chat/internal/observability"
	"devconnector-chat/internal/telemetry"
)

// HandlerOptions configures ChatWebSocketHandler.
type HandlerOptions struct {
	Session SessionOptions
	// AllowedOrigins lists accepted Origin hosts; empty accepts any origin.
	AllowedOrigins []string
}

// ChatWebSocketHandler authenticates and serves chat websocket connections.
type ChatWebSocketHandler struct {
	registry      Registry
	authenticator middleware.Authenticator
	dispatcher    Dispatcher
	events        telemetry.Publisher
	audit         *telemetry.AuditEmitter
	upgrader      websocket.Upgrader
	opts          HandlerOptions
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler. events and
// audit may be nil.
func NewChatWebSocketHandler(registry Registry, authenticator middleware.Authenticator, dispatcher Dispatcher, events telemetry.Publisher, audit *telemetry.AuditEmitter, opts HandlerOptions) *ChatWebSocketHandler {
	h := &ChatWebSocketHandler{
		registry:      registry,
		authenticator: authenticator,
		dispatcher:    dispatcher,
		events:        events,
		audit:         audit,
		opts:          opts,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// Handle authenticates the handshake, upgrades the connection and serves
// the session until it closes. A rejected handshake is answered with 401
// and never upgraded.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("devconnector-chat/ws").Start(c.Request.Context(), "ws.handshake")

	info := connInfoFromRequest(c.Request, span.SpanContext().TraceID().String())

	user, err := h.authenticator.Authenticate(ctx, middleware.CredentialFromRequest(c.Request))
	if err != nil {
		telemetry.RecordError(span, err)
		span.End()
		observability.IncWSEvent("ws_auth_rejected")
		h.publishEvent(ctx, "ws_auth_rejected", info, err.Error())
		h.audit.Emit(ctx, telemetry.AuditRecord{
			Level:     "WARN",
			Action:    "ws_auth_rejected",
			Text:      err.Error(),
			RequestID: info.RequestID,
			IP:        info.IP,
		})
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	info.UserID = user.ID
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		telemetry.RecordError(span, err)
		span.End()
		observability.IncWSEvent("ws_error")
		h.publishEvent(ctx, "ws_error", info, "upgrade: "+err.Error())
		return
	}

	session := NewSession(context.WithoutCancel(ctx), conn, info, h.registry, h.dispatcher, h.opts.Session)
	session.onClose = func(prev State, reason string) {
		if prev != StateAuthenticated {
			return
		}
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishEvent(context.Background(), "ws_disconnect", session.Info(), reason)
	}

	observability.IncWSActive()
	if err := session.Authenticate(ctx, user); err != nil {
		telemetry.RecordError(span, err)
		span.End()
		observability.IncWSEvent("ws_error")
		h.publishEvent(ctx, "ws_error", session.Info(), "join: "+err.Error())
		session.Close("join failed: " + err.Error())
		return
	}
	observability.IncWSEvent("ws_connect")
	h.publishEvent(ctx, "ws_connect", session.Info(), "")
	span.End()

	session.Run()
}

func (h *ChatWebSocketHandler) publishEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	if h.events == nil {
		return
	}
	envelope := observability.NewWSEvent(
		observability.WSEventDetail{
			Event:      event,
			ConnID:     info.ConnID,
			DurationMS: time.Since(info.ConnectedAt).Milliseconds(),
			Reason:     reason,
		},
		observability.Identity{UserID: info.UserID, DeviceID: info.DeviceID, IP: info.IP},
	)
	if err := h.events.Publish(ctx, observability.WSEventsRoutingKey, envelope, observability.BuildHeaders(info.RequestID, info.TraceID)); err != nil {
		observability.IncAMQPPublishError()
	}
}

func (h *ChatWebSocketHandler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if strings.EqualFold(u.Host, allowed) {
			return true
		}
	}
	return false
}
