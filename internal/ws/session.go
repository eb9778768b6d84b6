package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"devconnector-chat/internal/models"
	"devconnector-chat/internal/observability"
)

// State is the lifecycle stage of a Session.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

var ErrSessionClosed = errors.New("session closed")

// Dispatcher handles decoded inbound frames of a session.
type Dispatcher interface {
	Dispatch(ctx context.Context, session *Session, frame models.InboundFrame)
}

// SessionOptions bounds per-session queues.
type SessionOptions struct {
	SendBuffer    int
	InboundBuffer int
	ReadLimit     int64
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.InboundBuffer <= 0 {
		o.InboundBuffer = 32
	}
	return o
}

// Session is one accepted websocket connection. Frames are dispatched one
// at a time in receive order; outbound frames are written by a single
// writer goroutine.
type Session struct {
	conn       *websocket.Conn
	info       ConnInfo
	user       models.User
	registry   Registry
	dispatcher Dispatcher

	ctx     context.Context
	cancel  context.CancelFunc
	send    chan []byte
	inbound chan []byte
	done    chan struct{}

	state     atomic.Int32
	closeOnce sync.Once
	onClose   func(prev State, reason string)
}

// NewSession wraps conn in the Connecting state.
func NewSession(ctx context.Context, conn *websocket.Conn, info ConnInfo, registry Registry, dispatcher Dispatcher, opts SessionOptions) *Session {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(ctx)
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	return &Session{
		conn:       conn,
		info:       info,
		registry:   registry,
		dispatcher: dispatcher,
		ctx:        ctx,
		cancel:     cancel,
		send:       make(chan []byte, opts.SendBuffer),
		inbound:    make(chan []byte, opts.InboundBuffer),
		done:       make(chan struct{}),
	}
}

// ID identifies the connection within its group.
func (s *Session) ID() string { return s.info.ConnID }

// User is the authenticated identity; empty before Authenticate.
func (s *Session) User() models.User { return s.user }

func (s *Session) Info() ConnInfo { return s.info }

func (s *Session) State() State { return State(s.state.Load()) }

// Authenticate binds the session to user, queues the identity frame and
// joins the user's group. The identity frame is queued before joining so
// it is always the first frame the client reads.
func (s *Session) Authenticate(ctx context.Context, user models.User) error {
	s.user = user
	s.info.UserID = user.ID
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateAuthenticated)) {
		return ErrSessionClosed
	}
	if !s.SendJSON(models.IdentityFrame{User: user}) {
		return ErrSessionClosed
	}
	return s.registry.Join(ctx, user.ID, s)
}

// Send queues payload for writing. It never blocks.
func (s *Session) Send(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// SendJSON encodes v and queues it.
func (s *Session) SendJSON(v any) bool {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("encode frame failed", "conn_id", s.info.ConnID, "err", err)
		return false
	}
	return s.Send(payload)
}

// Run serves the connection until it closes.
func (s *Session) Run() {
	go s.writePump()
	go s.dispatchLoop()
	s.Close(s.readPump())
}

// Close moves the session to Closed. Only the first call has effect: it
// leaves the registry, cancels in-flight work and closes the transport.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		prev := State(s.state.Swap(int32(StateClosed)))
		s.cancel()
		close(s.done)
		if prev == StateAuthenticated {
			if err := s.registry.Leave(context.Background(), s.user.ID, s); err != nil {
				slog.Warn("registry leave failed", "user_id", s.user.ID, "conn_id", s.info.ConnID, "err", err)
			}
		}
		_ = s.conn.Close()
		if s.onClose != nil {
			s.onClose(prev, reason)
		}
	})
}

func (s *Session) readPump() string {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "client closed"
			}
			return err.Error()
		}
		select {
		case s.inbound <- data:
		case <-s.done:
			return "closed"
		}
	}
}

func (s *Session) dispatchLoop() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.inbound:
			s.handleFrame(data)
		}
	}
}

func (s *Session) handleFrame(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("action handler panicked", "conn_id", s.info.ConnID, "panic", r)
		}
	}()

	var frame models.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Action == "" {
		observability.IncWSEvent("ws_malformed_frame")
		slog.Debug("ignoring malformed frame", "conn_id", s.info.ConnID, "err", err)
		return
	}
	s.dispatcher.Dispatch(s.ctx, s, frame)
}

func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.Close("write: " + err.Error())
				return
			}
		}
	}
}
