package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/AltairaLabs/mcpchat/internal/types"
)

// Default WebSocket settings
const (
	DefaultUserHeader = "X-User-Email"
	writeTimeout      = 10 * time.Second
	pongTimeout       = 60 * time.Second
	pingInterval      = pongTimeout * 9 / 10
	maxMessageSize    = 4 << 20
)

// ErrConnectionClosed is returned when sending on a closed connection
var ErrConnectionClosed = errors.New("connection closed")

// wsConnection serializes writes to one WebSocket
type wsConnection struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (c *wsConnection) SendJSON(_ context.Context, message any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(message)
}

func (c *wsConnection) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// Close closes the socket; later sends fail with ErrConnectionClosed
func (c *wsConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

// WebSocketOptions configures a WebSocketServer
type WebSocketOptions struct {
	// UserHeader names the header carrying the authenticated user's email
	UserHeader string
	// AllowedOrigins restricts browser origins; empty allows any
	AllowedOrigins []string
	Logger         *slog.Logger
}

// WebSocketServer upgrades HTTP requests to chat sessions
type WebSocketServer struct {
	dispatcher Dispatcher
	conns      *ConnectionManager
	upgrader   websocket.Upgrader
	userHeader string
	logger     *slog.Logger
}

// NewWebSocketServer creates a WebSocket chat endpoint
func NewWebSocketServer(dispatcher Dispatcher, conns *ConnectionManager, opts WebSocketOptions) *WebSocketServer {
	if opts.UserHeader == "" {
		opts.UserHeader = DefaultUserHeader
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if conns == nil {
		conns = NewConnectionManager()
	}
	s := &WebSocketServer{
		dispatcher: dispatcher,
		conns:      conns,
		userHeader: opts.UserHeader,
		logger:     opts.Logger.With("component", "websocket"),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(opts.AllowedOrigins),
	}
	return s
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// Connections returns the connection manager
func (s *WebSocketServer) Connections() *ConnectionManager {
	return s.conns
}

// ServeHTTP handles one chat connection. The session id comes from the
// session_id query parameter; a new one is generated when absent.
func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := r.Header.Get(s.userHeader)
	if user == "" {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx := r.Context()
	if _, err := s.dispatcher.OpenSession(ctx, sessionID, user); err != nil {
		s.logger.WarnContext(ctx, "Failed to open session",
			"session_id", sessionID,
			"user_email", user,
			"error", err,
		)
		http.Error(w, "session unavailable", http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WarnContext(ctx, "WebSocket upgrade failed", "error", err)
		s.dispatcher.CloseSession(sessionID)
		return
	}
	conn := &wsConnection{conn: ws}

	if prev := s.conns.Register(sessionID, conn); prev != nil {
		if closer, ok := prev.(*wsConnection); ok {
			_ = closer.Close()
		}
	}
	s.logger.InfoContext(ctx, "Chat connection opened", "session_id", sessionID, "user_email", user)

	s.serve(ctx, sessionID, conn)

	_ = conn.Close()
	// A reconnect may already own the session
	if s.conns.Unregister(sessionID, conn) {
		s.dispatcher.CloseSession(sessionID)
	}
	s.logger.InfoContext(ctx, "Chat connection closed", "session_id", sessionID)
}

func (s *WebSocketServer) serve(ctx context.Context, sessionID string, conn *wsConnection) {
	ws := conn.conn
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := conn.ping(); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.WarnContext(ctx, "WebSocket read failed", "session_id", sessionID, "error", err)
			}
			return
		}
		if err := s.dispatcher.Dispatch(ctx, conn, sessionID, data); err != nil {
			s.logger.WarnContext(ctx, "Rejected inbound message", "session_id", sessionID, "error", err)
			_ = conn.SendJSON(ctx, types.ErrorEvent{Type: types.EventError, Message: err.Error()})
		}
	}
}
