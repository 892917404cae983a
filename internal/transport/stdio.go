package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/AltairaLabs/mcpchat/internal/types"
)

const maxLineSize = 4 << 20

// lineWriter writes one JSON document per line
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (w *lineWriter) SendJSON(_ context.Context, message any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(message)
}

// StdioServer serves a single session over newline-delimited JSON
type StdioServer struct {
	dispatcher Dispatcher
	conns      *ConnectionManager
	sessionID  string
	userEmail  string
	logger     *slog.Logger
}

// NewStdioServer creates a stdio server for one session
func NewStdioServer(dispatcher Dispatcher, conns *ConnectionManager, sessionID, userEmail string, logger *slog.Logger) *StdioServer {
	if logger == nil {
		logger = slog.Default()
	}
	if conns == nil {
		conns = NewConnectionManager()
	}
	return &StdioServer{
		dispatcher: dispatcher,
		conns:      conns,
		sessionID:  sessionID,
		userEmail:  userEmail,
		logger:     logger.With("component", "stdio"),
	}
}

// Serve reads messages from in until EOF or ctx ends. Events are written to out.
func (s *StdioServer) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	if _, err := s.dispatcher.OpenSession(ctx, s.sessionID, s.userEmail); err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	defer s.dispatcher.CloseSession(s.sessionID)

	conn := &lineWriter{enc: json.NewEncoder(out)}
	s.conns.Register(s.sessionID, conn)
	defer s.conns.Unregister(s.sessionID, conn)
	s.logger.InfoContext(ctx, "Serving chat over stdio", "session_id", s.sessionID)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			if err := s.dispatcher.Dispatch(ctx, conn, s.sessionID, line); err != nil {
				s.logger.WarnContext(ctx, "Rejected inbound message", "error", err)
				_ = conn.SendJSON(ctx, types.ErrorEvent{Type: types.EventError, Message: err.Error()})
			}
		}
	}
}
