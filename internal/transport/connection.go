// Package transport carries chat messages between clients and the orchestrator
// over WebSocket or stdio JSON lines.
package transport

import (
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/AltairaLabs/mcpchat/internal/types"
)

// Dispatcher is the orchestrator surface a transport drives
type Dispatcher interface {
	OpenSession(ctx context.Context, sessionID, userEmail string) (*types.Session, error)
	Dispatch(ctx context.Context, conn types.ChatConnection, sessionID string, raw []byte) error
	CloseSession(sessionID string) int
}

// ChannelConnection implements types.ChatConnection by writing JSON to a channel.
// This is useful for testing and for buffered event delivery.
type ChannelConnection struct {
	ch chan<- string
}

// NewChannelConnection creates a connection that writes JSON-encoded events to ch
func NewChannelConnection(ch chan<- string) *ChannelConnection {
	return &ChannelConnection{ch: ch}
}

// SendJSON marshals message and sends it to the channel, or gives up when ctx ends
func (c *ChannelConnection) SendJSON(ctx context.Context, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	select {
	case c.ch <- string(data):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectionManager tracks the live connection of each session
type ConnectionManager struct {
	conns map[string]types.ChatConnection
	mu    sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]types.ChatConnection),
	}
}

// Register binds conn to sessionID and returns the connection it replaced, if any
func (cm *ConnectionManager) Register(sessionID string, conn types.ChatConnection) types.ChatConnection {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	prev := cm.conns[sessionID]
	cm.conns[sessionID] = conn
	return prev
}

// Get retrieves the connection of a session
func (cm *ConnectionManager) Get(sessionID string) (types.ChatConnection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	conn, ok := cm.conns[sessionID]
	return conn, ok
}

// Unregister removes the session's connection if it is still conn. It reports
// whether the entry was removed.
func (cm *ConnectionManager) Unregister(sessionID string, conn types.ChatConnection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.conns[sessionID] != conn {
		return false
	}
	delete(cm.conns, sessionID)
	return true
}

// SessionIDs returns the sessions with a live connection
func (cm *ConnectionManager) SessionIDs() []string {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	ids := make([]string, 0, len(cm.conns))
	for id := range cm.conns {
		ids = append(ids, id)
	}
	return ids
}

// Count returns the number of live connections
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// Broadcast sends message to every live connection and returns how many accepted it
func (cm *ConnectionManager) Broadcast(ctx context.Context, message any) int {
	cm.mu.RLock()
	conns := make([]types.ChatConnection, 0, len(cm.conns))
	for _, c := range cm.conns {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()

	sent := 0
	for _, c := range conns {
		if c.SendJSON(ctx, message) == nil {
			sent++
		}
	}
	return sent
}

// CloseAll closes every connection that supports it
func (cm *ConnectionManager) CloseAll() {
	cm.mu.Lock()
	conns := cm.conns
	cm.conns = make(map[string]types.ChatConnection)
	cm.mu.Unlock()

	for _, c := range conns {
		if closer, ok := c.(io.Closer); ok {
			_ = closer.Close()
		}
	}
}
