package mcp

import (
	"sync"

	"github.com/sigmoyd/flowcraft/internal/session"
)

// SessionRegistry maps MCP client session IDs to flow sessions.
// A flow session is created on the first tool call of a client.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session // client session ID → flow session
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]*session.Session)}
}

// GetOrCreate returns the flow session of a client, creating it with
// create when the client has none.
func (r *SessionRegistry) GetOrCreate(clientID string, create func() *session.Session) *session.Session {
	r.mu.RLock()
	s, ok := r.sessions[clientID]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[clientID]; ok {
		return s
	}
	s = create()
	r.sessions[clientID] = s
	return s
}

// ClientFor returns the client session ID owning a flow session.
func (r *SessionRegistry) ClientFor(flowID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for cid, s := range r.sessions {
		if s.ID() == flowID {
			return cid, true
		}
	}
	return "", false
}

// Remove detaches the flow session of a client and returns it.
// Called when a client disconnects.
func (r *SessionRegistry) Remove(clientID string) (*session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[clientID]
	delete(r.sessions, clientID)
	return s, ok
}

// Len returns the number of attached clients.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
