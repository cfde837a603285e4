package comms

import (
	"sync"

	"github.com/google/uuid"
)

// boundSession pins an HTTP session to exactly the agent that completed
// the handshake; nothing in a request body or query string can move a
// session onto a different agent id.
type boundSession struct {
	AgentID string
	TeamID  string
}

type sessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]boundSession
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{sessions: make(map[string]boundSession)}
}

func (r *sessionRegistry) create(agentID, teamID string) string {
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = boundSession{AgentID: agentID, TeamID: teamID}
	r.mu.Unlock()
	return id
}

func (r *sessionRegistry) resolve(sessionID string) (boundSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[sessionID]
	return s, ok
}
