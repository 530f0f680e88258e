package ws

import "sync"

// Manager is the process-wide map from user id to that user's live session
// handle, used for directed delivery.
//
// Put overwrites: a reconnecting user replaces the prior handle.  Teardown
// therefore removes through RemoveSession, which compares the stored handle
// against the caller before deleting — an old session's teardown must never
// evict a fresh reconnection.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Put stores s as the live handle for userID, replacing any prior handle.
func (m *Manager) Put(userID string, s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = s
}

// Get returns the live handle for userID, or nil when the user has no
// session on this gateway.
func (m *Manager) Get(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[userID]
}

// RemoveSession deletes userID's entry only if it still points at s, and
// reports whether a deletion happened.
func (m *Manager) RemoveSession(userID string, s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[userID] != s {
		return false
	}
	delete(m.sessions, userID)
	return true
}

// Count returns the number of users with a live session handle.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Users returns the ids of every user with a live session handle.
func (m *Manager) Users() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make([]string, 0, len(m.sessions))
	for userID := range m.sessions {
		users = append(users, userID)
	}
	return users
}

// Cleanup drops every handle.  Used at shutdown after the sessions
// themselves have been closed.
func (m *Manager) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*Session)
}
