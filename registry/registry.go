// Package registry tracks which users are connected through which sessions.
//
// The registry keeps two maps: a forward map from user id to that user's
// live sessions, and a reverse map from session id to user id.  Two
// containers instead of one is deliberate: it buys constant-time lookup in
// either direction, at the price of keeping them in step — every mutation
// updates both under the same mutex, so the pair can never diverge.
package registry

import (
	"sync"
	"time"
)

// SessionInfo is the registry's record of one live session.
type SessionInfo struct {
	SessionID    string
	IP           string
	LastActivity time.Time
}

// ConnectionRegistry is the process-wide index of online users.
//
// Concurrency model: a single mutex guards both maps; every public method
// takes it.  No I/O happens under the lock.
type ConnectionRegistry struct {
	mu sync.Mutex

	// userSessions maps user id -> session id -> info.
	userSessions map[string]map[string]*SessionInfo

	// sessionToUser maps session id -> user id.
	sessionToUser map[string]string
}

// New creates an empty ConnectionRegistry.
func New() *ConnectionRegistry {
	return &ConnectionRegistry{
		userSessions:  make(map[string]map[string]*SessionInfo),
		sessionToUser: make(map[string]string),
	}
}

// Add records a connection for userID with the given session id and client
// address.
func (r *ConnectionRegistry) Add(userID, sessionID, ip string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.userSessions[userID]
	if !ok {
		sessions = make(map[string]*SessionInfo)
		r.userSessions[userID] = sessions
	}
	sessions[sessionID] = &SessionInfo{
		SessionID:    sessionID,
		IP:           ip,
		LastActivity: time.Now(),
	}
	r.sessionToUser[sessionID] = userID
}

// Remove deletes the (userID, sessionID) connection.  When the user's last
// session goes away the user entry is removed with it, so IsOnline and
// OnlineUsers never observe a user with an empty session set.
func (r *ConnectionRegistry) Remove(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(userID, sessionID)
}

func (r *ConnectionRegistry) removeLocked(userID, sessionID string) {
	if sessions, ok := r.userSessions[userID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.userSessions, userID)
		}
	}
	delete(r.sessionToUser, sessionID)
}

// IsOnline reports whether userID has at least one live session.
func (r *ConnectionRegistry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.userSessions[userID]
	return ok
}

// OnlineUsers returns the ids of every user with at least one live session.
func (r *ConnectionRegistry) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	users := make([]string, 0, len(r.userSessions))
	for userID := range r.userSessions {
		users = append(users, userID)
	}
	return users
}

// OnlineCount returns the number of users with at least one live session.
func (r *ConnectionRegistry) OnlineCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.userSessions)
}

// SessionCount returns the number of live sessions for userID.
func (r *ConnectionRegistry) SessionCount(userID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.userSessions[userID])
}

// UserOf returns the user id owning sessionID, if any.
func (r *ConnectionRegistry) UserOf(sessionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.sessionToUser[sessionID]
	return userID, ok
}

// Touch advances the session's last-activity timestamp.  Unknown sessions
// are ignored.
func (r *ConnectionRegistry) Touch(userID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sessions, ok := r.userSessions[userID]; ok {
		if info, ok := sessions[sessionID]; ok {
			info.LastActivity = time.Now()
		}
	}
}

// SweepExpired removes every session whose last activity is older than
// timeout and returns the number removed.  The walk and the removals happen
// under one lock acquisition, so a sweep cannot interleave with a
// concurrent Add for the same session.
func (r *ConnectionRegistry) SweepExpired(timeout time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	type pair struct{ user, session string }
	var expired []pair
	for userID, sessions := range r.userSessions {
		for sessionID, info := range sessions {
			if now.Sub(info.LastActivity) > timeout {
				expired = append(expired, pair{userID, sessionID})
			}
		}
	}
	for _, p := range expired {
		r.removeLocked(p.user, p.session)
	}
	return len(expired)
}
