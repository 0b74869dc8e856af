package relay

import (
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Registry maps users to their live sessions. It carries no authority: it only
// decides where pushes go.
type Registry struct {
	mu        sync.RWMutex
	byUser    map[int64]map[uuid.UUID]*Session // user -> session id -> session
	bySession map[uuid.UUID]int64              // session id -> user
}

func NewRegistry() *Registry {
	return &Registry{
		byUser:    make(map[int64]map[uuid.UUID]*Session),
		bySession: make(map[uuid.UUID]int64),
	}
}

// Add registers s under userID. A session already registered under another user
// is moved. first reports whether s is the user's only session now; vacated is
// the previous user when the move left them with no session, 0 otherwise.
func (r *Registry) Add(userID int64, s *Session) (first bool, vacated int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.bySession[s.ID]; ok {
		if prev == userID {
			return false, 0
		}
		if r.removeLocked(prev, s.ID) {
			vacated = prev
		}
	}

	sessions := r.byUser[userID]
	if sessions == nil {
		sessions = make(map[uuid.UUID]*Session)
		r.byUser[userID] = sessions
	}
	sessions[s.ID] = s
	r.bySession[s.ID] = userID

	return len(sessions) == 1, vacated
}

// Remove unregisters s. ok is false when s was not registered, which makes
// repeated removal a no-op. last reports whether userID has no session left.
func (r *Registry) Remove(s *Session) (userID int64, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok = r.bySession[s.ID]
	if !ok {
		return 0, false, false
	}
	return userID, r.removeLocked(userID, s.ID), true
}

func (r *Registry) removeLocked(userID int64, sessionID uuid.UUID) bool {
	delete(r.bySession, sessionID)
	sessions, ok := r.byUser[userID]
	if !ok {
		return false
	}
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.byUser, userID)
		return true
	}
	return false
}

// SessionsFor returns the distinct live sessions of the given users.
func (r *Registry) SessionsFor(userIDs ...int64) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, id := range lo.Uniq(userIDs) {
		out = append(out, lo.Values(r.byUser[id])...)
	}
	return out
}

func (r *Registry) IsOnline(userID int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Online lists users with at least one session, in no particular order.
func (r *Registry) Online() []int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.byUser)
}

// Len is the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession)
}
