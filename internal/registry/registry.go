package registry

import (
	"sync"
)

// Session is the ephemeral record for one live connection that has
// joined a room. It exists only in process memory.
type Session struct {
	ID     string
	UserID string
	RoomID string
}

// Registry tracks which sessions are in which rooms. The rooms map is a
// derived index over sessions: a session id appears in the set for room
// R exactly when its session record says RoomID == R. Empty sets are
// pruned immediately.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	rooms    map[string]map[string]struct{}
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		rooms:    make(map[string]map[string]struct{}),
	}
}

// Attach puts a session into a room, implicitly leaving any previous
// room first. On a room switch it returns the session's record as it
// was before the switch, so callers can report who left the old room
// even when the join changes identity. Attaching to the room the
// session is already in only refreshes the identity fields.
func (r *Registry) Attach(sessionID, userID, roomID string) (prev Session, switched bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[sessionID]; ok && sess.RoomID != "" && sess.RoomID != roomID {
		prev = sess
		switched = true
		r.removeFromRoom(sessionID, sess.RoomID)
	}

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[roomID] = members
	}
	members[sessionID] = struct{}{}

	r.sessions[sessionID] = Session{ID: sessionID, UserID: userID, RoomID: roomID}
	return prev, switched
}

// Detach removes the session entirely and returns its last record.
func (r *Registry) Detach(sessionID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	if sess.RoomID != "" {
		r.removeFromRoom(sessionID, sess.RoomID)
	}
	delete(r.sessions, sessionID)
	return sess, true
}

// removeFromRoom must be called with the lock held.
func (r *Registry) removeFromRoom(sessionID, roomID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, sessionID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
}

func (r *Registry) SessionOf(sessionID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sessionID]
	return sess, ok
}

// MembersOf returns the session ids currently in a room.
func (r *Registry) MembersOf(roomID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) MemberCount(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// Counts reports the number of joined sessions and non-empty rooms.
func (r *Registry) Counts() (sessions, rooms int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions), len(r.rooms)
}
