package room

import "sync"

// DefaultCapacity is the number of distinct users a room admits at once.
const DefaultCapacity = 2

// Tracker bounds concurrent membership per room. It is shared across rooms
// and guards itself; rooms never touch each other's entries.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	rooms    map[string]map[string]struct{}
}

// NewTracker returns a tracker admitting at most capacity distinct users per
// room. A capacity below 1 falls back to the default.
func NewTracker(capacity int) *Tracker {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Tracker{
		capacity: capacity,
		rooms:    make(map[string]map[string]struct{}),
	}
}

// Capacity returns the per-room limit.
func (t *Tracker) Capacity() int {
	return t.capacity
}

// TryAdmit registers userID in roomID. Re-admitting a present user succeeds
// without growing membership; otherwise admission succeeds only below
// capacity.
func (t *Tracker) TryAdmit(roomID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	users := t.rooms[roomID]
	if _, ok := users[userID]; ok {
		return true
	}
	if len(users) >= t.capacity {
		return false
	}
	if users == nil {
		users = make(map[string]struct{})
		t.rooms[roomID] = users
	}
	users[userID] = struct{}{}
	return true
}

// Release removes userID from roomID, dropping the room's entry when it
// empties. Releasing an absent user is a no-op.
func (t *Tracker) Release(roomID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.rooms[roomID]
	if !ok {
		return
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.rooms, roomID)
	}
}

// Count returns current membership of roomID.
func (t *Tracker) Count(roomID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms[roomID])
}
