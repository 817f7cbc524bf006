package presence

import (
	"sort"
	"time"

	"chatsync/pkg/chat"
)

// RefreshInterval is how often the engine requests a fresh snapshot for the
// active room while one is joined. Compensates for missed delta events.
const RefreshInterval = 10 * time.Second

// Tracker maintains the online-user set for the active room. Snapshots
// replace it wholesale, deltas patch a single entry. Updates scoped to a
// room that is not active are ignored by identity, not by timing.
type Tracker struct {
	roomID int
	users  map[int]chat.User
	stale  bool
}

func NewTracker() *Tracker {
	return &Tracker{users: make(map[int]chat.User)}
}

// SetRoom scopes the tracker to a new room and clears all entries.
func (t *Tracker) SetRoom(roomID int) {
	t.roomID = roomID
	t.users = make(map[int]chat.User)
	t.stale = false
}

// Clear drops the scope and all entries.
func (t *Tracker) Clear() {
	t.SetRoom(0)
}

// ApplySnapshot replaces the set with an authoritative member list.
// A snapshot for a different room (a stale response racing a room switch)
// is ignored and reported false.
func (t *Tracker) ApplySnapshot(roomID int, users []chat.User) bool {
	if roomID != t.roomID || t.roomID == 0 {
		return false
	}
	t.users = make(map[int]chat.User, len(users))
	for _, u := range users {
		t.users[u.ID] = u
	}
	t.stale = false
	return true
}

// ApplyDelta patches a single user's online flag. Users not present in the
// set stay unknown; no entry is synthesized from a bare status change.
func (t *Tracker) ApplyDelta(userID int, online bool) bool {
	u, ok := t.users[userID]
	if !ok {
		return false
	}
	u.IsOnline = online
	t.users[userID] = u
	return true
}

// MarkStale flags the set as non-authoritative, called when the channel
// drops. Entries are kept for display but must not be trusted until the
// next snapshot.
func (t *Tracker) MarkStale() {
	t.stale = true
}

// Stale reports whether the set is awaiting a post-reconnect snapshot.
func (t *Tracker) Stale() bool { return t.stale }

// RoomID returns the room the set is scoped to, 0 when none.
func (t *Tracker) RoomID() int { return t.roomID }

// Users returns the set ordered by display name for stable rendering.
func (t *Tracker) Users() []chat.User {
	out := make([]chat.User, 0, len(t.users))
	for _, u := range t.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name() != out[j].Name() {
			return out[i].Name() < out[j].Name()
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len returns the number of tracked users.
func (t *Tracker) Len() int { return len(t.users) }
