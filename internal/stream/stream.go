package stream

import (
	"sort"

	"github.com/rs/zerolog"

	"chatsync/pkg/chat"
)

// LoadState tracks the lifecycle of the history load for the current room.
// An empty history is a valid, distinct state from a failed fetch.
type LoadState int

const (
	// LoadIdle means no room is selected.
	LoadIdle LoadState = iota

	// LoadPending means a history fetch is in flight.
	LoadPending

	// LoadReady means the stream holds the authoritative history, possibly
	// empty.
	LoadReady

	// LoadFailed means the fetch failed; existing state was discarded on
	// room entry and a retry can be offered.
	LoadFailed
)

func (s LoadState) String() string {
	switch s {
	case LoadIdle:
		return "idle"
	case LoadPending:
		return "pending"
	case LoadReady:
		return "ready"
	case LoadFailed:
		return "failed"
	}
	return "unknown"
}

// Stream holds the ordered, deduplicated message sequence for exactly one
// room. Order is (timestamp, id) ascending, a deterministic total order
// independent of event arrival order. All methods must be called from the
// engine loop.
type Stream struct {
	log zerolog.Logger

	ownID  int
	roomID int
	gen    int

	msgs  []chat.Message
	ids   map[int64]struct{}
	state LoadState
	err   error
}

func New(ownID int, log zerolog.Logger) *Stream {
	return &Stream{
		log:   log,
		ownID: ownID,
		ids:   make(map[int64]struct{}),
		state: LoadIdle,
	}
}

// Reset discards the whole stream and scopes it to a new room, returning the
// load generation. A history result carrying an older generation is stale
// and must be dropped on arrival.
func (s *Stream) Reset(roomID int) int {
	s.roomID = roomID
	s.msgs = nil
	s.ids = make(map[int64]struct{})
	s.err = nil
	if roomID == 0 {
		s.state = LoadIdle
	} else {
		s.state = LoadPending
	}
	s.gen++
	return s.gen
}

// Retry re-arms a failed load for the current room, returning the new
// generation, or 0 when there is nothing to retry.
func (s *Stream) Retry() int {
	if s.roomID == 0 || s.state != LoadFailed {
		return 0
	}
	s.err = nil
	s.state = LoadPending
	s.gen++
	return s.gen
}

// RoomID returns the room this stream is scoped to, 0 when idle.
func (s *Stream) RoomID() int { return s.roomID }

// State returns the current load state.
func (s *Stream) State() LoadState { return s.state }

// Err returns the load failure, nil unless State is LoadFailed.
func (s *Stream) Err() error { return s.err }

// ReplaceFromHistory installs a bulk history load wholesale. Records with a
// missing id are skipped with a warning rather than failing the whole load.
// Results for a stale generation or a different room are dropped silently
// and the method reports false.
func (s *Stream) ReplaceFromHistory(gen, roomID int, msgs []chat.Message) bool {
	if gen != s.gen || roomID != s.roomID {
		return false
	}

	s.msgs = make([]chat.Message, 0, len(msgs))
	s.ids = make(map[int64]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ID == 0 {
			s.log.Warn().Int("room_id", roomID).Msg("skipping history record with missing id")
			continue
		}
		if _, dup := s.ids[m.ID]; dup {
			continue
		}
		m.IsOwn = m.UserID == s.ownID
		s.msgs = append(s.msgs, m)
		s.ids[m.ID] = struct{}{}
	}
	sort.SliceStable(s.msgs, func(i, j int) bool {
		return less(s.msgs[i], s.msgs[j])
	})

	s.state = LoadReady
	s.err = nil
	return true
}

// Fail records a history load failure. Stale results are dropped.
func (s *Stream) Fail(gen, roomID int, err error) bool {
	if gen != s.gen || roomID != s.roomID {
		return false
	}
	s.state = LoadFailed
	s.err = err
	return true
}

// Apply inserts a pushed message in timestamp order. A duplicate id, for
// example the echo of a message already delivered via history, collapses to
// the existing entry. dateBoundary reports whether the message starts a new
// calendar day relative to the entry before it.
func (s *Stream) Apply(m chat.Message) (inserted, dateBoundary bool) {
	if m.RoomID != s.roomID || s.roomID == 0 {
		return false, false
	}
	if m.ID == 0 {
		s.log.Warn().Int("room_id", m.RoomID).Msg("dropping pushed message with missing id")
		return false, false
	}
	if _, dup := s.ids[m.ID]; dup {
		return false, false
	}

	m.IsOwn = m.UserID == s.ownID
	i := sort.Search(len(s.msgs), func(i int) bool {
		return less(m, s.msgs[i])
	})
	s.msgs = append(s.msgs, chat.Message{})
	copy(s.msgs[i+1:], s.msgs[i:])
	s.msgs[i] = m
	s.ids[m.ID] = struct{}{}

	if i == 0 {
		return true, true
	}
	return true, !chat.SameDay(s.msgs[i-1].Timestamp, m.Timestamp)
}

// Remove deletes a message by id. Absence is a no-op, not an error: a delete
// event may race a room switch.
func (s *Stream) Remove(id int64) bool {
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	for i, m := range s.msgs {
		if m.ID == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			break
		}
	}
	return true
}

// Messages returns a copy of the ordered sequence.
func (s *Stream) Messages() []chat.Message {
	out := make([]chat.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// Len returns the number of messages held.
func (s *Stream) Len() int { return len(s.msgs) }

func less(a, b chat.Message) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}
