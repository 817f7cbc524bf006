package room

import (
	"time"

	"github.com/rs/zerolog"

	"chatsync/pkg/chat"
)

// Session owns the single active-room identity. Every other component keys
// off it for validity checks rather than holding its own copy. Join and
// leave intents are fire-and-forget; the server cleans up membership on
// disconnect as a fallback.
type Session struct {
	log    zerolog.Logger
	sender chat.Sender

	active      chat.ActiveRoom
	hasActive   bool
	pendingJoin bool

	now func() time.Time
}

func NewSession(sender chat.Sender, log zerolog.Logger) *Session {
	return &Session{
		sender: sender,
		log:    log,
		now:    time.Now,
	}
}

// Join switches the session to roomID. Joining the already-active room is an
// idempotent no-op reported as chat.ErrDuplicateJoin. A different active
// room gets a leave intent first; its failure is non-fatal. The active room
// is set optimistically, but the history load is gated on the server's
// room_joined confirmation (see Confirm), not on a timing heuristic.
func (s *Session) Join(roomID int, roomName string) error {
	if s.hasActive && s.active.ID == roomID {
		return chat.ErrDuplicateJoin
	}

	if s.hasActive {
		if err := s.sender.Send(chat.IntentLeaveRoom, chat.LeaveRoomPayload{RoomID: s.active.ID}); err != nil {
			s.log.Debug().Err(err).Int("room_id", s.active.ID).Msg("leave intent not delivered")
		}
	}

	s.active = chat.ActiveRoom{ID: roomID, Name: roomName}
	s.hasActive = true
	s.pendingJoin = true

	if err := s.sender.Send(chat.IntentJoinRoom, chat.JoinRoomPayload{RoomID: roomID}); err != nil {
		// Keep the optimistic state; Rejoin re-asserts membership once
		// the channel comes back.
		s.log.Warn().Err(err).Int("room_id", roomID).Msg("join intent not delivered")
	}
	return nil
}

// Confirm handles the server's room_joined confirmation. It reports true
// exactly once per pending join of the active room, which is the signal to
// start the history load and presence refresh. Confirmations for other
// rooms, or repeats, report false.
func (s *Session) Confirm(roomID int) bool {
	if !s.hasActive || s.active.ID != roomID || !s.pendingJoin {
		return false
	}
	s.pendingJoin = false
	s.active.JoinedAt = s.now()
	return true
}

// Leave clears the active room and emits a leave intent.
func (s *Session) Leave() {
	if !s.hasActive {
		return
	}
	roomID := s.active.ID
	s.clear()
	if err := s.sender.Send(chat.IntentLeaveRoom, chat.LeaveRoomPayload{RoomID: roomID}); err != nil {
		s.log.Debug().Err(err).Int("room_id", roomID).Msg("leave intent not delivered")
	}
}

// ClearIf drops the active room without emitting a leave intent, used when
// the server deletes the room out from under us. Reports whether roomID was
// the active room.
func (s *Session) ClearIf(roomID int) bool {
	if !s.hasActive || s.active.ID != roomID {
		return false
	}
	s.clear()
	return true
}

// Rejoin re-asserts membership of the active room after a reconnect.
// Joining a room the server still considers us a member of is safe.
func (s *Session) Rejoin() {
	if !s.hasActive {
		return
	}
	s.pendingJoin = true
	if err := s.sender.Send(chat.IntentJoinRoom, chat.JoinRoomPayload{RoomID: s.active.ID}); err != nil {
		s.log.Warn().Err(err).Int("room_id", s.active.ID).Msg("rejoin intent not delivered")
	}
}

// Active returns the current room identity.
func (s *Session) Active() (chat.ActiveRoom, bool) {
	return s.active, s.hasActive
}

// IsActive reports whether roomID is the active room.
func (s *Session) IsActive(roomID int) bool {
	return s.hasActive && s.active.ID == roomID
}

// Pending reports whether the session is still waiting for the server's
// join confirmation.
func (s *Session) Pending() bool { return s.pendingJoin }

func (s *Session) clear() {
	s.active = chat.ActiveRoom{}
	s.hasActive = false
	s.pendingJoin = false
}
