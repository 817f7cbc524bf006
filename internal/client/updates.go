package client

import (
	"github.com/rs/zerolog"

	"chatsync/internal/transport"
	"chatsync/pkg/chat"
)

// Update is a diff pushed to the presentation layer. Renderers apply them
// incrementally and never re-derive business logic; the flow is one-way.
// Concrete types: ConnectionChanged, RoomChanged, HistoryLoaded,
// HistoryFailed, MessageAppended, MessageRemoved, PresenceChanged,
// TypingChanged, RoomsListed, ViewInvalidated.
type Update any

// ConnectionChanged reports a channel lifecycle transition.
type ConnectionChanged struct {
	State transport.State
}

// RoomChanged reports the active room switching or clearing. A switch
// implies the renderer discards the old room's view entirely.
type RoomChanged struct {
	Room   chat.ActiveRoom
	Active bool
}

// HistoryLoaded replaces the rendered message list wholesale. An empty
// Messages slice means "no messages yet", not a failure.
type HistoryLoaded struct {
	RoomID   int
	Messages []chat.Message
}

// HistoryFailed reports the history fetch failing; the renderer shows an
// error state with a retry action instead of a partial list.
type HistoryFailed struct {
	RoomID int
	Err    error
}

// MessageAppended inserts one message. DateBoundary means the message
// starts a new calendar day and wants a date divider before it.
type MessageAppended struct {
	Message      chat.Message
	DateBoundary bool
}

// MessageRemoved deletes one message by id.
type MessageRemoved struct {
	ID int64
}

// PresenceChanged replaces the online-user list. Stale means the channel is
// down and the list must not be displayed as authoritative.
type PresenceChanged struct {
	RoomID int
	Users  []chat.User
	Stale  bool
}

// TypingChanged replaces the set of remote users currently typing.
type TypingChanged struct {
	Names []string
}

// RoomsListed replaces the known room listing.
type RoomsListed struct {
	Rooms []chat.Room
}

// ViewInvalidated tells the renderer its incremental view can no longer be
// trusted: at least one diff was lost to a full update buffer. Renderers
// rebuild from the engine's snapshot getters.
type ViewInvalidated struct{}

// Level classifies a user-visible notice.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelSuccess:
		return "success"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	}
	return "unknown"
}

// NotificationSink receives user-visible status: errors, confirmations,
// membership notices. External collaborator surface; the engine never
// blocks on it.
type NotificationSink interface {
	Notify(level Level, message string)
}

// LogSink is the default sink, writing notices to the structured log.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Notify(level Level, message string) {
	switch level {
	case LevelError:
		s.Log.Error().Msg(message)
	case LevelWarning:
		s.Log.Warn().Msg(message)
	default:
		s.Log.Info().Msg(message)
	}
}
