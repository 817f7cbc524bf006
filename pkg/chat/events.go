package chat

import (
	"encoding/json"
	"fmt"
)

// Server push event names.
const (
	EventConnected         = "connected"
	EventError             = "error"
	EventNewMessage        = "new_message"
	EventMessageDeleted    = "message_deleted"
	EventUserJoined        = "user_joined"
	EventUserLeft          = "user_left"
	EventUserTyping        = "user_typing"
	EventStopTyping        = "stop_typing"
	EventUserStatus        = "user_status"
	EventOnlineUsers       = "online_users"
	EventRoomMembersUpdate = "room_members_update"
	EventRoomJoined        = "room_joined"
	EventRoomLeft          = "room_left"
	EventRoomDeleted       = "room_deleted"
	EventRoomsList         = "rooms_list"
)

// Client intent event names.
const (
	IntentJoinRoom           = "join_room"
	IntentLeaveRoom          = "leave_room"
	IntentSendMessage        = "send_message"
	IntentTyping             = "typing"
	IntentStopTyping         = "stop_typing"
	IntentDeleteMessage      = "delete_message"
	IntentDeleteRoom         = "delete_room"
	IntentRequestOnlineUsers = "request_online_users"
	IntentRequestRooms       = "request_rooms"
)

// Sender emits a named intent over the channel. Intents are fire-and-forget;
// the server is the source of truth and mismatches self-correct on the next
// presence snapshot.
type Sender interface {
	Send(event string, payload any) error
}

// Envelope is the wire framing for every channel event, both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnectedEvent confirms the channel connection and tells the client who it
// is according to the server.
type ConnectedEvent struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
}

// ErrorEvent is a server-reported failure of a prior intent.
type ErrorEvent struct {
	Message string `json:"message"`
}

// MessageDeletedEvent removes a message by id.
type MessageDeletedEvent struct {
	MessageID int64 `json:"message_id"`
	RoomID    int   `json:"room_id"`
}

// MembershipEvent reports another user joining or leaving a room.
type MembershipEvent struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	RoomID   int    `json:"room_id"`
	RoomName string `json:"room_name"`
	Joined   bool   `json:"-"`
}

// TypingEvent reports a remote user starting or stopping typing.
type TypingEvent struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	RoomID   int    `json:"room_id"`
	Typing   bool   `json:"-"`
}

// UserStatusEvent is a single-user presence delta.
type UserStatusEvent struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	IsOnline bool   `json:"is_online"`
}

// OnlineUsersEvent is a full presence snapshot scoped to one room.
type OnlineUsersEvent struct {
	RoomID int    `json:"room_id"`
	Users  []User `json:"users"`
}

// RoomMembersEvent carries the member list pushed after joins and leaves.
// It is treated the same as a presence snapshot.
type RoomMembersEvent struct {
	RoomID  int    `json:"room_id"`
	Members []User `json:"members"`
}

// RoomJoinedEvent confirms the client's own join intent.
type RoomJoinedEvent struct {
	RoomID   int    `json:"room_id"`
	RoomName string `json:"room_name"`
	Members  []User `json:"members,omitempty"`
}

// RoomLeftEvent confirms the client's own leave intent.
type RoomLeftEvent struct {
	RoomID   int    `json:"room_id"`
	RoomName string `json:"room_name"`
}

// RoomDeletedEvent announces a room was removed server-side.
type RoomDeletedEvent struct {
	RoomID   int    `json:"room_id"`
	RoomName string `json:"room_name"`
}

// RoomsListEvent carries the rooms available to this user, wired as a bare
// array rather than a wrapped object.
type RoomsListEvent []Room

// Intent payloads.
type JoinRoomPayload struct {
	RoomID int `json:"room_id"`
}

type LeaveRoomPayload struct {
	RoomID int `json:"room_id"`
}

type SendMessagePayload struct {
	Content  string      `json:"content"`
	RoomID   int         `json:"room_id"`
	Type     MessageType `json:"message_type"`
	FileName string      `json:"file_name,omitempty"`
}

type TypingPayload struct {
	RoomID int `json:"room_id"`
}

type DeleteMessagePayload struct {
	MessageID int64 `json:"message_id"`
}

type DeleteRoomPayload struct {
	RoomID int `json:"room_id"`
}

type RequestOnlineUsersPayload struct {
	RoomID int `json:"room_id"`
}

// DecodeEvent parses a raw channel frame into its tagged payload type.
// Unknown event names return ErrUnknownEvent so callers can log and drop
// them instead of best-effort field probing.
func DecodeEvent(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("%w: empty event name", ErrMalformedRecord)
	}

	decode := func(v any) (any, error) {
		if len(env.Data) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(env.Data, v); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedRecord, env.Event, err)
		}
		return v, nil
	}

	switch env.Event {
	case EventConnected:
		return decode(&ConnectedEvent{})
	case EventError:
		return decode(&ErrorEvent{})
	case EventNewMessage:
		return decode(&Message{})
	case EventMessageDeleted:
		return decode(&MessageDeletedEvent{})
	case EventUserJoined:
		v, err := decode(&MembershipEvent{})
		if err == nil {
			v.(*MembershipEvent).Joined = true
		}
		return v, err
	case EventUserLeft:
		return decode(&MembershipEvent{})
	case EventUserTyping:
		v, err := decode(&TypingEvent{})
		if err == nil {
			v.(*TypingEvent).Typing = true
		}
		return v, err
	case EventStopTyping:
		return decode(&TypingEvent{})
	case EventUserStatus:
		return decode(&UserStatusEvent{})
	case EventOnlineUsers:
		return decode(&OnlineUsersEvent{})
	case EventRoomMembersUpdate:
		return decode(&RoomMembersEvent{})
	case EventRoomJoined:
		return decode(&RoomJoinedEvent{})
	case EventRoomLeft:
		return decode(&RoomLeftEvent{})
	case EventRoomDeleted:
		return decode(&RoomDeletedEvent{})
	case EventRoomsList:
		return decode(&RoomsListEvent{})
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

// EncodeIntent frames an intent for the wire.
func EncodeIntent(event string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		data = b
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
