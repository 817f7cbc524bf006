package chat

import (
	"time"
)

// MessageType identifies what a message's content refers to. For anything
// other than text the content is a reference URL produced by the upload
// service or the GIF picker.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageAudio MessageType = "audio"
	MessageFile  MessageType = "file"
	MessageGIF   MessageType = "gif"
)

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageFile, MessageGIF:
		return true
	}
	return false
}

// Message is a single chat message as delivered by the server, either in a
// bulk history load or as a push event. Identity is ID; messages are never
// mutated in place once stored.
type Message struct {
	ID             int64       `json:"id"`
	RoomID         int         `json:"room_id"`
	UserID         int         `json:"user_id"`
	Username       string      `json:"username"`
	DisplayName    string      `json:"display_name"`
	ProfilePicture string      `json:"profile_picture,omitempty"`
	Content        string      `json:"content"`
	Type           MessageType `json:"message_type"`
	FileName       string      `json:"file_name,omitempty"`
	Timestamp      time.Time   `json:"timestamp"`

	// IsOwn is derived locally from the session identity, never sent on
	// the wire.
	IsOwn bool `json:"-"`
}

// Name returns the best display name for the message author.
func (m Message) Name() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	if m.Username != "" {
		return m.Username
	}
	return "Unknown"
}

// User is a member of a room as reported by presence snapshots and deltas.
type User struct {
	ID             int    `json:"id"`
	Username       string `json:"username"`
	DisplayName    string `json:"display_name"`
	ProfilePicture string `json:"profile_picture,omitempty"`
	IsOnline       bool   `json:"is_online"`
}

// Name returns the best display name for the user.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// Room is a joinable room as reported by the discovery listing.
type Room struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	IsGlobal     bool   `json:"is_global"`
	MessageCount int    `json:"message_count"`
}

// ActiveRoom identifies the room the session is currently in. At most one
// room is active at a time.
type ActiveRoom struct {
	ID       int
	Name     string
	JoinedAt time.Time
}
