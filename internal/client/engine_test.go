package client

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatsync/internal/auth"
	"chatsync/internal/rest"
	"chatsync/internal/transport"
	"chatsync/pkg/chat"
)

type sentIntent struct {
	Event   string
	Payload any
}

type fakeTransport struct {
	mu     sync.Mutex
	state  transport.State
	sends  []sentIntent
	events chan any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		state:  transport.StateConnected,
		events: make(chan any, 64),
	}
}

func (f *fakeTransport) Events() <-chan any { return f.events }

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sentIntent{Event: event, Payload: payload})
	return nil
}

func (f *fakeTransport) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.sends {
		if s.Event == event {
			n++
		}
	}
	return n
}

func (f *fakeTransport) last(event string) (sentIntent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sends) - 1; i >= 0; i-- {
		if f.sends[i].Event == event {
			return f.sends[i], true
		}
	}
	return sentIntent{}, false
}

// setState mirrors what the real connection does: flip the state, then
// report the transition as an event.
func (f *fakeTransport) setState(next transport.State) {
	f.mu.Lock()
	prev := f.state
	f.state = next
	f.mu.Unlock()
	f.events <- transport.StateChange{Old: prev, New: next}
}

func (f *fakeTransport) push(payload any) {
	f.events <- transport.Inbound{Payload: payload}
}

type fakeFetcher struct {
	mu      sync.Mutex
	history map[int][]chat.Message
	err     error
	calls   map[int]int
	gates   map[int]chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		history: make(map[int][]chat.Message),
		calls:   make(map[int]int),
		gates:   make(map[int]chan struct{}),
	}
}

func (f *fakeFetcher) History(ctx context.Context, roomID int) ([]chat.Message, error) {
	f.mu.Lock()
	f.calls[roomID]++
	gate := f.gates[roomID]
	err := f.err
	msgs := f.history[roomID]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: history", chat.ErrTimeout)
		}
	}
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (f *fakeFetcher) OnlineUsers(ctx context.Context, roomID int) ([]chat.User, error) {
	return nil, nil
}

func (f *fakeFetcher) historyCalls(roomID int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[roomID]
}

func (f *fakeFetcher) gate(roomID int) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[roomID] = ch
	return ch
}

type fakeUploader struct{}

func (fakeUploader) UploadAttachment(ctx context.Context, fileName string, r io.Reader) (rest.Upload, error) {
	return rest.Upload{URL: "/uploads/" + fileName, Type: chat.MessageImage, FileName: fileName}, nil
}

func (fakeUploader) UploadAudio(ctx context.Context, fileName string, r io.Reader) (rest.Upload, error) {
	return rest.Upload{URL: "/uploads/" + fileName, Type: chat.MessageAudio, FileName: fileName}, nil
}

type recordingSink struct {
	mu    sync.Mutex
	notes []string
}

func (s *recordingSink) Notify(level Level, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, msg)
}

func (s *recordingSink) contains(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notes {
		if n == substr {
			return true
		}
	}
	return false
}

func msg(id int64, roomID, userID int, content string, at time.Time) chat.Message {
	return chat.Message{
		ID:        id,
		RoomID:    roomID,
		UserID:    userID,
		Username:  fmt.Sprintf("user%d", userID),
		Content:   content,
		Type:      chat.MessageText,
		Timestamp: at,
	}
}

func newTestEngine(t *testing.T) (*Engine, *fakeTransport, *fakeFetcher, *recordingSink) {
	t.Helper()

	tr := newFakeTransport()
	fetch := newFakeFetcher()
	sink := &recordingSink{}
	eng := NewEngine(
		auth.Identity{UserID: 1, Username: "me"},
		tr, fetch, fakeUploader{},
		zerolog.Nop(),
		Options{FetchTimeout: 2 * time.Second, Sink: sink},
	)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go eng.Run(ctx)

	// Drain updates so the buffer never fills mid-test.
	go func() {
		for range eng.Updates() {
		}
	}()

	return eng, tr, fetch, sink
}

// joinAndConfirm drives the full join handshake and waits for history.
func joinAndConfirm(t *testing.T, eng *Engine, tr *fakeTransport, roomID int, roomName string) {
	t.Helper()
	eng.JoinRoom(roomID, roomName)
	require.Eventually(t, func() bool {
		return tr.count(chat.IntentJoinRoom) > 0
	}, time.Second, 5*time.Millisecond)

	tr.push(&chat.RoomJoinedEvent{RoomID: roomID, RoomName: roomName})
}

func TestJoinLoadsHistoryAfterConfirmation(t *testing.T) {
	eng, tr, fetch, _ := newTestEngine(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fetch.history[7] = []chat.Message{
		msg(2, 7, 3, "second", base.Add(time.Minute)),
		msg(1, 7, 1, "first", base),
	}

	eng.JoinRoom(7, "general")

	require.Eventually(t, func() bool {
		return tr.count(chat.IntentJoinRoom) == 1
	}, time.Second, 5*time.Millisecond)

	// No history fetch until the server confirms the join.
	assert.Equal(t, 0, fetch.historyCalls(7))

	tr.push(&chat.RoomJoinedEvent{RoomID: 7, RoomName: "general"})

	require.Eventually(t, func() bool {
		return len(eng.Messages()) == 2
	}, time.Second, 5*time.Millisecond)

	msgs := eng.Messages()
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "second", msgs[1].Content)
	assert.True(t, msgs[0].IsOwn, "own history message gets marked")
	assert.False(t, msgs[1].IsOwn)

	// Confirmation also triggers a presence request.
	assert.GreaterOrEqual(t, tr.count(chat.IntentRequestOnlineUsers), 1)
}

func TestDuplicateJoinIsNoOp(t *testing.T) {
	eng, tr, _, _ := newTestEngine(t)

	joinAndConfirm(t, eng, tr, 7, "general")
	eng.JoinRoom(7, "general")
	eng.JoinRoom(7, "general")

	require.Eventually(t, func() bool {
		_, ok := eng.ActiveRoom()
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, tr.count(chat.IntentJoinRoom))
	assert.Equal(t, 0, tr.count(chat.IntentLeaveRoom))
}

func TestSwitchingRoomsDropsInFlightHistory(t *testing.T) {
	eng, tr, fetch, _ := newTestEngine(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fetch.history[7] = []chat.Message{msg(1, 7, 2, "old room", base)}
	fetch.history[8] = []chat.Message{msg(9, 8, 2, "new room", base)}
	slow := fetch.gate(7)

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		return fetch.historyCalls(7) == 1
	}, time.Second, 5*time.Millisecond)

	eng.JoinRoom(8, "random")
	require.Eventually(t, func() bool {
		return tr.count(chat.IntentLeaveRoom) == 1 && tr.count(chat.IntentJoinRoom) == 2
	}, time.Second, 5*time.Millisecond)
	tr.push(&chat.RoomJoinedEvent{RoomID: 8, RoomName: "random"})

	require.Eventually(t, func() bool {
		msgs := eng.Messages()
		return len(msgs) == 1 && msgs[0].Content == "new room"
	}, time.Second, 5*time.Millisecond)

	// Release the stale load for the old room; the view must not change.
	close(slow)
	time.Sleep(50 * time.Millisecond)

	msgs := eng.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "new room", msgs[0].Content)
}

func TestNewMessageAppendAndDedup(t *testing.T) {
	eng, tr, fetch, _ := newTestEngine(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fetch.history[7] = []chat.Message{msg(1, 7, 2, "hello", base)}

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		return len(eng.Messages()) == 1
	}, time.Second, 5*time.Millisecond)

	// Echo of an already-loaded message is dropped.
	dup := msg(1, 7, 2, "hello", base)
	tr.push(&dup)

	// Event for another room is not merged into the active view.
	other := msg(5, 99, 2, "elsewhere", base.Add(time.Minute))
	tr.push(&other)

	fresh := msg(2, 7, 3, "new", base.Add(2*time.Minute))
	tr.push(&fresh)

	require.Eventually(t, func() bool {
		return len(eng.Messages()) == 2
	}, time.Second, 5*time.Millisecond)
	msgs := eng.Messages()
	assert.Equal(t, int64(1), msgs[0].ID)
	assert.Equal(t, int64(2), msgs[1].ID)
}

func TestMessageDeleted(t *testing.T) {
	eng, tr, fetch, _ := newTestEngine(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fetch.history[7] = []chat.Message{
		msg(1, 7, 2, "keep", base),
		msg(2, 7, 2, "delete me", base.Add(time.Minute)),
	}

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		return len(eng.Messages()) == 2
	}, time.Second, 5*time.Millisecond)

	tr.push(&chat.MessageDeletedEvent{MessageID: 2, RoomID: 7})
	require.Eventually(t, func() bool {
		return len(eng.Messages()) == 1
	}, time.Second, 5*time.Millisecond)

	// A repeat delivery of the same deletion is a silent no-op.
	tr.push(&chat.MessageDeletedEvent{MessageID: 2, RoomID: 7})
	time.Sleep(20 * time.Millisecond)
	msgs := eng.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(1), msgs[0].ID)
}

func TestSendTextTrimsAndRequiresRoom(t *testing.T) {
	eng, tr, _, sink := newTestEngine(t)

	eng.SendText("hello")
	require.Eventually(t, func() bool {
		return sink.contains("Join a room first")
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, tr.count(chat.IntentSendMessage))

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		_, ok := eng.ActiveRoom()
		return ok
	}, time.Second, 5*time.Millisecond)

	eng.SendText("   ")
	eng.SendText("  hi there  ")

	require.Eventually(t, func() bool {
		return tr.count(chat.IntentSendMessage) == 1
	}, time.Second, 5*time.Millisecond)

	sent, ok := tr.last(chat.IntentSendMessage)
	require.True(t, ok)
	payload := sent.Payload.(chat.SendMessagePayload)
	assert.Equal(t, "hi there", payload.Content)
	assert.Equal(t, 7, payload.RoomID)
	assert.Equal(t, chat.MessageText, payload.Type)
}

func TestKeystrokesDebounceToOneTypingIntent(t *testing.T) {
	eng, tr, _, _ := newTestEngine(t)

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		_, ok := eng.ActiveRoom()
		return ok
	}, time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		eng.Keystroke()
	}

	require.Eventually(t, func() bool {
		return tr.count(chat.IntentTyping) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, tr.count(chat.IntentStopTyping))

	// Silence past the idle window emits exactly one stop.
	require.Eventually(t, func() bool {
		return tr.count(chat.IntentStopTyping) == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, tr.count(chat.IntentTyping))
}

func TestSendClearsTypingOnce(t *testing.T) {
	eng, tr, _, _ := newTestEngine(t)

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		_, ok := eng.ActiveRoom()
		return ok
	}, time.Second, 5*time.Millisecond)

	eng.Keystroke()
	require.Eventually(t, func() bool {
		return tr.count(chat.IntentTyping) == 1
	}, time.Second, 5*time.Millisecond)

	eng.SendText("done typing")
	require.Eventually(t, func() bool {
		return tr.count(chat.IntentStopTyping) == 1
	}, time.Second, 5*time.Millisecond)

	// Sending again without typing must not emit another stop.
	eng.SendText("still not typing")
	require.Eventually(t, func() bool {
		return tr.count(chat.IntentSendMessage) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, tr.count(chat.IntentStopTyping))
}

func TestRemoteTypingExpiresWithoutStopSignal(t *testing.T) {
	eng, tr, _, _ := newTestEngine(t)

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		_, ok := eng.ActiveRoom()
		return ok
	}, time.Second, 5*time.Millisecond)

	tr.push(&chat.TypingEvent{UserID: 3, Username: "ana", RoomID: 7, Typing: true})
	require.Eventually(t, func() bool {
		names := eng.TypingUsers()
		return len(names) == 1 && names[0] == "ana"
	}, time.Second, 5*time.Millisecond)

	// Own echo and other-room events never show up.
	tr.push(&chat.TypingEvent{UserID: 1, Username: "me", RoomID: 7, Typing: true})
	tr.push(&chat.TypingEvent{UserID: 9, Username: "bo", RoomID: 42, Typing: true})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"ana"}, eng.TypingUsers())

	// The indicator self-expires even if stop_typing never arrives.
	require.Eventually(t, func() bool {
		return len(eng.TypingUsers()) == 0
	}, 3*time.Second, 20*time.Millisecond)
}

func TestDeliveredMessageClearsAuthorTyping(t *testing.T) {
	eng, tr, _, _ := newTestEngine(t)

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		_, ok := eng.ActiveRoom()
		return ok
	}, time.Second, 5*time.Millisecond)

	tr.push(&chat.TypingEvent{UserID: 3, Username: "ana", RoomID: 7, Typing: true})
	require.Eventually(t, func() bool {
		return len(eng.TypingUsers()) == 1
	}, time.Second, 5*time.Millisecond)

	m := msg(10, 7, 3, "sent it", time.Now().UTC())
	tr.push(&m)
	require.Eventually(t, func() bool {
		return len(eng.TypingUsers()) == 0
	}, time.Second, 5*time.Millisecond)
}

func TestPresenceSnapshotAndDelta(t *testing.T) {
	eng, tr, _, _ := newTestEngine(t)

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		_, ok := eng.ActiveRoom()
		return ok
	}, time.Second, 5*time.Millisecond)

	tr.push(&chat.OnlineUsersEvent{RoomID: 7, Users: []chat.User{
		{ID: 3, Username: "ana", IsOnline: true},
		{ID: 4, Username: "bo", IsOnline: false},
	}})
	require.Eventually(t, func() bool {
		return len(eng.OnlineUsers()) == 2
	}, time.Second, 5*time.Millisecond)

	// Snapshot for a different room never touches the active view.
	tr.push(&chat.OnlineUsersEvent{RoomID: 99, Users: []chat.User{{ID: 8, Username: "zed"}}})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, eng.OnlineUsers(), 2)

	// Delta flips a known user in place.
	tr.push(&chat.UserStatusEvent{UserID: 4, IsOnline: true})
	require.Eventually(t, func() bool {
		for _, u := range eng.OnlineUsers() {
			if u.ID == 4 {
				return u.IsOnline
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// Delta for an unknown user does not invent a member.
	tr.push(&chat.UserStatusEvent{UserID: 77, IsOnline: true})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, eng.OnlineUsers(), 2)
}

func TestReconnectRejoinsWithoutRefetch(t *testing.T) {
	eng, tr, fetch, _ := newTestEngine(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fetch.history[7] = []chat.Message{msg(1, 7, 2, "hello", base)}

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		return len(eng.Messages()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, fetch.historyCalls(7))

	tr.setState(transport.StateDisconnected)
	require.Eventually(t, func() bool {
		return eng.ConnectionState() == transport.StateDisconnected
	}, time.Second, 5*time.Millisecond)

	// Messages survive the drop for instant redisplay.
	assert.Len(t, eng.Messages(), 1)

	tr.setState(transport.StateConnected)
	require.Eventually(t, func() bool {
		return tr.count(chat.IntentJoinRoom) == 2
	}, time.Second, 5*time.Millisecond)

	// The server re-confirms; membership and presence re-sync but the
	// authoritative stream is not refetched.
	tr.push(&chat.RoomJoinedEvent{RoomID: 7, RoomName: "general"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, fetch.historyCalls(7))
	assert.Len(t, eng.Messages(), 1)
}

func TestHistoryFailureAndRetry(t *testing.T) {
	eng, tr, fetch, sink := newTestEngine(t)

	fetch.mu.Lock()
	fetch.err = fmt.Errorf("%w: history", chat.ErrTimeout)
	fetch.mu.Unlock()

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		return sink.contains("Request timed out. Check your connection and retry.")
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, eng.Messages())

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fetch.mu.Lock()
	fetch.err = nil
	fetch.history[7] = []chat.Message{msg(1, 7, 2, "recovered", base)}
	fetch.mu.Unlock()

	eng.RetryHistory()
	require.Eventually(t, func() bool {
		return len(eng.Messages()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, fetch.historyCalls(7))
}

func TestRoomDeletedClearsActiveState(t *testing.T) {
	eng, tr, fetch, sink := newTestEngine(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fetch.history[7] = []chat.Message{msg(1, 7, 2, "doomed", base)}

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		return len(eng.Messages()) == 1
	}, time.Second, 5*time.Millisecond)

	tr.push(&chat.RoomDeletedEvent{RoomID: 7, RoomName: "general"})
	require.Eventually(t, func() bool {
		_, ok := eng.ActiveRoom()
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, eng.Messages())
	assert.True(t, sink.contains(`Room "general" has been deleted`))

	// Deleting a room we are not in only notifies.
	tr.push(&chat.RoomDeletedEvent{RoomID: 42, RoomName: "other"})
	require.Eventually(t, func() bool {
		return sink.contains(`Room "other" has been deleted`)
	}, time.Second, 5*time.Millisecond)
}

func TestLeaveRoomClearsState(t *testing.T) {
	eng, tr, fetch, _ := newTestEngine(t)

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	fetch.history[7] = []chat.Message{msg(1, 7, 2, "bye", base)}

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		return len(eng.Messages()) == 1
	}, time.Second, 5*time.Millisecond)

	eng.LeaveRoom()
	require.Eventually(t, func() bool {
		_, ok := eng.ActiveRoom()
		return !ok
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, tr.count(chat.IntentLeaveRoom))
	assert.Empty(t, eng.Messages())
	assert.Empty(t, eng.OnlineUsers())
}

func TestRoomDiscovery(t *testing.T) {
	eng, tr, _, _ := newTestEngine(t)

	eng.RequestRooms()
	require.Eventually(t, func() bool {
		return tr.count(chat.IntentRequestRooms) == 1
	}, time.Second, 5*time.Millisecond)

	tr.push(&chat.RoomsListEvent{
		{ID: 1, Name: "general", IsGlobal: true, MessageCount: 12},
		{ID: 2, Name: "random"},
	})
	require.Eventually(t, func() bool {
		return len(eng.Rooms()) == 2
	}, time.Second, 5*time.Millisecond)

	rooms := eng.Rooms()
	assert.Equal(t, "general", rooms[0].Name)
	assert.True(t, rooms[0].IsGlobal)
	assert.Equal(t, 2, rooms[1].ID)

	// A fresh listing replaces the previous one wholesale.
	tr.push(&chat.RoomsListEvent{{ID: 2, Name: "random"}})
	require.Eventually(t, func() bool {
		return len(eng.Rooms()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestDroppedDiffSignalsViewInvalidated(t *testing.T) {
	tr := newFakeTransport()
	eng := NewEngine(
		auth.Identity{UserID: 1, Username: "me"},
		tr, newFakeFetcher(), fakeUploader{},
		zerolog.Nop(),
		Options{Sink: &recordingSink{}},
	)

	// Nobody drains Updates here, so overfilling the buffer forces a drop.
	total := cap(eng.updates) + 1
	for i := 0; i < total; i++ {
		eng.push(MessageRemoved{ID: int64(i)})
	}

	// Free a slot; the next diff must be preceded by the invalidation
	// marker so a diff-applying renderer knows to rebuild from snapshots.
	<-eng.Updates()
	<-eng.Updates()
	eng.push(MessageRemoved{ID: 999})

	var seen []Update
	for len(eng.Updates()) > 0 {
		seen = append(seen, <-eng.Updates())
	}

	invalidatedAt := -1
	finalAt := -1
	for i, u := range seen {
		switch u := u.(type) {
		case ViewInvalidated:
			invalidatedAt = i
		case MessageRemoved:
			if u.ID == 999 {
				finalAt = i
			}
		}
	}
	require.NotEqual(t, -1, invalidatedAt, "loss was never surfaced")
	require.NotEqual(t, -1, finalAt)
	assert.Less(t, invalidatedAt, finalAt, "invalidation must precede later diffs")
}

func TestMembershipEventRefreshesPresence(t *testing.T) {
	eng, tr, _, sink := newTestEngine(t)

	joinAndConfirm(t, eng, tr, 7, "general")
	require.Eventually(t, func() bool {
		_, ok := eng.ActiveRoom()
		return ok
	}, time.Second, 5*time.Millisecond)
	before := tr.count(chat.IntentRequestOnlineUsers)

	tr.push(&chat.MembershipEvent{UserID: 3, Username: "ana", RoomID: 7, RoomName: "general", Joined: true})
	require.Eventually(t, func() bool {
		return sink.contains("ana joined general")
	}, time.Second, 5*time.Millisecond)
	assert.Greater(t, tr.count(chat.IntentRequestOnlineUsers), before)
}
