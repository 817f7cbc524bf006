package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chatsync/internal/auth"
	"chatsync/internal/presence"
	"chatsync/internal/rest"
	"chatsync/internal/room"
	"chatsync/internal/stream"
	"chatsync/internal/transport"
	"chatsync/internal/typing"
	"chatsync/pkg/chat"
)

const uploadTimeout = 60 * time.Second

// Transport is the channel connection surface the engine consumes.
type Transport interface {
	Events() <-chan any
	Send(event string, payload any) error
	State() transport.State
}

// Fetcher is the request/response collaborator for bulk loads.
type Fetcher interface {
	History(ctx context.Context, roomID int) ([]chat.Message, error)
	OnlineUsers(ctx context.Context, roomID int) ([]chat.User, error)
}

// Uploader is the binary upload collaborator.
type Uploader interface {
	UploadAttachment(ctx context.Context, fileName string, r io.Reader) (rest.Upload, error)
	UploadAudio(ctx context.Context, fileName string, r io.Reader) (rest.Upload, error)
}

// Options tune the engine; zero values get defaults.
type Options struct {
	FetchTimeout time.Duration
	Sink         NotificationSink
}

// Engine is the session object owning all synchronization state. Every
// state transition runs on its single event loop: transport events, command
// closures, and timer firings are dispatched one at a time, so components
// need no internal locking. The engine's own mutex only guards snapshot
// reads from other goroutines.
type Engine struct {
	log      zerolog.Logger
	identity auth.Identity

	tr     Transport
	fetch  Fetcher
	upload Uploader
	sink   NotificationSink
	colors *chat.ColorCache

	fetchTimeout time.Duration

	mu        sync.Mutex
	session   *room.Session
	stream    *stream.Stream
	presence  *presence.Tracker
	typing    *typing.Coordinator
	connState transport.State
	rooms     []chat.Room

	loadGen      int
	resyncNeeded bool

	cmds    chan func()
	updates chan Update

	typingTimer *time.Timer
}

func NewEngine(identity auth.Identity, tr Transport, fetch Fetcher, upload Uploader, log zerolog.Logger, opts Options) *Engine {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = rest.FetchTimeout
	}
	if opts.Sink == nil {
		opts.Sink = LogSink{Log: log}
	}

	e := &Engine{
		log:          log,
		identity:     identity,
		tr:           tr,
		fetch:        fetch,
		upload:       upload,
		sink:         opts.Sink,
		colors:       chat.NewColorCache(),
		fetchTimeout: opts.FetchTimeout,
		presence:     presence.NewTracker(),
		typing:       typing.NewCoordinator(),
		connState:    transport.StateDisconnected,
		cmds:         make(chan func(), 64),
		updates:      make(chan Update, 128),
	}
	e.session = room.NewSession(tr, log)
	e.stream = stream.New(identity.UserID, log)
	return e
}

// Updates is the subscribable state surface for renderers. Closed when Run
// returns.
func (e *Engine) Updates() <-chan Update { return e.updates }

// Colors exposes the deterministic user color cache.
func (e *Engine) Colors() *chat.ColorCache { return e.colors }

// Identity returns who this client is.
func (e *Engine) Identity() auth.Identity { return e.identity }

// Run dispatches events until ctx is canceled. Call exactly once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.updates)

	refresh := time.NewTicker(presence.RefreshInterval)
	defer refresh.Stop()

	e.typingTimer = time.NewTimer(time.Hour)
	if !e.typingTimer.Stop() {
		<-e.typingTimer.C
	}
	defer e.typingTimer.Stop()

	events := e.tr.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			e.withLock(func() { e.handleTransport(ev) })

		case fn := <-e.cmds:
			e.withLock(fn)

		case <-refresh.C:
			e.withLock(e.refreshPresence)

		case <-e.typingTimer.C:
			e.withLock(e.onTypingDeadline)
		}
	}
}

func (e *Engine) withLock(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn()
}

// do schedules a command onto the event loop.
func (e *Engine) do(fn func()) {
	e.cmds <- fn
}

// JoinRoom switches the session to a room. Joining the active room again is
// a no-op.
func (e *Engine) JoinRoom(roomID int, roomName string) {
	e.do(func() { e.joinRoom(roomID, roomName) })
}

// LeaveRoom leaves the active room and clears all room-scoped state.
func (e *Engine) LeaveRoom() {
	e.do(e.leaveRoom)
}

// SendText sends a text message to the active room.
func (e *Engine) SendText(content string) {
	e.do(func() { e.sendMessage(strings.TrimSpace(content), chat.MessageText, "") })
}

// SendGIF sends a GIF reference to the active room.
func (e *Engine) SendGIF(url string) {
	e.do(func() { e.sendMessage(url, chat.MessageGIF, "") })
}

// SendAttachment uploads a file and sends the returned reference as a
// message of the detected media type.
func (e *Engine) SendAttachment(fileName string, r io.Reader) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		defer cancel()
		defer closeIfCloser(r)
		up, err := e.upload.UploadAttachment(ctx, fileName, r)
		if err != nil {
			e.do(func() { e.sink.Notify(LevelError, fmt.Sprintf("Failed to upload %q: %v", fileName, err)) })
			return
		}
		e.do(func() {
			e.sendMessage(up.URL, up.Type, up.FileName)
			e.sink.Notify(LevelSuccess, fmt.Sprintf("File %q uploaded", fileName))
		})
	}()
}

// SendVoice uploads a recorded audio payload and sends it as an audio
// message.
func (e *Engine) SendVoice(fileName string, r io.Reader) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		defer cancel()
		defer closeIfCloser(r)
		up, err := e.upload.UploadAudio(ctx, fileName, r)
		if err != nil {
			e.do(func() { e.sink.Notify(LevelError, fmt.Sprintf("Failed to send voice message: %v", err)) })
			return
		}
		e.do(func() {
			e.sendMessage(up.URL, up.Type, up.FileName)
			e.sink.Notify(LevelSuccess, "Voice message sent")
		})
	}()
}

// DeleteMessage asks the server to delete a message. The stream updates on
// the echoed message_deleted event.
func (e *Engine) DeleteMessage(messageID int64) {
	e.do(func() {
		if err := e.tr.Send(chat.IntentDeleteMessage, chat.DeleteMessagePayload{MessageID: messageID}); err != nil {
			e.sink.Notify(LevelError, "Failed to delete message")
		}
	})
}

// DeleteRoom asks the server to delete a room.
func (e *Engine) DeleteRoom(roomID int) {
	e.do(func() {
		if err := e.tr.Send(chat.IntentDeleteRoom, chat.DeleteRoomPayload{RoomID: roomID}); err != nil {
			e.sink.Notify(LevelError, "Failed to delete room")
		}
	})
}

// RequestRooms asks the server for the room listing. The result arrives as
// a rooms_list push and surfaces as a RoomsListed update.
func (e *Engine) RequestRooms() {
	e.do(func() {
		if err := e.tr.Send(chat.IntentRequestRooms, nil); err != nil {
			e.sink.Notify(LevelError, "Failed to load rooms")
		}
	})
}

// Keystroke feeds one local keystroke into the typing debounce.
func (e *Engine) Keystroke() {
	e.do(e.keystroke)
}

// RetryHistory re-runs a failed history load for the active room.
func (e *Engine) RetryHistory() {
	e.do(e.retryHistory)
}

// Resync reloads history and presence for the active room, used when the
// client regains visibility after a long background period.
func (e *Engine) Resync() {
	e.do(e.resync)
}

// Snapshot reads, safe from any goroutine.

func (e *Engine) ActiveRoom() (chat.ActiveRoom, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Active()
}

func (e *Engine) Messages() []chat.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stream.Messages()
}

func (e *Engine) OnlineUsers() []chat.User {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presence.Users()
}

func (e *Engine) TypingUsers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typing.Remote()
}

func (e *Engine) Rooms() []chat.Room {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]chat.Room, len(e.rooms))
	copy(out, e.rooms)
	return out
}

func (e *Engine) ConnectionState() transport.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connState
}

// Event handling. Everything below runs on the loop under e.mu.

func (e *Engine) handleTransport(ev any) {
	switch ev := ev.(type) {
	case transport.StateChange:
		e.onStateChange(ev)
	case transport.Inbound:
		e.handlePush(ev.Payload)
	default:
		e.log.Warn().Type("event", ev).Msg("unexpected transport event")
	}
}

func (e *Engine) handlePush(payload any) {
	switch p := payload.(type) {
	case *chat.ConnectedEvent:
		if p.UserID != 0 && p.UserID != e.identity.UserID {
			e.log.Warn().Int("server_user_id", p.UserID).Int("token_user_id", e.identity.UserID).Msg("server identity differs from token identity")
		}
	case *chat.ErrorEvent:
		e.sink.Notify(LevelError, p.Message)
	case *chat.Message:
		e.onNewMessage(*p)
	case *chat.MessageDeletedEvent:
		if e.stream.Remove(p.MessageID) {
			e.push(MessageRemoved{ID: p.MessageID})
		}
	case *chat.MembershipEvent:
		e.onMembership(*p)
	case *chat.TypingEvent:
		e.onTyping(*p)
	case *chat.UserStatusEvent:
		if e.presence.ApplyDelta(p.UserID, p.IsOnline) {
			e.pushPresence()
		}
	case *chat.OnlineUsersEvent:
		if e.presence.ApplySnapshot(p.RoomID, p.Users) {
			e.pushPresence()
		}
	case *chat.RoomMembersEvent:
		if e.presence.ApplySnapshot(p.RoomID, p.Members) {
			e.pushPresence()
		}
	case *chat.RoomJoinedEvent:
		e.onRoomJoined(*p)
	case *chat.RoomLeftEvent:
		e.log.Debug().Int("room_id", p.RoomID).Msg("leave confirmed")
	case *chat.RoomDeletedEvent:
		e.onRoomDeleted(*p)
	case *chat.RoomsListEvent:
		e.rooms = append([]chat.Room(nil), *p...)
		e.push(RoomsListed{Rooms: append([]chat.Room(nil), e.rooms...)})
	default:
		e.log.Warn().Type("payload", payload).Msg("unhandled push event")
	}
}

func (e *Engine) onStateChange(ev transport.StateChange) {
	e.connState = ev.New
	e.push(ConnectionChanged{State: ev.New})

	switch ev.New {
	case transport.StateDisconnected:
		// Presence and typing are stale from now on; the stream and the
		// room identity are retained for the resync after reconnect.
		e.presence.MarkStale()
		e.pushPresence()
		e.typing.Reset()
		e.push(TypingChanged{Names: nil})
		if ev.Err != nil {
			e.sink.Notify(LevelWarning, "Connection lost. Reconnecting...")
		}

	case transport.StateConnected:
		// Re-assert membership; the server tolerates joining a room it
		// still considers us in. The history reload is skipped when the
		// stream is already authoritative (see onRoomJoined).
		e.session.Rejoin()
	}
}

func (e *Engine) joinRoom(roomID int, roomName string) {
	if roomID <= 0 || roomName == "" {
		e.sink.Notify(LevelError, "Invalid room")
		return
	}

	err := e.session.Join(roomID, roomName)
	if errors.Is(err, chat.ErrDuplicateJoin) {
		return
	}

	e.loadGen = e.stream.Reset(roomID)
	e.presence.SetRoom(roomID)
	e.typing.Reset()

	active, _ := e.session.Active()
	e.push(RoomChanged{Room: active, Active: true})
}

func (e *Engine) leaveRoom() {
	if _, ok := e.session.Active(); !ok {
		return
	}
	e.session.Leave()
	e.clearRoomState()
}

func (e *Engine) clearRoomState() {
	e.stream.Reset(0)
	e.presence.Clear()
	e.typing.Reset()
	e.push(RoomChanged{Active: false})
}

func (e *Engine) onRoomJoined(ev chat.RoomJoinedEvent) {
	if !e.session.Confirm(ev.RoomID) {
		return
	}

	if len(ev.Members) > 0 && e.presence.ApplySnapshot(ev.RoomID, ev.Members) {
		e.pushPresence()
	}
	e.requestPresence(ev.RoomID)

	// First confirmation after a join triggers the history load. A
	// reconnect confirmation with an authoritative stream only re-syncs
	// membership and presence, never refetches messages.
	switch {
	case e.stream.RoomID() != ev.RoomID:
		e.loadGen = e.stream.Reset(ev.RoomID)
		e.startHistoryLoad(e.loadGen, ev.RoomID)
	case e.stream.State() == stream.LoadPending:
		e.startHistoryLoad(e.loadGen, ev.RoomID)
	case e.stream.State() == stream.LoadFailed:
		if gen := e.stream.Retry(); gen != 0 {
			e.loadGen = gen
			e.startHistoryLoad(gen, ev.RoomID)
		}
	}
}

func (e *Engine) startHistoryLoad(gen, roomID int) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.fetchTimeout)
		defer cancel()
		msgs, err := e.fetch.History(ctx, roomID)
		e.do(func() { e.historyResult(gen, roomID, msgs, err) })
	}()
}

func (e *Engine) historyResult(gen, roomID int, msgs []chat.Message, err error) {
	if err != nil {
		if !e.stream.Fail(gen, roomID, err) {
			return // stale load for a room we already left
		}
		e.push(HistoryFailed{RoomID: roomID, Err: err})
		if errors.Is(err, chat.ErrTimeout) {
			e.sink.Notify(LevelError, "Request timed out. Check your connection and retry.")
		} else {
			e.sink.Notify(LevelError, "Failed to load messages. Please try again.")
		}
		return
	}

	if !e.stream.ReplaceFromHistory(gen, roomID, msgs) {
		return
	}
	e.push(HistoryLoaded{RoomID: roomID, Messages: e.stream.Messages()})
}

func (e *Engine) retryHistory() {
	gen := e.stream.Retry()
	if gen == 0 {
		return
	}
	e.loadGen = gen
	e.startHistoryLoad(gen, e.stream.RoomID())
}

func (e *Engine) resync() {
	active, ok := e.session.Active()
	if !ok {
		return
	}
	e.requestPresence(active.ID)
	e.loadGen = e.stream.Reset(active.ID)
	e.startHistoryLoad(e.loadGen, active.ID)
}

func (e *Engine) onNewMessage(m chat.Message) {
	if !e.session.IsActive(m.RoomID) {
		return // stale event for a room we are no longer in
	}

	inserted, boundary := e.stream.Apply(m)
	if !inserted {
		return // duplicate id, e.g. echo of an already-delivered message
	}
	m.IsOwn = m.UserID == e.identity.UserID
	e.push(MessageAppended{Message: m, DateBoundary: boundary})

	// A delivered message implies its author stopped typing.
	if e.typing.StopRemote(m.UserID) {
		e.push(TypingChanged{Names: e.typing.Remote()})
	}
}

func (e *Engine) onMembership(ev chat.MembershipEvent) {
	if !e.session.IsActive(ev.RoomID) {
		return
	}
	verb := "left"
	if ev.Joined {
		verb = "joined"
	}
	e.sink.Notify(LevelInfo, fmt.Sprintf("%s %s %s", ev.Username, verb, ev.RoomName))
	e.requestPresence(ev.RoomID)
}

func (e *Engine) onTyping(ev chat.TypingEvent) {
	if !e.session.IsActive(ev.RoomID) || ev.UserID == e.identity.UserID {
		return
	}

	if ev.Typing {
		e.typing.ObserveRemote(ev.UserID, ev.Username, time.Now())
		e.push(TypingChanged{Names: e.typing.Remote()})
		e.rearmTypingTimer()
		return
	}
	if e.typing.StopRemote(ev.UserID) {
		e.push(TypingChanged{Names: e.typing.Remote()})
	}
}

func (e *Engine) onRoomDeleted(ev chat.RoomDeletedEvent) {
	if e.session.ClearIf(ev.RoomID) {
		e.clearRoomState()
	}
	e.sink.Notify(LevelInfo, fmt.Sprintf("Room %q has been deleted", ev.RoomName))
}

func (e *Engine) sendMessage(content string, mt chat.MessageType, fileName string) {
	if content == "" {
		return
	}
	active, ok := e.session.Active()
	if !ok {
		e.sink.Notify(LevelError, "Join a room first")
		return
	}

	payload := chat.SendMessagePayload{
		Content:  content,
		RoomID:   active.ID,
		Type:     mt,
		FileName: fileName,
	}
	if err := e.tr.Send(chat.IntentSendMessage, payload); err != nil {
		e.sink.Notify(LevelError, "Failed to send message")
		return
	}

	// Sending counts as a typing stop; emit exactly one stop signal.
	if e.typing.MessageSent() {
		e.sendTypingSignal(false, active.ID)
	}
}

func (e *Engine) keystroke() {
	active, ok := e.session.Active()
	if !ok {
		return
	}
	if e.typing.Keystroke(time.Now()) {
		e.sendTypingSignal(true, active.ID)
	}
	e.rearmTypingTimer()
}

func (e *Engine) onTypingDeadline() {
	now := time.Now()
	if e.typing.Expire(now) {
		if active, ok := e.session.Active(); ok {
			e.sendTypingSignal(false, active.ID)
		}
	}
	if e.typing.ExpireRemote(now) {
		e.push(TypingChanged{Names: e.typing.Remote()})
	}
	e.rearmTypingTimer()
}

func (e *Engine) sendTypingSignal(start bool, roomID int) {
	intent := chat.IntentStopTyping
	if start {
		intent = chat.IntentTyping
	}
	if err := e.tr.Send(intent, chat.TypingPayload{RoomID: roomID}); err != nil {
		e.log.Debug().Err(err).Msg("typing signal not delivered")
	}
}

func (e *Engine) rearmTypingTimer() {
	e.typingTimer.Stop()
	if next, ok := e.typing.NextDeadline(); ok {
		d := time.Until(next)
		if d < 0 {
			d = 0
		}
		e.typingTimer.Reset(d)
	}
}

func (e *Engine) refreshPresence() {
	active, ok := e.session.Active()
	if !ok || e.connState != transport.StateConnected {
		return
	}
	e.requestPresence(active.ID)
}

func (e *Engine) requestPresence(roomID int) {
	if err := e.tr.Send(chat.IntentRequestOnlineUsers, chat.RequestOnlineUsersPayload{RoomID: roomID}); err != nil {
		e.log.Debug().Err(err).Int("room_id", roomID).Msg("presence refresh not delivered")
	}
}

func (e *Engine) pushPresence() {
	e.push(PresenceChanged{
		RoomID: e.presence.RoomID(),
		Users:  e.presence.Users(),
		Stale:  e.presence.Stale(),
	})
}

func closeIfCloser(r io.Reader) {
	if c, ok := r.(io.Closer); ok {
		c.Close()
	}
}

// push delivers a diff without blocking the event loop. A diff lost to a
// full buffer desyncs incremental renderers, so the loss is surfaced as a
// ViewInvalidated update as soon as the consumer drains enough to hear it.
func (e *Engine) push(u Update) {
	if e.resyncNeeded {
		select {
		case e.updates <- ViewInvalidated{}:
			e.resyncNeeded = false
		default:
		}
	}
	select {
	case e.updates <- u:
	default:
		e.resyncNeeded = true
		e.log.Warn().Msg("update buffer full, renderer must rebuild from snapshots")
	}
}
