package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roomsync/domain"
	"roomsync/domain/event"
	"roomsync/errors"
	"roomsync/runtime"
	"roomsync/transport"
)

// Session is the single entry point the application uses: connection
// lifecycle, room membership, message flow, and a subscription surface for
// state changes.
//
// One dispatcher goroutine applies every inbound event to room and log
// state in arrival order, then republishes it, so subscribers always
// observe state that already reflects the event they received.
type Session struct {
	auth    IAuthSession
	manager *runtime.Manager
	rooms   *RoomSession
	msgs    *MessageLog
	fanout  *runtime.Fanout
	log     *slog.Logger

	// opMu serializes outbound operations so that two racing joins cannot
	// both pass the joined check and emit twice.
	opMu sync.Mutex

	mu          sync.RWMutex
	currentRoom domain.RoomID

	cancelSub func()
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(auth IAuthSession, manager *runtime.Manager, log *slog.Logger) *Session {
	s := &Session{
		auth:    auth,
		manager: manager,
		rooms:   NewRoomSession(log),
		msgs:    NewMessageLog(log),
		fanout:  runtime.NewFanout(log),
		log:     log,
		done:    make(chan struct{}),
	}

	events, cancel := manager.Subscribe()
	s.cancelSub = cancel
	go s.dispatch(events)
	return s
}

// Connect opens the connection with a snapshot of the current credential.
// An expired credential is refreshed first; an absent one is an error.
func (s *Session) Connect(ctx context.Context) error {
	cred, ok := s.auth.Credential()
	if !ok {
		return fmt.Errorf("%w: connect requires a login", errors.ErrNotAuthenticated)
	}

	if cred.Validity(time.Now()) == domain.ValidityExpired {
		s.log.Info("credential expired, refreshing before connect")
		if _, err := s.auth.Refresh(ctx); err != nil {
			return fmt.Errorf("refreshing expired credential: %w", err)
		}
		cred, ok = s.auth.Credential()
		if !ok {
			return errors.ErrNotAuthenticated
		}
	}

	return s.manager.Connect(cred)
}

// Disconnect tears the connection down. Safe from any state.
func (s *Session) Disconnect() {
	s.manager.Disconnect()
}

// JoinRoom asks the backend to add us to a room. Requires an open
// connection; joining an already-joined room is a no-op.
func (s *Session) JoinRoom(roomID domain.RoomID) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.rooms.IsJoined(roomID) {
		return nil
	}

	// The epoch is captured atomically with the connection the emit goes
	// to, so an epoch reset racing this join cannot wipe it.
	epoch, err := s.manager.EmitEpoch(transport.EventJoinRoom, roomID)
	if err != nil {
		return err
	}

	s.rooms.MarkJoined(roomID, epoch)
	s.msgs.Allow(roomID, epoch)
	s.setCurrentRoom(roomID)
	s.log.Info("joined room", "room", roomID)
	return nil
}

// LeaveRoom leaves optimistically: local state drops the room immediately,
// whatever the server acknowledgment latency. Leaving a room we are not in
// is a no-op.
func (s *Session) LeaveRoom(roomID domain.RoomID) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.rooms.IsJoined(roomID) {
		return nil
	}

	s.rooms.MarkLeft(roomID)
	s.clearCurrentRoom(roomID)

	if err := s.manager.Emit(transport.EventLeaveRoom, roomID); err != nil {
		s.log.Warn("leave not delivered, local state already left", "room", roomID, "error", err)
	}
	s.log.Info("left room", "room", roomID)
	return nil
}

// SendMessage forwards a message to the backend. No local echo is appended:
// the single copy in the log arrives through the inbound new-message event,
// sender included.
func (s *Session) SendMessage(roomID domain.RoomID, content string) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if s.manager.State() != domain.Connected || !s.rooms.IsJoined(roomID) {
		return fmt.Errorf("%w: cannot send to %s", errors.ErrNotConnected, roomID)
	}

	return s.manager.Emit(transport.EventSendMessage, transport.SendMessagePayload{
		RoomID:  roomID,
		Content: content,
	})
}

func (s *Session) ConnectionState() domain.ConnectionState {
	return s.manager.State()
}

func (s *Session) LastError() error {
	return s.manager.LastError()
}

func (s *Session) CurrentRoom() (domain.RoomID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRoom, s.currentRoom != ""
}

func (s *Session) History(roomID domain.RoomID) []domain.Message {
	return s.msgs.History(roomID)
}

func (s *Session) Members(roomID domain.RoomID) []domain.MembershipEntry {
	return s.rooms.Members(roomID)
}

func (s *Session) ClearHistory(roomID domain.RoomID) {
	s.msgs.Clear(roomID)
}

func (s *Session) ClearAllHistory() {
	s.msgs.ClearAll()
}

// Subscribe yields session events after they have been applied to state.
func (s *Session) Subscribe() (<-chan event.SessionEvent, func()) {
	return s.fanout.Subscribe()
}

// Close shuts the session down and waits for the dispatcher to drain.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.manager.Close()
		s.cancelSub()
		<-s.done
		s.fanout.Close()
	})
}

// dispatch is the single point where inbound events mutate session state.
func (s *Session) dispatch(events <-chan event.SessionEvent) {
	defer close(s.done)
	for evt := range events {
		s.apply(evt)
		s.fanout.Publish(evt)
	}
}

func (s *Session) apply(evt event.SessionEvent) {
	switch e := evt.(type) {
	case event.ConnectionOpened:
		// New epoch: join state and append eligibility reset, history
		// stays. Joins already stamped with this epoch survive.
		s.rooms.ResetEpoch(e.Epoch)
		s.msgs.ResetEpoch(e.Epoch)
		s.syncCurrentRoom()

	case event.ConnectionClosed:
		// The closed epoch's presence is meaningless while offline. State
		// stamped by a connection that already replaced it survives.
		s.rooms.ResetEpoch(e.Epoch + 1)
		s.msgs.ResetEpoch(e.Epoch + 1)
		s.syncCurrentRoom()

	case event.MessageReceived:
		if err := s.msgs.Append(e.Message); err != nil {
			s.log.Debug("dropping message", "room", e.Message.RoomID, "error", err)
		}

	case event.MemberJoined:
		if s.rooms.ApplyMemberJoined(e.RoomID, e.Member) {
			s.appendSystem(e.RoomID, fmt.Sprintf("%s joined the room.", e.Member.Username))
		}

	case event.MemberLeft:
		if s.rooms.ApplyMemberLeft(e.RoomID, e.Member) {
			s.appendSystem(e.RoomID, fmt.Sprintf("%s left the room.", e.Member.Username))
		}
	}
}

func (s *Session) appendSystem(roomID domain.RoomID, content string) {
	if err := s.msgs.Append(domain.NewSystemMessage(roomID, content)); err != nil {
		s.log.Debug("dropping system message", "room", roomID, "error", err)
	}
}

func (s *Session) setCurrentRoom(roomID domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentRoom = roomID
}

// syncCurrentRoom drops the current-room marker when its join did not
// survive an epoch change.
func (s *Session) syncCurrentRoom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentRoom != "" && !s.rooms.IsJoined(s.currentRoom) {
		s.currentRoom = ""
	}
}

func (s *Session) clearCurrentRoom(roomID domain.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentRoom == roomID {
		s.currentRoom = ""
	}
}
