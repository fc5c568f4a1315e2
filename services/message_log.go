package services

import (
	"fmt"
	"log/slog"
	"sync"

	"roomsync/domain"
	"roomsync/errors"
)

// MessageLog is the append-only, per-room message buffer. Appends preserve
// arrival order and deduplicate by message id; history survives leave and
// rejoin for the lifetime of the process.
type MessageLog struct {
	log *slog.Logger

	mu      sync.RWMutex
	logs    map[domain.RoomID][]domain.Message
	seen    map[domain.RoomID]map[string]struct{}
	allowed map[domain.RoomID]int
}

func NewMessageLog(log *slog.Logger) *MessageLog {
	return &MessageLog{
		log:     log,
		logs:    make(map[domain.RoomID][]domain.Message),
		seen:    make(map[domain.RoomID]map[string]struct{}),
		allowed: make(map[domain.RoomID]int),
	}
}

// Allow marks a room as eligible for appends, stamped with the connection
// epoch of the join that made it so.
func (l *MessageLog) Allow(roomID domain.RoomID, epoch int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowed[roomID] = epoch
}

// ResetEpoch revokes append eligibility not stamped with the given epoch.
// History is retained.
func (l *MessageLog) ResetEpoch(epoch int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for roomID, stamped := range l.allowed {
		if stamped != epoch {
			delete(l.allowed, roomID)
		}
	}
}

// Append adds a message to its room's sequence. Messages for rooms never
// joined this epoch are rejected; duplicates by id are silently dropped.
func (l *MessageLog) Append(msg domain.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.allowed[msg.RoomID]; !ok {
		return fmt.Errorf("%w: %s", errors.ErrRoomNotJoined, msg.RoomID)
	}

	ids, ok := l.seen[msg.RoomID]
	if !ok {
		ids = make(map[string]struct{})
		l.seen[msg.RoomID] = ids
	}
	if _, dup := ids[msg.ID]; dup {
		l.log.Debug("dropping duplicate message", "room", msg.RoomID, "id", msg.ID)
		return nil
	}
	ids[msg.ID] = struct{}{}

	l.logs[msg.RoomID] = append(l.logs[msg.RoomID], msg)
	return nil
}

// History returns a point-in-time copy of the room's sequence in arrival
// order.
func (l *MessageLog) History(roomID domain.RoomID) []domain.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	msgs := l.logs[roomID]
	snapshot := make([]domain.Message, len(msgs))
	copy(snapshot, msgs)
	return snapshot
}

// Clear drops one room's history. Explicit operator action only.
func (l *MessageLog) Clear(roomID domain.RoomID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.logs, roomID)
	delete(l.seen, roomID)
}

// ClearAll drops every room's history.
func (l *MessageLog) ClearAll() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = make(map[domain.RoomID][]domain.Message)
	l.seen = make(map[domain.RoomID]map[string]struct{})
}
