package services

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"roomsync/domain"
)

// roomState is the local view of one room: whether we are currently joined,
// the connection epoch the join was written to, and the presence entries we
// have been told about.
type roomState struct {
	joined    bool
	joinEpoch int
	members   []domain.MembershipEntry
}

// RoomSession reconciles server-pushed presence deltas with locally known
// join state. Presence events for rooms we are not joined to are ignored,
// so a stale event racing a leave can never resurrect membership.
type RoomSession struct {
	log *slog.Logger

	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomState
}

func NewRoomSession(log *slog.Logger) *RoomSession {
	return &RoomSession{log: log, rooms: make(map[domain.RoomID]*roomState)}
}

func (r *RoomSession) IsJoined(roomID domain.RoomID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.rooms[roomID]
	return ok && state.joined
}

// MarkJoined records a successful join request, stamped with the connection
// epoch the join-room event was written to. Idempotent.
func (r *RoomSession) MarkJoined(roomID domain.RoomID, epoch int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.rooms[roomID]
	if !ok {
		state = &roomState{}
		r.rooms[roomID] = state
	}
	state.joined = true
	state.joinEpoch = epoch
}

// MarkLeft is the optimistic leave: local state drops the room immediately,
// without waiting for any server acknowledgment. Membership entries are
// removed with it. No-op when not joined.
func (r *RoomSession) MarkLeft(roomID domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.rooms[roomID]
	if !ok || !state.joined {
		return
	}
	state.joined = false
	state.members = nil
}

// ApplyMemberJoined folds a presence arrival into local state. Returns false
// when the room is not joined locally; the event must then have no effect.
func (r *RoomSession) ApplyMemberJoined(roomID domain.RoomID, member domain.MembershipEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.rooms[roomID]
	if !ok || !state.joined {
		r.log.Debug("ignoring presence for unjoined room", "room", roomID, "user", member.UserID)
		return false
	}

	member.Online = true
	for i := range state.members {
		if state.members[i].UserID == member.UserID {
			state.members[i] = member
			return true
		}
	}
	state.members = append(state.members, member)
	return true
}

// ApplyMemberLeft removes a presence entry. Returns false when the room is
// not joined locally.
func (r *RoomSession) ApplyMemberLeft(roomID domain.RoomID, member domain.MembershipEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.rooms[roomID]
	if !ok || !state.joined {
		r.log.Debug("ignoring presence for unjoined room", "room", roomID, "user", member.UserID)
		return false
	}

	state.members = lo.Reject(state.members, func(m domain.MembershipEntry, _ int) bool {
		return m.UserID == member.UserID
	})
	return true
}

// Members returns a snapshot ordered online-before-offline, then
// owner-before-member; ties keep arrival order.
func (r *RoomSession) Members(roomID domain.RoomID) []domain.MembershipEntry {
	r.mu.RLock()
	state, ok := r.rooms[roomID]
	if !ok {
		r.mu.RUnlock()
		return nil
	}
	snapshot := make([]domain.MembershipEntry, len(state.members))
	copy(snapshot, state.members)
	r.mu.RUnlock()

	domain.SortMembers(snapshot)
	return snapshot
}

// ResetEpoch drops all join state that does not belong to connection epoch
// `epoch`. Presence is connection-scoped, but a join already stamped with
// the given epoch raced ahead of the reset and must survive it.
func (r *RoomSession) ResetEpoch(epoch int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, state := range r.rooms {
		if state.joined && state.joinEpoch == epoch {
			continue
		}
		state.joined = false
		state.members = nil
	}
}
