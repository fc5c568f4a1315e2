// Package event defines the typed notifications flowing out of the
// connection layer. Consumers subscribe to a stream of SessionEvent values
// rather than polling component state.
package event

import (
	"roomsync/domain"
)

// SessionEvent is implemented by every notification the engine publishes.
type SessionEvent interface {
	isSessionEvent()
}

// ConnectionOpened is published when the transport handshake completes.
// Epoch increments on every open; join state never survives an epoch change.
type ConnectionOpened struct {
	Epoch int
}

// ConnectionClosed is published when the transport drops or is torn down.
// Epoch is the epoch of the connection that closed.
type ConnectionClosed struct {
	Epoch int
	Err   error
}

// ConnectionFailed is terminal: redial attempts are exhausted and the
// machine stays Failed until an explicit connect.
type ConnectionFailed struct {
	Attempts int
	Err      error
}

// StateChanged reports every connection state transition in order.
type StateChanged struct {
	From domain.ConnectionState
	To   domain.ConnectionState
}

// MessageReceived carries an inbound chat message, sender echoes included.
type MessageReceived struct {
	Message domain.Message
}

// MemberJoined reports a presence arrival in a room.
type MemberJoined struct {
	RoomID domain.RoomID
	Member domain.MembershipEntry
}

// MemberLeft reports a presence departure from a room.
type MemberLeft struct {
	RoomID domain.RoomID
	Member domain.MembershipEntry
}

// RoomUpdated mirrors the backend's room-update broadcast. The engine
// forwards it to subscribers without mutating local state; room-card
// bookkeeping belongs to the CRUD layer.
type RoomUpdated struct {
	RoomID      domain.RoomID
	MemberCount int
}

func (ConnectionOpened) isSessionEvent() {}
func (ConnectionClosed) isSessionEvent() {}
func (ConnectionFailed) isSessionEvent() {}
func (StateChanged) isSessionEvent()     {}
func (MessageReceived) isSessionEvent()  {}
func (MemberJoined) isSessionEvent()     {}
func (MemberLeft) isSessionEvent()       {}
func (RoomUpdated) isSessionEvent()      {}
