//go:generate go run go.uber.org/mock/mockgen -source=transport.go -destination=../mocks/mock_transport.go -package=mocks

// Package transport abstracts the persistent named-event connection to the
// messaging backend. One Dial produces one physical connection; reconnection
// policy lives above this layer.
package transport

import (
	"context"

	"roomsync/domain"
	"roomsync/domain/event"
)

// Outbound event names understood by the backend.
const (
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventSendMessage = "send-message"
)

// Inbound event names pushed by the backend.
const (
	EventNewMessage = "new-message"
	EventUserJoined = "user-joined"
	EventUserLeft   = "user-left"
	EventRoomUpdate = "room-update"
)

// ITransport dials a single physical connection, authenticating with the
// given access token at handshake time.
type ITransport interface {
	Dial(ctx context.Context, token string) (IConn, error)
}

// IConn is one live connection. Events() delivers inbound events in the
// order the backend sent them and is closed when the connection drops.
type IConn interface {
	Emit(name string, payload any) error
	Events() <-chan event.SessionEvent
	Close() error
}

// SendMessagePayload is the body of an outbound send-message event.
type SendMessagePayload struct {
	RoomID  domain.RoomID `json:"roomId"`
	Content string        `json:"content"`
}

// PresencePayload is the body of inbound user-joined / user-left events.
type PresencePayload struct {
	RoomID domain.RoomID          `json:"roomId"`
	User   domain.MembershipEntry `json:"user"`
}

// RoomUpdatePayload is the body of an inbound room-update event.
type RoomUpdatePayload struct {
	RoomID      domain.RoomID `json:"roomId"`
	MemberCount int           `json:"memberCount"`
}
