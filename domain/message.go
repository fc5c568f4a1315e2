// Package domain contains core concepts of the room session engine.
// This file defines Message values and related rules.
// Messages are immutable once created.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageKind separates user-authored text from synthesized system notices.
type MessageKind string

const (
	KindText   MessageKind = "text"
	KindSystem MessageKind = "system"
)

// SystemSenderID is the reserved sender for synthesized messages.
const SystemSenderID = "system"

// Message represents an immutable chat event within one room.
// ID is unique within the room's log.
type Message struct {
	ID         string      `json:"id"`
	RoomID     RoomID      `json:"roomId"`
	SenderID   string      `json:"userId"`
	SenderName string      `json:"username"`
	Content    string      `json:"content"`
	Timestamp  time.Time   `json:"timestamp"`
	Kind       MessageKind `json:"type"`
}

// NewSystemMessage synthesizes a membership notice for the room log.
// The id is generated locally; system messages never come from the server.
func NewSystemMessage(roomID RoomID, content string) Message {
	return Message{
		ID:         fmt.Sprintf("system-%s", uuid.New()),
		RoomID:     roomID,
		SenderID:   SystemSenderID,
		SenderName: "System",
		Content:    content,
		Timestamp:  time.Now().UTC(),
		Kind:       KindSystem,
	}
}
