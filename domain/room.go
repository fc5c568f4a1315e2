package domain

// RoomID identifies a chat room. It is supplied by the backend and never
// generated by this engine.
type RoomID string
