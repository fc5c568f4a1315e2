// Package domain contains core concepts of the room session engine.
// This file defines the access credential and its validity states.
// No network or storage logic should be added here.
package domain

import "time"

// Validity is the lifecycle state of a credential. It only moves forward
// (valid to expired) unless the credential is replaced by a fresh login
// or refresh.
type Validity int

const (
	ValidityAbsent Validity = iota
	ValidityExpired
	ValidityValid
)

func (v Validity) String() string {
	switch v {
	case ValidityAbsent:
		return "absent"
	case ValidityExpired:
		return "expired"
	case ValidityValid:
		return "valid"
	default:
		return "unknown"
	}
}

// Credential holds the opaque access token plus optional refresh material.
// It is a value: the connection reads a snapshot at dial time and never
// observes later rotations.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Validity reports the credential state at the given instant.
// A zero ExpiresAt means the token carries no readable expiry and is
// treated as valid until the server says otherwise.
func (c Credential) Validity(now time.Time) Validity {
	if c.AccessToken == "" {
		return ValidityAbsent
	}
	if !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt) {
		return ValidityExpired
	}
	return ValidityValid
}
