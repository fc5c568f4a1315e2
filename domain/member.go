package domain

import (
	"sort"
	"time"
)

// Role distinguishes the room owner from regular members.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

// MembershipEntry is one user's presence record in one room,
// keyed by (room, user).
type MembershipEntry struct {
	UserID   string    `json:"userId"`
	Username string    `json:"username"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
	Online   bool      `json:"isOnline"`
}

// SortMembers orders entries online-before-offline, then owner-before-member.
// The sort is stable: ties keep arrival order.
func SortMembers(members []MembershipEntry) {
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].Online != members[j].Online {
			return members[i].Online
		}
		if members[i].Role != members[j].Role {
			return members[i].Role == RoleOwner
		}
		return false
	})
}
