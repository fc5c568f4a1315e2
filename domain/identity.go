package domain

// Identity is the authenticated user attached to the current credential.
type Identity struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
}
