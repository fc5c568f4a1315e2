//go:generate go run go.uber.org/mock/mockgen -source=api.go -destination=../mocks/mock_auth_api.go -package=mocks
package httpapi

import (
	"context"

	"roomsync/auth"
	"roomsync/domain"
)

// AuthResponse is the common payload of every /auth endpoint.
type AuthResponse struct {
	User         domain.Identity `json:"user"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken,omitempty"`
}

// IAuthAPI is the REST boundary consumed by the auth session. The transport
// behind it retries transient failures and intercepts 401s globally.
type IAuthAPI interface {
	Login(ctx context.Context, req auth.LoginRequest) (AuthResponse, error)
	Register(ctx context.Context, req auth.RegisterRequest) (AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (AuthResponse, error)
}
