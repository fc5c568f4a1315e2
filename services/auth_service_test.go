package services

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"roomsync/auth"
	"roomsync/domain"
	"roomsync/errors"
	"roomsync/httpapi"
	"roomsync/mocks"
	"roomsync/storage"
)

func newCredentialStore(t *testing.T) *storage.CredentialStore {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewCredentialStore(db, slog.Default())
}

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": expiresAt.Unix(),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestAuthSession_Login(t *testing.T) {
	t.Run("should expose identity and credential after login", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		access := signedToken(t, time.Now().Add(time.Hour))
		api := mocks.NewMockIAuthAPI(ctrl)
		api.EXPECT().
			Login(gomock.Any(), auth.LoginRequest{Username: "ann", Password: "secret-pass"}).
			Return(httpapi.AuthResponse{
				User:         domain.Identity{UserID: "u1", Username: "ann"},
				AccessToken:  access,
				RefreshToken: "refresh-1",
			}, nil)

		tokens := auth.NewTokenStore()
		session := NewAuthSession(api, tokens, newCredentialStore(t), slog.Default())

		identity, err := session.Login(context.Background(), "ann", "secret-pass")
		req.NoError(err)
		req.Equal("ann", identity.Username)
		req.True(session.IsAuthenticated())

		cred, ok := session.Credential()
		req.True(ok)
		req.Equal(access, cred.AccessToken)
		req.Equal("refresh-1", cred.RefreshToken)
		req.Equal(domain.ValidityValid, cred.Validity(time.Now()))
	})

	t.Run("should stay logged out on invalid credentials", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		api := mocks.NewMockIAuthAPI(ctrl)
		api.EXPECT().
			Login(gomock.Any(), gomock.Any()).
			Return(httpapi.AuthResponse{}, errors.ErrInvalidCredentials)

		session := NewAuthSession(api, auth.NewTokenStore(), newCredentialStore(t), slog.Default())

		_, err := session.Login(context.Background(), "ann", "wrong-password")
		req.ErrorIs(err, errors.ErrInvalidCredentials)
		req.False(session.IsAuthenticated())
		_, ok := session.Credential()
		req.False(ok)
	})
}

func TestAuthSession_Restore(t *testing.T) {
	t.Run("should restore a saved session from the store", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		store := newCredentialStore(t)
		access := signedToken(t, time.Now().Add(time.Hour))
		req.NoError(store.Save(
			domain.Credential{AccessToken: access, RefreshToken: "refresh-1"},
			domain.Identity{UserID: "u1", Username: "ann"},
		))

		session := NewAuthSession(mocks.NewMockIAuthAPI(ctrl), auth.NewTokenStore(), store, slog.Default())

		req.True(session.IsAuthenticated())
		identity, ok := session.CurrentIdentity()
		req.True(ok)
		req.Equal("ann", identity.Username)

		cred, ok := session.Credential()
		req.True(ok)
		req.WithinDuration(time.Now().Add(time.Hour), cred.ExpiresAt, 5*time.Second)
	})

	t.Run("should start logged out with an empty store", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		session := NewAuthSession(mocks.NewMockIAuthAPI(ctrl), auth.NewTokenStore(), newCredentialStore(t), slog.Default())
		req.False(session.IsAuthenticated())
	})
}

func TestAuthSession_Refresh(t *testing.T) {
	t.Run("should rotate the credential on success", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		rotated := signedToken(t, time.Now().Add(2*time.Hour))
		api := mocks.NewMockIAuthAPI(ctrl)
		api.EXPECT().
			Refresh(gomock.Any(), "refresh-1").
			Return(httpapi.AuthResponse{
				User:         domain.Identity{UserID: "u1", Username: "ann"},
				AccessToken:  rotated,
				RefreshToken: "refresh-2",
			}, nil)

		tokens := auth.NewTokenStore()
		tokens.Set(domain.Credential{AccessToken: "old", RefreshToken: "refresh-1"})
		session := NewAuthSession(api, tokens, newCredentialStore(t), slog.Default())

		_, err := session.Refresh(context.Background())
		req.NoError(err)

		cred, ok := tokens.Get()
		req.True(ok)
		req.Equal(rotated, cred.AccessToken)
		req.Equal("refresh-2", cred.RefreshToken)
	})

	t.Run("should fail without a stored credential", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		session := NewAuthSession(mocks.NewMockIAuthAPI(ctrl), auth.NewTokenStore(), newCredentialStore(t), slog.Default())
		_, err := session.Refresh(context.Background())
		req.ErrorIs(err, errors.ErrNotAuthenticated)
	})

	t.Run("should force logout when the refresh is rejected", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		store := newCredentialStore(t)
		req.NoError(store.Save(
			domain.Credential{AccessToken: "old", RefreshToken: "refresh-1"},
			domain.Identity{UserID: "u1", Username: "ann"},
		))

		api := mocks.NewMockIAuthAPI(ctrl)
		api.EXPECT().
			Refresh(gomock.Any(), "refresh-1").
			Return(httpapi.AuthResponse{}, errors.ErrRefreshRejected)

		tokens := auth.NewTokenStore()
		session := NewAuthSession(api, tokens, store, slog.Default())
		req.True(session.IsAuthenticated())

		_, err := session.Refresh(context.Background())
		req.ErrorIs(err, errors.ErrRefreshRejected)
		req.False(session.IsAuthenticated())
		_, _, ok := store.Load()
		req.False(ok)
		_, ok = tokens.Get()
		req.False(ok)
	})

	t.Run("should keep the session on a network error", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		api := mocks.NewMockIAuthAPI(ctrl)
		api.EXPECT().
			Refresh(gomock.Any(), "refresh-1").
			Return(httpapi.AuthResponse{}, errors.ErrNetwork)

		store := newCredentialStore(t)
		req.NoError(store.Save(
			domain.Credential{AccessToken: "old", RefreshToken: "refresh-1"},
			domain.Identity{UserID: "u1", Username: "ann"},
		))

		session := NewAuthSession(api, auth.NewTokenStore(), store, slog.Default())
		_, err := session.Refresh(context.Background())
		req.ErrorIs(err, errors.ErrNetwork)
		req.True(session.IsAuthenticated())
	})
}

func TestAuthSession_ForceLogout(t *testing.T) {
	t.Run("should clear everything exactly once", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		store := newCredentialStore(t)
		req.NoError(store.Save(
			domain.Credential{AccessToken: "tok", RefreshToken: "refresh-1"},
			domain.Identity{UserID: "u1", Username: "ann"},
		))

		session := NewAuthSession(mocks.NewMockIAuthAPI(ctrl), auth.NewTokenStore(), store, slog.Default())
		req.True(session.IsAuthenticated())

		session.ForceLogout()
		req.False(session.IsAuthenticated())
		_, _, ok := store.Load()
		req.False(ok)

		// Repeated 401s after the first are no-ops.
		session.ForceLogout()
		session.ForceLogout()
		req.False(session.IsAuthenticated())
	})
}

func TestAuthSession_Logout(t *testing.T) {
	t.Run("should be idempotent", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		store := newCredentialStore(t)
		req.NoError(store.Save(
			domain.Credential{AccessToken: "tok", RefreshToken: "refresh-1"},
			domain.Identity{UserID: "u1", Username: "ann"},
		))

		tokens := auth.NewTokenStore()
		session := NewAuthSession(mocks.NewMockIAuthAPI(ctrl), tokens, store, slog.Default())

		session.Logout()
		session.Logout()

		req.False(session.IsAuthenticated())
		_, ok := tokens.Get()
		req.False(ok)
		_, _, ok = store.Load()
		req.False(ok)
	})
}

func TestAuthSession_CheckAuthStatus(t *testing.T) {
	t.Run("should prove the session by refreshing", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		rotated := signedToken(t, time.Now().Add(time.Hour))
		api := mocks.NewMockIAuthAPI(ctrl)
		api.EXPECT().
			Refresh(gomock.Any(), "refresh-1").
			Return(httpapi.AuthResponse{
				User:        domain.Identity{UserID: "u1", Username: "ann"},
				AccessToken: rotated,
			}, nil)

		tokens := auth.NewTokenStore()
		tokens.Set(domain.Credential{AccessToken: "old", RefreshToken: "refresh-1"})
		session := NewAuthSession(api, tokens, newCredentialStore(t), slog.Default())

		req.True(session.CheckAuthStatus(context.Background()))
	})

	t.Run("should log out when no credential exists", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		defer ctrl.Finish()

		session := NewAuthSession(mocks.NewMockIAuthAPI(ctrl), auth.NewTokenStore(), newCredentialStore(t), slog.Default())
		req.False(session.CheckAuthStatus(context.Background()))
		req.False(session.IsAuthenticated())
	})
}
