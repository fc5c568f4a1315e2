package services

import (
	"context"
	"log/slog"
	"sync"

	"roomsync/auth"
	"roomsync/domain"
	"roomsync/errors"
	"roomsync/httpapi"
	"roomsync/storage"
)

type IAuthSession interface {
	Login(ctx context.Context, username, password string) (domain.Identity, error)
	Register(ctx context.Context, username, email, password string) (domain.Identity, error)
	Refresh(ctx context.Context) (domain.Identity, error)
	Logout()
	CheckAuthStatus(ctx context.Context) bool
	CurrentIdentity() (domain.Identity, bool)
	IsAuthenticated() bool
	Credential() (domain.Credential, bool)
}

// AuthSession owns the credential lifecycle: login, refresh, logout, and the
// forced logout fired by any 401 anywhere in the system. The token store is
// a passive slot; all decisions live here.
type AuthSession struct {
	api    httpapi.IAuthAPI
	tokens *auth.TokenStore
	store  *storage.CredentialStore
	log    *slog.Logger

	mu            sync.Mutex
	identity      domain.Identity
	authenticated bool
}

// NewAuthSession restores any previously saved session from the credential
// store, mirroring a page reload picking up sessionStorage.
func NewAuthSession(api httpapi.IAuthAPI, tokens *auth.TokenStore, store *storage.CredentialStore, log *slog.Logger) *AuthSession {
	s := &AuthSession{api: api, tokens: tokens, store: store, log: log}

	if cred, identity, ok := store.Load(); ok {
		if expiry, err := auth.TokenExpiry(cred.AccessToken); err == nil {
			cred.ExpiresAt = expiry
		}
		tokens.Set(cred)
		s.identity = identity
		s.authenticated = true
		log.Info("restored saved session", "user", identity.Username)
	}
	return s
}

func (s *AuthSession) Login(ctx context.Context, username, password string) (domain.Identity, error) {
	resp, err := s.api.Login(ctx, auth.LoginRequest{Username: username, Password: password})
	if err != nil {
		return domain.Identity{}, err
	}
	return s.setAuthData(resp), nil
}

func (s *AuthSession) Register(ctx context.Context, username, email, password string) (domain.Identity, error) {
	resp, err := s.api.Register(ctx, auth.RegisterRequest{Username: username, Email: email, Password: password})
	if err != nil {
		return domain.Identity{}, err
	}
	return s.setAuthData(resp), nil
}

// Refresh rotates the credential using the stored refresh material.
// A rejected refresh is irrecoverable and logs the session out; a network
// error leaves state untouched so the caller may retry.
func (s *AuthSession) Refresh(ctx context.Context) (domain.Identity, error) {
	cred, ok := s.tokens.Get()
	if !ok {
		return domain.Identity{}, errors.ErrNotAuthenticated
	}

	resp, err := s.api.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if errors.Is(err, errors.ErrRefreshRejected) {
			s.ForceLogout()
		}
		return domain.Identity{}, err
	}
	return s.setAuthData(resp), nil
}

// Logout clears the credential, identity, and persisted session. Idempotent.
func (s *AuthSession) Logout() {
	s.mu.Lock()
	s.identity = domain.Identity{}
	s.authenticated = false
	s.mu.Unlock()

	s.tokens.Clear()
	if err := s.store.Clear(); err != nil {
		s.log.Warn("failed to clear credential store", "error", err)
	}
}

// ForceLogout is the 401 interception hook. It performs the logout at most
// once per authenticated session and never issues further calls, so a 401
// returned by refresh itself cannot recurse.
func (s *AuthSession) ForceLogout() {
	s.mu.Lock()
	if !s.authenticated {
		s.mu.Unlock()
		return
	}
	s.identity = domain.Identity{}
	s.authenticated = false
	s.mu.Unlock()

	s.log.Warn("session terminated by 401, logging out")
	s.tokens.Clear()
	if err := s.store.Clear(); err != nil {
		s.log.Warn("failed to clear credential store", "error", err)
	}
}

// CheckAuthStatus reports whether a usable session exists, refreshing the
// credential to prove it. Any failure leaves the session logged out.
func (s *AuthSession) CheckAuthStatus(ctx context.Context) bool {
	if _, ok := s.tokens.Get(); !ok {
		s.Logout()
		return false
	}
	if _, err := s.Refresh(ctx); err != nil {
		s.Logout()
		return false
	}
	return true
}

func (s *AuthSession) CurrentIdentity() (domain.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity, s.authenticated
}

func (s *AuthSession) IsAuthenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Credential returns a snapshot for connect-time use. Later rotations are
// not visible through the snapshot.
func (s *AuthSession) Credential() (domain.Credential, bool) {
	if !s.IsAuthenticated() {
		return domain.Credential{}, false
	}
	return s.tokens.Get()
}

func (s *AuthSession) setAuthData(resp httpapi.AuthResponse) domain.Identity {
	cred := domain.Credential{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	if expiry, err := auth.TokenExpiry(resp.AccessToken); err == nil {
		cred.ExpiresAt = expiry
	}

	s.tokens.Set(cred)
	if err := s.store.Save(cred, resp.User); err != nil {
		s.log.Warn("failed to persist session", "error", err)
	}

	s.mu.Lock()
	s.identity = resp.User
	s.authenticated = true
	s.mu.Unlock()

	return resp.User
}
