package auth

import (
	"sync"

	"roomsync/domain"
)

// TokenStore is a passive slot for the current credential. It performs no
// validation; AuthSession owns the credential lifecycle.
type TokenStore struct {
	mu   sync.RWMutex
	cred domain.Credential
	set  bool
}

func NewTokenStore() *TokenStore {
	return &TokenStore{}
}

func (s *TokenStore) Set(cred domain.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
	s.set = true
}

func (s *TokenStore) Get() (domain.Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred, s.set
}

func (s *TokenStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = domain.Credential{}
	s.set = false
}
