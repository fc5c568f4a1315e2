// Package storage provides the session-lifetime credential store.
// It is the Go counterpart of the browser's sessionStorage: a key-value
// scope that lives exactly as long as the process and is cleared wholesale
// on logout.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"roomsync/domain"
)

const (
	keyAccessToken  = "accessToken"
	keyRefreshToken = "refreshToken"
	keyUser         = "user"
)

type CredentialStore struct {
	db  *badger.DB
	log *slog.Logger
}

// OpenInMemory opens a badger instance with no disk footprint. Session state
// is intentionally not durable across restarts.
func OpenInMemory() (*badger.DB, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening session store: %w", err)
	}
	return db, nil
}

func NewCredentialStore(db *badger.DB, log *slog.Logger) *CredentialStore {
	return &CredentialStore{db: db, log: log}
}

// Save persists the credential and its identity under the fixed keys.
func (s *CredentialStore) Save(cred domain.Credential, identity domain.Identity) error {
	user, err := json.Marshal(identity)
	if err != nil {
		return fmt.Errorf("encoding identity: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(keyAccessToken), []byte(cred.AccessToken)); err != nil {
			return err
		}
		if err := txn.Set([]byte(keyRefreshToken), []byte(cred.RefreshToken)); err != nil {
			return err
		}
		return txn.Set([]byte(keyUser), user)
	})
}

// Load restores a previously saved credential. The boolean is false when no
// access token is stored.
func (s *CredentialStore) Load() (domain.Credential, domain.Identity, bool) {
	var cred domain.Credential
	var identity domain.Identity

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyAccessToken))
		if err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error {
			cred.AccessToken = string(v)
			return nil
		}); err != nil {
			return err
		}

		if item, err := txn.Get([]byte(keyRefreshToken)); err == nil {
			_ = item.Value(func(v []byte) error {
				cred.RefreshToken = string(v)
				return nil
			})
		}

		item, err = txn.Get([]byte(keyUser))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &identity)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			s.log.Warn("failed to restore session", "error", err)
		}
		return domain.Credential{}, domain.Identity{}, false
	}
	return cred, identity, cred.AccessToken != ""
}

// Clear drops every stored key. Called on logout.
func (s *CredentialStore) Clear() error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range []string{keyAccessToken, keyRefreshToken, keyUser} {
			if err := txn.Delete([]byte(key)); err != nil {
				return err
			}
		}
		return nil
	})
}
