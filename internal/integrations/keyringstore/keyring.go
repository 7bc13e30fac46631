// Package keyringstore caches the Bitwarden session token in the operating
// system keyring so repeated runs do not have to unlock the vault again.
package keyringstore

import (
	"errors"
	"strings"

	"github.com/zalando/go-keyring"
)

const ServiceName = "agentkeys"
const sessionAccount = "bw-session"

type Store struct {
	service string
}

func New() *Store {
	return &Store{service: ServiceName}
}

// LoadSession returns the cached session token, or "" when none is stored.
func (s *Store) LoadSession() (string, error) {
	raw, err := keyring.Get(s.service, sessionAccount)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

func (s *Store) SaveSession(token string) error {
	if strings.TrimSpace(token) == "" {
		return errors.New("refusing to cache an empty session token")
	}
	return keyring.Set(s.service, sessionAccount, token)
}

func (s *Store) ClearSession() error {
	if err := keyring.Delete(s.service, sessionAccount); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
