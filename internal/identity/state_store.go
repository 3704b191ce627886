package identity

import (
	"errors"
	"io/fs"

	"umbra-chat/go-backend/internal/securestore"
)

// StateStore persists a manager's private key material as one encrypted
// file so the daemon comes back up with the same identity. An
// unconfigured store is a no-op, which is what in-memory tests get.
type StateStore struct {
	path   string
	secret string
}

func NewStateStore() *StateStore {
	return &StateStore{}
}

func (s *StateStore) Configure(path, secret string) {
	s.path, s.secret = securestore.NormalizeStorageConfig(path, secret)
}

// Bootstrap loads the persisted state into the manager. A missing file
// is not an error: whatever identity the manager already holds is
// persisted instead, so first boot seeds the file.
func (s *StateStore) Bootstrap(manager *Manager) error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	var state persistedIdentityState
	if err := securestore.ReadEncryptedJSON(s.path, s.secret, &state); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s.Persist(manager)
		}
		return err
	}
	if state.Version != 1 || len(state.Private.SigningKey) == 0 {
		return errors.New("identity persistence payload is invalid")
	}
	return manager.RestorePrivateState(state.Private)
}

func (s *StateStore) Persist(manager *Manager) error {
	if !securestore.IsStorageConfigured(s.path, s.secret) {
		return nil
	}
	state := persistedIdentityState{Version: 1, Private: manager.ExportPrivateState()}
	if len(state.Private.SigningKey) == 0 {
		return nil
	}
	return securestore.WriteEncryptedJSON(s.path, s.secret, state)
}

type persistedIdentityState struct {
	Version int          `json:"version"`
	Private PrivateState `json:"private"`
}
