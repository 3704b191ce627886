package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"umbra-chat/go-backend/internal/securestore"
)

// writeSnapshot persists one store's full state, optionally encrypted,
// through a temp file so a crash cannot leave a torn snapshot.
func writeSnapshot(path, secret string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if secret != "" {
		data, err = securestore.Encrypt(secret, data)
		if err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// readSnapshot loads a store file into v. A missing file is a clean empty
// store; plaintext files written before encryption was enabled still load.
func readSnapshot(path, secret string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	decoded := data
	if secret != "" {
		plain, err := securestore.Decrypt(secret, data)
		if err != nil {
			if !errors.Is(err, securestore.ErrLegacyData) {
				return err
			}
		} else {
			decoded = plain
		}
	}
	return json.Unmarshal(decoded, v)
}
