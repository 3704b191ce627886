package daemon

import (
	"errors"
	"fmt"
	"strings"

	"umbra-chat/go-backend/internal/securestore"
)

const DefaultDataDir = "data"

// ResolveStorage turns a data dir into an opened store bundle. A sealed
// dir opened with the wrong secret fails here, before any store is
// half-loaded.
func ResolveStorage(dataDir string) (resolvedDir, secret string, bundle StorageBundle, err error) {
	resolvedDir = strings.TrimSpace(dataDir)
	if resolvedDir == "" {
		resolvedDir = DefaultDataDir
	}

	secret, err = StoragePassphrase(resolvedDir)
	if err != nil {
		return "", "", StorageBundle{}, err
	}

	bundle, err = BuildStorageBundle(resolvedDir, secret)
	if err != nil {
		if errors.Is(err, securestore.ErrAuthFailed) {
			return "", "", StorageBundle{}, fmt.Errorf(
				"storage authentication failed: %s was sealed with a different secret, set %s to the original one: %w",
				resolvedDir,
				storagePassphraseEnv,
				err,
			)
		}
		return "", "", StorageBundle{}, err
	}
	return resolvedDir, secret, bundle, nil
}
