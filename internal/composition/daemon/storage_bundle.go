package daemon

import (
	"path/filepath"

	"umbra-chat/go-backend/internal/crypto"
	"umbra-chat/go-backend/internal/storage"
)

// StorageBundle is the full persistent store set for one data dir, all
// sealed under the same storage secret.
type StorageBundle struct {
	SessionStore crypto.SessionStore
	SkippedKeys  *storage.SkippedKeyStore
	Messages     *storage.MessageStore
	Requests     *storage.RequestStore
	Contacts     *storage.ContactStore
	Ledger       *storage.ReceivedLedger
	Signers      *storage.PendingPingStore
	IdentityPath string
}

func BuildStorageBundle(dataDir, secret string) (StorageBundle, error) {
	messages, err := storage.NewEncryptedPersistentMessageStore(filepath.Join(dataDir, "messages.json"), secret)
	if err != nil {
		return StorageBundle{}, err
	}
	requests, err := storage.NewEncryptedPersistentRequestStore(filepath.Join(dataDir, "requests.json"), secret)
	if err != nil {
		return StorageBundle{}, err
	}
	contacts, err := storage.NewEncryptedPersistentContactStore(filepath.Join(dataDir, "contacts.json"), secret)
	if err != nil {
		return StorageBundle{}, err
	}
	ledger, err := storage.NewEncryptedPersistentReceivedLedger(filepath.Join(dataDir, "ledger.json"), secret)
	if err != nil {
		return StorageBundle{}, err
	}
	signers, err := storage.NewEncryptedPersistentPendingPingStore(filepath.Join(dataDir, "pending_pings.json"), secret)
	if err != nil {
		return StorageBundle{}, err
	}
	skipped, err := storage.NewEncryptedPersistentSkippedKeyStore(filepath.Join(dataDir, "skipped_keys.json"), secret)
	if err != nil {
		return StorageBundle{}, err
	}

	return StorageBundle{
		SessionStore: crypto.NewEncryptedFileSessionStore(filepath.Join(dataDir, "sessions.json"), secret),
		SkippedKeys:  skipped,
		Messages:     messages,
		Requests:     requests,
		Contacts:     contacts,
		Ledger:       ledger,
		Signers:      signers,
		IdentityPath: filepath.Join(dataDir, "identity.enc"),
	}, nil
}
