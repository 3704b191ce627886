package daemonservice

import (
	"errors"
	"strings"

	"umbra-chat/go-backend/internal/domains/contracts"
	identitypolicy "umbra-chat/go-backend/internal/domains/identity/policy"
	"umbra-chat/go-backend/internal/identity"
	"umbra-chat/go-backend/pkg/models"
)

var errFingerprintMismatch = errors.New("fingerprint does not match the stored signing key")

func (s *Service) GetIdentity() (models.Identity, error) {
	local := s.identityManager.GetIdentity()
	if local.ID == "" {
		return models.Identity{}, identity.ErrNoIdentity
	}
	return local, nil
}

// CreateIdentity derives a seed-backed identity and hands the mnemonic
// back exactly once. Onion addresses are bound later, when networking
// starts and the hidden services come up.
func (s *Service) CreateIdentity(displayName, password string) (id models.Identity, mnemonic string, err error) {
	defer s.trackOperation("identity.create", &err)()
	displayName, err = identitypolicy.ValidateDisplayName(displayName)
	if err != nil {
		return models.Identity{}, "", contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, err)
	}
	id, mnemonic, err = s.identityManager.CreateIdentity(displayName, password)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.Identity{}, "", err
	}
	s.persistIdentityState("identity.create")
	s.notify("notify.identity.created", map[string]any{
		"identity_id":  id.ID,
		"display_name": id.DisplayName,
	})
	return id, mnemonic, nil
}

func (s *Service) ImportIdentity(mnemonic, password, displayName string) (id models.Identity, err error) {
	defer s.trackOperation("identity.import", &err)()
	displayName, err = identitypolicy.ValidateDisplayName(displayName)
	if err != nil {
		return models.Identity{}, contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, err)
	}
	id, err = s.identityManager.ImportIdentity(mnemonic, password, displayName)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.Identity{}, err
	}
	s.persistIdentityState("identity.import")
	s.notify("notify.identity.created", map[string]any{
		"identity_id":  id.ID,
		"display_name": id.DisplayName,
	})
	return id, nil
}

func (s *Service) ValidateMnemonic(mnemonic string) bool {
	return s.identityManager.ValidateMnemonic(mnemonic)
}

// ExportBackup re-derives the mnemonic from the stored seed envelope.
// The password gate is the whole point: a running daemon must not leak
// the seed to anyone who can reach the RPC socket.
func (s *Service) ExportBackup(password string) (mnemonic string, err error) {
	defer s.trackOperation("identity.backup", &err)()
	mnemonic, err = s.identityManager.ExportSeed(password)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return "", err
	}
	return mnemonic, nil
}

func (s *Service) ListContacts() (contacts []models.Contact, err error) {
	defer s.trackOperation("contact.list", &err)()
	return s.contactStore.List(), nil
}

// VerifyContact compares a fingerprint the user read over a second
// channel against the stored signing key and, on a match, raises the
// contact to verified. Trust never drops here; a mismatch is an error,
// not a downgrade.
func (s *Service) VerifyContact(contactID, fingerprint string) (contact models.Contact, err error) {
	defer s.trackOperation("contact.verify", &err)()
	contactID, err = identitypolicy.ValidateContactID(contactID)
	if err != nil {
		return models.Contact{}, contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, err)
	}
	fingerprint = strings.TrimSpace(fingerprint)

	stored, ok := s.contactStore.Get(contactID)
	if !ok {
		err = contracts.WrapCategorizedError(contracts.ErrorCategoryAPI, errors.New("contact is not known"))
		return models.Contact{}, err
	}
	if identitypolicy.Fingerprint(stored.SigningKey) != fingerprint {
		err = errFingerprintMismatch
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.Contact{}, err
	}
	contact, err = s.contactStore.MarkVerified(contactID)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.Contact{}, err
	}
	s.notify("notify.contact.verified", map[string]any{
		"contact_id": contact.ID,
	})
	return contact, nil
}

func (s *Service) persistIdentityState(operation string) {
	if err := s.identityState.Persist(s.identityManager); err != nil {
		s.recordErrorWithContext(contracts.ErrorCategoryStorage, err, operation, "n/a")
	}
}
