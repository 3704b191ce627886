package storage

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"sort"
	"sync"
	"time"

	"umbra-chat/go-backend/pkg/models"
)

var (
	ErrContactNotFound    = errors.New("contact not found")
	ErrContactKeyMismatch = errors.New("contact signing key mismatch")
)

// ContactStore holds confirmed and pending contacts. A contact's signing
// key is written once; any later upsert carrying a different key is
// rejected rather than silently replacing a friend.
type ContactStore struct {
	mu       sync.RWMutex
	contacts map[string]models.Contact
	path     string
	secret   string
}

func NewContactStore() *ContactStore {
	return &ContactStore{contacts: make(map[string]models.Contact)}
}

func NewEncryptedPersistentContactStore(path, passphrase string) (*ContactStore, error) {
	s := &ContactStore{
		contacts: make(map[string]models.Contact),
		path:     path,
		secret:   passphrase,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// UpsertFromCard inserts or refreshes a contact from a verified card.
// Trust never drops and the signing key is immutable once known.
func (s *ContactStore) UpsertFromCard(card models.ContactCard, friendship models.FriendshipStatus, trust models.TrustLevel) (models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	contact := models.Contact{
		ID:           card.IdentityID,
		DisplayName:  card.DisplayName,
		SigningKey:   append([]byte(nil), card.SigningKey...),
		ExchangeKey:  append([]byte(nil), card.ExchangeKey...),
		KEMKey:       append([]byte(nil), card.KEMKey...),
		IntroAddress: card.IntroAddress,
		MsgAddress:   card.MsgAddress,
		Trust:        trust,
		Friendship:   friendship,
		AddedAt:      now,
	}
	if existing, ok := s.contacts[card.IdentityID]; ok {
		if len(existing.SigningKey) == ed25519.PublicKeySize && !bytes.Equal(existing.SigningKey, card.SigningKey) {
			return models.Contact{}, ErrContactKeyMismatch
		}
		contact.AddedAt = existing.AddedAt
		contact.ConfirmedAt = existing.ConfirmedAt
		contact.LastSeen = existing.LastSeen
		contact.Trust = models.MergeTrustLevel(existing.Trust, trust)
		if existing.Friendship.Confirmed() {
			contact.Friendship = existing.Friendship
		}
	}
	if friendship.Confirmed() && contact.ConfirmedAt.IsZero() {
		contact.ConfirmedAt = now
	}

	next := cloneContactsMap(s.contacts)
	next[contact.ID] = contact
	if err := s.persistLocked(next); err != nil {
		return models.Contact{}, err
	}
	s.contacts = next
	return contact, nil
}

func (s *ContactStore) Get(contactID string) (models.Contact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contact, ok := s.contacts[contactID]
	return contact, ok
}

func (s *ContactStore) List() []models.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Contact, 0, len(s.contacts))
	for _, c := range s.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out
}

func (s *ContactStore) Remove(contactID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contacts[contactID]; !ok {
		return ErrContactNotFound
	}
	next := cloneContactsMap(s.contacts)
	delete(next, contactID)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.contacts = next
	return nil
}

// SigningKey returns the contact's signing key for pong and payload
// signer checks.
func (s *ContactStore) SigningKey(contactID string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	contact, ok := s.contacts[contactID]
	if !ok || len(contact.SigningKey) != ed25519.PublicKeySize {
		return nil, false
	}
	return append([]byte(nil), contact.SigningKey...), true
}

func (s *ContactStore) TouchLastSeen(contactID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact, ok := s.contacts[contactID]
	if !ok {
		return ErrContactNotFound
	}
	contact.LastSeen = at
	next := cloneContactsMap(s.contacts)
	next[contactID] = contact
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.contacts = next
	return nil
}

// MarkVerified lifts the contact to the out-of-band verified trust level.
func (s *ContactStore) MarkVerified(contactID string) (models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	contact, ok := s.contacts[contactID]
	if !ok {
		return models.Contact{}, ErrContactNotFound
	}
	contact.Trust = models.MergeTrustLevel(contact.Trust, models.TrustVerified)
	next := cloneContactsMap(s.contacts)
	next[contactID] = contact
	if err := s.persistLocked(next); err != nil {
		return models.Contact{}, err
	}
	s.contacts = next
	return contact, nil
}

func (s *ContactStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	var snapshot struct {
		Contacts map[string]models.Contact `json:"contacts"`
	}
	if err := readSnapshot(s.path, s.secret, &snapshot); err != nil {
		return err
	}
	if snapshot.Contacts != nil {
		s.contacts = snapshot.Contacts
	}
	return nil
}

func (s *ContactStore) persistLocked(contacts map[string]models.Contact) error {
	if s.path == "" {
		return nil
	}
	snapshot := struct {
		Contacts map[string]models.Contact `json:"contacts"`
	}{Contacts: contacts}
	return writeSnapshot(s.path, s.secret, snapshot)
}

func cloneContactsMap(in map[string]models.Contact) map[string]models.Contact {
	out := make(map[string]models.Contact, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
