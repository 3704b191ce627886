package storage

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"umbra-chat/go-backend/pkg/models"
)

func testCard(t *testing.T, identityID string) models.ContactCard {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate signing key failed: %v", err)
	}
	return models.ContactCard{
		IdentityID:   identityID,
		DisplayName:  "peer",
		SigningKey:   pub,
		ExchangeKey:  make([]byte, 32),
		KEMKey:       make([]byte, 1568),
		IntroAddress: "peerintro.onion",
		MsgAddress:   "peermsg.onion",
	}
}

func TestContactSigningKeyIsImmutable(t *testing.T) {
	s := NewContactStore()
	card := testCard(t, "umb1peer")
	if _, err := s.UpsertFromCard(card, models.FriendshipPendingSent, models.TrustEncrypted); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	swapped := testCard(t, "umb1peer") // fresh signing key, same identity
	if _, err := s.UpsertFromCard(swapped, models.FriendshipPendingSent, models.TrustEncrypted); !errors.Is(err, ErrContactKeyMismatch) {
		t.Fatalf("expected ErrContactKeyMismatch, got %v", err)
	}

	got, _ := s.Get("umb1peer")
	key, ok := s.SigningKey("umb1peer")
	if !ok || !ed25519.PublicKey(key).Equal(ed25519.PublicKey(got.SigningKey)) {
		t.Fatal("original signing key must survive the rejected upsert")
	}
}

func TestContactTrustNeverDrops(t *testing.T) {
	s := NewContactStore()
	card := testCard(t, "umb1peer")
	if _, err := s.UpsertFromCard(card, models.FriendshipPendingSent, models.TrustEncrypted); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := s.MarkVerified("umb1peer"); err != nil {
		t.Fatalf("mark verified failed: %v", err)
	}

	// A later card refresh arrives with routine protocol-level trust.
	updated, err := s.UpsertFromCard(card, models.FriendshipPendingSent, models.TrustEncrypted)
	if err != nil {
		t.Fatalf("refresh upsert failed: %v", err)
	}
	if updated.Trust != models.TrustVerified {
		t.Fatalf("trust dropped to %s", updated.Trust)
	}
}

func TestContactConfirmedFriendshipIsSticky(t *testing.T) {
	s := NewContactStore()
	card := testCard(t, "umb1peer")
	confirmed, err := s.UpsertFromCard(card, models.FriendshipConfirmed, models.TrustEncrypted)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if !confirmed.Friendship.Confirmed() || confirmed.ConfirmedAt.IsZero() {
		t.Fatalf("expected confirmed contact, got %+v", confirmed)
	}
	firstConfirmedAt := confirmed.ConfirmedAt

	later, err := s.UpsertFromCard(card, models.FriendshipPendingSent, models.TrustEncrypted)
	if err != nil {
		t.Fatalf("refresh upsert failed: %v", err)
	}
	if !later.Friendship.Confirmed() {
		t.Fatal("confirmed friendship must not regress")
	}
	if !later.ConfirmedAt.Equal(firstConfirmedAt) {
		t.Fatal("ConfirmedAt must keep its first value")
	}
}

func TestContactUpsertRefreshesAddresses(t *testing.T) {
	s := NewContactStore()
	card := testCard(t, "umb1peer")
	if _, err := s.UpsertFromCard(card, models.FriendshipConfirmed, models.TrustEncrypted); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	card.MsgAddress = "rotatedmsg.onion"
	card.DisplayName = "peer-renamed"
	updated, err := s.UpsertFromCard(card, models.FriendshipConfirmed, models.TrustEncrypted)
	if err != nil {
		t.Fatalf("refresh upsert failed: %v", err)
	}
	if updated.MsgAddress != "rotatedmsg.onion" || updated.DisplayName != "peer-renamed" {
		t.Fatalf("card refresh must update mutable fields: %+v", updated)
	}
}

func TestContactRemoveAndTouchLastSeen(t *testing.T) {
	s := NewContactStore()
	card := testCard(t, "umb1peer")
	if _, err := s.UpsertFromCard(card, models.FriendshipConfirmed, models.TrustEncrypted); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	seen := time.Now().UTC().Truncate(time.Second)
	if err := s.TouchLastSeen("umb1peer", seen); err != nil {
		t.Fatalf("touch last seen failed: %v", err)
	}
	got, _ := s.Get("umb1peer")
	if !got.LastSeen.Equal(seen) {
		t.Fatalf("expected last seen %v, got %v", seen, got.LastSeen)
	}

	if err := s.Remove("umb1peer"); err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if err := s.Remove("umb1peer"); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected ErrContactNotFound, got %v", err)
	}
}

func TestEncryptedPersistentContactStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.enc")
	store, err := NewEncryptedPersistentContactStore(path, "pass")
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	card := testCard(t, "umb1peer")
	if _, err := store.UpsertFromCard(card, models.FriendshipConfirmed, models.TrustVerified); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	reopened, err := NewEncryptedPersistentContactStore(path, "pass")
	if err != nil {
		t.Fatalf("reopen store failed: %v", err)
	}
	got, ok := reopened.Get("umb1peer")
	if !ok {
		t.Fatal("contact lost across restart")
	}
	if got.Trust != models.TrustVerified || !got.Friendship.Confirmed() {
		t.Fatalf("trust or friendship lost across restart: %+v", got)
	}
	if key, ok := reopened.SigningKey("umb1peer"); !ok || !ed25519.PublicKey(key).Equal(ed25519.PublicKey(card.SigningKey)) {
		t.Fatal("signing key lost across restart")
	}
}
