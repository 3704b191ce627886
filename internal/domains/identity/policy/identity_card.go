package policy

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"umbra-chat/go-backend/pkg/models"

	"github.com/mr-tron/base58/base58"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrInvalidContactCard = fmt.Errorf("invalid contact card")
	ErrIdentityMismatch   = fmt.Errorf("identity_id does not match signing key")
)

func BuildIdentityID(signingPublicKey []byte) (string, error) {
	if len(signingPublicKey) != ed25519.PublicKeySize {
		return "", fmt.Errorf("invalid signing public key size: %d", len(signingPublicKey))
	}
	h := blake2b.Sum256(signingPublicKey)
	return "umb1" + base58.Encode(h[:]), nil
}

func VerifyIdentityID(identityID string, signingPublicKey []byte) (bool, error) {
	expected, err := BuildIdentityID(signingPublicKey)
	if err != nil {
		return false, err
	}
	return identityID == expected, nil
}

// Fingerprint renders a short human-comparable digest of a signing key.
// Two users reading the same fingerprint aloud have verified the same
// key; the truncation keeps it short enough to compare over a call.
func Fingerprint(signingPublicKey []byte) string {
	h := blake2b.Sum256(signingPublicKey)
	return base58.Encode(h[:10])
}

// SignContactCard binds every public key and both onion addresses under
// the identity's signing key. A card with a swapped exchange key or a
// redirected address fails verification.
func SignContactCard(card models.ContactCard, privateKey ed25519.PrivateKey) (models.ContactCard, error) {
	if privateKey == nil || len(card.SigningKey) != ed25519.PublicKeySize {
		return models.ContactCard{}, ErrInvalidContactCard
	}
	if ok, err := VerifyIdentityID(card.IdentityID, card.SigningKey); err != nil || !ok {
		if err != nil {
			return models.ContactCard{}, err
		}
		return models.ContactCard{}, ErrIdentityMismatch
	}
	card.Signature = ed25519.Sign(privateKey, contactCardSigningBytes(card))
	return card, nil
}

func VerifyContactCard(card models.ContactCard) (bool, error) {
	if len(card.SigningKey) != ed25519.PublicKeySize || len(card.Signature) != ed25519.SignatureSize {
		return false, ErrInvalidContactCard
	}
	ok, err := VerifyIdentityID(card.IdentityID, card.SigningKey)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, ErrIdentityMismatch
	}
	return ed25519.Verify(card.SigningKey, contactCardSigningBytes(card), card.Signature), nil
}

// contactCardSigningBytes is the canonical length-prefixed encoding over
// which card signatures are made and checked.
func contactCardSigningBytes(card models.ContactCard) []byte {
	parts := [][]byte{
		[]byte(card.IdentityID),
		[]byte(card.DisplayName),
		card.SigningKey,
		card.ExchangeKey,
		card.KEMKey,
		[]byte(card.IntroAddress),
		[]byte(card.MsgAddress),
	}
	size := 0
	for _, p := range parts {
		size += 4 + len(p)
	}
	b := make([]byte, 0, size)
	for _, p := range parts {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p)))
		b = append(b, lenBuf[:]...)
		b = append(b, p...)
	}
	return b
}
