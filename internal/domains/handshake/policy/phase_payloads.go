package policy

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"strings"

	"umbra-chat/go-backend/pkg/models"
)

// x25519 public key length.
const exchangeKeySize = 32

var (
	errCardIdentityRequired = errors.New("contact card is missing its identity id")
	errCardKeysIncomplete   = errors.New("contact card is missing key material")
	errCardAddressesMissing = errors.New("contact card is missing service addresses")
	errCardSignatureMissing = errors.New("contact card carries no usable signature")
	errPhase2BodyInvalid    = errors.New("phase 2 payload is malformed")
)

// Phase2Body is the plaintext the responder seals to the initiator's
// exchange key: its own signed card plus the KEM ciphertext that binds
// the post-quantum half of the root key.
type Phase2Body struct {
	Card          models.ContactCard `json:"card"`
	KEMCiphertext []byte             `json:"kem_ciphertext"`
}

func MarshalPhase2Body(body Phase2Body) ([]byte, error) {
	return json.Marshal(body)
}

func ParsePhase2Body(raw []byte) (Phase2Body, error) {
	var body Phase2Body
	if err := json.Unmarshal(raw, &body); err != nil {
		return Phase2Body{}, errPhase2BodyInvalid
	}
	if err := EnsureCompleteCard(body.Card); err != nil {
		return Phase2Body{}, err
	}
	if len(body.KEMCiphertext) == 0 {
		return Phase2Body{}, errPhase2BodyInvalid
	}
	return body, nil
}

// EnsureCompleteCard checks shape only; signature verification is the
// identity domain's job.
func EnsureCompleteCard(card models.ContactCard) error {
	if strings.TrimSpace(card.IdentityID) == "" {
		return errCardIdentityRequired
	}
	if len(card.SigningKey) != ed25519.PublicKeySize || len(card.ExchangeKey) != exchangeKeySize || len(card.KEMKey) == 0 {
		return errCardKeysIncomplete
	}
	if strings.TrimSpace(card.IntroAddress) == "" || strings.TrimSpace(card.MsgAddress) == "" {
		return errCardAddressesMissing
	}
	if len(card.Signature) != ed25519.SignatureSize {
		return errCardSignatureMissing
	}
	return nil
}
