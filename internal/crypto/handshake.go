package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/kem/kyber/kyber1024"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"umbra-chat/go-backend/internal/securestore"
)

var (
	ErrPINMismatch     = errors.New("pin does not open handshake frame")
	ErrBadHandshakeKey = errors.New("invalid handshake key material")
	ErrBadSealedBox    = errors.New("sealed box decryption failed")
	ErrAckMismatch     = errors.New("handshake confirmation signature mismatch")
)

const (
	pinDigits        = 10
	phase1SealLabel  = "umbra/handshake/phase1/v1"
	boxKeyLabel      = "umbra/handshake/box/v1"
	rootKeyLabel     = "umbra/handshake/root/v1"
	confirmKeyLabel  = "umbra/handshake/confirm/v1"
	ackContextPrefix = "umbra/handshake/ack/v1|"
)

// GeneratePIN draws a fresh 10-digit pairing code formatted for reading
// aloud, e.g. "483-920-1175". Bytes of 250 and above are discarded so
// every digit stays uniform.
func GeneratePIN() (string, error) {
	digits := make([]byte, 0, pinDigits)
	var raw [16]byte
	for len(digits) < pinDigits {
		if _, err := rand.Read(raw[:]); err != nil {
			return "", err
		}
		for _, b := range raw {
			if b >= 250 {
				continue
			}
			digits = append(digits, '0'+b%10)
			if len(digits) == pinDigits {
				break
			}
		}
	}
	return fmt.Sprintf("%s-%s-%s", digits[0:3], digits[3:6], digits[6:10]), nil
}

// NormalizePIN strips separators so "123-456-7890", "123 456 7890" and
// "1234567890" all derive the same key.
func NormalizePIN(pin string) (string, error) {
	var b strings.Builder
	for _, r := range pin {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == ' ':
		default:
			return "", fmt.Errorf("pin contains invalid character %q", r)
		}
	}
	if b.Len() != pinDigits {
		return "", fmt.Errorf("pin must have %d digits, got %d", pinDigits, b.Len())
	}
	return b.String(), nil
}

// ExchangeKeyPair is a long-lived x25519 pair published in the contact
// card and consumed by sealed boxes and the handshake DH.
type ExchangeKeyPair struct {
	Public  []byte
	Private []byte
}

func GenerateExchangeKeyPair() (ExchangeKeyPair, error) {
	private := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(private); err != nil {
		return ExchangeKeyPair{}, err
	}
	public, err := curve25519.X25519(private, curve25519.Basepoint)
	if err != nil {
		return ExchangeKeyPair{}, err
	}
	return ExchangeKeyPair{Public: public, Private: private}, nil
}

// KEMKeyPair is the post-quantum half of the handshake, Kyber1024 keys
// serialized for card transport and store persistence.
type KEMKeyPair struct {
	Public  []byte
	Private []byte
}

func GenerateKEMKeyPair() (KEMKeyPair, error) {
	pub, priv, err := kyber1024.Scheme().GenerateKeyPair()
	if err != nil {
		return KEMKeyPair{}, err
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return KEMKeyPair{}, err
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return KEMKeyPair{}, err
	}
	return KEMKeyPair{Public: pubBytes, Private: privBytes}, nil
}

// KEMEncapsulate wraps a fresh shared secret to the peer's Kyber1024
// public key, returning the ciphertext to ship and the secret to keep.
func KEMEncapsulate(peerPublic []byte) (ciphertext, shared []byte, err error) {
	pub, err := kyber1024.Scheme().UnmarshalBinaryPublicKey(peerPublic)
	if err != nil {
		return nil, nil, ErrBadHandshakeKey
	}
	return kyber1024.Scheme().Encapsulate(pub)
}

func KEMDecapsulate(private, ciphertext []byte) ([]byte, error) {
	priv, err := kyber1024.Scheme().UnmarshalBinaryPrivateKey(private)
	if err != nil {
		return nil, ErrBadHandshakeKey
	}
	shared, err := kyber1024.Scheme().Decapsulate(priv, ciphertext)
	if err != nil {
		return nil, ErrBadHandshakeKey
	}
	return shared, nil
}

// DHShared runs the classical x25519 agreement between one side's private
// exchange key and the peer's public one.
func DHShared(private, peerPublic []byte) ([]byte, error) {
	shared, err := curve25519.X25519(private, peerPublic)
	if err != nil {
		return nil, ErrBadHandshakeKey
	}
	return shared, nil
}

// SealWithPIN protects the very first handshake frame. Only someone who
// was told the PIN out of band can open it; the label keeps the envelope
// from doubling as a store file.
func SealWithPIN(pin string, plaintext []byte) ([]byte, error) {
	normalized, err := NormalizePIN(pin)
	if err != nil {
		return nil, err
	}
	env, err := securestore.EncryptEnvelope(normalized, phase1SealLabel, plaintext)
	if err != nil {
		return nil, err
	}
	return securestore.MarshalEnvelope(env)
}

func OpenWithPIN(pin string, sealed []byte) ([]byte, error) {
	normalized, err := NormalizePIN(pin)
	if err != nil {
		return nil, err
	}
	env, err := securestore.UnmarshalEnvelope(sealed)
	if err != nil {
		return nil, err
	}
	plaintext, err := securestore.DecryptEnvelope(normalized, phase1SealLabel, env)
	if err != nil {
		return nil, ErrPINMismatch
	}
	return plaintext, nil
}

// SealedBox is an anonymous-sender encryption to a peer's exchange key,
// used for the second handshake frame before any shared secret exists.
type SealedBox struct {
	EphemeralKey []byte `json:"ephemeral_key"`
	Nonce        []byte `json:"nonce"`
	Ciphertext   []byte `json:"ciphertext"`
}

func SealToExchangeKey(peerPublic, plaintext []byte) (SealedBox, error) {
	eph, err := GenerateExchangeKeyPair()
	if err != nil {
		return SealedBox{}, err
	}
	shared, err := curve25519.X25519(eph.Private, peerPublic)
	if err != nil {
		return SealedBox{}, ErrBadHandshakeKey
	}
	key := boxKey(shared, eph.Public, peerPublic)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return SealedBox{}, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return SealedBox{}, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	return SealedBox{EphemeralKey: eph.Public, Nonce: nonce, Ciphertext: ciphertext}, nil
}

func OpenSealedBox(private, public []byte, box SealedBox) ([]byte, error) {
	if len(box.EphemeralKey) != curve25519.PointSize || len(box.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, ErrBadSealedBox
	}
	shared, err := curve25519.X25519(private, box.EphemeralKey)
	if err != nil {
		return nil, ErrBadHandshakeKey
	}
	key := boxKey(shared, box.EphemeralKey, public)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, box.Nonce, box.Ciphertext, nil)
	if err != nil {
		return nil, ErrBadSealedBox
	}
	return plaintext, nil
}

func boxKey(shared, ephemeralPub, recipientPub []byte) []byte {
	seed := make([]byte, 0, len(shared)+len(ephemeralPub)+len(recipientPub))
	seed = append(seed, shared...)
	seed = append(seed, ephemeralPub...)
	seed = append(seed, recipientPub...)
	return kdf32(seed, []byte(boxKeyLabel))
}

// HandshakeTranscript binds both contact cards and the KEM ciphertext
// into one digest. Each component is length-prefixed so boundary games
// cannot produce a colliding transcript.
func HandshakeTranscript(initiatorCard, responderCard, kemCiphertext []byte) []byte {
	h := sha256.New()
	for _, part := range [][]byte{initiatorCard, responderCard, kemCiphertext} {
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(part)))
		h.Write(lenBuf[:])
		h.Write(part)
	}
	return h.Sum(nil)
}

// DeriveHandshakeRoot folds the classical and post-quantum secrets into
// the ratchet root. Compromise of either primitive alone leaves the root
// intact.
func DeriveHandshakeRoot(dhShared, kemShared, transcript []byte) ([]byte, error) {
	if len(dhShared) == 0 || len(kemShared) == 0 || len(transcript) == 0 {
		return nil, ErrBadHandshakeKey
	}
	seed := make([]byte, 0, len(dhShared)+len(kemShared)+len(transcript))
	seed = append(seed, dhShared...)
	seed = append(seed, kemShared...)
	seed = append(seed, transcript...)
	return kdf32(seed, []byte(rootKeyLabel)), nil
}

// SealConfirmation builds the third handshake frame: the transcript
// signature sealed under a root-derived key, proving the initiator holds
// both the signing key and the agreed root.
func SealConfirmation(rootKey []byte, signingKey ed25519.PrivateKey, transcript []byte) (ControlEnvelope, error) {
	if len(rootKey) != 32 {
		return ControlEnvelope{}, ErrInvalidRootKey
	}
	sig := SignHandshakeAck(signingKey, transcript)
	confirmKey := kdf32(rootKey, []byte(confirmKeyLabel))
	return SealControlFrame(confirmKey, "hs3", sig)
}

// OpenConfirmation unseals the third frame and checks the signature
// against the initiator's published signing key.
func OpenConfirmation(rootKey []byte, signerPublic ed25519.PublicKey, transcript []byte, env ControlEnvelope) error {
	if len(rootKey) != 32 {
		return ErrInvalidRootKey
	}
	confirmKey := kdf32(rootKey, []byte(confirmKeyLabel))
	sig, err := OpenControlFrame(confirmKey, "hs3", env)
	if err != nil {
		return err
	}
	if !VerifyHandshakeAck(signerPublic, transcript, sig) {
		return ErrAckMismatch
	}
	return nil
}

func SignHandshakeAck(signingKey ed25519.PrivateKey, transcript []byte) []byte {
	msg := append([]byte(ackContextPrefix), transcript...)
	return ed25519.Sign(signingKey, msg)
}

func VerifyHandshakeAck(signerPublic ed25519.PublicKey, transcript, sig []byte) bool {
	if len(signerPublic) != ed25519.PublicKeySize {
		return false
	}
	msg := append([]byte(ackContextPrefix), transcript...)
	return ed25519.Verify(signerPublic, msg, sig)
}
