package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"
	"time"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidRootKey    = errors.New("invalid root key")
	ErrInvalidContact    = errors.New("invalid conversation id")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSequenceTooFar    = errors.New("sequence beyond skip window")
	ErrSkippedKeyMissing = errors.New("no stored key for sequence")
	ErrDecryptFailed     = errors.New("payload decryption failed")
)

// maxSkipAhead bounds how far a single arrival may jump past the expected
// receive counter. A larger jump is treated as a per-message decryption
// failure rather than filling the vault with thousands of keys.
const maxSkipAhead = 512

// SessionState is the full ratchet state for one conversation. The root
// key comes out of the friend handshake; each direction advances its own
// chain one derivation per message.
type SessionState struct {
	ConversationID string    `json:"conversation_id"`
	RootKey        []byte    `json:"root_key"`
	ControlKey     []byte    `json:"control_key"`
	SendChainKey   []byte    `json:"send_chain_key"`
	RecvChainKey   []byte    `json:"recv_chain_key"`
	SendCounter    uint64    `json:"send_counter"`
	RecvCounter    uint64    `json:"recv_counter"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type SessionStore interface {
	Save(state SessionState) error
	Get(conversationID string) (SessionState, bool, error)
	All() ([]SessionState, error)
}

// SkippedKeyVault holds message keys that out-of-order arrivals jumped
// over. Consume must remove the row in the same atomic step that returns
// it, so a key can decrypt at most one message.
type SkippedKeyVault interface {
	Put(conversationID string, sequence uint64, key []byte) error
	Consume(conversationID string, sequence uint64) ([]byte, bool, error)
}

type SessionManager struct {
	store SessionStore
	vault SkippedKeyVault
}

func NewSessionManager(store SessionStore, vault SkippedKeyVault) *SessionManager {
	return &SessionManager{store: store, vault: vault}
}

// InitSession seeds a fresh ratchet from the handshake root. Both sides
// derive the same two chains; the initiator flag decides which chain each
// side sends on.
func (m *SessionManager) InitSession(conversationID string, rootKey []byte, initiator bool) (SessionState, error) {
	if conversationID == "" {
		return SessionState{}, ErrInvalidContact
	}
	if len(rootKey) != 32 {
		return SessionState{}, ErrInvalidRootKey
	}

	initChain := kdf32(rootKey, []byte("umbra/ratchet/chain/init/v1"))
	respChain := kdf32(rootKey, []byte("umbra/ratchet/chain/resp/v1"))
	sendCK, recvCK := initChain, respChain
	if !initiator {
		sendCK, recvCK = respChain, initChain
	}

	now := time.Now().UTC()
	state := SessionState{
		ConversationID: conversationID,
		RootKey:        append([]byte(nil), rootKey...),
		ControlKey:     kdf32(rootKey, []byte("umbra/control/v1")),
		SendChainKey:   sendCK,
		RecvChainKey:   recvCK,
		SendCounter:    0,
		RecvCounter:    0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.Save(state); err != nil {
		return SessionState{}, err
	}
	return state, nil
}

func (m *SessionManager) GetSession(conversationID string) (SessionState, bool, error) {
	return m.store.Get(conversationID)
}

func (m *SessionManager) Snapshot() ([]SessionState, error) {
	return m.store.All()
}

// ControlKey returns the static key for ping/pong/tap/ack frames of one
// conversation. Control frames do not advance the ratchet.
func (m *SessionManager) ControlKey(conversationID string) ([]byte, error) {
	state, ok, err := m.store.Get(conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	return append([]byte(nil), state.ControlKey...), nil
}

// EncryptPayload seals plaintext under the next send-chain key and
// advances the chain. Callers cache the result and retransmit it verbatim;
// this method is invoked exactly once per message.
func (m *SessionManager) EncryptPayload(conversationID, messageID string, plaintext []byte) (PayloadEnvelope, error) {
	state, ok, err := m.store.Get(conversationID)
	if err != nil {
		return PayloadEnvelope{}, err
	}
	if !ok {
		return PayloadEnvelope{}, ErrSessionNotFound
	}

	sequence := state.SendCounter
	msgKey, nextChainKey := deriveMessageKey(state.SendChainKey, sequence)
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return PayloadEnvelope{}, err
	}
	aead, err := chacha20poly1305.NewX(msgKey)
	if err != nil {
		return PayloadEnvelope{}, err
	}
	ad := payloadAAD(conversationID, messageID, sequence)
	ciphertext := aead.Seal(nil, nonce, plaintext, ad)

	state.SendCounter = sequence + 1
	state.SendChainKey = nextChainKey
	state.UpdatedAt = time.Now().UTC()
	if err := m.store.Save(state); err != nil {
		return PayloadEnvelope{}, err
	}
	return PayloadEnvelope{
		Version:    1,
		MessageID:  messageID,
		Sequence:   sequence,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// DecryptPayload opens an inbound payload. Sequences behind the expected
// counter are served from the vault and consumed; sequences ahead derive
// and bank the keys they jump over. Nothing is persisted unless the
// ciphertext authenticates, so a failed decrypt cannot advance the chain.
func (m *SessionManager) DecryptPayload(conversationID string, env PayloadEnvelope) ([]byte, error) {
	if err := ValidateEnvelope(env); err != nil {
		return nil, err
	}
	state, ok, err := m.store.Get(conversationID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSessionNotFound
	}

	if env.Sequence < state.RecvCounter {
		key, found, err := m.vault.Consume(conversationID, env.Sequence)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrSkippedKeyMissing
		}
		return openPayload(key, conversationID, env)
	}

	gap := env.Sequence - state.RecvCounter
	if gap > maxSkipAhead {
		return nil, ErrSequenceTooFar
	}

	type bankedKey struct {
		sequence uint64
		key      []byte
	}
	banked := make([]bankedKey, 0, gap)
	chainKey := state.RecvChainKey
	index := state.RecvCounter
	for index < env.Sequence {
		skippedKey, nextChainKey := deriveMessageKey(chainKey, index)
		banked = append(banked, bankedKey{sequence: index, key: skippedKey})
		chainKey = nextChainKey
		index++
	}
	msgKey, nextChainKey := deriveMessageKey(chainKey, index)

	plaintext, err := openPayload(msgKey, conversationID, env)
	if err != nil {
		return nil, err
	}

	for _, b := range banked {
		if err := m.vault.Put(conversationID, b.sequence, b.key); err != nil {
			return nil, err
		}
	}
	state.RecvChainKey = nextChainKey
	state.RecvCounter = env.Sequence + 1
	state.UpdatedAt = time.Now().UTC()
	if err := m.store.Save(state); err != nil {
		return nil, err
	}
	return plaintext, nil
}

func openPayload(key []byte, conversationID string, env PayloadEnvelope) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	ad := payloadAAD(conversationID, env.MessageID, env.Sequence)
	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, ad)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// PayloadEnvelope is the ratchet-encrypted message body as it travels
// inside a msg frame.
type PayloadEnvelope struct {
	Version    uint8  `json:"version"`
	MessageID  string `json:"message_id"`
	Sequence   uint64 `json:"sequence"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func ValidateEnvelope(env PayloadEnvelope) error {
	if env.Version == 0 {
		return errors.New("invalid version")
	}
	if env.MessageID == "" {
		return errors.New("missing message id")
	}
	if len(env.Nonce) != chacha20poly1305.NonceSizeX || len(env.Ciphertext) == 0 {
		return errors.New("invalid envelope payload")
	}
	return nil
}

// ControlEnvelope carries a sealed ping/pong/tap/ack body. The frame kind
// is bound through the AEAD associated data so a pong ciphertext cannot be
// replayed as a tap acknowledgment.
type ControlEnvelope struct {
	Version    uint8  `json:"version"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func SealControlFrame(controlKey []byte, kind string, body []byte) (ControlEnvelope, error) {
	aead, err := chacha20poly1305.NewX(controlKey)
	if err != nil {
		return ControlEnvelope{}, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return ControlEnvelope{}, err
	}
	ciphertext := aead.Seal(nil, nonce, body, controlAAD(kind))
	return ControlEnvelope{Version: 1, Nonce: nonce, Ciphertext: ciphertext}, nil
}

func OpenControlFrame(controlKey []byte, kind string, env ControlEnvelope) ([]byte, error) {
	if env.Version == 0 || len(env.Nonce) != chacha20poly1305.NonceSizeX {
		return nil, errors.New("invalid control envelope")
	}
	aead, err := chacha20poly1305.NewX(controlKey)
	if err != nil {
		return nil, err
	}
	body, err := aead.Open(nil, env.Nonce, env.Ciphertext, controlAAD(kind))
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return body, nil
}

func deriveMessageKey(chainKey []byte, idx uint64) ([]byte, []byte) {
	seed := appendUint64Suffix(chainKey, idx)
	msgKey := kdf32(seed, []byte("umbra/ratchet/message-key/v1"))
	nextCK := kdf32(seed, []byte("umbra/ratchet/chain-key/v1"))
	return msgKey, nextCK
}

func payloadAAD(conversationID, messageID string, sequence uint64) []byte {
	b := make([]byte, 0, len(conversationID)+len(messageID)+16)
	b = append(b, []byte(conversationID)...)
	b = append(b, 0)
	b = append(b, []byte(messageID)...)
	b = append(b, 0)
	b = append(b, byte(sequence>>56), byte(sequence>>48), byte(sequence>>40), byte(sequence>>32), byte(sequence>>24), byte(sequence>>16), byte(sequence>>8), byte(sequence))
	return b
}

func controlAAD(kind string) []byte {
	return append([]byte("umbra/frame/"), []byte(kind)...)
}

func kdf32(input, info []byte) []byte {
	reader := hkdf.New(sha256.New, input, nil, info)
	out := make([]byte, 32)
	_, _ = io.ReadFull(reader, out)
	return out
}

func appendUint64Suffix(base []byte, idx uint64) []byte {
	out := append([]byte{}, base...)
	out = append(out, byte(idx>>56), byte(idx>>48), byte(idx>>40), byte(idx>>32), byte(idx>>24), byte(idx>>16), byte(idx>>8), byte(idx))
	return out
}
