package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"strings"
	"sync"
	"time"

	"umbra-chat/go-backend/internal/crypto"
	identitypolicy "umbra-chat/go-backend/internal/domains/identity/policy"
	"umbra-chat/go-backend/pkg/models"

	"golang.org/x/crypto/curve25519"
)

var (
	ErrInvalidContactCard = errors.New("invalid contact card")
	ErrIdentityMismatch   = errors.New("identity_id does not match signing key")
	ErrNoIdentity         = errors.New("identity is not initialized")
)

// Manager owns the local identity: the signing key pair, the x25519
// exchange pair derived from the seed, and the Kyber KEM pair generated
// once and carried in PrivateState across restarts.
type Manager struct {
	mu          sync.RWMutex
	identity    models.Identity
	signingPriv ed25519.PrivateKey
	exchange    crypto.ExchangeKeyPair
	kem         crypto.KEMKeyPair
	seeds       *SeedManager
}

func NewManager() (*Manager, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	m := &Manager{seeds: NewSeedManager()}
	if err := m.install(priv, pub, nil); err != nil {
		return nil, err
	}
	return m, nil
}

// CreateIdentity derives a fresh seed-backed identity and returns the
// mnemonic exactly once. The caller shows it to the user and never sees
// it again without the password.
func (m *Manager) CreateIdentity(displayName, password string) (models.Identity, string, error) {
	mnemonic, keys, err := m.seeds.Create(password)
	if err != nil {
		return models.Identity{}, "", err
	}
	if err := m.installDerived(keys, displayName); err != nil {
		return models.Identity{}, "", err
	}
	return m.GetIdentity(), mnemonic, nil
}

func (m *Manager) ImportIdentity(mnemonic, password, displayName string) (models.Identity, error) {
	_, keys, err := m.seeds.Import(mnemonic, password)
	if err != nil {
		return models.Identity{}, err
	}
	if err := m.installDerived(keys, displayName); err != nil {
		return models.Identity{}, err
	}
	return m.GetIdentity(), nil
}

func (m *Manager) installDerived(keys *DerivedKeys, displayName string) error {
	exchPub, err := curve25519.X25519(keys.ExchangeSeed, curve25519.Basepoint)
	if err != nil {
		return err
	}
	exchange := crypto.ExchangeKeyPair{
		Public:  exchPub,
		Private: append([]byte(nil), keys.ExchangeSeed...),
	}
	return m.installFull(ed25519.PrivateKey(keys.SigningPrivateKey), ed25519.PublicKey(keys.SigningPublicKey), &exchange, displayName)
}

func (m *Manager) install(priv ed25519.PrivateKey, pub ed25519.PublicKey, exchange *crypto.ExchangeKeyPair) error {
	return m.installFull(priv, pub, exchange, "")
}

func (m *Manager) installFull(priv ed25519.PrivateKey, pub ed25519.PublicKey, exchange *crypto.ExchangeKeyPair, displayName string) error {
	id, err := identitypolicy.BuildIdentityID(pub)
	if err != nil {
		return err
	}
	if exchange == nil {
		pair, err := crypto.GenerateExchangeKeyPair()
		if err != nil {
			return err
		}
		exchange = &pair
	}
	kemPair, err := crypto.GenerateKEMKeyPair()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		displayName = m.identity.DisplayName
	}
	m.identity = models.Identity{
		ID:                id,
		DisplayName:       displayName,
		SigningPublicKey:  append([]byte(nil), pub...),
		ExchangePublicKey: append([]byte(nil), exchange.Public...),
		KEMPublicKey:      append([]byte(nil), kemPair.Public...),
		CreatedAt:         time.Now().UTC(),
	}
	m.signingPriv = append(ed25519.PrivateKey(nil), priv...)
	m.exchange = crypto.ExchangeKeyPair{
		Public:  append([]byte(nil), exchange.Public...),
		Private: append([]byte(nil), exchange.Private...),
	}
	m.kem = kemPair
	return nil
}

func (m *Manager) ExportSeed(password string) (string, error) {
	return m.seeds.Export(password)
}

func (m *Manager) ValidateMnemonic(mnemonic string) bool {
	return m.seeds.ValidateMnemonic(mnemonic)
}

func (m *Manager) ChangePassword(oldPassword, newPassword string) error {
	return m.seeds.ChangePassword(oldPassword, newPassword)
}

func (m *Manager) GetIdentity() models.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneIdentity(m.identity)
}

func (m *Manager) SetDisplayName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity.DisplayName = strings.TrimSpace(name)
}

// SetAddresses records the onion addresses the transport published. The
// card is unsignable until both are known.
func (m *Manager) SetAddresses(introAddress, msgAddress string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity.IntroAddress = introAddress
	m.identity.MsgAddress = msgAddress
}

// SelfCard signs the current identity into a shareable contact card.
func (m *Manager) SelfCard() (models.ContactCard, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.identity.ID == "" {
		return models.ContactCard{}, ErrNoIdentity
	}
	card := models.ContactCard{
		IdentityID:   m.identity.ID,
		DisplayName:  m.identity.DisplayName,
		SigningKey:   append([]byte(nil), m.identity.SigningPublicKey...),
		ExchangeKey:  append([]byte(nil), m.identity.ExchangePublicKey...),
		KEMKey:       append([]byte(nil), m.identity.KEMPublicKey...),
		IntroAddress: m.identity.IntroAddress,
		MsgAddress:   m.identity.MsgAddress,
	}
	return identitypolicy.SignContactCard(card, append(ed25519.PrivateKey(nil), m.signingPriv...))
}

func (m *Manager) VerifyContactCard(card models.ContactCard) (bool, error) {
	return identitypolicy.VerifyContactCard(card)
}

func (m *Manager) SigningPrivateKey() ed25519.PrivateKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append(ed25519.PrivateKey(nil), m.signingPriv...)
}

func (m *Manager) ExchangePrivateKey() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.exchange.Private...)
}

func (m *Manager) KEMPrivateKey() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]byte(nil), m.kem.Private...)
}

// PrivateState is everything the encrypted identity file must carry for a
// restart to resume as the same peer.
type PrivateState struct {
	Identity      models.Identity        `json:"identity"`
	SigningKey    []byte                 `json:"signing_key"`
	ExchangeKey   []byte                 `json:"exchange_key"`
	KEMPublicKey  []byte                 `json:"kem_public_key"`
	KEMPrivateKey []byte                 `json:"kem_private_key"`
	SeedEnvelope  *EncryptedSeedEnvelope `json:"seed_envelope,omitempty"`
}

func (m *Manager) ExportPrivateState() PrivateState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return PrivateState{
		Identity:      cloneIdentity(m.identity),
		SigningKey:    append([]byte(nil), m.signingPriv...),
		ExchangeKey:   append([]byte(nil), m.exchange.Private...),
		KEMPublicKey:  append([]byte(nil), m.kem.Public...),
		KEMPrivateKey: append([]byte(nil), m.kem.Private...),
		SeedEnvelope:  m.seeds.EnvelopeSnapshot(),
	}
}

func (m *Manager) RestorePrivateState(state PrivateState) error {
	if len(state.SigningKey) != ed25519.PrivateKeySize {
		return ErrNoIdentity
	}
	priv := ed25519.PrivateKey(append([]byte(nil), state.SigningKey...))
	pub := priv.Public().(ed25519.PublicKey)
	id, err := identitypolicy.BuildIdentityID(pub)
	if err != nil {
		return err
	}
	if state.Identity.ID != "" && state.Identity.ID != id {
		return ErrIdentityMismatch
	}
	exchPub, err := curve25519.X25519(state.ExchangeKey, curve25519.Basepoint)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = cloneIdentity(state.Identity)
	m.identity.ID = id
	m.identity.SigningPublicKey = append([]byte(nil), pub...)
	m.identity.ExchangePublicKey = exchPub
	m.identity.KEMPublicKey = append([]byte(nil), state.KEMPublicKey...)
	m.signingPriv = priv
	m.exchange = crypto.ExchangeKeyPair{
		Public:  exchPub,
		Private: append([]byte(nil), state.ExchangeKey...),
	}
	m.kem = crypto.KEMKeyPair{
		Public:  append([]byte(nil), state.KEMPublicKey...),
		Private: append([]byte(nil), state.KEMPrivateKey...),
	}
	m.seeds.RestoreEnvelope(state.SeedEnvelope)
	return nil
}

func cloneIdentity(id models.Identity) models.Identity {
	out := id
	out.SigningPublicKey = append([]byte(nil), id.SigningPublicKey...)
	out.ExchangePublicKey = append([]byte(nil), id.ExchangePublicKey...)
	out.KEMPublicKey = append([]byte(nil), id.KEMPublicKey...)
	return out
}
