package ports

import (
	"context"
	"crypto/ed25519"
	"time"

	"umbra-chat/go-backend/pkg/models"
)

// IdentityAPI is a transport-neutral identity/account contract.
type IdentityAPI interface {
	GetIdentity() (models.Identity, error)
	CreateIdentity(displayName, password string) (models.Identity, string, error)
	ImportIdentity(mnemonic, password, displayName string) (models.Identity, error)
	ValidateMnemonic(mnemonic string) bool
	ExportBackup(password string) (string, error)

	ListContacts() ([]models.Contact, error)
	VerifyContact(contactID, fingerprint string) (models.Contact, error)
}

// HandshakeAPI is a transport-neutral friend handshake contract.
type HandshakeAPI interface {
	StartHandshake(peerIntroAddress, pin string) (models.FriendRequest, error)
	AcceptHandshake(requestID, pin string) (models.FriendRequest, error)
	ListHandshakes(includeFinished bool) ([]models.FriendRequest, error)
	CancelHandshake(requestID, reason string) error
}

// MessagingAPI is a transport-neutral delivery contract.
type MessagingAPI interface {
	SendMessage(contactID, content string) (models.Message, error)
	SendTap(contactID string) (models.Message, error)
	ListMessages(contactID string, limit, offset int) ([]models.Message, error)
	MessageStatus(messageID string) (models.DeliveryStatus, error)
	RetryMessage(messageID string) (models.Message, error)
}

// NetworkAPI is a transport-neutral network/metrics read contract.
type NetworkAPI interface {
	GetNetworkStatus() models.NetworkStatus
	GetMetrics() models.MetricsSnapshot
}

// CoreAPI is a compatibility aggregate for transport-neutral contracts.
// Prefer using context-specific interfaces instead of this monolithic surface.
type CoreAPI interface {
	IdentityAPI
	HandshakeAPI
	MessagingAPI
	NetworkAPI
}

type DaemonService interface {
	IdentityAPI
	HandshakeAPI
	MessagingAPI
	NetworkAPI
	StartNetworking(ctx context.Context) error
	StopNetworking(ctx context.Context) error
	SubscribeNotifications(cursor int64) ([]NotificationEvent, <-chan NotificationEvent, func())
	ListenAddresses() []string
}

type NotificationEvent struct {
	Seq       int64
	Method    string
	Payload   any
	Timestamp time.Time
}

// IdentityDomain is the slice of the identity core the state machines
// depend on: the local card, card verification and the private keys that
// sign and open handshake material.
type IdentityDomain interface {
	GetIdentity() models.Identity
	SelfCard() (models.ContactCard, error)
	VerifyContactCard(card models.ContactCard) (bool, error)
	SigningPrivateKey() ed25519.PrivateKey
	ExchangePrivateKey() []byte
	KEMPrivateKey() []byte
}

// ContactRepository is the confirmed-contact registry consumed by both
// state machines.
type ContactRepository interface {
	UpsertFromCard(card models.ContactCard, friendship models.FriendshipStatus, trust models.TrustLevel) (models.Contact, error)
	Get(contactID string) (models.Contact, bool)
	List() []models.Contact
	SigningKey(contactID string) ([]byte, bool)
	TouchLastSeen(contactID string, at time.Time) error
	MarkVerified(contactID string) (models.Contact, error)
}

type CategorizedError struct {
	Category string
	Err      error
}

func (e *CategorizedError) Error() string {
	return e.Err.Error()
}

func (e *CategorizedError) Unwrap() error {
	return e.Err
}
