package contracts

import (
	"context"
	"log/slog"
	"time"

	"umbra-chat/go-backend/internal/crypto"
	"umbra-chat/go-backend/internal/onion"
	"umbra-chat/go-backend/internal/storage"
	"umbra-chat/go-backend/pkg/models"
)

// SessionDomain is the ratchet surface the delivery and handshake
// machines drive: session bootstrap at handshake completion, one
// encryption per outbound payload, decryption with skipped-key recovery.
type SessionDomain interface {
	InitSession(conversationID string, rootKey []byte, initiator bool) (crypto.SessionState, error)
	GetSession(conversationID string) (crypto.SessionState, bool, error)
	Snapshot() ([]crypto.SessionState, error)
	ControlKey(conversationID string) ([]byte, error)
	EncryptPayload(conversationID, messageID string, plaintext []byte) (crypto.PayloadEnvelope, error)
	DecryptPayload(conversationID string, env crypto.PayloadEnvelope) ([]byte, error)
}

// RequestRepository persists friend requests across restarts; every
// mutator is one atomic store transition.
type RequestRepository interface {
	Insert(req models.FriendRequest) error
	Get(requestID string) (models.FriendRequest, bool)
	List(includeFinished bool) []models.FriendRequest
	AttachPhase1Wire(requestID string, wire []byte) (models.FriendRequest, error)
	AttachPhase2Wire(requestID string, wire []byte) (models.FriendRequest, error)
	AttachPhase3Wire(requestID string, wire []byte) (models.FriendRequest, error)
	RecordExchange(requestID string, ex storage.Exchange) (models.FriendRequest, error)
	AdvancePhase(requestID string, phase models.HandshakePhase) (models.FriendRequest, error)
	ScheduleRetry(requestID string, attemptAt, nextRetryAt time.Time) (models.FriendRequest, error)
	Requeue(requestID string, nextRetryAt time.Time) (models.FriendRequest, error)
	Complete(requestID, contactID string) (models.FriendRequest, error)
	Fail(requestID, reason string) (models.FriendRequest, error)
	Delete(requestID string) error
	DuePending(now time.Time) []models.FriendRequest
	PendingCount() int
}

// MessageRepository persists message rows and their delivery state.
type MessageRepository interface {
	Insert(msg models.Message) error
	Get(messageID string) (models.Message, bool)
	FindByPingID(pingID string) (models.Message, bool)
	FindByTapID(tapID string) (models.Message, bool)
	ListByContact(contactID string, limit, offset int) []models.Message
	AttachPing(messageID, pingID string, pingTimestamp time.Time, pingWire []byte) (models.Message, error)
	AttachPong(messageID string, pongWire []byte) (models.Message, error)
	AttachPayload(messageID string, sequence uint64, payloadWire []byte) (models.Message, error)
	AttachAck(messageID string, ackWire []byte) (models.Message, error)
	AttachTap(messageID, tapID string, tapWire []byte) (models.Message, error)
	RecordInboundContent(messageID string, sequence uint64, content []byte, contentType string) (models.Message, error)
	AdvanceStage(messageID string, stage models.DeliveryStage) (models.Message, error)
	SetDelivered(messageID string, flag storage.DeliveredFlag) (models.Message, error)
	MarkDelivered(messageID string, at time.Time) (models.Message, error)
	ScheduleRetry(messageID string, attemptAt, nextRetryAt time.Time) (models.Message, error)
	MarkUndelivered(messageID string) (models.Message, error)
	Requeue(messageID string, nextRetryAt time.Time) (models.Message, error)
	HaltRetries(messageID string) (models.Message, error)
	DuePending(now time.Time) []models.Message
	PendingCount() int
	DeleteMessage(contactID, messageID string) (bool, error)
	ClearMessages(contactID string) (int, error)
}

// DedupLedger is the idempotence gate: TryRecord before any side effect.
type DedupLedger interface {
	TryRecord(identifier string, kind models.ReceivedKind) (storage.RecordOutcome, error)
	Seen(identifier string, kind models.ReceivedKind) bool
}

// SignerCache maps an in-flight ping identifier to the signer public key
// a pong for it must verify against.
type SignerCache interface {
	Put(pingID, contactID string, signerKey []byte) error
	Resolve(pingID string) (models.PendingPing, storage.ResolveSource, bool)
	Delete(pingID string) error
	SweepExpired(now time.Time) (int, error)
}

// TransportNode is the hidden-service transport as the daemon consumes it.
type TransportNode interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Status() onion.Status
	SetIdentity(identityID string)
	SetStateListener(fn func(state string))
	Addresses() (intro, msg string)
	SubscribeInbound(handler func(onion.Frame)) error
	SendFrame(ctx context.Context, frame onion.Frame) error
	RotateCircuit(ctx context.Context) error
	ListenMultiaddrs() []string
	NetworkMetrics() map[string]int
}

// SkippedKeyVault is the vault as the composition layer manages it: the
// ratchet banks and consumes rows through the crypto-side interface, the
// scheduler sweeps the ones nothing ever consumed.
type SkippedKeyVault interface {
	crypto.SkippedKeyVault
	SweepExpired(now time.Time) (int, error)
}

// ServiceOptions carries the store set a daemon service is built over.
// Empty fields fall back to in-memory stores, which is what every test
// and the default dev run use.
type ServiceOptions struct {
	SessionStore crypto.SessionStore
	SkippedKeys  SkippedKeyVault
	Messages     MessageRepository
	Requests     RequestRepository
	Contacts     ContactRepository
	Ledger       DedupLedger
	Signers      SignerCache
	Logger       *slog.Logger
}
