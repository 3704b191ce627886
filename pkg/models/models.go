package models

import (
	"time"
)

type Identity struct {
	ID                string    `json:"id"`
	DisplayName       string    `json:"display_name"`
	SigningPublicKey  []byte    `json:"signing_public_key"`
	ExchangePublicKey []byte    `json:"exchange_public_key"`
	KEMPublicKey      []byte    `json:"kem_public_key"`
	IntroAddress      string    `json:"intro_address"`
	MsgAddress        string    `json:"msg_address"`
	CreatedAt         time.Time `json:"created_at"`
}

// ContactCard is the signed bundle a peer learns about an identity during
// the handshake. IntroAddress receives only first-phase frames; MsgAddress
// receives everything after confirmation.
type ContactCard struct {
	IdentityID   string `json:"identity_id"`
	DisplayName  string `json:"display_name"`
	SigningKey   []byte `json:"signing_key"`
	ExchangeKey  []byte `json:"exchange_key"`
	KEMKey       []byte `json:"kem_key"`
	IntroAddress string `json:"intro_address"`
	MsgAddress   string `json:"msg_address"`
	Signature    []byte `json:"signature"`
}

type Contact struct {
	ID           string           `json:"id"`
	DisplayName  string           `json:"display_name"`
	SigningKey   []byte           `json:"signing_key"`
	ExchangeKey  []byte           `json:"exchange_key"`
	KEMKey       []byte           `json:"kem_key"`
	IntroAddress string           `json:"intro_address"`
	MsgAddress   string           `json:"msg_address"`
	Trust        TrustLevel       `json:"trust"`
	Friendship   FriendshipStatus `json:"friendship"`
	AddedAt      time.Time        `json:"added_at"`
	ConfirmedAt  time.Time        `json:"confirmed_at,omitempty"`
	LastSeen     time.Time        `json:"last_seen,omitempty"`
}

// FriendRequest is one in-flight handshake. Phase payloads are cached
// verbatim so a retry resends the exact bytes of the first transmission,
// and both card snapshots are pinned so the transcript the confirmation
// signature covers cannot drift between phases.
type FriendRequest struct {
	ID            string         `json:"id"`
	Direction     Direction      `json:"direction"`
	Phase         HandshakePhase `json:"phase"`
	PeerIntroAddr string         `json:"peer_intro_addr,omitempty"`
	PIN           string         `json:"pin,omitempty"`
	PeerCard      *ContactCard   `json:"peer_card,omitempty"`
	SelfCard      *ContactCard   `json:"self_card,omitempty"`
	Phase1Wire    []byte         `json:"phase1_wire,omitempty"`
	Phase2Wire    []byte         `json:"phase2_wire,omitempty"`
	Phase3Wire    []byte         `json:"phase3_wire,omitempty"`
	KEMCiphertext []byte         `json:"kem_ciphertext,omitempty"`
	SharedSecret  []byte         `json:"shared_secret,omitempty"`
	ContactID     string         `json:"contact_id,omitempty"`
	RetryCount    int            `json:"retry_count"`
	LastAttemptAt time.Time      `json:"last_attempt_at,omitempty"`
	NextRetryAt   time.Time      `json:"next_retry_at,omitempty"`
	Completed     bool           `json:"completed"`
	Failed        bool           `json:"failed"`
	FailReason    string         `json:"fail_reason,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Message carries both the user content and the delivery bookkeeping for
// one send. PingID and PingTimestamp are generated exactly once; the wire
// fields hold the exact bytes of the first encryption of each frame and
// are resent unchanged on every retry. An outgoing row caches ping and
// payload bytes; an inbound row caches the pong and ack it answers with.
type Message struct {
	ID            string        `json:"id"`
	ContactID     string        `json:"contact_id"`
	Direction     Direction     `json:"direction"`
	Content       []byte        `json:"content"`
	ContentType   string        `json:"content_type"`
	Sequence      uint64        `json:"sequence"`
	PingID        string        `json:"ping_id,omitempty"`
	PingTimestamp time.Time     `json:"ping_timestamp,omitempty"`
	TapID         string        `json:"tap_id,omitempty"`
	PingWire      []byte        `json:"ping_wire,omitempty"`
	PongWire      []byte        `json:"pong_wire,omitempty"`
	TapWire       []byte        `json:"tap_wire,omitempty"`
	PayloadWire   []byte        `json:"payload_wire,omitempty"`
	AckWire       []byte        `json:"ack_wire,omitempty"`
	Stage         DeliveryStage `json:"stage"`
	PingDelivered bool          `json:"ping_delivered"`
	PongDelivered bool          `json:"pong_delivered"`
	TapDelivered  bool          `json:"tap_delivered"`
	MsgDelivered  bool          `json:"msg_delivered"`
	Undelivered   bool          `json:"undelivered,omitempty"`
	RetryCount    int           `json:"retry_count"`
	LastAttemptAt time.Time     `json:"last_attempt_at,omitempty"`
	NextRetryAt   time.Time     `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	DeliveredAt   time.Time     `json:"delivered_at,omitempty"`
}

// ReceivedID is one ledger row. Insertion of the identifier is the dedup
// test itself; rows are never updated.
type ReceivedID struct {
	Identifier  string       `json:"identifier"`
	Kind        ReceivedKind `json:"kind"`
	FirstSeenAt time.Time    `json:"first_seen_at"`
}

// PendingPing caches the signer public key expected for the pong (or the
// payload) that answers a given ping. Rows expire after a TTL that retries
// refresh in place.
type PendingPing struct {
	PingID    string    `json:"ping_id"`
	ContactID string    `json:"contact_id"`
	SignerKey []byte    `json:"signer_key"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SkippedMessageKey holds a ratchet message key that an out-of-order
// arrival jumped over. Consumed rows are deleted; a key decrypts at most
// one message.
type SkippedMessageKey struct {
	ConversationID string    `json:"conversation_id"`
	Sequence       uint64    `json:"sequence"`
	Key            []byte    `json:"key"`
	CreatedAt      time.Time `json:"created_at"`
}

// SessionView is the key-free picture of one ratchet session exposed over
// the RPC surface. Chain keys never leave the crypto layer.
type SessionView struct {
	ConversationID string    `json:"conversation_id"`
	SendCounter    uint64    `json:"send_counter"`
	RecvCounter    uint64    `json:"recv_counter"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DeliveryStatus is the read-only view of a message's delivery progress.
type DeliveryStatus struct {
	MessageID     string        `json:"message_id"`
	Stage         DeliveryStage `json:"stage"`
	PingDelivered bool          `json:"ping_delivered"`
	PongDelivered bool          `json:"pong_delivered"`
	TapDelivered  bool          `json:"tap_delivered"`
	MsgDelivered  bool          `json:"msg_delivered"`
	Undelivered   bool          `json:"undelivered"`
	RetryCount    int           `json:"retry_count"`
	NextRetryAt   time.Time     `json:"next_retry_at,omitempty"`
}

type NetworkStatus struct {
	Status       string    `json:"status"`
	IntroAddress string    `json:"intro_address,omitempty"`
	MsgAddress   string    `json:"msg_address,omitempty"`
	LastChange   time.Time `json:"last_change"`
}

type MetricsSnapshot struct {
	PendingHandshakes   int                        `json:"pending_handshakes"`
	PendingMessages     int                        `json:"pending_messages"`
	ErrorCounters       map[string]int             `json:"error_counters"`
	NetworkMetrics      map[string]int             `json:"network_metrics"`
	OperationStats      map[string]OperationMetric `json:"operation_stats"`
	RetryAttemptsTotal  int                        `json:"retry_attempts_total"`
	NotificationBacklog int                        `json:"notification_backlog"`
	LastUpdatedAt       time.Time                  `json:"last_updated_at"`
}

type OperationMetric struct {
	Count         int   `json:"count"`
	Errors        int   `json:"errors"`
	AvgLatencyMs  int64 `json:"avg_latency_ms"`
	MaxLatencyMs  int64 `json:"max_latency_ms"`
	LastLatencyMs int64 `json:"last_latency_ms"`
}
