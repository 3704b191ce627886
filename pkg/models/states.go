package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

type ReceivedKind string

const (
	ReceivedKindPing    ReceivedKind = "ping"
	ReceivedKindPong    ReceivedKind = "pong"
	ReceivedKindTap     ReceivedKind = "tap"
	ReceivedKindMessage ReceivedKind = "message"
)

func (k ReceivedKind) Valid() bool {
	switch k {
	case ReceivedKindPing, ReceivedKindPong, ReceivedKindTap, ReceivedKindMessage:
		return true
	}
	return false
}

// HandshakePhase is a closed set: the zero value means nothing has been
// sent yet (an incoming request waiting for its PIN sits there), and the
// only legal movement is forward. Values outside this package cannot be
// constructed, so a request can never hold an out-of-range phase.
type HandshakePhase struct{ v uint8 }

var (
	PhaseNone  = HandshakePhase{}
	Phase1Sent = HandshakePhase{1}
	Phase2Sent = HandshakePhase{2}
	Phase3Sent = HandshakePhase{3}
)

func (p HandshakePhase) Ordinal() int { return int(p.v) }

func (p HandshakePhase) String() string {
	switch p.v {
	case 1:
		return "phase1_sent"
	case 2:
		return "phase2_sent"
	case 3:
		return "phase3_sent"
	default:
		return "none"
	}
}

// Advance reports whether moving to next is a legal forward step and
// returns the resulting phase. Moving backwards keeps the current phase.
func (p HandshakePhase) Advance(next HandshakePhase) (HandshakePhase, bool) {
	if next.v <= p.v {
		return p, false
	}
	return next, true
}

func (p HandshakePhase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *HandshakePhase) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseHandshakePhase(raw)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func ParseHandshakePhase(raw string) (HandshakePhase, error) {
	switch strings.TrimSpace(raw) {
	case "", "none":
		return PhaseNone, nil
	case "phase1_sent":
		return Phase1Sent, nil
	case "phase2_sent":
		return Phase2Sent, nil
	case "phase3_sent":
		return Phase3Sent, nil
	}
	return PhaseNone, fmt.Errorf("unknown handshake phase %q", raw)
}

// DeliveryStage is the per-message delivery ladder. Like HandshakePhase it
// is closed and only moves toward Delivered.
type DeliveryStage struct{ v uint8 }

var (
	StagePending   = DeliveryStage{}
	StagePingSent  = DeliveryStage{1}
	StagePongSent  = DeliveryStage{2}
	StageDelivered = DeliveryStage{3}
)

func (s DeliveryStage) Ordinal() int { return int(s.v) }

func (s DeliveryStage) Terminal() bool { return s.v == StageDelivered.v }

func (s DeliveryStage) String() string {
	switch s.v {
	case 1:
		return "ping_sent"
	case 2:
		return "pong_sent"
	case 3:
		return "delivered"
	default:
		return "pending"
	}
}

func (s DeliveryStage) Advance(next DeliveryStage) (DeliveryStage, bool) {
	if next.v <= s.v {
		return s, false
	}
	return next, true
}

func (s DeliveryStage) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *DeliveryStage) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDeliveryStage(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseDeliveryStage(raw string) (DeliveryStage, error) {
	switch strings.TrimSpace(raw) {
	case "", "pending":
		return StagePending, nil
	case "ping_sent":
		return StagePingSent, nil
	case "pong_sent":
		return StagePongSent, nil
	case "delivered":
		return StageDelivered, nil
	}
	return StagePending, fmt.Errorf("unknown delivery stage %q", raw)
}

// FriendshipStatus starts at pending and can only be confirmed, never the
// other way around.
type FriendshipStatus struct{ v uint8 }

var (
	FriendshipPendingSent = FriendshipStatus{}
	FriendshipConfirmed   = FriendshipStatus{1}
)

func (f FriendshipStatus) Confirmed() bool { return f.v == FriendshipConfirmed.v }

func (f FriendshipStatus) String() string {
	if f.Confirmed() {
		return "confirmed"
	}
	return "pending_sent"
}

func (f FriendshipStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.String())
}

func (f *FriendshipStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch strings.TrimSpace(raw) {
	case "", "pending_sent":
		*f = FriendshipPendingSent
	case "confirmed":
		*f = FriendshipConfirmed
	default:
		return fmt.Errorf("unknown friendship status %q", raw)
	}
	return nil
}

type TrustLevel int

const (
	TrustUntrusted TrustLevel = 0
	TrustEncrypted TrustLevel = 1
	TrustVerified  TrustLevel = 2
)

func (t TrustLevel) String() string {
	switch t {
	case TrustEncrypted:
		return "encrypted"
	case TrustVerified:
		return "verified"
	default:
		return "untrusted"
	}
}

// MergeTrustLevel keeps the higher of the two; trust never drops as a side
// effect of protocol traffic.
func MergeTrustLevel(current, incoming TrustLevel) TrustLevel {
	if incoming > current {
		return incoming
	}
	return current
}
