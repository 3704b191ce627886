package policy

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"strconv"
	"time"
)

var (
	errPingBodyInvalid   = errors.New("ping body is incomplete")
	errPongBodyInvalid   = errors.New("pong body is incomplete")
	errTapBodyInvalid    = errors.New("tap body is incomplete")
	errTapAckBodyInvalid = errors.New("tap ack body is incomplete")
	errMsgBodyInvalid    = errors.New("message body is incomplete")
	errAckBodyInvalid    = errors.New("ack body is incomplete")
)

// Signature domain labels. Every signed delivery frame covers a distinct
// label so bytes signed for one kind can never stand in for another.
const (
	pongSigLabel   = "umbra/pong/v1|"
	tapSigLabel    = "umbra/tap/v1|"
	tapAckSigLabel = "umbra/tapack/v1|"
	msgSigLabel    = "umbra/msg/v1|"
	ackSigLabel    = "umbra/ack/v1|"
)

// PingBody opens a delivery exchange: the identifier the whole exchange
// is keyed by, the timestamp pinned at first send, and the signing key
// the eventual payload frame must verify against. The ping itself is not
// signed; its authenticity comes from the conversation control key it is
// sealed under.
type PingBody struct {
	PingID    string    `json:"ping_id"`
	PingTS    time.Time `json:"ping_ts"`
	SignerKey []byte    `json:"signer_key"`
}

// PongBody answers a ping. Sig covers the ping identifier under the pong
// label and must verify against the signer the ping's sender recorded at
// send time.
type PongBody struct {
	PingID string `json:"ping_id"`
	Sig    []byte `json:"sig"`
}

// TapBody is a liveness probe independent of any message delivery.
type TapBody struct {
	TapID string `json:"tap_id"`
	Sig   []byte `json:"sig"`
}

// TapAckBody answers a tap.
type TapAckBody struct {
	TapID string `json:"tap_id"`
	Sig   []byte `json:"sig"`
}

// MsgBody carries the ratchet-encrypted payload. Ciphertext holds the
// marshalled payload envelope; Sig covers the identifiers, the sequence
// and a digest of the ciphertext.
type MsgBody struct {
	MessageID  string `json:"message_id"`
	PingID     string `json:"ping_id"`
	Sequence   uint64 `json:"seq"`
	Ciphertext []byte `json:"ct"`
	Sig        []byte `json:"sig"`
}

// AckBody closes a delivery exchange.
type AckBody struct {
	MessageID string `json:"message_id"`
	Sig       []byte `json:"sig"`
}

func MarshalPingBody(body PingBody) ([]byte, error) {
	return json.Marshal(body)
}

func ParsePingBody(raw []byte) (PingBody, error) {
	var body PingBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return PingBody{}, err
	}
	if body.PingID == "" || body.PingTS.IsZero() || len(body.SignerKey) != ed25519.PublicKeySize {
		return PingBody{}, errPingBodyInvalid
	}
	return body, nil
}

func MarshalPongBody(body PongBody) ([]byte, error) {
	return json.Marshal(body)
}

func ParsePongBody(raw []byte) (PongBody, error) {
	var body PongBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return PongBody{}, err
	}
	if body.PingID == "" || len(body.Sig) != ed25519.SignatureSize {
		return PongBody{}, errPongBodyInvalid
	}
	return body, nil
}

func MarshalTapBody(body TapBody) ([]byte, error) {
	return json.Marshal(body)
}

func ParseTapBody(raw []byte) (TapBody, error) {
	var body TapBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return TapBody{}, err
	}
	if body.TapID == "" || len(body.Sig) != ed25519.SignatureSize {
		return TapBody{}, errTapBodyInvalid
	}
	return body, nil
}

func MarshalTapAckBody(body TapAckBody) ([]byte, error) {
	return json.Marshal(body)
}

func ParseTapAckBody(raw []byte) (TapAckBody, error) {
	var body TapAckBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return TapAckBody{}, err
	}
	if body.TapID == "" || len(body.Sig) != ed25519.SignatureSize {
		return TapAckBody{}, errTapAckBodyInvalid
	}
	return body, nil
}

func MarshalMsgBody(body MsgBody) ([]byte, error) {
	return json.Marshal(body)
}

func ParseMsgBody(raw []byte) (MsgBody, error) {
	var body MsgBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return MsgBody{}, err
	}
	if body.MessageID == "" || body.PingID == "" || len(body.Ciphertext) == 0 || len(body.Sig) != ed25519.SignatureSize {
		return MsgBody{}, errMsgBodyInvalid
	}
	return body, nil
}

func MarshalAckBody(body AckBody) ([]byte, error) {
	return json.Marshal(body)
}

func ParseAckBody(raw []byte) (AckBody, error) {
	var body AckBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return AckBody{}, err
	}
	if body.MessageID == "" || len(body.Sig) != ed25519.SignatureSize {
		return AckBody{}, errAckBodyInvalid
	}
	return body, nil
}

func PongSigningBytes(pingID string) []byte {
	return []byte(pongSigLabel + pingID)
}

func TapSigningBytes(tapID string) []byte {
	return []byte(tapSigLabel + tapID)
}

func TapAckSigningBytes(tapID string) []byte {
	return []byte(tapAckSigLabel + tapID)
}

// MsgSigningBytes pins every field of the message frame under the
// signature. The ciphertext enters as a digest so the signed blob stays
// small regardless of payload size.
func MsgSigningBytes(messageID, pingID string, sequence uint64, ciphertext []byte) []byte {
	digest := sha256.Sum256(ciphertext)
	buf := make([]byte, 0, len(msgSigLabel)+len(messageID)+len(pingID)+21+len(digest)+3)
	buf = append(buf, msgSigLabel...)
	buf = append(buf, messageID...)
	buf = append(buf, '|')
	buf = append(buf, pingID...)
	buf = append(buf, '|')
	buf = strconv.AppendUint(buf, sequence, 10)
	buf = append(buf, '|')
	buf = append(buf, digest[:]...)
	return buf
}

func AckSigningBytes(messageID string) []byte {
	return []byte(ackSigLabel + messageID)
}
