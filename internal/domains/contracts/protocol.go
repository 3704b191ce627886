package contracts

import (
	"crypto/sha256"
	"encoding/hex"
)

// Frame kinds on the wire. hs1 is the only kind the public introduction
// endpoint accepts; everything else travels to the private messaging
// endpoint of an established or in-progress peer.
const (
	FrameKindPhase1 = "hs1"
	FrameKindPhase2 = "hs2"
	FrameKindPhase3 = "hs3"
	FrameKindPing   = "ping"
	FrameKindPong   = "pong"
	FrameKindTap    = "tap"
	FrameKindTapAck = "tapack"
	FrameKindMsg    = "msg"
	FrameKindAck    = "ack"
)

const conversationIDLabel = "umbra/conversation/v1|"

// DeriveConversationID names the pair conversation identically on both
// sides regardless of who initiated the handshake.
func DeriveConversationID(identityA, identityB string) string {
	lo, hi := identityA, identityB
	if hi < lo {
		lo, hi = hi, lo
	}
	sum := sha256.Sum256([]byte(conversationIDLabel + lo + "|" + hi))
	return "conv_" + hex.EncodeToString(sum[:12])
}
