package delivery

import (
	deliverypolicy "umbra-chat/go-backend/internal/domains/delivery/policy"
	"umbra-chat/go-backend/pkg/models"
)

var (
	ErrMessageNotFound     = deliverypolicy.ErrMessageNotFound
	ErrMessageDelivered    = deliverypolicy.ErrMessageDelivered
	ErrContactNotFound     = deliverypolicy.ErrContactNotFound
	ErrContactNotConfirmed = deliverypolicy.ErrContactNotConfirmed
)

const MaxContentBytes = deliverypolicy.MaxContentBytes

type PingBody = deliverypolicy.PingBody
type PongBody = deliverypolicy.PongBody
type TapBody = deliverypolicy.TapBody
type TapAckBody = deliverypolicy.TapAckBody
type MsgBody = deliverypolicy.MsgBody
type AckBody = deliverypolicy.AckBody

func ValidateSendInput(contactID, content string) (string, string, error) {
	return deliverypolicy.ValidateSendInput(contactID, content)
}

// Signing transcripts for the four authenticated frame kinds. Exposed so
// callers outside the domain can verify captured frames.
func PongSigningBytes(pingID string) []byte { return deliverypolicy.PongSigningBytes(pingID) }

func TapSigningBytes(tapID string) []byte { return deliverypolicy.TapSigningBytes(tapID) }

func TapAckSigningBytes(tapID string) []byte { return deliverypolicy.TapAckSigningBytes(tapID) }

func MsgSigningBytes(messageID, pingID string, sequence uint64, ciphertext []byte) []byte {
	return deliverypolicy.MsgSigningBytes(messageID, pingID, sequence, ciphertext)
}

func AckSigningBytes(messageID string) []byte { return deliverypolicy.AckSigningBytes(messageID) }

func BuildDeliveryStatus(msg models.Message, found bool) (models.DeliveryStatus, error) {
	return deliverypolicy.BuildDeliveryStatus(msg, found)
}

func SanitizeForListing(msg models.Message) models.Message {
	return deliverypolicy.SanitizeForListing(msg)
}
