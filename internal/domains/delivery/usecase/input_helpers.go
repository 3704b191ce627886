package usecase

import (
	"time"

	deliverypolicy "umbra-chat/go-backend/internal/domains/delivery/policy"
	"umbra-chat/go-backend/pkg/models"
)

func ParseSendInput(contactID, content string) (string, string, error) {
	return deliverypolicy.ValidateSendInput(contactID, content)
}

func ParseTapInput(contactID string) (string, error) {
	return deliverypolicy.ValidateTapInput(contactID)
}

func ParseListContactID(contactID string) (string, error) {
	return deliverypolicy.ValidateListContactID(contactID)
}

func ParseMessageID(messageID string) (string, error) {
	return deliverypolicy.ValidateMessageID(messageID)
}

func RequireDeliverableContact(contact models.Contact, found bool) error {
	return deliverypolicy.EnsureDeliverableContact(contact, found)
}

func ValidateRetryableMessage(msg models.Message, found bool) error {
	return deliverypolicy.EnsureRetryable(msg, found)
}

func BuildOutgoingMessage(messageID, contactID, content string, now time.Time) models.Message {
	return deliverypolicy.NewOutgoingMessage(messageID, contactID, content, now)
}

func BuildTapProbe(messageID, contactID string, now time.Time) models.Message {
	return deliverypolicy.NewTapProbe(messageID, contactID, now)
}

func BuildInboundMessage(messageID, contactID, pingID string, pingTS, now time.Time) models.Message {
	return deliverypolicy.NewInboundMessage(messageID, contactID, pingID, pingTS, now)
}

func BuildInboundTap(messageID, contactID string, now time.Time) models.Message {
	return deliverypolicy.NewInboundTap(messageID, contactID, now)
}

func ComposeDeliveryStatus(msg models.Message, found bool) (models.DeliveryStatus, error) {
	return deliverypolicy.BuildDeliveryStatus(msg, found)
}

func PlanRetry(msg models.Message, attemptCeiling int) deliverypolicy.RetryAction {
	return deliverypolicy.PlanMessageRetry(msg, attemptCeiling)
}

func EncodePingBody(body deliverypolicy.PingBody) ([]byte, error) {
	return deliverypolicy.MarshalPingBody(body)
}

func DecodePingBody(raw []byte) (deliverypolicy.PingBody, error) {
	return deliverypolicy.ParsePingBody(raw)
}

func EncodePongBody(body deliverypolicy.PongBody) ([]byte, error) {
	return deliverypolicy.MarshalPongBody(body)
}

func DecodePongBody(raw []byte) (deliverypolicy.PongBody, error) {
	return deliverypolicy.ParsePongBody(raw)
}

func EncodeTapBody(body deliverypolicy.TapBody) ([]byte, error) {
	return deliverypolicy.MarshalTapBody(body)
}

func DecodeTapBody(raw []byte) (deliverypolicy.TapBody, error) {
	return deliverypolicy.ParseTapBody(raw)
}

func EncodeTapAckBody(body deliverypolicy.TapAckBody) ([]byte, error) {
	return deliverypolicy.MarshalTapAckBody(body)
}

func DecodeTapAckBody(raw []byte) (deliverypolicy.TapAckBody, error) {
	return deliverypolicy.ParseTapAckBody(raw)
}

func EncodeMsgBody(body deliverypolicy.MsgBody) ([]byte, error) {
	return deliverypolicy.MarshalMsgBody(body)
}

func DecodeMsgBody(raw []byte) (deliverypolicy.MsgBody, error) {
	return deliverypolicy.ParseMsgBody(raw)
}

func EncodeAckBody(body deliverypolicy.AckBody) ([]byte, error) {
	return deliverypolicy.MarshalAckBody(body)
}

func DecodeAckBody(raw []byte) (deliverypolicy.AckBody, error) {
	return deliverypolicy.ParseAckBody(raw)
}

func PongSigningBytes(pingID string) []byte {
	return deliverypolicy.PongSigningBytes(pingID)
}

func TapSigningBytes(tapID string) []byte {
	return deliverypolicy.TapSigningBytes(tapID)
}

func TapAckSigningBytes(tapID string) []byte {
	return deliverypolicy.TapAckSigningBytes(tapID)
}

func MsgSigningBytes(messageID, pingID string, sequence uint64, ciphertext []byte) []byte {
	return deliverypolicy.MsgSigningBytes(messageID, pingID, sequence, ciphertext)
}

func AckSigningBytes(messageID string) []byte {
	return deliverypolicy.AckSigningBytes(messageID)
}
