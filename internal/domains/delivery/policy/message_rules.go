package policy

import (
	"errors"
	"strings"
	"time"

	"umbra-chat/go-backend/pkg/models"
)

var (
	ErrMessageNotFound     = errors.New("message not found")
	ErrMessageDelivered    = errors.New("message already delivered")
	ErrContactNotFound     = errors.New("contact not found")
	ErrContactNotConfirmed = errors.New("contact friendship is not confirmed")

	errContactIDRequired  = errors.New("contact id is required")
	errMessageIDRequired  = errors.New("message id is required")
	errInvalidSendInput   = errors.New("contact id and content are required")
	errContentTooLarge    = errors.New("content exceeds the frame budget")
	errMessageNotOutgoing = errors.New("only outgoing messages can be retried")
)

// MaxContentBytes keeps a single message inside one transport frame after
// envelope and encoding overhead.
const MaxContentBytes = 32 * 1024

func ValidateSendInput(contactID, content string) (string, string, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" || strings.TrimSpace(content) == "" {
		return "", "", errInvalidSendInput
	}
	if len(content) > MaxContentBytes {
		return "", "", errContentTooLarge
	}
	return contactID, content, nil
}

func ValidateTapInput(contactID string) (string, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return "", errContactIDRequired
	}
	return contactID, nil
}

func ValidateListContactID(contactID string) (string, error) {
	contactID = strings.TrimSpace(contactID)
	if contactID == "" {
		return "", errContactIDRequired
	}
	return contactID, nil
}

func ValidateMessageID(messageID string) (string, error) {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return "", errMessageIDRequired
	}
	return messageID, nil
}

// EnsureDeliverableContact admits sends only toward contacts that finished
// the handshake; anything earlier has no session to seal under.
func EnsureDeliverableContact(contact models.Contact, found bool) error {
	if !found {
		return ErrContactNotFound
	}
	if !contact.Friendship.Confirmed() {
		return ErrContactNotConfirmed
	}
	return nil
}

// EnsureRetryable admits a manual rearm for an outgoing message that has
// not reached its terminal flag yet. Undelivered rows are the expected
// customers here.
func EnsureRetryable(msg models.Message, found bool) error {
	if !found {
		return ErrMessageNotFound
	}
	if msg.Direction != models.DirectionOutgoing {
		return errMessageNotOutgoing
	}
	if msg.Stage.Terminal() || msg.MsgDelivered {
		return ErrMessageDelivered
	}
	if msg.TapID != "" && len(msg.Content) == 0 && msg.TapDelivered {
		return ErrMessageDelivered
	}
	return nil
}

func NewOutgoingMessage(messageID, contactID, content string, now time.Time) models.Message {
	return models.Message{
		ID:          messageID,
		ContactID:   contactID,
		Direction:   models.DirectionOutgoing,
		Content:     []byte(content),
		ContentType: "text",
		Stage:       models.StagePending,
		CreatedAt:   now.UTC(),
	}
}

// NewTapProbe is an outgoing row that carries no content; only the tap
// leg and its flag apply to it.
func NewTapProbe(messageID, contactID string, now time.Time) models.Message {
	return models.Message{
		ID:          messageID,
		ContactID:   contactID,
		Direction:   models.DirectionOutgoing,
		ContentType: "tap",
		Stage:       models.StagePending,
		CreatedAt:   now.UTC(),
	}
}

// NewInboundMessage is created at ping receipt, before any content
// exists. The ping identity is pinned at insert; the content arrives with
// the payload frame later.
func NewInboundMessage(messageID, contactID, pingID string, pingTS, now time.Time) models.Message {
	return models.Message{
		ID:            messageID,
		ContactID:     contactID,
		Direction:     models.DirectionIncoming,
		ContentType:   "text",
		Stage:         models.StagePingSent,
		PingID:        pingID,
		PingTimestamp: pingTS.UTC(),
		CreatedAt:     now.UTC(),
	}
}

func NewInboundTap(messageID, contactID string, now time.Time) models.Message {
	return models.Message{
		ID:          messageID,
		ContactID:   contactID,
		Direction:   models.DirectionIncoming,
		ContentType: "tap",
		Stage:       models.StagePending,
		CreatedAt:   now.UTC(),
	}
}

func BuildDeliveryStatus(msg models.Message, found bool) (models.DeliveryStatus, error) {
	if !found {
		return models.DeliveryStatus{}, ErrMessageNotFound
	}
	return models.DeliveryStatus{
		MessageID:     msg.ID,
		Stage:         msg.Stage,
		PingDelivered: msg.PingDelivered,
		PongDelivered: msg.PongDelivered,
		TapDelivered:  msg.TapDelivered,
		MsgDelivered:  msg.MsgDelivered,
		Undelivered:   msg.Undelivered,
		RetryCount:    msg.RetryCount,
		NextRetryAt:   msg.NextRetryAt,
	}, nil
}

// SanitizeForListing strips the cached wire bytes off a row before it
// leaves the domain. The frames are retransmission material, not
// something the API surface should carry around.
func SanitizeForListing(msg models.Message) models.Message {
	msg.PingWire = nil
	msg.PongWire = nil
	msg.TapWire = nil
	msg.PayloadWire = nil
	msg.AckWire = nil
	return msg
}

// RetryAction is what the scheduler should do with one due message row.
type RetryAction int

const (
	RetryActionNone RetryAction = iota
	RetryActionResendPing
	RetryActionResendPayload
	RetryActionResendPong
	RetryActionResendTap
	RetryActionPark
)

// PlanMessageRetry maps a due row onto the frame its current stage is
// still waiting to land. A row past the attempt ceiling, or one holding
// no cached bytes to retransmit, is parked as undelivered.
func PlanMessageRetry(msg models.Message, attemptCeiling int) RetryAction {
	if msg.Stage.Terminal() || msg.Undelivered {
		return RetryActionNone
	}
	if attemptCeiling > 0 && msg.RetryCount >= attemptCeiling {
		return RetryActionPark
	}
	if msg.TapID != "" && len(msg.Content) == 0 {
		if msg.Direction != models.DirectionOutgoing || msg.TapDelivered {
			return RetryActionNone
		}
		if len(msg.TapWire) == 0 {
			return RetryActionPark
		}
		return RetryActionResendTap
	}
	if msg.Direction == models.DirectionIncoming {
		if msg.Stage != models.StagePongSent || msg.PongDelivered {
			return RetryActionNone
		}
		if len(msg.PongWire) == 0 {
			return RetryActionPark
		}
		return RetryActionResendPong
	}
	switch msg.Stage {
	case models.StagePingSent:
		if msg.PingDelivered {
			return RetryActionNone
		}
		if len(msg.PingWire) == 0 {
			return RetryActionPark
		}
		return RetryActionResendPing
	case models.StagePongSent:
		if msg.MsgDelivered {
			return RetryActionNone
		}
		if len(msg.PayloadWire) == 0 {
			return RetryActionPark
		}
		return RetryActionResendPayload
	}
	return RetryActionPark
}
