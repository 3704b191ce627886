package usecase

import (
	"time"

	handshakepolicy "umbra-chat/go-backend/internal/domains/handshake/policy"
	"umbra-chat/go-backend/pkg/models"
)

func ParseStartInput(peerIntroAddress, pin string) (string, string, error) {
	return handshakepolicy.ValidateStartInput(peerIntroAddress, pin)
}

func ParseAcceptInput(requestID, pin string) (string, string, error) {
	return handshakepolicy.ValidateAcceptInput(requestID, pin)
}

func ParseCancelInput(requestID, reason string) (string, string, error) {
	return handshakepolicy.ValidateCancelInput(requestID, reason)
}

func BuildOutgoingRequest(requestID, peerIntroAddr, pin string, selfCard models.ContactCard, now time.Time) models.FriendRequest {
	return handshakepolicy.NewOutgoingRequest(requestID, peerIntroAddr, pin, selfCard, now)
}

func BuildParkedRequest(requestID string, now time.Time) models.FriendRequest {
	return handshakepolicy.NewParkedRequest(requestID, now)
}

func ValidateAcceptableRequest(row models.FriendRequest, found bool) error {
	return handshakepolicy.EnsureAcceptable(row, found)
}

func ValidateCancellableRequest(row models.FriendRequest, found bool) error {
	return handshakepolicy.EnsureCancellable(row, found)
}

func RequireLocalIdentity(identityID string) error {
	return handshakepolicy.EnsureIdentityReady(identityID)
}

func RequireDistinctPeer(selfIdentityID, peerIdentityID string) error {
	return handshakepolicy.EnsureDistinctPeer(selfIdentityID, peerIdentityID)
}

func RequireForeignIntroAddress(selfIntroAddr, peerIntroAddr string) error {
	return handshakepolicy.EnsureForeignIntroAddress(selfIntroAddr, peerIntroAddr)
}

func ValidatePeerCard(card models.ContactCard) error {
	return handshakepolicy.EnsureCompleteCard(card)
}

func DecodePhase2Body(raw []byte) (handshakepolicy.Phase2Body, error) {
	return handshakepolicy.ParsePhase2Body(raw)
}

func EncodePhase2Body(body handshakepolicy.Phase2Body) ([]byte, error) {
	return handshakepolicy.MarshalPhase2Body(body)
}
