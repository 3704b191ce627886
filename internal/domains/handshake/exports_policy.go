package handshake

import (
	handshakepolicy "umbra-chat/go-backend/internal/domains/handshake/policy"
	"umbra-chat/go-backend/pkg/models"
)

var (
	ErrRequestNotFound  = handshakepolicy.ErrRequestNotFound
	ErrRequestFinished  = handshakepolicy.ErrRequestFinished
	ErrSelfHandshake    = handshakepolicy.ErrSelfHandshake
	ErrIdentityRequired = handshakepolicy.ErrIdentityRequired
	ErrCardRejected     = handshakepolicy.ErrCardRejected
)

const MaxParkedRequests = handshakepolicy.MaxParkedRequests

type Phase2Body = handshakepolicy.Phase2Body

func ValidateStartInput(peerIntroAddress, pin string) (string, string, error) {
	return handshakepolicy.ValidateStartInput(peerIntroAddress, pin)
}

func ValidateAcceptInput(requestID, pin string) (string, string, error) {
	return handshakepolicy.ValidateAcceptInput(requestID, pin)
}

func EnsureCompleteCard(card models.ContactCard) error {
	return handshakepolicy.EnsureCompleteCard(card)
}

func ParsePhase2Body(raw []byte) (Phase2Body, error) {
	return handshakepolicy.ParsePhase2Body(raw)
}

func ParkedRequests(rows []models.FriendRequest) []models.FriendRequest {
	return handshakepolicy.ParkedRequests(rows)
}

func SanitizeForListing(row models.FriendRequest) models.FriendRequest {
	return handshakepolicy.SanitizeForListing(row)
}
