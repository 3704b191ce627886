package policy

import (
	"errors"
	"strings"
	"time"

	"umbra-chat/go-backend/pkg/models"
)

var (
	ErrRequestNotFound  = errors.New("friend request not found")
	ErrRequestFinished  = errors.New("friend request already finished")
	ErrSelfHandshake    = errors.New("peer resolves to the local identity")
	ErrIdentityRequired = errors.New("no local identity; create or import one first")
	ErrCardRejected     = errors.New("contact card failed signature verification")

	errPeerAddressRequired = errors.New("peer introduction address is required")
	errRequestIDRequired   = errors.New("request id is required")
	errPINRequired         = errors.New("pin is required")
	errRequestNotIncoming  = errors.New("only incoming requests can be accepted")
	errPhase1Missing       = errors.New("request holds no phase 1 payload")
)

// MaxParkedRequests bounds how many sealed phase-1 payloads may sit
// waiting for a PIN. The introduction endpoint is reachable by strangers,
// so the backlog is capped and the oldest entry is evicted to admit a new
// one.
const MaxParkedRequests = 64

func ValidateStartInput(peerIntroAddress, pin string) (string, string, error) {
	peerIntroAddress = strings.TrimSpace(peerIntroAddress)
	pin = strings.TrimSpace(pin)
	if peerIntroAddress == "" {
		return "", "", errPeerAddressRequired
	}
	return peerIntroAddress, pin, nil
}

func ValidateAcceptInput(requestID, pin string) (string, string, error) {
	requestID = strings.TrimSpace(requestID)
	pin = strings.TrimSpace(pin)
	if requestID == "" {
		return "", "", errRequestIDRequired
	}
	if pin == "" {
		return "", "", errPINRequired
	}
	return requestID, pin, nil
}

func ValidateCancelInput(requestID, reason string) (string, string, error) {
	requestID = strings.TrimSpace(requestID)
	reason = strings.TrimSpace(reason)
	if requestID == "" {
		return "", "", errRequestIDRequired
	}
	if reason == "" {
		reason = "cancelled by user"
	}
	return requestID, reason, nil
}

func EnsureIdentityReady(identityID string) error {
	if strings.TrimSpace(identityID) == "" {
		return ErrIdentityRequired
	}
	return nil
}

func EnsureDistinctPeer(selfIdentityID, peerIdentityID string) error {
	if selfIdentityID != "" && selfIdentityID == peerIdentityID {
		return ErrSelfHandshake
	}
	return nil
}

func EnsureForeignIntroAddress(selfIntroAddr, peerIntroAddr string) error {
	if selfIntroAddr != "" && strings.EqualFold(selfIntroAddr, peerIntroAddr) {
		return ErrSelfHandshake
	}
	return nil
}

func EnsureAcceptable(row models.FriendRequest, found bool) error {
	if !found {
		return ErrRequestNotFound
	}
	if row.Completed || row.Failed {
		return ErrRequestFinished
	}
	if row.Direction != models.DirectionIncoming {
		return errRequestNotIncoming
	}
	if len(row.Phase1Wire) == 0 {
		return errPhase1Missing
	}
	return nil
}

func EnsureCancellable(row models.FriendRequest, found bool) error {
	if !found {
		return ErrRequestNotFound
	}
	if row.Completed || row.Failed {
		return ErrRequestFinished
	}
	return nil
}

func NewOutgoingRequest(requestID, peerIntroAddr, pin string, selfCard models.ContactCard, now time.Time) models.FriendRequest {
	card := selfCard
	return models.FriendRequest{
		ID:            requestID,
		Direction:     models.DirectionOutgoing,
		PeerIntroAddr: peerIntroAddr,
		PIN:           pin,
		SelfCard:      &card,
		CreatedAt:     now.UTC(),
	}
}

// NewParkedRequest is the stub row an unsolicited phase 1 lands in. It
// stays at PhaseNone with no retry schedule until the user supplies the
// PIN that opens it.
func NewParkedRequest(requestID string, now time.Time) models.FriendRequest {
	return models.FriendRequest{
		ID:        requestID,
		Direction: models.DirectionIncoming,
		CreatedAt: now.UTC(),
	}
}

func IsParked(row models.FriendRequest) bool {
	return row.Direction == models.DirectionIncoming &&
		row.Phase == models.PhaseNone &&
		!row.Completed && !row.Failed
}

func ParkedRequests(rows []models.FriendRequest) []models.FriendRequest {
	var parked []models.FriendRequest
	for _, row := range rows {
		if IsParked(row) {
			parked = append(parked, row)
		}
	}
	return parked
}

// SelectEvictableParked picks the oldest parked row, the one a full
// backlog drops first.
func SelectEvictableParked(rows []models.FriendRequest) (models.FriendRequest, bool) {
	parked := ParkedRequests(rows)
	if len(parked) == 0 {
		return models.FriendRequest{}, false
	}
	oldest := parked[0]
	for _, row := range parked[1:] {
		if row.CreatedAt.Before(oldest.CreatedAt) {
			oldest = row
		}
	}
	return oldest, true
}

// SanitizeForListing strips key material and cached wire payloads from a
// row before it leaves the daemon. The PIN stays visible: the user who
// started the handshake has to read it out to the peer.
func SanitizeForListing(row models.FriendRequest) models.FriendRequest {
	row.SharedSecret = nil
	row.KEMCiphertext = nil
	row.Phase1Wire = nil
	row.Phase2Wire = nil
	row.Phase3Wire = nil
	return row
}

type RetryAction int

const (
	RetryActionNone RetryAction = iota
	RetryActionResendPhase1
	RetryActionResendPhase2
	RetryActionResendPhase3
	RetryActionAbandon
)

// PlanRequestRetry decides what a due request retransmits. Parked rows
// wait for a PIN, not for the timer. A due row with nothing cached for
// its phase can never make progress and is abandoned.
func PlanRequestRetry(row models.FriendRequest) RetryAction {
	if row.Completed || row.Failed {
		return RetryActionNone
	}
	switch {
	case row.Direction == models.DirectionOutgoing && row.Phase == models.Phase1Sent && len(row.Phase1Wire) > 0:
		return RetryActionResendPhase1
	case row.Direction == models.DirectionIncoming && row.Phase == models.Phase2Sent && len(row.Phase2Wire) > 0 && row.PeerCard != nil:
		return RetryActionResendPhase2
	case row.Direction == models.DirectionOutgoing && row.Phase == models.Phase3Sent && len(row.Phase3Wire) > 0 && row.PeerCard != nil:
		return RetryActionResendPhase3
	case IsParked(row):
		return RetryActionNone
	}
	return RetryActionAbandon
}
