package usecase

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"strings"

	"umbra-chat/go-backend/internal/crypto"
	"umbra-chat/go-backend/internal/domains/contracts"
	handshakepolicy "umbra-chat/go-backend/internal/domains/handshake/policy"
	"umbra-chat/go-backend/internal/storage"
	"umbra-chat/go-backend/pkg/models"
)

// HandlePhase1 parks a sealed phase-1 payload until the user supplies the
// PIN that opens it. The request id chosen by the initiator doubles as
// the duplicate detector: a known id means the peer never saw our phase
// 2, so it is answered from cache instead of parked twice.
func (s *Service) HandlePhase1(requestID string, payload []byte) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" || len(payload) == 0 {
		return
	}
	if row, ok := s.deps.Requests.Get(requestID); ok {
		if row.Direction == models.DirectionIncoming && !row.Failed && len(row.Phase2Wire) > 0 && row.PeerCard != nil {
			s.sendPhase2(row)
		}
		return
	}

	rows := s.deps.Requests.List(false)
	if len(handshakepolicy.ParkedRequests(rows)) >= handshakepolicy.MaxParkedRequests {
		oldest, ok := handshakepolicy.SelectEvictableParked(rows)
		if !ok {
			return
		}
		if err := s.deps.Requests.Delete(oldest.ID); err != nil {
			s.recordError(contracts.ErrorCategoryStorage, err)
			return
		}
	}
	now := s.now()
	if err := s.deps.Requests.Insert(BuildParkedRequest(requestID, now)); err != nil {
		if !errors.Is(err, storage.ErrRequestIDConflict) {
			s.recordError(contracts.ErrorCategoryStorage, err)
		}
		return
	}
	if _, err := s.deps.Requests.AttachPhase1Wire(requestID, payload); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	s.notify("notify.handshake.incoming", map[string]any{
		"request_id": requestID,
	})
}

// HandlePhase2 is the initiator side of the key agreement: open the
// responder's sealed box, run both halves of the derivation and answer
// with the confirmation frame. A phase 2 that arrives after phase 3 was
// built means the peer missed it, so the cached copy is replayed.
func (s *Service) HandlePhase2(requestID string, payload []byte) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" || len(payload) == 0 {
		return
	}
	row, ok := s.deps.Requests.Get(requestID)
	if !ok || row.Direction != models.DirectionOutgoing || row.Failed {
		return
	}
	if row.Phase == models.Phase3Sent || row.Completed {
		s.sendPhase3(row)
		if !row.Completed {
			s.finalizeRequest(row, true)
		}
		return
	}
	if row.Phase != models.Phase1Sent || row.SelfCard == nil {
		return
	}

	var box crypto.SealedBox
	if err := json.Unmarshal(payload, &box); err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	self := s.deps.Identity.GetIdentity()
	bodyJSON, err := crypto.OpenSealedBox(s.deps.Identity.ExchangePrivateKey(), self.ExchangePublicKey, box)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	body, err := DecodePhase2Body(bodyJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	if err := RequireDistinctPeer(self.ID, body.Card.IdentityID); err != nil {
		s.failRequest(requestID, err.Error())
		return
	}
	if ok, err := s.deps.Identity.VerifyContactCard(body.Card); err != nil || !ok {
		s.recordError(contracts.ErrorCategoryCrypto, handshakepolicy.ErrCardRejected)
		return
	}

	kemShared, err := crypto.KEMDecapsulate(s.deps.Identity.KEMPrivateKey(), body.KEMCiphertext)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	dhShared, err := crypto.DHShared(s.deps.Identity.ExchangePrivateKey(), body.Card.ExchangeKey)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	initiatorCardJSON, err := json.Marshal(*row.SelfCard)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	responderCardJSON, err := json.Marshal(body.Card)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	transcript := crypto.HandshakeTranscript(initiatorCardJSON, responderCardJSON, body.KEMCiphertext)
	root, err := crypto.DeriveHandshakeRoot(dhShared, kemShared, transcript)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	env, err := crypto.SealConfirmation(root, s.deps.Identity.SigningPrivateKey(), transcript)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	wire, err := json.Marshal(env)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}

	peerCard := body.Card
	if _, err := s.deps.Requests.RecordExchange(requestID, storage.Exchange{
		PeerCard:      &peerCard,
		SharedSecret:  root,
		KEMCiphertext: body.KEMCiphertext,
	}); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	if _, err := s.deps.Requests.AttachPhase3Wire(requestID, wire); err != nil && !errors.Is(err, storage.ErrWireAlreadySet) {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	updated, err := s.deps.Requests.AdvancePhase(requestID, models.Phase3Sent)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	now := s.now()
	if scheduled, err := s.deps.Requests.ScheduleRetry(requestID, now, contracts.NextRetryAt(now, updated.RetryCount)); err == nil {
		updated = scheduled
	}
	s.sendPhase3(updated)
	s.finalizeRequest(updated, true)
}

// HandlePhase3 closes the responder side: verify the initiator's sealed
// signature over the shared transcript, then promote the request to a
// confirmed contact and a live session. A confirmation that fails to
// open is dropped, never failed; only the holder of the right keys may
// finish a handshake, and a forged frame must not be able to kill one.
func (s *Service) HandlePhase3(requestID string, payload []byte) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" || len(payload) == 0 {
		return
	}
	row, ok := s.deps.Requests.Get(requestID)
	if !ok || row.Direction != models.DirectionIncoming || row.Failed || row.Completed {
		return
	}
	if row.Phase != models.Phase2Sent || row.PeerCard == nil || row.SelfCard == nil {
		return
	}
	if len(row.SharedSecret) == 0 || len(row.KEMCiphertext) == 0 {
		return
	}

	var env crypto.ControlEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	initiatorCardJSON, err := json.Marshal(*row.PeerCard)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	responderCardJSON, err := json.Marshal(*row.SelfCard)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	transcript := crypto.HandshakeTranscript(initiatorCardJSON, responderCardJSON, row.KEMCiphertext)
	if err := crypto.OpenConfirmation(row.SharedSecret, ed25519.PublicKey(row.PeerCard.SigningKey), transcript, env); err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	s.finalizeRequest(row, false)
}
