package usecase

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"strings"

	"umbra-chat/go-backend/internal/crypto"
	"umbra-chat/go-backend/internal/domains/contracts"
	deliverypolicy "umbra-chat/go-backend/internal/domains/delivery/policy"
	"umbra-chat/go-backend/internal/storage"
	"umbra-chat/go-backend/pkg/models"
)

var (
	errSignerUndeclared  = errors.New("ping declares a signer that is not the contact's key")
	errNoSignerExpected  = errors.New("no signer expectation for this exchange")
	errSignatureRejected = errors.New("frame signature does not match the expected signer")
)

// HandlePing opens a delivery exchange on the receiving side. The first
// arrival of a ping identifier pins the declared signer, creates the
// inbound row and seals the pong it will answer with from now on; later
// arrivals only push the signer expectation's expiry out. The pong is
// never resent in reaction to a duplicate; the row's own retry schedule
// covers pong loss.
func (s *Service) HandlePing(conversationID string, payload []byte) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" || len(payload) == 0 {
		return
	}
	contact, ok := s.contactForConversation(conversationID)
	if !ok {
		return
	}
	unlock := s.locks.acquire(conversationID)
	defer unlock()

	bodyJSON, err := s.openControl(conversationID, contracts.FrameKindPing, payload)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	body, err := DecodePingBody(bodyJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	if !ed25519.PublicKey(contact.SigningKey).Equal(ed25519.PublicKey(body.SignerKey)) {
		s.recordError(contracts.ErrorCategoryCrypto, errSignerUndeclared)
		return
	}

	outcome, err := s.deps.Ledger.TryRecord(body.PingID, models.ReceivedKindPing)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	if outcome == storage.RecordAlreadyPresent {
		if err := s.deps.Signers.Put(body.PingID, contact.ID, body.SignerKey); err != nil {
			s.recordError(contracts.ErrorCategoryStorage, err)
		}
		return
	}
	if err := s.deps.Signers.Put(body.PingID, contact.ID, body.SignerKey); err != nil {
		// The contact registry still backs verification, so keep going.
		s.recordError(contracts.ErrorCategoryStorage, err)
	}
	s.touch(contact.ID)

	messageID, err := s.deps.GenerateID("msg")
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	now := s.now()
	if err := s.deps.Messages.Insert(BuildInboundMessage(messageID, contact.ID, body.PingID, body.PingTS, now)); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	sig := ed25519.Sign(s.deps.Identity.SigningPrivateKey(), PongSigningBytes(body.PingID))
	pongJSON, err := EncodePongBody(deliverypolicy.PongBody{PingID: body.PingID, Sig: sig})
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	wire, err := s.sealControl(conversationID, contracts.FrameKindPong, pongJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	if _, err := s.deps.Messages.AttachPong(messageID, wire); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	if _, err := s.deps.Messages.AdvanceStage(messageID, models.StagePongSent); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	row, err := s.deps.Messages.ScheduleRetry(messageID, now, contracts.NextRetryAt(now, 0))
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	s.sendPong(row)
}

// HandlePong closes the reachability leg on the sending side. The
// signature is checked against the signer recorded when the ping left
// (a cross-check, not trust), and only the first verified pong releases
// the cached payload. A pong that fails verification leaves no trace in
// the ledger, so the genuine one can still land later.
func (s *Service) HandlePong(conversationID string, payload []byte) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" || len(payload) == 0 {
		return
	}
	contact, ok := s.contactForConversation(conversationID)
	if !ok {
		return
	}
	unlock := s.locks.acquire(conversationID)
	defer unlock()

	bodyJSON, err := s.openControl(conversationID, contracts.FrameKindPong, payload)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	body, err := DecodePongBody(bodyJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	row, ok := s.deps.Messages.FindByPingID(body.PingID)
	if !ok || row.Direction != models.DirectionOutgoing || row.ContactID != contact.ID {
		return
	}
	signer, ok := s.expectedSigner(body.PingID, row.ContactID)
	if !ok {
		s.recordError(contracts.ErrorCategoryCrypto, errNoSignerExpected)
		return
	}
	if !ed25519.Verify(signer, PongSigningBytes(body.PingID), body.Sig) {
		s.recordError(contracts.ErrorCategoryCrypto, errSignatureRejected)
		return
	}

	outcome, err := s.deps.Ledger.TryRecord(body.PingID, models.ReceivedKindPong)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	if outcome == storage.RecordAlreadyPresent {
		return
	}
	s.touch(contact.ID)

	if _, err := s.deps.Messages.SetDelivered(row.ID, storage.FlagPingDelivered); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	updated, err := s.deps.Messages.AdvanceStage(row.ID, models.StagePongSent)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	updated, err = s.ensurePayloadWire(updated)
	if err != nil {
		return
	}
	now := s.now()
	if scheduled, err := s.deps.Messages.ScheduleRetry(row.ID, now, contracts.NextRetryAt(now, updated.RetryCount)); err == nil {
		updated = scheduled
	} else {
		s.recordError(contracts.ErrorCategoryStorage, err)
	}
	s.sendPayload(updated)
	s.notify("notify.message.status", map[string]any{
		"message_id": row.ID,
		"contact_id": contact.ID,
		"stage":      updated.Stage.String(),
	})
}

// HandleMsg decrypts the payload and answers with the ack. The ack is
// sealed once and cached on the row, so a retransmitted payload frame
// (the first ack was lost) gets the identical answer back.
func (s *Service) HandleMsg(conversationID string, payload []byte) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" || len(payload) == 0 {
		return
	}
	contact, ok := s.contactForConversation(conversationID)
	if !ok {
		return
	}
	unlock := s.locks.acquire(conversationID)
	defer unlock()

	bodyJSON, err := s.openControl(conversationID, contracts.FrameKindMsg, payload)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	body, err := DecodeMsgBody(bodyJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	signer, ok := s.expectedSigner(body.PingID, contact.ID)
	if !ok {
		s.recordError(contracts.ErrorCategoryCrypto, errNoSignerExpected)
		return
	}
	if !ed25519.Verify(signer, MsgSigningBytes(body.MessageID, body.PingID, body.Sequence, body.Ciphertext), body.Sig) {
		s.recordError(contracts.ErrorCategoryCrypto, errSignatureRejected)
		return
	}

	outcome, err := s.deps.Ledger.TryRecord(body.MessageID, models.ReceivedKindMessage)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	if outcome == storage.RecordAlreadyPresent {
		if row, ok := s.deps.Messages.FindByPingID(body.PingID); ok && row.Direction == models.DirectionIncoming && len(row.AckWire) > 0 {
			s.sendAck(row)
		}
		return
	}

	row, ok := s.deps.Messages.FindByPingID(body.PingID)
	if ok && (row.Direction != models.DirectionIncoming || row.ContactID != contact.ID) {
		// A ping id echoed off one of our own outgoing rows. Dropping it
		// here keeps the frame from rewriting that row.
		return
	}
	if !ok {
		// The ping's row is gone, e.g. the history was cleared between
		// ping and payload. Recreate it so the exchange can still finish.
		messageID, err := s.deps.GenerateID("msg")
		if err != nil {
			s.recordError(contracts.ErrorCategoryAPI, err)
			return
		}
		now := s.now()
		row = BuildInboundMessage(messageID, contact.ID, body.PingID, now, now)
		if err := s.deps.Messages.Insert(row); err != nil {
			s.recordError(contracts.ErrorCategoryStorage, err)
			return
		}
	}

	var env crypto.PayloadEnvelope
	if err := json.Unmarshal(body.Ciphertext, &env); err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	plaintext, err := s.deps.Sessions.DecryptPayload(conversationID, env)
	if err != nil {
		// Terminal for this message only; the ratchet and every other
		// message are unaffected.
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	s.touch(contact.ID)

	if _, err := s.deps.Messages.RecordInboundContent(row.ID, env.Sequence, plaintext, "text"); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	// The payload's arrival is the proof our pong landed.
	if _, err := s.deps.Messages.SetDelivered(row.ID, storage.FlagPongDelivered); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
	}
	sig := ed25519.Sign(s.deps.Identity.SigningPrivateKey(), AckSigningBytes(body.MessageID))
	ackJSON, err := EncodeAckBody(deliverypolicy.AckBody{MessageID: body.MessageID, Sig: sig})
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	wire, err := s.sealControl(conversationID, contracts.FrameKindAck, ackJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	if _, err := s.deps.Messages.AttachAck(row.ID, wire); err != nil && !errors.Is(err, storage.ErrWireAlreadySet) {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	final, err := s.deps.Messages.MarkDelivered(row.ID, s.now())
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	if err := s.deps.Signers.Delete(body.PingID); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
	}
	s.sendAck(final)
	s.notify("notify.message.received", map[string]any{
		"contact_id": contact.ID,
		"message_id": final.ID,
		"message":    deliverypolicy.SanitizeForListing(final),
	})
}

// HandleAck is the terminal transition for an outgoing message.
func (s *Service) HandleAck(conversationID string, payload []byte) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" || len(payload) == 0 {
		return
	}
	contact, ok := s.contactForConversation(conversationID)
	if !ok {
		return
	}
	unlock := s.locks.acquire(conversationID)
	defer unlock()

	bodyJSON, err := s.openControl(conversationID, contracts.FrameKindAck, payload)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	body, err := DecodeAckBody(bodyJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	row, ok := s.deps.Messages.Get(body.MessageID)
	if !ok || row.Direction != models.DirectionOutgoing || row.ContactID != contact.ID {
		return
	}
	if row.MsgDelivered {
		return
	}
	signer, ok := s.expectedSigner(row.PingID, contact.ID)
	if !ok {
		s.recordError(contracts.ErrorCategoryCrypto, errNoSignerExpected)
		return
	}
	if !ed25519.Verify(signer, AckSigningBytes(body.MessageID), body.Sig) {
		s.recordError(contracts.ErrorCategoryCrypto, errSignatureRejected)
		return
	}
	s.touch(contact.ID)

	delivered, err := s.deps.Messages.MarkDelivered(row.ID, s.now())
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	if err := s.deps.Signers.Delete(row.PingID); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
	}
	s.notify("notify.message.delivered", map[string]any{
		"message_id":   delivered.ID,
		"contact_id":   contact.ID,
		"delivered_at": delivered.DeliveredAt,
	})
}

// HandleTap answers a liveness probe. The first arrival of a tap
// identifier seals the tap ack and keeps it; a duplicate means the
// probe's answer was lost and gets the identical cached bytes back.
func (s *Service) HandleTap(conversationID string, payload []byte) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" || len(payload) == 0 {
		return
	}
	contact, ok := s.contactForConversation(conversationID)
	if !ok {
		return
	}
	unlock := s.locks.acquire(conversationID)
	defer unlock()

	bodyJSON, err := s.openControl(conversationID, contracts.FrameKindTap, payload)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	body, err := DecodeTapBody(bodyJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	if !ed25519.Verify(ed25519.PublicKey(contact.SigningKey), TapSigningBytes(body.TapID), body.Sig) {
		s.recordError(contracts.ErrorCategoryCrypto, errSignatureRejected)
		return
	}

	outcome, err := s.deps.Ledger.TryRecord(body.TapID, models.ReceivedKindTap)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	if outcome == storage.RecordAlreadyPresent {
		if row, ok := s.deps.Messages.FindByTapID(body.TapID); ok && row.Direction == models.DirectionIncoming {
			s.sendTapAck(row)
		}
		return
	}
	s.touch(contact.ID)

	messageID, err := s.deps.GenerateID("msg")
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	sig := ed25519.Sign(s.deps.Identity.SigningPrivateKey(), TapAckSigningBytes(body.TapID))
	ackJSON, err := EncodeTapAckBody(deliverypolicy.TapAckBody{TapID: body.TapID, Sig: sig})
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	wire, err := s.sealControl(conversationID, contracts.FrameKindTapAck, ackJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	now := s.now()
	if err := s.deps.Messages.Insert(BuildInboundTap(messageID, contact.ID, now)); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	row, err := s.deps.Messages.AttachTap(messageID, body.TapID, wire)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	s.sendTapAck(row)
	s.notify("notify.tap.received", map[string]any{
		"contact_id": contact.ID,
	})
}

// HandleTapAck settles an outgoing probe.
func (s *Service) HandleTapAck(conversationID string, payload []byte) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" || len(payload) == 0 {
		return
	}
	contact, ok := s.contactForConversation(conversationID)
	if !ok {
		return
	}
	unlock := s.locks.acquire(conversationID)
	defer unlock()

	bodyJSON, err := s.openControl(conversationID, contracts.FrameKindTapAck, payload)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return
	}
	body, err := DecodeTapAckBody(bodyJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	row, ok := s.deps.Messages.FindByTapID(body.TapID)
	if !ok || row.Direction != models.DirectionOutgoing || row.ContactID != contact.ID {
		return
	}
	if row.TapDelivered {
		return
	}
	signer, ok := s.expectedSigner(body.TapID, contact.ID)
	if !ok {
		s.recordError(contracts.ErrorCategoryCrypto, errNoSignerExpected)
		return
	}
	if !ed25519.Verify(signer, TapAckSigningBytes(body.TapID), body.Sig) {
		s.recordError(contracts.ErrorCategoryCrypto, errSignatureRejected)
		return
	}
	s.touch(contact.ID)

	if _, err := s.deps.Messages.SetDelivered(row.ID, storage.FlagTapDelivered); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return
	}
	if _, err := s.deps.Messages.HaltRetries(row.ID); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
	}
	if err := s.deps.Signers.Delete(body.TapID); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
	}
	s.notify("notify.tap.delivered", map[string]any{
		"message_id": row.ID,
		"tap_id":     body.TapID,
		"contact_id": contact.ID,
	})
}
