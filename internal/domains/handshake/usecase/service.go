package usecase

import (
	"encoding/json"
	"errors"
	"time"

	"umbra-chat/go-backend/internal/crypto"
	"umbra-chat/go-backend/internal/domains/contracts"
	handshakepolicy "umbra-chat/go-backend/internal/domains/handshake/policy"
	"umbra-chat/go-backend/internal/onion"
	"umbra-chat/go-backend/internal/storage"
	"umbra-chat/go-backend/pkg/models"
)

var errFinalizeMaterialMissing = errors.New("request lacks the material to finalize")

type ServiceDeps struct {
	Identity contracts.IdentityDomain
	Sessions contracts.SessionDomain
	Requests contracts.RequestRepository
	Contacts contracts.ContactRepository

	GenerateID     func(prefix string) (string, error)
	GeneratePIN    func() (string, error)
	Now            func() time.Time
	SendFrame      func(frame onion.Frame) error
	TrackOperation func(operation string, errRef *error) func()
	Notify         func(method string, payload any)
	RecordError    func(category string, err error)
}

type Service struct {
	deps ServiceDeps
}

func NewService(deps ServiceDeps) *Service {
	return &Service{deps: deps}
}

// StartHandshake seals the local contact card under the PIN and begins
// retransmitting it to the peer's introduction endpoint. An empty pin
// asks the daemon to generate one; either way the caller gets it back on
// the returned row for out-of-band sharing.
func (s *Service) StartHandshake(peerIntroAddress, pin string) (req models.FriendRequest, err error) {
	if s.deps.TrackOperation != nil {
		defer s.deps.TrackOperation("handshake.start", &err)()
	}
	peerIntroAddress, pin, err = ParseStartInput(peerIntroAddress, pin)
	if err != nil {
		return models.FriendRequest{}, err
	}
	self := s.deps.Identity.GetIdentity()
	if err = RequireLocalIdentity(self.ID); err != nil {
		return models.FriendRequest{}, err
	}
	if err = RequireForeignIntroAddress(self.IntroAddress, peerIntroAddress); err != nil {
		return models.FriendRequest{}, err
	}
	if pin == "" {
		pin, err = s.generatePIN()
		if err != nil {
			s.recordError(contracts.ErrorCategoryCrypto, err)
			return models.FriendRequest{}, err
		}
	} else if pin, err = crypto.NormalizePIN(pin); err != nil {
		return models.FriendRequest{}, err
	}

	card, err := s.deps.Identity.SelfCard()
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.FriendRequest{}, err
	}
	cardJSON, err := json.Marshal(card)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.FriendRequest{}, err
	}
	wire, err := crypto.SealWithPIN(pin, cardJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.FriendRequest{}, err
	}

	requestID, err := s.deps.GenerateID("req")
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.FriendRequest{}, err
	}
	now := s.now()
	if err = s.deps.Requests.Insert(BuildOutgoingRequest(requestID, peerIntroAddress, pin, card, now)); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.FriendRequest{}, err
	}
	if _, err = s.deps.Requests.AttachPhase1Wire(requestID, wire); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.FriendRequest{}, err
	}
	if _, err = s.deps.Requests.AdvancePhase(requestID, models.Phase1Sent); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.FriendRequest{}, err
	}
	req, err = s.deps.Requests.ScheduleRetry(requestID, now, contracts.NextRetryAt(now, 0))
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.FriendRequest{}, err
	}

	s.sendPhase1(req)
	s.notify("notify.handshake.started", map[string]any{
		"request_id":      req.ID,
		"peer_intro_addr": req.PeerIntroAddr,
	})
	return handshakepolicy.SanitizeForListing(req), nil
}

// AcceptHandshake opens a parked phase-1 payload with the PIN the peer
// shared out of band and answers with the sealed phase-2 response. A
// wrong PIN returns an error but leaves the request parked; the user may
// retype it. Verification failures on the card itself are terminal.
func (s *Service) AcceptHandshake(requestID, pin string) (req models.FriendRequest, err error) {
	if s.deps.TrackOperation != nil {
		defer s.deps.TrackOperation("handshake.accept", &err)()
	}
	requestID, pin, err = ParseAcceptInput(requestID, pin)
	if err != nil {
		return models.FriendRequest{}, err
	}
	if pin, err = crypto.NormalizePIN(pin); err != nil {
		return models.FriendRequest{}, err
	}
	row, found := s.deps.Requests.Get(requestID)
	if err = ValidateAcceptableRequest(row, found); err != nil {
		return models.FriendRequest{}, err
	}
	if row.Phase != models.PhaseNone {
		// Already accepted; the schedule keeps resending phase 2.
		return handshakepolicy.SanitizeForListing(row), nil
	}
	if len(row.Phase2Wire) > 0 && row.PeerCard != nil {
		// Interrupted after caching phase 2: reuse the cached bytes,
		// never rebuild them. A rebuilt box would carry a fresh KEM run
		// and break the root key both sides already derived from the
		// first one.
		return s.resumeAccepted(row)
	}

	peerCardJSON, err := crypto.OpenWithPIN(pin, row.Phase1Wire)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.FriendRequest{}, err
	}
	var peerCard models.ContactCard
	if err = json.Unmarshal(peerCardJSON, &peerCard); err != nil {
		s.failRequest(requestID, "phase 1 payload is not a contact card")
		return models.FriendRequest{}, err
	}
	if err = ValidatePeerCard(peerCard); err != nil {
		s.failRequest(requestID, err.Error())
		return models.FriendRequest{}, err
	}
	self := s.deps.Identity.GetIdentity()
	if err = RequireDistinctPeer(self.ID, peerCard.IdentityID); err != nil {
		s.failRequest(requestID, err.Error())
		return models.FriendRequest{}, err
	}
	ok, verifyErr := s.deps.Identity.VerifyContactCard(peerCard)
	if verifyErr != nil || !ok {
		err = handshakepolicy.ErrCardRejected
		s.recordError(contracts.ErrorCategoryCrypto, err)
		s.failRequest(requestID, err.Error())
		return models.FriendRequest{}, err
	}

	selfCard, err := s.deps.Identity.SelfCard()
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.FriendRequest{}, err
	}
	kemCiphertext, kemShared, err := crypto.KEMEncapsulate(peerCard.KEMKey)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.FriendRequest{}, err
	}
	dhShared, err := crypto.DHShared(s.deps.Identity.ExchangePrivateKey(), peerCard.ExchangeKey)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.FriendRequest{}, err
	}

	// Both sides hash the canonical marshal of the pinned card structs,
	// so the transcript survives restarts and repeat derivations.
	initiatorCardJSON, err := json.Marshal(peerCard)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.FriendRequest{}, err
	}
	responderCardJSON, err := json.Marshal(selfCard)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.FriendRequest{}, err
	}
	transcript := crypto.HandshakeTranscript(initiatorCardJSON, responderCardJSON, kemCiphertext)
	root, err := crypto.DeriveHandshakeRoot(dhShared, kemShared, transcript)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.FriendRequest{}, err
	}

	bodyJSON, err := EncodePhase2Body(handshakepolicy.Phase2Body{Card: selfCard, KEMCiphertext: kemCiphertext})
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.FriendRequest{}, err
	}
	box, err := crypto.SealToExchangeKey(peerCard.ExchangeKey, bodyJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.FriendRequest{}, err
	}
	wire, err := json.Marshal(box)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.FriendRequest{}, err
	}

	if _, err = s.deps.Requests.RecordExchange(requestID, storage.Exchange{
		PeerCard:      &peerCard,
		SelfCard:      &selfCard,
		SharedSecret:  root,
		KEMCiphertext: kemCiphertext,
		PIN:           pin,
	}); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.FriendRequest{}, err
	}
	row, err = s.deps.Requests.AttachPhase2Wire(requestID, wire)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.FriendRequest{}, err
	}
	return s.resumeAccepted(row)
}

// resumeAccepted advances a row that already holds its phase-2 material
// into the retry schedule and sends the first copy.
func (s *Service) resumeAccepted(row models.FriendRequest) (models.FriendRequest, error) {
	if _, err := s.deps.Requests.AdvancePhase(row.ID, models.Phase2Sent); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.FriendRequest{}, err
	}
	now := s.now()
	req, err := s.deps.Requests.ScheduleRetry(row.ID, now, contracts.NextRetryAt(now, row.RetryCount))
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.FriendRequest{}, err
	}
	s.sendPhase2(req)
	s.notify("notify.handshake.accepted", map[string]any{
		"request_id": req.ID,
		"peer_id":    req.PeerCard.IdentityID,
	})
	return handshakepolicy.SanitizeForListing(req), nil
}

func (s *Service) ListHandshakes(includeFinished bool) (rows []models.FriendRequest, err error) {
	if s.deps.TrackOperation != nil {
		defer s.deps.TrackOperation("handshake.list", &err)()
	}
	for _, row := range s.deps.Requests.List(includeFinished) {
		rows = append(rows, handshakepolicy.SanitizeForListing(row))
	}
	return rows, nil
}

func (s *Service) CancelHandshake(requestID, reason string) (err error) {
	if s.deps.TrackOperation != nil {
		defer s.deps.TrackOperation("handshake.cancel", &err)()
	}
	requestID, reason, err = ParseCancelInput(requestID, reason)
	if err != nil {
		return err
	}
	row, found := s.deps.Requests.Get(requestID)
	if err = ValidateCancellableRequest(row, found); err != nil {
		return err
	}
	if _, err = s.deps.Requests.Fail(requestID, reason); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return err
	}
	s.notify("notify.handshake.failed", map[string]any{
		"request_id": requestID,
		"reason":     reason,
	})
	return nil
}

// finalizeRequest turns a request that holds a verified root key into a
// confirmed contact and a live session. Ordering matters for crash
// recovery: the session must exist before Complete wipes the root key off
// the row. Every step is idempotent, so an interrupted run is healed by
// running it again.
func (s *Service) finalizeRequest(row models.FriendRequest, initiator bool) bool {
	if row.Completed {
		return true
	}
	if row.PeerCard == nil || len(row.SharedSecret) == 0 {
		s.recordError(contracts.ErrorCategoryAPI, errFinalizeMaterialMissing)
		return false
	}
	contact, err := s.deps.Contacts.UpsertFromCard(*row.PeerCard, models.FriendshipConfirmed, models.TrustEncrypted)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return false
	}
	conversationID := contracts.DeriveConversationID(s.deps.Identity.GetIdentity().ID, contact.ID)
	if _, ok, err := s.deps.Sessions.GetSession(conversationID); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return false
	} else if !ok {
		if _, err := s.deps.Sessions.InitSession(conversationID, row.SharedSecret, initiator); err != nil {
			s.recordError(contracts.ErrorCategoryCrypto, err)
			return false
		}
	}
	if _, err := s.deps.Requests.Complete(row.ID, contact.ID); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return false
	}
	s.notify("notify.handshake.completed", map[string]any{
		"request_id": row.ID,
		"contact_id": contact.ID,
	})
	s.notify("notify.contact.added", map[string]any{
		"contact_id":   contact.ID,
		"display_name": contact.DisplayName,
	})
	return true
}

func (s *Service) failRequest(requestID, reason string) {
	if _, err := s.deps.Requests.Fail(requestID, reason); err != nil {
		if !errors.Is(err, storage.ErrRequestFinished) {
			s.recordError(contracts.ErrorCategoryStorage, err)
		}
		return
	}
	s.notify("notify.handshake.failed", map[string]any{
		"request_id": requestID,
		"reason":     reason,
	})
}

func (s *Service) sendPhase1(row models.FriendRequest) {
	if len(row.Phase1Wire) == 0 || row.PeerIntroAddr == "" {
		return
	}
	s.dispatch(onion.Frame{
		Service:   onion.ServiceIntro,
		Kind:      contracts.FrameKindPhase1,
		RequestID: row.ID,
		Recipient: row.PeerIntroAddr,
		Payload:   row.Phase1Wire,
	})
}

func (s *Service) sendPhase2(row models.FriendRequest) {
	if len(row.Phase2Wire) == 0 || row.PeerCard == nil {
		return
	}
	s.dispatch(onion.Frame{
		Service:   onion.ServiceMsg,
		Kind:      contracts.FrameKindPhase2,
		RequestID: row.ID,
		Recipient: row.PeerCard.MsgAddress,
		Payload:   row.Phase2Wire,
	})
}

func (s *Service) sendPhase3(row models.FriendRequest) {
	if len(row.Phase3Wire) == 0 || row.PeerCard == nil {
		return
	}
	s.dispatch(onion.Frame{
		Service:   onion.ServiceMsg,
		Kind:      contracts.FrameKindPhase3,
		RequestID: row.ID,
		Recipient: row.PeerCard.MsgAddress,
		Payload:   row.Phase3Wire,
	})
}

func (s *Service) dispatch(frame onion.Frame) {
	frameID, err := s.deps.GenerateID("frm")
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return
	}
	frame.ID = frameID
	if err := s.deps.SendFrame(frame); err != nil {
		s.recordError(contracts.ErrorCategoryNetwork, err)
	}
}

func (s *Service) generatePIN() (string, error) {
	if s.deps.GeneratePIN != nil {
		return s.deps.GeneratePIN()
	}
	return crypto.GeneratePIN()
}

func (s *Service) now() time.Time {
	if s.deps.Now != nil {
		return s.deps.Now()
	}
	return time.Now()
}

func (s *Service) notify(method string, payload any) {
	if s.deps.Notify != nil {
		s.deps.Notify(method, payload)
	}
}

func (s *Service) recordError(category string, err error) {
	if s.deps.RecordError != nil && err != nil {
		s.deps.RecordError(category, err)
	}
}
