package usecase

import (
	"crypto/ed25519"
	"time"

	"umbra-chat/go-backend/internal/domains/contracts"
	deliverypolicy "umbra-chat/go-backend/internal/domains/delivery/policy"
	"umbra-chat/go-backend/internal/onion"
	"umbra-chat/go-backend/pkg/models"
)

type ServiceDeps struct {
	Identity contracts.IdentityDomain
	Sessions contracts.SessionDomain
	Messages contracts.MessageRepository
	Contacts contracts.ContactRepository
	Ledger   contracts.DedupLedger
	Signers  contracts.SignerCache

	GenerateID     func(prefix string) (string, error)
	Now            func() time.Time
	SendFrame      func(frame onion.Frame) error
	TrackOperation func(operation string, errRef *error) func()
	Notify         func(method string, payload any)
	RecordError    func(category string, err error)
}

type Service struct {
	deps  ServiceDeps
	locks *conversationLocks
}

func NewService(deps ServiceDeps) *Service {
	return &Service{deps: deps, locks: newConversationLocks()}
}

// SendMessage queues one message toward a confirmed contact. The ping
// frame and the encrypted payload are both produced here, exactly once,
// and cached; only the ping leaves now. The payload follows after the
// peer answers the ping with a verifiable pong.
func (s *Service) SendMessage(contactID, content string) (msg models.Message, err error) {
	if s.deps.TrackOperation != nil {
		defer s.deps.TrackOperation("message.send", &err)()
	}
	contactID, content, err = ParseSendInput(contactID, content)
	if err != nil {
		return models.Message{}, err
	}
	contact, found := s.deps.Contacts.Get(contactID)
	if err = RequireDeliverableContact(contact, found); err != nil {
		return models.Message{}, err
	}
	conversationID := s.conversationWith(contactID)
	unlock := s.locks.acquire(conversationID)
	defer unlock()

	messageID, err := s.deps.GenerateID("msg")
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.Message{}, err
	}
	pingID, err := s.deps.GenerateID("ping")
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.Message{}, err
	}
	now := s.now()
	self := s.deps.Identity.GetIdentity()
	pingJSON, err := EncodePingBody(deliverypolicy.PingBody{
		PingID:    pingID,
		PingTS:    now.UTC(),
		SignerKey: self.SigningPublicKey,
	})
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.Message{}, err
	}
	pingWire, err := s.sealControl(conversationID, contracts.FrameKindPing, pingJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.Message{}, err
	}

	if err = s.deps.Messages.Insert(BuildOutgoingMessage(messageID, contactID, content, now)); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.Message{}, err
	}
	row, err := s.deps.Messages.AttachPing(messageID, pingID, now.UTC(), pingWire)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.Message{}, err
	}
	if _, err = s.ensurePayloadWire(row); err != nil {
		return models.Message{}, err
	}
	if _, err = s.deps.Messages.AdvanceStage(messageID, models.StagePingSent); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.Message{}, err
	}
	// Pin the key the pong must answer with before anything leaves.
	if err := s.deps.Signers.Put(pingID, contactID, contact.SigningKey); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
	}
	msg, err = s.deps.Messages.ScheduleRetry(messageID, now, contracts.NextRetryAt(now, 0))
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.Message{}, err
	}

	s.sendPing(msg)
	s.notify("notify.message.queued", map[string]any{
		"contact_id": contactID,
		"message":    deliverypolicy.SanitizeForListing(msg),
	})
	return deliverypolicy.SanitizeForListing(msg), nil
}

// SendTap fires a liveness probe at a contact. The probe shares the
// ledger and the signer cache with message delivery but nothing else; its
// outcome says nothing about any payload.
func (s *Service) SendTap(contactID string) (msg models.Message, err error) {
	if s.deps.TrackOperation != nil {
		defer s.deps.TrackOperation("tap.send", &err)()
	}
	contactID, err = ParseTapInput(contactID)
	if err != nil {
		return models.Message{}, err
	}
	contact, found := s.deps.Contacts.Get(contactID)
	if err = RequireDeliverableContact(contact, found); err != nil {
		return models.Message{}, err
	}
	conversationID := s.conversationWith(contactID)
	unlock := s.locks.acquire(conversationID)
	defer unlock()

	messageID, err := s.deps.GenerateID("msg")
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.Message{}, err
	}
	tapID, err := s.deps.GenerateID("tap")
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.Message{}, err
	}
	sig := ed25519.Sign(s.deps.Identity.SigningPrivateKey(), TapSigningBytes(tapID))
	bodyJSON, err := EncodeTapBody(deliverypolicy.TapBody{TapID: tapID, Sig: sig})
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.Message{}, err
	}
	wire, err := s.sealControl(conversationID, contracts.FrameKindTap, bodyJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.Message{}, err
	}

	now := s.now()
	if err = s.deps.Messages.Insert(BuildTapProbe(messageID, contactID, now)); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.Message{}, err
	}
	if _, err = s.deps.Messages.AttachTap(messageID, tapID, wire); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.Message{}, err
	}
	if err := s.deps.Signers.Put(tapID, contactID, contact.SigningKey); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
	}
	msg, err = s.deps.Messages.ScheduleRetry(messageID, now, contracts.NextRetryAt(now, 0))
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.Message{}, err
	}

	s.sendTap(msg)
	s.notify("notify.tap.queued", map[string]any{
		"contact_id": contactID,
		"message_id": messageID,
		"tap_id":     tapID,
	})
	return deliverypolicy.SanitizeForListing(msg), nil
}

func (s *Service) ListMessages(contactID string, limit, offset int) (rows []models.Message, err error) {
	if s.deps.TrackOperation != nil {
		defer s.deps.TrackOperation("message.list", &err)()
	}
	contactID, err = ParseListContactID(contactID)
	if err != nil {
		return nil, err
	}
	for _, row := range s.deps.Messages.ListByContact(contactID, limit, offset) {
		rows = append(rows, deliverypolicy.SanitizeForListing(row))
	}
	return rows, nil
}

func (s *Service) MessageStatus(messageID string) (status models.DeliveryStatus, err error) {
	if s.deps.TrackOperation != nil {
		defer s.deps.TrackOperation("message.status", &err)()
	}
	messageID, err = ParseMessageID(messageID)
	if err != nil {
		return models.DeliveryStatus{}, err
	}
	row, found := s.deps.Messages.Get(messageID)
	return ComposeDeliveryStatus(row, found)
}

// RetryMessage rearms one message by hand: the attempt counter resets,
// the parked flag clears and the cached frame for the current stage goes
// out again immediately. Delivered messages are refused.
func (s *Service) RetryMessage(messageID string) (msg models.Message, err error) {
	if s.deps.TrackOperation != nil {
		defer s.deps.TrackOperation("message.retry", &err)()
	}
	messageID, err = ParseMessageID(messageID)
	if err != nil {
		return models.Message{}, err
	}
	row, found := s.deps.Messages.Get(messageID)
	if err = ValidateRetryableMessage(row, found); err != nil {
		return models.Message{}, err
	}
	now := s.now()
	msg, err = s.deps.Messages.Requeue(messageID, now)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.Message{}, err
	}
	s.retryRow(msg, now)
	if refreshed, ok := s.deps.Messages.Get(messageID); ok {
		msg = refreshed
	}
	return deliverypolicy.SanitizeForListing(msg), nil
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

func (s *Service) touch(contactID string) {
	if err := s.deps.Contacts.TouchLastSeen(contactID, s.now()); err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
	}
}
