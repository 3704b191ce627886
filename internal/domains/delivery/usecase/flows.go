package usecase

import (
	"crypto/ed25519"
	"encoding/json"
	"sync"

	"umbra-chat/go-backend/internal/crypto"
	"umbra-chat/go-backend/internal/domains/contracts"
	deliverypolicy "umbra-chat/go-backend/internal/domains/delivery/policy"
	"umbra-chat/go-backend/internal/onion"
	"umbra-chat/go-backend/pkg/models"
)

// conversationLocks hands out one mutex per conversation. Ratchet state
// and sequence counters must never see concurrent mutation, but two
// different conversations are free to progress at the same time.
type conversationLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newConversationLocks() *conversationLocks {
	return &conversationLocks{locks: make(map[string]*sync.Mutex)}
}

func (c *conversationLocks) acquire(conversationID string) func() {
	c.mu.Lock()
	lock, ok := c.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[conversationID] = lock
	}
	c.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// conversationWith names the pair conversation for a contact the same way
// both sides derive it at handshake completion.
func (s *Service) conversationWith(contactID string) string {
	return contracts.DeriveConversationID(s.deps.Identity.GetIdentity().ID, contactID)
}

// contactForConversation resolves the confirmed contact an inbound frame
// belongs to. Frames for conversations no contact maps to are noise.
func (s *Service) contactForConversation(conversationID string) (models.Contact, bool) {
	selfID := s.deps.Identity.GetIdentity().ID
	for _, contact := range s.deps.Contacts.List() {
		if contracts.DeriveConversationID(selfID, contact.ID) == conversationID {
			return contact, true
		}
	}
	return models.Contact{}, false
}

// sealControl wraps a frame body under the conversation control key. Each
// call draws a fresh nonce, so the result is sealed exactly once per
// logical frame and cached for retransmission.
func (s *Service) sealControl(conversationID, kind string, body []byte) ([]byte, error) {
	key, err := s.deps.Sessions.ControlKey(conversationID)
	if err != nil {
		return nil, err
	}
	env, err := crypto.SealControlFrame(key, kind, body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (s *Service) openControl(conversationID, kind string, payload []byte) ([]byte, error) {
	var env crypto.ControlEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	key, err := s.deps.Sessions.ControlKey(conversationID)
	if err != nil {
		return nil, err
	}
	return crypto.OpenControlFrame(key, kind, env)
}

// expectedSigner returns the key a pong, payload or ack must verify
// against: the expectation pinned in the signer cache when the exchange
// opened, with the contact registry as the durable fallback once the
// cache entry expired.
func (s *Service) expectedSigner(pingID, contactID string) (ed25519.PublicKey, bool) {
	if pingID != "" {
		if row, _, ok := s.deps.Signers.Resolve(pingID); ok && len(row.SignerKey) == ed25519.PublicKeySize {
			return ed25519.PublicKey(row.SignerKey), true
		}
	}
	if key, ok := s.deps.Contacts.SigningKey(contactID); ok && len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), true
	}
	return nil, false
}

// refreshSigner pushes the expiry of a signer expectation out. Retries
// refresh the row in place rather than recreating it, and an expired
// entry is reseeded from the contact registry.
func (s *Service) refreshSigner(pingID, contactID string) {
	if pingID == "" {
		return
	}
	if row, _, ok := s.deps.Signers.Resolve(pingID); ok {
		if err := s.deps.Signers.Put(pingID, row.ContactID, row.SignerKey); err != nil {
			s.recordError(contracts.ErrorCategoryStorage, err)
		}
		return
	}
	if key, ok := s.deps.Contacts.SigningKey(contactID); ok {
		if err := s.deps.Signers.Put(pingID, contactID, key); err != nil {
			s.recordError(contracts.ErrorCategoryStorage, err)
		}
	}
}

// ensurePayloadWire is the single encryption point for a message's
// content. The first call burns one ratchet sequence and caches the
// sealed frame; every later call finds the cache and returns the row
// untouched, so the wire bytes can never be produced twice.
func (s *Service) ensurePayloadWire(row models.Message) (models.Message, error) {
	if len(row.PayloadWire) > 0 {
		return row, nil
	}
	conversationID := s.conversationWith(row.ContactID)
	env, err := s.deps.Sessions.EncryptPayload(conversationID, row.ID, row.Content)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.Message{}, err
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.Message{}, err
	}
	sig := ed25519.Sign(s.deps.Identity.SigningPrivateKey(), MsgSigningBytes(row.ID, row.PingID, env.Sequence, envJSON))
	bodyJSON, err := EncodeMsgBody(deliverypolicy.MsgBody{
		MessageID:  row.ID,
		PingID:     row.PingID,
		Sequence:   env.Sequence,
		Ciphertext: envJSON,
		Sig:        sig,
	})
	if err != nil {
		s.recordError(contracts.ErrorCategoryAPI, err)
		return models.Message{}, err
	}
	wire, err := s.sealControl(conversationID, contracts.FrameKindMsg, bodyJSON)
	if err != nil {
		s.recordError(contracts.ErrorCategoryCrypto, err)
		return models.Message{}, err
	}
	updated, err := s.deps.Messages.AttachPayload(row.ID, env.Sequence, wire)
	if err != nil {
		s.recordError(contracts.ErrorCategoryStorage, err)
		return models.Message{}, err
	}
	return updated, nil
}

func (s *Service) sendPing(row models.Message) {
	s.sendCachedWire(row, contracts.FrameKindPing, row.PingWire)
}

func (s *Service) sendPong(row models.Message) {
	s.sendCachedWire(row, contracts.FrameKindPong, row.PongWire)
}

func (s *Service) sendPayload(row models.Message) {
	s.sendCachedWire(row, contracts.FrameKindMsg, row.PayloadWire)
}

func (s *Service) sendAck(row models.Message) {
	s.sendCachedWire(row, contracts.FrameKindAck, row.AckWire)
}

func (s *Service) sendTap(row models.Message) {
	s.sendCachedWire(row, contracts.FrameKindTap, row.TapWire)
}

// sendTapAck answers a probe. On an inbound row TapWire holds the tap ack
// the row replies with, mirroring how inbound rows cache pong and ack.
func (s *Service) sendTapAck(row models.Message) {
	s.sendCachedWire(row, contracts.FrameKindTapAck, row.TapWire)
}

func (s *Service) sendCachedWire(row models.Message, kind string, wire []byte) {
	if len(wire) == 0 {
		return
	}
	contact, ok := s.deps.Contacts.Get(row.ContactID)
	if !ok || contact.MsgAddress == "" {
		return
	}
	s.dispatch(onion.Frame{
		Service:        onion.ServiceMsg,
		Kind:           kind,
		ConversationID: s.conversationWith(row.ContactID),
		Recipient:      contact.MsgAddress,
		Payload:        wire,
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
