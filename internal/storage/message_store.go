package storage

import (
	"errors"
	"sort"
	"sync"
	"time"

	"umbra-chat/go-backend/pkg/models"
)

var (
	ErrMessageIDConflict = errors.New("message id conflict")
	ErrMessageNotFound   = errors.New("message not found")
	ErrWireAlreadySet    = errors.New("cached wire bytes already set")
)

// MessageStore keeps every message row together with its delivery state.
// Transitions go through single read-modify-write steps under the lock,
// and each accepted change is persisted before it becomes visible.
type MessageStore struct {
	mu       sync.RWMutex
	messages map[string]models.Message
	path     string
	secret   string
}

func NewMessageStore() *MessageStore {
	return &MessageStore{messages: make(map[string]models.Message)}
}

func NewPersistentMessageStore(path string) (*MessageStore, error) {
	return NewEncryptedPersistentMessageStore(path, "")
}

func NewEncryptedPersistentMessageStore(path, passphrase string) (*MessageStore, error) {
	s := &MessageStore{
		messages: make(map[string]models.Message),
		path:     path,
		secret:   passphrase,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MessageStore) Insert(msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[msg.ID]; ok {
		return ErrMessageIDConflict
	}
	next := cloneMessagesMap(s.messages)
	next[msg.ID] = msg
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.messages = next
	return nil
}

func (s *MessageStore) Get(messageID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[messageID]
	return msg, ok
}

// FindByPingID locates the outgoing message a pong or an inbound row a
// retransmitted ping belongs to.
func (s *MessageStore) FindByPingID(pingID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages {
		if msg.PingID == pingID {
			return msg, true
		}
	}
	return models.Message{}, false
}

func (s *MessageStore) FindByTapID(tapID string) (models.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, msg := range s.messages {
		if msg.TapID == tapID {
			return msg, true
		}
	}
	return models.Message{}, false
}

func (s *MessageStore) ListByContact(contactID string, limit, offset int) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	filtered := make([]models.Message, 0)
	for _, msg := range s.messages {
		if msg.ContactID == contactID {
			filtered = append(filtered, msg)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.Before(filtered[j].CreatedAt)
	})

	if offset < 0 {
		offset = 0
	}
	if offset >= len(filtered) {
		return []models.Message{}
	}
	filtered = filtered[offset:]
	if limit > 0 && limit < len(filtered) {
		return append([]models.Message(nil), filtered[:limit]...)
	}
	return append([]models.Message(nil), filtered...)
}

// AttachPing records the ping identity and its sealed bytes. Both are
// written exactly once; retries resend the stored bytes verbatim.
func (s *MessageStore) AttachPing(messageID, pingID string, pingTimestamp time.Time, pingWire []byte) (models.Message, error) {
	return s.apply(messageID, func(msg models.Message) (models.Message, error) {
		if msg.PingID != "" || len(msg.PingWire) > 0 {
			return msg, ErrWireAlreadySet
		}
		msg.PingID = pingID
		msg.PingTimestamp = pingTimestamp
		msg.PingWire = append([]byte(nil), pingWire...)
		return msg, nil
	})
}

// AttachPong caches the pong an inbound row answers its ping with.
func (s *MessageStore) AttachPong(messageID string, pongWire []byte) (models.Message, error) {
	return s.apply(messageID, func(msg models.Message) (models.Message, error) {
		if len(msg.PongWire) > 0 {
			return msg, ErrWireAlreadySet
		}
		msg.PongWire = append([]byte(nil), pongWire...)
		return msg, nil
	})
}

// AttachPayload caches the ratchet ciphertext produced at the single
// encryption point, together with the sequence it consumed.
func (s *MessageStore) AttachPayload(messageID string, sequence uint64, payloadWire []byte) (models.Message, error) {
	return s.apply(messageID, func(msg models.Message) (models.Message, error) {
		if len(msg.PayloadWire) > 0 {
			return msg, ErrWireAlreadySet
		}
		msg.Sequence = sequence
		msg.PayloadWire = append([]byte(nil), payloadWire...)
		return msg, nil
	})
}

// AttachAck caches the final acknowledgment so a retransmitted payload
// frame gets the identical ack back.
func (s *MessageStore) AttachAck(messageID string, ackWire []byte) (models.Message, error) {
	return s.apply(messageID, func(msg models.Message) (models.Message, error) {
		if len(msg.AckWire) > 0 {
			return msg, ErrWireAlreadySet
		}
		msg.AckWire = append([]byte(nil), ackWire...)
		return msg, nil
	})
}

// RecordInboundContent fills an inbound row once its payload decrypted.
func (s *MessageStore) RecordInboundContent(messageID string, sequence uint64, content []byte, contentType string) (models.Message, error) {
	return s.apply(messageID, func(msg models.Message) (models.Message, error) {
		msg.Sequence = sequence
		msg.Content = append([]byte(nil), content...)
		msg.ContentType = contentType
		return msg, nil
	})
}

func (s *MessageStore) AttachTap(messageID, tapID string, tapWire []byte) (models.Message, error) {
	return s.apply(messageID, func(msg models.Message) (models.Message, error) {
		if msg.TapID != "" || len(msg.TapWire) > 0 {
			return msg, ErrWireAlreadySet
		}
		msg.TapID = tapID
		msg.TapWire = append([]byte(nil), tapWire...)
		return msg, nil
	})
}

// AdvanceStage merges the candidate stage in, never moving backwards.
// Entering a new stage restarts its backoff from the initial delay.
func (s *MessageStore) AdvanceStage(messageID string, stage models.DeliveryStage) (models.Message, error) {
	return s.apply(messageID, func(msg models.Message) (models.Message, error) {
		if next, ok := msg.Stage.Advance(stage); ok {
			msg.Stage = next
			msg.RetryCount = 0
		}
		return msg, nil
	})
}

type DeliveredFlag int

const (
	FlagPingDelivered DeliveredFlag = iota
	FlagPongDelivered
	FlagTapDelivered
	FlagMsgDelivered
)

// SetDelivered raises one of the four delivery flags. Flags only ever go
// from false to true.
func (s *MessageStore) SetDelivered(messageID string, flag DeliveredFlag) (models.Message, error) {
	return s.apply(messageID, func(msg models.Message) (models.Message, error) {
		switch flag {
		case FlagPingDelivered:
			msg.PingDelivered = true
		case FlagPongDelivered:
			msg.PongDelivered = true
		case FlagTapDelivered:
			msg.TapDelivered = true
		case FlagMsgDelivered:
			msg.MsgDelivered = true
		}
		return msg, nil
	})
}

// MarkDelivered is the terminal transition: stage Delivered, final flag
// raised, retry schedule cleared.
func (s *MessageStore) MarkDelivered(messageID string, at time.Time) (models.Message, error) {
	return s.apply(messageID, func(msg models.Message) (models.Message, error) {
		if next, ok := msg.Stage.Advance(models.StageDelivered); ok {
			msg.Stage = next
		}
		msg.MsgDelivered = true
		msg.DeliveredAt = at
		msg.NextRetryAt = time.Time{}
		return msg, nil
	})
}

// ScheduleRetry bumps the attempt counters and plants the next wakeup.
func (s *MessageStore) ScheduleRetry(messageID string, attemptAt, nextRetryAt time.Time) (models.Message, error) {
	return s.apply(messageID, func(msg models.Message) (models.Message, error) {
		msg.RetryCount++
		msg.LastAttemptAt = attemptAt
		msg.NextRetryAt = nextRetryAt
		return msg, nil
	})
}

// MarkUndelivered parks the row after the retry ceiling. The row stays
// listed and a manual retry can resume it.
func (s *MessageStore) MarkUndelivered(messageID string) (models.Message, error) {
	return s.apply(messageID, func(msg models.Message) (models.Message, error) {
		msg.Undelivered = true
		msg.NextRetryAt = time.Time{}
		return msg, nil
	})
}

// Requeue puts a parked row back on the retry schedule.
func (s *MessageStore) Requeue(messageID string, nextRetryAt time.Time) (models.Message, error) {
	return s.apply(messageID, func(msg models.Message) (models.Message, error) {
		msg.Undelivered = false
		msg.RetryCount = 0
		msg.NextRetryAt = nextRetryAt
		return msg, nil
	})
}

// HaltRetries takes a row off the schedule without touching its stage.
// Used when the frame this row was retransmitting got acknowledged but
// the row itself is not message-delivered, e.g. an answered tap probe or
// an inbound row whose pong the payload arrival just proved.
func (s *MessageStore) HaltRetries(messageID string) (models.Message, error) {
	return s.apply(messageID, func(msg models.Message) (models.Message, error) {
		msg.NextRetryAt = time.Time{}
		return msg, nil
	})
}

// DuePending returns rows whose next retry time has passed and that still
// have work left, outbound and inbound alike. The scheduler owns no state
// of its own; this scan is the whole queue.
func (s *MessageStore) DuePending(now time.Time) []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Message, 0)
	for _, msg := range s.messages {
		if msg.Stage.Terminal() || msg.Undelivered {
			continue
		}
		if msg.NextRetryAt.IsZero() || msg.NextRetryAt.After(now) {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRetryAt.Before(out[j].NextRetryAt)
	})
	return out
}

func (s *MessageStore) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, msg := range s.messages {
		if !msg.Stage.Terminal() && !msg.Undelivered && !msg.NextRetryAt.IsZero() {
			count++
		}
	}
	return count
}

func (s *MessageStore) DeleteMessage(contactID, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.ContactID != contactID {
		return false, nil
	}
	next := cloneMessagesMap(s.messages)
	delete(next, messageID)
	if err := s.persistLocked(next); err != nil {
		return false, err
	}
	s.messages = next
	return true, nil
}

func (s *MessageStore) ClearMessages(contactID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]models.Message, len(s.messages))
	deleted := 0
	for id, msg := range s.messages {
		if msg.ContactID == contactID {
			deleted++
			continue
		}
		next[id] = msg
	}
	if deleted == 0 {
		return 0, nil
	}
	if err := s.persistLocked(next); err != nil {
		return 0, err
	}
	s.messages = next
	return deleted, nil
}

func (s *MessageStore) apply(messageID string, fn func(models.Message) (models.Message, error)) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok {
		return models.Message{}, ErrMessageNotFound
	}
	updated, err := fn(msg)
	if err != nil {
		return models.Message{}, err
	}
	next := cloneMessagesMap(s.messages)
	next[messageID] = updated
	if err := s.persistLocked(next); err != nil {
		return models.Message{}, err
	}
	s.messages = next
	return updated, nil
}

func (s *MessageStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	var snapshot struct {
		Messages map[string]models.Message `json:"messages"`
	}
	if err := readSnapshot(s.path, s.secret, &snapshot); err != nil {
		return err
	}
	if snapshot.Messages != nil {
		s.messages = snapshot.Messages
	}
	return nil
}

func (s *MessageStore) persistLocked(messages map[string]models.Message) error {
	if s.path == "" {
		return nil
	}
	snapshot := struct {
		Messages map[string]models.Message `json:"messages"`
	}{Messages: messages}
	return writeSnapshot(s.path, s.secret, snapshot)
}

func cloneMessagesMap(in map[string]models.Message) map[string]models.Message {
	out := make(map[string]models.Message, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
