package storage

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"umbra-chat/go-backend/pkg/models"
)

const (
	// maxSkippedPerConversation bounds how many banked keys one
	// conversation may hold. The oldest rows fall off first; a message
	// that old would need its sender to retransmit anyway.
	maxSkippedPerConversation = 2048

	// SkippedKeyTTL is the age at which the sweeper reclaims a banked key.
	SkippedKeyTTL = 30 * 24 * time.Hour
)

// SkippedKeyStore is the persistent vault for ratchet keys that
// out-of-order arrivals jumped over. Consume removes the row in the same
// locked step that returns it, so each key decrypts at most one message
// even with concurrent arrivals.
type SkippedKeyStore struct {
	mu     sync.Mutex
	rows   map[string]models.SkippedMessageKey
	path   string
	secret string
	now    func() time.Time
}

func NewSkippedKeyStore() *SkippedKeyStore {
	return &SkippedKeyStore{
		rows: make(map[string]models.SkippedMessageKey),
		now:  time.Now,
	}
}

func NewEncryptedPersistentSkippedKeyStore(path, passphrase string) (*SkippedKeyStore, error) {
	s := &SkippedKeyStore{
		rows:   make(map[string]models.SkippedMessageKey),
		path:   path,
		secret: passphrase,
		now:    time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SkippedKeyStore) Put(conversationID string, sequence uint64, key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := cloneSkippedKeys(s.rows)
	next[skippedKeyID(conversationID, sequence)] = models.SkippedMessageKey{
		ConversationID: conversationID,
		Sequence:       sequence,
		Key:            append([]byte(nil), key...),
		CreatedAt:      s.now().UTC(),
	}
	evictOverflowLocked(next, conversationID)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.rows = next
	return nil
}

func (s *SkippedKeyStore) Consume(conversationID string, sequence uint64) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := skippedKeyID(conversationID, sequence)
	row, ok := s.rows[id]
	if !ok {
		return nil, false, nil
	}
	next := cloneSkippedKeys(s.rows)
	delete(next, id)
	if err := s.persistLocked(next); err != nil {
		return nil, false, err
	}
	s.rows = next
	return append([]byte(nil), row.Key...), true, nil
}

// SweepExpired reclaims banked keys older than the TTL.
func (s *SkippedKeyStore) SweepExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-SkippedKeyTTL)
	next := make(map[string]models.SkippedMessageKey, len(s.rows))
	removed := 0
	for id, row := range s.rows {
		if row.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		next[id] = row
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.persistLocked(next); err != nil {
		return 0, err
	}
	s.rows = next
	return removed, nil
}

// DropConversation clears every banked key for one conversation, used
// when a contact is removed.
func (s *SkippedKeyStore) DropConversation(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]models.SkippedMessageKey, len(s.rows))
	removed := 0
	for id, row := range s.rows {
		if row.ConversationID == conversationID {
			removed++
			continue
		}
		next[id] = row
	}
	if removed == 0 {
		return nil
	}
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.rows = next
	return nil
}

func (s *SkippedKeyStore) CountForConversation(conversationID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, row := range s.rows {
		if row.ConversationID == conversationID {
			count++
		}
	}
	return count
}

func skippedKeyID(conversationID string, sequence uint64) string {
	return conversationID + "#" + strconv.FormatUint(sequence, 10)
}

func evictOverflowLocked(rows map[string]models.SkippedMessageKey, conversationID string) {
	var mine []models.SkippedMessageKey
	for _, row := range rows {
		if row.ConversationID == conversationID {
			mine = append(mine, row)
		}
	}
	if len(mine) <= maxSkippedPerConversation {
		return
	}
	sort.Slice(mine, func(i, j int) bool {
		return mine[i].Sequence < mine[j].Sequence
	})
	for _, row := range mine[:len(mine)-maxSkippedPerConversation] {
		delete(rows, skippedKeyID(row.ConversationID, row.Sequence))
	}
}

func (s *SkippedKeyStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	var snapshot struct {
		Rows map[string]models.SkippedMessageKey `json:"rows"`
	}
	if err := readSnapshot(s.path, s.secret, &snapshot); err != nil {
		return err
	}
	if snapshot.Rows != nil {
		s.rows = snapshot.Rows
	}
	return nil
}

func (s *SkippedKeyStore) persistLocked(rows map[string]models.SkippedMessageKey) error {
	if s.path == "" {
		return nil
	}
	snapshot := struct {
		Rows map[string]models.SkippedMessageKey `json:"rows"`
	}{Rows: rows}
	return writeSnapshot(s.path, s.secret, snapshot)
}

func cloneSkippedKeys(in map[string]models.SkippedMessageKey) map[string]models.SkippedMessageKey {
	out := make(map[string]models.SkippedMessageKey, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
