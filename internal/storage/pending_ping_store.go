package storage

import (
	"sync"
	"time"

	"umbra-chat/go-backend/pkg/models"
)

// ResolveSource reports where a signer lookup was answered from, so
// callers never assume the hot path.
type ResolveSource int

const (
	ResolveFromMemory ResolveSource = iota
	ResolveFromStore
)

const (
	// PendingPingTTL is how long a signer expectation stays valid. Every
	// retransmission refreshes it.
	PendingPingTTL = 4 * time.Hour

	hotCacheLimit = 256
)

// PendingPingStore remembers which signing key must answer a given ping.
// Both roles use it: the recipient records the ping's signer to check the
// eventual payload, the sender records the contact's key to check the
// pong. A small hot cache fronts the persisted rows.
type PendingPingStore struct {
	mu     sync.Mutex
	rows   map[string]models.PendingPing
	hot    map[string]models.PendingPing
	path   string
	secret string
	now    func() time.Time
}

func NewPendingPingStore() *PendingPingStore {
	return &PendingPingStore{
		rows: make(map[string]models.PendingPing),
		hot:  make(map[string]models.PendingPing),
		now:  time.Now,
	}
}

func NewEncryptedPersistentPendingPingStore(path, passphrase string) (*PendingPingStore, error) {
	s := &PendingPingStore{
		rows:   make(map[string]models.PendingPing),
		hot:    make(map[string]models.PendingPing),
		path:   path,
		secret: passphrase,
		now:    time.Now,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Put records or refreshes the signer expectation for a ping. Retries
// land here again and push the expiry out.
func (s *PendingPingStore) Put(pingID, contactID string, signerKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	row := models.PendingPing{
		PingID:    pingID,
		ContactID: contactID,
		SignerKey: append([]byte(nil), signerKey...),
		CreatedAt: now,
		ExpiresAt: now.Add(PendingPingTTL),
	}
	if existing, ok := s.rows[pingID]; ok {
		row.CreatedAt = existing.CreatedAt
	}

	next := clonePendingPings(s.rows)
	next[pingID] = row
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.rows = next
	s.promoteLocked(row)
	return nil
}

// Resolve returns the expected signer for a ping and where the answer
// came from. Expired rows answer as missing.
func (s *PendingPingStore) Resolve(pingID string) (models.PendingPing, ResolveSource, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	if row, ok := s.hot[pingID]; ok {
		if row.ExpiresAt.After(now) {
			return row, ResolveFromMemory, true
		}
		delete(s.hot, pingID)
	}
	row, ok := s.rows[pingID]
	if !ok || !row.ExpiresAt.After(now) {
		return models.PendingPing{}, ResolveFromStore, false
	}
	s.promoteLocked(row)
	return row, ResolveFromStore, true
}

// Delete removes the expectation once the exchange it guarded finished.
func (s *PendingPingStore) Delete(pingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[pingID]; !ok {
		delete(s.hot, pingID)
		return nil
	}
	next := clonePendingPings(s.rows)
	delete(next, pingID)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.rows = next
	delete(s.hot, pingID)
	return nil
}

// SweepExpired drops rows past their TTL and returns how many went.
func (s *PendingPingStore) SweepExpired(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]models.PendingPing, len(s.rows))
	removed := 0
	for id, row := range s.rows {
		if !row.ExpiresAt.After(now) {
			removed++
			delete(s.hot, id)
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

func (s *PendingPingStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *PendingPingStore) promoteLocked(row models.PendingPing) {
	if len(s.hot) >= hotCacheLimit {
		for k := range s.hot {
			delete(s.hot, k)
			break
		}
	}
	s.hot[row.PingID] = row
}

func (s *PendingPingStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	var snapshot struct {
		Rows map[string]models.PendingPing `json:"rows"`
	}
	if err := readSnapshot(s.path, s.secret, &snapshot); err != nil {
		return err
	}
	if snapshot.Rows != nil {
		s.rows = snapshot.Rows
	}
	return nil
}

func (s *PendingPingStore) persistLocked(rows map[string]models.PendingPing) error {
	if s.path == "" {
		return nil
	}
	snapshot := struct {
		Rows map[string]models.PendingPing `json:"rows"`
	}{Rows: rows}
	return writeSnapshot(s.path, s.secret, snapshot)
}

func clonePendingPings(in map[string]models.PendingPing) map[string]models.PendingPing {
	out := make(map[string]models.PendingPing, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
