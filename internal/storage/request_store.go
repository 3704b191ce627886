package storage

import (
	"errors"
	"sort"
	"sync"
	"time"

	"umbra-chat/go-backend/pkg/models"
)

var (
	ErrRequestIDConflict = errors.New("friend request id conflict")
	ErrRequestNotFound   = errors.New("friend request not found")
	ErrRequestFinished   = errors.New("friend request already finished")
)

// RequestStore holds in-flight friend handshakes. Cached phase wires make
// every retransmission byte-identical to the first send, and completion is
// a single row write that links the created contact.
type RequestStore struct {
	mu       sync.RWMutex
	requests map[string]models.FriendRequest
	path     string
	secret   string
}

func NewRequestStore() *RequestStore {
	return &RequestStore{requests: make(map[string]models.FriendRequest)}
}

func NewEncryptedPersistentRequestStore(path, passphrase string) (*RequestStore, error) {
	s := &RequestStore{
		requests: make(map[string]models.FriendRequest),
		path:     path,
		secret:   passphrase,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RequestStore) Insert(req models.FriendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[req.ID]; ok {
		return ErrRequestIDConflict
	}
	next := cloneRequestsMap(s.requests)
	next[req.ID] = req
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.requests = next
	return nil
}

func (s *RequestStore) Get(requestID string) (models.FriendRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	return req, ok
}

func (s *RequestStore) List(includeFinished bool) []models.FriendRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FriendRequest, 0, len(s.requests))
	for _, req := range s.requests {
		if !includeFinished && (req.Completed || req.Failed) {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *RequestStore) AttachPhase1Wire(requestID string, wire []byte) (models.FriendRequest, error) {
	return s.apply(requestID, func(req models.FriendRequest) (models.FriendRequest, error) {
		if len(req.Phase1Wire) > 0 {
			return req, ErrWireAlreadySet
		}
		req.Phase1Wire = append([]byte(nil), wire...)
		return req, nil
	})
}

func (s *RequestStore) AttachPhase2Wire(requestID string, wire []byte) (models.FriendRequest, error) {
	return s.apply(requestID, func(req models.FriendRequest) (models.FriendRequest, error) {
		if len(req.Phase2Wire) > 0 {
			return req, ErrWireAlreadySet
		}
		req.Phase2Wire = append([]byte(nil), wire...)
		return req, nil
	})
}

func (s *RequestStore) AttachPhase3Wire(requestID string, wire []byte) (models.FriendRequest, error) {
	return s.apply(requestID, func(req models.FriendRequest) (models.FriendRequest, error) {
		if len(req.Phase3Wire) > 0 {
			return req, ErrWireAlreadySet
		}
		req.Phase3Wire = append([]byte(nil), wire...)
		return req, nil
	})
}

// Exchange is a partial update carrying whatever the key agreement
// produced on this side. Nil fields leave the row untouched.
type Exchange struct {
	PeerCard      *models.ContactCard
	SelfCard      *models.ContactCard
	SharedSecret  []byte
	KEMCiphertext []byte
	PIN           string
}

// RecordExchange stores the outcome of a successful key agreement step in
// one write: the verified peer card, the own-card snapshot the transcript
// is pinned to, the derived secret and the KEM ciphertext.
func (s *RequestStore) RecordExchange(requestID string, ex Exchange) (models.FriendRequest, error) {
	return s.apply(requestID, func(req models.FriendRequest) (models.FriendRequest, error) {
		if ex.PeerCard != nil {
			card := *ex.PeerCard
			req.PeerCard = &card
		}
		if ex.SelfCard != nil {
			card := *ex.SelfCard
			req.SelfCard = &card
		}
		if len(ex.SharedSecret) > 0 {
			req.SharedSecret = append([]byte(nil), ex.SharedSecret...)
		}
		if len(ex.KEMCiphertext) > 0 {
			req.KEMCiphertext = append([]byte(nil), ex.KEMCiphertext...)
		}
		if ex.PIN != "" {
			req.PIN = ex.PIN
		}
		return req, nil
	})
}

func (s *RequestStore) AdvancePhase(requestID string, phase models.HandshakePhase) (models.FriendRequest, error) {
	return s.apply(requestID, func(req models.FriendRequest) (models.FriendRequest, error) {
		if next, ok := req.Phase.Advance(phase); ok {
			req.Phase = next
		}
		return req, nil
	})
}

func (s *RequestStore) ScheduleRetry(requestID string, attemptAt, nextRetryAt time.Time) (models.FriendRequest, error) {
	return s.apply(requestID, func(req models.FriendRequest) (models.FriendRequest, error) {
		req.RetryCount++
		req.LastAttemptAt = attemptAt
		req.NextRetryAt = nextRetryAt
		return req, nil
	})
}

// Requeue puts an unfinished request back on the schedule with a fresh
// backoff, without counting an attempt. Startup recovery uses it to
// collapse retry timers planted before a restart.
func (s *RequestStore) Requeue(requestID string, nextRetryAt time.Time) (models.FriendRequest, error) {
	return s.apply(requestID, func(req models.FriendRequest) (models.FriendRequest, error) {
		if req.Completed || req.Failed {
			return req, ErrRequestFinished
		}
		req.RetryCount = 0
		req.NextRetryAt = nextRetryAt
		return req, nil
	})
}

// Complete finishes the handshake and links the contact it produced in
// the same write. The shared secret is wiped from the row; it lives on
// only inside the ratchet session.
func (s *RequestStore) Complete(requestID, contactID string) (models.FriendRequest, error) {
	return s.apply(requestID, func(req models.FriendRequest) (models.FriendRequest, error) {
		if req.Failed {
			return req, ErrRequestFinished
		}
		req.Completed = true
		req.ContactID = contactID
		req.SharedSecret = nil
		req.NextRetryAt = time.Time{}
		return req, nil
	})
}

func (s *RequestStore) Fail(requestID, reason string) (models.FriendRequest, error) {
	return s.apply(requestID, func(req models.FriendRequest) (models.FriendRequest, error) {
		if req.Completed {
			return req, ErrRequestFinished
		}
		req.Failed = true
		req.FailReason = reason
		req.NextRetryAt = time.Time{}
		return req, nil
	})
}

// Delete removes a row outright. Used to evict parked incoming frames
// that never received a PIN; finished handshakes stay for listing.
func (s *RequestStore) Delete(requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[requestID]; !ok {
		return nil
	}
	next := cloneRequestsMap(s.requests)
	delete(next, requestID)
	if err := s.persistLocked(next); err != nil {
		return err
	}
	s.requests = next
	return nil
}

// DuePending returns unfinished rows whose retry time has passed.
func (s *RequestStore) DuePending(now time.Time) []models.FriendRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.FriendRequest, 0)
	for _, req := range s.requests {
		if req.Completed || req.Failed {
			continue
		}
		if req.NextRetryAt.IsZero() || req.NextRetryAt.After(now) {
			continue
		}
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextRetryAt.Before(out[j].NextRetryAt)
	})
	return out
}

func (s *RequestStore) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, req := range s.requests {
		if !req.Completed && !req.Failed {
			count++
		}
	}
	return count
}

func (s *RequestStore) apply(requestID string, fn func(models.FriendRequest) (models.FriendRequest, error)) (models.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return models.FriendRequest{}, ErrRequestNotFound
	}
	updated, err := fn(req)
	if err != nil {
		return models.FriendRequest{}, err
	}
	next := cloneRequestsMap(s.requests)
	next[requestID] = updated
	if err := s.persistLocked(next); err != nil {
		return models.FriendRequest{}, err
	}
	s.requests = next
	return updated, nil
}

func (s *RequestStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.path == "" {
		return nil
	}
	var snapshot struct {
		Requests map[string]models.FriendRequest `json:"requests"`
	}
	if err := readSnapshot(s.path, s.secret, &snapshot); err != nil {
		return err
	}
	if snapshot.Requests != nil {
		s.requests = snapshot.Requests
	}
	return nil
}

func (s *RequestStore) persistLocked(requests map[string]models.FriendRequest) error {
	if s.path == "" {
		return nil
	}
	snapshot := struct {
		Requests map[string]models.FriendRequest `json:"requests"`
	}{Requests: requests}
	return writeSnapshot(s.path, s.secret, snapshot)
}

func cloneRequestsMap(in map[string]models.FriendRequest) map[string]models.FriendRequest {
	out := make(map[string]models.FriendRequest, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
