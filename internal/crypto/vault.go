package crypto

import "sync"

// InMemorySkippedKeyVault keeps banked message keys for the lifetime of
// the process. Production wiring uses the persistent store-backed vault;
// this one serves tests and ephemeral sessions.
type InMemorySkippedKeyVault struct {
	mu   sync.Mutex
	keys map[string]map[uint64][]byte
}

func NewInMemorySkippedKeyVault() *InMemorySkippedKeyVault {
	return &InMemorySkippedKeyVault{keys: make(map[string]map[uint64][]byte)}
}

func (v *InMemorySkippedKeyVault) Put(conversationID string, sequence uint64, key []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	byConv, ok := v.keys[conversationID]
	if !ok {
		byConv = make(map[uint64][]byte)
		v.keys[conversationID] = byConv
	}
	byConv[sequence] = append([]byte(nil), key...)
	return nil
}

func (v *InMemorySkippedKeyVault) Consume(conversationID string, sequence uint64) ([]byte, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	byConv, ok := v.keys[conversationID]
	if !ok {
		return nil, false, nil
	}
	key, ok := byConv[sequence]
	if !ok {
		return nil, false, nil
	}
	delete(byConv, sequence)
	if len(byConv) == 0 {
		delete(v.keys, conversationID)
	}
	return key, true, nil
}
