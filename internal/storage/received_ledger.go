package storage

import (
	"sync"
	"time"

	"umbra-chat/go-backend/pkg/models"
)

// RecordOutcome says whether TryRecord inserted the identifier or found
// it already present.
type RecordOutcome int

const (
	RecordInserted RecordOutcome = iota
	RecordAlreadyPresent
)

// ReceivedLedger is the dedup table for inbound protocol identifiers.
// TryRecord is the only mutation: one atomic insert-if-absent whose
// outcome tells the caller whether any side effects may run. Rows are
// never updated, so a duplicate can never un-process its original.
type ReceivedLedger struct {
	mu     sync.Mutex
	rows   map[string]models.ReceivedID
	path   string
	secret string
}

func NewReceivedLedger() *ReceivedLedger {
	return &ReceivedLedger{rows: make(map[string]models.ReceivedID)}
}

func NewEncryptedPersistentReceivedLedger(path, passphrase string) (*ReceivedLedger, error) {
	l := &ReceivedLedger{
		rows:   make(map[string]models.ReceivedID),
		path:   path,
		secret: passphrase,
	}
	if err := l.load(); err != nil {
		return nil, err
	}
	return l, nil
}

// TryRecord inserts the identifier under the lock and reports the
// outcome. AlreadyPresent means the frame was handled before and the
// caller must do nothing but re-acknowledge.
func (l *ReceivedLedger) TryRecord(identifier string, kind models.ReceivedKind) (RecordOutcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ledgerKey(identifier, kind)
	if _, ok := l.rows[key]; ok {
		return RecordAlreadyPresent, nil
	}
	next := make(map[string]models.ReceivedID, len(l.rows)+1)
	for k, v := range l.rows {
		next[k] = v
	}
	next[key] = models.ReceivedID{
		Identifier:  identifier,
		Kind:        kind,
		FirstSeenAt: time.Now().UTC(),
	}
	if err := l.persistLocked(next); err != nil {
		return RecordAlreadyPresent, err
	}
	l.rows = next
	return RecordInserted, nil
}

// Seen answers without inserting.
func (l *ReceivedLedger) Seen(identifier string, kind models.ReceivedKind) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.rows[ledgerKey(identifier, kind)]
	return ok
}

func (l *ReceivedLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// ledgerKey scopes the identifier by kind: the same ping id is recorded
// once as a ping by the recipient and once as a pong by the sender.
func ledgerKey(identifier string, kind models.ReceivedKind) string {
	return string(kind) + ":" + identifier
}

func (l *ReceivedLedger) load() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.path == "" {
		return nil
	}
	var snapshot struct {
		Rows map[string]models.ReceivedID `json:"rows"`
	}
	if err := readSnapshot(l.path, l.secret, &snapshot); err != nil {
		return err
	}
	if snapshot.Rows != nil {
		l.rows = snapshot.Rows
	}
	return nil
}

func (l *ReceivedLedger) persistLocked(rows map[string]models.ReceivedID) error {
	if l.path == "" {
		return nil
	}
	snapshot := struct {
		Rows map[string]models.ReceivedID `json:"rows"`
	}{Rows: rows}
	return writeSnapshot(l.path, l.secret, snapshot)
}
