package delivery

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"umbra-chat/go-backend/internal/crypto"
	"umbra-chat/go-backend/internal/domains/contracts"
	"umbra-chat/go-backend/internal/identity"
	"umbra-chat/go-backend/internal/onion"
	"umbra-chat/go-backend/internal/storage"
	"umbra-chat/go-backend/pkg/models"
)

// deliveryPeer wires one protocol side against in-memory stores and a
// frame recorder instead of the transport.
type deliveryPeer struct {
	name     string
	identity *identity.Manager
	sessions *crypto.SessionManager
	vault    *storage.SkippedKeyStore
	messages *storage.MessageStore
	contacts *storage.ContactStore
	ledger   *storage.ReceivedLedger
	signers  *storage.PendingPingStore
	service  *Service

	mu    sync.Mutex
	sent  []onion.Frame
	seq   int
	clock time.Time
}

func newDeliveryPeer(t *testing.T, name string) *deliveryPeer {
	t.Helper()
	mgr, err := identity.NewManager()
	if err != nil {
		t.Fatalf("new identity manager: %v", err)
	}
	mgr.SetDisplayName(name)
	mgr.SetAddresses(name+"-intro.onion", name+"-msg.onion")

	vault := storage.NewSkippedKeyStore()
	p := &deliveryPeer{
		name:     name,
		identity: mgr,
		sessions: crypto.NewSessionManager(crypto.NewInMemorySessionStore(), vault),
		vault:    vault,
		messages: storage.NewMessageStore(),
		contacts: storage.NewContactStore(),
		ledger:   storage.NewReceivedLedger(),
		signers:  storage.NewPendingPingStore(),
		clock:    time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
	}
	p.service = NewService(ServiceDeps{
		Identity: mgr,
		Sessions: p.sessions,
		Messages: p.messages,
		Contacts: p.contacts,
		Ledger:   p.ledger,
		Signers:  p.signers,
		GenerateID: func(prefix string) (string, error) {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.seq++
			return fmt.Sprintf("%s_%s_%d", prefix, p.name, p.seq), nil
		},
		SendFrame: func(frame onion.Frame) error {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.sent = append(p.sent, frame)
			return nil
		},
		Now: func() time.Time {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.clock = p.clock.Add(time.Millisecond)
			return p.clock
		},
	})
	return p
}

// pairDeliveryPeers installs each peer as a confirmed contact of the
// other and seeds both ratchets from the same root, as a completed
// handshake would have.
func pairDeliveryPeers(t *testing.T, a, b *deliveryPeer) string {
	t.Helper()
	cardA, err := a.identity.SelfCard()
	if err != nil {
		t.Fatalf("%s self card: %v", a.name, err)
	}
	cardB, err := b.identity.SelfCard()
	if err != nil {
		t.Fatalf("%s self card: %v", b.name, err)
	}
	if _, err := a.contacts.UpsertFromCard(cardB, models.FriendshipConfirmed, models.TrustEncrypted); err != nil {
		t.Fatalf("%s upsert contact: %v", a.name, err)
	}
	if _, err := b.contacts.UpsertFromCard(cardA, models.FriendshipConfirmed, models.TrustEncrypted); err != nil {
		t.Fatalf("%s upsert contact: %v", b.name, err)
	}

	conversationID := contracts.DeriveConversationID(cardA.IdentityID, cardB.IdentityID)
	root := sha256.Sum256([]byte("test-root|" + conversationID))
	if _, err := a.sessions.InitSession(conversationID, root[:], true); err != nil {
		t.Fatalf("%s init session: %v", a.name, err)
	}
	if _, err := b.sessions.InitSession(conversationID, root[:], false); err != nil {
		t.Fatalf("%s init session: %v", b.name, err)
	}
	return conversationID
}

func (p *deliveryPeer) frames(kind string) []onion.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []onion.Frame
	for _, f := range p.sent {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

func (p *deliveryPeer) lastFrame(t *testing.T, kind string) onion.Frame {
	t.Helper()
	frames := p.frames(kind)
	if len(frames) == 0 {
		t.Fatalf("%s never sent a %q frame", p.name, kind)
	}
	return frames[len(frames)-1]
}

func (p *deliveryPeer) receive(frame onion.Frame) {
	switch frame.Kind {
	case contracts.FrameKindPing:
		p.service.HandlePing(frame.ConversationID, frame.Payload)
	case contracts.FrameKindPong:
		p.service.HandlePong(frame.ConversationID, frame.Payload)
	case contracts.FrameKindMsg:
		p.service.HandleMsg(frame.ConversationID, frame.Payload)
	case contracts.FrameKindAck:
		p.service.HandleAck(frame.ConversationID, frame.Payload)
	case contracts.FrameKindTap:
		p.service.HandleTap(frame.ConversationID, frame.Payload)
	case contracts.FrameKindTapAck:
		p.service.HandleTapAck(frame.ConversationID, frame.Payload)
	}
}

func (p *deliveryPeer) id() string {
	return p.identity.GetIdentity().ID
}

func TestMessageDeliveryCompletesEndToEnd(t *testing.T) {
	alice := newDeliveryPeer(t, "alice")
	bob := newDeliveryPeer(t, "bob")
	conversationID := pairDeliveryPeers(t, alice, bob)

	queued, err := alice.service.SendMessage(bob.id(), "hello bob")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if queued.Stage != models.StagePingSent {
		t.Fatalf("expected ping_sent after send, got %s", queued.Stage)
	}
	if queued.RetryCount != 1 {
		t.Fatalf("the first transmission counts as attempt one, got %d", queued.RetryCount)
	}
	if len(queued.PingWire) != 0 || len(queued.PayloadWire) != 0 {
		t.Fatal("returned rows must not carry wire caches")
	}

	row, _ := alice.messages.Get(queued.ID)
	if row.PingID == "" || row.PingTimestamp.IsZero() {
		t.Fatal("ping id and timestamp must be pinned at send time")
	}
	if len(row.PayloadWire) == 0 {
		t.Fatal("the payload must be sealed at send time, not at pong receipt")
	}
	if _, _, found := alice.signers.Resolve(row.PingID); !found {
		t.Fatal("the expected pong signer must be pinned before the ping leaves")
	}

	ping := alice.lastFrame(t, contracts.FrameKindPing)
	if ping.Service != onion.ServiceMsg || ping.Recipient != "bob-msg.onion" {
		t.Fatalf("ping misaddressed: service=%q recipient=%q", ping.Service, ping.Recipient)
	}
	if ping.ConversationID != conversationID {
		t.Fatalf("ping must route by conversation, got %q", ping.ConversationID)
	}
	if n := len(alice.frames(contracts.FrameKindMsg)); n != 0 {
		t.Fatalf("no payload may leave before a verified pong, got %d frames", n)
	}

	bob.receive(ping)
	inbound, ok := bob.messages.FindByPingID(row.PingID)
	if !ok {
		t.Fatal("ping receipt must create the inbound row")
	}
	if inbound.Direction != models.DirectionIncoming || inbound.Stage != models.StagePongSent {
		t.Fatalf("unexpected inbound row: direction=%s stage=%s", inbound.Direction, inbound.Stage)
	}
	if len(inbound.PongWire) == 0 || inbound.NextRetryAt.IsZero() {
		t.Fatal("the pong must be cached and scheduled for retransmission")
	}

	alice.receive(bob.lastFrame(t, contracts.FrameKindPong))
	row, _ = alice.messages.Get(queued.ID)
	if !row.PingDelivered || row.Stage != models.StagePongSent {
		t.Fatalf("verified pong must advance the sender: delivered=%v stage=%s", row.PingDelivered, row.Stage)
	}
	if n := len(alice.frames(contracts.FrameKindMsg)); n != 1 {
		t.Fatalf("the verified pong releases the payload exactly once, got %d", n)
	}

	bob.receive(alice.lastFrame(t, contracts.FrameKindMsg))
	inbound, _ = bob.messages.Get(inbound.ID)
	if string(inbound.Content) != "hello bob" {
		t.Fatalf("decrypted content mismatch: %q", inbound.Content)
	}
	if !inbound.PongDelivered {
		t.Fatal("payload arrival proves the pong landed")
	}
	if !inbound.MsgDelivered || inbound.Stage != models.StageDelivered {
		t.Fatalf("inbound row must finish on payload: delivered=%v stage=%s", inbound.MsgDelivered, inbound.Stage)
	}
	if len(inbound.AckWire) == 0 {
		t.Fatal("the ack must be cached for duplicate payloads")
	}

	alice.receive(bob.lastFrame(t, contracts.FrameKindAck))
	row, _ = alice.messages.Get(queued.ID)
	if !row.MsgDelivered || row.Stage != models.StageDelivered {
		t.Fatalf("ack must finish the outgoing row: delivered=%v stage=%s", row.MsgDelivered, row.Stage)
	}
	if row.DeliveredAt.IsZero() || !row.NextRetryAt.IsZero() {
		t.Fatalf("delivery must stamp the time and clear the schedule: at=%v next=%v", row.DeliveredAt, row.NextRetryAt)
	}
	if _, _, found := alice.signers.Resolve(row.PingID); found {
		t.Fatal("the signer expectation must be dropped once the exchange settles")
	}
	if due := alice.messages.DuePending(time.Now().Add(24 * time.Hour)); len(due) != 0 {
		t.Fatalf("nothing may stay scheduled after delivery, got %d rows", len(due))
	}
}

func TestSendMessageRequiresConfirmedContact(t *testing.T) {
	alice := newDeliveryPeer(t, "alice")
	if _, err := alice.service.SendMessage("umbra1stranger", "hi"); !errors.Is(err, ErrContactNotFound) {
		t.Fatalf("expected unknown contact rejection, got %v", err)
	}

	bob := newDeliveryPeer(t, "bob")
	card, err := bob.identity.SelfCard()
	if err != nil {
		t.Fatalf("self card: %v", err)
	}
	if _, err := alice.contacts.UpsertFromCard(card, models.FriendshipPendingSent, models.TrustUntrusted); err != nil {
		t.Fatalf("upsert contact: %v", err)
	}
	if _, err := alice.service.SendMessage(bob.id(), "hi"); !errors.Is(err, ErrContactNotConfirmed) {
		t.Fatalf("expected unconfirmed contact rejection, got %v", err)
	}
	if len(alice.sent) != 0 {
		t.Fatalf("nothing may leave for an undeliverable contact, got %d frames", len(alice.sent))
	}
}

func TestSendMessageRejectsOversizedContent(t *testing.T) {
	alice := newDeliveryPeer(t, "alice")
	bob := newDeliveryPeer(t, "bob")
	pairDeliveryPeers(t, alice, bob)

	if _, err := alice.service.SendMessage(bob.id(), string(bytes.Repeat([]byte("a"), MaxContentBytes+1))); err == nil {
		t.Fatal("expected oversized content rejection")
	}
	if _, err := alice.service.SendMessage(bob.id(), "   "); err == nil {
		t.Fatal("expected empty content rejection")
	}
}

func TestListMessagesHidesWireCaches(t *testing.T) {
	alice := newDeliveryPeer(t, "alice")
	bob := newDeliveryPeer(t, "bob")
	pairDeliveryPeers(t, alice, bob)

	queued, err := alice.service.SendMessage(bob.id(), "hello")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	rows, err := alice.service.ListMessages(bob.id(), 0, 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != queued.ID {
		t.Fatalf("expected the queued row back, got %d rows", len(rows))
	}
	if len(rows[0].PingWire) != 0 || len(rows[0].PayloadWire) != 0 || len(rows[0].AckWire) != 0 {
		t.Fatal("listings must not leak cached frame bytes")
	}

	status, err := alice.service.MessageStatus(queued.ID)
	if err != nil {
		t.Fatalf("message status: %v", err)
	}
	if status.Stage != models.StagePingSent || status.MsgDelivered {
		t.Fatalf("unexpected status: stage=%s delivered=%v", status.Stage, status.MsgDelivered)
	}
	if status.RetryCount != 1 || status.NextRetryAt.IsZero() {
		t.Fatalf("status must expose the live schedule: count=%d next=%v", status.RetryCount, status.NextRetryAt)
	}
}

func TestInboundFrameTouchesContactLastSeen(t *testing.T) {
	alice := newDeliveryPeer(t, "alice")
	bob := newDeliveryPeer(t, "bob")
	pairDeliveryPeers(t, alice, bob)

	if _, err := alice.service.SendMessage(bob.id(), "hello"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	before, _ := bob.contacts.Get(alice.id())
	if !before.LastSeen.IsZero() {
		t.Fatal("last seen must start empty")
	}
	bob.receive(alice.lastFrame(t, contracts.FrameKindPing))
	after, _ := bob.contacts.Get(alice.id())
	if after.LastSeen.IsZero() {
		t.Fatal("an authenticated inbound frame must refresh last seen")
	}
}
