package delivery

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"umbra-chat/go-backend/internal/domains/contracts"
	"umbra-chat/go-backend/pkg/models"
)

// runToDelivered drives one message through the whole exchange and
// returns the sender's finished row.
func runToDelivered(t *testing.T, alice, bob *deliveryPeer, content string) models.Message {
	t.Helper()
	queued, err := alice.service.SendMessage(bob.id(), content)
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	bob.receive(alice.lastFrame(t, contracts.FrameKindPing))
	alice.receive(bob.lastFrame(t, contracts.FrameKindPong))
	bob.receive(alice.lastFrame(t, contracts.FrameKindMsg))
	alice.receive(bob.lastFrame(t, contracts.FrameKindAck))
	row, _ := alice.messages.Get(queued.ID)
	if !row.MsgDelivered {
		t.Fatalf("exchange did not finish: stage=%s", row.Stage)
	}
	return row
}

func TestPingRetransmitsVerbatim(t *testing.T) {
	alice := newDeliveryPeer(t, "alice")
	bob := newDeliveryPeer(t, "bob")
	pairDeliveryPeers(t, alice, bob)

	queued, err := alice.service.SendMessage(bob.id(), "anyone there")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	for i := 0; i < 3; i++ {
		row, _ := alice.messages.Get(queued.ID)
		if n := alice.service.RetryDueMessages(row.NextRetryAt.Add(time.Second)); n != 1 {
			t.Fatalf("expected one retry attempt on pass %d, got %d", i+1, n)
		}
	}
	frames := alice.frames(contracts.FrameKindPing)
	if len(frames) != 4 {
		t.Fatalf("expected original send plus three retries, got %d", len(frames))
	}
	for i := 1; i < len(frames); i++ {
		if !bytes.Equal(frames[0].Payload, frames[i].Payload) {
			t.Fatalf("retransmission %d must be byte-identical to the first send", i)
		}
	}
	if n := len(alice.frames(contracts.FrameKindMsg)); n != 0 {
		t.Fatalf("ping retries must not leak the payload, got %d frames", n)
	}
}

func TestRetryBackoffDoublesBetweenAttempts(t *testing.T) {
	alice := newDeliveryPeer(t, "alice")
	bob := newDeliveryPeer(t, "bob")
	pairDeliveryPeers(t, alice, bob)

	queued, err := alice.service.SendMessage(bob.id(), "anyone there")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	row, _ := alice.messages.Get(queued.ID)
	if got := row.NextRetryAt.Sub(row.LastAttemptAt); got != 5*time.Second {
		t.Fatalf("first gap must be 5s, got %s", got)
	}

	due := row.NextRetryAt.Add(time.Second)
	alice.service.RetryDueMessages(due)
	row, _ = alice.messages.Get(queued.ID)
	if got := row.NextRetryAt.Sub(due); got != 10*time.Second {
		t.Fatalf("second gap must be 10s, got %s", got)
	}
	if row.RetryCount != 2 {
		t.Fatalf("expected two recorded attempts, got %d", row.RetryCount)
	}

	due = row.NextRetryAt.Add(time.Second)
	alice.service.RetryDueMessages(due)
	row, _ = alice.messages.Get(queued.ID)
	if got := row.NextRetryAt.Sub(due); got != 20*time.Second {
		t.Fatalf("third gap must be 20s, got %s", got)
	}

	// Not due yet: nothing happens.
	if n := alice.service.RetryDueMessages(due.Add(time.Second)); n != 0 {
		t.Fatalf("expected no attempts before the timer fires, got %d", n)
	}
}

func TestPayloadRetriesWithFreshBackoffAfterPong(t *testing.T) {
	alice := newDeliveryPeer(t, "alice")
	bob := newDeliveryPeer(t, "bob")
	pairDeliveryPeers(t, alice, bob)

	queued, err := alice.service.SendMessage(bob.id(), "take this")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	// Let two ping attempts pass before the pong lands.
	for i := 0; i < 2; i++ {
		row, _ := alice.messages.Get(queued.ID)
		alice.service.RetryDueMessages(row.NextRetryAt.Add(time.Second))
	}
	bob.receive(alice.lastFrame(t, contracts.FrameKindPing))
	alice.receive(bob.lastFrame(t, contracts.FrameKindPong))

	row, _ := alice.messages.Get(queued.ID)
	if row.Stage != models.StagePongSent {
		t.Fatalf("expected pong_sent, got %s", row.Stage)
	}
	if row.RetryCount != 1 {
		t.Fatalf("the attempt counter must restart with the payload leg, got %d", row.RetryCount)
	}
	if got := row.NextRetryAt.Sub(row.LastAttemptAt); got != 5*time.Second {
		t.Fatalf("payload backoff must restart at 5s, got %s", got)
	}

	if n := alice.service.RetryDueMessages(row.NextRetryAt.Add(time.Second)); n != 1 {
		t.Fatalf("expected a payload retry, got %d", n)
	}
	frames := alice.frames(contracts.FrameKindMsg)
	if len(frames) != 2 {
		t.Fatalf("expected two payload sends, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, frames[1].Payload) {
		t.Fatal("payload retransmission must be byte-identical")
	}
	if n := len(alice.frames(contracts.FrameKindPing)); n != 3 {
		t.Fatalf("the ping leg must stay closed after the pong, got %d sends", n)
	}
}

func TestPongRetransmitsUntilPayloadLands(t *testing.T) {
	alice := newDeliveryPeer(t, "alice")
	bob := newDeliveryPeer(t, "bob")
	pairDeliveryPeers(t, alice, bob)

	if _, err := alice.service.SendMessage(bob.id(), "hello"); err != nil {
		t.Fatalf("send message: %v", err)
	}
	bob.receive(alice.lastFrame(t, contracts.FrameKindPing))

	inbound := bob.messages.ListByContact(alice.id(), 0, 0)
	if len(inbound) != 1 {
		t.Fatalf("expected one inbound row, got %d", len(inbound))
	}
	if n := bob.service.RetryDueMessages(inbound[0].NextRetryAt.Add(time.Second)); n != 1 {
		t.Fatalf("expected a pong retry, got %d", n)
	}
	pongs := bob.frames(contracts.FrameKindPong)
	if len(pongs) != 2 {
		t.Fatalf("expected two pong sends, got %d", len(pongs))
	}
	if !bytes.Equal(pongs[0].Payload, pongs[1].Payload) {
		t.Fatal("pong retransmission must be byte-identical")
	}

	alice.receive(pongs[0])
	bob.receive(alice.lastFrame(t, contracts.FrameKindMsg))
	row, _ := bob.messages.Get(inbound[0].ID)
	if !row.PongDelivered {
		t.Fatal("payload arrival must settle the pong leg")
	}
	if n := bob.service.RetryDueMessages(time.Now().Add(24 * time.Hour)); n != 0 {
		t.Fatalf("settled rows must not retry, got %d attempts", n)
	}
}

func TestRetryCeilingParksMessageUndelivered(t *testing.T) {
	alice := newDeliveryPeer(t, "alice")
	bob := newDeliveryPeer(t, "bob")
	pairDeliveryPeers(t, alice, bob)

	queued, err := alice.service.SendMessage(bob.id(), "is this thing on")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	for i := 0; i < 25; i++ {
		row, _ := alice.messages.Get(queued.ID)
		if row.Undelivered {
			break
		}
		alice.service.RetryDueMessages(row.NextRetryAt.Add(time.Second))
	}

	row, _ := alice.messages.Get(queued.ID)
	if !row.Undelivered {
		t.Fatal("the attempt ceiling must park the row as undelivered")
	}
	if row.Stage != models.StagePingSent {
		t.Fatalf("parking must not touch the stage, got %s", row.Stage)
	}
	frames := alice.frames(contracts.FrameKindPing)
	if len(frames) != contracts.DeliveryAttemptCeiling {
		t.Fatalf("expected exactly %d transmissions before parking, got %d", contracts.DeliveryAttemptCeiling, len(frames))
	}
	if n := alice.service.RetryDueMessages(time.Now().Add(24 * time.Hour)); n != 0 {
		t.Fatalf("parked rows wait for a manual retry, got %d attempts", n)
	}

	// A manual retry rearms the very same bytes.
	rearmed, err := alice.service.RetryMessage(queued.ID)
	if err != nil {
		t.Fatalf("retry message: %v", err)
	}
	if rearmed.Undelivered || rearmed.RetryCount != 1 {
		t.Fatalf("rearm must clear the park and restart the counter: undelivered=%v count=%d", rearmed.Undelivered, rearmed.RetryCount)
	}
	frames = alice.frames(contracts.FrameKindPing)
	if len(frames) != contracts.DeliveryAttemptCeiling+1 {
		t.Fatalf("rearm must send immediately, got %d transmissions", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, frames[len(frames)-1].Payload) {
		t.Fatal("the rearmed ping must reuse the cached bytes")
	}
}

func TestRetryMessageRefusesDeliveredAndInbound(t *testing.T) {
	alice := newDeliveryPeer(t, "alice")
	bob := newDeliveryPeer(t, "bob")
	pairDeliveryPeers(t, alice, bob)
	delivered := runToDelivered(t, alice, bob, "hello")

	if _, err := alice.service.RetryMessage(delivered.ID); !errors.Is(err, ErrMessageDelivered) {
		t.Fatalf("expected delivered rejection, got %v", err)
	}
	inbound := bob.messages.ListByContact(alice.id(), 0, 0)
	if len(inbound) != 1 {
		t.Fatalf("expected one inbound row, got %d", len(inbound))
	}
	if _, err := bob.service.RetryMessage(inbound[0].ID); err == nil {
		t.Fatal("inbound rows must not be manually retryable")
	}
	if _, err := alice.service.RetryMessage("msg_missing"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected not-found rejection, got %v", err)
	}
}
