package handshake

import (
	"bytes"
	"testing"

	"umbra-chat/go-backend/internal/domains/contracts"
	"umbra-chat/go-backend/pkg/models"
)

// runToAccepted drives a handshake up to the point where bob has sent
// phase 2 and returns the started row and the original phase 1 frame.
func runToAccepted(t *testing.T, alice, bob *handshakePeer) models.FriendRequest {
	t.Helper()
	started, err := alice.service.StartHandshake("bob-intro.onion", "123-456-7890")
	if err != nil {
		t.Fatalf("start handshake: %v", err)
	}
	bob.receive(alice.lastFrame(t, contracts.FrameKindPhase1))
	if _, err := bob.service.AcceptHandshake(started.ID, started.PIN); err != nil {
		t.Fatalf("accept handshake: %v", err)
	}
	return started
}

func TestDuplicatePhase1WhileParkedIsDropped(t *testing.T) {
	alice := newHandshakePeer(t, "alice")
	bob := newHandshakePeer(t, "bob")

	if _, err := alice.service.StartHandshake("bob-intro.onion", "123-456-7890"); err != nil {
		t.Fatalf("start handshake: %v", err)
	}
	phase1 := alice.lastFrame(t, contracts.FrameKindPhase1)
	bob.receive(phase1)
	bob.receive(phase1)
	bob.receive(phase1)

	if n := len(bob.requests.List(true)); n != 1 {
		t.Fatalf("retransmitted phase 1 must not create extra rows, got %d", n)
	}
	if n := len(bob.frames(contracts.FrameKindPhase2)); n != 0 {
		t.Fatalf("no phase 2 may leave before the PIN is entered, got %d", n)
	}
}

func TestDuplicatePhase1AfterAcceptRepliesFromCache(t *testing.T) {
	alice := newHandshakePeer(t, "alice")
	bob := newHandshakePeer(t, "bob")
	runToAccepted(t, alice, bob)

	// Alice never saw phase 2 and retries phase 1; bob answers right
	// away instead of waiting for his retry timer.
	bob.receive(alice.lastFrame(t, contracts.FrameKindPhase1))

	phase2Frames := bob.frames(contracts.FrameKindPhase2)
	if len(phase2Frames) != 2 {
		t.Fatalf("expected an immediate phase 2 replay, got %d frames", len(phase2Frames))
	}
	if !bytes.Equal(phase2Frames[0].Payload, phase2Frames[1].Payload) {
		t.Fatal("replayed phase 2 must reuse the cached bytes")
	}
}

func TestDuplicatePhase2RepliesWithCachedPhase3(t *testing.T) {
	alice := newHandshakePeer(t, "alice")
	bob := newHandshakePeer(t, "bob")
	started := runToAccepted(t, alice, bob)

	phase2 := bob.lastFrame(t, contracts.FrameKindPhase2)
	alice.receive(phase2)
	bob.receive(alice.lastFrame(t, contracts.FrameKindPhase3))

	// Bob's phase 2 retry crosses alice's phase 3 on the wire.
	alice.receive(phase2)

	phase3Frames := alice.frames(contracts.FrameKindPhase3)
	if len(phase3Frames) != 2 {
		t.Fatalf("expected a phase 3 replay, got %d frames", len(phase3Frames))
	}
	if !bytes.Equal(phase3Frames[0].Payload, phase3Frames[1].Payload) {
		t.Fatal("replayed phase 3 must reuse the cached bytes")
	}

	row, _ := alice.requests.Get(started.ID)
	if !row.Completed {
		t.Fatal("replay must not undo completion")
	}
}

func TestDuplicatePhase3AfterCompletionIsIgnored(t *testing.T) {
	alice := newHandshakePeer(t, "alice")
	bob := newHandshakePeer(t, "bob")
	started := runToAccepted(t, alice, bob)

	alice.receive(bob.lastFrame(t, contracts.FrameKindPhase2))
	phase3 := alice.lastFrame(t, contracts.FrameKindPhase3)
	bob.receive(phase3)
	bob.receive(phase3)

	row, _ := bob.requests.Get(started.ID)
	if !row.Completed {
		t.Fatal("expected completed row")
	}
	if n := len(bob.contacts.List()); n != 1 {
		t.Fatalf("duplicate confirmation must not mint extra contacts, got %d", n)
	}
}
