package daemonservice

import (
	"context"
	"testing"
	"time"

	"umbra-chat/go-backend/internal/domains/contracts"
	identitypolicy "umbra-chat/go-backend/internal/domains/identity/policy"
	"umbra-chat/go-backend/internal/onion"
	"umbra-chat/go-backend/pkg/models"
)

// The flow tests run two full daemons against the in-process mock
// transport: every frame crosses the bus exactly as it would cross tor,
// so the handshake, delivery and retry paths are exercised end to end.

func newFlowService(t *testing.T, displayName string) *Service {
	t.Helper()
	svc, err := newServiceWithOptions(onion.DefaultConfig(), contracts.ServiceOptions{})
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	if _, _, err := svc.CreateIdentity(displayName, "flow-password"); err != nil {
		t.Fatalf("create identity for %s: %v", displayName, err)
	}
	if err := svc.StartNetworking(context.Background()); err != nil {
		t.Fatalf("start networking for %s: %v", displayName, err)
	}
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = svc.StopNetworking(stopCtx)
	})
	return svc
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func befriend(t *testing.T, initiator, responder *Service) (initiatorSide, responderSide models.Contact) {
	t.Helper()

	peerIntro := responder.GetNetworkStatus().IntroAddress
	if peerIntro == "" {
		t.Fatal("responder has no introduction address")
	}
	req, err := initiator.StartHandshake(peerIntro, "")
	if err != nil {
		t.Fatalf("start handshake: %v", err)
	}
	if req.PIN == "" {
		t.Fatal("start must hand the generated pin back for out-of-band sharing")
	}

	waitFor(t, 5*time.Second, "phase 1 to park at the responder", func() bool {
		rows, err := responder.ListHandshakes(false)
		if err != nil {
			return false
		}
		for _, row := range rows {
			if row.ID == req.ID && row.Direction == models.DirectionIncoming {
				return true
			}
		}
		return false
	})

	if _, err := responder.AcceptHandshake(req.ID, req.PIN); err != nil {
		t.Fatalf("accept handshake: %v", err)
	}

	completed := func(svc *Service) func() bool {
		return func() bool {
			rows, err := svc.ListHandshakes(true)
			if err != nil {
				return false
			}
			for _, row := range rows {
				if row.ID == req.ID && row.Completed {
					return true
				}
			}
			return false
		}
	}
	waitFor(t, 5*time.Second, "initiator handshake completion", completed(initiator))
	waitFor(t, 5*time.Second, "responder handshake completion", completed(responder))

	initiatorContacts, err := initiator.ListContacts()
	if err != nil || len(initiatorContacts) != 1 {
		t.Fatalf("initiator contacts after handshake: %v %v", initiatorContacts, err)
	}
	responderContacts, err := responder.ListContacts()
	if err != nil || len(responderContacts) != 1 {
		t.Fatalf("responder contacts after handshake: %v %v", responderContacts, err)
	}
	return initiatorContacts[0], responderContacts[0]
}

func TestTwoDaemonsHandshakeAndDeliverMessage(t *testing.T) {
	alice := newFlowService(t, "Alice")
	bob := newFlowService(t, "Bob")

	bobAsSeenByAlice, aliceAsSeenByBob := befriend(t, alice, bob)
	if bobAsSeenByAlice.Friendship != models.FriendshipConfirmed {
		t.Fatalf("contact must be confirmed, got %s", bobAsSeenByAlice.Friendship)
	}

	sent, err := alice.SendMessage(bobAsSeenByAlice.ID, "hello over onions")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	waitFor(t, 5*time.Second, "message delivery to settle at the sender", func() bool {
		status, err := alice.MessageStatus(sent.ID)
		return err == nil && status.Stage == models.StageDelivered && status.MsgDelivered
	})

	waitFor(t, 5*time.Second, "message to land in bob's history", func() bool {
		rows, err := bob.ListMessages(aliceAsSeenByBob.ID, 10, 0)
		if err != nil {
			return false
		}
		for _, row := range rows {
			if row.Direction == models.DirectionIncoming && string(row.Content) == "hello over onions" {
				return true
			}
		}
		return false
	})
}

func TestTwoDaemonsTapRoundTrip(t *testing.T) {
	alice := newFlowService(t, "Alice")
	bob := newFlowService(t, "Bob")

	bobAsSeenByAlice, aliceAsSeenByBob := befriend(t, alice, bob)

	tap, err := alice.SendTap(bobAsSeenByAlice.ID)
	if err != nil {
		t.Fatalf("send tap: %v", err)
	}

	waitFor(t, 5*time.Second, "tap acknowledgement at the sender", func() bool {
		status, err := alice.MessageStatus(tap.ID)
		return err == nil && status.TapDelivered
	})

	waitFor(t, 5*time.Second, "tap row at the recipient", func() bool {
		rows, err := bob.ListMessages(aliceAsSeenByBob.ID, 10, 0)
		if err != nil {
			return false
		}
		for _, row := range rows {
			if row.Direction == models.DirectionIncoming && row.TapID != "" {
				return true
			}
		}
		return false
	})
}

func TestVerifyContactRaisesTrust(t *testing.T) {
	alice := newFlowService(t, "Alice")
	bob := newFlowService(t, "Bob")

	bobAsSeenByAlice, _ := befriend(t, alice, bob)
	if bobAsSeenByAlice.Trust != models.TrustEncrypted {
		t.Fatalf("fresh contact must start at encrypted trust, got %s", bobAsSeenByAlice.Trust)
	}

	if _, err := alice.VerifyContact(bobAsSeenByAlice.ID, "not-the-fingerprint"); err == nil {
		t.Fatal("wrong fingerprint must be rejected")
	}

	fingerprint := contactFingerprint(t, bobAsSeenByAlice)
	verified, err := alice.VerifyContact(bobAsSeenByAlice.ID, fingerprint)
	if err != nil {
		t.Fatalf("verify contact: %v", err)
	}
	if verified.Trust != models.TrustVerified {
		t.Fatalf("verification must raise trust, got %s", verified.Trust)
	}
}

func contactFingerprint(t *testing.T, contact models.Contact) string {
	t.Helper()
	if len(contact.SigningKey) == 0 {
		t.Fatal("contact has no signing key")
	}
	return identitypolicy.Fingerprint(contact.SigningKey)
}

func TestSendMessagePublishesQueuedAndDeliveredNotifications(t *testing.T) {
	alice := newFlowService(t, "Alice")
	bob := newFlowService(t, "Bob")

	bobAsSeenByAlice, _ := befriend(t, alice, bob)

	replay, ch, cancel := alice.SubscribeNotifications(0)
	defer cancel()

	sawCompletion := false
	for _, evt := range replay {
		if evt.Method == "notify.handshake.completed" {
			sawCompletion = true
		}
	}
	if !sawCompletion {
		t.Fatal("subscribing from zero must replay the handshake completion")
	}

	sent, err := alice.SendMessage(bobAsSeenByAlice.ID, "signal among the noise")
	if err != nil {
		t.Fatalf("send message: %v", err)
	}

	waitEvent := func(method string) contracts.NotificationEvent {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case evt, ok := <-ch:
				if !ok {
					t.Fatalf("notification channel closed before %s", method)
				}
				if evt.Method == method {
					return evt
				}
			case <-deadline:
				t.Fatalf("timed out waiting for %s", method)
			}
		}
	}

	queued := waitEvent("notify.message.queued")
	payload, ok := queued.Payload.(map[string]any)
	if !ok {
		t.Fatalf("unexpected queued payload type: %T", queued.Payload)
	}
	if got, _ := payload["contact_id"].(string); got != bobAsSeenByAlice.ID {
		t.Fatalf("unexpected contact in queued event: %q", got)
	}
	msg, ok := payload["message"].(models.Message)
	if !ok {
		t.Fatalf("unexpected message payload type: %T", payload["message"])
	}
	if msg.ID != sent.ID {
		t.Fatalf("queued event names message %q, sent %q", msg.ID, sent.ID)
	}
	if len(msg.PayloadWire) != 0 || len(msg.PingWire) != 0 {
		t.Fatal("notification payloads must not carry wire frames")
	}

	delivered := waitEvent("notify.message.delivered")
	deliveredPayload, ok := delivered.Payload.(map[string]any)
	if !ok {
		t.Fatalf("unexpected delivered payload type: %T", delivered.Payload)
	}
	if got, _ := deliveredPayload["message_id"].(string); got != sent.ID {
		t.Fatalf("delivered event names message %q, sent %q", got, sent.ID)
	}
	if delivered.Seq <= queued.Seq {
		t.Fatal("notification sequence numbers must be strictly increasing")
	}
}
