//go:build real_tor

package onion

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestTorNodeSelfFrameRoundTrip(t *testing.T) {
	if os.Getenv("UMBRA_RUN_REAL_TOR_TESTS") != "true" {
		t.Skip("set UMBRA_RUN_REAL_TOR_TESTS=true to run the tor lifecycle test")
	}
	if newTorBackend() == nil {
		t.Skip("tor backend is not enabled in this build")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg := DefaultConfig()
	cfg.Transport = TransportTor
	cfg.DataDir = t.TempDir()

	n := NewNode(cfg)
	if err := n.Start(ctx); err != nil {
		t.Fatalf("tor start failed: %v", err)
	}
	t.Cleanup(func() { _ = n.Stop(context.Background()) })

	status := n.Status()
	if status.State != StateConnected && status.State != StateDegraded {
		t.Fatalf("expected connected/degraded after tor start, got %s", status.State)
	}
	if status.IntroAddress == "" || status.MsgAddress == "" {
		t.Fatalf("expected both onion services published, got %+v", status)
	}
	if err := ValidateAddress(status.MsgAddress); err != nil {
		t.Fatalf("published address must validate: %v", err)
	}

	n.SetIdentity("umb1self")
	got := make(chan Frame, 1)
	if err := n.SubscribeInbound(func(f Frame) { got <- f }); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Dial our own msg service through the tor client.
	frame := Frame{
		ID:        "tor_selftest_1",
		Service:   ServiceMsg,
		Kind:      "ping",
		SenderID:  "umb1self",
		Recipient: status.MsgAddress,
		Payload:   []byte("hello-over-tor"),
	}
	if err := n.SendFrame(ctx, frame); err != nil {
		t.Fatalf("send over tor failed: %v", err)
	}

	select {
	case f := <-got:
		if f.ID != frame.ID || f.Service != ServiceMsg {
			t.Fatalf("unexpected frame: %+v", f)
		}
	case <-time.After(2 * time.Minute):
		t.Fatal("timed out waiting for self frame over tor")
	}
}
