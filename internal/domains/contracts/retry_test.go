package contracts

import (
	"testing"
	"time"
)

func TestRetryBackoffDoublesAndCaps(t *testing.T) {
	cases := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 5 * time.Second},
		{1, 10 * time.Second},
		{2, 20 * time.Second},
		{5, 160 * time.Second},
		{6, 5 * time.Minute},
		{40, 5 * time.Minute},
	}
	for _, tc := range cases {
		if got := RetryBackoff(tc.retryCount); got != tc.want {
			t.Fatalf("RetryBackoff(%d) = %s, want %s", tc.retryCount, got, tc.want)
		}
	}
}

func TestNextRetryAtAddsBackoffToAttemptTime(t *testing.T) {
	attempt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if got := NextRetryAt(attempt, 2); !got.Equal(attempt.Add(20 * time.Second)) {
		t.Fatalf("unexpected next retry time: %s", got)
	}
}

func TestDeriveConversationIDIsOrderIndependent(t *testing.T) {
	a := DeriveConversationID("umb1alice", "umb1bob")
	b := DeriveConversationID("umb1bob", "umb1alice")
	if a != b {
		t.Fatalf("conversation id depends on argument order: %s vs %s", a, b)
	}
	if a == DeriveConversationID("umb1alice", "umb1carol") {
		t.Fatal("distinct pairs must not collide")
	}
	if len(a) == 0 || a[:5] != "conv_" {
		t.Fatalf("unexpected conversation id shape: %s", a)
	}
}
