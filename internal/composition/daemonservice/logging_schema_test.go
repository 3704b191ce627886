package daemonservice

import (
	"testing"

	"umbra-chat/go-backend/internal/onion"
)

func TestFrameCorrelationID(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		frame onion.Frame
		want  string
	}{
		{name: "request wins", frame: onion.Frame{RequestID: "req_1", ConversationID: "conv_1"}, want: "req_1"},
		{name: "conversation fallback", frame: onion.Frame{ConversationID: "conv_1"}, want: "conv_1"},
		{name: "neither", frame: onion.Frame{Kind: "ping"}, want: "n/a"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := frameCorrelationID(tc.frame)
			if got != tc.want {
				t.Fatalf("unexpected correlation id: got=%q want=%q", got, tc.want)
			}
		})
	}
}
