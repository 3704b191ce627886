package onion

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	// ServiceIntro carries handshake traffic, ServiceMsg everything after.
	// Each peer publishes one onion address per service.
	ServiceIntro = "intro"
	ServiceMsg   = "msg"
)

// Frame is the unit the transport moves: an opaque sealed payload plus
// the cleartext routing fields the recipient needs to pick the right
// conversation before it can open anything.
type Frame struct {
	ID             string `json:"id"`
	Service        string `json:"service"`
	Kind           string `json:"kind"`
	SenderID       string `json:"sender_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
	Recipient      string `json:"recipient"`
	Payload        []byte `json:"payload"`
}

var errFrameTooLarge = errors.New("frame exceeds size limit")

// writeFrame sends one length-prefixed JSON frame.
func writeFrame(w io.Writer, frame Frame, maxBytes int) error {
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if maxBytes > 0 && len(raw) > maxBytes {
		return errFrameTooLarge
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(raw)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err = w.Write(raw)
	return err
}

// readFrame reads one length-prefixed JSON frame, rejecting anything
// over the limit before allocating for it.
func readFrame(r io.Reader, maxBytes int) (Frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Frame{}, err
	}
	size := binary.BigEndian.Uint32(prefix[:])
	if maxBytes > 0 && int(size) > maxBytes {
		return Frame{}, errFrameTooLarge
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return Frame{}, err
	}
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return frame, nil
}

// frameBus is the in-process transport used by the mock backend. Frames
// for addresses with no subscriber wait in a mailbox until the address
// comes online, which is how the real network behaves from the sender's
// point of view after a retry.
type frameBus struct {
	mu          sync.Mutex
	subscribers map[string]func(Frame)
	mailbox     map[string][]Frame
}

var globalBus = &frameBus{
	subscribers: make(map[string]func(Frame)),
	mailbox:     make(map[string][]Frame),
}

func (b *frameBus) publish(frame Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if handler, ok := b.subscribers[frame.Recipient]; ok {
		go handler(frame)
		return
	}
	b.mailbox[frame.Recipient] = append(b.mailbox[frame.Recipient], frame)
}

func (b *frameBus) subscribe(address string, handler func(Frame)) {
	b.mu.Lock()
	b.subscribers[address] = handler
	pending := append([]Frame(nil), b.mailbox[address]...)
	delete(b.mailbox, address)
	b.mu.Unlock()

	for _, frame := range pending {
		handler(frame)
	}
}

func (b *frameBus) unsubscribe(address string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, address)
}
