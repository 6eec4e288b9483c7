// Package message defines the immutable envelope routed across the mesh and
// the builders that construct new, reply, and forwarded envelopes.
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message is the unit of routed communication. Envelopes are immutable once
// built; forwarding produces a new envelope and only appends hop metadata.
type Message struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Sender        string          `json:"sender"`
	Recipient     string          `json:"recipient,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Hops          []string        `json:"hops,omitempty"`
	Signature     []byte          `json:"signature,omitempty"`
}

// New builds a message with a fresh id and timestamp. recipient may be empty
// for broadcast-style messages.
func New(typ string, payload json.RawMessage, sender, recipient string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   payload,
		Sender:    sender,
		Recipient: recipient,
		Timestamp: time.Now().UTC(),
	}
}

// NewReply builds a reply to original: fresh id, correlation id pointing at
// the original, addressed back to the original sender. The replier supplies
// its own identity; original.Recipient may be empty on broadcast-style
// messages and is never a usable sender.
func NewReply(original *Message, payload json.RawMessage, sender string) *Message {
	m := New(original.Type, payload, sender, original.Sender)
	m.CorrelationID = original.ID
	return m
}

// NewForward re-envelopes original for another hop. The original sender is
// preserved; the forwarding node is recorded in Hops. The signature does not
// survive forwarding since the transcript covers the original id.
func NewForward(original *Message, via string) *Message {
	hops := make([]string, 0, len(original.Hops)+1)
	hops = append(hops, original.Hops...)
	hops = append(hops, via)
	return &Message{
		ID:            uuid.NewString(),
		Type:          original.Type,
		Payload:       original.Payload,
		Sender:        original.Sender,
		Recipient:     original.Recipient,
		Timestamp:     time.Now().UTC(),
		CorrelationID: original.CorrelationID,
		Hops:          hops,
	}
}

// Clone returns a deep copy. Used by transports that attach signatures so the
// caller's envelope stays untouched.
func (m *Message) Clone() *Message {
	cp := *m
	if m.Payload != nil {
		cp.Payload = append(json.RawMessage(nil), m.Payload...)
	}
	if m.Hops != nil {
		cp.Hops = append([]string(nil), m.Hops...)
	}
	if m.Signature != nil {
		cp.Signature = append([]byte(nil), m.Signature...)
	}
	return &cp
}
