package message

import (
	"encoding/json"
	"testing"
)

func TestNewFillsEnvelope(t *testing.T) {
	m := New("ping", json.RawMessage(`{"n":1}`), "pk:ed25519:a", "pk:ed25519:b")
	if m.ID == "" {
		t.Fatalf("expected generated id")
	}
	if m.Type != "ping" || m.Sender != "pk:ed25519:a" || m.Recipient != "pk:ed25519:b" {
		t.Fatalf("envelope fields mismatch: %+v", m)
	}
	if m.Timestamp.IsZero() {
		t.Fatalf("expected timestamp to be set")
	}
	m2 := New("ping", nil, "pk:ed25519:a", "")
	if m2.ID == m.ID {
		t.Fatalf("expected unique ids per message")
	}
}

func TestNewReplyCorrelates(t *testing.T) {
	orig := New("query", json.RawMessage(`{}`), "nodeA", "nodeB")
	rep := NewReply(orig, json.RawMessage(`{"ok":true}`), "nodeB")

	if rep.CorrelationID != orig.ID {
		t.Fatalf("correlation_id=%q, want original id %q", rep.CorrelationID, orig.ID)
	}
	if rep.Recipient != orig.Sender || rep.Sender != "nodeB" {
		t.Fatalf("reply addressing mismatch: sender=%q recipient=%q", rep.Sender, rep.Recipient)
	}
	if rep.ID == orig.ID {
		t.Fatalf("reply must carry a fresh id")
	}
}

func TestNewReplyToRecipientlessMessage(t *testing.T) {
	orig := New("announce", json.RawMessage(`{}`), "nodeA", "")
	rep := NewReply(orig, json.RawMessage(`{"seen":true}`), "nodeB")

	if rep.Sender != "nodeB" {
		t.Fatalf("reply sender=%q, want the replier's identity", rep.Sender)
	}
	if rep.Recipient != "nodeA" {
		t.Fatalf("reply recipient=%q, want the original sender", rep.Recipient)
	}
	b, err := EncodeFrame(rep)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeFrame(b); err != nil {
		t.Fatalf("reply to a recipient-less message must stay deliverable: %v", err)
	}
}

func TestNewForwardPreservesOriginAndTracksHops(t *testing.T) {
	orig := New("event", json.RawMessage(`{}`), "origin", "far-node")
	fwd := NewForward(orig, "relay-1")

	if fwd.Sender != "origin" {
		t.Fatalf("forward must preserve the original sender, got %q", fwd.Sender)
	}
	if len(fwd.Hops) != 1 || fwd.Hops[0] != "relay-1" {
		t.Fatalf("hops mismatch: %v", fwd.Hops)
	}
	if fwd.ID == orig.ID {
		t.Fatalf("forward must carry a fresh id")
	}
	if len(fwd.Signature) != 0 {
		t.Fatalf("forward must drop the prior signature")
	}

	fwd2 := NewForward(fwd, "relay-2")
	if len(fwd2.Hops) != 2 || fwd2.Hops[1] != "relay-2" {
		t.Fatalf("second hop not appended: %v", fwd2.Hops)
	}
	if len(fwd.Hops) != 1 {
		t.Fatalf("forwarding must not mutate the source message hops: %v", fwd.Hops)
	}
}

func TestCloneIsDeep(t *testing.T) {
	m := New("ping", json.RawMessage(`{"n":1}`), "a", "b")
	m.Hops = []string{"h1"}
	m.Signature = []byte{1, 2, 3}

	c := m.Clone()
	c.Payload[0] = 'X'
	c.Hops[0] = "mutated"
	c.Signature[0] = 9

	if string(m.Payload) != `{"n":1}` || m.Hops[0] != "h1" || m.Signature[0] != 1 {
		t.Fatalf("clone shares backing storage with original: %+v", m)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	m := New("task.result", json.RawMessage(`{"value":42}`), "nodeA", "nodeB")
	b, err := EncodeFrame(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeFrame(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != m.ID || got.Type != m.Type || string(got.Payload) != string(m.Payload) {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", got, m)
	}
}

func TestDecodeFrameRejectsOversize(t *testing.T) {
	big := make([]byte, MaxFrameBytes+1)
	if _, err := DecodeFrame(big); err == nil {
		t.Fatalf("expected oversize frame to be rejected")
	}
}

func TestDecodeFrameRequiresEnvelopeFields(t *testing.T) {
	cases := []string{
		`{}`,
		`{"id":"x"}`,
		`{"id":"x","type":"ping"}`,
		`not json`,
	}
	for _, c := range cases {
		if _, err := DecodeFrame([]byte(c)); err == nil {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
	ok := `{"id":"x","type":"ping","sender":"a"}`
	if _, err := DecodeFrame([]byte(ok)); err != nil {
		t.Fatalf("valid minimal frame rejected: %v", err)
	}
}
