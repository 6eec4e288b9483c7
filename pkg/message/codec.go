package message

import (
	"encoding/json"
	"fmt"
)

// MaxFrameBytes bounds a single encoded envelope. Oversized frames are
// rejected on both encode and decode.
const MaxFrameBytes = 1 << 20

// EncodeFrame serializes one envelope as a JSON frame.
func EncodeFrame(m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("encode frame: nil message")
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	if len(b) > MaxFrameBytes {
		return nil, fmt.Errorf("encode frame: %d bytes exceeds limit", len(b))
	}
	return b, nil
}

// DecodeFrame parses one JSON frame into an envelope and validates the
// fields every router depends on.
func DecodeFrame(b []byte) (*Message, error) {
	if len(b) > MaxFrameBytes {
		return nil, fmt.Errorf("decode frame: %d bytes exceeds limit", len(b))
	}
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if m.ID == "" || m.Type == "" || m.Sender == "" {
		return nil, fmt.Errorf("decode frame: missing id, type, or sender")
	}
	return &m, nil
}
