// Package transport defines the capability contract for moving message
// envelopes between peers. Concrete backends live in subpackages (meshhttp,
// ws, quic, mem); the secure subpackage wraps any backend with payload
// signing and verification.
package transport

import (
	"context"

	"github.com/rohitg00/skillmesh/pkg/message"
	"github.com/rohitg00/skillmesh/pkg/peers"
)

// Kind identifies a transport backend for logging and policy decisions.
type Kind int

const (
	KindUnknown Kind = iota
	KindHTTP
	KindWebsocket
	KindQUIC
	KindMem
)

func (k Kind) String() string {
	switch k {
	case KindHTTP:
		return "http"
	case KindWebsocket:
		return "ws"
	case KindQUIC:
		return "quic"
	case KindMem:
		return "mem"
	default:
		return "unknown"
	}
}

// DeliveryResult is the receiver's verdict for one envelope.
type DeliveryResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Handler consumes one inbound envelope. Duplex transports invoke it in
// per-connection order; handlers must not block indefinitely.
type Handler func(*message.Message)

// Sender moves one envelope to a peer. Every call honors ctx cancellation
// and carries its own connect/send timeout.
type Sender interface {
	Kind() Kind
	Send(ctx context.Context, peer peers.Peer, msg *message.Message) (DeliveryResult, error)
}

// Duplex is a Sender backed by persistent per-peer connections. A send to a
// peer with no open connection transparently establishes one. Close tears
// down every tracked connection before returning.
type Duplex interface {
	Sender
	// SetHandler registers the single inbound handler. Must be called before
	// the first connection is established.
	SetHandler(Handler)
	Close() error
}
