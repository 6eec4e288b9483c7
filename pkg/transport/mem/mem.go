// Package mem implements an in-process transport used by tests and by
// single-binary multi-node setups. A Network is the switchboard; each
// endpoint binds an address on it.
package mem

import (
	"context"
	"fmt"
	"sync"

	"github.com/rohitg00/skillmesh/pkg/message"
	"github.com/rohitg00/skillmesh/pkg/peers"
	"github.com/rohitg00/skillmesh/pkg/transport"
)

// Network connects mem endpoints by address.
type Network struct {
	mu    sync.RWMutex
	nodes map[string]*Transport // "host:port" -> endpoint
}

func NewNetwork() *Network {
	return &Network{nodes: make(map[string]*Transport)}
}

// Endpoint binds a new transport at addr on this network.
func (n *Network) Endpoint(addr string) *Transport {
	t := &Transport{net: n, addr: addr}
	n.mu.Lock()
	n.nodes[addr] = t
	n.mu.Unlock()
	return t
}

func (n *Network) lookup(addr string) (*Transport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	t, ok := n.nodes[addr]
	return t, ok
}

func (n *Network) remove(addr string) {
	n.mu.Lock()
	delete(n.nodes, addr)
	n.mu.Unlock()
}

// Transport is one endpoint on a mem Network.
type Transport struct {
	net  *Network
	addr string

	mu      sync.Mutex
	handler transport.Handler
	closed  bool
}

func (t *Transport) Kind() transport.Kind { return transport.KindMem }

func (t *Transport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Send delivers the envelope synchronously to the peer endpoint's handler.
// An unbound address behaves like connection refused so failure-path tests
// exercise the same taxonomy as real transports.
func (t *Transport) Send(ctx context.Context, peer peers.Peer, msg *message.Message) (transport.DeliveryResult, error) {
	if err := ctx.Err(); err != nil {
		return transport.DeliveryResult{}, transport.NewErrorKind("send", peer.ID, transport.ErrTimeout, err)
	}
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return transport.DeliveryResult{}, transport.NewErrorKind("send", peer.ID, transport.ErrUnavailable, fmt.Errorf("transport closed"))
	}
	target, ok := t.net.lookup(peer.Addr())
	if !ok {
		return transport.DeliveryResult{}, transport.NewErrorKind("send", peer.ID, transport.ErrConnectionRefused,
			fmt.Errorf("no endpoint at %s", peer.Addr()))
	}
	// Round-trip through the frame codec so mem behaves like the wire.
	frame, err := message.EncodeFrame(msg)
	if err != nil {
		return transport.DeliveryResult{}, transport.NewErrorKind("send", peer.ID, transport.ErrProtocolMismatch, err)
	}
	m, err := message.DecodeFrame(frame)
	if err != nil {
		return transport.DeliveryResult{}, transport.NewErrorKind("send", peer.ID, transport.ErrProtocolMismatch, err)
	}
	target.mu.Lock()
	h := target.handler
	tclosed := target.closed
	target.mu.Unlock()
	if tclosed || h == nil {
		return transport.DeliveryResult{Reason: "no inbound handler"}, nil
	}
	h(m)
	return transport.DeliveryResult{Accepted: true}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.net.remove(t.addr)
	return nil
}
