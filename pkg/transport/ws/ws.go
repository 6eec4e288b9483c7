// Package ws implements the persistent duplex transport over websocket.
// Every frame is exactly one JSON-serialized message envelope. One
// connection is kept per peer id; connection ids exist only for transport
// bookkeeping and are never exposed to the router.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/rohitg00/skillmesh/pkg/message"
	"github.com/rohitg00/skillmesh/pkg/observability"
	"github.com/rohitg00/skillmesh/pkg/peers"
	"github.com/rohitg00/skillmesh/pkg/transport"
)

// Options tune the duplex transport.
type Options struct {
	// ConnectTimeout bounds dialing a peer with no open connection; the same
	// budget discovery probing uses.
	ConnectTimeout time.Duration
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// Metrics is optional.
	Metrics *observability.Metrics
}

type conn struct {
	id     string // internal connection id, bookkeeping only
	ws     *websocket.Conn
	peerID string
	mu     sync.Mutex // serializes writes
}

// Transport is the websocket duplex backend. The zero value is not usable;
// call New.
type Transport struct {
	opts    Options
	handler transport.Handler

	mu     sync.Mutex
	dialed map[string]*conn // peer id -> outbound connection
	accept map[string]*conn // connection id -> inbound connection
	closed bool

	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(opts Options) *Transport {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		opts:     opts,
		dialed:   make(map[string]*conn),
		accept:   make(map[string]*conn),
		lifetime: ctx,
		cancel:   cancel,
	}
}

func (t *Transport) Kind() transport.Kind { return transport.KindWebsocket }

// SetHandler registers the single inbound handler. Frames from one
// connection are delivered in order; different connections proceed
// concurrently.
func (t *Transport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Send writes one frame to the peer, transparently (re)establishing the
// connection when none is open.
func (t *Transport) Send(ctx context.Context, peer peers.Peer, msg *message.Message) (transport.DeliveryResult, error) {
	frame, err := message.EncodeFrame(msg)
	if err != nil {
		return transport.DeliveryResult{}, transport.NewErrorKind("send", peer.ID, transport.ErrProtocolMismatch, err)
	}
	c, err := t.connFor(ctx, peer)
	if err != nil {
		t.opts.Metrics.ObserveSend(transport.KindWebsocket.String(), false)
		return transport.DeliveryResult{}, err
	}
	wctx, cancel := context.WithTimeout(ctx, t.opts.WriteTimeout)
	defer cancel()
	c.mu.Lock()
	werr := c.ws.Write(wctx, websocket.MessageText, frame)
	c.mu.Unlock()
	if werr != nil {
		t.dropDialed(peer.ID, c)
		t.opts.Metrics.ObserveSend(transport.KindWebsocket.String(), false)
		return transport.DeliveryResult{}, transport.NewError("send", peer.ID, werr)
	}
	t.opts.Metrics.ObserveSend(transport.KindWebsocket.String(), true)
	return transport.DeliveryResult{Accepted: true}, nil
}

// AcceptHandler returns the http.Handler to mount at the mesh stream
// endpoint. The server side accepts connections from many peers
// concurrently.
func (t *Transport) AcceptHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsc, err := websocket.Accept(w, r, nil)
		if err != nil {
			zap.L().Debug("stream accept failed", zap.Error(err))
			return
		}
		c := &conn{id: uuid.NewString(), ws: wsc}
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			_ = wsc.Close(websocket.StatusGoingAway, "shutting down")
			return
		}
		t.accept[c.id] = c
		t.mu.Unlock()
		zap.L().Debug("stream connection accepted",
			zap.String("conn_id", c.id),
			zap.String("remote", r.RemoteAddr))
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			t.readLoop(c)
			t.mu.Lock()
			delete(t.accept, c.id)
			t.mu.Unlock()
		}()
	})
}

// Close tears down every tracked connection before returning.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*conn, 0, len(t.dialed)+len(t.accept))
	for _, c := range t.dialed {
		conns = append(conns, c)
	}
	for _, c := range t.accept {
		conns = append(conns, c)
	}
	t.dialed = map[string]*conn{}
	t.accept = map[string]*conn{}
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close(websocket.StatusNormalClosure, "shutdown")
	}
	t.cancel()
	t.wg.Wait()
	return nil
}

// connFor returns the open connection for a peer, dialing one when needed.
func (t *Transport) connFor(ctx context.Context, peer peers.Peer) (*conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, transport.NewErrorKind("dial", peer.ID, transport.ErrUnavailable, fmt.Errorf("transport closed"))
	}
	if c, ok := t.dialed[peer.ID]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, t.opts.ConnectTimeout)
	defer cancel()
	url := "ws://" + peer.Addr() + "/mesh/v1/stream"
	wsc, _, err := websocket.Dial(dctx, url, nil)
	if err != nil {
		return nil, transport.NewError("dial", peer.ID, err)
	}
	wsc.SetReadLimit(message.MaxFrameBytes)
	c := &conn{id: uuid.NewString(), ws: wsc, peerID: peer.ID}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = wsc.Close(websocket.StatusGoingAway, "shutting down")
		return nil, transport.NewErrorKind("dial", peer.ID, transport.ErrUnavailable, fmt.Errorf("transport closed"))
	}
	if existing, ok := t.dialed[peer.ID]; ok {
		// Lost a dial race; keep the first connection.
		t.mu.Unlock()
		_ = wsc.Close(websocket.StatusNormalClosure, "duplicate")
		return existing, nil
	}
	t.dialed[peer.ID] = c
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.readLoop(c)
		t.dropDialed(peer.ID, c)
	}()
	return c, nil
}

func (t *Transport) dropDialed(peerID string, c *conn) {
	t.mu.Lock()
	if cur, ok := t.dialed[peerID]; ok && cur == c {
		delete(t.dialed, peerID)
	}
	t.mu.Unlock()
	_ = c.ws.Close(websocket.StatusNormalClosure, "dropped")
}

// readLoop decodes frames off one connection and hands them to the inbound
// handler strictly in arrival order.
func (t *Transport) readLoop(c *conn) {
	for {
		typ, data, err := c.ws.Read(t.lifetime)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		m, derr := message.DecodeFrame(data)
		if derr != nil {
			zap.L().Debug("dropping malformed frame",
				zap.String("conn_id", c.id),
				zap.Error(derr))
			continue
		}
		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h(m)
		}
	}
}
