// Package quic implements the persistent duplex transport over QUIC. Each
// peer connection carries a single bidirectional stream of length-prefixed
// (u32 LE) JSON envelope frames. TLS uses an ephemeral self-signed
// certificate; identity comes from the mesh's own handshake, not from the
// cert chain.
package quic

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/rohitg00/skillmesh/pkg/message"
	"github.com/rohitg00/skillmesh/pkg/observability"
	"github.com/rohitg00/skillmesh/pkg/peers"
	"github.com/rohitg00/skillmesh/pkg/transport"
)

const alpnProto = "skillmesh"

// Options tune the QUIC duplex transport.
type Options struct {
	ConnectTimeout time.Duration
	Metrics        *observability.Metrics
}

type conn struct {
	qc     *quicgo.Conn
	stream *quicgo.Stream
	mu     sync.Mutex // serializes frame writes
}

// Transport is the QUIC duplex backend.
type Transport struct {
	opts      Options
	tlsServer *tls.Config
	handler   transport.Handler

	mu     sync.Mutex
	dialed map[string]*conn // peer id -> outbound connection
	ln     *quicgo.Listener
	closed bool

	lifetime context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func New(opts Options) (*Transport, error) {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	cert, err := selfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("quic transport cert: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		opts: opts,
		tlsServer: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpnProto},
			MinVersion:   tls.VersionTLS13,
		},
		dialed:   make(map[string]*conn),
		lifetime: ctx,
		cancel:   cancel,
	}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Listen binds the UDP address and accepts peer connections until Close. A
// bind failure is returned immediately, never a panic.
func (t *Transport) Listen(addr string) error {
	ln, err := quicgo.ListenAddr(addr, t.tlsServer, &quicgo.Config{})
	if err != nil {
		return fmt.Errorf("bind quic endpoint %s: %w", addr, err)
	}
	t.mu.Lock()
	t.ln = ln
	t.mu.Unlock()
	t.wg.Add(1)
	go t.acceptLoop(ln)
	zap.L().Info("quic endpoint listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound UDP address (empty before Listen).
func (t *Transport) Addr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ln == nil {
		return ""
	}
	return t.ln.Addr().String()
}

func (t *Transport) acceptLoop(ln *quicgo.Listener) {
	defer t.wg.Done()
	for {
		qc, err := ln.Accept(t.lifetime)
		if err != nil {
			return
		}
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			stream, serr := qc.AcceptStream(t.lifetime)
			if serr != nil {
				_ = qc.CloseWithError(0, "no stream")
				return
			}
			c := &conn{qc: qc, stream: stream}
			t.readLoop(c)
			_ = qc.CloseWithError(0, "done")
		}()
	}
}

// Send writes one frame, transparently (re)establishing the connection
// within the same connect timeout discovery probing uses.
func (t *Transport) Send(ctx context.Context, peer peers.Peer, msg *message.Message) (transport.DeliveryResult, error) {
	frame, err := message.EncodeFrame(msg)
	if err != nil {
		return transport.DeliveryResult{}, transport.NewErrorKind("send", peer.ID, transport.ErrProtocolMismatch, err)
	}
	c, err := t.connFor(ctx, peer)
	if err != nil {
		t.opts.Metrics.ObserveSend(transport.KindQUIC.String(), false)
		return transport.DeliveryResult{}, err
	}
	if werr := c.writeFrame(frame); werr != nil {
		t.dropDialed(peer.ID, c)
		t.opts.Metrics.ObserveSend(transport.KindQUIC.String(), false)
		return transport.DeliveryResult{}, transport.NewError("send", peer.ID, werr)
	}
	t.opts.Metrics.ObserveSend(transport.KindQUIC.String(), true)
	return transport.DeliveryResult{Accepted: true}, nil
}

// Close closes the listener and every tracked connection before returning.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	ln := t.ln
	conns := make([]*conn, 0, len(t.dialed))
	for _, c := range t.dialed {
		conns = append(conns, c)
	}
	t.dialed = map[string]*conn{}
	t.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.qc.CloseWithError(0, "shutdown")
	}
	t.cancel()
	t.wg.Wait()
	return nil
}

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
	tlsClient := &tls.Config{
		// Identity is established by the mesh handshake, not the cert chain.
		InsecureSkipVerify: true,
		NextProtos:         []string{alpnProto},
		MinVersion:         tls.VersionTLS13,
	}
	qc, err := quicgo.DialAddr(dctx, peer.Addr(), tlsClient, &quicgo.Config{})
	if err != nil {
		return nil, transport.NewError("dial", peer.ID, err)
	}
	stream, err := qc.OpenStreamSync(dctx)
	if err != nil {
		_ = qc.CloseWithError(0, "no stream")
		return nil, transport.NewError("dial", peer.ID, err)
	}
	c := &conn{qc: qc, stream: stream}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = qc.CloseWithError(0, "shutting down")
		return nil, transport.NewErrorKind("dial", peer.ID, transport.ErrUnavailable, fmt.Errorf("transport closed"))
	}
	if existing, ok := t.dialed[peer.ID]; ok {
		t.mu.Unlock()
		_ = qc.CloseWithError(0, "duplicate")
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
	_ = c.qc.CloseWithError(0, "dropped")
}

// readLoop decodes frames off one stream in order and hands them to the
// inbound handler.
func (t *Transport) readLoop(c *conn) {
	for {
		frame, err := readFrame(c.stream)
		if err != nil {
			return
		}
		m, derr := message.DecodeFrame(frame)
		if derr != nil {
			zap.L().Debug("dropping malformed quic frame", zap.Error(derr))
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

// Frame layout: u32 LE length prefix, then the JSON envelope.

func (c *conn) writeFrame(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var lenbuf [4]byte
	binary.LittleEndian.PutUint32(lenbuf[:], uint32(len(b)))
	if _, err := c.stream.Write(lenbuf[:]); err != nil {
		return err
	}
	_, err := c.stream.Write(b)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var lenbuf [4]byte
	if _, err := io.ReadFull(r, lenbuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.LittleEndian.Uint32(lenbuf[:]))
	if n <= 0 || n > message.MaxFrameBytes {
		return nil, fmt.Errorf("invalid frame size %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func selfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber: serial,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
