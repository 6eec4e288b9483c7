// Package secure wraps any transport backend with envelope signing and
// verification. Outbound payloads are signed with the node's key; inbound
// envelopes are verified against the trusted keyring before they can reach
// the router. The wrapper never performs key exchange; the keyring is
// populated out of band by secure discovery or configuration.
package secure

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rohitg00/skillmesh/pkg/crypto/sign"
	"github.com/rohitg00/skillmesh/pkg/message"
	"github.com/rohitg00/skillmesh/pkg/observability"
	"github.com/rohitg00/skillmesh/pkg/peers"
	"github.com/rohitg00/skillmesh/pkg/transport"
)

// ErrSignatureInvalid reports an envelope whose signature is missing, from
// an untrusted sender, or does not verify.
var ErrSignatureInvalid = errors.New("secure: signature invalid")

// SignMessage returns a signed copy of m. The original is left untouched.
func SignMessage(priv ed25519.PrivateKey, m *message.Message) *message.Message {
	cp := m.Clone()
	transcript := sign.MessageTranscript(cp.ID, cp.Type, cp.Sender, cp.Recipient, cp.Timestamp.UnixMilli(), cp.Payload)
	cp.Signature = sign.Ed25519Sign(priv, transcript)
	return cp
}

// VerifyMessage checks m's signature against the trusted key for its claimed
// sender.
func VerifyMessage(keyring *sign.Keyring, m *message.Message) error {
	if len(m.Signature) == 0 {
		return fmt.Errorf("%w: unsigned envelope from %s", ErrSignatureInvalid, m.Sender)
	}
	pub, ok := keyring.Lookup(m.Sender)
	if !ok {
		return fmt.Errorf("%w: no trusted key for %s", ErrSignatureInvalid, m.Sender)
	}
	transcript := sign.MessageTranscript(m.ID, m.Type, m.Sender, m.Recipient, m.Timestamp.UnixMilli(), m.Payload)
	if !sign.Ed25519Verify(pub, transcript, m.Signature) {
		return fmt.Errorf("%w: bad signature from %s", ErrSignatureInvalid, m.Sender)
	}
	return nil
}

// AuthFailureFunc is notified when an inbound envelope fails verification.
type AuthFailureFunc func(sender string, err error)

// Options configure a secure wrapper.
type Options struct {
	Priv    ed25519.PrivateKey
	Keyring *sign.Keyring
	Metrics *observability.Metrics
	// OnAuthFailure is optional; invoked for every dropped inbound envelope.
	OnAuthFailure AuthFailureFunc
}

// Sender signs every outbound envelope before delegating to the base
// transport. Verification of unicast inbound happens at the mesh endpoint
// (meshhttp.ServerOptions.Verify) using the same keyring.
type Sender struct {
	base transport.Sender
	opts Options
}

func WrapSender(base transport.Sender, opts Options) *Sender {
	return &Sender{base: base, opts: opts}
}

func (s *Sender) Kind() transport.Kind { return s.base.Kind() }

func (s *Sender) Send(ctx context.Context, peer peers.Peer, msg *message.Message) (transport.DeliveryResult, error) {
	return s.base.Send(ctx, peer, SignMessage(s.opts.Priv, msg))
}

// Duplex signs outbound frames and verifies inbound frames of a duplex
// backend. Frames that fail verification are dropped without
// acknowledgment and never reach the registered handler.
type Duplex struct {
	base transport.Duplex
	opts Options
}

func WrapDuplex(base transport.Duplex, opts Options) *Duplex {
	return &Duplex{base: base, opts: opts}
}

func (d *Duplex) Kind() transport.Kind { return d.base.Kind() }

func (d *Duplex) SetHandler(h transport.Handler) {
	d.base.SetHandler(func(m *message.Message) {
		if err := VerifyMessage(d.opts.Keyring, m); err != nil {
			zap.L().Warn("dropping unverified frame",
				zap.String("msg_id", m.ID),
				zap.String("sender", m.Sender),
				zap.Error(err))
			d.opts.Metrics.ObserveAuthFailure()
			if d.opts.OnAuthFailure != nil {
				d.opts.OnAuthFailure(m.Sender, err)
			}
			return
		}
		h(m)
	})
}

func (d *Duplex) Send(ctx context.Context, peer peers.Peer, msg *message.Message) (transport.DeliveryResult, error) {
	return d.base.Send(ctx, peer, SignMessage(d.opts.Priv, msg))
}

func (d *Duplex) Close() error { return d.base.Close() }
