// Package handshake defines the discovery probe and challenge wire types
// shared by the discovery client and the mesh server.
package handshake

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/rohitg00/skillmesh/pkg/crypto/sign"
)

// ProtocolVersion is the current mesh probe protocol version. Responders on
// a different major version are treated as protocol mismatches, not peers.
const ProtocolVersion = 1

// DefaultService is the well-known service name carried in probes.
const DefaultService = "skillmesh"

// ProbeRequest is the lightweight discovery probe.
type ProbeRequest struct {
	ProtocolVersion int    `json:"protocol_version"`
	Service         string `json:"service"`
}

// ProbeResponse is a responder's identity echo.
type ProbeResponse struct {
	PeerID          string `json:"peer_id"`
	ProtocolVersion int    `json:"protocol_version"`
	Service         string `json:"service"`
}

// Valid reports whether the response matches the probe we sent.
func (r ProbeResponse) Valid(service string) bool {
	return r.PeerID != "" && r.ProtocolVersion == ProtocolVersion && r.Service == service
}

// ChallengeRequest asks a confirmed responder to prove key possession over a
// fresh nonce.
type ChallengeRequest struct {
	Service string `json:"service"`
	Nonce   []byte `json:"nonce"`
}

// ChallengeResponse carries the responder's public key and its signature over
// the canonical challenge transcript.
type ChallengeResponse struct {
	PubKey    []byte `json:"pub_key"`
	Timestamp int64  `json:"ts_unix_ms"`
	Sig       []byte `json:"sig"`
}

// NewChallenge builds a challenge with a fresh 16-byte nonce.
func NewChallenge(service string) (ChallengeRequest, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return ChallengeRequest{}, fmt.Errorf("challenge nonce: %w", err)
	}
	return ChallengeRequest{Service: service, Nonce: nonce}, nil
}

// Answer signs the challenge transcript with the responder's private key.
func Answer(req ChallengeRequest, priv ed25519.PrivateKey) ChallengeResponse {
	pub := priv.Public().(ed25519.PublicKey)
	ts := time.Now().UnixMilli()
	transcript := sign.ChallengeTranscript(req.Service, req.Nonce, ts, pub)
	return ChallengeResponse{
		PubKey:    append([]byte(nil), pub...),
		Timestamp: ts,
		Sig:       sign.Ed25519Sign(priv, transcript),
	}
}

// VerifyAnswer checks the signature and freshness of a challenge response.
// It returns the responder's public key on success.
func VerifyAnswer(req ChallengeRequest, resp ChallengeResponse, maxSkew time.Duration) (ed25519.PublicKey, error) {
	if len(resp.PubKey) != ed25519.PublicKeySize {
		return nil, errors.New("challenge: bad public key length")
	}
	if len(resp.Sig) != ed25519.SignatureSize {
		return nil, errors.New("challenge: bad signature length")
	}
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	if dt := time.Now().UnixMilli() - resp.Timestamp; dt > maxSkew.Milliseconds() || dt < -maxSkew.Milliseconds() {
		return nil, errors.New("challenge: timestamp out of bounds")
	}
	transcript := sign.ChallengeTranscript(req.Service, req.Nonce, resp.Timestamp, resp.PubKey)
	if !sign.Ed25519Verify(ed25519.PublicKey(resp.PubKey), transcript, resp.Sig) {
		return nil, errors.New("challenge: signature invalid")
	}
	return ed25519.PublicKey(resp.PubKey), nil
}
