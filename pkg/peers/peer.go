// Package peers defines the Peer record and the concurrency-safe registry
// that caches discovery results between queries.
package peers

import (
	"crypto/sha256"
	"encoding/base64"
	"net"
	"strconv"
	"time"
)

// Source records which discovery strategy produced a peer.
type Source string

const (
	SourceLocal       Source = "local"
	SourceLocalSecure Source = "local-secure"
	SourceOverlay     Source = "overlay"
)

// Peer is a remote mesh node keyed by its network address. The ID is derived
// locally from (host, port) so a responder cannot spoof another peer's
// identity by echoing its id.
type Peer struct {
	ID        string    `json:"id" cbor:"1,keyasint"`
	Host      string    `json:"host" cbor:"2,keyasint"`
	Port      int       `json:"port" cbor:"3,keyasint"`
	Source    Source    `json:"source" cbor:"4,keyasint"`
	PublicKey []byte    `json:"public_key,omitempty" cbor:"5,keyasint,omitempty"`
	LastSeen  time.Time `json:"last_seen" cbor:"6,keyasint"`

	// NodeID is the identity the peer claimed in its probe response. It is
	// advisory until the secure handshake has bound it to a trusted key.
	NodeID string `json:"node_id,omitempty" cbor:"7,keyasint,omitempty"`
}

// Addr returns the host:port form of the peer address.
func (p Peer) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// DeriveID computes the canonical address-derived peer id:
// addr:<b64url(sha256(host:port))[:22]>.
func DeriveID(host string, port int) string {
	sum := sha256.Sum256([]byte(net.JoinHostPort(host, strconv.Itoa(port))))
	return "addr:" + base64.RawURLEncoding.EncodeToString(sum[:])[:22]
}

// New builds a Peer for an address with its derived id and a fresh LastSeen.
func New(host string, port int, src Source) Peer {
	return Peer{
		ID:       DeriveID(host, port),
		Host:     host,
		Port:     port,
		Source:   src,
		LastSeen: time.Now(),
	}
}
