// Package identity loads or generates the node's ed25519 identity.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/rohitg00/skillmesh/pkg/config"
)

// Identity is the node's signing identity. NodeID is the canonical form
// pk:ed25519:<b64url(pub)> used as the sender on every envelope.
type Identity struct {
	Priv   ed25519.PrivateKey
	Pub    ed25519.PublicKey
	NodeID string
}

// NodeIDFromPubKey constructs the canonical node id from public key bytes.
func NodeIDFromPubKey(pub ed25519.PublicKey) string {
	return "pk:ed25519:" + base64.RawURLEncoding.EncodeToString(pub)
}

// LoadOrGen loads an ed25519 private key from config or generates a new one.
func LoadOrGen(c config.IdentityConfig) (*Identity, error) {
	var priv ed25519.PrivateKey
	if s := strings.TrimSpace(c.PrivateKey); s != "" {
		b, err := base64.RawURLEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("decode identity.private_key: %w", err)
		}
		priv = ed25519.PrivateKey(b)
	}
	if priv == nil && strings.TrimSpace(c.PrivateKeyFile) != "" {
		b, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read identity.private_key_file: %w", err)
		}
		txt := strings.TrimSpace(string(b))
		if db, derr := base64.RawURLEncoding.DecodeString(txt); derr == nil {
			priv = ed25519.PrivateKey(db)
		} else {
			// assume raw key bytes
			priv = ed25519.PrivateKey(b)
		}
	}
	if priv != nil && len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity key has %d bytes, want %d", len(priv), ed25519.PrivateKeySize)
	}
	if priv == nil {
		_, gen, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate identity: %w", err)
		}
		priv = gen
		zap.L().Info("generated new ed25519 identity (persist via identity.private_key)",
			zap.String("pub_b64", base64.RawURLEncoding.EncodeToString(gen.Public().(ed25519.PublicKey))))
	}
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{Priv: priv, Pub: pub, NodeID: NodeIDFromPubKey(pub)}, nil
}
