// Package sign holds the canonical transcripts and ed25519 helpers used by
// secure discovery and the authenticated transports.
package sign

import (
	"crypto/ed25519"
)

// Ed25519Sign signs data with the node's private key.
func Ed25519Sign(priv ed25519.PrivateKey, data []byte) []byte {
	return ed25519.Sign(priv, data)
}

// Ed25519Verify verifies an ed25519 signature.
func Ed25519Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, data, sig)
}
