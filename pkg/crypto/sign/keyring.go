package sign

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"sync"
)

// Keyring is the trusted-key set consulted by secure discovery and the
// authenticated transports. Keys are added out of band (configuration or a
// completed discovery handshake); the transports themselves never perform
// key exchange.
type Keyring struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey // sender id -> public key
}

func NewKeyring() *Keyring {
	return &Keyring{keys: make(map[string]ed25519.PublicKey)}
}

// Add binds a public key to a sender id. An existing binding is replaced.
func (k *Keyring) Add(id string, pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("keyring: bad key length %d for %q", len(pub), id)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[id] = append(ed25519.PublicKey(nil), pub...)
	return nil
}

// AddBase64 binds a base64url (no padding) encoded public key to a sender id.
func (k *Keyring) AddBase64(id, pubB64 string) error {
	b, err := base64.RawURLEncoding.DecodeString(pubB64)
	if err != nil {
		return fmt.Errorf("keyring: decode key for %q: %w", id, err)
	}
	return k.Add(id, ed25519.PublicKey(b))
}

// Lookup returns the trusted key for a sender id, if any.
func (k *Keyring) Lookup(id string) (ed25519.PublicKey, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	pub, ok := k.keys[id]
	return pub, ok
}

// Remove drops the binding for a sender id.
func (k *Keyring) Remove(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, id)
}

// Len reports the number of trusted keys.
func (k *Keyring) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys)
}
