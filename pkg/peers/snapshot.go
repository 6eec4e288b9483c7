package peers

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// snapshot is the on-disk registry form. CBOR keeps the file compact and the
// integer keys on Peer make it stable across field renames.
type snapshot struct {
	Version int    `cbor:"1,keyasint"`
	Peers   []Peer `cbor:"2,keyasint"`
}

const snapshotVersion = 1

// SaveSnapshot writes the current registry contents to path, creating parent
// directories as needed. The write is atomic (temp file + rename).
func (r *Registry) SaveSnapshot(path string) error {
	snap := snapshot{Version: snapshotVersion, Peers: r.List()}
	b, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode peer snapshot: %w", err)
	}
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write peer snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit peer snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot merges a saved snapshot into the registry. A missing file is
// not an error; the staleness window still applies to loaded entries.
func (r *Registry) LoadSnapshot(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read peer snapshot: %w", err)
	}
	var snap snapshot
	if err := cbor.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("decode peer snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return fmt.Errorf("peer snapshot version %d not supported", snap.Version)
	}
	for _, p := range snap.Peers {
		// Re-derive the id; never trust persisted identity bindings.
		p.ID = DeriveID(p.Host, p.Port)
		r.Upsert(p)
	}
	return nil
}
