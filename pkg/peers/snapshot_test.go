package peers

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "peers.cbor")

	r := NewRegistry(RegistryOptions{})
	defer r.Close()
	p1 := New("10.0.0.1", 7735, SourceLocalSecure)
	p1.NodeID = "pk:ed25519:abc"
	p1.PublicKey = []byte{1, 2, 3, 4}
	p2 := New("10.0.0.2", 7736, SourceOverlay)
	r.Upsert(p1)
	r.Upsert(p2)

	if err := r.SaveSnapshot(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	r2 := NewRegistry(RegistryOptions{})
	defer r2.Close()
	if err := r2.LoadSnapshot(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	got := r2.List()
	if len(got) != 2 {
		t.Fatalf("len=%d after load, want 2", len(got))
	}
	if got[0].Addr() != "10.0.0.1:7735" || got[1].Addr() != "10.0.0.2:7736" {
		t.Fatalf("order not preserved: %+v", got)
	}
	if got[0].NodeID != "pk:ed25519:abc" || string(got[0].PublicKey) != string(p1.PublicKey) {
		t.Fatalf("metadata lost: %+v", got[0])
	}
}

func TestLoadSnapshotRederivesIDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "peers.cbor")

	r := NewRegistry(RegistryOptions{})
	defer r.Close()
	p := New("10.0.0.1", 7735, SourceLocal)
	p.ID = "addr:forged0000000000000000"
	r.Upsert(p)
	if err := r.SaveSnapshot(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	r2 := NewRegistry(RegistryOptions{})
	defer r2.Close()
	if err := r2.LoadSnapshot(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := r2.GetAddr("10.0.0.1:7735")
	if !ok {
		t.Fatalf("peer missing after load")
	}
	if got.ID != DeriveID("10.0.0.1", 7735) {
		t.Fatalf("persisted id was trusted: %q", got.ID)
	}
}

func TestLoadSnapshotMissingFileIsNotAnError(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	defer r.Close()
	if err := r.LoadSnapshot(filepath.Join(t.TempDir(), "absent.cbor")); err != nil {
		t.Fatalf("missing snapshot must load empty: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("len=%d, want 0", r.Len())
	}
}

func TestLoadSnapshotRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.cbor")
	if err := os.WriteFile(path, []byte("not cbor at all"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	r := NewRegistry(RegistryOptions{})
	defer r.Close()
	if err := r.LoadSnapshot(path); err == nil {
		t.Fatalf("corrupt snapshot must be rejected")
	}
}

func TestSnapshotOverwriteIsAtomicEnough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.cbor")
	r := NewRegistry(RegistryOptions{})
	defer r.Close()
	r.Upsert(New("10.0.0.1", 7735, SourceLocal))
	if err := r.SaveSnapshot(path); err != nil {
		t.Fatalf("first save: %v", err)
	}
	p := New("10.0.0.2", 7735, SourceLocal)
	p.LastSeen = time.Now()
	r.Upsert(p)
	if err := r.SaveSnapshot(path); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind")
	}
}
