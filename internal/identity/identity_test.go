package identity

import (
	"path/filepath"
	"testing"
)

func TestLoadOrCreateGeneratesDistinctCIDAndPID(t *testing.T) {
	id, err := LoadOrCreate(filepath.Join(t.TempDir(), "identity.json"))
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if id.CID == id.PID {
		t.Fatalf("CID and PID collided: %x", id.CID)
	}
	if id.CIDString() == "" || id.PIDString() == "" {
		t.Fatalf("CIDString/PIDString empty")
	}
}

func TestLoadOrCreatePersistsAcrossCalls(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.json")
	first, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate (create): %v", err)
	}
	second, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate (load): %v", err)
	}
	if first.CID != second.CID || first.PID != second.PID {
		t.Fatalf("identity changed across reload: %+v vs %+v", first, second)
	}
}

func TestLoadOrCreateWithDifferentPathsProducesDifferentIdentities(t *testing.T) {
	dir := t.TempDir()
	a, err := LoadOrCreate(filepath.Join(dir, "a.json"))
	if err != nil {
		t.Fatalf("LoadOrCreate a: %v", err)
	}
	b, err := LoadOrCreate(filepath.Join(dir, "b.json"))
	if err != nil {
		t.Fatalf("LoadOrCreate b: %v", err)
	}
	if a.CID == b.CID {
		t.Fatalf("two freshly generated identities share a CID")
	}
}
