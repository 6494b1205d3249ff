package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/amrav/ncdc/internal/tth"
)

func digestOf(b byte) [tth.Size]byte {
	var d [tth.Size]byte
	for i := range d {
		d[i] = b
	}
	return d
}

func TestOpenMissingFileStartsEmpty(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ids := st.HashIDs(); len(ids) != 0 {
		t.Fatalf("HashIDs() = %v, want empty", ids)
	}
}

func TestHashInsertAndLookup(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec := HashRecord{Path: "/shared/a.bin", Size: 1024, LastModified: 100, TTH: digestOf(7)}
	id, err := st.HashInsert(rec)
	if err != nil {
		t.Fatalf("HashInsert: %v", err)
	}
	if id != 1 {
		t.Fatalf("first inserted id = %d, want 1", id)
	}
	got, ok := st.HashLookup("/shared/a.bin")
	if !ok {
		t.Fatalf("HashLookup: not found")
	}
	if got.Size != rec.Size || got.TTH != rec.TTH {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
}

func TestHashInsertAssignsIncrementingIDs(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id1, _ := st.HashInsert(HashRecord{Path: "/a", TTH: digestOf(1)})
	id2, _ := st.HashInsert(HashRecord{Path: "/b", TTH: digestOf(2)})
	if id2 != id1+1 {
		t.Fatalf("ids = %d, %d, want consecutive", id1, id2)
	}
}

func TestHashTTHLRoundTrip(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	digest := digestOf(3)
	blob := []byte{1, 2, 3, 4, 5}
	if _, err := st.HashInsert(HashRecord{Path: "/x", TTH: digest, TTHL: blob}); err != nil {
		t.Fatalf("HashInsert: %v", err)
	}
	got, ok := st.HashTTHL(digest)
	if !ok {
		t.Fatalf("HashTTHL: not found")
	}
	if string(got) != string(blob) {
		t.Fatalf("got %v, want %v", got, blob)
	}
}

func TestHashTTHLMissingRoot(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := st.HashTTHL(digestOf(9)); ok {
		t.Fatalf("HashTTHL found a root that was never inserted")
	}
}

func TestHashRmManyRemovesRows(t *testing.T) {
	st, err := Open(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	id1, _ := st.HashInsert(HashRecord{Path: "/a", TTH: digestOf(1)})
	id2, _ := st.HashInsert(HashRecord{Path: "/b", TTH: digestOf(2)})
	if err := st.HashRmMany([]int64{id1}); err != nil {
		t.Fatalf("HashRmMany: %v", err)
	}
	ids := st.HashIDs()
	if len(ids) != 1 || ids[0] != id2 {
		t.Fatalf("remaining ids = %v, want [%d]", ids, id2)
	}
}

func TestPersistenceSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := st.HashInsert(HashRecord{Path: "/persisted", Size: 7, TTH: digestOf(4)}); err != nil {
		t.Fatalf("HashInsert: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	got, ok := reopened.HashLookup("/persisted")
	if !ok {
		t.Fatalf("HashLookup after reopen: not found")
	}
	if got.Size != 7 {
		t.Fatalf("got size %d, want 7", got.Size)
	}
}

func TestHashPurgeUnreferencedDropsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	keep := filepath.Join(dir, "keep.bin")
	if err := os.WriteFile(keep, []byte("x"), 0o644); err != nil {
		t.Fatalf("write keep file: %v", err)
	}

	st, err := Open(filepath.Join(dir, "store.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	keepID, _ := st.HashInsert(HashRecord{Path: keep, TTH: digestOf(1)})
	goneID, _ := st.HashInsert(HashRecord{Path: filepath.Join(dir, "gone.bin"), TTH: digestOf(2)})

	if err := st.HashPurgeUnreferenced(); err != nil {
		t.Fatalf("HashPurgeUnreferenced: %v", err)
	}
	ids := st.HashIDs()
	if len(ids) != 1 || ids[0] != keepID {
		t.Fatalf("remaining ids = %v, want [%d] (gone id was %d)", ids, keepID, goneID)
	}
}
