// Package store defines the persistent collaborator interface from
// spec.md §6 and a default JSON-file-backed implementation, grounded
// on the teacher's write-temp-then-rename settings store but
// repurposed from "app settings" to "hash/download records". A real
// SQLite-backed implementation is out of scope (spec.md §1 non-goal).
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/amrav/ncdc/internal/tth"
)

// HashRecord is one row of the hash cache: a locally shared file's
// path, size, modification time, and TTH digest.
type HashRecord struct {
	ID           int64
	Path         string
	Size         uint64
	LastModified int64
	TTH          [tth.Size]byte
	TTHL         []byte // stored hash-tree blob, may be nil
}

// DownloadRecord is one entry of the download queue's persisted rows —
// download scheduling itself is out of scope, but the DL table's
// storage shape is part of the §6 interface surface.
type DownloadRecord struct {
	TTH   [tth.Size]byte
	Users []string
}

// Store is the persistent-state collaborator spec.md §6 names. All
// writes go through a queued path (here: synchronous, since there is
// no background writer in this in-process default); a real
// implementation may defer writes, but must guarantee that after a
// clean Close every queued write has been persisted.
type Store interface {
	HashInsert(rec HashRecord) (id int64, err error)
	HashTTHL(root [tth.Size]byte) ([]byte, bool)
	HashLookup(path string) (HashRecord, bool)
	HashRmMany(ids []int64) error
	HashIDs() []int64
	HashPurgeUnreferenced() error

	DLList(cb func(DownloadRecord))
	DLUsers(tthRoot [tth.Size]byte, cb func(user string))
	DLRm(tthRoot [tth.Size]byte) error

	Vacuum() error
	Close() error
}

type onDiskState struct {
	NextID    int64                    `json:"next_id"`
	Hashes    map[int64]jsonHashRecord `json:"hashes"`
	Downloads []jsonDownloadRecord     `json:"downloads"`
}

type jsonHashRecord struct {
	Path         string `json:"path"`
	Size         uint64 `json:"size"`
	LastModified int64  `json:"last_modified"`
	TTH          string `json:"tth"`
	TTHL         []byte `json:"tthl,omitempty"`
}

type jsonDownloadRecord struct {
	TTH   string   `json:"tth"`
	Users []string `json:"users"`
}

// JSONStore is the default Store implementation: a mutex-guarded
// in-memory map, persisted wholesale to a single JSON file with
// write-temp-then-rename on every mutating call.
type JSONStore struct {
	mu    sync.Mutex
	path  string
	state onDiskState
}

// Open loads (or creates) a JSONStore backed by path.
func Open(path string) (*JSONStore, error) {
	s := &JSONStore{path: path, state: onDiskState{NextID: 1, Hashes: map[int64]jsonHashRecord{}}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		return nil, err
	}
	if s.state.Hashes == nil {
		s.state.Hashes = map[int64]jsonHashRecord{}
	}
	if s.state.NextID == 0 {
		s.state.NextID = 1
	}
	return s, nil
}

func (s *JSONStore) persistLocked() error {
	dir := filepath.Dir(s.path)
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(dir, "ncdc-store-*.json")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.state); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, s.path)
}

// HashInsert implements Store.
func (s *JSONStore) HashInsert(rec HashRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.state.NextID
	s.state.NextID++
	s.state.Hashes[id] = jsonHashRecord{
		Path:         rec.Path,
		Size:         rec.Size,
		LastModified: rec.LastModified,
		TTH:          tth.Encode(rec.TTH),
		TTHL:         rec.TTHL,
	}
	if err := s.persistLocked(); err != nil {
		return 0, err
	}
	return id, nil
}

// HashTTHL implements Store.
func (s *JSONStore) HashTTHL(root [tth.Size]byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := tth.Encode(root)
	for _, rec := range s.state.Hashes {
		if rec.TTH == want && rec.TTHL != nil {
			return rec.TTHL, true
		}
	}
	return nil, false
}

// HashLookup implements Store.
func (s *JSONStore) HashLookup(path string) (HashRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.state.Hashes {
		if rec.Path == path {
			digest, err := tth.Decode(rec.TTH)
			if err != nil {
				continue
			}
			return HashRecord{ID: id, Path: rec.Path, Size: rec.Size, LastModified: rec.LastModified, TTH: digest, TTHL: rec.TTHL}, true
		}
	}
	return HashRecord{}, false
}

// HashRmMany implements Store.
func (s *JSONStore) HashRmMany(ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.state.Hashes, id)
	}
	return s.persistLocked()
}

// HashIDs implements Store.
func (s *JSONStore) HashIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, 0, len(s.state.Hashes))
	for id := range s.state.Hashes {
		out = append(out, id)
	}
	return out
}

// HashPurgeUnreferenced removes hash rows whose backing file no longer
// exists on disk.
func (s *JSONStore) HashPurgeUnreferenced() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, rec := range s.state.Hashes {
		if _, err := os.Stat(rec.Path); err != nil {
			delete(s.state.Hashes, id)
		}
	}
	return s.persistLocked()
}

// DLList implements Store.
func (s *JSONStore) DLList(cb func(DownloadRecord)) {
	s.mu.Lock()
	rows := append([]jsonDownloadRecord(nil), s.state.Downloads...)
	s.mu.Unlock()
	for _, r := range rows {
		digest, err := tth.Decode(r.TTH)
		if err != nil {
			continue
		}
		cb(DownloadRecord{TTH: digest, Users: r.Users})
	}
}

// DLUsers implements Store.
func (s *JSONStore) DLUsers(tthRoot [tth.Size]byte, cb func(user string)) {
	want := tth.Encode(tthRoot)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.state.Downloads {
		if r.TTH != want {
			continue
		}
		for _, u := range r.Users {
			cb(u)
		}
	}
}

// DLRm implements Store.
func (s *JSONStore) DLRm(tthRoot [tth.Size]byte) error {
	want := tth.Encode(tthRoot)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.state.Downloads[:0]
	for _, r := range s.state.Downloads {
		if r.TTH != want {
			out = append(out, r)
		}
	}
	s.state.Downloads = out
	return s.persistLocked()
}

// Vacuum implements Store. The JSON backing has no fragmentation to
// reclaim; this rewrites the file to drop any stale formatting.
func (s *JSONStore) Vacuum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

// Close implements Store. All writes above are synchronous, so there
// is nothing queued to flush.
func (s *JSONStore) Close() error { return nil }
