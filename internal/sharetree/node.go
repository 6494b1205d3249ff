// Package sharetree implements the in-memory shared file tree: an
// ordered tree indexed both by virtual path and by TTH, with size and
// has_tth rollups kept consistent on every mutation.
package sharetree

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/amrav/ncdc/internal/tth"
)

// Node is one entry in the shared tree — either a file or a directory,
// distinguished by the IsFile field.
type Node struct {
	Name   string
	Parent *Node // nil for the root

	IsFile bool

	// File fields.
	Size         uint64
	TTH          [tth.Size]byte
	HasTTH       bool
	LastModified int64
	// RealPath is the on-disk location backing this file, populated by
	// the out-of-scope hasher/share-scanner when a real directory is
	// grafted into the tree. Nodes loaded from a peer's XML file list
	// (spec.md §4.3) have no RealPath — they describe remote content,
	// not anything servable locally.
	RealPath string

	// Directory fields.
	Children    []*Node // sorted by Name, byte-wise
	HasTTHCount int     // count of children that are dirs or has_tth files
	Incomplete  bool
}

var (
	// ErrDuplicateName is returned when two siblings would share a name.
	ErrDuplicateName = errors.New("sharetree: duplicate sibling name")
	// ErrNotDirectory is returned when an operation requiring a
	// directory target is given a file node.
	ErrNotDirectory = errors.New("sharetree: not a directory")
	// ErrNotFound is returned by lookups that find nothing.
	ErrNotFound = errors.New("sharetree: not found")
	// ErrDotDot rejects ".." path components, which are not supported.
	ErrDotDot = errors.New("sharetree: .. is not supported")
)

// countsTowardHasTTH reports whether n should count toward its
// parent's HasTTHCount: every subdirectory counts, and a file counts
// only once it has a known TTH.
func countsTowardHasTTH(n *Node) bool {
	if !n.IsFile {
		return true
	}
	return n.HasTTH
}

// NewDir creates a detached directory node (not yet attached to a
// parent — use Tree.Insert to attach it).
func NewDir(name string, incomplete bool) *Node {
	return &Node{Name: name, IsFile: false, Incomplete: incomplete}
}

// NewFile creates a detached file node.
func NewFile(name string, size uint64, digest [tth.Size]byte, hasTTH bool, lastModified int64) *Node {
	return &Node{Name: name, IsFile: true, Size: size, TTH: digest, HasTTH: hasTTH, LastModified: lastModified}
}

// childIndex returns the insertion point / match index for name among
// dir's sorted children via binary search.
func childIndex(dir *Node, name string) (int, bool) {
	i := sort.Search(len(dir.Children), func(i int) bool {
		return dir.Children[i].Name >= name
	})
	if i < len(dir.Children) && dir.Children[i].Name == name {
		return i, true
	}
	return i, false
}

// ChildByName looks up a direct child by exact, case-sensitive name.
func ChildByName(dir *Node, name string) (*Node, bool) {
	if dir == nil || dir.IsFile {
		return nil, false
	}
	i, ok := childIndex(dir, name)
	if !ok {
		return nil, false
	}
	return dir.Children[i], true
}

// attach inserts child into dir's sorted children slice, rejecting a
// name collision with an existing sibling.
func attach(dir *Node, child *Node) error {
	i, exists := childIndex(dir, child.Name)
	if exists {
		return ErrDuplicateName
	}
	dir.Children = append(dir.Children, nil)
	copy(dir.Children[i+1:], dir.Children[i:])
	dir.Children[i] = child
	child.Parent = dir
	return nil
}

// detach removes child from its parent's children slice. It does not
// rebalance — callers rebalance after detaching.
func detach(child *Node) {
	dir := child.Parent
	if dir == nil {
		return
	}
	i, ok := childIndex(dir, child.Name)
	if !ok {
		return
	}
	dir.Children = append(dir.Children[:i], dir.Children[i+1:]...)
	child.Parent = nil
}

// rebalanceUp re-derives size and has_tth for every ancestor of n,
// walking to the root.
func rebalanceUp(n *Node) {
	for dir := n; dir != nil; dir = dir.Parent {
		if dir.IsFile {
			continue
		}
		var size uint64
		var hasTTH int
		for _, c := range dir.Children {
			size += c.Size
			if countsTowardHasTTH(c) {
				hasTTH++
			}
		}
		dir.Size = size
		dir.HasTTHCount = hasTTH
	}
}

// Tree owns a root directory plus the secondary TTH -> nodes index.
// All mutation goes through Tree so the index stays consistent with
// the node graph.
type Tree struct {
	mu    sync.RWMutex
	Root  *Node
	index map[[tth.Size]byte]map[*Node]struct{}
}

// New creates an empty tree with the given root directory name (often
// "" for the share root).
func New(rootName string) *Tree {
	return &Tree{
		Root:  NewDir(rootName, false),
		index: make(map[[tth.Size]byte]map[*Node]struct{}),
	}
}

func (t *Tree) indexAdd(n *Node) {
	if !n.IsFile || !n.HasTTH {
		return
	}
	set := t.index[n.TTH]
	if set == nil {
		set = make(map[*Node]struct{})
		t.index[n.TTH] = set
	}
	set[n] = struct{}{}
}

func (t *Tree) indexRemove(n *Node) {
	if !n.IsFile || !n.HasTTH {
		return
	}
	set := t.index[n.TTH]
	if set == nil {
		return
	}
	delete(set, n)
	if len(set) == 0 {
		delete(t.index, n.TTH)
	}
}

// indexWalk walks a subtree (e.g. one being attached by Insert or
// detached by Remove) and calls fn on every file node in it.
func (t *Tree) indexWalk(n *Node, fn func(*Node)) {
	if n.IsFile {
		fn(n)
		return
	}
	for _, c := range n.Children {
		t.indexWalk(c, fn)
	}
}

// Insert attaches child (a detached Node from NewFile/NewDir, or an
// entire detached subtree) under dir, updates size/has_tth rollups to
// the root, and adds any has_tth descendants to the TTH index.
func (t *Tree) Insert(dir *Node, child *Node) error {
	if dir.IsFile {
		return ErrNotDirectory
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := attach(dir, child); err != nil {
		return err
	}
	t.indexWalk(child, t.indexAdd)
	rebalanceUp(dir)
	return nil
}

// Remove detaches n from its parent, updates rollups, and removes any
// has_tth descendants from the TTH index.
func (t *Tree) Remove(n *Node) error {
	if n.Parent == nil {
		return errors.New("sharetree: cannot remove the root")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	parent := n.Parent
	detach(n)
	t.indexWalk(n, t.indexRemove)
	rebalanceUp(parent)
	return nil
}

// SetFileTTH updates a file node's digest/has_tth flag in place and
// keeps the index and size/has_tth rollups consistent. Used when the
// out-of-band hasher posts a digest for a file that was shared before
// hashing completed.
func (t *Tree) SetFileTTH(n *Node, digest [tth.Size]byte, has bool) error {
	if !n.IsFile {
		return ErrNotDirectory
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.indexRemove(n)
	n.TTH = digest
	n.HasTTH = has
	t.indexAdd(n)
	if n.Parent != nil {
		rebalanceUp(n.Parent)
	}
	return nil
}

// TotalSize returns the root directory's current size rollup.
func (t *Tree) TotalSize() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Root.Size
}

// ByTTH returns every node sharing the given digest (several paths may
// reference the same content).
func (t *Tree) ByTTH(digest [tth.Size]byte) []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.index[digest]
	out := make([]*Node, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return Path(out[i]) < Path(out[j]) })
	return out
}

// IsAncestor reports whether anc is an ancestor of n (or equal to n).
func IsAncestor(anc, n *Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur == anc {
			return true
		}
	}
	return false
}

// Path renders n's virtual path, '/'-separated, rooted at the tree
// root (whose own name is never included).
func Path(n *Node) string {
	if n == nil || n.Parent == nil {
		return "/"
	}
	var parts []string
	for cur := n; cur.Parent != nil; cur = cur.Parent {
		parts = append(parts, cur.Name)
	}
	// parts is leaf-to-root; reverse it.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return "/" + strings.Join(parts, "/")
}

// Resolve walks a '/'-separated path from root, case-sensitively.
// "/x" and "x" are equivalent; ".." components are rejected.
func Resolve(root *Node, path string) (*Node, error) {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return root, nil
	}
	parts := strings.Split(path, "/")
	for _, part := range parts {
		if part == ".." {
			return nil, ErrDotDot
		}
	}
	cur := root
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		if cur.IsFile {
			return nil, ErrNotFound
		}
		child, ok := ChildByName(cur, part)
		if !ok {
			return nil, ErrNotFound
		}
		cur = child
	}
	return cur, nil
}

// Clone returns a deep, detached copy of n (and, if n is a directory,
// all of its descendants). The copy shares no pointers with the
// original and has Parent == nil at its root.
func Clone(n *Node) *Node {
	if n == nil {
		return nil
	}
	out := &Node{
		Name:         n.Name,
		IsFile:       n.IsFile,
		Size:         n.Size,
		TTH:          n.TTH,
		HasTTH:       n.HasTTH,
		LastModified: n.LastModified,
		RealPath:     n.RealPath,
		HasTTHCount:  n.HasTTHCount,
		Incomplete:   n.Incomplete,
	}
	if n.IsFile {
		return out
	}
	out.Children = make([]*Node, len(n.Children))
	for i, c := range n.Children {
		clone := Clone(c)
		clone.Parent = out
		out.Children[i] = clone
	}
	return out
}
