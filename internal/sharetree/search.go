package sharetree

import "strings"

// SizeRestrict narrows a Query by file/dir size.
type SizeRestrict int

const (
	SizeAny SizeRestrict = iota
	SizeAtLeast
	SizeAtMost
)

// Mask restricts results to files, directories, or both.
type Mask int

const (
	MaskBoth Mask = iota
	MaskFileOnly
	MaskDirOnly
)

// RemoteResultLimit and BroadcastResultLimit are the two result caps:
// 10 for a search that arrived from a remote peer, 5 for the hub's own
// broadcast channel.
const (
	RemoteResultLimit    = 10
	BroadcastResultLimit = 5
)

// Query is one parsed search request.
type Query struct {
	SizeRestrict SizeRestrict
	SizeBytes    uint64
	Mask         Mask
	Extensions   []string // lowercased, no leading dot; empty = any extension
	Include      []string // substrings that must all be found somewhere along a matching path
	Limit        int
}

func (q Query) sizeMatches(size uint64) bool {
	switch q.SizeRestrict {
	case SizeAtLeast:
		return size >= q.SizeBytes
	case SizeAtMost:
		return size <= q.SizeBytes
	default:
		return true
	}
}

func (q Query) extensionMatches(name string) bool {
	if len(q.Extensions) == 0 {
		return true
	}
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return false
	}
	ext := strings.ToLower(name[dot+1:])
	for _, want := range q.Extensions {
		if ext == want {
			return true
		}
	}
	return false
}

// pruneMatched removes, at most once each, every needle that name
// contains (case-insensitive), and returns the needles left over: a
// directory whose own name satisfies a term relieves its descendants
// from matching that term again.
func pruneMatched(needles []string, name string) []string {
	if len(needles) == 0 {
		return needles
	}
	lower := strings.ToLower(name)
	out := make([]string, 0, len(needles))
	for _, n := range needles {
		if strings.Contains(lower, strings.ToLower(n)) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// allMatch reports whether every needle is found in name
// (case-insensitive) — the check applied at a leaf file once ancestor
// directories have pruned what they could.
func allMatch(needles []string, name string) bool {
	if len(needles) == 0 {
		return true
	}
	lower := strings.ToLower(name)
	for _, n := range needles {
		if !strings.Contains(lower, strings.ToLower(n)) {
			return false
		}
	}
	return true
}

// Search performs a depth-first, result-capped search starting at
// root.
func Search(root *Node, q Query) []*Node {
	var results []*Node
	limit := q.Limit
	if limit <= 0 {
		limit = RemoteResultLimit
	}
	var walk func(dir *Node, needles []string)
	walk = func(dir *Node, needles []string) {
		for _, c := range dir.Children {
			if len(results) >= limit {
				return
			}
			if c.IsFile {
				if matchesFile(c, q, needles) {
					results = append(results, c)
				}
				continue
			}
			remaining := pruneMatched(needles, c.Name)
			if q.Mask != MaskFileOnly && len(remaining) == 0 && q.sizeMatches(c.Size) {
				results = append(results, c)
				if len(results) >= limit {
					return
				}
			}
			walk(c, remaining)
			if len(results) >= limit {
				return
			}
		}
	}
	walk(root, q.Include)
	return results
}

func matchesFile(n *Node, q Query, needles []string) bool {
	if q.Mask == MaskDirOnly {
		return false
	}
	if !n.HasTTH {
		return false
	}
	if !q.sizeMatches(n.Size) {
		return false
	}
	if !q.extensionMatches(n.Name) {
		return false
	}
	return allMatch(needles, n.Name)
}
