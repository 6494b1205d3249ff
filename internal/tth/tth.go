// Package tth implements the base32 encoding of Tiger Tree Hash
// digests and structural verification of hash-tree blobs. Computing a
// Tiger digest from raw bytes is out of scope here — that is the job
// of an external hasher.
package tth

import (
	"encoding/base32"
	"errors"
	"io"
)

// Size is the length in bytes of a TTH digest.
const Size = 24

// LeafSpan is the number of bytes of file data each tree leaf covers.
const LeafSpan = 1024

// EncodedLen is the length of the base32 rendering of a digest.
const EncodedLen = 39

var encoding = base32.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZ234567").WithPadding(base32.NoPadding)

// ErrInvalidLength is returned by Decode when the input isn't exactly
// EncodedLen characters.
var ErrInvalidLength = errors.New("tth: invalid length")

// ErrInvalidChar is returned by Decode when a character outside A-Z2-7
// is present in the input.
var ErrInvalidChar = errors.New("tth: invalid character")

// Encode renders a 24-byte digest as a 39-character uppercase base32
// string with no padding — the only hash-string form accepted on the
// wire.
func Encode(digest [Size]byte) string {
	return encoding.EncodeToString(digest[:])
}

// Decode parses a 39-character base32 string into a 24-byte digest,
// rejecting any character outside A-Z2-7.
func Decode(s string) ([Size]byte, error) {
	var out [Size]byte
	if len(s) != EncodedLen {
		return out, ErrInvalidLength
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= '2' && c <= '7':
		default:
			return out, ErrInvalidChar
		}
	}
	buf := make([]byte, encoding.DecodedLen(len(s)))
	if _, err := encoding.Decode(buf, []byte(s)); err != nil {
		return out, ErrInvalidChar
	}
	if len(buf) < Size {
		return out, ErrInvalidLength
	}
	copy(out[:], buf[:Size])
	return out, nil
}

// LooksLikeTTH reports whether s decodes as a digest — useful for
// protocol dispatch (e.g. distinguishing a TTH/ identifier from a
// virtual path). It runs the full Decode validation.
func LooksLikeTTH(s string) bool {
	_, err := Decode(s)
	return err == nil
}

// Node is one node of a Tiger hash tree: either a leaf (hash of up to
// 1KiB of file data) or an interior node (hash of the concatenation of
// its two children's hashes).
type Node struct {
	Hash     [Size]byte
	Children [2]int // indices into the owning Tree.Nodes, or -1 for leaves
}

// Tree is a decoded "tthl" blob: a flat array of leaf digests, 24 bytes
// each, in left-to-right order, as served by ADCGET tthl.
type Tree struct {
	Leaves [][Size]byte
}

// ErrMalformedTree is returned by ParseLeaves when the blob length
// isn't a multiple of Size.
var ErrMalformedTree = errors.New("tth: malformed hash-tree blob")

// ParseLeaves decodes a raw tthl blob into its flat leaf array. Only
// structural validation is performed: no cryptographic verification,
// since that would require a real Tiger implementation.
func ParseLeaves(blob []byte) (Tree, error) {
	if len(blob)%Size != 0 {
		return Tree{}, ErrMalformedTree
	}
	n := len(blob) / Size
	leaves := make([][Size]byte, n)
	for i := 0; i < n; i++ {
		copy(leaves[i][:], blob[i*Size:(i+1)*Size])
	}
	return Tree{Leaves: leaves}, nil
}

// VerifyTree checks that a parsed hash tree is structurally consistent
// with a file of the given size: the number of 1KiB leaves implied by
// size must match the number of leaves in the blob (the last leaf may
// cover a short final chunk).
func VerifyTree(t Tree, fileSize uint64) error {
	want := fileSize / LeafSpan
	if fileSize%LeafSpan != 0 || fileSize == 0 {
		want++
	}
	if uint64(len(t.Leaves)) != want {
		return errors.New("tth: leaf count does not match file size")
	}
	return nil
}

// HashLeaf computes the Tiger-192 digest of a single up-to-LeafSpan
// chunk of file data. A real Tiger-192 implementation is outside this
// package's scope — the hasher is an external collaborator — so callers
// that need Leaves to produce real digests must set this themselves
// before calling it.
var HashLeaf func(chunk []byte) [Size]byte

// ErrNoHasher is returned by Leaves when HashLeaf has not been wired to
// an actual Tiger-192 implementation.
var ErrNoHasher = errors.New("tth: no Tiger-192 hasher configured")

// Leaves chunks data into LeafSpan-byte pieces and returns each piece's
// leaf hash, computed via HashLeaf. The final chunk may be shorter than
// LeafSpan.
func Leaves(data io.Reader) ([][Size]byte, error) {
	if HashLeaf == nil {
		return nil, ErrNoHasher
	}
	var out [][Size]byte
	buf := make([]byte, LeafSpan)
	for {
		n, err := io.ReadFull(data, buf)
		if n > 0 {
			out = append(out, HashLeaf(buf[:n]))
		}
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
