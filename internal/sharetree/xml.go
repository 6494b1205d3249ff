package sharetree

import (
	"bytes"
	"compress/bzip2"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	dsbzip2 "github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"

	"github.com/amrav/ncdc/internal/tth"
)

// Compression selects how Save writes the XML file-list to disk.
type Compression int

const (
	CompressNone Compression = iota
	CompressGzip
	CompressBzip2
)

// ErrMalformedList is returned by Load for any structural problem: a
// bad size, a malformed TTH, a missing name, stray text, or a <File>
// that isn't self-closing.
var ErrMalformedList = errors.New("sharetree: malformed file listing")

// xmlFileListing, xmlDir, xmlFile mirror the on-disk file-list shape
// for encoding (decoding is hand-rolled below for stricter validation
// than encoding/xml's Unmarshal would give us).
type xmlFileListing struct {
	XMLName   xml.Name  `xml:"FileListing"`
	Version   string    `xml:"Version,attr"`
	Generator string    `xml:"Generator,attr,omitempty"`
	CID       string    `xml:"CID,attr"`
	Base      string    `xml:"Base,attr"`
	Dirs      []xmlDir  `xml:"Directory"`
	Files     []xmlFile `xml:"File"`
}

type xmlDir struct {
	Name       string    `xml:"Name,attr"`
	Incomplete string    `xml:"Incomplete,attr,omitempty"`
	Dirs       []xmlDir  `xml:"Directory"`
	Files      []xmlFile `xml:"File"`
}

type xmlFile struct {
	Name string `xml:"Name,attr"`
	Size uint64 `xml:"Size,attr"`
	TTH  string `xml:"TTH,attr"`
}

func nodeToXMLDir(n *Node) xmlDir {
	out := xmlDir{Name: n.Name}
	if n.Incomplete {
		out.Incomplete = "1"
	}
	for _, c := range n.Children {
		if c.IsFile {
			out.Files = append(out.Files, xmlFile{Name: c.Name, Size: c.Size, TTH: tth.Encode(c.TTH)})
		} else {
			out.Dirs = append(out.Dirs, nodeToXMLDir(c))
		}
	}
	return out
}

// Save renders root (a directory node, typically a Tree's Root) as the
// XML file-list and writes it atomically: write to a temp file in the
// same directory, fsync, then rename over path.
func Save(path string, root *Node, cid string, base string, compress Compression) error {
	listing := xmlFileListing{
		Version:   "1",
		Generator: "ncdc",
		CID:       cid,
		Base:      base,
	}
	for _, c := range root.Children {
		if c.IsFile {
			listing.Files = append(listing.Files, xmlFile{Name: c.Name, Size: c.Size, TTH: tth.Encode(c.TTH)})
		} else {
			listing.Dirs = append(listing.Dirs, nodeToXMLDir(c))
		}
	}

	var body bytes.Buffer
	body.WriteString(xml.Header)
	enc := xml.NewEncoder(&body)
	enc.Indent("", "  ")
	if err := enc.Encode(listing); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "filelist-*.xml")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	var w io.Writer = tmp
	var closer io.Closer
	switch compress {
	case CompressGzip:
		gw := gzip.NewWriter(tmp)
		w = gw
		closer = gw
	case CompressBzip2:
		bw, err := dsbzip2.NewWriter(tmp, nil)
		if err != nil {
			cleanup()
			return err
		}
		w = bw
		closer = bw
	}

	if _, err := w.Write(body.Bytes()); err != nil {
		cleanup()
		return err
	}
	if closer != nil {
		if err := closer.Close(); err != nil {
			cleanup()
			return err
		}
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Load reads path (auto-detecting gzip/bzip2 by the file's magic
// bytes, falling back to plain XML) and returns the detached tree of
// directory/file nodes nested under <FileListing>, plus its declared
// Base attribute.
func Load(path string) (*Node, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}
	r, err := decompressingReader(raw)
	if err != nil {
		return nil, "", err
	}
	return parseListing(r)
}

// GraftLoaded attaches the children of loaded (the detached tree
// returned by Load) into dst at base, the virtual path Load returned
// alongside it. Missing intermediate directories are created as
// needed. A peer's file list fetched under a subdirectory (its
// <FileListing Base="/music"> attribute) grafts there instead of
// always landing at dst's root.
func GraftLoaded(dst *Tree, loaded *Node, base string) error {
	parent := dst.Root
	base = strings.Trim(base, "/")
	if base != "" {
		for _, seg := range strings.Split(base, "/") {
			child, ok := ChildByName(parent, seg)
			if !ok {
				child = NewDir(seg, false)
				if err := dst.Insert(parent, child); err != nil {
					return err
				}
			} else if child.IsFile {
				return ErrNotDirectory
			}
			parent = child
		}
	}
	children := append([]*Node(nil), loaded.Children...)
	for _, child := range children {
		detach(child)
		if err := dst.Insert(parent, child); err != nil {
			return err
		}
	}
	return nil
}

func decompressingReader(raw []byte) (io.Reader, error) {
	switch {
	case len(raw) >= 2 && raw[0] == 0x1f && raw[1] == 0x8b:
		gr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, err
		}
		return gr, nil
	case len(raw) >= 3 && raw[0] == 'B' && raw[1] == 'Z' && raw[2] == 'h':
		return bzip2.NewReader(bytes.NewReader(raw)), nil
	default:
		return bytes.NewReader(raw), nil
	}
}

func parseListing(r io.Reader) (*Node, string, error) {
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrMalformedList, err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if start.Name.Local != "FileListing" {
			return nil, "", ErrMalformedList
		}
		base := attrValue(start, "Base")
		root := NewDir("", false)
		if err := decodeChildren(dec, "FileListing", root); err != nil {
			return nil, "", err
		}
		return root, base, nil
	}
}

func attrValue(start xml.StartElement, name string) string {
	for _, a := range start.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// decodeChildren consumes tokens until the matching close tag for
// elemName, populating dir's children. Non-whitespace character data
// anywhere in this scope aborts the load as stray text.
func decodeChildren(dec *xml.Decoder, elemName string, dir *Node) error {
	for {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedList, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "Directory":
				child, err := decodeDirectory(dec, t)
				if err != nil {
					return err
				}
				if err := attach(dir, child); err != nil {
					return fmt.Errorf("%w: %v", ErrMalformedList, err)
				}
			case "File":
				child, err := decodeFile(dec, t)
				if err != nil {
					return err
				}
				if err := attach(dir, child); err != nil {
					return fmt.Errorf("%w: %v", ErrMalformedList, err)
				}
			default:
				return ErrMalformedList
			}
		case xml.EndElement:
			if t.Name.Local != elemName {
				return ErrMalformedList
			}
			rebalanceUp(dir)
			return nil
		case xml.CharData:
			if len(bytes.TrimSpace(t)) != 0 {
				return fmt.Errorf("%w: stray text", ErrMalformedList)
			}
		}
	}
}

func decodeDirectory(dec *xml.Decoder, start xml.StartElement) (*Node, error) {
	name := attrValue(start, "Name")
	if name == "" {
		return nil, fmt.Errorf("%w: directory missing Name", ErrMalformedList)
	}
	incomplete := attrValue(start, "Incomplete") == "1"
	dir := NewDir(name, incomplete)
	if err := decodeChildren(dec, "Directory", dir); err != nil {
		return nil, err
	}
	return dir, nil
}

// decodeFile requires the element to be self-closing: the very next
// token after the Name/Size/TTH attributes must be the matching
// EndElement, with nothing in between.
func decodeFile(dec *xml.Decoder, start xml.StartElement) (*Node, error) {
	name := attrValue(start, "Name")
	if name == "" {
		return nil, fmt.Errorf("%w: file missing Name", ErrMalformedList)
	}
	sizeStr := attrValue(start, "Size")
	size, err := strconv.ParseUint(sizeStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid Size %q", ErrMalformedList, sizeStr)
	}
	tthStr := attrValue(start, "TTH")
	digest, err := tth.Decode(tthStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid TTH %q", ErrMalformedList, tthStr)
	}

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedList, err)
	}
	end, ok := tok.(xml.EndElement)
	if !ok || end.Name.Local != "File" {
		return nil, fmt.Errorf("%w: <File> is not self-closing", ErrMalformedList)
	}

	return NewFile(name, size, digest, true, 0), nil
}
