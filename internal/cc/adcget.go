package cc

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/amrav/ncdc/internal/charset"
	"github.com/amrav/ncdc/internal/dcerr"
	"github.com/amrav/ncdc/internal/sharetree"
	"github.com/amrav/ncdc/internal/slot"
	"github.com/amrav/ncdc/internal/tth"
)

var errNotTTHIdentifier = errors.New("cc: identifier is not a TTH/ reference")

// handleADCGet implements spec.md §4.6: require $MyNick already
// received, then dispatch on request type.
func (s *Session) handleADCGet(rest string) {
	if s.state < stateNickSeen {
		s.seal(dcerr.KindProtocol, "received $ADCGET before $MyNick")
		return
	}
	fields := strings.Fields(rest)
	if len(fields) != 4 {
		s.send("$Error Invalid ADCGET arguments")
		return
	}
	kind, id := fields[0], fields[1]
	start, errStart := strconv.ParseInt(fields[2], 10, 64)
	count, errCount := strconv.ParseInt(fields[3], 10, 64)
	if errStart != nil || errCount != nil {
		s.send("$Error Invalid ADCGET arguments")
		return
	}
	switch kind {
	case "tthl":
		s.handleADCGetTTHL(id, start)
	case "file":
		s.handleADCGetFile(id, start, count)
	default:
		s.send("$Error Invalid ADCGET arguments")
	}
}

// handleADCGetTTHL implements spec.md §4.6's tthl branch and the
// testable properties in spec.md §8 items 4-5: only a zero start
// offset is accepted, since the hash-tree blob is always served whole.
func (s *Session) handleADCGetTTHL(id string, start int64) {
	root, err := parseTTHIdentifier(id)
	if err != nil {
		s.send("$Error File Not Available")
		return
	}
	if start != 0 {
		s.send("$Error Invalid ADCGET arguments")
		return
	}
	blob, ok := s.st.HashTTHL(root)
	if !ok {
		s.send("$Error File Not Available")
		return
	}
	s.send("$ADCSND tthl " + id + " 0 " + strconv.Itoa(len(blob)))
	_ = s.conn.SendRaw(blob)
	if s.cfg.OnBytesServed != nil {
		s.cfg.OnBytesServed(int64(len(blob)))
	}
}

func parseTTHIdentifier(id string) ([tth.Size]byte, error) {
	const prefix = "TTH/"
	if !strings.HasPrefix(id, prefix) {
		return [tth.Size]byte{}, errNotTTHIdentifier
	}
	return tth.Decode(strings.TrimPrefix(id, prefix))
}

// handleADCGetFile implements spec.md §4.6's file branch: three
// resolution modes tried in order, a stat/size/offset validity check,
// clamping, and slot admission for anything 16 KiB or larger.
func (s *Session) handleADCGetFile(id string, start, count int64) {
	realPath, slotRequired := s.resolveFileIdentifier(id)
	if realPath == "" {
		s.send("$Error File Not Available")
		return
	}
	info, err := os.Stat(realPath)
	if err != nil || !info.Mode().IsRegular() {
		s.send("$Error File Not Available")
		return
	}
	size := info.Size()
	if start > size {
		s.send("$Error File Not Available")
		return
	}
	remaining := size - start
	if count < 0 || count > remaining {
		count = remaining
	}
	if slotRequired && size >= slotRequiredAbove {
		inUse := slot.InUse(s.registry)
		hs, _ := s.hubSession()
		granted := hs != nil && hs.HasGrant(s.peerNickRaw)
		if !granted && !slot.Admit(inUse, s.cfg.Slots) {
			s.send("$MaxedOut")
			return
		}
	}

	s.mu.Lock()
	s.lastVirtualPath = id
	s.lastFileSize = uint64(size)
	s.lastLength = count
	s.lastOffset = start
	s.remaining = count
	s.mu.Unlock()

	s.send("$ADCSND file " + charset.EscapeLegacy(id) + " " + strconv.FormatInt(start, 10) + " " + strconv.FormatInt(count, 10))
	if err := s.conn.SendFile(realPath, start, count); err != nil {
		s.mu.Lock()
		s.remaining = 0
		s.mu.Unlock()
	}
}

// resolveFileIdentifier implements the three resolution modes of
// spec.md §4.6: the own file list (no slot required), a virtual path
// into the local share, or a TTH lookup.
func (s *Session) resolveFileIdentifier(id string) (realPath string, slotRequired bool) {
	if id == "files.xml.bz2" {
		return s.cfg.FileListPath, false
	}
	if strings.HasPrefix(id, "/") {
		n, err := sharetree.Resolve(s.tree.Root, id)
		if err != nil || !n.IsFile {
			return "", true
		}
		return n.RealPath, true
	}
	root, err := parseTTHIdentifier(id)
	if err != nil {
		return "", true
	}
	matches := s.tree.ByTTH(root)
	if len(matches) == 0 {
		return "", true
	}
	return matches[0].RealPath, true
}
