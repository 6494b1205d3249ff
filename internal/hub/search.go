package hub

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/amrav/ncdc/internal/sharetree"
	"github.com/amrav/ncdc/internal/tth"
)

// wireSearchPath renders a virtual path the way $SR/RES need it: no
// leading slash, internal separators rendered as backslash.
func wireSearchPath(n *sharetree.Node) string {
	p := strings.TrimPrefix(sharetree.Path(n), "/")
	return strings.ReplaceAll(p, "/", `\`)
}

// slotsInUse resolves cfg.SlotsInUse, defaulting to zero.
func (s *Session) slotsInUse() int {
	if s.cfg.SlotsInUse == nil {
		return 0
	}
	return s.cfg.SlotsInUse()
}

// buildSRWithHubName renders the $SR payload (spec.md §4.5.1 item 12,
// format verified by spec.md §8's testable property) for one matched
// node, using this session's hub name / own nick / listen address.
func (s *Session) buildSRWithHubName(n *sharetree.Node, slotsFree, slots int) string {
	hubOrTTH := s.cfg.HubName
	if n.IsFile && n.HasTTH {
		hubOrTTH = "TTH:" + tth.Encode(n.TTH)
	}
	return fmt.Sprintf("$SR %s %s\x05%d %d/%d\x05%s (%s)",
		s.cfg.Nick, wireSearchPath(n), n.Size, slotsFree, slots, hubOrTTH, s.cfg.ListenAddr)
}

// handleSearch parses and answers a legacy $Search command.
// Grammar: "<source> <sizerestrict>?<ismax>?<size>?<typecode>?<query>"
// where sizerestrict/ismax are 'F'/'T' and query terms are '$'-joined.
func (s *Session) handleSearch(params string) {
	sp := strings.IndexByte(params, ' ')
	if sp < 0 {
		s.logProtocol("malformed $Search: no source")
		return
	}
	source := params[:sp]
	rest := params[sp+1:]
	fields := strings.SplitN(rest, "?", 5)
	if len(fields) != 5 {
		s.logProtocol("malformed $Search: expected 5 '?'-separated fields")
		return
	}
	sizeRestrict := fields[0] == "T"
	isMax := fields[1] == "T"
	sizeVal, _ := strconv.ParseUint(fields[2], 10, 64)
	typeStr := fields[3]
	query := fields[4]

	limit := sharetree.RemoteResultLimit
	if strings.HasPrefix(source, "Hub:") {
		limit = sharetree.BroadcastResultLimit
	}
	q := sharetree.Query{Limit: limit}
	if sizeRestrict {
		if isMax {
			q.SizeRestrict = sharetree.SizeAtMost
		} else {
			q.SizeRestrict = sharetree.SizeAtLeast
		}
		q.SizeBytes = sizeVal
	}
	switch typeStr {
	case "8":
		q.Mask = sharetree.MaskDirOnly
	case "9":
		// TTH-only search: the query *is* the TTH, handled as a
		// single include term; directory matches are meaningless here.
		q.Mask = sharetree.MaskFileOnly
	default:
		q.Mask = sharetree.MaskBoth
	}
	if query != "" {
		q.Include = strings.Split(query, "$")
	}

	results := sharetree.Search(s.tree.Root, q)
	free := sharetreeFree(s.slotsInUse(), s.cfg.Slots)
	var frames []string
	for _, n := range results {
		frames = append(frames, s.buildSRWithHubName(n, free, s.cfg.Slots))
	}
	if strings.HasPrefix(source, "Hub:") {
		sender := strings.TrimPrefix(source, "Hub:")
		for _, f := range frames {
			_ = s.conn.Send([]byte(f + "\x05" + sender))
			s.noteSearchReply()
		}
		return
	}
	if s.udpSend == nil {
		return
	}
	for _, f := range frames {
		_ = s.udpSend(source, []byte(f+"|"))
		s.noteSearchReply()
	}
}

func (s *Session) noteSearchReply() {
	if s.hooks.OnSearchReply != nil {
		s.hooks.OnSearchReply()
	}
}

func sharetreeFree(inUse, configured int) int {
	free := configured - inUse
	if free < 0 {
		return 0
	}
	return free
}
