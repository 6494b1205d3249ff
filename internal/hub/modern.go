package hub

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/amrav/ncdc/internal/charset"
	"github.com/amrav/ncdc/internal/logging"
	"github.com/amrav/ncdc/internal/tth"
)

// modernFrame is a parsed "TCMD param…" line, per spec.md §4.5.2 and
// §6: addressing tag T followed directly by a 3-letter command token,
// then space-separated parameters (fields for INF-family commands are
// themselves "KKvalue" pairs, unpacked by the per-command handlers).
type modernFrame struct {
	tag    byte
	cmd    string
	params []string
}

var errShortModernFrame = errors.New("modern frame shorter than tag+cmd")
var errMalformedModernFrame = errors.New("modern frame missing space before parameters")

func parseModernFrame(line string) (modernFrame, error) {
	if len(line) < 4 {
		return modernFrame{}, errShortModernFrame
	}
	f := modernFrame{tag: line[0], cmd: line[1:4]}
	if len(line) > 4 {
		if line[4] != ' ' {
			return modernFrame{}, errMalformedModernFrame
		}
		f.params = charset.SplitModernFields(line[5:])
	}
	return f, nil
}

func (s *Session) handleModernFrame(line string) {
	f, err := parseModernFrame(line)
	if err != nil {
		s.logProtocol(err.Error())
		return
	}
	switch f.cmd {
	case "SID":
		s.handleISID(f)
	case "INF":
		if f.tag == 'I' {
			s.handleIINF(f)
		} else {
			s.handleBINF(f)
		}
	case "QUI":
		s.handleIQUI(f)
	case "STA":
		s.handleISTA(f)
	default:
		// Unhandled commands are dropped, per spec.md §7.
	}
}

func (s *Session) sendModern(line string) {
	_ = s.conn.Send([]byte(line))
}

// handleISID implements spec.md §4.5.2: adopt the 4-character base32
// session id, move to identify, and send our own mandatory BINF.
func (s *Session) handleISID(f modernFrame) {
	if len(f.params) < 1 {
		s.logProtocol("malformed ISID: missing sid")
		return
	}
	s.ownSID = f.params[0]
	s.modernState = modernIdentify
	s.sendModern(s.buildOwnBINF())
}

// handleIINF implements spec.md §4.5.2: update the hub's own display
// name and transition to normal, marking the nick validated.
func (s *Session) handleIINF(f modernFrame) {
	for _, field := range f.params {
		if len(field) < 2 {
			continue
		}
		if field[:2] == "NI" {
			if name, err := charset.UnescapeModern(field[2:]); err == nil {
				s.cfg.HubName = name
			}
		}
	}
	s.modernState = modernNormal
	s.nickValidated = true
	s.StartAdvertising()
}

// handleBINF implements spec.md §4.5.2: update or insert a roster
// entry by source sid. Per spec.md §9's open-question resolution, AS
// maps only to AutoSlotBps and never clobbers Slots.
func (s *Session) handleBINF(f modernFrame) {
	if len(f.params) < 1 {
		s.logProtocol("malformed BINF: missing source sid")
		return
	}
	sourceSID := f.params[0]
	u, ok := s.userBySID(sourceSID)
	if !ok {
		u = &User{SessionID: sourceSID}
	}
	for _, field := range f.params[1:] {
		if len(field) < 2 {
			continue
		}
		key, raw := field[:2], field[2:]
		val, err := charset.UnescapeModern(raw)
		if err != nil {
			s.logProtocol("malformed BINF field " + key + ": " + err.Error())
			continue
		}
		applyBINFField(u, key, val)
	}
	u.HasInfo = true
	s.putUser(sourceSID, u)

	if sourceSID == s.ownSID {
		if !s.receivedFirst {
			s.receivedFirst = true
		} else {
			s.joinComplete = true
		}
	}
}

func applyBINFField(u *User, key, val string) {
	switch key {
	case "NI":
		u.Name, u.NameRaw = val, val
	case "DE":
		u.Description = val
	case "VE":
		u.Client = val
	case "EM":
		u.Email = val
	case "ID":
		if digest, err := tth.Decode(val); err == nil {
			u.CID = digest
			u.HasCID = true
		}
	case "SS":
		if n, err := strconv.ParseUint(val, 10, 64); err == nil {
			u.ShareSize = n
		}
	case "HN":
		if n, err := strconv.Atoi(val); err == nil {
			u.HubsNormal = n
		}
	case "HR":
		if n, err := strconv.Atoi(val); err == nil {
			u.HubsRegistered = n
		}
	case "HO":
		if n, err := strconv.Atoi(val); err == nil {
			u.HubsOp = n
		}
	case "SL":
		if n, err := strconv.Atoi(val); err == nil {
			u.Slots = n
		}
	case "AS":
		if n, err := strconv.Atoi(val); err == nil {
			u.AutoSlotBps = n
		}
	case "SU":
		u.Active = strings.Contains(val, "TCP4") || strings.Contains(val, "TCP6")
	case "CT":
		if n, err := strconv.Atoi(val); err == nil {
			u.IsOp = n >= 4
		}
	}
}

// handleIQUI implements spec.md §4.5.2: remove the user; if the sid is
// our own, disconnect.
func (s *Session) handleIQUI(f modernFrame) {
	if len(f.params) < 1 {
		s.logProtocol("malformed IQUI: missing sid")
		return
	}
	sid := f.params[0]
	s.removeUserByKey(sid)
	if sid == s.ownSID {
		s.Disconnect()
	}
}

// handleISTA implements spec.md §4.5.2: a three-digit status code,
// first digit 1 advisory, first digit 2 fatal (disconnects).
func (s *Session) handleISTA(f modernFrame) {
	if len(f.params) < 1 || len(f.params[0]) != 3 {
		s.logProtocol("malformed ISTA: missing 3-digit code")
		return
	}
	code := f.params[0]
	var msg string
	for i, p := range f.params[1:] {
		if v, err := charset.UnescapeModern(p); err == nil {
			if i > 0 {
				msg += " "
			}
			msg += v
		}
	}
	switch code[0] {
	case '2':
		s.postf(logging.PriorityHigh, "hub status %s: %s", code, msg)
		s.Disconnect()
	case '1':
		s.postf(logging.PriorityMedium, "hub status %s: %s", code, msg)
	default:
		s.logProtocol("hub status " + code + ": " + msg)
	}
}

func (s *Session) userBySID(sid string) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByKey[sid]
	return u, ok
}

// buildOwnBINF renders our mandatory BINF reply to ISID, and is reused
// by the 5-minute advertisement tick. The PD (PID) field is included
// only while in the identify state.
func (s *Session) buildOwnBINF() string {
	normal, registered, op := s.hubCounts()
	ve := charset.EscapeModern(s.cfg.ClientName + " " + s.cfg.ClientVer)
	fields := []string{"ID" + tth.Encode(s.cfg.CID)}
	if s.modernState == modernIdentify {
		fields = append(fields, "PD"+tth.Encode(s.cfg.PID))
	}
	fields = append(fields,
		"I40.0.0.0",
		"VE"+ve,
		"NI"+charset.EscapeModern(s.cfg.Nick),
		"SL"+strconv.Itoa(s.cfg.Slots),
		"HN"+strconv.Itoa(normal),
		"HR"+strconv.Itoa(registered),
		"HO"+strconv.Itoa(op),
		"DE"+charset.EscapeModern(s.cfg.Description),
		"EM"+charset.EscapeModern(s.cfg.Email),
		"SS"+strconv.FormatUint(s.tree.TotalSize(), 10),
	)
	if s.cfg.Active {
		fields = append(fields, "SUTCP4")
	}
	return fmt.Sprintf("BINF %s %s", s.ownSID, strings.Join(fields, " "))
}

// sendModernAdvertisement implements the 5-minute BINF re-send tick:
// suppressed if every watched field is unchanged from the cached last
// sent version.
func (s *Session) sendModernAdvertisement() {
	line := s.buildOwnBINF()
	if line == s.lastModernAd {
		return
	}
	s.lastModernAd = line
	s.sendModern(line)
}
