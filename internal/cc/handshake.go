package cc

import (
	"strings"

	"github.com/amrav/ncdc/internal/dcerr"
	"github.com/amrav/ncdc/internal/hub"
	"github.com/amrav/ncdc/internal/logging"
	"github.com/amrav/ncdc/internal/runtime"
)

// handleMyNick implements spec.md §4.6: accept only if the hub
// back-reference is set, and reject a raw nick already owning another
// session on the same hub.
func (s *Session) handleMyNick(rest string) {
	if s.state != stateConnected {
		return
	}
	nick := rest
	if s.cfg.Hub == (runtime.ID{}) {
		s.seal(dcerr.KindPolicy, "no hub back-reference set for this connection")
		return
	}
	if s.duplicateOnHub(nick) {
		s.seal(dcerr.KindPolicy, "duplicate nick "+nick+" on this hub")
		return
	}
	hs, ok := s.hubSession()
	if !ok {
		s.seal(dcerr.KindPolicy, "hub session no longer available")
		return
	}
	if _, found := hs.UserByNick(nick); !found {
		s.postf(logging.PriorityLow, "cc: %s not found in hub roster", nick)
	}
	s.peerNickRaw = nick
	s.peerNick = nick
	s.state = stateNickSeen
}

// duplicateOnHub reports whether another session in the registry
// already carries this raw nick on the same hub.
func (s *Session) duplicateOnHub(nick string) bool {
	if s.registry == nil {
		return false
	}
	dup := false
	s.registry.Each(func(id runtime.ID, other *Session) {
		if other == s {
			return
		}
		if other.cfg.Hub == s.cfg.Hub && other.peerNickRaw == nick {
			dup = true
		}
	})
	return dup
}

// handleLock implements spec.md §4.6: reject unless the challenge
// begins with EXTENDEDPROTOCOL; otherwise reply with our capability
// list, direction, and the computed unlock key.
func (s *Session) handleLock(rest string) {
	if s.state != stateNickSeen {
		return
	}
	challenge, _ := splitCommand(rest)
	if !strings.HasPrefix(challenge, "EXTENDEDPROTOCOL") {
		s.seal(dcerr.KindProtocol, "$Lock challenge missing EXTENDEDPROTOCOL marker")
		return
	}
	key := hub.ComputeLegacyKey(challenge)
	s.send("$Supports MiniSlots XmlBZList ADCGet TTHL TTHF")
	s.send("$Direction Upload 0")
	s.send("$Key " + string(key))
	s.state = stateLockSeen
}

// handleSupports implements spec.md §4.6: require the ADCGet
// capability; otherwise disconnect with an explanation.
func (s *Session) handleSupports(rest string) {
	if s.state != stateLockSeen {
		return
	}
	for _, capability := range strings.Fields(rest) {
		if capability == "ADCGet" {
			s.supportsADCGet = true
		}
	}
	if !s.supportsADCGet {
		s.seal(dcerr.KindProtocol, "peer does not support ADCGet")
		return
	}
	s.state = stateReady
}

// handleDirection logs a direction clash (peer claims the same
// direction we sent, so whichever side actually uploads is undecided)
// instead of tearing the connection down: the real per-file upload
// direction is settled by who answers ADCGET, so a clash here is only
// informational.
func (s *Session) handleDirection(rest string) {
	peerDir, _ := splitCommand(rest)
	if peerDir == "Upload" {
		s.postf(logging.PriorityLow, "cc %s: direction clash, both sides claim Upload", s.peerNick)
	}
}
