package hub

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/amrav/ncdc/internal/charset"
	"github.com/amrav/ncdc/internal/logging"
)

// handleLegacyFrame decodes one raw legacy frame from the hub's
// declared encoding to UTF-8 and dispatches on its leading command
// word, per spec.md §4.5.1.
func (s *Session) handleLegacyFrame(frame []byte) {
	text, err := s.bridge.Decode(frame)
	if err != nil {
		s.logProtocol("charset decode failed: " + err.Error())
		return
	}
	if !strings.HasPrefix(text, "$") {
		s.handleLegacyChat(text)
		return
	}
	cmd, rest := splitCommand(text)
	switch cmd {
	case "$Lock":
		s.handleLock(rest)
	case "$GetPass":
		s.handleGetPass()
	case "$Hello":
		s.handleHello(rest)
	case "$NickList":
		s.handleNickList(rest)
	case "$OpList":
		s.handleOpList(rest)
	case "$MyINFO":
		s.handleMyINFO(rest)
	case "$Quit":
		s.handleQuit(rest)
	case "$To:":
		s.handleTo(text)
	case "$ForceMove":
		s.handleForceMove(rest)
	case "$ConnectToMe":
		s.handleConnectToMe(rest)
	case "$RevConnectToMe":
		s.handleRevConnectToMe(rest)
	case "$Search":
		s.handleSearch(rest)
	case "$BadPass":
		s.handleBadPass()
	case "$ValidateDenide":
		s.handleValidateDenide()
	case "$HubName":
		s.cfg.HubName = rest
	default:
		// Unknown commands are dropped per spec.md §7, not fatal.
	}
}

func splitCommand(text string) (cmd, rest string) {
	i := strings.IndexByte(text, ' ')
	if i < 0 {
		return text, ""
	}
	return text[:i], text[i+1:]
}

func (s *Session) sendLegacyRaw(line string) {
	encoded, err := s.bridge.Encode(line)
	if err != nil {
		s.logProtocol("charset encode failed: " + err.Error())
		return
	}
	_ = s.conn.Send(encoded)
}

func (s *Session) sendLegacyf(format string, args ...any) {
	s.sendLegacyRaw(fmt.Sprintf(format, args...))
}

// handleLock implements spec.md §4.5.1 step 1: reject unless the
// challenge begins with EXTENDEDPROTOCOL; otherwise reply with our
// capability list, the computed unlock key, and $ValidateNick.
func (s *Session) handleLock(rest string) {
	if s.legacyState != legacyConnected {
		return
	}
	challenge, _ := splitCommand(rest)
	if !strings.HasPrefix(challenge, "EXTENDEDPROTOCOL") {
		s.logProtocol("$Lock challenge missing EXTENDEDPROTOCOL marker")
		s.Disconnect()
		return
	}
	s.legacyState = legacyLockSeen
	key := ComputeLegacyKey(challenge)
	s.sendLegacyRaw("$Supports NoGetINFO NoHello")
	s.sendLegacyRaw("$Key " + string(key))
	s.sendLegacyf("$ValidateNick %s", charset.EscapeLegacy(s.cfg.Nick))
}

func (s *Session) handleGetPass() {
	s.sendLegacyf("$MyPass %s", charset.EscapeLegacy(s.cfg.Password))
}

// handleHello implements spec.md §4.5.1 steps 3-4: our own $Hello
// finishes the handshake; another user's $Hello adds them to the
// roster and requests their $MyINFO with $GetINFO. The request is sent
// every time; whether the hub advertised NoGetINFO is not tracked.
func (s *Session) handleHello(rest string) {
	nick, _ := splitCommand(rest)
	nick = charset.UnescapeLegacy(nick)
	if nick == s.cfg.Nick {
		s.legacyState = legacyValidated
		s.nickValidated = true
		s.sendLegacyRaw("$Version 1,0091")
		s.sendLegacyAdvertisement()
		s.sendLegacyRaw("$GetNickList")
		s.StartAdvertising()
		return
	}
	if _, ok := s.UserByNick(nick); !ok {
		s.putUser(nick, &User{Name: nick, NameRaw: nick})
	}
	s.sendLegacyf("$GetINFO %s %s", charset.EscapeLegacy(nick), charset.EscapeLegacy(s.cfg.Nick))
}

// handleNickList implements spec.md §4.5.1 step 5: a $$-separated
// name list; every name not already in the roster is added.
func (s *Session) handleNickList(rest string) {
	for _, raw := range strings.Split(rest, "$$") {
		nick := charset.UnescapeLegacy(raw)
		if nick == "" {
			continue
		}
		if _, ok := s.UserByNick(nick); !ok {
			s.putUser(nick, &User{Name: nick, NameRaw: nick})
		}
	}
}

// handleOpList implements the clean semantics spec.md §9 prescribes
// (a deliberate deviation from the original): clear every is_op flag,
// then set it for exactly the names listed here.
func (s *Session) handleOpList(rest string) {
	s.clearOps()
	for _, raw := range strings.Split(rest, "$$") {
		nick := charset.UnescapeLegacy(raw)
		if nick == "" {
			continue
		}
		u, ok := s.UserByNick(nick)
		if !ok {
			u = &User{Name: nick, NameRaw: nick}
			s.putUser(nick, u)
		}
		u.IsOp = true
	}
}

// handleMyINFO implements spec.md §4.5.1 step 6: parse the fixed-
// position payload "<desc> <tag>$ $<connection><flag>$<email>$<size>$".
func (s *Session) handleMyINFO(rest string) {
	const prefix = "$ALL "
	if !strings.HasPrefix(rest, prefix) {
		s.logProtocol("malformed $MyINFO: missing $ALL")
		return
	}
	rest = rest[len(prefix):]
	sp := strings.IndexByte(rest, ' ')
	if sp < 0 {
		s.logProtocol("malformed $MyINFO: missing nick")
		return
	}
	nick := charset.UnescapeLegacy(rest[:sp])
	payload := rest[sp+1:]

	sep := strings.Index(payload, "$ $")
	if sep < 0 {
		s.logProtocol("malformed $MyINFO: missing '$ $' separator")
		return
	}
	descTag := payload[:sep]
	remainder := payload[sep+3:]
	parts := strings.SplitN(remainder, "$", 3)
	if len(parts) < 3 {
		s.logProtocol("malformed $MyINFO: missing connection/email/size fields")
		return
	}
	connFlag, email, sizeField := parts[0], parts[1], parts[2]
	sizeStr := strings.TrimSuffix(sizeField, "$")
	size, _ := strconv.ParseUint(strings.TrimSpace(sizeStr), 10, 64)

	var connection string
	if len(connFlag) > 0 {
		connection = connFlag[:len(connFlag)-1]
	}

	description, tag := splitDescriptionTag(descTag)

	u, ok := s.UserByNick(nick)
	if !ok {
		u = &User{Name: nick, NameRaw: nick}
		s.putUser(nick, u)
	}
	u.Description = charset.UnescapeLegacy(description)
	u.Connection = connection
	u.Email = charset.UnescapeLegacy(email)
	u.ShareSize = size
	u.HasInfo = true
	applyLegacyTag(u, tag)
}

// splitDescriptionTag pulls the <...> client tag off the end of a
// description string, if present.
func splitDescriptionTag(descTag string) (description, tag string) {
	i := strings.LastIndexByte(descTag, '<')
	if i < 0 || !strings.HasSuffix(descTag, ">") {
		return descTag, ""
	}
	return descTag[:i], descTag[i+1 : len(descTag)-1]
}

// applyLegacyTag parses the comma-separated K:V fields of a client
// tag ("ClientName V:1.0,M:A,H:1/0/0,S:5"); unknown fields are
// ignored, per spec.md §4.5.1 step 6.
func applyLegacyTag(u *User, tag string) {
	if tag == "" {
		return
	}
	fields := strings.Split(tag, ",")
	if sp := strings.LastIndexByte(fields[0], ' '); sp >= 0 {
		u.Client = fields[0][:sp]
		fields[0] = fields[0][sp+1:]
	} else if !strings.Contains(fields[0], ":") {
		u.Client = fields[0]
		fields = fields[1:]
	}
	for _, f := range fields {
		kv := strings.SplitN(f, ":", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "V":
			if u.Client != "" {
				u.Client += " " + kv[1]
			} else {
				u.Client = kv[1]
			}
		case "M":
			u.Active = kv[1] == "A"
		case "H":
			n, r, o := parseHubCounts(kv[1])
			u.HubsNormal, u.HubsRegistered, u.HubsOp = n, r, o
		case "S":
			slots, _ := strconv.Atoi(kv[1])
			u.Slots = slots
		}
	}
}

func parseHubCounts(s string) (normal, registered, op int) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return 0, 0, 0
	}
	normal, _ = strconv.Atoi(parts[0])
	registered, _ = strconv.Atoi(parts[1])
	op, _ = strconv.Atoi(parts[2])
	return
}

func (s *Session) handleQuit(rest string) {
	nick, _ := splitCommand(rest)
	s.removeUserByKey(charset.UnescapeLegacy(nick))
}

// handleTo implements spec.md §4.5.1 step 8:
// "$To: me From: other $<other> msg" delivers a private message.
func (s *Session) handleTo(text string) {
	const toPrefix = "$To: "
	const fromMarker = " From: "
	rest := strings.TrimPrefix(text, toPrefix)
	fi := strings.Index(rest, fromMarker)
	if fi < 0 {
		s.logProtocol("malformed $To:")
		return
	}
	rest = rest[fi+len(fromMarker):]
	dollar := strings.IndexByte(rest, '$')
	if dollar < 0 {
		s.logProtocol("malformed $To:")
		return
	}
	from := charset.UnescapeLegacy(rest[:dollar])
	msg := rest[dollar+1:]
	if strings.HasPrefix(msg, "<"+from+"> ") {
		msg = msg[len("<"+from+"> "):]
	}
	if s.hooks.PrivateMessage != nil {
		s.hooks.PrivateMessage(from, charset.UnescapeLegacy(msg))
	}
}

func (s *Session) handleLegacyChat(text string) {
	from, msg := text, text
	if i := strings.Index(text, "> "); strings.HasPrefix(text, "<") && i > 0 {
		from = text[1:i]
		msg = text[i+2:]
	}
	if s.hooks.Chat != nil {
		s.hooks.Chat(from, msg)
	}
}

func (s *Session) handleForceMove(addr string) {
	if s.hooks.ForceMove != nil {
		s.hooks.ForceMove(addr)
	}
	s.postf(logging.PriorityHigh, "hub requested we move to %s", addr)
	s.Disconnect()
}

// handleConnectToMe implements spec.md §4.5.1 step 10:
// "$ConnectToMe me <ip:port>" — dial out actively.
func (s *Session) handleConnectToMe(rest string) {
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		s.logProtocol("malformed $ConnectToMe")
		return
	}
	addr := fields[1]
	if s.hooks.ConnectToMe != nil {
		s.hooks.ConnectToMe(addr, "")
	}
}

// handleRevConnectToMe implements spec.md §4.5.1 step 11: if we are
// locally reachable, reply with $ConnectToMe pointing at our listening
// port; otherwise log via the unreachable hook.
func (s *Session) handleRevConnectToMe(rest string) {
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		s.logProtocol("malformed $RevConnectToMe")
		return
	}
	other := charset.UnescapeLegacy(fields[0])
	if s.cfg.Active && s.cfg.ListenAddr != "" {
		s.sendLegacyf("$ConnectToMe %s %s", charset.EscapeLegacy(other), s.cfg.ListenAddr)
		return
	}
	if s.hooks.RevConnectToMeUnreachable != nil {
		s.hooks.RevConnectToMeUnreachable(other)
	}
	s.postf(logging.PriorityLow, "cannot reverse-connect to %s: not reachable", other)
}

func (s *Session) handleBadPass() {
	s.postf(logging.PriorityHigh, "hub rejected password")
	s.Disconnect()
}

func (s *Session) handleValidateDenide() {
	s.postf(logging.PriorityHigh, "nickname %s already taken on this hub", s.cfg.Nick)
	s.Disconnect()
}

// sendLegacyAdvertisement implements spec.md §4.5.4: suppressed while
// not yet validated, and suppressed again if unchanged from the last
// sent text.
func (s *Session) sendLegacyAdvertisement() {
	if !s.nickValidated {
		return
	}
	normal, registered, op := s.hubCounts()
	flag := legacyStatusFlag(s.isOp, s.isReg)
	reach := "P"
	if s.cfg.Active {
		reach = "A"
	}
	tag := fmt.Sprintf("<%s V:%s,M:%s,H:%d/%d/%d,S:%d>", s.cfg.ClientName, s.cfg.ClientVer, reach, normal, registered, op, s.cfg.Slots)
	line := fmt.Sprintf("$MyINFO $ALL %s %s%s$ $%s%c$%s$%d$",
		charset.EscapeLegacy(s.cfg.Nick),
		charset.EscapeLegacy(s.cfg.Description), tag,
		s.cfg.Connection, flag,
		charset.EscapeLegacy(s.cfg.Email),
		s.tree.TotalSize())
	if line == s.lastLegacyAd {
		return
	}
	s.lastLegacyAd = line
	s.sendLegacyRaw(line)
}

// legacyStatusFlag picks the trailing MyINFO status byte: 0x01 normal,
// 0x03 registered, 0x05 op.
func legacyStatusFlag(isOp, isReg bool) byte {
	switch {
	case isOp:
		return 0x05
	case isReg:
		return 0x03
	default:
		return 0x01
	}
}

// hubCounts resolves cfg.HubCounts, defaulting to counting only this
// session per spec.md §4.5.4's "+1 normal while not yet validated".
func (s *Session) hubCounts() (normal, registered, op int) {
	if s.cfg.HubCounts != nil {
		return s.cfg.HubCounts()
	}
	if !s.nickValidated {
		return 1, 0, 0
	}
	if s.isOp {
		return 0, 0, 1
	}
	if s.isReg {
		return 0, 1, 0
	}
	return 1, 0, 0
}
