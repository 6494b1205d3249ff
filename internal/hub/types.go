// Package hub implements the dual-protocol hub session state machine
// from spec.md §4.5: one HubSession type that drives the byte framing
// layer (internal/netconn) with either the legacy line-oriented
// protocol or the modern token-based one, sharing a common roster,
// search, and chat surface.
//
// The tagged-union split spec.md §9 calls for is expressed as a
// Dialect enum switched on inside Session's frame handler, rather than
// as two Go types, since both dialects mutate the same roster and
// advertisement-cache fields — splitting the type would just move the
// switch into the caller.
package hub

import (
	"fmt"
	"sync"

	"github.com/amrav/ncdc/internal/charset"
	"github.com/amrav/ncdc/internal/dcerr"
	"github.com/amrav/ncdc/internal/logging"
	"github.com/amrav/ncdc/internal/netconn"
	"github.com/amrav/ncdc/internal/runtime"
	"github.com/amrav/ncdc/internal/sharetree"
	"github.com/amrav/ncdc/internal/tth"
)

// Dialect selects the wire protocol a Session speaks.
type Dialect int

const (
	Legacy Dialect = iota
	Modern
)

// User is the HubUser record from spec.md §3, carried for each peer
// visible on a hub.
type User struct {
	Name    string // UTF-8
	NameRaw string // hub-encoded; equals Name for the modern protocol

	SessionID string        // 4-char base32 SID, modern protocol only
	CID       [tth.Size]byte
	HasCID    bool

	HasInfo bool
	IsOp    bool
	Active  bool

	HubsNormal     int
	HubsRegistered int
	HubsOp         int
	Slots          int
	AutoSlotBps    int

	Description string
	Connection  string
	Email       string
	Client      string

	ShareSize uint64
}

// legacyState is the state machine driving the legacy dialect's
// handshake sequence (spec.md §4.5.1).
type legacyState int

const (
	legacyConnected legacyState = iota
	legacyLockSeen
	legacyValidated
)

// modernState is {protocol -> identify -> verify -> normal} from
// spec.md §4.5.2.
type modernState int

const (
	modernProtocol modernState = iota
	modernIdentify
	modernVerify
	modernNormal
)

// Config carries the local identity and share-derived values a
// Session needs to answer handshakes, build advertisement frames, and
// reply to searches. It corresponds to the config keys spec.md §6
// lists as consumed per-hub / globally.
type Config struct {
	Nick        string
	Password    string
	Description string
	Connection  string
	Email       string
	Encoding    string // hub-declared charset label
	Slots       int
	Active      bool // reachable on direct port: 'A' vs 'P'
	ListenAddr  string
	HubName     string
	CID         [tth.Size]byte
	PID         [tth.Size]byte
	ClientName  string // e.g. "ncdc"
	ClientVer   string // e.g. "1.0"

	// HubCounts reports the normal/registered/op session counts across
	// every currently open hub session in the process, computed by the
	// caller (spec.md §9: scoped runtime state, not a package global),
	// including the "+1 normal for the session being built" adjustment
	// spec.md §4.5.4 requires while this session isn't yet validated.
	// A nil func defaults to counting only this session.
	HubCounts func() (normal, registered, op int)

	// SlotsInUse reports how many C↔C sessions are currently streaming
	// bytes, per spec.md §4.5.5. Computed externally (via
	// slot.InUse over the C↔C registry) since this package does not
	// depend on internal/cc. A nil func is treated as zero.
	SlotsInUse func() int
}

// Hooks are the actions a Session asks its owner to perform — opening
// or accepting C↔C connections and surfacing advisory text — kept as
// callbacks rather than a direct import of internal/cc to avoid a
// package cycle (cc imports hub for the roster/back-reference, not the
// other way around).
type Hooks struct {
	// ConnectToMe is invoked when the hub relays a $ConnectToMe
	// targeting us, asking us to dial out to a peer's listening address.
	// Answering a $RevConnectToMe does not invoke it: that reply is a
	// $ConnectToMe sent to the hub, and the peer dials us.
	ConnectToMe func(remoteAddr string, expectedNick string)
	// RevConnectToMeUnreachable is invoked when a peer asks us to
	// reverse-connect but we have no reachable listening address.
	RevConnectToMeUnreachable func(peerNick string)
	// ForceMove surfaces an advisory before disconnecting.
	ForceMove func(addr string)
	// Chat delivers a public chat line.
	Chat func(from, msg string)
	// PrivateMessage delivers a private message.
	PrivateMessage func(from, msg string)
	// OnSearchReply is invoked once per $SR/RES frame actually sent in
	// answer to a $Search, for callers tracking reply volume.
	OnSearchReply func()
	// OnReconnect is invoked each time the 30-second reconnect timer
	// armed by armReconnect fires.
	OnReconnect func()
}

// Session is the aggregate hub connection state from spec.md §3.
type Session struct {
	Dialect Dialect

	conn    *netconn.Conn
	bridge  charset.Bridge
	cfg     Config
	tree    *sharetree.Tree
	sink    logging.Sink
	rt      *runtime.Runtime
	hooks   Hooks
	udpSend func(addr string, payload []byte) error

	legacyState legacyState
	modernState modernState
	nickValidated bool

	ownSID string // modern only

	isOp, isReg bool

	mu          sync.Mutex
	usersByKey  map[string]*User // legacy: raw nick; modern: SID
	usersByNick map[string]*User // secondary index by display nick, both dialects

	grants map[string]bool // raw nicknames granted an explicit upload slot

	lastLegacyAd string
	lastModernAd string

	reconnectTimer *runtime.Timer
	adTicker       *runtime.Ticker
	idleTimer      *runtime.Timer

	receivedFirst bool
	joinComplete  bool

	lastErr *dcerr.Error
	closed  bool
}

// ShareCount and ShareSizeTotal are derived aggregates over the
// roster, computed on demand rather than kept incrementally, since the
// roster is small enough (bounded by one hub's user count) that a
// linear scan on request is simpler than keeping two more invariants
// in sync with every roster mutation.
func (s *Session) ShareCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, u := range s.usersByKey {
		if u.ShareSize > 0 {
			n++
		}
	}
	return n
}

func (s *Session) ShareSizeTotal() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total uint64
	for _, u := range s.usersByKey {
		total += u.ShareSize
	}
	return total
}

// Users returns a snapshot of the current roster.
func (s *Session) Users() []*User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*User, 0, len(s.usersByKey))
	for _, u := range s.usersByKey {
		out = append(out, u)
	}
	return out
}

// UserByNick looks up a roster entry by display nickname.
func (s *Session) UserByNick(nick string) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByNick[nick]
	return u, ok
}

func (s *Session) putUser(key string, u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usersByKey[key] = u
	s.usersByNick[u.Name] = u
}

func (s *Session) removeUserByKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.usersByKey[key]
	if !ok {
		return
	}
	delete(s.usersByKey, key)
	delete(s.usersByNick, u.Name)
}

func (s *Session) clearOps() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.usersByKey {
		u.IsOp = false
	}
}

// GrantSlot records that the local user explicitly granted nick an
// upload slot regardless of the normal slot policy.
func (s *Session) GrantSlot(rawNick string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.grants == nil {
		s.grants = map[string]bool{}
	}
	s.grants[rawNick] = true
}

// HasGrant reports whether rawNick was explicitly granted a slot.
func (s *Session) HasGrant(rawNick string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.grants[rawNick]
}

func (s *Session) postf(priority logging.Priority, format string, args ...any) {
	if s.sink == nil {
		return
	}
	s.sink.Post(priority, fmt.Sprintf(format, args...))
}
