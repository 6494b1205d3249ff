// Package cc implements the client-to-client session state machine
// from spec.md §4.6: the $MyNick/$Lock/$Supports handshake, ADCGET
// dispatch, and slot-gated file streaming, layered on the same byte
// framing layer the hub session uses.
package cc

import (
	"fmt"
	"sync"
	"time"

	"github.com/amrav/ncdc/internal/dcerr"
	"github.com/amrav/ncdc/internal/hub"
	"github.com/amrav/ncdc/internal/logging"
	"github.com/amrav/ncdc/internal/netconn"
	"github.com/amrav/ncdc/internal/runtime"
	"github.com/amrav/ncdc/internal/sharetree"
	"github.com/amrav/ncdc/internal/store"
	"github.com/amrav/ncdc/internal/tth"
)

const (
	// deferredFreeDelay is spec.md §4.6's 30-second grace period after
	// disconnect, so any reply frame still in flight has time to drain
	// before the session id is recycled out of the registry.
	deferredFreeDelay = 30 * time.Second
	// idleTimeout disconnects a session that never completes its
	// handshake or goes quiet between transfers.
	idleTimeout = 60 * time.Second
	// slotRequiredAbove is the file-size threshold spec.md §4.6 names:
	// below it, a file streams without needing a slot at all.
	slotRequiredAbove = 16 * 1024
)

// Config carries the local identity and share-derived values a
// Session needs to answer the handshake and resolve ADCGET requests.
type Config struct {
	Nick       string
	CID        [tth.Size]byte
	PID        [tth.Size]byte
	ClientName string
	ClientVer  string
	Slots      int

	// FileListPath is the on-disk location of the generated
	// files.xml.bz2, served directly (no slot required) for the
	// "files.xml.bz2" ADCGET identifier.
	FileListPath string

	// Hub is the opaque id of the hub session this C↔C connection was
	// opened on behalf of — set at construction when we dialed out via
	// a ConnectToMe hook. Inbound connections accepted by the listener
	// carry the zero id, which means "not established"; handleMyNick
	// rejects $MyNick while it is zero.
	Hub runtime.ID

	// OnBytesServed is invoked with the number of bytes handed off to a
	// peer via an ADCGET file/tthl reply: once a file range has finished
	// streaming, or as soon as the tthl blob (sent in one shot) has been
	// queued for sending.
	OnBytesServed func(n int64)
}

// ccState is the handshake progression spec.md §4.6 describes:
// connected, waiting for $MyNick, then $Lock, then ready to serve
// ADCGET once $Supports has confirmed the ADCGet capability.
type ccState int

const (
	stateConnected ccState = iota
	stateNickSeen
	stateLockSeen
	stateReady
)

// Session is one direct peer connection, spec.md §3's CCSession.
type Session struct {
	id   runtime.ID
	conn *netconn.Conn
	cfg  Config
	tree *sharetree.Tree
	st   store.Store
	sink logging.Sink
	rt   *runtime.Runtime

	// registry is this session's own arena, used both to free itself on
	// the deferred timer and to re-scan for slot admission and
	// duplicate-nick rejection across every open C↔C session.
	registry *runtime.Registry[*Session]
	hubs     *runtime.Registry[*hub.Session]

	localChallenge string
	state          ccState

	peerNickRaw, peerNick string
	supportsADCGet        bool

	lastActivity time.Time
	idleTimer    *runtime.Timer
	freeTimer    *runtime.Timer

	mu              sync.Mutex
	remaining       int64
	lastVirtualPath string
	lastFileSize    uint64
	lastLength      int64
	lastOffset      int64

	lastErr *dcerr.Error
	sealed  bool
	closed  bool
}

// RemainingBytes implements slot.Streaming: the number of bytes left
// in the current SendFile job, zero once it completes or if none is
// in flight.
func (s *Session) RemainingBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// ID returns the session's registry key.
func (s *Session) ID() runtime.ID { return s.id }

// PeerNick returns the validated display nickname, empty before the
// handshake completes.
func (s *Session) PeerNick() string { return s.peerNick }

// ClearHub drops the hub back-reference, per spec.md §5's "C↔C
// sessions carry a non-owning back-reference and must null it when
// the hub session goes away" — writing the zero id is enough, since
// every lookup re-resolves through the registry.
func (s *Session) ClearHub() { s.cfg.Hub = runtime.ID{} }

func (s *Session) hubSession() (*hub.Session, bool) {
	if s.hubs == nil || s.cfg.Hub == (runtime.ID{}) {
		return nil, false
	}
	return s.hubs.Get(s.cfg.Hub)
}

func (s *Session) postf(priority logging.Priority, format string, args ...any) {
	if s.sink == nil {
		return
	}
	s.sink.Post(priority, fmt.Sprintf(format, args...))
}
