package cc

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"strings"
	"time"

	"github.com/amrav/ncdc/internal/dcerr"
	"github.com/amrav/ncdc/internal/hub"
	"github.com/amrav/ncdc/internal/logging"
	"github.com/amrav/ncdc/internal/netconn"
	"github.com/amrav/ncdc/internal/runtime"
	"github.com/amrav/ncdc/internal/sharetree"
	"github.com/amrav/ncdc/internal/store"
)

// newChallenge mints a fresh $Lock challenge of the form the legacy
// unlock-key algorithm expects: the literal EXTENDEDPROTOCOL marker
// followed by filler bytes unique enough that two simultaneous
// sessions don't compute the same key.
func newChallenge() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	return "EXTENDEDPROTOCOL" + hex.EncodeToString(buf[:])
}

// Dial actively opens a C↔C connection (the $ConnectToMe path: we
// learned the peer's address from the hub and dial out).
func Dial(remote string, cfg Config, tree *sharetree.Tree, st store.Store, sink logging.Sink, rt *runtime.Runtime, registry *runtime.Registry[*Session], hubs *runtime.Registry[*hub.Session]) (*Session, error) {
	s := newSession(cfg, tree, st, sink, rt, registry, hubs)
	conn, err := netconn.Dial(remote, 412, '|', rt.Post, s.handlers())
	if err != nil {
		return nil, err
	}
	s.conn = conn
	registry.Put(s.id, s)
	return s, nil
}

// Wrap adapts an already-accepted inbound raw connection (the
// $RevConnectToMe path, or a peer dialing us directly) into a Session.
func Wrap(raw net.Conn, cfg Config, tree *sharetree.Tree, st store.Store, sink logging.Sink, rt *runtime.Runtime, registry *runtime.Registry[*Session], hubs *runtime.Registry[*hub.Session]) *Session {
	s := newSession(cfg, tree, st, sink, rt, registry, hubs)
	s.conn = netconn.Wrap(raw, '|', rt.Post, s.handlers())
	registry.Put(s.id, s)
	return s
}

func newSession(cfg Config, tree *sharetree.Tree, st store.Store, sink logging.Sink, rt *runtime.Runtime, registry *runtime.Registry[*Session], hubs *runtime.Registry[*hub.Session]) *Session {
	return &Session{
		id:             runtime.NewID(),
		cfg:            cfg,
		tree:           tree,
		st:             st,
		sink:           sink,
		rt:             rt,
		registry:       registry,
		hubs:           hubs,
		localChallenge: newChallenge(),
	}
}

func (s *Session) handlers() netconn.Handlers {
	return netconn.Handlers{
		OnConnect:  s.onConnect,
		OnCommand:  s.onCommand,
		OnError:    s.onError,
		OnFileSent: s.onFileSent,
	}
}

func (s *Session) onConnect() {
	s.send("$MyNick " + s.cfg.Nick)
	s.send("$Lock " + s.localChallenge + " Pk=ncdc")
}

func (s *Session) onCommand(frame []byte) {
	if s.sealed || s.closed {
		return
	}
	s.touchActivity()
	text := string(frame)
	cmd, rest := splitCommand(text)
	switch cmd {
	case "$MyNick":
		s.handleMyNick(rest)
	case "$Lock":
		s.handleLock(rest)
	case "$Supports":
		s.handleSupports(rest)
	case "$Direction":
		s.handleDirection(rest)
	case "$ADCGET":
		s.handleADCGet(rest)
	case "$Error", "$MaxedOut":
		// Replies we'd only see acting as a downloader, out of scope.
	default:
		// Unhandled commands are dropped, per spec.md §7.
	}
}

func splitCommand(text string) (cmd, rest string) {
	i := strings.IndexByte(text, ' ')
	if i < 0 {
		return text, ""
	}
	return text[:i], text[i+1:]
}

func (s *Session) send(line string) {
	_ = s.conn.Send([]byte(line))
}

func (s *Session) onError(err *dcerr.Error) {
	s.lastErr = err
	if err.Kind == dcerr.KindIO {
		s.Disconnect()
	}
}

// seal records a protocol/parse error as the session's last error and
// schedules disconnection, per spec.md §7: "any protocol or parse
// error sets the session's last-error field and schedules
// disconnection" — the first such error wins, later ones are no-ops.
func (s *Session) seal(kind dcerr.Kind, message string) {
	if s.sealed {
		return
	}
	s.sealed = true
	s.lastErr = dcerr.New(kind, message)
	s.postf(logging.PriorityLow, "cc %s: %s", s.peerNick, message)
	s.Disconnect()
}

// LastError returns the most recent error recorded against this
// session.
func (s *Session) LastError() *dcerr.Error { return s.lastErr }

func (s *Session) touchActivity() {
	s.lastActivity = time.Now()
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = s.rt.AfterFunc(idleTimeout, func() {
		s.seal(dcerr.KindIO, "idle timeout")
	})
}

// Disconnect tears the transport down and arms the 30-second deferred
// free timer spec.md §4.6 requires so in-flight reply frames can
// drain before the registry entry is removed. Idempotent.
func (s *Session) Disconnect() {
	if s.closed {
		return
	}
	s.closed = true
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.conn.Disconnect()
	s.freeTimer = s.rt.AfterFunc(deferredFreeDelay, s.free)
}

func (s *Session) free() {
	if s.registry != nil {
		s.registry.Delete(s.id)
	}
}

// onFileSent clears the in-flight byte count once a queued SendFile
// job finishes, so slot.InUse stops counting this session.
func (s *Session) onFileSent() {
	s.mu.Lock()
	sent := s.lastLength
	s.remaining = 0
	s.mu.Unlock()
	if s.cfg.OnBytesServed != nil {
		s.cfg.OnBytesServed(sent)
	}
}
