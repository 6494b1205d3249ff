package hub

import (
	"time"

	"github.com/amrav/ncdc/internal/charset"
	"github.com/amrav/ncdc/internal/dcerr"
	"github.com/amrav/ncdc/internal/logging"
	"github.com/amrav/ncdc/internal/netconn"
	"github.com/amrav/ncdc/internal/runtime"
	"github.com/amrav/ncdc/internal/sharetree"
)

const (
	advertiseInterval = 5 * time.Minute
	reconnectDelay    = 30 * time.Second
	// idleTimeout is the hard idle-read cap this client layers on top of
	// the hub's own keepalive traffic: no frame for 4 minutes is treated
	// as a dead link rather than waited out indefinitely.
	idleTimeout = 4 * time.Minute
)

// New constructs a Session and dials remote, defaulting to port 411
// for the legacy protocol and 412 for the modern one (ncdc's own
// conventional defaults; spec.md doesn't mandate a port number).
func New(dialect Dialect, remote string, cfg Config, tree *sharetree.Tree, sink logging.Sink, rt *runtime.Runtime, hooks Hooks, udpSend func(addr string, payload []byte) error) (*Session, error) {
	s := &Session{
		Dialect:     dialect,
		bridge:      charset.New(cfg.Encoding),
		cfg:         cfg,
		tree:        tree,
		sink:        sink,
		rt:          rt,
		hooks:       hooks,
		udpSend:     udpSend,
		usersByKey:  map[string]*User{},
		usersByNick: map[string]*User{},
		grants:      map[string]bool{},
	}
	defaultPort := 411
	if dialect == Modern {
		defaultPort = 412
	}
	conn, err := netconn.Dial(remote, defaultPort, s.delim(), rt.Post, netconn.Handlers{
		OnConnect: s.onConnect,
		OnCommand: s.onCommand,
		OnError:   s.onError,
	})
	if err != nil {
		return nil, err
	}
	s.conn = conn
	return s, nil
}

// Wrap adapts an already-connected conn (used by tests that don't
// want to open a real socket) into a Session.
func Wrap(dialect Dialect, conn *netconn.Conn, cfg Config, tree *sharetree.Tree, sink logging.Sink, rt *runtime.Runtime, hooks Hooks, udpSend func(addr string, payload []byte) error) *Session {
	return &Session{
		Dialect:     dialect,
		conn:        conn,
		bridge:      charset.New(cfg.Encoding),
		cfg:         cfg,
		tree:        tree,
		sink:        sink,
		rt:          rt,
		hooks:       hooks,
		udpSend:     udpSend,
		usersByKey:  map[string]*User{},
		usersByNick: map[string]*User{},
		grants:      map[string]bool{},
	}
}

func (s *Session) delim() byte {
	if s.Dialect == Modern {
		return '\n'
	}
	return '|'
}

func (s *Session) onConnect() {
	if s.Dialect == Modern {
		// Nothing to send yet; the hub leads with ISID.
		return
	}
	// Legacy: wait for $Lock.
}

func (s *Session) onCommand(frame []byte) {
	if s.closed {
		return
	}
	s.touchIdle()
	if s.Dialect == Legacy {
		s.handleLegacyFrame(frame)
	} else {
		s.handleModernFrame(string(frame))
	}
}

func (s *Session) onError(err *dcerr.Error) {
	s.lastErr = err
	if err.Kind == dcerr.KindIO {
		s.Disconnect()
		if !dcerr.Cancelled(err) {
			s.armReconnect()
		}
	}
}

// touchIdle reschedules the idle-read timer on every inbound frame. A
// gap longer than idleTimeout is surfaced as an uncancelled io error,
// the same path a genuine socket error takes.
func (s *Session) touchIdle() {
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = s.rt.AfterFunc(idleTimeout, func() {
		s.onError(dcerr.IO(dcerr.PhaseReceive, "no data for "+idleTimeout.String(), nil))
	})
}

// logProtocol records a dropped-frame diagnostic: protocol/parse
// errors on a single frame are logged, not fatal, per spec.md §7.
func (s *Session) logProtocol(msg string) {
	s.postf(logging.PriorityLow, "hub: %s", msg)
}

// armReconnect schedules the 30-second reconnect timer, replacing any
// timer already pending so at most one is ever armed at a time.
func (s *Session) armReconnect() {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = s.rt.AfterFunc(reconnectDelay, s.reconnectFired)
}

// reconnectFired runs when the reconnect timer armed by armReconnect
// expires, split out from armReconnect so tests can trigger it without
// waiting out reconnectDelay.
func (s *Session) reconnectFired() {
	s.postf(logging.PriorityMedium, "reconnect timer fired for %s", s.cfg.Nick)
	if s.hooks.OnReconnect != nil {
		s.hooks.OnReconnect()
	}
}

// Disconnect tears the session down. Idempotent: repeated calls
// collapse into the first, per spec.md §5's cancellation guarantees.
func (s *Session) Disconnect() {
	if s.closed {
		return
	}
	s.closed = true
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	if s.adTicker != nil {
		s.adTicker.Stop()
		s.adTicker = nil
	}
	s.conn.Disconnect()
}

// StartAdvertising arms the 5-minute self-advertisement tick. Callers
// invoke this once the session has joined (after $Hello / after
// IINF), not at construction, so the first advertisement always goes
// out as part of the join sequence instead of waiting 5 minutes.
func (s *Session) StartAdvertising() {
	if s.adTicker != nil {
		return
	}
	s.adTicker = s.rt.TickFunc(advertiseInterval, s.tick)
}

// tick is the 5-minute self-advertisement callback. Per spec.md §5, if
// this fires during a command handler it is processed after the
// handler returns — guaranteed here because both the ticker goroutine
// and the handler post their work through the same Runtime.Post
// channel, so they serialize in arrival order.
func (s *Session) tick() {
	if !s.nickValidated {
		return
	}
	if s.Dialect == Legacy {
		s.sendLegacyAdvertisement()
	} else {
		s.sendModernAdvertisement()
	}
}

// LastError returns the most recent error recorded against this
// session (the "first error during a command seals the connection"
// bookkeeping spec.md §3 describes for CCSession also applies here in
// spirit, though a hub session only disconnects on io errors).
func (s *Session) LastError() *dcerr.Error { return s.lastErr }
