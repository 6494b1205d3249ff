// Package runtime implements the single-threaded cooperative event
// loop spec.md §5 and §9 describe: a dispatcher goroutine that serialises
// every session callback, plus the process-wide hub/C↔C session
// registries. Per spec.md §9's design notes, sessions are not held by
// direct pointer across package boundaries — they are looked up by
// opaque ID in a Registry, so "clear the hub back-reference" is just
// writing a zero ID, sidestepping ownership cycles between a hub
// session and its C↔C children.
package runtime

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ID is an opaque registry key. The zero value never names a live
// session (uuid.Nil), so it doubles as "no reference".
type ID = uuid.UUID

// NewID mints a fresh opaque session id, replacing the teacher's
// hand-rolled fileNewUUID with the real ecosystem package.
func NewID() ID { return uuid.New() }

// Registry is an arena of values keyed by opaque ID. It is the generic
// backer for both the hub-session and C↔C-session process-wide lists
// spec.md §9 calls out as "global registries" that should be scoped
// state, not true globals — callers construct Registry instances
// alongside the Runtime (cmd/ncdc keeps them on its app struct), never
// in a package-level variable.
type Registry[T any] struct {
	mu sync.RWMutex
	m  map[ID]T
}

// NewRegistry returns an empty Registry.
func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{m: make(map[ID]T)}
}

// Put stores v under id, overwriting any previous value.
func (r *Registry[T]) Put(id ID, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[id] = v
}

// Get resolves id, returning ok=false if nothing is registered there
// (including the zero ID, which is never populated).
func (r *Registry[T]) Get(id ID) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.m[id]
	return v, ok
}

// Delete removes id. Idempotent.
func (r *Registry[T]) Delete(id ID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, id)
}

// Len reports the current registry size.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.m)
}

// Each calls fn once per entry, over a point-in-time snapshot so fn
// may itself mutate the registry (e.g. delete on disconnect) without
// deadlocking or corrupting iteration.
func (r *Registry[T]) Each(fn func(ID, T)) {
	r.mu.RLock()
	snapshot := make(map[ID]T, len(r.m))
	for k, v := range r.m {
		snapshot[k] = v
	}
	r.mu.RUnlock()
	for k, v := range snapshot {
		fn(k, v)
	}
}

// Runtime is the single dispatcher goroutine every session, timer, and
// network callback in this module posts work onto. It owns no
// business state itself — HubSessions/CCSessions are the two typed
// Registry instances callers construct alongside it and pass to
// handler constructors.
type Runtime struct {
	jobs chan func()
	quit chan struct{}
	once sync.Once
	grp  *errgroup.Group
}

// New returns a Runtime with an unbounded-enough job queue. Run must
// be called (usually from main) to start draining it.
func New() *Runtime {
	return &Runtime{
		jobs: make(chan func(), 1024),
		quit: make(chan struct{}),
		grp:  &errgroup.Group{},
	}
}

// Post enqueues f to run on the dispatcher goroutine, preserving
// source order for callbacks posted by the same caller. Post is safe
// to call from any goroutine, including socket reader goroutines and
// timer callbacks. Posting after Stop is a no-op.
func (rt *Runtime) Post(f func()) {
	select {
	case <-rt.quit:
		return
	default:
	}
	select {
	case rt.jobs <- f:
	case <-rt.quit:
	}
}

// Run drains the job queue until Stop is called. Callers run it on its
// own goroutine (go rt.Run()), which then owns the event loop.
func (rt *Runtime) Run() {
	for {
		select {
		case f := <-rt.jobs:
			f()
		case <-rt.quit:
			return
		}
	}
}

// Stop signals Run to return, ends the TickFunc and Listener
// goroutines, and waits for them. Timers from AfterFunc are not
// stopped; a job one of them posts after Stop is dropped by Post.
// Idempotent.
func (rt *Runtime) Stop() {
	rt.once.Do(func() { close(rt.quit) })
	_ = rt.grp.Wait()
}

// Timer wraps time.AfterFunc so its callback is always run on the
// dispatcher goroutine via Post — the 30-second hub reconnect timer
// and the C↔C idle-free timer are both built on this.
type Timer struct {
	t *time.Timer
}

// AfterFunc schedules f to run once, after d, serialized through Post.
func (rt *Runtime) AfterFunc(d time.Duration, f func()) *Timer {
	tm := &Timer{}
	tm.t = time.AfterFunc(d, func() { rt.Post(f) })
	return tm
}

// Stop cancels the timer if it hasn't fired yet. Safe on a nil Timer
// or one that has already fired.
func (tm *Timer) Stop() {
	if tm == nil || tm.t == nil {
		return
	}
	tm.t.Stop()
}

// Reset reschedules the timer to fire d from now, per spec.md §9's
// "reschedule on reconnect" requirement.
func (tm *Timer) Reset(d time.Duration) {
	if tm == nil || tm.t == nil {
		return
	}
	tm.t.Reset(d)
}

// Ticker wraps time.Ticker the same way Timer wraps time.AfterFunc —
// used for the 5-minute self-advertisement tick.
type Ticker struct {
	t    *time.Ticker
	stop chan struct{}
}

// TickFunc schedules f to run every d, serialized through Post, until
// Stop is called.
func (rt *Runtime) TickFunc(d time.Duration, f func()) *Ticker {
	tk := &Ticker{t: time.NewTicker(d), stop: make(chan struct{})}
	rt.grp.Go(func() error {
		for {
			select {
			case <-tk.t.C:
				rt.Post(f)
			case <-tk.stop:
				return nil
			case <-rt.quit:
				return nil
			}
		}
	})
	return tk
}

// Stop halts the ticker goroutine. Idempotent.
func (tk *Ticker) Stop() {
	tk.t.Stop()
	select {
	case <-tk.stop:
	default:
		close(tk.stop)
	}
}

// Listener wraps a net.Listener whose Accept loop runs on its own
// goroutine (coordinated with Stop via errgroup, per SPEC_FULL.md §3),
// handing each accepted connection to onAccept via Post.
func (rt *Runtime) Listener(ln net.Listener, onAccept func(net.Conn)) {
	rt.grp.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-rt.quit:
					return nil
				default:
					return err
				}
			}
			rt.Post(func() { onAccept(conn) })
		}
	})
	rt.grp.Go(func() error {
		<-rt.quit
		return ln.Close()
	})
}
