// Package netconn implements a delimiter-framed, half-duplex-capable
// byte transport: it interleaves command frames with raw
// file-byte-range sends, and reports connect/read/write errors as
// distinct events.
//
// Callbacks never run on the socket-reading goroutine directly — they
// are handed to the post function supplied by the caller (normally
// (*runtime.Runtime).Post), which serialises them onto a single
// dispatcher goroutine. This gives session state machines a single
// consistent order of events to react to without needing their own
// locks.
package netconn

import (
	"bytes"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/amrav/ncdc/internal/dcerr"
)

// MaxFrameSize is the hard cap on a single frame: anything larger is a
// protocol error.
const MaxFrameSize = 64 * 1024

// Handlers groups the callbacks a Conn reports through.
type Handlers struct {
	OnConnect func()
	OnCommand func(frame []byte)
	OnError   func(err *dcerr.Error)
	// OnFileSent fires once a SendFile job finishes streaming
	// successfully, so a caller tracking in-flight byte counts (e.g.
	// the C↔C session's slot admission bookkeeping) can zero them out
	// without guessing at transfer duration.
	OnFileSent func()
}

// Conn is one duplex, delimiter-framed connection.
type Conn struct {
	raw   net.Conn
	delim byte
	post  func(func())
	h     Handlers

	jobs      chan writeJob
	quit      chan struct{}
	closed    atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type writeJob struct {
	data       []byte // non-nil for a plain command/raw write
	filePath   string // non-empty for a file-range streaming job
	fileOffset int64
	fileLength int64
}

// ensureAddr appends defaultPort to remote if it has no port of its
// own, per spec §4.4's connect(remote, default_port, ...).
func ensureAddr(remote string, defaultPort int) string {
	if _, _, err := net.SplitHostPort(remote); err == nil {
		return remote
	}
	return net.JoinHostPort(remote, strconv.Itoa(defaultPort))
}

// Dial resolves remote (optionally defaulting its port) and connects,
// invoking h.OnConnect via post once the socket is established.
func Dial(remote string, defaultPort int, delim byte, post func(func()), h Handlers) (*Conn, error) {
	addr := ensureAddr(remote, defaultPort)
	raw, err := net.Dial("tcp", addr)
	if err != nil {
		e := dcerr.IO(dcerr.PhaseConnect, "dial "+addr, err)
		if h.OnError != nil {
			post(func() { h.OnError(e) })
		}
		return nil, e
	}
	return Wrap(raw, delim, post, h), nil
}

// Wrap adapts an already-established connection (e.g. one returned by
// net.Listener.Accept, for an incoming C↔C connection) into a Conn.
func Wrap(raw net.Conn, delim byte, post func(func()), h Handlers) *Conn {
	c := &Conn{raw: raw, delim: delim, post: post, h: h, jobs: make(chan writeJob, 64), quit: make(chan struct{})}
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	if h.OnConnect != nil {
		post(h.OnConnect)
	}
	return c
}

// RemoteAddr exposes the underlying socket's remote address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Send enqueues buf as a command frame, appending the delimiter.
func (c *Conn) Send(buf []byte) error {
	return c.enqueue(append(append([]byte{}, buf...), c.delim))
}

// SendRaw enqueues bytes with no delimiter appended.
func (c *Conn) SendRaw(buf []byte) error {
	return c.enqueue(append([]byte{}, buf...))
}

// SendFile queues length bytes of path starting at offset. Once this
// job reaches the front of the write queue, command output is
// suspended until the file range has been fully streamed — spec
// §4.4's "streaming a file-byte-range from disk (file_left > 0)"
// output mode.
func (c *Conn) SendFile(path string, offset, length int64) error {
	if c.closed.Load() {
		return dcerr.Cancel(dcerr.PhaseSend)
	}
	select {
	case c.jobs <- writeJob{filePath: path, fileOffset: offset, fileLength: length}:
		return nil
	default:
		return dcerr.IO(dcerr.PhaseSend, "write queue full", nil)
	}
}

func (c *Conn) enqueue(data []byte) error {
	if c.closed.Load() {
		return dcerr.Cancel(dcerr.PhaseSend)
	}
	select {
	case c.jobs <- writeJob{data: data}:
		return nil
	default:
		return dcerr.IO(dcerr.PhaseSend, "write queue full", nil)
	}
}

// Disconnect closes the socket and drops both buffers. Idempotent:
// repeated calls collapse into the first.
func (c *Conn) Disconnect() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.quit)
		_ = c.raw.Close()
	})
}

func (c *Conn) readLoop() {
	defer c.wg.Done()
	var buf bytes.Buffer
	chunk := make([]byte, 32*1024)
	for {
		n, err := c.raw.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			if err := c.drainFrames(&buf); err != nil {
				if c.h.OnError != nil {
					c.post(func() { c.h.OnError(err) })
				}
				c.Disconnect()
				return
			}
		}
		if err != nil {
			if c.h.OnError != nil {
				var e *dcerr.Error
				if c.closed.Load() {
					e = dcerr.Cancel(dcerr.PhaseReceive)
				} else if err == io.EOF {
					e = dcerr.IO(dcerr.PhaseReceive, "connection closed", err)
				} else {
					e = dcerr.IO(dcerr.PhaseReceive, "read failed", err)
				}
				c.post(func() { c.h.OnError(e) })
			}
			c.Disconnect()
			return
		}
	}
}

// drainFrames extracts every complete delimiter-terminated frame
// currently in buf and posts it via OnCommand, in order.
func (c *Conn) drainFrames(buf *bytes.Buffer) *dcerr.Error {
	for {
		b := buf.Bytes()
		idx := bytes.IndexByte(b, c.delim)
		if idx < 0 {
			if buf.Len() > MaxFrameSize {
				return dcerr.New(dcerr.KindProtocol, "frame exceeds maximum size with no delimiter")
			}
			return nil
		}
		if idx > MaxFrameSize {
			return dcerr.New(dcerr.KindProtocol, "frame exceeds maximum size")
		}
		frame := make([]byte, idx)
		copy(frame, b[:idx])
		buf.Next(idx + 1)
		if c.h.OnCommand != nil {
			c.post(func() { c.h.OnCommand(frame) })
		}
	}
}

func (c *Conn) writeLoop() {
	defer c.wg.Done()
	for {
		var job writeJob
		select {
		case <-c.quit:
			return
		case j, ok := <-c.jobs:
			if !ok {
				return
			}
			job = j
		}
		var err error
		if job.filePath != "" {
			err = c.streamFile(job)
			if err == nil && c.h.OnFileSent != nil {
				c.post(c.h.OnFileSent)
			}
		} else {
			_, err = c.raw.Write(job.data)
		}
		if err != nil {
			if c.h.OnError != nil {
				var e *dcerr.Error
				if c.closed.Load() {
					e = dcerr.Cancel(dcerr.PhaseSend)
				} else {
					e = dcerr.IO(dcerr.PhaseSend, "write failed", err)
				}
				c.post(func() { c.h.OnError(e) })
			}
			c.Disconnect()
			return
		}
	}
}

func (c *Conn) streamFile(job writeJob) error {
	f, err := os.Open(job.filePath)
	if err != nil {
		return err
	}
	defer f.Close()
	if job.fileOffset > 0 {
		if _, err := f.Seek(job.fileOffset, io.SeekStart); err != nil {
			return err
		}
	}
	_, err = io.CopyN(c.raw, f, job.fileLength)
	return err
}

// Wait blocks until both the reader and writer goroutines have
// returned, for tests that need deterministic teardown.
func (c *Conn) Wait() { c.wg.Wait() }

// SplitFields is a small convenience re-exported for callers that need
// to split a command's parameters on plain ASCII spaces without
// pulling in the charset package (e.g. the legacy dialect's outer
// command-name split, which never contains escaped text).
func SplitFields(s string) []string {
	return strings.Fields(s)
}
