// Package logging wraps a structured zap logger with a bounded
// in-memory ring buffer of recent lines, so a UI (out of scope here)
// or a test can inspect what was logged without re-parsing stdout, and
// with the abstract per-tab message sink spec.md §7 requires for
// user-visible messages.
package logging

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Priority classifies a user-visible message for the message sink.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "low"
	}
}

// Line is one ring-buffer entry.
type Line struct {
	Priority Priority
	Text     string
}

// Sink is the abstract per-tab message sink from spec.md §7: user-
// visible text bound to the owning UI tab, carrying a priority.
type Sink interface {
	Post(priority Priority, text string)
}

// Ring is a bounded in-memory Sink, also usable directly as a test
// fake by reading back Lines().
type Ring struct {
	mu       sync.Mutex
	lines    []Line
	maxLines int
	log      *zap.Logger
}

// NewRing returns a Ring backed by log for structured output, keeping
// at most maxLines of history (default 2000 if <= 0).
func NewRing(log *zap.Logger, maxLines int) *Ring {
	if maxLines <= 0 {
		maxLines = 2000
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ring{maxLines: maxLines, log: log}
}

// Post implements Sink.
func (r *Ring) Post(priority Priority, text string) {
	r.mu.Lock()
	r.lines = append(r.lines, Line{Priority: priority, Text: text})
	if len(r.lines) > r.maxLines {
		r.lines = r.lines[len(r.lines)-r.maxLines:]
	}
	r.mu.Unlock()

	switch priority {
	case PriorityHigh:
		r.log.Warn(text)
	case PriorityMedium:
		r.log.Info(text)
	default:
		r.log.Debug(text)
	}
}

// Lines returns a snapshot of the buffered history, oldest first.
func (r *Ring) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Line, len(r.lines))
	copy(out, r.lines)
	return out
}

// New builds a production zap.Logger writing leveled, JSON-free
// console output — matching the teacher's plain-text log lines rather
// than structured JSON, since nothing downstream here parses logs.
func New(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return cfg.Build()
}
