package monitoring

import (
	"io"
	"log"
	"sync"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer // actionable warnings, delivery failures, lifecycle
	Diag  io.Writer // per-frame summaries, tuning context
	Trace io.Writer // per-detection telemetry
}

// Streams is a prefixed set of ops/diag/trace loggers owned by one package.
// A nil logger disables its stream.
type Streams struct {
	prefix string

	mu    sync.RWMutex
	ops   *log.Logger
	diag  *log.Logger
	trace *log.Logger
}

var (
	registryMu sync.Mutex
	registry   []*Streams
	current    LogWriters
)

// NewStreams creates a Streams with the given prefix and registers it so that
// SetLogWriters reaches it. Streams created after SetLogWriters inherit the
// writers already configured.
func NewStreams(prefix string) *Streams {
	s := &Streams{prefix: prefix}
	registryMu.Lock()
	registry = append(registry, s)
	w := current
	registryMu.Unlock()
	s.SetWriters(w)
	return s
}

// SetLogWriters configures every registered package's streams at once.
// Pass nil for any writer to disable that stream.
func SetLogWriters(w LogWriters) {
	registryMu.Lock()
	current = w
	all := append([]*Streams(nil), registry...)
	registryMu.Unlock()
	for _, s := range all {
		s.SetWriters(w)
	}
}

// SetWriters configures only this package's streams.
func (s *Streams) SetWriters(w LogWriters) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ops = newLogger(s.prefix, w.Ops)
	s.diag = newLogger(s.prefix, w.Diag)
	s.trace = newLogger(s.prefix, w.Trace)
}

// newLogger creates a *log.Logger for a given writer, or returns nil if w is nil.
func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func (s *Streams) Opsf(format string, args ...interface{}) {
	s.mu.RLock()
	l := s.ops
	s.mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func (s *Streams) Diagf(format string, args ...interface{}) {
	s.mu.RLock()
	l := s.diag
	s.mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func (s *Streams) Tracef(format string, args ...interface{}) {
	s.mu.RLock()
	l := s.trace
	s.mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// TraceEnabled reports whether the trace stream has a writer, so callers can
// skip building expensive trace lines.
func (s *Streams) TraceEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trace != nil
}
