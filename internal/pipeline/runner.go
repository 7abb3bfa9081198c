package pipeline

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/fallwatch/internal/detect"
	"github.com/banshee-data/fallwatch/internal/fall"
	"github.com/banshee-data/fallwatch/internal/timeutil"
	"github.com/banshee-data/fallwatch/internal/tracks"
)

var (
	// ErrQueueFull is returned by Submit when the frame queue has no room.
	ErrQueueFull = errors.New("pipeline: frame queue full")
	// ErrClosed is returned when submitting to a closed Runner.
	ErrClosed = errors.New("pipeline: runner closed")
)

// FrameObserver is told about every processed frame and how long the core
// took on it.
type FrameObserver interface {
	ObserveFrame(res FrameResult, took time.Duration)
}

// RunnerConfig holds dependencies for a multi-stream Runner.
type RunnerConfig struct {
	Tracker    tracks.TrackerConfig
	Classifier fall.ClassifierConfig
	Sink       Sink           // Optional: receives every frame result
	Observer   FrameObserver  // Optional: per-frame timing
	QueueSize  int            // Frames buffered ahead of the engine goroutine
	Clock      timeutil.Clock // Optional: frame timing and missing timestamps
}

// RunnerStats is a snapshot of Runner counters.
type RunnerStats struct {
	Streams   int    `json:"streams"`
	Submitted uint64 `json:"submitted"`
	Dropped   uint64 `json:"dropped"`
	Processed uint64 `json:"processed"`
	Alerts    uint64 `json:"alerts"`
	Queued    int    `json:"queued"`
}

// Runner fans frames from many streams into one Engine per stream. A single
// goroutine processes frames in arrival order, so each stream's frames are
// handled strictly one at a time.
type Runner struct {
	cfg    RunnerConfig
	frames chan detect.Frame

	engines map[string]*Engine // owned by the Run goroutine

	mu      sync.RWMutex
	latest  map[string]FrameResult
	streams int

	closeMu sync.RWMutex
	closed  bool

	submitted atomic.Uint64
	dropped   atomic.Uint64
	processed atomic.Uint64
	alerts    atomic.Uint64
}

// NewRunner creates a Runner. Engines are created lazily per stream.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if isNilInterface(cfg.Sink) {
		cfg.Sink = nil
	}
	if isNilInterface(cfg.Observer) {
		cfg.Observer = nil
	}
	cfg.Clock = timeutil.OrReal(cfg.Clock)
	// Fail at construction rather than on the first frame.
	tracks.NewTracker(cfg.Tracker)
	fall.NewClassifier(cfg.Classifier)

	return &Runner{
		cfg:     cfg,
		frames:  make(chan detect.Frame, cfg.QueueSize),
		engines: make(map[string]*Engine),
		latest:  make(map[string]FrameResult),
	}
}

// Submit queues a frame without blocking. It returns ErrQueueFull when the
// engine goroutine is behind; the frame is dropped.
func (r *Runner) Submit(f detect.Frame) error {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.frames <- f:
		r.submitted.Add(1)
		return nil
	default:
		n := r.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			opsf("[Runner] Frame queue full, dropped %d frames (stream=%s)", n, f.StreamID)
		}
		return ErrQueueFull
	}
}

// SubmitWait queues a frame, waiting for room. Used for offline replay where
// every frame must be processed.
func (r *Runner) SubmitWait(ctx context.Context, f detect.Frame) error {
	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	select {
	case r.frames <- f:
		r.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting frames. Run drains what is queued and returns.
func (r *Runner) Close() {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.frames)
	}
}

// Run processes frames until Close has been called and the queue is drained,
// or until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-r.frames:
			if !ok {
				diagf("[Runner] Queue closed after %d frames", r.processed.Load())
				return nil
			}
			r.process(f)
		}
	}
}

func (r *Runner) process(f detect.Frame) {
	if f.StreamID == "" {
		f.StreamID = DefaultStreamID
	}

	eng := r.engines[f.StreamID]
	if eng == nil {
		eng = NewEngine(EngineConfig{
			StreamID:   f.StreamID,
			Tracker:    r.cfg.Tracker,
			Classifier: r.cfg.Classifier,
			Sink:       r.cfg.Sink,
			Clock:      r.cfg.Clock,
		})
		r.engines[f.StreamID] = eng
		diagf("[Runner] New stream %q", f.StreamID)
	}

	start := r.cfg.Clock.Now()
	res := eng.Step(f)
	took := r.cfg.Clock.Since(start)

	r.processed.Add(1)
	r.alerts.Add(uint64(len(res.Alerts)))

	r.mu.Lock()
	r.latest[f.StreamID] = res
	r.streams = len(r.engines)
	r.mu.Unlock()

	if r.cfg.Observer != nil {
		r.cfg.Observer.ObserveFrame(res, took)
	}
}

// Latest returns the most recent result for a stream.
func (r *Runner) Latest(stream string) (FrameResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.latest[stream]
	return res, ok
}

// Streams returns the names of all streams seen so far, sorted.
func (r *Runner) Streams() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.latest))
	for s := range r.latest {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Stats returns a snapshot of the runner counters.
func (r *Runner) Stats() RunnerStats {
	r.mu.RLock()
	streams := r.streams
	r.mu.RUnlock()
	return RunnerStats{
		Streams:   streams,
		Submitted: r.submitted.Load(),
		Dropped:   r.dropped.Load(),
		Processed: r.processed.Load(),
		Alerts:    r.alerts.Load(),
		Queued:    len(r.frames),
	}
}
