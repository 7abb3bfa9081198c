package pipeline

import (
	"reflect"

	"github.com/banshee-data/fallwatch/internal/detect"
	"github.com/banshee-data/fallwatch/internal/fall"
	"github.com/banshee-data/fallwatch/internal/timeutil"
	"github.com/banshee-data/fallwatch/internal/tracks"
)

// DefaultStreamID is used for frames that arrive without a stream name.
const DefaultStreamID = "default"

// Sink receives every frame result. Implementations must return quickly and
// never block on network or storage; a stalled sink stalls tracking.
type Sink interface {
	Publish(res FrameResult)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(FrameResult)

// Publish calls f(res).
func (f SinkFunc) Publish(res FrameResult) { f(res) }

// isNilInterface checks if an interface value is nil or contains a nil pointer.
// This handles the Go interface nil pitfall where interface{} != nil but the underlying value is nil.
func isNilInterface(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}

// EngineConfig holds the thresholds and collaborators for one stream.
type EngineConfig struct {
	StreamID   string
	Tracker    tracks.TrackerConfig
	Classifier fall.ClassifierConfig
	Sink       Sink           // Optional
	Clock      timeutil.Clock // Optional: stamps frames that carry no timestamp
}

// DefaultEngineConfig returns an EngineConfig with default thresholds and no sink.
func DefaultEngineConfig(streamID string) EngineConfig {
	return EngineConfig{
		StreamID:   streamID,
		Tracker:    tracks.DefaultTrackerConfig(),
		Classifier: fall.DefaultClassifierConfig(),
	}
}

// Engine runs tracking then classification for a single stream. It is not
// safe for concurrent use; callers serialise frames per stream.
type Engine struct {
	streamID   string
	tracker    *tracks.Tracker
	classifier *fall.Classifier
	sink       Sink
	clock      timeutil.Clock

	frames uint64
	alerts uint64
}

// NewEngine creates an Engine. It panics on invalid thresholds.
func NewEngine(cfg EngineConfig) *Engine {
	if cfg.StreamID == "" {
		cfg.StreamID = DefaultStreamID
	}
	e := &Engine{
		streamID:   cfg.StreamID,
		tracker:    tracks.NewTracker(cfg.Tracker),
		classifier: fall.NewClassifier(cfg.Classifier),
		clock:      timeutil.OrReal(cfg.Clock),
	}
	if !isNilInterface(cfg.Sink) {
		e.sink = cfg.Sink
	}
	return e
}

// StreamID returns the stream this engine serves.
func (e *Engine) StreamID() string { return e.streamID }

// Step processes one frame to completion and hands the result to the sink.
func (e *Engine) Step(frame detect.Frame) FrameResult {
	ts := frame.Timestamp
	if ts.IsZero() {
		ts = e.clock.Now()
	}

	// Stage 1: identity assignment
	assigned := e.tracker.Update(frame.Detections)

	ids := make([]int, len(assigned))
	for i, a := range assigned {
		ids[i] = a.ID
	}
	e.classifier.BeginFrame(ids)

	// Stage 2: per-identity classification
	res := FrameResult{
		StreamID:  e.streamID,
		Index:     frame.Index,
		Timestamp: ts,
		Tracks:    make([]TrackUpdate, 0, len(assigned)),
	}
	for _, a := range assigned {
		v := e.classifier.Evaluate(a.ID, a.Detection.Box, a.Detection.Keypoints)
		res.Tracks = append(res.Tracks, TrackUpdate{ID: a.ID, Box: a.Detection.Box, Verdict: v})

		tracef("[Engine] stream=%s frame=%d id=%d pose=%t aspect=%t(%.2f) motion=%t(%.1fpx) combined=%t",
			e.streamID, frame.Index, a.ID, v.Pose, v.Aspect, v.AspectRatio, v.Motion, v.DropPx, v.Combined)

		if v.Alert {
			alert := newAlert(e.streamID, frame.Index, ts, a.ID, a.Detection.Box, v)
			res.Alerts = append(res.Alerts, alert)
			diagf("[Engine] Fall alert stream=%s person=%d at %s (frame %d)",
				e.streamID, a.ID, alert.Location, frame.Index)
		}
	}

	e.frames++
	e.alerts += uint64(len(res.Alerts))

	// Stage 3: hand off
	if e.sink != nil {
		e.sink.Publish(res)
	}
	return res
}

// LiveTracks returns the tracker's current identities in ascending order.
func (e *Engine) LiveTracks() []tracks.Track { return e.tracker.Live() }

// State returns the fall state of a live identity.
func (e *Engine) State(id int) fall.State { return e.classifier.State(id) }

// Counts returns the number of frames processed and alerts raised.
func (e *Engine) Counts() (frames, alerts uint64) { return e.frames, e.alerts }
