// Package monitor records per-frame timing and signal telemetry from the
// pipeline and renders it as debug charts and offline plots.
package monitor

import (
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/fallwatch/internal/pipeline"
	"github.com/banshee-data/fallwatch/internal/timeutil"
)

// FrameSample is one processed frame.
type FrameSample struct {
	StreamID string        `json:"stream_id"`
	Index    uint64        `json:"index"`
	At       time.Time     `json:"at"`
	Took     time.Duration `json:"took_ns"`
	Tracks   int           `json:"tracks"`
	Flagged  int           `json:"flagged"`
	Alerts   int           `json:"alerts"`
}

// LatencySummary describes the distribution of per-frame processing time in
// milliseconds.
type LatencySummary struct {
	Frames   int     `json:"frames"`
	MeanMs   float64 `json:"mean_ms"`
	StdDevMs float64 `json:"stddev_ms"`
	P50Ms    float64 `json:"p50_ms"`
	P95Ms    float64 `json:"p95_ms"`
	MaxMs    float64 `json:"max_ms"`
}

// StatsSnapshot summarises the samples currently held.
type StatsSnapshot struct {
	Latency     LatencySummary `json:"latency"`
	TotalFrames uint64         `json:"total_frames"`
	TotalAlerts uint64         `json:"total_alerts"`
	MeanTracks  float64        `json:"mean_tracks"`
	Timestamp   time.Time      `json:"timestamp"`
}

// FrameStats keeps the most recent frames in a ring and implements
// pipeline.FrameObserver.
type FrameStats struct {
	mu      sync.Mutex
	samples []FrameSample
	next    int
	full    bool

	totalFrames uint64
	totalAlerts uint64
	clock       timeutil.Clock
}

var _ pipeline.FrameObserver = (*FrameStats)(nil)

// NewFrameStats creates a ring holding up to capacity samples.
func NewFrameStats(capacity int) *FrameStats {
	return NewFrameStatsWithClock(capacity, nil)
}

// NewFrameStatsWithClock is NewFrameStats with sample times read from clock.
func NewFrameStatsWithClock(capacity int, clock timeutil.Clock) *FrameStats {
	if capacity <= 0 {
		capacity = 1024
	}
	return &FrameStats{
		samples: make([]FrameSample, capacity),
		clock:   timeutil.OrReal(clock),
	}
}

// ObserveFrame records one frame.
func (fs *FrameStats) ObserveFrame(res pipeline.FrameResult, took time.Duration) {
	flagged := 0
	for _, t := range res.Tracks {
		if t.Verdict.Combined {
			flagged++
		}
	}
	s := FrameSample{
		StreamID: res.StreamID,
		Index:    res.Index,
		At:       fs.clock.Now(),
		Took:     took,
		Tracks:   len(res.Tracks),
		Flagged:  flagged,
		Alerts:   len(res.Alerts),
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.samples[fs.next] = s
	fs.next = (fs.next + 1) % len(fs.samples)
	if fs.next == 0 {
		fs.full = true
	}
	fs.totalFrames++
	fs.totalAlerts += uint64(s.Alerts)
}

// Samples returns the held samples oldest first, optionally restricted to
// one stream.
func (fs *FrameStats) Samples(stream string) []FrameSample {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var ordered []FrameSample
	if fs.full {
		ordered = append(ordered, fs.samples[fs.next:]...)
	}
	ordered = append(ordered, fs.samples[:fs.next]...)

	if stream == "" {
		return ordered
	}
	out := ordered[:0]
	for _, s := range ordered {
		if s.StreamID == stream {
			out = append(out, s)
		}
	}
	return out
}

// Snapshot computes summary statistics over the held samples.
func (fs *FrameStats) Snapshot(stream string) StatsSnapshot {
	samples := fs.Samples(stream)

	fs.mu.Lock()
	snap := StatsSnapshot{
		TotalFrames: fs.totalFrames,
		TotalAlerts: fs.totalAlerts,
		Timestamp:   fs.clock.Now(),
	}
	fs.mu.Unlock()

	if len(samples) == 0 {
		return snap
	}

	ms := make([]float64, len(samples))
	tracks := make([]float64, len(samples))
	for i, s := range samples {
		ms[i] = float64(s.Took) / float64(time.Millisecond)
		tracks[i] = float64(s.Tracks)
	}
	snap.Latency = Summarise(ms)
	snap.MeanTracks = stat.Mean(tracks, nil)
	return snap
}

// Summarise computes a LatencySummary over millisecond values.
func Summarise(ms []float64) LatencySummary {
	if len(ms) == 0 {
		return LatencySummary{}
	}
	sorted := append([]float64(nil), ms...)
	sort.Float64s(sorted)

	sum := LatencySummary{
		Frames: len(sorted),
		MeanMs: stat.Mean(sorted, nil),
		P50Ms:  stat.Quantile(0.5, stat.Empirical, sorted, nil),
		P95Ms:  stat.Quantile(0.95, stat.Empirical, sorted, nil),
		MaxMs:  sorted[len(sorted)-1],
	}
	if len(sorted) > 1 {
		sum.StdDevMs = stat.StdDev(sorted, nil)
	}
	return sum
}
