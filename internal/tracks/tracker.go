package tracks

import (
	"fmt"

	"github.com/banshee-data/fallwatch/internal/config"
	"github.com/banshee-data/fallwatch/internal/detect"
)

// TrackerConfig holds configuration parameters for the tracker.
type TrackerConfig struct {
	IoUThreshold float64 // Best IoU must exceed this to reuse a track
}

// DefaultTrackerConfig returns default tracker configuration.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{IoUThreshold: 0.3}
}

// TrackerConfigFromTuning derives tracker config from a TuningConfig.
func TrackerConfigFromTuning(c *config.TuningConfig) TrackerConfig {
	return TrackerConfig{IoUThreshold: c.GetIoUThreshold()}
}

// Track is a live identity with its most recent matched box.
type Track struct {
	ID  int        `json:"id"`
	Box detect.Box `json:"box"`
}

// Assignment pairs an input detection with the identity it received.
type Assignment struct {
	ID        int
	Detection detect.Detection
}

// Tracker owns the live track set for one stream. It is not safe for
// concurrent use.
type Tracker struct {
	config TrackerConfig
	live   []Track // ascending by ID
	nextID int
}

// NewTracker creates a Tracker. It panics if the IoU threshold is not
// positive.
func NewTracker(config TrackerConfig) *Tracker {
	if !(config.IoUThreshold > 0) {
		panic(fmt.Sprintf("tracks: IoU threshold must be positive, got %v", config.IoUThreshold))
	}
	return &Tracker{config: config, nextID: 1}
}

// Config returns the tracker configuration.
func (t *Tracker) Config() TrackerConfig { return t.config }

// Update matches dets against the live tracks and returns one assignment per
// detection in input order. Tracks left unmatched are deleted.
func (t *Tracker) Update(dets []detect.Detection) []Assignment {
	out := make([]Assignment, 0, len(dets))
	assigned := make([]bool, len(t.live))
	var born []Track

	for _, d := range dets {
		d.Box = d.Box.Normalize()

		best, bestIoU := -1, 0.0
		for i := range t.live {
			if assigned[i] {
				continue
			}
			if iou := detect.IoU(d.Box, t.live[i].Box); iou > bestIoU {
				best, bestIoU = i, iou
			}
		}

		if best >= 0 && bestIoU > t.config.IoUThreshold {
			assigned[best] = true
			t.live[best].Box = d.Box
			out = append(out, Assignment{ID: t.live[best].ID, Detection: d})
			continue
		}

		id := t.nextID
		t.nextID++
		born = append(born, Track{ID: id, Box: d.Box})
		out = append(out, Assignment{ID: id, Detection: d})
	}

	// Survivors keep ascending order; newborn IDs are all larger.
	next := make([]Track, 0, len(out))
	for i, tr := range t.live {
		if assigned[i] {
			next = append(next, tr)
		}
	}
	t.live = append(next, born...)

	return out
}

// Live returns a copy of the live tracks in ascending ID order.
func (t *Tracker) Live() []Track {
	out := make([]Track, len(t.live))
	copy(out, t.live)
	return out
}

// Reset drops every live track. IDs already issued are never reused.
func (t *Tracker) Reset() {
	t.live = nil
}
