package fall

import (
	"fmt"

	"github.com/banshee-data/fallwatch/internal/detect"
)

// State is the observable per-identity fall state.
type State string

const (
	StateNormal  State = "normal"  // No fall reported, or cleared by an unflagged frame
	StateAlerted State = "alerted" // A fall was reported and has not yet cleared
)

// Verdict is the full per-frame classification of one identity.
type Verdict struct {
	Pose     bool `json:"pose"`
	Aspect   bool `json:"aspect"`
	Motion   bool `json:"motion"`
	Combined bool `json:"combined"`
	Fallen   bool `json:"fallen"` // Persistence threshold met this frame
	Alert    bool `json:"alert"`  // Entered the fallen state; raise one alert

	PoseKnown     bool    `json:"pose_known"`
	TorsoAngleDeg float64 `json:"torso_angle_deg"`
	AspectRatio   float64 `json:"aspect_ratio"`
	DropPx        float64 `json:"drop_px"`
}

// Signals returns how many of the three signals fired.
func (v Verdict) Signals() int {
	n := 0
	for _, s := range []bool{v.Pose, v.Aspect, v.Motion} {
		if s {
			n++
		}
	}
	return n
}

// history is the per-identity feature record.
type history struct {
	boxes   []detect.Box // oldest first, at most HistoryLen
	flags   []bool       // oldest first, at most FlagWindow
	alerted bool
}

func (h *history) last() *detect.Box {
	if len(h.boxes) == 0 {
		return nil
	}
	b := h.boxes[len(h.boxes)-1]
	return &b
}

func (h *history) push(box detect.Box, flag bool, cfg ClassifierConfig) {
	h.boxes = appendBounded(h.boxes, box, cfg.HistoryLen)
	h.flags = appendBounded(h.flags, flag, cfg.FlagWindow)
}

func (h *history) flagged() int {
	n := 0
	for _, f := range h.flags {
		if f {
			n++
		}
	}
	return n
}

func appendBounded[T any](s []T, v T, limit int) []T {
	if len(s) >= limit {
		copy(s, s[len(s)-limit+1:])
		s = s[:limit-1]
	}
	return append(s, v)
}

// Classifier owns the per-identity history table for one stream. It is not
// safe for concurrent use.
type Classifier struct {
	config  ClassifierConfig
	table   map[int]*history
	live    map[int]struct{}
	guarded bool
}

// NewClassifier creates a Classifier. It panics on a non-positive threshold
// or a persistence count larger than the flag window.
func NewClassifier(config ClassifierConfig) *Classifier {
	if err := config.check(); err != nil {
		panic("fall: " + err.Error())
	}
	return &Classifier{
		config: config,
		table:  make(map[int]*history),
	}
}

// Config returns the classifier configuration.
func (c *Classifier) Config() ClassifierConfig { return c.config }

// BeginFrame declares the identities the tracker produced for the current
// frame. From the first call on, Classify and Evaluate panic for any other
// identity. History for identities missing from live is dropped, since the
// tracker never reissues a lost identity.
func (c *Classifier) BeginFrame(live []int) {
	set := make(map[int]struct{}, len(live))
	for _, id := range live {
		set[id] = struct{}{}
	}
	for id := range c.table {
		if _, ok := set[id]; !ok {
			delete(c.table, id)
		}
	}
	c.live = set
	c.guarded = true
}

// Classify reports whether a new fall alert should be raised for id now.
func (c *Classifier) Classify(id int, box detect.Box, kps detect.Keypoints) bool {
	return c.Evaluate(id, box, kps).Alert
}

// Evaluate computes every signal for id, advances its history and returns
// the full verdict.
func (c *Classifier) Evaluate(id int, box detect.Box, kps detect.Keypoints) Verdict {
	if c.guarded {
		if _, ok := c.live[id]; !ok {
			panic(fmt.Sprintf("fall: identity %d was not produced by the tracker this frame", id))
		}
	}
	box = box.Normalize()

	h := c.table[id]
	if h == nil {
		h = &history{}
		c.table[id] = h
	}

	var v Verdict
	v.Pose, v.TorsoAngleDeg, v.PoseKnown = poseSignal(c.config, kps)
	v.Aspect, v.AspectRatio = aspectSignal(c.config, box)
	v.Motion, v.DropPx = motionSignal(c.config, box, h.last())
	v.Combined = v.Signals() >= 2

	h.push(box, v.Combined, c.config)

	if !v.Combined {
		h.alerted = false
		return v
	}

	v.Fallen = h.flagged() >= c.config.MinPersistence
	if v.Fallen && !h.alerted {
		h.alerted = true
		v.Alert = true
	}
	return v
}

// State returns the fall state of id. Unknown identities are Normal.
func (c *Classifier) State(id int) State {
	if h := c.table[id]; h != nil && h.alerted {
		return StateAlerted
	}
	return StateNormal
}

// Tracked returns the number of identities with history.
func (c *Classifier) Tracked() int { return len(c.table) }
