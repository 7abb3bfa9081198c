package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/fallwatch/internal/detect"
	"github.com/banshee-data/fallwatch/internal/fall"
)

// AlertNote is the human-readable label attached to every fall alert.
const AlertNote = "Fall detected"

// TrackUpdate is one identity's outcome for one frame.
type TrackUpdate struct {
	ID      int          `json:"id"`
	Box     detect.Box   `json:"box"`
	Verdict fall.Verdict `json:"verdict"`
}

// Alert is a single fall event, ready for delivery.
type Alert struct {
	ID         uuid.UUID    `json:"id"`
	StreamID   string       `json:"stream_id"`
	PersonID   int          `json:"person_id"`
	Box        detect.Box   `json:"box"`
	Location   string       `json:"location"`
	Note       string       `json:"note"`
	FrameIndex uint64       `json:"frame_index"`
	Timestamp  time.Time    `json:"timestamp"`
	Verdict    fall.Verdict `json:"verdict"`
}

// FrameResult is everything the core produced for one frame.
type FrameResult struct {
	StreamID  string        `json:"stream_id"`
	Index     uint64        `json:"index"`
	Timestamp time.Time     `json:"timestamp"`
	Tracks    []TrackUpdate `json:"tracks"`
	Alerts    []Alert       `json:"alerts,omitempty"`
}

// Location formats the box centre the way the dashboard expects, "(cx, cy)"
// in whole pixels.
func Location(b detect.Box) string {
	return fmt.Sprintf("(%d, %d)", int(b.X)+int(b.W)/2, int(b.Y)+int(b.H)/2)
}

// BBoxString formats a box as "(x, y, w, h)" in whole pixels.
func BBoxString(b detect.Box) string {
	return fmt.Sprintf("(%d, %d, %d, %d)", int(b.X), int(b.Y), int(b.W), int(b.H))
}

func newAlert(stream string, index uint64, ts time.Time, id int, box detect.Box, v fall.Verdict) Alert {
	return Alert{
		ID:         uuid.New(),
		StreamID:   stream,
		PersonID:   id,
		Box:        box,
		Location:   Location(box),
		Note:       AlertNote,
		FrameIndex: index,
		Timestamp:  ts,
		Verdict:    v,
	}
}
