// Package ingest decodes detector output into detect.Frame values.
//
// Frames arrive as one JSON document each:
//
//	{"stream":"cam-1","frame":12,"ts":"2026-01-02T03:04:05.1Z",
//	 "detections":[{"bbox":[x,y,w,h],"keypoints":{"left_shoulder":[x,y],...}}]}
//
// Sources are newline-delimited files, UDP datagrams, HTTP request bodies and
// UDP payloads captured in pcap files.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/fallwatch/internal/detect"
)

// ErrBadFrame wraps every decoding failure.
var ErrBadFrame = errors.New("bad frame")

// FrameHandler receives each decoded frame. Returning an error stops the
// source.
type FrameHandler func(detect.Frame) error

type wireDetection struct {
	BBox      []float64             `json:"bbox"`
	Keypoints map[string][2]float64 `json:"keypoints,omitempty"`
}

type wireFrame struct {
	Stream     string          `json:"stream"`
	Frame      uint64          `json:"frame"`
	TS         string          `json:"ts,omitempty"`
	Detections []wireDetection `json:"detections"`
}

// DecodeFrame parses one wire frame. A missing timestamp is left zero for
// the engine to fill in.
func DecodeFrame(data []byte) (detect.Frame, error) {
	var wf wireFrame
	if err := json.Unmarshal(data, &wf); err != nil {
		return detect.Frame{}, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}

	f := detect.Frame{
		StreamID:   wf.Stream,
		Index:      wf.Frame,
		Detections: make([]detect.Detection, 0, len(wf.Detections)),
	}
	if wf.TS != "" {
		ts, err := time.Parse(time.RFC3339Nano, wf.TS)
		if err != nil {
			return detect.Frame{}, fmt.Errorf("%w: timestamp %q: %v", ErrBadFrame, wf.TS, err)
		}
		f.Timestamp = ts
	}

	for i, wd := range wf.Detections {
		if len(wd.BBox) != 4 {
			return detect.Frame{}, fmt.Errorf("%w: detection %d: bbox has %d values, want 4", ErrBadFrame, i, len(wd.BBox))
		}
		d := detect.Detection{
			Box: detect.Box{X: wd.BBox[0], Y: wd.BBox[1], W: wd.BBox[2], H: wd.BBox[3]},
		}
		if len(wd.Keypoints) > 0 {
			d.Keypoints = make(detect.Keypoints, len(wd.Keypoints))
			for name, xy := range wd.Keypoints {
				kp := detect.KeypointName(name)
				if !kp.Valid() {
					return detect.Frame{}, fmt.Errorf("%w: detection %d: unknown keypoint %q", ErrBadFrame, i, name)
				}
				d.Keypoints[kp] = detect.Point{X: xy[0], Y: xy[1]}
			}
		}
		f.Detections = append(f.Detections, d)
	}
	return f, nil
}

// EncodeFrame is the inverse of DecodeFrame.
func EncodeFrame(f detect.Frame) ([]byte, error) {
	wf := wireFrame{
		Stream:     f.StreamID,
		Frame:      f.Index,
		Detections: make([]wireDetection, 0, len(f.Detections)),
	}
	if !f.Timestamp.IsZero() {
		wf.TS = f.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	for _, d := range f.Detections {
		wd := wireDetection{BBox: []float64{d.Box.X, d.Box.Y, d.Box.W, d.Box.H}}
		if len(d.Keypoints) > 0 {
			wd.Keypoints = make(map[string][2]float64, len(d.Keypoints))
			for name, p := range d.Keypoints {
				wd.Keypoints[string(name)] = [2]float64{p.X, p.Y}
			}
		}
		wf.Detections = append(wf.Detections, wd)
	}
	return json.Marshal(wf)
}
