package monitor

import (
	"fmt"
	"image/color"
	"os"
	"sort"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/fallwatch/internal/pipeline"
	"github.com/banshee-data/fallwatch/internal/security"
)

// SignalSample is one identity's measurements for one frame.
type SignalSample struct {
	Frame         uint64
	TorsoAngleDeg float64
	PoseKnown     bool
	AspectRatio   float64
	DropPx        float64
	Alert         bool
}

// SignalPlotter accumulates per-identity signal series during a replay and
// writes one PNG per stream and signal afterwards.
type SignalPlotter struct {
	mu sync.Mutex
	// stream -> track id -> samples in frame order
	series map[string]map[int][]SignalSample
}

// NewSignalPlotter creates an empty plotter.
func NewSignalPlotter() *SignalPlotter {
	return &SignalPlotter{series: make(map[string]map[int][]SignalSample)}
}

// Record adds the tracks of one frame result.
func (sp *SignalPlotter) Record(res pipeline.FrameResult) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	byTrack := sp.series[res.StreamID]
	if byTrack == nil {
		byTrack = make(map[int][]SignalSample)
		sp.series[res.StreamID] = byTrack
	}
	for _, t := range res.Tracks {
		byTrack[t.ID] = append(byTrack[t.ID], SignalSample{
			Frame:         res.Index,
			TorsoAngleDeg: t.Verdict.TorsoAngleDeg,
			PoseKnown:     t.Verdict.PoseKnown,
			AspectRatio:   t.Verdict.AspectRatio,
			DropPx:        t.Verdict.DropPx,
			Alert:         t.Verdict.Alert,
		})
	}
}

// Publish implements pipeline.Sink so the plotter can sit directly on an
// Engine or Runner.
func (sp *SignalPlotter) Publish(res pipeline.FrameResult) { sp.Record(res) }

type signalSpec struct {
	name  string
	label string
	value func(SignalSample) (float64, bool)
	limit float64
}

// GeneratePlots writes the PNGs into outputDir and returns the files written.
// limits supplies the threshold line drawn on each signal plot, keyed by
// "torso_angle", "aspect_ratio" and "drop_px"; a missing key draws none.
func (sp *SignalPlotter) GeneratePlots(outputDir string, limits map[string]float64) ([]string, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	specs := []signalSpec{
		{name: "torso_angle", label: "Torso angle from horizontal (deg)", value: func(s SignalSample) (float64, bool) { return s.TorsoAngleDeg, s.PoseKnown }},
		{name: "aspect_ratio", label: "Box width / height", value: func(s SignalSample) (float64, bool) { return s.AspectRatio, true }},
		{name: "drop_px", label: "Downward drop (px)", value: func(s SignalSample) (float64, bool) { return s.DropPx, true }},
	}

	streams := make([]string, 0, len(sp.series))
	for s := range sp.series {
		streams = append(streams, s)
	}
	sort.Strings(streams)

	var files []string
	for _, stream := range streams {
		for _, spec := range specs {
			spec.limit = limits[spec.name]
			file, err := security.SafeJoin(outputDir, fmt.Sprintf("%s_%s.png", security.SanitizeFilename(stream, "default"), spec.name))
			if err != nil {
				return files, err
			}
			if err := sp.plotSignal(stream, spec, file); err != nil {
				return files, fmt.Errorf("stream %s %s: %w", stream, spec.name, err)
			}
			files = append(files, file)
		}
	}
	diagf("Wrote %d signal plots to %s", len(files), outputDir)
	return files, nil
}

func (sp *SignalPlotter) plotSignal(stream string, spec signalSpec, file string) error {
	byTrack := sp.series[stream]

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - %s", stream, spec.label)
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = spec.label

	ids := make([]int, 0, len(byTrack))
	for id := range byTrack {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	colors := generateColors(len(ids))

	var alertPts plotter.XYs
	var minX, maxX float64
	haveX := false
	for i, id := range ids {
		pts := make(plotter.XYs, 0, len(byTrack[id]))
		for _, s := range byTrack[id] {
			v, ok := spec.value(s)
			if !ok {
				continue
			}
			x := float64(s.Frame)
			pts = append(pts, plotter.XY{X: x, Y: v})
			if s.Alert {
				alertPts = append(alertPts, plotter.XY{X: x, Y: v})
			}
			if !haveX {
				minX, maxX, haveX = x, x, true
			}
			minX = min(minX, x)
			maxX = max(maxX, x)
		}
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(fmt.Sprintf("person %d", id), line)
	}

	if spec.limit > 0 && maxX > minX {
		limit, err := plotter.NewLine(plotter.XYs{{X: minX, Y: spec.limit}, {X: maxX, Y: spec.limit}})
		if err != nil {
			return err
		}
		limit.Color = color.Gray{Y: 128}
		limit.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}
		p.Add(limit)
		p.Legend.Add("threshold", limit)
	}

	if len(alertPts) > 0 {
		sc, err := plotter.NewScatter(alertPts)
		if err != nil {
			return err
		}
		sc.Color = color.RGBA{R: 220, A: 255}
		sc.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add("alert", sc)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(14*vg.Inch, 6*vg.Inch, file); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

// generateColors creates a palette of distinct colors, one per identity.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64
	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}
	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
