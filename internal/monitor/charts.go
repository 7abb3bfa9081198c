package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// ChartsHandler renders the FrameStats ring as an HTML page of echarts.
// Query params:
//   - stream (optional) restricts the charts to one stream
type ChartsHandler struct {
	Stats *FrameStats
}

func (h ChartsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stream := r.URL.Query().Get("stream")
	samples := h.Stats.Samples(stream)
	snap := h.Stats.Snapshot(stream)

	subtitle := fmt.Sprintf("frames=%d p50=%.2fms p95=%.2fms", snap.Latency.Frames, snap.Latency.P50Ms, snap.Latency.P95Ms)
	if stream != "" {
		subtitle = "stream=" + stream + " " + subtitle
	}

	x := make([]string, len(samples))
	took := make([]opts.LineData, len(samples))
	trackCount := make([]opts.BarData, len(samples))
	flagged := make([]opts.BarData, len(samples))
	alerts := make([]opts.BarData, len(samples))
	for i, s := range samples {
		x[i] = s.StreamID + "#" + strconv.FormatUint(s.Index, 10)
		took[i] = opts.LineData{Value: float64(s.Took) / float64(time.Millisecond)}
		trackCount[i] = opts.BarData{Value: s.Tracks}
		flagged[i] = opts.BarData{Value: s.Flagged}
		alerts[i] = opts.BarData{Value: s.Alerts}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fallwatch frames", Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Frame processing time", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).AddSeries("took", took)

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: "Tracks per frame", Subtitle: snap.Timestamp.Format(time.RFC3339)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	bar.SetXAxis(x).
		AddSeries("tracks", trackCount).
		AddSeries("flagged", flagged).
		AddSeries("alerts", alerts)

	page := components.NewPage()
	page.AddCharts(line, bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
