// fall-replay runs a recorded detector session through the fall pipeline and
// prints every alert. Recordings are either JSONL (one frame per line) or a
// PCAP of the detector's UDP traffic.
//
// Usage:
//
//	fall-replay -in session.jsonl [-plot out/] [-db replay.db]
//	fall-replay -pcap capture.pcapng -port 5600
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/banshee-data/fallwatch/internal/alertstore"
	"github.com/banshee-data/fallwatch/internal/config"
	"github.com/banshee-data/fallwatch/internal/detect"
	"github.com/banshee-data/fallwatch/internal/fall"
	"github.com/banshee-data/fallwatch/internal/ingest"
	"github.com/banshee-data/fallwatch/internal/monitor"
	"github.com/banshee-data/fallwatch/internal/monitoring"
	"github.com/banshee-data/fallwatch/internal/pipeline"
	"github.com/banshee-data/fallwatch/internal/publish"
	"github.com/banshee-data/fallwatch/internal/tracks"
	"github.com/banshee-data/fallwatch/internal/version"
)

var (
	inPath     = flag.String("in", "", "JSONL recording to replay (- for stdin)")
	pcapPath   = flag.String("pcap", "", "PCAP or PCAPNG capture to replay")
	udpPort    = flag.Int("port", 5600, "UDP destination port of detector frames in the capture")
	configPath = flag.String("config", "", "Path to a tuning JSON file (defaults are built in)")
	stream     = flag.String("stream", pipeline.DefaultStreamID, "Stream name for frames that carry none")
	plotDir    = flag.String("plot", "", "Write per-stream signal plots into this directory")
	dbPath     = flag.String("db", "", "Also store alerts in this database")
	debug      = flag.Bool("debug", false, "Enable diagnostic logging")
)

// alertPrinter writes alerts as they are raised and keeps per-stream totals.
// It is the engine's sink, so it only prints and collects; alerts are stored
// once the replay has finished.
type alertPrinter struct {
	out io.Writer

	mu     sync.Mutex
	frames map[string]int
	alerts map[string]int
	raised []pipeline.Alert
}

func (p *alertPrinter) Publish(res pipeline.FrameResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames[res.StreamID]++
	for _, a := range res.Alerts {
		p.alerts[res.StreamID]++
		fmt.Fprintf(p.out, "%s frame=%d stream=%s person=%d bbox=%s location=%s\n",
			a.Timestamp.Format("15:04:05.000"), a.FrameIndex, a.StreamID, a.PersonID,
			pipeline.BBoxString(a.Box), a.Location)
		p.raised = append(p.raised, a)
	}
}

// collected returns every alert raised so far, in order.
func (p *alertPrinter) collected() []pipeline.Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]pipeline.Alert(nil), p.raised...)
}

// storeAlerts hands each alert to d and returns how many were accepted.
// Failures are logged and skipped.
func storeAlerts(ctx context.Context, d publish.Deliverer, alerts []pipeline.Alert) int {
	stored := 0
	for _, a := range alerts {
		if err := d.Deliver(ctx, a); err != nil {
			log.Printf("failed to store alert %s: %v", a.ID, err)
			continue
		}
		stored++
	}
	return stored
}

func (p *alertPrinter) summary(w io.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	streams := make([]string, 0, len(p.frames))
	for s := range p.frames {
		streams = append(streams, s)
	}
	sort.Strings(streams)
	fmt.Fprintln(w, "stream\tframes\talerts")
	for _, s := range streams {
		fmt.Fprintf(w, "%s\t%d\t%d\n", s, p.frames[s], p.alerts[s])
	}
}

// fanOut publishes each result to every sink in order.
type fanOut []pipeline.Sink

func (f fanOut) Publish(res pipeline.FrameResult) {
	for _, s := range f {
		s.Publish(res)
	}
}

func main() {
	flag.Parse()

	if (*inPath == "") == (*pcapPath == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -in or -pcap is required")
		flag.Usage()
		os.Exit(2)
	}

	w := monitoring.LogWriters{Ops: os.Stderr}
	if *debug {
		w.Diag = os.Stderr
	}
	monitoring.SetLogWriters(w)
	log.Printf("fall-replay %s", version.String())

	tuning := config.DefaultTuningConfig()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
	}
	if err := tuning.Validate(); err != nil {
		log.Fatalf("Invalid tuning config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printer := &alertPrinter{
		out:    os.Stdout,
		frames: make(map[string]int),
		alerts: make(map[string]int),
	}
	var store *alertstore.Store
	if *dbPath != "" {
		var err error
		store, err = alertstore.Open(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open alert database: %v", err)
		}
		defer store.Close()
	}

	sinks := fanOut{printer}
	var plotter *monitor.SignalPlotter
	if *plotDir != "" {
		plotter = monitor.NewSignalPlotter()
		sinks = append(sinks, plotter)
	}

	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Tracker:    tracks.TrackerConfigFromTuning(tuning),
		Classifier: fall.ClassifierConfigFromTuning(tuning),
		Sink:       sinks,
		QueueSize:  tuning.GetQueueSize(),
	})

	runErr := make(chan error, 1)
	go func() { runErr <- runner.Run(ctx) }()

	submit := func(f detect.Frame) error {
		if f.StreamID == "" {
			f.StreamID = *stream
		}
		return runner.SubmitWait(ctx, f)
	}

	var (
		stats ingest.ReadStats
		err   error
	)
	if *pcapPath != "" {
		stats, err = ingest.ReadPCAP(ctx, *pcapPath, *udpPort, submit)
	} else {
		stats, err = replayJSONL(ctx, *inPath, submit)
	}
	runner.Close()
	if rerr := <-runErr; rerr != nil && err == nil {
		err = rerr
	}
	if err != nil {
		log.Printf("replay stopped early: %v", err)
	}

	fmt.Fprintf(os.Stdout, "\n%d frames read, %d skipped\n", stats.Frames, stats.Skipped)
	printer.summary(os.Stdout)

	if store != nil {
		alerts := printer.collected()
		n := storeAlerts(context.Background(), store, alerts)
		fmt.Fprintf(os.Stdout, "stored %d of %d alerts in %s\n", n, len(alerts), store.Path())
	}

	if plotter != nil {
		limits := map[string]float64{
			"torso_angle":  tuning.GetPoseAngleDeg(),
			"aspect_ratio": tuning.GetAspectRatio(),
		}
		files, perr := plotter.GeneratePlots(*plotDir, limits)
		if perr != nil {
			log.Fatalf("Failed to write plots: %v", perr)
		}
		for _, f := range files {
			fmt.Fprintf(os.Stdout, "wrote %s\n", f)
		}
	}

	if err != nil {
		os.Exit(1)
	}
}

func replayJSONL(ctx context.Context, path string, fn ingest.FrameHandler) (ingest.ReadStats, error) {
	if path == "-" {
		return ingest.ReadJSONL(ctx, os.Stdin, fn)
	}
	f, err := os.Open(path)
	if err != nil {
		return ingest.ReadStats{}, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()
	return ingest.ReadJSONL(ctx, f, fn)
}
