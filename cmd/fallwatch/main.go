package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/banshee-data/fallwatch/internal/alertstore"
	"github.com/banshee-data/fallwatch/internal/api"
	"github.com/banshee-data/fallwatch/internal/config"
	"github.com/banshee-data/fallwatch/internal/detect"
	"github.com/banshee-data/fallwatch/internal/fall"
	"github.com/banshee-data/fallwatch/internal/ingest"
	"github.com/banshee-data/fallwatch/internal/monitor"
	"github.com/banshee-data/fallwatch/internal/monitoring"
	"github.com/banshee-data/fallwatch/internal/notify"
	"github.com/banshee-data/fallwatch/internal/pipeline"
	"github.com/banshee-data/fallwatch/internal/publish"
	"github.com/banshee-data/fallwatch/internal/tracks"
	"github.com/banshee-data/fallwatch/internal/version"
	"github.com/banshee-data/fallwatch/internal/ws"
)

var (
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	dbPath        = flag.String("db", "alerts.db", "Path to the alert database (empty disables storage)")
	configPath    = flag.String("config", "", "Path to a tuning JSON file (defaults are built in)")
	udpAddr       = flag.String("udp", "", "UDP address for detector frames, e.g. :5600 (empty disables)")
	udpRcvBuf     = flag.Int("udp-rcvbuf", 4<<20, "UDP socket receive buffer in bytes")
	grpcAddr      = flag.String("grpc", "", "gRPC address for the Events stream, e.g. :50051 (empty disables)")
	dashboardURL  = flag.String("dashboard-url", "", "Base URL of the dashboard that receives POST /alert")
	redisAddr     = flag.String("redis", "", "Redis address for alert pub/sub (empty disables)")
	redisPassword = flag.String("redis-password", "", "Redis password")
	redisDB       = flag.Int("redis-db", 0, "Redis database number")
	redisChannel  = flag.String("redis-channel", notify.DefaultRedisChannel, "Redis channel for alerts")
	sirenPort     = flag.String("siren-port", "", "Serial port of the siren controller (empty disables)")
	sirenBaud     = flag.Int("siren-baud", 9600, "Siren serial baud rate")
	logFile       = flag.String("log-file", "", "Also write ops logs to this rotated file")
	debug         = flag.Bool("debug", false, "Enable diagnostic logging")
	trace         = flag.Bool("trace", false, "Enable per-frame trace logging")
	defaultStream = flag.String("stream", pipeline.DefaultStreamID, "Stream name for frames that carry none")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func setupLogging() io.Closer {
	var ops io.Writer = os.Stderr
	var closer io.Closer
	if *logFile != "" {
		rotated := &lumberjack.Logger{
			Filename:   *logFile,
			LocalTime:  true,
			Compress:   true,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 3,
		}
		ops = io.MultiWriter(os.Stderr, rotated)
		closer = rotated
		log.SetOutput(ops)
	}

	w := monitoring.LogWriters{Ops: ops}
	if *debug || *trace {
		w.Diag = ops
	}
	if *trace {
		w.Trace = ops
	}
	monitoring.SetLogWriters(w)
	return closer
}

func loadTuning() *config.TuningConfig {
	if *configPath == "" {
		return config.DefaultTuningConfig()
	}
	cfg, err := config.LoadTuningConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load tuning config: %v", err)
	}
	return cfg
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	if c := setupLogging(); c != nil {
		defer c.Close()
	}
	log.Printf("fallwatch %s", version.String())

	tuning := loadTuning()
	if err := tuning.Validate(); err != nil {
		log.Fatalf("Invalid tuning config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	publisher := publish.NewPublisher(publish.ConfigFromTuning(tuning))

	var store *alertstore.Store
	if *dbPath != "" {
		var err error
		store, err = alertstore.Open(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open alert database: %v", err)
		}
		defer store.Close()
		publisher.AddDeliverer("store", store)
	}

	if *dashboardURL != "" {
		publisher.AddDeliverer("dashboard", notify.NewHTTPPoster(*dashboardURL, notify.DefaultPostTimeout))
		log.Printf("Posting alerts to %s/alert", *dashboardURL)
	}

	if *redisAddr != "" {
		rp, err := notify.DialRedis(ctx, *redisAddr, *redisPassword, *redisDB, *redisChannel)
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer rp.Close()
		publisher.AddDeliverer("redis", rp)
	}

	if *sirenPort != "" {
		siren, err := notify.OpenSiren(*sirenPort, notify.PortOptions{BaudRate: *sirenBaud})
		if err != nil {
			log.Fatalf("Failed to open siren port: %v", err)
		}
		defer siren.Close()
		publisher.AddDeliverer("siren", siren)
	}

	if err := publisher.Start(); err != nil {
		log.Fatalf("Failed to start publisher: %v", err)
	}
	defer publisher.Stop()

	frameStats := monitor.NewFrameStats(0)
	runner := pipeline.NewRunner(pipeline.RunnerConfig{
		Tracker:    tracks.TrackerConfigFromTuning(tuning),
		Classifier: fall.ClassifierConfigFromTuning(tuning),
		Sink:       publisher,
		Observer:   frameStats,
		QueueSize:  tuning.GetQueueSize(),
	})

	hub := ws.NewHub(tuning.GetSubscriberBuffer())

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := runner.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("runner stopped: %v", err)
		}
		log.Print("runner routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
		log.Print("websocket hub terminated")
	}()

	subID, results := publisher.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer publisher.Unsubscribe(subID)
		hub.Follow(ctx, results)
	}()

	submit := func(f detect.Frame) error {
		if f.StreamID == "" {
			f.StreamID = *defaultStream
		}
		return runner.Submit(f)
	}

	if *udpAddr != "" {
		listener := ingest.NewUDPListener(ingest.UDPListenerConfig{
			Address: *udpAddr,
			RcvBuf:  *udpRcvBuf,
			Handler: submit,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Start(ctx); err != nil && err != context.Canceled {
				log.Printf("UDP listener error: %v", err)
			}
			log.Print("UDP listener terminated")
		}()
	}

	if *grpcAddr != "" {
		grpcServer := publish.NewGRPCServer(publisher)
		if err := grpcServer.Start(*grpcAddr); err != nil {
			log.Fatalf("Failed to start gRPC server: %v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-ctx.Done()
			grpcServer.Stop()
		}()
		log.Printf("gRPC Events service on %s", *grpcAddr)
	}

	apiServer := api.NewServer(api.ServerConfig{
		Runner:     runner,
		Alerts:     store,
		Publisher:  publisher,
		FrameStats: frameStats,
		Tuning:     tuning,
		Events:     hub,
	})
	mux := apiServer.ServeMux()
	apiServer.AttachDebugRoutes(mux)
	if store != nil {
		if err := store.AttachAdminRoutes(mux); err != nil {
			log.Fatalf("Failed to attach admin routes: %v", err)
		}
	}

	server := &http.Server{
		Addr:    *listen,
		Handler: api.LoggingMiddleware(mux),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			log.Printf("HTTP server listening on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
