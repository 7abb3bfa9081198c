package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fallwatch/internal/alertstore"
	"github.com/banshee-data/fallwatch/internal/config"
	"github.com/banshee-data/fallwatch/internal/fall"
	"github.com/banshee-data/fallwatch/internal/ingest"
	"github.com/banshee-data/fallwatch/internal/monitor"
	"github.com/banshee-data/fallwatch/internal/pipeline"
	"github.com/banshee-data/fallwatch/internal/publish"
	"github.com/banshee-data/fallwatch/internal/testutil"
	"github.com/banshee-data/fallwatch/internal/tracks"
)

func newRunner(queue int, obs pipeline.FrameObserver) *pipeline.Runner {
	return pipeline.NewRunner(pipeline.RunnerConfig{
		Tracker:    tracks.DefaultTrackerConfig(),
		Classifier: fall.DefaultClassifierConfig(),
		Observer:   obs,
		QueueSize:  queue,
	})
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	LoggingMiddleware(s.ServeMux()).ServeHTTP(w, req)
	return w
}

func encodedFrame(t *testing.T, stream string, idx uint64) string {
	t.Helper()
	b, err := ingest.EncodeFrame(testutil.Frame(stream, idx, testutil.FallenPerson()))
	require.NoError(t, err)
	return string(b)
}

func TestPostFrame(t *testing.T) {
	r := newRunner(1, nil)
	s := NewServer(ServerConfig{Runner: r})

	w := serve(s, testutil.NewTestRequest(http.MethodPost, "/api/frames", encodedFrame(t, "cam-1", 1)))
	testutil.AssertStatusCode(t, w.Code, http.StatusAccepted)
	body := testutil.DecodeJSON[map[string]interface{}](t, w)
	assert.Equal(t, "queued", body["status"])
	assert.Equal(t, "cam-1", body["stream"])

	// Queue of one is now full.
	w = serve(s, testutil.NewTestRequest(http.MethodPost, "/api/frames", encodedFrame(t, "cam-1", 2)))
	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.Equal(t, uint64(1), r.Stats().Dropped)

	r.Close()
	w = serve(s, testutil.NewTestRequest(http.MethodPost, "/api/frames", encodedFrame(t, "cam-1", 3)))
	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
}

func TestPostFrameRejects(t *testing.T) {
	s := NewServer(ServerConfig{Runner: newRunner(4, nil)})

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"bad json", http.MethodPost, `{"frame":`, http.StatusBadRequest},
		{"short bbox", http.MethodPost, `{"detections":[{"bbox":[1,2]}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(s, testutil.NewTestRequest(tt.method, "/api/frames", tt.body))
			testutil.AssertStatusCode(t, w.Code, tt.want)
			assert.Contains(t, testutil.DecodeJSON[map[string]string](t, w), "error")
		})
	}
}

func TestPostFrameStreamFromQuery(t *testing.T) {
	r := newRunner(4, nil)
	s := NewServer(ServerConfig{Runner: r})

	w := serve(s, testutil.NewTestRequest(http.MethodPost, "/api/frames?stream=door", `{"frame":1,"detections":[]}`))
	testutil.AssertStatusCode(t, w.Code, http.StatusAccepted)

	r.Close()
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"door"}, r.Streams())
}

func TestTracksAndStreams(t *testing.T) {
	fs := monitor.NewFrameStats(16)
	r := newRunner(8, fs)
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, r.Submit(testutil.Frame("cam-1", i, testutil.FallenPerson())))
	}
	require.NoError(t, r.Submit(testutil.Frame("", 1, testutil.UprightPerson())))
	r.Close()
	require.NoError(t, r.Run(context.Background()))

	s := NewServer(ServerConfig{Runner: r, FrameStats: fs})

	w := serve(s, testutil.NewTestRequest(http.MethodGet, "/api/streams", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, []string{"cam-1", pipeline.DefaultStreamID}, testutil.DecodeJSON[[]string](t, w))

	w = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/tracks?stream=cam-1", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	res := testutil.DecodeJSON[pipeline.FrameResult](t, w)
	assert.Equal(t, uint64(3), res.Index)
	require.Len(t, res.Tracks, 1)
	assert.True(t, res.Tracks[0].Verdict.Fallen)

	w = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/tracks", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, pipeline.DefaultStreamID, testutil.DecodeJSON[pipeline.FrameResult](t, w).StreamID)

	w = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/tracks?stream=nope", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)

	w = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/stats", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	stats := testutil.DecodeJSON[StatsResponse](t, w)
	assert.Equal(t, uint64(4), stats.Runner.Processed)
	assert.Equal(t, uint64(1), stats.Runner.Alerts)
	require.NotNil(t, stats.Frames)
	assert.Equal(t, 4, stats.Frames.Latency.Frames)
	assert.Nil(t, stats.Publisher)
	assert.Nil(t, stats.AlertsByStream)
}

func TestAlerts(t *testing.T) {
	store, err := alertstore.Open(filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	for i, stream := range []string{"cam-1", "cam-2", "cam-1"} {
		require.NoError(t, store.Deliver(context.Background(), pipeline.Alert{
			ID:        uuid.New(),
			StreamID:  stream,
			PersonID:  i + 1,
			Note:      pipeline.AlertNote,
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	p := publish.NewPublisher(publish.DefaultConfig())
	p.AddDeliverer("alertstore", store)
	s := NewServer(ServerConfig{Runner: newRunner(1, nil), Alerts: store, Publisher: p})

	w := serve(s, testutil.NewTestRequest(http.MethodGet, "/api/alerts?limit=2", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	recent := testutil.DecodeJSON[[]pipeline.Alert](t, w)
	require.Len(t, recent, 2)
	assert.Equal(t, 3, recent[0].PersonID)

	w = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/alerts?stream=cam-1&since=2026-06-01T12:01:00Z", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	forStream := testutil.DecodeJSON[[]pipeline.Alert](t, w)
	require.Len(t, forStream, 1)
	assert.Equal(t, 3, forStream[0].PersonID)

	w = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/alerts?stream=cam-9", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	assert.Equal(t, "[]\n", w.Body.String())

	for _, q := range []string{"limit=0", "limit=abc", "stream=cam-1&since=yesterday"} {
		w = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/alerts?"+q, ""))
		testutil.AssertStatusCode(t, w.Code, http.StatusBadRequest)
	}

	w = serve(s, testutil.NewTestRequest(http.MethodGet, "/api/stats", ""))
	stats := testutil.DecodeJSON[StatsResponse](t, w)
	assert.Equal(t, map[string]int{"cam-1": 2, "cam-2": 1}, stats.AlertsByStream)
	require.NotNil(t, stats.Publisher)
	require.Len(t, stats.Publisher.Deliverers, 1)
	assert.Equal(t, "alertstore", stats.Publisher.Deliverers[0].Name)
}

func TestAlertsWithoutStore(t *testing.T) {
	var store *alertstore.Store
	s := NewServer(ServerConfig{Runner: newRunner(1, nil), Alerts: store})

	w := serve(s, testutil.NewTestRequest(http.MethodGet, "/api/alerts", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusServiceUnavailable)
}

func TestShowConfig(t *testing.T) {
	s := NewServer(ServerConfig{Runner: newRunner(1, nil), Tuning: config.MustLoadDefaultConfig()})

	w := serve(s, testutil.NewTestRequest(http.MethodGet, "/api/config", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	got := testutil.DecodeJSON[config.TuningConfig](t, w)
	assert.Equal(t, 0.3, got.GetIoUThreshold())
	assert.Equal(t, 30.0, got.GetPoseAngleDeg())
	assert.Equal(t, 500*time.Millisecond, got.GetDeliveryTimeout())

	w = serve(s, testutil.NewTestRequest(http.MethodPost, "/api/config", "{}"))
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestDebugCharts(t *testing.T) {
	fs := monitor.NewFrameStats(4)
	s := NewServer(ServerConfig{Runner: newRunner(1, nil), FrameStats: fs})
	mux := http.NewServeMux()
	s.AttachDebugRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/debug/charts", nil))
	// tsweb may refuse non-local callers, but the route must exist.
	assert.NotEqual(t, http.StatusNotFound, w.Code)
}

func TestEventsMounted(t *testing.T) {
	events := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	s := NewServer(ServerConfig{Runner: newRunner(1, nil), Events: events})
	w := serve(s, testutil.NewTestRequest(http.MethodGet, "/ws", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusTeapot)

	s = NewServer(ServerConfig{Runner: newRunner(1, nil)})
	w = serve(s, testutil.NewTestRequest(http.MethodGet, "/ws", ""))
	testutil.AssertStatusCode(t, w.Code, http.StatusNotFound)
}
