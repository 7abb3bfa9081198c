package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/fallwatch/internal/detect"
	"github.com/banshee-data/fallwatch/internal/pipeline"
)

func startHub(t *testing.T) (*Hub, string) {
	t.Helper()
	hub := NewHub(8)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func result(stream string, withAlert bool) pipeline.FrameResult {
	box := detect.Box{X: 100, Y: 240, W: 160, H: 60}
	res := pipeline.FrameResult{
		StreamID: stream,
		Index:    3,
		Tracks:   []pipeline.TrackUpdate{{ID: 1, Box: box}},
	}
	if withAlert {
		res.Alerts = []pipeline.Alert{{ID: uuid.New(), StreamID: stream, PersonID: 1, Box: box, Location: pipeline.Location(box), Note: pipeline.AlertNote}}
	}
	return res
}

func TestHubFollowBroadcastsFramesAndAlerts(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	results := make(chan pipeline.FrameResult, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Follow(ctx, results)
	results <- result("cam-1", true)

	env := readEnvelope(t, conn)
	assert.Equal(t, TypeFrame, env.Type)
	var res pipeline.FrameResult
	require.NoError(t, json.Unmarshal(env.Payload, &res))
	assert.Equal(t, "cam-1", res.StreamID)

	env = readEnvelope(t, conn)
	assert.Equal(t, TypeAlert, env.Type)
	var a pipeline.Alert
	require.NoError(t, json.Unmarshal(env.Payload, &a))
	assert.Equal(t, "(180, 270)", a.Location)
}

func TestHubStreamFilter(t *testing.T) {
	hub, url := startHub(t)
	only := dial(t, url+"?stream=cam-2")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.BroadcastFrame(result("cam-1", false))
	hub.BroadcastFrame(result("cam-2", false))

	env := readEnvelope(t, only)
	var res pipeline.FrameResult
	require.NoError(t, json.Unmarshal(env.Payload, &res))
	assert.Equal(t, "cam-2", res.StreamID)
}

func TestHubUnregistersClosedClient(t *testing.T) {
	hub, url := startHub(t)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 0, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "hub shutdown closes the connection")
}
