// Package testutil provides shared test helpers for HTTP handlers and
// pipeline fixtures.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/banshee-data/fallwatch/internal/detect"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// NewTestRequest creates a test HTTP request with an optional body.
func NewTestRequest(method, path, body string) *http.Request {
	if body == "" {
		return httptest.NewRequest(method, path, nil)
	}
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

// DecodeJSON decodes a recorded response body into a T.
func DecodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return v
}

// Epoch is a fixed timestamp for deterministic frames.
var Epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

// UprightPerson is a standing detection: tall box, vertical torso.
func UprightPerson() detect.Detection {
	return detect.Detection{
		Box: detect.Box{X: 100, Y: 100, W: 50, H: 150},
		Keypoints: detect.Keypoints{
			detect.LeftShoulder:  {X: 115, Y: 130},
			detect.RightShoulder: {X: 135, Y: 130},
			detect.LeftHip:       {X: 118, Y: 190},
			detect.RightHip:      {X: 132, Y: 190},
		},
	}
}

// FallenPerson is a lying detection: wide box, horizontal torso.
func FallenPerson() detect.Detection {
	return detect.Detection{
		Box: detect.Box{X: 100, Y: 240, W: 160, H: 60},
		Keypoints: detect.Keypoints{
			detect.LeftShoulder:  {X: 120, Y: 262},
			detect.RightShoulder: {X: 122, Y: 278},
			detect.LeftHip:       {X: 200, Y: 266},
			detect.RightHip:      {X: 202, Y: 282},
		},
	}
}

// Frame builds frame idx of stream, spaced 100ms apart from Epoch.
func Frame(stream string, idx uint64, dets ...detect.Detection) detect.Frame {
	return detect.Frame{
		StreamID:   stream,
		Index:      idx,
		Timestamp:  Epoch.Add(time.Duration(idx) * 100 * time.Millisecond),
		Detections: dets,
	}
}
