package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/fallwatch/internal/detect"
)

func TestAssertStatusCode_Matching(t *testing.T) {
	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusOK)
	if fakeT.Failed() {
		t.Error("expected no failure for matching status codes")
	}
}

func TestAssertNoError_NilErr(t *testing.T) {
	fakeT := &testing.T{}
	AssertNoError(fakeT, nil)
	if fakeT.Failed() {
		t.Error("expected no failure for nil error")
	}
}

func TestNewTestRequest(t *testing.T) {
	req := NewTestRequest(http.MethodPost, "/api/frames", `{"frame":1}`)
	if req.Method != http.MethodPost {
		t.Errorf("method = %s, want POST", req.Method)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", got)
	}

	req = NewTestRequest(http.MethodGet, "/", "")
	if req.Header.Get("Content-Type") != "" {
		t.Error("GET without body should not set Content-Type")
	}
}

func TestDecodeJSON(t *testing.T) {
	w := httptest.NewRecorder()
	w.WriteString(`{"status":"queued"}`)
	got := DecodeJSON[map[string]string](t, w)
	if got["status"] != "queued" {
		t.Errorf("status = %q, want queued", got["status"])
	}
}

func TestFixtures(t *testing.T) {
	up, down := UprightPerson(), FallenPerson()
	if up.Box.AspectRatio() >= 1 {
		t.Errorf("upright aspect = %v, want < 1", up.Box.AspectRatio())
	}
	if down.Box.AspectRatio() <= 1.5 {
		t.Errorf("fallen aspect = %v, want > 1.5", down.Box.AspectRatio())
	}
	if !down.Keypoints.Has(detect.LeftShoulder, detect.RightShoulder, detect.LeftHip, detect.RightHip) {
		t.Error("fallen fixture missing torso keypoints")
	}

	f := Frame("cam", 3, up)
	if want := Epoch.Add(300_000_000); !f.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", f.Timestamp, want)
	}
}
