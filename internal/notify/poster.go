// Package notify delivers fall alerts to systems outside the process: the
// care dashboard over HTTP, a Redis channel and a serial siren. Every type
// here satisfies publish.Deliverer.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/fallwatch/internal/httputil"
	"github.com/banshee-data/fallwatch/internal/pipeline"
)

// DefaultPostTimeout bounds a single dashboard POST.
const DefaultPostTimeout = 500 * time.Millisecond

// HTTPPoster posts alerts as multipart forms to {BaseURL}/alert.
type HTTPPoster struct {
	BaseURL string
	Client  httputil.Doer
}

// NewHTTPPoster creates a poster for the dashboard at baseURL. A zero timeout
// uses DefaultPostTimeout.
func NewHTTPPoster(baseURL string, timeout time.Duration) *HTTPPoster {
	if timeout <= 0 {
		timeout = DefaultPostTimeout
	}
	return &HTTPPoster{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: timeout},
	}
}

// Endpoint returns the URL alerts are posted to.
func (p *HTTPPoster) Endpoint() string {
	return p.BaseURL + "/alert"
}

// Deliver posts one alert. Any non-2xx status is an error.
func (p *HTTPPoster) Deliver(ctx context.Context, a pipeline.Alert) error {
	body, contentType, err := alertForm(a)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint(), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post to %s failed: %w", p.Endpoint(), err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("dashboard returned %s", resp.Status)
	}
	tracef("Posted alert %s to %s (%d)", a.ID, p.Endpoint(), resp.StatusCode)
	return nil
}

func alertForm(a pipeline.Alert) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := []struct{ name, value string }{
		{"person_id", strconv.Itoa(a.PersonID)},
		{"bbox", pipeline.BBoxString(a.Box)},
		{"note", a.Note},
		{"location", a.Location},
		{"stream_id", a.StreamID},
		{"alert_id", a.ID.String()},
		{"timestamp", a.Timestamp.UTC().Format(time.RFC3339Nano)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f.name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close form: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}
