// Package httputil holds the HTTP seams shared by the API and the dashboard
// poster: a Doer interface with a scripted fake, and JSON response helpers.
package httputil

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Doer sends one HTTP request. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Reply is one scripted outcome for a FakeDoer.
type Reply struct {
	StatusCode int
	Body       string
	Err        error
}

// RecordedRequest is a request seen by a FakeDoer, with its body read out.
type RecordedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// FakeDoer records requests and answers them from a script. Once the script
// runs out it answers 200 with an empty body.
type FakeDoer struct {
	mu       sync.Mutex
	replies  []Reply
	requests []RecordedRequest
}

// NewFakeDoer creates a FakeDoer that will answer with replies in order.
func NewFakeDoer(replies ...Reply) *FakeDoer {
	return &FakeDoer{replies: replies}
}

// Do implements Doer.
func (f *FakeDoer) Do(req *http.Request) (*http.Response, error) {
	rec := RecordedRequest{Method: req.Method, URL: req.URL.String(), Header: req.Header.Clone()}
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		rec.Body = b
	}

	f.mu.Lock()
	f.requests = append(f.requests, rec)
	reply := Reply{StatusCode: http.StatusOK}
	if len(f.replies) > 0 {
		reply = f.replies[0]
		f.replies = f.replies[1:]
	}
	f.mu.Unlock()

	if reply.Err != nil {
		return nil, reply.Err
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	return &http.Response{
		StatusCode: reply.StatusCode,
		Status:     fmt.Sprintf("%d %s", reply.StatusCode, http.StatusText(reply.StatusCode)),
		Body:       io.NopCloser(bytes.NewBufferString(reply.Body)),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// Requests returns a copy of everything recorded so far.
func (f *FakeDoer) Requests() []RecordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecordedRequest(nil), f.requests...)
}
