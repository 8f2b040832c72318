package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/aws/aws-lambda-go/cfn"
)

// CallbackRequest is one request received by a CallbackServer.
type CallbackRequest struct {
	Method      string
	ContentType string
	Raw         []byte
	Response    cfn.Response
}

// CallbackServer stands in for the orchestrator's presigned response URL and
// records every request it receives.
type CallbackServer struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	requests []CallbackRequest
}

// NewCallbackServer starts a recording server that answers 200 and is closed
// when the test ends.
func NewCallbackServer(t *testing.T) *CallbackServer {
	t.Helper()
	s := &CallbackServer{status: http.StatusOK}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// RespondWith changes the status code returned to later requests.
func (s *CallbackServer) RespondWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// Requests returns a copy of the requests received so far.
func (s *CallbackServer) Requests() []CallbackRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CallbackRequest(nil), s.requests...)
}

func (s *CallbackServer) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	rec := CallbackRequest{
		Method:      r.Method,
		ContentType: r.Header.Get("Content-Type"),
		Raw:         raw,
	}
	_ = json.Unmarshal(raw, &rec.Response)

	s.mu.Lock()
	s.requests = append(s.requests, rec)
	status := s.status
	s.mu.Unlock()

	w.WriteHeader(status)
	if status >= 300 {
		_, _ = io.WriteString(w, "<Error><Code>AccessDenied</Code></Error>")
	}
}
