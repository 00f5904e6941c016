package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

// Response is one scripted reply from a VendorServer
type Response struct {
	Status  int
	Headers map[string]string
	Body    string
}

// Request is what a VendorServer saw
type Request struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   string
}

// VendorServer fakes a helpdesk API. Each path replays its scripted
// responses in order and then repeats the last one. Unknown paths get 404.
type VendorServer struct {
	*httptest.Server

	mu       sync.Mutex
	routes   map[string][]Response
	served   map[string]int
	requests []Request
}

// NewVendorServer starts a VendorServer that is closed when the test ends
func NewVendorServer(t *testing.T) *VendorServer {
	t.Helper()
	v := &VendorServer{
		routes: make(map[string][]Response),
		served: make(map[string]int),
	}
	v.Server = httptest.NewServer(http.HandlerFunc(v.serve))
	t.Cleanup(v.Close)
	return v
}

// Handle scripts the responses for path
func (v *VendorServer) Handle(path string, responses ...Response) *VendorServer {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.routes[path] = append(v.routes[path], responses...)
	return v
}

// JSON scripts a single 200 JSON body for path
func (v *VendorServer) JSON(path, body string) *VendorServer {
	return v.Handle(path, Response{Status: http.StatusOK, Body: body})
}

// Requests returns every request served so far
func (v *VendorServer) Requests() []Request {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Request, len(v.requests))
	copy(out, v.requests)
	return out
}

// Hits returns how many requests reached path
func (v *VendorServer) Hits(path string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.served[path]
}

func (v *VendorServer) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	v.mu.Lock()
	v.requests = append(v.requests, Request{
		Method: r.Method,
		Path:   r.URL.Path,
		Query:  r.URL.RawQuery,
		Header: r.Header.Clone(),
		Body:   string(body),
	})
	script, ok := v.routes[r.URL.Path]
	n := v.served[r.URL.Path]
	v.served[r.URL.Path] = n + 1
	v.mu.Unlock()

	if !ok || len(script) == 0 {
		http.NotFound(w, r)
		return
	}
	if n >= len(script) {
		n = len(script) - 1
	}
	resp := script[n]
	for k, val := range resp.Headers {
		w.Header().Set(k, val)
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", "application/json")
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(resp.Body)))
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp.Body)
}
