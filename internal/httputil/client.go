package httputil

import (
	"bytes"
	"io"
	"net/http"
	"sync"
)

// HTTPClient abstracts the outbound HTTP operations the detector client
// needs, so tests can substitute canned responses.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// NewStandardClient wraps an *http.Client, defaulting to http.DefaultClient.
func NewStandardClient(c *http.Client) HTTPClient {
	if c == nil {
		c = http.DefaultClient
	}
	return &standardClient{c}
}

type standardClient struct{ c *http.Client }

func (s *standardClient) Do(req *http.Request) (*http.Response, error) {
	return s.c.Do(req)
}

// MockHTTPClient records requests and replays queued responses in order.
type MockHTTPClient struct {
	mu        sync.Mutex
	Requests  []*http.Request
	responses []mockResponse
	idx       int
}

type mockResponse struct {
	status int
	body   string
	err    error
}

// NewMockHTTPClient creates an empty mock client. With no queued
// responses it answers 200 with an empty body.
func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{}
}

// AddResponse queues a canned response.
func (m *MockHTTPClient) AddResponse(status int, body string) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{status: status, body: body})
	return m
}

// AddError queues a transport-level error.
func (m *MockHTTPClient) AddError(err error) *MockHTTPClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
	return m
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)

	if m.idx < len(m.responses) {
		r := m.responses[m.idx]
		m.idx++
		if r.err != nil {
			return nil, r.err
		}
		return &http.Response{
			StatusCode: r.status,
			Body:       io.NopCloser(bytes.NewBufferString(r.body)),
			Header:     make(http.Header),
			Request:    req,
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString("")),
		Header:     make(http.Header),
		Request:    req,
	}, nil
}

// RequestCount returns the number of recorded requests.
func (m *MockHTTPClient) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
