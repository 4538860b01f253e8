// Package testutil provides test doubles for the message feed API.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockFeedResponse defines a canned response for a path.
type MockFeedResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockFeed is an httptest server speaking the feed API wire format
// (snake_case keys, offset/limit pagination).
type MockFeed struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	messages []map[string]any

	// Tracking
	RequestCount      int
	ConditionalCount  int
	Offsets           []int
	LastRequestHeader http.Header
}

// NewMockFeed creates a mock serving total generated messages at
// /messages/sample.
func NewMockFeed(total int) *MockFeed {
	mock := &MockFeed{
		handlers: make(map[string]http.HandlerFunc),
		messages: GenerateMessages(total),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.RequestCount++
		mock.LastRequestHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.ConditionalCount++
		}
		if off, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
			mock.Offsets = append(mock.Offsets, off)
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		if r.URL.Path == "/messages/sample" {
			mock.pageHandler(w, r)
			return
		}

		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockFeed) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockFeed) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockFeed) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.ConditionalCount = 0
	m.Offsets = nil
	m.LastRequestHeader = nil
}

// SetHandler overrides the handler for a path.
func (m *MockFeed) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a canned response for a path.
func (m *MockFeed) SetResponse(path string, resp MockFeedResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockFeed) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetConditionalCount returns the number of conditional requests.
func (m *MockFeed) GetConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ConditionalCount
}

// GetOffsets returns the offsets requested so far.
func (m *MockFeed) GetOffsets() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int(nil), m.Offsets...)
}

// pageHandler serves a page of the generated feed.
func (m *MockFeed) pageHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	m.mu.RLock()
	total := len(m.messages)
	start := min(max(offset, 0), total)
	end := min(start+limit, total)
	items := m.messages[start:end]
	m.mu.RUnlock()

	etag := fmt.Sprintf(`"page-%d-%d"`, offset, limit)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Expires", time.Now().Add(5*time.Minute).Format(http.TimeFormat))

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"items":  items,
		"offset": offset,
		"total":  total,
	})
}

// GenerateMessages builds n messages in wire format.
func GenerateMessages(n int) []map[string]any {
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	out := make([]map[string]any, n)
	for i := range out {
		out[i] = map[string]any{
			"id":      fmt.Sprintf("m%d", i+1),
			"chat_id": "c1",
			"author": map[string]any{
				"id":         fmt.Sprintf("u%d", i%3+1),
				"name":       fmt.Sprintf("User %d", i%3+1),
				"avatar_url": fmt.Sprintf("https://cdn.example/u%d.png", i%3+1),
			},
			"text":       fmt.Sprintf("message %d", i+1),
			"created_at": base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			"is_read":    i%2 == 0,
		}
	}
	return out
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockFeedResponse {
	return MockFeedResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error_message": "internal", "message": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewNotFoundResponse creates a 404 response with a message body.
func NewNotFoundResponse() MockFeedResponse {
	return MockFeedResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"message": "feed not found"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewEmptyResponse creates a 204 No Content response.
func NewEmptyResponse() MockFeedResponse {
	return MockFeedResponse{StatusCode: http.StatusNoContent}
}

// NewErrorBudgetResponse creates a successful response that reports a
// nearly exhausted error budget.
func NewErrorBudgetResponse(remain, resetSeconds int, body string) MockFeedResponse {
	return MockFeedResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type":         "application/json; charset=utf-8",
			"X-Error-Limit-Remain": strconv.Itoa(remain),
			"X-Error-Limit-Reset":  strconv.Itoa(resetSeconds),
		},
	}
}
