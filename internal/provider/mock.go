package provider

import (
	"context"
	"sync"
)

// MockClient is a scripted Client for tests. Responses are consumed in FIFO
// order; when the script is empty the fallback response is returned.
type MockClient struct {
	mu        sync.Mutex
	responses []mockResponse
	fallback  string
	calls     []string
	barrier   chan struct{}
}

type mockResponse struct {
	text string
	err  error
}

// NewMockClient creates a mock that always answers with fallback.
func NewMockClient(fallback string) *MockClient {
	return &MockClient{fallback: fallback}
}

// Queue appends a scripted successful response.
func (m *MockClient) Queue(text string) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{text: text})
	return m
}

// QueueError appends a scripted failure.
func (m *MockClient) QueueError(err error) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, mockResponse{err: err})
	return m
}

// Block makes every Invoke wait until Release is called, for tests that need
// a response to arrive "late".
func (m *MockClient) Block() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.barrier = make(chan struct{})
}

// Release unblocks pending and future Invoke calls.
func (m *MockClient) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.barrier != nil {
		close(m.barrier)
		m.barrier = nil
	}
}

// Calls returns the prompts seen so far.
func (m *MockClient) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockClient) Invoke(ctx context.Context, modelID, prompt string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, prompt)
	barrier := m.barrier
	var resp mockResponse
	if len(m.responses) > 0 {
		resp = m.responses[0]
		m.responses = m.responses[1:]
	} else {
		resp = mockResponse{text: m.fallback}
	}
	m.mu.Unlock()

	if barrier != nil {
		select {
		case <-barrier:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	return resp.text, resp.err
}

var _ Client = (*MockClient)(nil)
