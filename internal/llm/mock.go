package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// MockResponse is one canned reply. A non-nil Err is returned instead of
// content.
type MockResponse struct {
	Content    json.RawMessage
	Usage      Usage
	StopReason string
	Err        error
}

// MockProvider replays canned responses in order and records every request
// it receives. Once the queue is drained it reports itself unavailable,
// which sends tutor calls down their default-payload path.
type MockProvider struct {
	mu    sync.Mutex
	queue []MockResponse
	Calls []Request
}

func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{queue: responses}
}

// NewMockJSON queues the JSON encoding of each value.
func NewMockJSON(values ...any) *MockProvider {
	m := NewMockProvider()
	for _, v := range values {
		raw, err := json.Marshal(v)
		if err != nil {
			m.push(MockResponse{Err: &ErrInvalidResponse{Err: err}})
		} else {
			m.push(MockResponse{Content: raw})
		}
	}
	return m
}

func (m *MockProvider) push(r MockResponse) {
	m.mu.Lock()
	m.queue = append(m.queue, r)
	m.mu.Unlock()
}

func (m *MockProvider) Generate(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)
	if len(m.queue) == 0 {
		return nil, &ErrProviderUnavailable{}
	}
	next := m.queue[0]
	m.queue = m.queue[1:]
	if next.Err != nil {
		return nil, next.Err
	}

	resp := &Response{Content: next.Content, Usage: next.Usage, Model: "mock", StopReason: "end"}
	if req.Model != "" {
		resp.Model = req.Model
	}
	if next.StopReason != "" {
		resp.StopReason = next.StopReason
	}
	return resp, nil
}

func (m *MockProvider) ModelID() string { return "mock" }

func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
