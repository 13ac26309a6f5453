package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockReply is one scripted answer. Err takes precedence over Text.
type MockReply struct {
	Text string
	Err  error
}

// MockCall records a request seen by MockClient.
type MockCall struct {
	Prompt string
	Params Params
}

// MockClient provides scripted responses for testing. Replies are keyed by
// Params.Operation and consumed in order; the last reply for an operation
// repeats once the queue is drained.
type MockClient struct {
	mu       sync.Mutex
	replies  map[string][]MockReply
	fallback string
	calls    []MockCall
}

// NewMockClient creates a mock that answers unknown operations with a
// minimal JSON object.
func NewMockClient() *MockClient {
	return &MockClient{
		replies:  make(map[string][]MockReply),
		fallback: `{}`,
	}
}

// On queues replies for an operation.
func (m *MockClient) On(operation string, replies ...MockReply) *MockClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies[operation] = append(m.replies[operation], replies...)
	return m
}

// OnText queues plain text replies for an operation.
func (m *MockClient) OnText(operation string, texts ...string) *MockClient {
	for _, t := range texts {
		m.On(operation, MockReply{Text: t})
	}
	return m
}

func (m *MockClient) Generate(ctx context.Context, prompt string, params Params) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Prompt: prompt, Params: params})

	queue := m.replies[params.Operation]
	if len(queue) == 0 {
		return m.fallback, nil
	}
	reply := queue[0]
	if len(queue) > 1 {
		m.replies[params.Operation] = queue[1:]
	}
	if reply.Err != nil {
		return "", reply.Err
	}
	return reply.Text, nil
}

// Calls returns the recorded requests for an operation, or all of them
// when operation is empty.
func (m *MockClient) Calls(operation string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockCall
	for _, c := range m.calls {
		if operation == "" || c.Params.Operation == operation {
			out = append(out, c)
		}
	}
	return out
}

// LastPrompt returns the most recent prompt for an operation.
func (m *MockClient) LastPrompt(operation string) string {
	calls := m.Calls(operation)
	if len(calls) == 0 {
		return ""
	}
	return calls[len(calls)-1].Prompt
}

func (m *MockClient) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := make([]string, 0, len(m.replies))
	for op := range m.replies {
		ops = append(ops, op)
	}
	return fmt.Sprintf("mock client: %d calls, scripted ops [%s]", len(m.calls), strings.Join(ops, ", "))
}
