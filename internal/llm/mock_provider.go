package llm

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockTurn represents a single response from the mock provider.
type MockTurn struct {
	Text         string        // Text to emit (chunked for realistic streaming)
	FinishReason FinishReason  // Reported finish reason; defaults to FinishStop
	Usage        Usage         // Token usage to report
	Delay        time.Duration // Optional delay before responding (for timeout tests)
	Error        error         // Fail the stream with this error instead of responding
	StreamError  error         // Return this error from Stream itself
}

// MockProvider is a configurable provider for testing.
// It returns scripted responses and records all requests for verification.
type MockProvider struct {
	name      string
	turns     []MockTurn
	turnIndex int
	Requests  []Request // Recorded requests for verification
	mu        sync.Mutex
}

// NewMockProvider creates a new mock provider with the given name.
func NewMockProvider(name string) *MockProvider {
	return &MockProvider{name: name}
}

func (m *MockProvider) Name() string {
	return m.name
}

// Credential returns "mock" for the mock provider.
func (m *MockProvider) Credential() string {
	return "mock"
}

func (m *MockProvider) Capabilities() Capabilities {
	return Capabilities{}
}

// AddTurn adds a response turn and returns the provider for chaining.
func (m *MockProvider) AddTurn(t MockTurn) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, t)
	return m
}

// AddTextResponse adds a naturally finished text response.
func (m *MockProvider) AddTextResponse(text string) *MockProvider {
	return m.AddTurn(MockTurn{Text: text})
}

// AddTruncated adds a text response that stops at the output-length ceiling.
func (m *MockProvider) AddTruncated(text string) *MockProvider {
	return m.AddTurn(MockTurn{Text: text, FinishReason: FinishLength})
}

// AddError adds a turn whose stream fails with err.
func (m *MockProvider) AddError(err error) *MockProvider {
	return m.AddTurn(MockTurn{Error: err})
}

// Calls returns the number of Stream invocations so far.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

// Request returns a copy of the i-th recorded request.
func (m *MockProvider) Request(i int) Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Requests[i]
}

// Stream implements the Provider interface.
func (m *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	m.mu.Lock()
	m.Requests = append(m.Requests, req)

	if m.turnIndex >= len(m.turns) {
		m.mu.Unlock()
		return nil, fmt.Errorf("mock provider: no more turns configured (expected turn %d, have %d)", m.turnIndex, len(m.turns))
	}

	turn := m.turns[m.turnIndex]
	m.turnIndex++
	m.mu.Unlock()

	if turn.StreamError != nil {
		return nil, turn.StreamError
	}

	return newEventStream(ctx, func(ctx context.Context, ch chan<- Event) error {
		if turn.Delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(turn.Delay):
			}
		}

		if turn.Error != nil {
			return turn.Error
		}

		for _, chunk := range chunkText(turn.Text, 10) {
			if err := emit(ctx, ch, Event{Type: EventTextDelta, Text: chunk}); err != nil {
				return err
			}
		}

		return emitDone(ctx, ch, turn.Usage, turn.FinishReason)
	}), nil
}

// chunkText splits text into chunks of approximately the given size.
// It tries to break at word boundaries when possible.
func chunkText(text string, chunkSize int) []string {
	if len(text) == 0 {
		return nil
	}
	if len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	for len(text) > 0 {
		if len(text) <= chunkSize {
			chunks = append(chunks, text)
			break
		}

		breakPoint := chunkSize
		for i := chunkSize; i > chunkSize/2; i-- {
			if text[i] == ' ' {
				breakPoint = i + 1
				break
			}
		}

		chunks = append(chunks, text[:breakPoint])
		text = text[breakPoint:]
	}
	return chunks
}
