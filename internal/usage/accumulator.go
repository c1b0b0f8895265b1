// Package usage tracks token consumption for a request and records it to
// daily JSONL files.
package usage

import "sync"

// Tokens is a token count triple.
type Tokens struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Accumulator sums the usage of every segment of one request.
// The zero value is ready to use.
type Accumulator struct {
	mu     sync.Mutex
	tokens Tokens
}

// Update adds delta to the running totals. A zero TotalTokens in delta is
// derived from prompt plus completion tokens.
func (a *Accumulator) Update(delta Tokens) {
	if delta.TotalTokens == 0 {
		delta.TotalTokens = delta.PromptTokens + delta.CompletionTokens
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens.PromptTokens += delta.PromptTokens
	a.tokens.CompletionTokens += delta.CompletionTokens
	a.tokens.TotalTokens += delta.TotalTokens
}

// Reset clears the totals.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens = Tokens{}
}

// Snapshot returns the current totals.
func (a *Accumulator) Snapshot() Tokens {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.tokens
}
