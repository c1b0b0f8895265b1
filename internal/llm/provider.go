package llm

import "context"

// Capabilities describes optional provider features.
type Capabilities struct {
	ToolCalls bool
}

// Provider is a generation backend resolved for one model.
type Provider interface {
	// Name is a human readable identifier such as "Anthropic (claude-3-5-sonnet)".
	Name() string
	// Credential names the credential source used ("api_key", "aws", "none", ...).
	Credential() string
	Capabilities() Capabilities
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream yields events until io.EOF.
// A well-behaved provider emits EventDone with a FinishReason before EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}
