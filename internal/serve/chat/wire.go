package chat

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/samsaffron/llm-relay/internal/llm"
)

// ChatRequest is the body of POST /api/chat and the first websocket frame.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
	// APIKeys maps provider names to caller-supplied credentials.
	APIKeys map[string]string `json:"apiKeys,omitempty"`
}

// ChatMessage is one conversation entry as sent by the browser client.
type ChatMessage struct {
	Role            string           `json:"role"`
	Content         string           `json:"content"`
	ToolInvocations []ToolInvocation `json:"toolInvocations,omitempty"`
}

// ToolInvocation is a tool call the assistant made, with its result when known.
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// ToLLMMessages converts wire messages into provider messages. An assistant
// message with tool invocations becomes a tool-call message followed by one
// tool message per answered invocation.
func ToLLMMessages(msgs []ChatMessage) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(msgs))
	for i, m := range msgs {
		switch llm.Role(strings.ToLower(strings.TrimSpace(m.Role))) {
		case llm.RoleUser:
			out = append(out, llm.UserText(m.Content))
		case llm.RoleAssistant:
			if len(m.ToolInvocations) == 0 {
				out = append(out, llm.AssistantText(m.Content))
				continue
			}
			calls := make([]llm.ToolCall, 0, len(m.ToolInvocations))
			for _, inv := range m.ToolInvocations {
				calls = append(calls, llm.ToolCall{ID: inv.ToolCallID, Name: inv.ToolName, Arguments: inv.Args})
			}
			out = append(out, llm.ToolCallMessage(m.Content, calls))
			for _, inv := range m.ToolInvocations {
				if len(inv.Result) == 0 {
					continue
				}
				out = append(out, llm.ToolResultMessage(inv.ToolCallID, inv.ToolName, resultText(inv.Result)))
			}
		default:
			return nil, fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
	}
	return out, nil
}

// resultText unquotes JSON string results and passes other JSON through.
func resultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// WireEvent is the JSON envelope sent server->client on the websocket.
type WireEvent struct {
	Seq       int64  `json:"seq"`
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`

	// text_delta
	Text string `json:"text,omitempty"`

	// message_done
	Provider string     `json:"provider,omitempty"`
	Model    string     `json:"model,omitempty"`
	Segments int        `json:"segments,omitempty"`
	Usage    *UsageInfo `json:"usage,omitempty"`

	// error
	Status  int    `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

type UsageInfo struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

// ClientEvent is a websocket frame sent after the initial request.
type ClientEvent struct {
	Type string `json:"type"` // "interrupt"
}
