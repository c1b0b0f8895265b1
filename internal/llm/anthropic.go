package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider streams completions from the Anthropic Messages API.
// The same adapter serves Bedrock through a differently configured client.
type AnthropicProvider struct {
	client     *anthropic.Client
	model      string
	name       string
	credential string
}

func NewAnthropicProvider(apiKey, model string, opts ...option.RequestOption) *AnthropicProvider {
	all := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	client := anthropic.NewClient(all...)
	return &AnthropicProvider{
		client:     &client,
		model:      model,
		name:       "Anthropic",
		credential: "api_key",
	}
}

func (p *AnthropicProvider) Name() string {
	return fmt.Sprintf("%s (%s)", p.name, p.model)
}

func (p *AnthropicProvider) Credential() string {
	return p.credential
}

func (p *AnthropicProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true}
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	system, messages := buildAnthropicMessages(req.Messages)
	if len(messages) == 0 {
		return nil, fmt.Errorf("no user content provided")
	}

	maxTokens := int64(req.MaxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(chooseModel(req.Model, p.model)),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	if req.ToolChoice.Mode == ToolChoiceNone {
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}
	}

	if req.Debug {
		slog.Debug("anthropic stream request",
			"provider", p.Name(),
			"system", truncate(system, 200),
			"messages", len(messages),
			"max_tokens", maxTokens)
	}

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		var use Usage
		reason := FinishStop
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "message_start":
				use.InputTokens = int(event.Message.Usage.InputTokens)
			case "content_block_delta":
				if event.Delta.Text != "" {
					if err := emit(ctx, events, Event{Type: EventTextDelta, Text: event.Delta.Text}); err != nil {
						return err
					}
				}
			case "message_delta":
				if event.Usage.OutputTokens > 0 {
					use.OutputTokens = int(event.Usage.OutputTokens)
				}
				if event.Usage.InputTokens > 0 {
					use.InputTokens = int(event.Usage.InputTokens)
				}
				reason = anthropicFinishReason(event.Delta.StopReason)
			}
		}
		if err := stream.Err(); err != nil {
			return wrapAPIError(p.name, err)
		}
		return emitDone(ctx, events, use, reason)
	}), nil
}

func anthropicFinishReason(reason anthropic.StopReason) FinishReason {
	switch reason {
	case anthropic.StopReasonMaxTokens:
		return FinishLength
	case "refusal":
		return FinishError
	default:
		return FinishStop
	}
}

// buildAnthropicMessages converts messages to Anthropic params, merging
// consecutive same-role turns since the API requires alternation.
func buildAnthropicMessages(messages []Message) (string, []anthropic.MessageParam) {
	system, rest := splitSystem(messages)
	out := make([]anthropic.MessageParam, 0, len(rest))

	appendBlocks := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, msg := range rest {
		var blocks []anthropic.ContentBlockParamUnion
		for _, part := range msg.Parts {
			switch part.Type {
			case PartText:
				if strings.TrimSpace(part.Text) != "" {
					blocks = append(blocks, anthropic.NewTextBlock(part.Text))
				}
			case PartToolCall:
				if part.ToolCall == nil {
					continue
				}
				var input any = map[string]any{}
				if len(part.ToolCall.Arguments) > 0 {
					var decoded any
					if err := json.Unmarshal(part.ToolCall.Arguments, &decoded); err == nil {
						input = decoded
					}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, input, part.ToolCall.Name))
			case PartToolResult:
				if part.ToolResult == nil {
					continue
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(part.ToolResult.ID, part.ToolResult.Content, part.ToolResult.IsError))
			}
		}
		switch msg.Role {
		case RoleAssistant:
			appendBlocks(anthropic.MessageParamRoleAssistant, blocks)
		default:
			appendBlocks(anthropic.MessageParamRoleUser, blocks)
		}
	}
	return system, out
}

// sdkOptions maps backend call options onto Anthropic request options.
func sdkOptions(o BackendOptions) []option.RequestOption {
	var opts []option.RequestOption
	if o.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.BaseURL))
	}
	if o.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(o.Timeout))
	}
	if o.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(o.MaxRetries))
	}
	return opts
}
