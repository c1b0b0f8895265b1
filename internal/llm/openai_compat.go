package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAICompatProvider streams from any endpoint speaking the OpenAI
// chat completions protocol (Groq, Mistral, Deepseek, xAI, Ollama, ...).
type OpenAICompatProvider struct {
	client *openai.Client
	model  string
	name   string
	keyed  bool
}

// NewOpenAICompatProvider creates a provider for an OpenAI-compatible endpoint.
func NewOpenAICompatProvider(baseURL, apiKey, model, name string, opts ...option.RequestOption) *OpenAICompatProvider {
	return NewOpenAICompatProviderWithHeaders(baseURL, apiKey, model, name, nil, opts...)
}

// NewOpenAICompatProviderWithHeaders is NewOpenAICompatProvider with extra request headers.
func NewOpenAICompatProviderWithHeaders(baseURL, apiKey, model, name string, headers map[string]string, opts ...option.RequestOption) *OpenAICompatProvider {
	all := []option.RequestOption{option.WithBaseURL(strings.TrimRight(baseURL, "/") + "/")}
	if apiKey != "" {
		all = append(all, option.WithAPIKey(apiKey))
	} else {
		// the SDK insists on a key; keyless local servers ignore it
		all = append(all, option.WithAPIKey("none"))
	}
	for k, v := range headers {
		all = append(all, option.WithHeader(k, v))
	}
	client := openai.NewClient(append(all, opts...)...)
	return &OpenAICompatProvider{
		client: &client,
		model:  model,
		name:   name,
		keyed:  apiKey != "",
	}
}

func (p *OpenAICompatProvider) Name() string {
	return fmt.Sprintf("%s (%s)", p.name, p.model)
}

func (p *OpenAICompatProvider) Credential() string {
	if p.keyed {
		return "api_key"
	}
	return "none"
}

func (p *OpenAICompatProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true}
}

func (p *OpenAICompatProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	messages := buildCompatMessages(req.Messages)
	if len(messages) == 0 {
		return nil, fmt.Errorf("no user content provided")
	}

	params := openai.ChatCompletionNewParams{
		Model:    chooseModel(req.Model, p.model),
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	switch req.ToolChoice.Mode {
	case ToolChoiceNone, ToolChoiceAuto, ToolChoiceRequired:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(string(req.ToolChoice.Mode))}
	}

	if req.Debug {
		slog.Debug("chat completions stream request",
			"provider", p.Name(),
			"messages", len(messages),
			"max_tokens", req.MaxOutputTokens)
	}

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var use Usage
		reason := FinishStop
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					if err := emit(ctx, events, Event{Type: EventTextDelta, Text: choice.Delta.Content}); err != nil {
						return err
					}
				}
				if choice.FinishReason != "" {
					reason = compatFinishReason(choice.FinishReason)
				}
			}
			if chunk.Usage.TotalTokens > 0 || chunk.Usage.CompletionTokens > 0 {
				use = Usage{
					InputTokens:  int(chunk.Usage.PromptTokens),
					OutputTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:  int(chunk.Usage.TotalTokens),
				}
			}
		}
		if err := stream.Err(); err != nil {
			return wrapAPIError(p.name, err)
		}
		return emitDone(ctx, events, use, reason)
	}), nil
}

func compatFinishReason(reason string) FinishReason {
	switch reason {
	case "length":
		return FinishLength
	case "content_filter":
		return FinishError
	default:
		return FinishStop
	}
}

func buildCompatMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := msg.Text(); text != "" {
				out = append(out, openai.SystemMessage(text))
			}
		case RoleUser:
			out = append(out, openai.UserMessage(msg.Text()))
		case RoleAssistant:
			var calls []openai.ChatCompletionMessageToolCallParam
			for _, part := range msg.Parts {
				if part.Type != PartToolCall || part.ToolCall == nil {
					continue
				}
				args := strings.TrimSpace(string(part.ToolCall.Arguments))
				if args == "" {
					args = "{}"
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: part.ToolCall.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      part.ToolCall.Name,
						Arguments: args,
					},
				})
			}
			if len(calls) == 0 {
				out = append(out, openai.AssistantMessage(msg.Text()))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if text := msg.Text(); text != "" {
				assistant.Content.OfString = openai.String(text)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type == PartToolResult && part.ToolResult != nil {
					out = append(out, openai.ToolMessage(toolResultText(part.ToolResult), part.ToolResult.ID))
				}
			}
		}
	}
	return out
}
