package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"
	"github.com/openai/openai-go/shared"
)

// OpenAIProvider implements Provider using the OpenAI Responses API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	effort string // reasoning effort: "low", "medium", "high", "xhigh", or ""
}

// parseModelEffort extracts effort suffix from model name.
// "gpt-5.2-high" -> ("gpt-5.2", "high")
// "gpt-5.2" -> ("gpt-5.2", "")
func parseModelEffort(model string) (string, string) {
	// longest first so "-high" does not match "-xhigh"
	suffixes := []string{"xhigh", "medium", "high", "low"}
	for _, effort := range suffixes {
		suffix := "-" + effort
		if strings.HasSuffix(model, suffix) {
			return strings.TrimSuffix(model, suffix), effort
		}
	}
	return model, ""
}

func NewOpenAIProvider(apiKey, model, baseURL string, opts ...option.RequestOption) *OpenAIProvider {
	actualModel, effort := parseModelEffort(model)
	all := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		all = append(all, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(append(all, opts...)...)
	return &OpenAIProvider{
		client: &client,
		model:  actualModel,
		effort: effort,
	}
}

func (p *OpenAIProvider) Name() string {
	if p.effort != "" {
		return fmt.Sprintf("OpenAI (%s, effort=%s)", p.model, p.effort)
	}
	return fmt.Sprintf("OpenAI (%s)", p.model)
}

func (p *OpenAIProvider) Credential() string {
	return "api_key"
}

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true}
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	system, inputItems := buildOpenAIInput(req.Messages)
	if len(inputItems) == 0 {
		return nil, fmt.Errorf("no user content provided")
	}

	params := responses.ResponseNewParams{
		Model: shared.ResponsesModel(chooseModel(req.Model, p.model)),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: inputItems,
		},
	}
	if system != "" {
		params.Instructions = openai.String(system)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if p.effort != "" {
		params.Reasoning = shared.ReasoningParam{
			Effort: shared.ReasoningEffort(p.effort),
		}
	}
	if req.ToolChoice.Mode != "" {
		params.ToolChoice = buildOpenAIToolChoice(req.ToolChoice)
	}

	if req.Debug {
		slog.Debug("openai stream request",
			"provider", p.Name(),
			"system", truncate(system, 200),
			"user", truncate(collectRoleText(req.Messages, RoleUser), 200),
			"input_items", len(inputItems))
	}

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		stream := p.client.Responses.NewStreaming(ctx, params)
		defer stream.Close()

		var use Usage
		reason := FinishStop
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "response.output_text.delta":
				if event.Delta.OfString != "" {
					if err := emit(ctx, events, Event{Type: EventTextDelta, Text: event.Delta.OfString}); err != nil {
						return err
					}
				}
			case "response.completed", "response.incomplete":
				u := event.Response.Usage
				use = Usage{
					InputTokens:  int(u.InputTokens),
					OutputTokens: int(u.OutputTokens),
					TotalTokens:  int(u.TotalTokens),
				}
				if event.Type == "response.incomplete" {
					reason = openAIIncompleteReason(event.Response.IncompleteDetails.Reason)
				}
			case "response.failed":
				msg := event.Response.Error.Message
				if msg == "" {
					msg = "response failed"
				}
				return fmt.Errorf("openai: %s", msg)
			case "error":
				return fmt.Errorf("openai: %s", event.Message)
			}
		}
		if err := stream.Err(); err != nil {
			return wrapAPIError("OpenAI", err)
		}
		return emitDone(ctx, events, use, reason)
	}), nil
}

func openAIIncompleteReason(reason string) FinishReason {
	switch reason {
	case "max_output_tokens":
		return FinishLength
	case "content_filter":
		return FinishError
	default:
		return FinishStop
	}
}

func buildOpenAIToolChoice(choice ToolChoice) responses.ResponseNewParamsToolChoiceUnion {
	switch choice.Mode {
	case ToolChoiceNone:
		return responses.ResponseNewParamsToolChoiceUnion{OfToolChoiceMode: openai.Opt(responses.ToolChoiceOptionsNone)}
	case ToolChoiceRequired:
		return responses.ResponseNewParamsToolChoiceUnion{OfToolChoiceMode: openai.Opt(responses.ToolChoiceOptionsRequired)}
	case ToolChoiceName:
		return responses.ResponseNewParamsToolChoiceUnion{OfFunctionTool: &responses.ToolChoiceFunctionParam{Name: choice.Name}}
	default:
		return responses.ResponseNewParamsToolChoiceUnion{OfToolChoiceMode: openai.Opt(responses.ToolChoiceOptionsAuto)}
	}
}

func buildOpenAIInput(messages []Message) (string, responses.ResponseInputParam) {
	var systemParts []string
	inputItems := make(responses.ResponseInputParam, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			if text := collectTextParts(msg.Parts); text != "" {
				systemParts = append(systemParts, text)
			}
		case RoleUser:
			inputItems = append(inputItems, buildOpenAIMessageItems(responses.EasyInputMessageRoleUser, msg.Parts)...)
		case RoleAssistant:
			inputItems = append(inputItems, buildOpenAIMessageItems(responses.EasyInputMessageRoleAssistant, msg.Parts)...)
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type != PartToolResult || part.ToolResult == nil {
					continue
				}
				callID := strings.TrimSpace(part.ToolResult.ID)
				if callID == "" {
					continue
				}
				inputItems = append(inputItems, responses.ResponseInputItemParamOfFunctionCallOutput(callID, toolResultText(part.ToolResult)))
			}
		}
	}

	return strings.Join(systemParts, "\n\n"), inputItems
}

func buildOpenAIMessageItems(role responses.EasyInputMessageRole, parts []Part) []responses.ResponseInputItemUnionParam {
	var items []responses.ResponseInputItemUnionParam
	var textBuf strings.Builder

	flushText := func() {
		if textBuf.Len() == 0 {
			return
		}
		items = append(items, responses.ResponseInputItemParamOfMessage(textBuf.String(), role))
		textBuf.Reset()
	}

	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				textBuf.WriteString(part.Text)
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			flushText()
			callID := strings.TrimSpace(part.ToolCall.ID)
			if callID == "" {
				continue
			}
			args := strings.TrimSpace(string(part.ToolCall.Arguments))
			if args == "" {
				args = "{}"
			}
			items = append(items, responses.ResponseInputItemParamOfFunctionCall(args, callID, part.ToolCall.Name))
		}
	}

	flushText()
	return items
}

func collectRoleText(messages []Message, role Role) string {
	var parts []string
	for _, msg := range messages {
		if msg.Role != role {
			continue
		}
		if text := collectTextParts(msg.Parts); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// openaiOptions maps backend call options onto openai-go request options.
func openaiOptions(o BackendOptions) []option.RequestOption {
	var opts []option.RequestOption
	if o.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(o.Timeout))
	}
	if o.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(o.MaxRetries))
	}
	return opts
}
