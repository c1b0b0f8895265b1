package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider streams from the Google Gemini API.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

func NewGeminiProvider(ctx context.Context, apiKey, model string, timeout time.Duration) (*GeminiProvider, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if timeout > 0 {
		cfg.HTTPOptions.Timeout = &timeout
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiProvider{client: client, model: model}, nil
}

func (p *GeminiProvider) Name() string {
	return fmt.Sprintf("Google (%s)", p.model)
}

func (p *GeminiProvider) Credential() string {
	return "api_key"
}

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true}
}

func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	system, contents := buildGeminiContents(req.Messages)
	if len(contents) == 0 {
		return nil, fmt.Errorf("no user content provided")
	}

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if req.Temperature > 0 {
		t := req.Temperature
		config.Temperature = &t
	}
	model := chooseModel(req.Model, p.model)

	if req.Debug {
		slog.Debug("gemini stream request",
			"provider", p.Name(),
			"system", truncate(system, 200),
			"contents", len(contents))
	}

	return newEventStream(ctx, func(ctx context.Context, events chan<- Event) error {
		var use Usage
		reason := FinishStop
		for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				return wrapAPIError("Google", err)
			}
			if text := resp.Text(); text != "" {
				if err := emit(ctx, events, Event{Type: EventTextDelta, Text: text}); err != nil {
					return err
				}
			}
			if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != "" {
				reason = geminiFinishReason(resp.Candidates[0].FinishReason)
			}
			if m := resp.UsageMetadata; m != nil {
				use = Usage{
					InputTokens:  int(m.PromptTokenCount),
					OutputTokens: int(m.CandidatesTokenCount),
					TotalTokens:  int(m.TotalTokenCount),
				}
			}
		}
		return emitDone(ctx, events, use, reason)
	}), nil
}

func geminiFinishReason(reason genai.FinishReason) FinishReason {
	switch reason {
	case genai.FinishReasonMaxTokens:
		return FinishLength
	case genai.FinishReasonSafety, "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return FinishError
	default:
		return FinishStop
	}
}

func buildGeminiContents(messages []Message) (string, []*genai.Content) {
	system, rest := splitSystem(messages)
	contents := make([]*genai.Content, 0, len(rest))
	for _, msg := range rest {
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		for _, part := range msg.Parts {
			switch part.Type {
			case PartText:
				if strings.TrimSpace(part.Text) != "" {
					parts = append(parts, genai.NewPartFromText(part.Text))
				}
			case PartToolCall:
				if part.ToolCall == nil {
					continue
				}
				args := map[string]any{}
				if len(part.ToolCall.Arguments) > 0 {
					_ = json.Unmarshal(part.ToolCall.Arguments, &args)
				}
				parts = append(parts, genai.NewPartFromFunctionCall(part.ToolCall.Name, args))
			case PartToolResult:
				if part.ToolResult == nil {
					continue
				}
				key := "output"
				if part.ToolResult.IsError {
					key = "error"
				}
				parts = append(parts, genai.NewPartFromFunctionResponse(part.ToolResult.Name, map[string]any{key: part.ToolResult.Content}))
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return system, contents
}
