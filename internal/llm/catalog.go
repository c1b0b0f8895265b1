package llm

import "strings"

// ModelInfo describes one selectable model.
type ModelInfo struct {
	Name            string `json:"name" yaml:"name"`
	Label           string `json:"label" yaml:"label"`
	Provider        string `json:"provider" yaml:"provider"`
	MaxTokenAllowed int    `json:"maxTokenAllowed" yaml:"max_token_allowed"`
}

// ProviderInfo groups the static models offered by one provider.
type ProviderInfo struct {
	Name         string      `json:"name" yaml:"name"`
	StaticModels []ModelInfo `json:"staticModels" yaml:"static_models"`
}

const (
	DefaultProvider = "Anthropic"
	DefaultModel    = "claude-3-5-sonnet-20241022"
)

func models(provider string, maxTokens int, pairs ...string) []ModelInfo {
	out := make([]ModelInfo, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, ModelInfo{Name: pairs[i], Label: pairs[i+1], Provider: provider, MaxTokenAllowed: maxTokens})
	}
	return out
}

var providerList = []ProviderInfo{
	{Name: "Anthropic", StaticModels: models("Anthropic", 8000,
		"claude-3-5-sonnet-20241022", "Claude 3.5 Sonnet",
		"claude-3-5-haiku-20241022", "Claude 3.5 Haiku",
		"claude-3-opus-20240229", "Claude 3 Opus",
		"claude-3-sonnet-20240229", "Claude 3 Sonnet",
		"claude-3-haiku-20240307", "Claude 3 Haiku",
	)},
	{Name: "OpenAI", StaticModels: models("OpenAI", 8000,
		"gpt-4o", "GPT-4o",
		"gpt-4o-mini", "GPT-4o Mini",
		"gpt-4-turbo", "GPT-4 Turbo",
		"gpt-4", "GPT-4",
		"gpt-3.5-turbo", "GPT-3.5 Turbo",
	)},
	{Name: "Google", StaticModels: models("Google", 8192,
		"gemini-1.5-pro-latest", "Gemini 1.5 Pro",
		"gemini-1.5-flash-latest", "Gemini 1.5 Flash",
		"gemini-pro", "Gemini Pro",
	)},
	{Name: "Groq", StaticModels: models("Groq", 8000,
		"llama-3.1-70b-versatile", "Llama 3.1 70B",
		"llama-3.1-8b-instant", "Llama 3.1 8B",
		"mixtral-8x7b-32768", "Mixtral 8x7B",
		"gemma2-9b-it", "Gemma2 9B",
	)},
	{Name: "Mistral", StaticModels: models("Mistral", 8000,
		"mistral-large-latest", "Mistral Large",
		"mistral-small-latest", "Mistral Small",
		"codestral-latest", "Codestral",
	)},
	{Name: "Deepseek", StaticModels: models("Deepseek", 8000,
		"deepseek-coder", "Deepseek Coder",
		"deepseek-chat", "Deepseek Chat",
	)},
	{Name: "xAI", StaticModels: models("xAI", 8000,
		"grok-beta", "Grok Beta",
	)},
	{Name: "OpenRouter", StaticModels: models("OpenRouter", 8000,
		"anthropic/claude-3.5-sonnet", "Claude 3.5 Sonnet (OR)",
		"openai/gpt-4o", "GPT-4o (OR)",
		"meta-llama/llama-3.1-70b-instruct", "Llama 3.1 70B (OR)",
	)},
	{Name: "HuggingFace", StaticModels: models("HuggingFace", 8000,
		"Qwen/Qwen2.5-Coder-32B-Instruct", "Qwen 2.5 Coder 32B",
	)},
	{Name: "Bedrock", StaticModels: models("Bedrock", 8000,
		"anthropic.claude-3-5-sonnet-20241022-v2:0", "Claude 3.5 Sonnet (Bedrock)",
		"anthropic.claude-3-5-haiku-20241022-v1:0", "Claude 3.5 Haiku (Bedrock)",
	)},
	{Name: "Ollama"},
}

// Catalog returns a copy of the static provider list.
func Catalog() []ProviderInfo {
	out := make([]ProviderInfo, len(providerList))
	for i, p := range providerList {
		out[i] = ProviderInfo{Name: p.Name, StaticModels: append([]ModelInfo(nil), p.StaticModels...)}
	}
	return out
}

// LookupProvider finds a catalog entry by case-insensitive name.
func LookupProvider(name string) (ProviderInfo, bool) {
	name = strings.TrimSpace(name)
	for _, p := range providerList {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ProviderInfo{}, false
}

// DefaultModelFor returns the first catalog model of a provider, or "".
func DefaultModelFor(provider string) string {
	p, ok := LookupProvider(provider)
	if !ok || len(p.StaticModels) == 0 {
		return ""
	}
	return p.StaticModels[0].Name
}
