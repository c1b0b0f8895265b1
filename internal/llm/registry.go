package llm

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Env supplies configuration values such as API keys and base URLs.
type Env interface {
	Lookup(key string) (string, bool)
}

// OSEnv reads from the process environment.
type OSEnv struct{}

func (OSEnv) Lookup(key string) (string, bool) {
	return os.LookupEnv(key)
}

// MapEnv is a fixed set of values, mostly useful in tests.
type MapEnv map[string]string

func (m MapEnv) Lookup(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

// BackendOptions are handed to a Backend factory once a credential has been chosen.
type BackendOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Env        Env
}

// Backend describes how to build a Provider for one provider name.
type Backend struct {
	Name           string
	APIKeyEnv      string // environment/config key holding the credential
	BaseURLEnv     string // optional base URL override key
	DefaultBaseURL string
	KeyOptional    bool
	New            func(ctx context.Context, opts BackendOptions) (Provider, error)
}

// Registry resolves provider names to generation backends.
type Registry struct {
	mu         sync.RWMutex
	backends   map[string]Backend
	timeout    time.Duration
	maxRetries int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Backend), maxRetries: -1}
}

// SetCallOptions configures the per-call timeout and SDK retry count handed to backends.
// A negative maxRetries keeps the SDK default.
func (r *Registry) SetCallOptions(timeout time.Duration, maxRetries int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timeout = timeout
	r.maxRetries = maxRetries
}

// Register adds or replaces a backend.
func (r *Registry) Register(b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[strings.ToLower(b.Name)] = b
}

// Names lists registered provider names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.backends))
	for _, b := range r.backends {
		names = append(names, b.Name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the backend registered under name (case-insensitive).
func (r *Registry) Lookup(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[strings.ToLower(strings.TrimSpace(name))]
	return b, ok
}

// Resolve builds a Provider for providerName/modelName.
// Credentials supplied by the caller take precedence over env.
func (r *Registry) Resolve(providerName, modelName string, env Env, credentials map[string]string) (Provider, error) {
	b, ok := r.Lookup(providerName)
	if !ok {
		return nil, &ResolutionError{Kind: ResolutionUnknownProvider, Provider: providerName}
	}
	if env == nil {
		env = OSEnv{}
	}

	key := credentialFor(b, env, credentials)
	if key == "" && !b.KeyOptional {
		return nil, &ResolutionError{Kind: ResolutionMissingCredential, Provider: b.Name}
	}

	baseURL := b.DefaultBaseURL
	if b.BaseURLEnv != "" {
		if v, ok := env.Lookup(b.BaseURLEnv); ok && strings.TrimSpace(v) != "" {
			baseURL = strings.TrimSpace(v)
		}
	}

	model := strings.TrimSpace(modelName)
	if model == "" {
		model = DefaultModelFor(b.Name)
	}

	r.mu.RLock()
	opts := BackendOptions{
		APIKey:     key,
		Model:      model,
		BaseURL:    baseURL,
		Timeout:    r.timeout,
		MaxRetries: r.maxRetries,
		Env:        env,
	}
	r.mu.RUnlock()

	provider, err := b.New(context.Background(), opts)
	if err != nil {
		return nil, &ResolutionError{Kind: ResolutionInvalidCredential, Provider: b.Name, Err: err}
	}
	return provider, nil
}

func credentialFor(b Backend, env Env, credentials map[string]string) string {
	for name, key := range credentials {
		if strings.EqualFold(name, b.Name) && strings.TrimSpace(key) != "" {
			return strings.TrimSpace(key)
		}
	}
	if b.APIKeyEnv == "" {
		return ""
	}
	if v, ok := env.Lookup(b.APIKeyEnv); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// DefaultRegistry returns a registry with every built-in backend.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Backend{
		Name:      "Anthropic",
		APIKeyEnv: "ANTHROPIC_API_KEY",
		New: func(_ context.Context, o BackendOptions) (Provider, error) {
			return NewAnthropicProvider(o.APIKey, o.Model, sdkOptions(o)...), nil
		},
	})
	r.Register(Backend{
		Name:        "Bedrock",
		APIKeyEnv:   "AWS_BEDROCK_CREDENTIALS",
		KeyOptional: true,
		New:         newBedrockBackend,
	})
	r.Register(Backend{
		Name:       "OpenAI",
		APIKeyEnv:  "OPENAI_API_KEY",
		BaseURLEnv: "OPENAI_API_BASE_URL",
		New: func(_ context.Context, o BackendOptions) (Provider, error) {
			return NewOpenAIProvider(o.APIKey, o.Model, o.BaseURL, openaiOptions(o)...), nil
		},
	})
	r.Register(Backend{
		Name:      "Google",
		APIKeyEnv: "GOOGLE_GENERATIVE_AI_API_KEY",
		New: func(ctx context.Context, o BackendOptions) (Provider, error) {
			return NewGeminiProvider(ctx, o.APIKey, o.Model, o.Timeout)
		},
	})
	for _, c := range compatBackends {
		c := c
		r.Register(Backend{
			Name:           c.name,
			APIKeyEnv:      c.keyEnv,
			BaseURLEnv:     c.baseURLEnv,
			DefaultBaseURL: c.baseURL,
			KeyOptional:    c.keyOptional,
			New: func(_ context.Context, o BackendOptions) (Provider, error) {
				return NewOpenAICompatProviderWithHeaders(joinAPIPath(o.BaseURL, c.apiPath), o.APIKey, o.Model, c.name, c.headers(o.Env), openaiOptions(o)...), nil
			},
		})
	}
	return r
}

type compatBackend struct {
	name        string
	keyEnv      string
	baseURLEnv  string
	baseURL     string
	keyOptional bool
	apiPath     string // appended to user-supplied base URLs that lack it
	headers     func(Env) map[string]string
}

func joinAPIPath(base, path string) string {
	base = strings.TrimRight(base, "/")
	if path == "" || strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}

func noHeaders(Env) map[string]string { return nil }

var compatBackends = []compatBackend{
	{name: "Groq", keyEnv: "GROQ_API_KEY", baseURL: "https://api.groq.com/openai/v1", headers: noHeaders},
	{name: "Mistral", keyEnv: "MISTRAL_API_KEY", baseURL: "https://api.mistral.ai/v1", headers: noHeaders},
	{name: "Deepseek", keyEnv: "DEEPSEEK_API_KEY", baseURL: "https://api.deepseek.com/v1", headers: noHeaders},
	{name: "xAI", keyEnv: "XAI_API_KEY", baseURL: "https://api.x.ai/v1", headers: noHeaders},
	{name: "OpenRouter", keyEnv: "OPEN_ROUTER_API_KEY", baseURL: openRouterBaseURL, headers: openRouterHeaders},
	{name: "HuggingFace", keyEnv: "HuggingFace_API_KEY", baseURL: "https://api-inference.huggingface.co/v1", headers: noHeaders},
	{name: "Ollama", baseURLEnv: "OLLAMA_API_BASE_URL", baseURL: "http://localhost:11434", keyOptional: true, apiPath: "/v1", headers: noHeaders},
}
