package llm

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
	"google.golang.org/genai"
)

// ResolutionKind classifies why a provider could not be resolved.
type ResolutionKind string

const (
	ResolutionUnknownProvider   ResolutionKind = "unknown_provider"
	ResolutionMissingCredential ResolutionKind = "missing_credential"
	ResolutionInvalidCredential ResolutionKind = "invalid_credential"
)

// ResolutionError is returned by Registry.Resolve.
type ResolutionError struct {
	Kind     ResolutionKind
	Provider string
	Err      error
}

func (e *ResolutionError) Error() string {
	switch e.Kind {
	case ResolutionUnknownProvider:
		return fmt.Sprintf("unknown provider %q", e.Provider)
	case ResolutionMissingCredential:
		return fmt.Sprintf("missing API key for provider %s", e.Provider)
	default:
		if e.Err != nil {
			return fmt.Sprintf("invalid API key for provider %s: %v", e.Provider, e.Err)
		}
		return fmt.Sprintf("invalid API key for provider %s", e.Provider)
	}
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// RateLimitError reports backend throttling.
type RateLimitError struct {
	Provider string
	Err      error
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: rate limit exceeded: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: rate limit exceeded", e.Provider)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// StatusCode extracts the HTTP status carried by a provider SDK error.
func StatusCode(err error) (int, bool) {
	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) && anthropicErr.StatusCode != 0 {
		return anthropicErr.StatusCode, true
	}
	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) && openaiErr.StatusCode != 0 {
		return openaiErr.StatusCode, true
	}
	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) && genaiErr.Code != 0 {
		return genaiErr.Code, true
	}
	var genaiPtr *genai.APIError
	if errors.As(err, &genaiPtr) && genaiPtr.Code != 0 {
		return genaiPtr.Code, true
	}
	return 0, false
}

// wrapAPIError tags throttling responses so callers can classify them without string matching.
func wrapAPIError(provider string, err error) error {
	if err == nil {
		return nil
	}
	if code, ok := StatusCode(err); ok && code == http.StatusTooManyRequests {
		return &RateLimitError{Provider: provider, Err: err}
	}
	return fmt.Errorf("%s API error: %w", provider, err)
}
