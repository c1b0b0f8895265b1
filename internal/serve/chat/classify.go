package chat

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samsaffron/llm-relay/internal/llm"
	"github.com/samsaffron/llm-relay/internal/segment"
)

const (
	rateLimitMessage = "Rate limit exceeded. Please wait before sending another message."
	authMessage      = "Invalid or missing API key for the selected provider."
)

// Classify maps a chat failure to an HTTP status and a client-facing message.
// Typed errors are checked first; message matching is the fallback for
// errors that reach us without a type.
func Classify(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}

	var resErr *llm.ResolutionError
	var rateErr *llm.RateLimitError
	var limitErr *segment.SegmentLimitError
	switch {
	case errors.As(err, &resErr):
		if resErr.Kind == llm.ResolutionUnknownProvider {
			return http.StatusUnauthorized, fmt.Sprintf("Unknown provider %q.", resErr.Provider)
		}
		return http.StatusUnauthorized, authMessage
	case errors.As(err, &rateErr):
		return http.StatusTooManyRequests, rateLimitMessage
	case errors.As(err, &limitErr):
		return http.StatusInternalServerError, "Chat error: " + limitErr.Error()
	}

	if code, ok := llm.StatusCode(err); ok {
		switch code {
		case http.StatusTooManyRequests:
			return http.StatusTooManyRequests, rateLimitMessage
		case http.StatusUnauthorized, http.StatusForbidden:
			return http.StatusUnauthorized, authMessage
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		return http.StatusTooManyRequests, rateLimitMessage
	case strings.Contains(msg, "api key") || strings.Contains(msg, "auth") || strings.Contains(msg, "401"):
		return http.StatusUnauthorized, authMessage
	}
	return http.StatusInternalServerError, "Chat error: " + err.Error()
}
