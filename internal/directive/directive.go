// Package directive extracts the model/provider selection headers a chat
// client prefixes to user messages:
//
//	[Model: claude-3-5-sonnet-20241022]
//
//	[Provider: Anthropic]
//
//	actual prompt text
package directive

import (
	"regexp"
	"strings"

	"github.com/samsaffron/llm-relay/internal/llm"
)

// Directive is the model and provider a turn should be generated with.
type Directive struct {
	Model    string
	Provider string
}

// Default is the directive used when a message carries no headers.
var Default = Directive{Model: llm.DefaultModel, Provider: llm.DefaultProvider}

var headerRE = regexp.MustCompile(`^\s*\[(Model|Provider): (.*?)\]\n\n`)

// Parse strips leading directive headers from content.
// Headers may appear in either order, each at most once. When nothing is
// stripped the content is returned unchanged; otherwise the remainder is trimmed.
// A provider header without a model header selects that provider's default
// model (an empty Model) unless it names the default provider.
func Parse(content string, defaults Directive) (Directive, string) {
	var model, provider string
	var haveModel, haveProvider bool
	rest := content

scan:
	for {
		m := headerRE.FindStringSubmatch(rest)
		if m == nil {
			break
		}
		switch {
		case m[1] == "Model" && !haveModel:
			model, haveModel = m[2], true
		case m[1] == "Provider" && !haveProvider:
			provider, haveProvider = m[2], true
		default:
			break scan
		}
		rest = rest[len(m[0]):]
	}
	if !haveModel && !haveProvider {
		return defaults, content
	}

	d := defaults
	if haveProvider {
		d.Provider = provider
	}
	switch {
	case haveModel:
		d.Model = model
	case !strings.EqualFold(d.Provider, defaults.Provider):
		d.Model = ""
	}
	return d, strings.TrimSpace(rest)
}

// ParseMessage parses content only for user messages.
func ParseMessage(role llm.Role, content string, defaults Directive) (Directive, string) {
	if role != llm.RoleUser {
		return defaults, content
	}
	return Parse(content, defaults)
}

// Apply cleans every user message in place and returns the directive of the
// last user message. Messages are copied; the input slice is not modified.
func Apply(messages []llm.Message, defaults Directive) (Directive, []llm.Message) {
	current := defaults
	out := make([]llm.Message, len(messages))
	for i, msg := range messages {
		out[i] = msg
		if msg.Role != llm.RoleUser {
			continue
		}
		d, cleaned := Parse(msg.Text(), defaults)
		current = d
		if cleaned != msg.Text() {
			out[i] = llm.UserText(cleaned)
		}
	}
	return current, out
}
