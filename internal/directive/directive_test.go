package directive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/llm-relay/internal/llm"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Directive
		wantOut string
	}{
		{
			name:    "both headers",
			content: "[Model: gpt-4o]\n\n[Provider: OpenAI]\n\nhello",
			want:    Directive{Model: "gpt-4o", Provider: "OpenAI"},
			wantOut: "hello",
		},
		{
			name:    "provider first",
			content: "[Provider: OpenAI]\n\n[Model: gpt-4o]\n\nhello",
			want:    Directive{Model: "gpt-4o", Provider: "OpenAI"},
			wantOut: "hello",
		},
		{
			name:    "model only keeps default provider",
			content: "[Model: claude-3-opus-20240229]\n\n  hi  ",
			want:    Directive{Model: "claude-3-opus-20240229", Provider: llm.DefaultProvider},
			wantOut: "hi",
		},
		{
			name:    "provider only clears model",
			content: "[Provider: Groq]\n\nhi",
			want:    Directive{Model: "", Provider: "Groq"},
			wantOut: "hi",
		},
		{
			name:    "provider only naming default keeps model",
			content: "[Provider: Anthropic]\n\nhi",
			want:    Default,
			wantOut: "hi",
		},
		{
			name:    "no headers is unchanged",
			content: "  plain text\n",
			want:    Default,
			wantOut: "  plain text\n",
		},
		{
			name:    "missing blank line is not a header",
			content: "[Model: gpt-4o]\nhello",
			want:    Default,
			wantOut: "[Model: gpt-4o]\nhello",
		},
		{
			name:    "header later in text is ignored",
			content: "hello\n\n[Model: gpt-4o]\n\nworld",
			want:    Default,
			wantOut: "hello\n\n[Model: gpt-4o]\n\nworld",
		},
		{
			name:    "duplicate header stays in content",
			content: "[Model: a]\n\n[Model: b]\n\nx",
			want:    Directive{Model: "a", Provider: llm.DefaultProvider},
			wantOut: "[Model: b]\n\nx",
		},
		{
			name:    "leading whitespace",
			content: "\n [Model: m]\n\nx",
			want:    Directive{Model: "m", Provider: llm.DefaultProvider},
			wantOut: "x",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, out := Parse(tc.content, Default)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantOut, out)
		})
	}
}

func TestParseIdempotent(t *testing.T) {
	_, once := Parse("[Model: gpt-4o]\n\n[Provider: OpenAI]\n\n  body text ", Default)
	d, twice := Parse(once, Default)
	assert.Equal(t, once, twice)
	assert.Equal(t, Default, d)
}

func TestParseMessageIgnoresAssistant(t *testing.T) {
	content := "[Model: gpt-4o]\n\nhi"
	d, out := ParseMessage(llm.RoleAssistant, content, Default)
	assert.Equal(t, Default, d)
	assert.Equal(t, content, out)

	d, out = ParseMessage(llm.RoleUser, content, Default)
	assert.Equal(t, "gpt-4o", d.Model)
	assert.Equal(t, "hi", out)
}

func TestApplyUsesLastUserMessage(t *testing.T) {
	msgs := []llm.Message{
		llm.UserText("[Model: gpt-4o]\n\n[Provider: OpenAI]\n\nfirst"),
		llm.AssistantText("[Model: x]\n\nreply"),
		llm.UserText("[Model: mistral-large-latest]\n\n[Provider: Mistral]\n\nsecond"),
	}

	d, out := Apply(msgs, Default)
	assert.Equal(t, Directive{Model: "mistral-large-latest", Provider: "Mistral"}, d)
	require.Len(t, out, 3)
	assert.Equal(t, "first", out[0].Text())
	assert.Equal(t, "[Model: x]\n\nreply", out[1].Text())
	assert.Equal(t, "second", out[2].Text())

	// input untouched
	assert.Equal(t, "[Model: gpt-4o]\n\n[Provider: OpenAI]\n\nfirst", msgs[0].Text())
}

func TestApplyWithoutUserMessages(t *testing.T) {
	d, out := Apply(nil, Default)
	assert.Equal(t, Default, d)
	assert.Empty(t, out)
}
