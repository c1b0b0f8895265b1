package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/llm-relay/internal/config"
	"github.com/samsaffron/llm-relay/internal/directive"
	"github.com/samsaffron/llm-relay/internal/exitcode"
	"github.com/samsaffron/llm-relay/internal/llm"
	"github.com/samsaffron/llm-relay/internal/segment"
)

func setAskFlags(t *testing.T, provider, model string) {
	t.Helper()
	oldP, oldM := askProvider, askModel
	askProvider, askModel = provider, model
	t.Cleanup(func() { askProvider, askModel = oldP, oldM })
}

func TestAskDirective(t *testing.T) {
	defaults := directive.Directive{Provider: "Anthropic", Model: "claude-3-5-sonnet-20241022"}

	tests := []struct {
		name      string
		provider  string
		model     string
		question  string
		wantProv  string
		wantModel string
		wantText  string
	}{
		{name: "defaults", question: "hi", wantProv: "Anthropic", wantModel: "claude-3-5-sonnet-20241022", wantText: "hi"},
		{name: "headers", question: "[Model: gpt-4o]\n\n[Provider: OpenAI]\n\nhi", wantProv: "OpenAI", wantModel: "gpt-4o", wantText: "hi"},
		{name: "provider flag drops default model", provider: "Groq", question: "hi", wantProv: "Groq", wantModel: "", wantText: "hi"},
		{name: "model flag wins over header", model: "gpt-4o-mini", question: "[Model: gpt-4o]\n\nhi", wantProv: "Anthropic", wantModel: "gpt-4o-mini", wantText: "hi"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setAskFlags(t, tc.provider, tc.model)
			dir, msgs := askDirective(tc.question, defaults)
			assert.Equal(t, tc.wantProv, dir.Provider)
			assert.Equal(t, tc.wantModel, dir.Model)
			require.Len(t, msgs, 1)
			assert.Equal(t, tc.wantText, msgs[0].Text())
		})
	}
}

func TestReadQuestion(t *testing.T) {
	q, err := readQuestion([]string{"what", "is", "go"}, strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "what is go", q)

	q, err = readQuestion([]string{"-"}, strings.NewReader("from stdin\n"))
	require.NoError(t, err)
	assert.Equal(t, "from stdin", q)

	_, err = readQuestion(nil, strings.NewReader("  \n"))
	assert.Equal(t, exitcode.Usage, exitcode.Code(err))
}

func TestAskError(t *testing.T) {
	assert.NoError(t, askError(nil))
	assert.Equal(t, exitcode.Cancelled, exitcode.Code(askError(context.Canceled)))
	assert.Equal(t, exitcode.Truncated, exitcode.Code(askError(&segment.SegmentLimitError{Max: 2})))

	err := askError(&llm.RateLimitError{Provider: "OpenAI"})
	assert.Equal(t, exitcode.Unavailable, exitcode.Code(err))
	assert.Equal(t, "Rate limit exceeded. Please wait before sending another message.", err.Error())

	err = askError(&llm.ResolutionError{Kind: llm.ResolutionMissingCredential, Provider: "OpenAI"})
	assert.Equal(t, exitcode.Unavailable, exitcode.Code(err))

	err = askError(errors.New("socket closed"))
	assert.Equal(t, exitcode.Error, exitcode.Code(err))
	assert.Equal(t, "Chat error: socket closed", err.Error())
}

func TestCatalogListings(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GROQ_API_KEY", "")
	cfg := config.Defaults()
	cfg.Providers = map[string]config.ProviderConfig{"OpenAI": {APIKey: "sk-test"}}

	listings := catalogListings(cfg, llm.DefaultRegistry(), "")
	byName := map[string]providerListing{}
	for _, l := range listings {
		byName[l.Name] = l
	}
	assert.True(t, byName["OpenAI"].Configured)
	assert.False(t, byName["Anthropic"].Configured)
	assert.True(t, byName["Anthropic"].Default)
	assert.True(t, byName["Ollama"].Configured, "keyless backends are always ready")

	only := catalogListings(cfg, llm.DefaultRegistry(), "groq")
	require.Len(t, only, 1)
	assert.Equal(t, "Groq", only[0].Name)

	var buf bytes.Buffer
	printListings(&buf, only, cfg.DefaultModel)
	assert.Contains(t, buf.String(), "Groq (no credential)")
	assert.Contains(t, buf.String(), "llama-3.1-70b-versatile")
}

func TestFormatRelativeTime(t *testing.T) {
	now := time.Now()
	assert.Equal(t, "just now", formatRelativeTime(now))
	assert.Equal(t, "5m ago", formatRelativeTime(now.Add(-5*time.Minute-time.Second)))
	assert.Equal(t, "3h ago", formatRelativeTime(now.Add(-3*time.Hour-time.Second)))
	assert.Equal(t, "2d ago", formatRelativeTime(now.Add(-49*time.Hour)))
}

func TestTruncateAndOneLine(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "a b c", oneLine("a\n  b\tc\n"))
}

func TestLastByteWriter(t *testing.T) {
	var buf bytes.Buffer
	var last byte
	w := &lastByteWriter{w: &buf, last: &last}
	_, _ = w.Write([]byte("hello"))
	assert.Equal(t, byte('o'), last)
	_, _ = w.Write([]byte("\n"))
	assert.Equal(t, byte('\n'), last)
}

func runRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		configPath = ""
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := runRoot(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)
	_, err = os.Stat(path)
	require.NoError(t, err)

	_, err = runRoot(t, "config", "init", "--config", path)
	assert.ErrorContains(t, err, "already exists")

	t.Setenv("LLM_RELAY_SERVE_TOKEN", "supersecrettoken")
	out, err = runRoot(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "max_response_segments: 2")
	assert.Contains(t, out, "supe****oken")
	assert.NotContains(t, out, "supersecrettoken")
}

func TestExchangesRequiresRecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("exchanges:\n  enabled: false\n"), 0600))

	_, err := runRoot(t, "exchanges", "list", "--config", path)
	assert.ErrorContains(t, err, "exchange recording is disabled")
}

func TestVersion(t *testing.T) {
	out, err := runRoot(t, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "llm-relay version dev"))
}
