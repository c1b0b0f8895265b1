package segment

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samsaffron/llm-relay/internal/directive"
	"github.com/samsaffron/llm-relay/internal/llm"
	"github.com/samsaffron/llm-relay/internal/switchable"
	"github.com/samsaffron/llm-relay/internal/usage"
)

type stubResolver struct {
	provider llm.Provider
	err      error

	calls    int
	provName string
	model    string
	creds    map[string]string
}

func (s *stubResolver) Resolve(provider, model string, _ llm.Env, creds map[string]string) (llm.Provider, error) {
	s.calls++
	s.provName, s.model, s.creds = provider, model, creds
	if s.err != nil {
		return nil, s.err
	}
	return s.provider, nil
}

type readResult struct {
	text string
	err  error
}

func consume(sw *switchable.Stream) <-chan readResult {
	out := make(chan readResult, 1)
	go func() {
		b, err := io.ReadAll(sw)
		out <- readResult{string(b), err}
	}()
	return out
}

func waitRead(t *testing.T, ch <-chan readResult) readResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("stream reader did not finish")
		return readResult{}
	}
}

func newConv(text string) Conversation {
	return Conversation{
		Messages:  []llm.Message{llm.UserText(text)},
		Directive: directive.Directive{Provider: "Anthropic", Model: "claude-3-5-haiku-20241022"},
	}
}

func newTestDriver(p llm.Provider, opts Options) (*Driver, *stubResolver) {
	res := &stubResolver{provider: p}
	opts.SystemPrompt = "system"
	opts.ContinuePrompt = "go on"
	return NewDriver(res, opts), res
}

func TestDriveSingleSegment(t *testing.T) {
	mock := llm.NewMockProvider("mock").AddTurn(llm.MockTurn{
		Text:  "Hello there, this is a complete answer.",
		Usage: llm.Usage{InputTokens: 12, OutputTokens: 8},
	})
	d, res := newTestDriver(mock, Options{})

	acc := &usage.Accumulator{}
	conv := newConv("hi")
	conv.Usage = acc
	conv.Credentials = map[string]string{"Anthropic": "sk-test"}

	sw := switchable.New()
	out := consume(sw)
	sum, err := d.Drive(context.Background(), sw, conv)
	require.NoError(t, err)

	got := waitRead(t, out)
	require.NoError(t, got.err)
	assert.Equal(t, "Hello there, this is a complete answer.", got.text)

	assert.Equal(t, 1, sum.Segments)
	assert.Equal(t, llm.FinishStop, sum.FinishReason)
	assert.Equal(t, got.text, sum.Text)
	assert.Equal(t, usage.Tokens{PromptTokens: 12, CompletionTokens: 8, TotalTokens: 20}, sum.Usage)
	assert.Equal(t, sum.Usage, acc.Snapshot())

	assert.Equal(t, "Anthropic", res.provName)
	assert.Equal(t, "claude-3-5-haiku-20241022", res.model)
	assert.Equal(t, "sk-test", res.creds["Anthropic"])

	require.Equal(t, 1, mock.Calls())
	req := mock.Request(0)
	assert.Equal(t, DefaultMaxTokens, req.MaxOutputTokens)
	assert.Equal(t, llm.ToolChoiceNone, req.ToolChoice.Mode)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.RoleSystem, req.Messages[0].Role)
	assert.Equal(t, "system", req.Messages[0].Text())
	assert.Equal(t, "hi", req.Messages[1].Text())
	assert.Equal(t, switchable.Closed, sw.State())
}

func TestDriveContinuesTruncatedResponse(t *testing.T) {
	mock := llm.NewMockProvider("mock").
		AddTurn(llm.MockTurn{Text: "first half ", FinishReason: llm.FinishLength, Usage: llm.Usage{InputTokens: 5, OutputTokens: 3}}).
		AddTurn(llm.MockTurn{Text: "second half", Usage: llm.Usage{InputTokens: 9, OutputTokens: 2}})
	d, _ := newTestDriver(mock, Options{})

	conv := newConv("tell me")
	sw := switchable.New()
	out := consume(sw)
	sum, err := d.Drive(context.Background(), sw, conv)
	require.NoError(t, err)

	got := waitRead(t, out)
	require.NoError(t, got.err)
	assert.Equal(t, "first half second half", got.text)
	assert.Equal(t, 2, sum.Segments)
	assert.Equal(t, 2, sw.Switches())
	assert.Equal(t, 19, sum.Usage.TotalTokens)

	require.Equal(t, 2, mock.Calls())
	second := mock.Request(1)
	assert.Equal(t, "claude-3-5-haiku-20241022", second.Model, "directive survives the continuation")
	require.Len(t, second.Messages, 4)
	assert.Equal(t, llm.RoleAssistant, second.Messages[2].Role)
	assert.Equal(t, "first half ", second.Messages[2].Text())
	assert.Equal(t, llm.RoleUser, second.Messages[3].Role)
	assert.Equal(t, "go on", second.Messages[3].Text())

	// the caller's conversation is not mutated
	assert.Len(t, conv.Messages, 1)
	assert.Len(t, mock.Request(0).Messages, 2)
}

func TestDriveSegmentLimit(t *testing.T) {
	mock := llm.NewMockProvider("mock").
		AddTruncated("aaa").
		AddTruncated("bbb").
		AddTruncated("ccc")
	d, _ := newTestDriver(mock, Options{})

	sw := switchable.New()
	out := consume(sw)
	sum, err := d.Drive(context.Background(), sw, newConv("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSegmentLimitExceeded)
	var limitErr *SegmentLimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, DefaultMaxSegments, limitErr.Max)
	assert.Equal(t, "Cannot continue message: Maximum segments (2) reached", err.Error())

	got := waitRead(t, out)
	assert.Equal(t, "aaabbb", got.text, "partial content stays delivered")
	assert.ErrorIs(t, got.err, ErrSegmentLimitExceeded)
	assert.Equal(t, 2, sum.Segments)
	assert.Equal(t, llm.FinishLength, sum.FinishReason)
	assert.Equal(t, 2, mock.Calls())
}

func TestDriveSingleSegmentLimit(t *testing.T) {
	mock := llm.NewMockProvider("mock").AddTruncated("only")
	d, _ := newTestDriver(mock, Options{MaxSegments: 1, MaxTokens: 100})

	sw := switchable.New()
	out := consume(sw)
	_, err := d.Drive(context.Background(), sw, newConv("x"))
	assert.ErrorIs(t, err, ErrSegmentLimitExceeded)
	assert.Equal(t, "only", waitRead(t, out).text)
	assert.Equal(t, 100, mock.Request(0).MaxOutputTokens)
}

func TestBeginResolutionError(t *testing.T) {
	resErr := &llm.ResolutionError{Kind: llm.ResolutionMissingCredential, Provider: "OpenAI"}
	d := NewDriver(&stubResolver{err: resErr}, Options{})

	sw := switchable.New()
	run, err := d.Begin(context.Background(), sw, newConv("x"))
	assert.Nil(t, run)
	assert.ErrorIs(t, err, resErr)
	assert.Equal(t, switchable.NoProducer, sw.State())
	assert.Equal(t, 0, sw.Switches())
}

func TestBeginSurfacesEarlyBackendErrors(t *testing.T) {
	rate := &llm.RateLimitError{Provider: "mock"}
	tests := []struct {
		name string
		turn llm.MockTurn
	}{
		{name: "stream call fails", turn: llm.MockTurn{StreamError: rate}},
		{name: "error before first token", turn: llm.MockTurn{Error: rate}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mock := llm.NewMockProvider("mock").AddTurn(tc.turn)
			d, _ := newTestDriver(mock, Options{})

			sw := switchable.New()
			_, err := d.Begin(context.Background(), sw, newConv("x"))
			var rl *llm.RateLimitError
			assert.ErrorAs(t, err, &rl)
			assert.Equal(t, 0, sw.Switches())
		})
	}
}

func TestDriveErrorInContinuation(t *testing.T) {
	boom := errors.New("connection reset")
	mock := llm.NewMockProvider("mock").
		AddTruncated("partial ").
		AddError(boom)
	d, _ := newTestDriver(mock, Options{})

	sw := switchable.New()
	out := consume(sw)
	sum, err := d.Drive(context.Background(), sw, newConv("x"))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "partial ", sum.Text)

	got := waitRead(t, out)
	assert.Equal(t, "partial ", got.text)
	assert.ErrorIs(t, got.err, boom)
}

func TestDriveBackendFinishError(t *testing.T) {
	mock := llm.NewMockProvider("mock").AddTurn(llm.MockTurn{Text: "I can't", FinishReason: llm.FinishError})
	d, _ := newTestDriver(mock, Options{})

	sw := switchable.New()
	out := consume(sw)
	_, err := d.Drive(context.Background(), sw, newConv("x"))
	var finishErr *BackendFinishError
	require.ErrorAs(t, err, &finishErr)
	assert.Equal(t, 1, finishErr.Segment)

	got := waitRead(t, out)
	assert.Equal(t, "I can't", got.text)
	assert.ErrorAs(t, got.err, &finishErr)
}

func TestDriveCancelledMidContinuation(t *testing.T) {
	mock := llm.NewMockProvider("mock").
		AddTruncated("start ").
		AddTurn(llm.MockTurn{Text: "never", Delay: time.Minute})
	d, _ := newTestDriver(mock, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sw := switchable.New()
	out := consume(sw)
	run, err := d.Begin(ctx, sw, newConv("x"))
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err = run.Finish()
	assert.ErrorIs(t, err, context.Canceled)

	got := waitRead(t, out)
	assert.Equal(t, "start ", got.text)
	assert.Error(t, got.err)
	assert.Equal(t, switchable.Closed, sw.State())
}

func TestBeginCancelledBeforeFirstToken(t *testing.T) {
	mock := llm.NewMockProvider("mock").AddTurn(llm.MockTurn{Text: "late", Delay: time.Minute})
	d, _ := newTestDriver(mock, Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sw := switchable.New()
	_, err := d.Drive(ctx, sw, newConv("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, readErr := io.ReadAll(sw)
	assert.ErrorIs(t, readErr, context.DeadlineExceeded)
}

func TestSummaryModelFallsBackToCatalogDefault(t *testing.T) {
	mock := llm.NewMockProvider("mock").AddTextResponse("ok")
	d, _ := newTestDriver(mock, Options{})

	conv := newConv("x")
	conv.Directive = directive.Directive{Provider: "Groq"}
	sw := switchable.New()
	out := consume(sw)
	sum, err := d.Drive(context.Background(), sw, conv)
	require.NoError(t, err)
	waitRead(t, out)
	assert.Equal(t, "llama-3.1-70b-versatile", sum.Model)
	assert.Equal(t, "", mock.Request(0).Model)
}
