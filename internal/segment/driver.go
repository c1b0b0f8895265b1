// Package segment drives a chat turn whose output may span several backend
// calls. When a call stops at the output token ceiling the conversation is
// extended with the partial answer and a continuation request, and the next
// call is switched into the same client stream.
package segment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samsaffron/llm-relay/internal/directive"
	"github.com/samsaffron/llm-relay/internal/llm"
	"github.com/samsaffron/llm-relay/internal/prompt"
	"github.com/samsaffron/llm-relay/internal/switchable"
	"github.com/samsaffron/llm-relay/internal/usage"
)

const (
	DefaultMaxTokens   = 8000
	DefaultMaxSegments = 2
)

// Resolver turns a provider/model pair into a callable backend.
type Resolver interface {
	Resolve(provider, model string, env llm.Env, credentials map[string]string) (llm.Provider, error)
}

// Options configure a Driver. Zero values select the defaults.
type Options struct {
	MaxTokens      int
	MaxSegments    int
	SystemPrompt   string
	ContinuePrompt string
	Temperature    float32
	Env            llm.Env
	Logger         *slog.Logger
	Debug          bool
}

// Conversation is one chat turn ready to be generated.
type Conversation struct {
	// Messages are already cleaned of directive headers.
	Messages    []llm.Message
	Directive   directive.Directive
	Credentials map[string]string
	// Usage, when set, receives the usage of every finished segment.
	Usage *usage.Accumulator
}

// Summary describes a completed (or failed) turn.
type Summary struct {
	Provider     string
	Model        string
	Segments     int
	FinishReason llm.FinishReason
	Usage        usage.Tokens
	Text         string
}

// Driver runs segmented generations.
type Driver struct {
	resolver Resolver
	opts     Options
}

// NewDriver returns a driver resolving backends through resolver.
func NewDriver(resolver Resolver, opts Options) *Driver {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	if opts.MaxSegments <= 0 {
		opts.MaxSegments = DefaultMaxSegments
	}
	if opts.SystemPrompt == "" {
		opts.SystemPrompt = prompt.SystemPrompt(prompt.WorkDir)
	}
	if opts.ContinuePrompt == "" {
		opts.ContinuePrompt = prompt.ContinuePrompt
	}
	if opts.Env == nil {
		opts.Env = llm.OSEnv{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Driver{resolver: resolver, opts: opts}
}

// Options returns the effective options.
func (d *Driver) Options() Options {
	return d.opts
}

// Run is a turn whose first segment is already attached to the stream.
type Run struct {
	d        *Driver
	ctx      context.Context
	stream   *switchable.Stream
	provider llm.Provider
	conv     Conversation
	messages []llm.Message
	seg      *reader
	log      *slog.Logger
	summary  Summary
	text     strings.Builder
}

// Begin resolves the backend, starts the first segment and waits for its
// first event. Errors returned here happen before any byte reached the
// stream, so callers can still choose a response status.
func (d *Driver) Begin(ctx context.Context, stream *switchable.Stream, conv Conversation) (*Run, error) {
	dir := conv.Directive
	provider, err := d.resolver.Resolve(dir.Provider, dir.Model, d.opts.Env, conv.Credentials)
	if err != nil {
		return nil, err
	}

	model := dir.Model
	if model == "" {
		model = llm.DefaultModelFor(dir.Provider)
	}
	run := &Run{
		d:        d,
		ctx:      ctx,
		stream:   stream,
		provider: provider,
		conv:     conv,
		messages: append([]llm.Message(nil), conv.Messages...),
		log:      d.opts.Logger.With("provider", dir.Provider, "model", model),
		summary:  Summary{Provider: dir.Provider, Model: model},
	}

	seg, err := run.invoke()
	if err != nil {
		return nil, err
	}
	if err := seg.prime(); err != nil {
		_ = seg.Close()
		return nil, err
	}
	if err := stream.SwitchSource(seg); err != nil {
		_ = seg.Close()
		return nil, err
	}
	run.seg = seg
	return run, nil
}

// Drive is Begin followed by Finish.
func (d *Driver) Drive(ctx context.Context, stream *switchable.Stream, conv Conversation) (Summary, error) {
	run, err := d.Begin(ctx, stream, conv)
	if err != nil {
		_ = stream.CloseWithError(err)
		return Summary{}, err
	}
	return run.Finish()
}

// invoke starts one backend call over a snapshot of the conversation.
func (r *Run) invoke() (*reader, error) {
	req := llm.Request{
		Model:           r.conv.Directive.Model,
		Messages:        append([]llm.Message{llm.SystemText(r.d.opts.SystemPrompt)}, r.messages...),
		MaxOutputTokens: r.d.opts.MaxTokens,
		Temperature:     r.d.opts.Temperature,
		ToolChoice:      llm.ToolChoice{Mode: llm.ToolChoiceNone},
		Debug:           r.d.opts.Debug,
	}
	s, err := r.provider.Stream(r.ctx, req)
	if err != nil {
		return nil, err
	}
	return newReader(s), nil
}

// Finish follows the turn to completion, continuing truncated segments.
// The stream is closed on success and aborted with the returned error otherwise.
func (r *Run) Finish() (Summary, error) {
	for {
		select {
		case <-r.seg.Done():
		case <-r.ctx.Done():
			err := r.ctx.Err()
			_ = r.stream.CloseWithError(err)
			return r.done(llm.FinishError), err
		}

		res := r.seg.Result()
		segment := r.stream.Switches()
		r.text.WriteString(res.Text)
		r.summary.Usage = addTokens(r.summary.Usage, res.Usage)
		if r.conv.Usage != nil {
			r.conv.Usage.Update(res.Usage)
		}
		r.log.Debug("segment finished",
			"segment", segment,
			"finish_reason", res.FinishReason,
			"completion_tokens", res.Usage.CompletionTokens)

		switch {
		case res.Err != nil:
			return r.fail(res.Err)
		case r.ctx.Err() != nil:
			return r.fail(r.ctx.Err())
		case res.FinishReason == llm.FinishError:
			return r.fail(&BackendFinishError{Provider: r.provider.Name(), Segment: segment})
		case res.FinishReason != llm.FinishLength:
			_ = r.stream.Close()
			return r.done(res.FinishReason), nil
		}

		if segment >= r.d.opts.MaxSegments {
			sum, err := r.fail(&SegmentLimitError{Max: r.d.opts.MaxSegments})
			sum.FinishReason = llm.FinishLength
			return sum, err
		}

		left := r.d.opts.MaxSegments - segment
		r.log.Info(fmt.Sprintf("Reached max token limit (%d): Continuing message (%d switches left)", r.d.opts.MaxTokens, left),
			"segment", segment,
			"switches_left", left)

		r.messages = append(append([]llm.Message(nil), r.messages...),
			llm.AssistantText(res.Text),
			llm.UserText(r.d.opts.ContinuePrompt))

		next, err := r.invoke()
		if err != nil {
			return r.fail(err)
		}
		if err := r.stream.SwitchSource(next); err != nil {
			_ = next.Close()
			if errors.Is(err, switchable.ErrClosed) && r.ctx.Err() != nil {
				err = r.ctx.Err()
			}
			return r.fail(err)
		}
		r.seg = next
	}
}

func (r *Run) fail(err error) (Summary, error) {
	_ = r.stream.CloseWithError(err)
	r.log.Warn("chat turn failed", "segments", r.stream.Switches(), "error", err)
	return r.done(llm.FinishError), err
}

func (r *Run) done(reason llm.FinishReason) Summary {
	r.summary.Segments = r.stream.Switches()
	r.summary.FinishReason = reason
	r.summary.Text = r.text.String()
	return r.summary
}

// Provider returns the backend serving the run.
func (r *Run) Provider() llm.Provider {
	return r.provider
}

func addTokens(a, b usage.Tokens) usage.Tokens {
	total := b.TotalTokens
	if total == 0 {
		total = b.PromptTokens + b.CompletionTokens
	}
	return usage.Tokens{
		PromptTokens:     a.PromptTokens + b.PromptTokens,
		CompletionTokens: a.CompletionTokens + b.CompletionTokens,
		TotalTokens:      a.TotalTokens + total,
	}
}
