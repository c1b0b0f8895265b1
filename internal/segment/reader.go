package segment

import (
	"io"
	"strings"
	"sync"

	"github.com/samsaffron/llm-relay/internal/llm"
	"github.com/samsaffron/llm-relay/internal/usage"
)

// Result is the outcome of one backend invocation.
type Result struct {
	Text         string
	FinishReason llm.FinishReason
	Usage        usage.Tokens
	Err          error
}

// reader exposes the text of one llm.Stream as an io.Reader and records the
// segment's outcome once the stream ends. Events are only pulled from the
// backend inside Read (or prime), so the consumer sets the pace.
type reader struct {
	stream llm.Stream

	mu       sync.Mutex
	pending  []byte
	text     strings.Builder
	use      llm.Usage
	reason   llm.FinishReason
	err      error
	finished bool

	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
}

func newReader(stream llm.Stream) *reader {
	return &reader{stream: stream, done: make(chan struct{})}
}

// Done is closed once the segment has finished, failed or been closed.
func (r *reader) Done() <-chan struct{} {
	return r.done
}

// Result returns the segment outcome. Only meaningful after Done.
func (r *reader) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Result{
		Text:         r.text.String(),
		FinishReason: r.reason,
		Usage: usage.Tokens{
			PromptTokens:     r.use.InputTokens,
			CompletionTokens: r.use.OutputTokens,
			TotalTokens:      r.use.TotalTokens,
		},
		Err: r.err,
	}
}

// prime pulls events until text is buffered or the segment ends, so failures
// that happen before the first token surface synchronously.
func (r *reader) prime() error {
	for {
		r.mu.Lock()
		ready := len(r.pending) > 0
		finished, err := r.finished, r.err
		r.mu.Unlock()
		if ready {
			return nil
		}
		if finished {
			return err
		}
		r.step()
	}
}

func (r *reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		r.mu.Lock()
		if len(r.pending) > 0 {
			n := copy(p, r.pending)
			r.pending = r.pending[n:]
			r.mu.Unlock()
			return n, nil
		}
		if r.finished {
			err := r.err
			r.mu.Unlock()
			if err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		r.mu.Unlock()
		r.step()
	}
}

// step receives one event from the backend and applies it.
func (r *reader) step() {
	ev, err := r.stream.Recv()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finished {
		return
	}
	if err == io.EOF {
		if r.reason == "" {
			r.reason = llm.FinishStop
		}
		r.finishLocked(nil)
		return
	}
	if err != nil {
		r.finishLocked(err)
		return
	}
	switch ev.Type {
	case llm.EventTextDelta:
		r.pending = append(r.pending, ev.Text...)
		r.text.WriteString(ev.Text)
	case llm.EventUsage:
		if ev.Use != nil {
			r.use.Add(*ev.Use)
		}
	case llm.EventDone:
		r.reason = ev.FinishReason
	case llm.EventError:
		r.reason = llm.FinishError
		err := ev.Err
		if err == nil {
			err = errAborted
		}
		r.finishLocked(err)
	}
}

func (r *reader) finishLocked(err error) {
	r.finished = true
	r.err = err
	r.doneOnce.Do(func() { close(r.done) })
}

// Close releases the backend call. A segment closed before it finished
// records errAborted.
func (r *reader) Close() error {
	r.closeOnce.Do(func() {
		_ = r.stream.Close()
		r.mu.Lock()
		if !r.finished {
			r.pending = nil
			r.finishLocked(errAborted)
		}
		r.mu.Unlock()
	})
	return nil
}
