package llm

import (
	"context"
	"io"
)

type channelStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events <-chan Event
}

// newEventStream runs producer in its own goroutine and exposes its events as a Stream.
// A non-nil error returned by run is delivered as a final EventError.
func newEventStream(ctx context.Context, run func(context.Context, chan<- Event) error) Stream {
	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		if err := run(streamCtx, ch); err != nil {
			select {
			case ch <- Event{Type: EventError, Err: err, FinishReason: FinishError}:
			case <-streamCtx.Done():
			}
		}
	}()
	return &channelStream{ctx: streamCtx, cancel: cancel, events: ch}
}

func (s *channelStream) Recv() (Event, error) {
	// Drain buffered events first so a ready EventDone is not lost to ctx.Done().
	select {
	case event, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return event, nil
	default:
	}

	select {
	case <-s.ctx.Done():
		return Event{}, s.ctx.Err()
	case event, ok := <-s.events:
		if !ok {
			return Event{}, io.EOF
		}
		return event, nil
	}
}

func (s *channelStream) Close() error {
	s.cancel()
	return nil
}

// emit sends ev unless ctx is cancelled first.
func emit(ctx context.Context, events chan<- Event, ev Event) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case events <- ev:
		return nil
	}
}

// emitDone reports usage (when any) followed by the finish reason.
func emitDone(ctx context.Context, events chan<- Event, use Usage, reason FinishReason) error {
	if use.InputTokens > 0 || use.OutputTokens > 0 {
		u := use
		if u.TotalTokens == 0 {
			u.TotalTokens = u.InputTokens + u.OutputTokens
		}
		if err := emit(ctx, events, Event{Type: EventUsage, Use: &u}); err != nil {
			return err
		}
	}
	if reason == "" {
		reason = FinishStop
	}
	return emit(ctx, events, Event{Type: EventDone, FinishReason: reason})
}
