// Package switchable provides a single readable stream whose producer can be
// replaced while a consumer keeps reading from it.
package switchable

import (
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by SwitchSource once the stream has been closed.
var ErrClosed = errors.New("switchable: stream closed")

// State describes the lifecycle position of a Stream.
type State int

const (
	NoProducer State = iota // no producer installed yet
	Streaming               // reading from the active producer
	Switching               // previous producer drained, waiting on the next
	Draining                // Close requested, producers still have bytes
	Closed                  // terminal
)

func (s State) String() string {
	switch s {
	case NoProducer:
		return "no_producer"
	case Streaming:
		return "streaming"
	case Switching:
		return "switching"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Stream is an io.Reader fed by a sequence of producers.
// Producers are consumed strictly in the order they were switched in; a
// producer only starts being read once its predecessor reached EOF.
type Stream struct {
	mu       sync.Mutex
	active   io.Reader
	queue    []io.Reader
	switches int
	closing  bool
	err      error // terminal error, io.EOF after a clean drain
	reading  bool
	wake     chan struct{}
}

// New returns an empty stream with no producer.
func New() *Stream {
	return &Stream{wake: make(chan struct{})}
}

// broadcast wakes every goroutine blocked in Read. Caller holds mu.
func (s *Stream) broadcast() {
	close(s.wake)
	s.wake = make(chan struct{})
}

// SwitchSource installs r as the active producer, or queues it behind the
// current one. Each call counts as one switch.
func (s *Stream) SwitchSource(r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing || s.err != nil {
		return ErrClosed
	}
	if s.active == nil && !s.reading {
		s.active = r
	} else {
		s.queue = append(s.queue, r)
	}
	s.switches++
	s.broadcast()
	return nil
}

// Switches reports how many producers have been installed.
func (s *Stream) Switches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.switches
}

// State reports the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.err != nil:
		return Closed
	case s.closing:
		return Draining
	case s.active != nil || s.reading:
		return Streaming
	case len(s.queue) > 0 || s.switches > 0:
		return Switching
	default:
		return NoProducer
	}
}

// Close marks the stream complete. Readers receive the remaining bytes of the
// active and queued producers followed by io.EOF. Close is idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil || s.closing {
		return nil
	}
	s.closing = true
	if s.active == nil && len(s.queue) == 0 && !s.reading {
		s.err = io.EOF
	}
	s.broadcast()
	return nil
}

// CloseWithError aborts the stream: pending producers are closed (when they
// implement io.Closer) and readers receive err. A nil err aborts with io.EOF.
func (s *Stream) CloseWithError(err error) error {
	if err == nil {
		err = io.EOF
	}
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return nil
	}
	pending := append([]io.Reader{s.active}, s.queue...)
	s.active, s.queue = nil, nil
	s.closing = true
	s.err = err
	s.broadcast()
	s.mu.Unlock()

	closeAll(pending)
	return nil
}

// Read pulls from the active producer. It blocks while no producer is
// available and the stream has not been closed.
func (s *Stream) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		s.mu.Lock()
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return 0, err
		}
		if s.active == nil && len(s.queue) > 0 {
			s.active, s.queue = s.queue[0], s.queue[1:]
		}
		if s.active == nil {
			if s.closing && !s.reading {
				s.err = io.EOF
				s.broadcast()
				s.mu.Unlock()
				return 0, io.EOF
			}
			wake := s.wake
			s.mu.Unlock()
			<-wake
			continue
		}
		if s.reading {
			// another goroutine is reading; wait for it
			wake := s.wake
			s.mu.Unlock()
			<-wake
			continue
		}
		src := s.active
		s.reading = true
		s.mu.Unlock()

		n, err := src.Read(p)

		s.mu.Lock()
		s.reading = false
		if s.err != nil {
			// aborted mid-read; CloseWithError already released src
			terminal := s.err
			s.broadcast()
			s.mu.Unlock()
			if n > 0 {
				return n, nil
			}
			return 0, terminal
		}
		var release []io.Reader
		switch {
		case err == io.EOF:
			s.active = nil
			release = []io.Reader{src}
		case err != nil:
			s.err = err
			release = append([]io.Reader{src}, s.queue...)
			s.active, s.queue = nil, nil
		}
		s.broadcast()
		s.mu.Unlock()
		closeAll(release)

		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
		// nothing read: move on to the next producer
	}
}

func closeAll(readers []io.Reader) {
	for _, r := range readers {
		if c, ok := r.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
