package segment

import (
	"errors"
	"fmt"
)

// ErrSegmentLimitExceeded matches every *SegmentLimitError via errors.Is.
var ErrSegmentLimitExceeded = errors.New("maximum response segments reached")

// SegmentLimitError is returned when a response is still truncated after the
// configured number of segments. Bytes already streamed stay delivered.
type SegmentLimitError struct {
	Max int
}

func (e *SegmentLimitError) Error() string {
	return fmt.Sprintf("Cannot continue message: Maximum segments (%d) reached", e.Max)
}

func (e *SegmentLimitError) Is(target error) bool {
	return target == ErrSegmentLimitExceeded
}

// BackendFinishError reports a backend that ended a segment with the error
// finish reason (content filter, refusal, ...).
type BackendFinishError struct {
	Provider string
	Segment  int
}

func (e *BackendFinishError) Error() string {
	return fmt.Sprintf("%s ended segment %d with an error finish reason", e.Provider, e.Segment)
}

// errAborted is recorded on a segment closed before it finished.
var errAborted = errors.New("segment aborted")
