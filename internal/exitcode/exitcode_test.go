package exitcode

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCode(t *testing.T) {
	assert.Equal(t, Success, Code(nil))
	assert.Equal(t, Error, Code(errors.New("boom")))
	assert.Equal(t, Cancelled, Code(context.Canceled))
	assert.Equal(t, Cancelled, Code(Cancel()))
	assert.Equal(t, Unavailable, Code(fmt.Errorf("ask: %w", Backend("rate limited"))))
	assert.Equal(t, Truncated, Code(SegmentLimit("too long")))
	assert.Equal(t, "rate limited", Backend("rate limited").Error())
}
