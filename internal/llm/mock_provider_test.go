package llm

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, s Stream) (string, []Event) {
	t.Helper()
	var text string
	var events []Event
	for {
		ev, err := s.Recv()
		if err == io.EOF {
			return text, events
		}
		require.NoError(t, err)
		events = append(events, ev)
		if ev.Type == EventTextDelta {
			text += ev.Text
		}
	}
}

func TestMockProviderStreamsText(t *testing.T) {
	p := NewMockProvider("mock").AddTurn(MockTurn{
		Text:  "Hello world, this text is long enough to be chunked.",
		Usage: Usage{InputTokens: 3, OutputTokens: 11},
	})

	s, err := p.Stream(context.Background(), Request{Messages: []Message{UserText("hi")}})
	require.NoError(t, err)
	defer s.Close()

	text, events := drain(t, s)
	assert.Equal(t, "Hello world, this text is long enough to be chunked.", text)

	last := events[len(events)-1]
	assert.Equal(t, EventDone, last.Type)
	assert.Equal(t, FinishStop, last.FinishReason)

	usage := events[len(events)-2]
	require.Equal(t, EventUsage, usage.Type)
	assert.Equal(t, 14, usage.Use.TotalTokens)

	assert.Equal(t, 1, p.Calls())
	assert.Equal(t, "hi", p.Request(0).Messages[0].Text())
}

func TestMockProviderTruncatedAndErrors(t *testing.T) {
	boom := errors.New("boom")
	p := NewMockProvider("mock").
		AddTruncated("partial").
		AddError(boom).
		AddTurn(MockTurn{StreamError: boom})

	s, err := p.Stream(context.Background(), Request{})
	require.NoError(t, err)
	_, events := drain(t, s)
	assert.Equal(t, FinishLength, events[len(events)-1].FinishReason)

	s, err = p.Stream(context.Background(), Request{})
	require.NoError(t, err)
	_, events = drain(t, s)
	require.Len(t, events, 1)
	assert.Equal(t, EventError, events[0].Type)
	assert.ErrorIs(t, events[0].Err, boom)

	_, err = p.Stream(context.Background(), Request{})
	assert.ErrorIs(t, err, boom)

	_, err = p.Stream(context.Background(), Request{})
	assert.ErrorContains(t, err, "no more turns")
}

func TestEventStreamCloseCancels(t *testing.T) {
	p := NewMockProvider("mock").AddTurn(MockTurn{Text: "late", Delay: time.Minute})
	s, err := p.Stream(context.Background(), Request{})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	for {
		ev, err := s.Recv()
		if err != nil {
			assert.True(t, err == io.EOF || errors.Is(err, context.Canceled), "unexpected error: %v", err)
			return
		}
		assert.NotEqual(t, EventTextDelta, ev.Type)
	}
}

func TestChunkText(t *testing.T) {
	assert.Nil(t, chunkText("", 10))
	assert.Equal(t, []string{"short"}, chunkText("short", 10))
	chunks := chunkText("aaaa bbbb cccc dddd", 10)
	joined := ""
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 10)
		joined += c
	}
	assert.Equal(t, "aaaa bbbb cccc dddd", joined)
}

func TestUsageAdd(t *testing.T) {
	var u Usage
	u.Add(Usage{InputTokens: 1, OutputTokens: 2})
	u.Add(Usage{InputTokens: 3, OutputTokens: 4, TotalTokens: 10})
	assert.Equal(t, Usage{InputTokens: 4, OutputTokens: 6, TotalTokens: 13}, u)
}
