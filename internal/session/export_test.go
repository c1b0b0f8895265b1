package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExportToMarkdown(t *testing.T) {
	ex := &Exchange{
		ID:           "20260301-120000-abcdef",
		Provider:     "Open|Router",
		Model:        "meta/llama",
		Prompt:       "hello",
		Response:     "hi there",
		Segments:     2,
		FinishReason: "stop",
		InputTokens:  1200,
		OutputTokens: 3400000,
		Status:       200,
		Duration:     2 * time.Second,
		CreatedAt:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	md := ExportToMarkdown(ex)

	assert.Contains(t, md, "# Exchange 260301-1200")
	assert.Contains(t, md, "| **Provider** | Open\\|Router |")
	assert.Contains(t, md, "| **Tokens** | 1.2K in / 3.4M out |")
	assert.Contains(t, md, "| **Created** | 2026-03-01 12:00 UTC |")
	assert.Contains(t, md, "### User\n\nhello")
	assert.Contains(t, md, "### Assistant\n\nhi there")
	assert.NotContains(t, md, "**Error:**")

	ex.Error = "rate limited"
	ex.Response = ""
	md = ExportToMarkdown(ex)
	assert.Contains(t, md, "> **Error:** rate limited")
	assert.Contains(t, md, "_(no content)_")
}

func TestFormatCount(t *testing.T) {
	assert.Equal(t, "999", FormatCount(999))
	assert.Equal(t, "1K", FormatCount(1000))
	assert.Equal(t, "1.5K", FormatCount(1500))
	assert.Equal(t, "2M", FormatCount(2000000))
}
