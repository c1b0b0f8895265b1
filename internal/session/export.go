package session

import (
	"fmt"
	"strings"
	"time"
)

// escapeTableCell escapes characters that break markdown table cells.
func escapeTableCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// ExportToMarkdown renders an exchange for `exchanges show`.
func ExportToMarkdown(ex *Exchange) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Exchange %s\n\n", ShortID(ex.ID))

	b.WriteString("| | |\n")
	b.WriteString("|---|---|\n")
	fmt.Fprintf(&b, "| **ID** | `%s` |\n", ex.ID)
	if ex.RequestID != "" {
		fmt.Fprintf(&b, "| **Request** | `%s` |\n", ex.RequestID)
	}
	fmt.Fprintf(&b, "| **Provider** | %s |\n", escapeTableCell(ex.Provider))
	fmt.Fprintf(&b, "| **Model** | %s |\n", escapeTableCell(ex.Model))
	fmt.Fprintf(&b, "| **Created** | %s |\n", ex.CreatedAt.UTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "| **Segments** | %d |\n", ex.Segments)
	if ex.FinishReason != "" {
		fmt.Fprintf(&b, "| **Finish** | %s |\n", ex.FinishReason)
	}
	fmt.Fprintf(&b, "| **Tokens** | %s |\n", formatTokens(ex.InputTokens, ex.OutputTokens))
	if ex.Duration > 0 {
		fmt.Fprintf(&b, "| **Duration** | %s |\n", ex.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "| **Status** | %d |\n", ex.Status)
	b.WriteString("\n")

	if ex.Failed() {
		b.WriteString("> **Error:** ")
		b.WriteString(strings.ReplaceAll(ex.Error, "\n", "\n> "))
		b.WriteString("\n\n")
	}

	b.WriteString("---\n\n")
	b.WriteString("### User\n\n")
	b.WriteString(ex.Prompt)
	b.WriteString("\n\n---\n\n")
	b.WriteString("### Assistant\n\n")
	if ex.Response == "" {
		b.WriteString("_(no content)_")
	} else {
		b.WriteString(ex.Response)
	}
	b.WriteString("\n")

	return b.String()
}

// formatTokens formats input/output tokens in a readable format.
func formatTokens(input, output int) string {
	if input == 0 && output == 0 {
		return "-"
	}
	return fmt.Sprintf("%s in / %s out", FormatCount(input), FormatCount(output))
}

// FormatCount formats a number in compact form (1K, 1.2K, 3.4M).
func FormatCount(n int) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		val := float64(n) / 1000
		if val == float64(int(val)) {
			return fmt.Sprintf("%dK", int(val))
		}
		return fmt.Sprintf("%.1fK", val)
	}
	val := float64(n) / 1000000
	if val == float64(int(val)) {
		return fmt.Sprintf("%dM", int(val))
	}
	return fmt.Sprintf("%.1fM", val)
}
