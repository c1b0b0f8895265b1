package cmd

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samsaffron/llm-relay/internal/session"
	"github.com/samsaffron/llm-relay/internal/usage"
	"github.com/spf13/cobra"
)

var usageDays int
var usageJSON bool

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Summarise token usage per provider and model",
	Long: `Summarise the daily usage logs written by serve and ask.

Examples:
  llm-relay usage             # last 7 days
  llm-relay usage --days 0    # everything
  llm-relay usage --json`,
	Args: cobra.NoArgs,
	RunE: runUsage,
}

func init() {
	usageCmd.Flags().IntVar(&usageDays, "days", 7, "Days to include (0 for all)")
	usageCmd.Flags().BoolVar(&usageJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(usageCmd)
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir := cfg.Usage.Dir
	if dir == "" {
		dir = usage.DefaultDir()
	}

	var since, until time.Time
	if usageDays > 0 {
		until = time.Now()
		since = until.AddDate(0, 0, -(usageDays - 1))
	}
	res := usage.Load(dir, since, until)
	for _, e := range res.Errors {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", e)
	}
	summaries := usage.Summarize(res.Entries)

	out := cmd.OutOrStdout()
	if usageJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintf(out, "No usage recorded in %s.\n", dir)
		return nil
	}

	fmt.Fprintf(out, "%-12s %-32s %8s %10s %10s %10s\n", "Provider", "Model", "Requests", "Input", "Output", "Total")
	fmt.Fprintln(out, strings.Repeat("-", 87))
	var total usage.Summary
	for _, s := range summaries {
		fmt.Fprintf(out, "%-12s %-32s %8d %10s %10s %10s\n",
			s.Provider, truncate(s.Model, 32), s.Requests,
			session.FormatCount(s.InputTokens), session.FormatCount(s.OutputTokens), session.FormatCount(s.TotalTokens))
		total.Requests += s.Requests
		total.InputTokens += s.InputTokens
		total.OutputTokens += s.OutputTokens
		total.TotalTokens += s.TotalTokens
	}
	fmt.Fprintf(out, "%-45s %8d %10s %10s %10s\n", "total", total.Requests,
		session.FormatCount(total.InputTokens), session.FormatCount(total.OutputTokens), session.FormatCount(total.TotalTokens))
	return nil
}
