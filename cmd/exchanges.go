package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samsaffron/llm-relay/internal/session"
	"github.com/spf13/cobra"
)

var exchangesCmd = &cobra.Command{
	Use:   "exchanges",
	Short: "Inspect recorded chat exchanges",
	Long: `List, search and show the chat turns recorded by the server.
Recording is off by default; enable it with exchanges.enabled in config.yaml.

Examples:
  llm-relay exchanges                     # List recent exchanges
  llm-relay exchanges search "kubernetes"
  llm-relay exchanges show 20261018-1412
  llm-relay exchanges show <id> --json`,
	RunE: runExchangesList, // Default to list
}

var exchangesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List exchanges",
	RunE:  runExchangesList,
}

var exchangesSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search prompts and responses",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runExchangesSearch,
}

var exchangesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one exchange (ID or unique prefix)",
	Args:  cobra.ExactArgs(1),
	RunE:  runExchangesShow,
}

// Flags
var (
	exchangesLimit int
	exchangesJSON  bool
)

func init() {
	exchangesCmd.PersistentFlags().IntVar(&exchangesLimit, "limit", 20, "Maximum number of exchanges to list")
	exchangesShowCmd.Flags().BoolVar(&exchangesJSON, "json", false, "Output as JSON")

	exchangesCmd.AddCommand(exchangesListCmd)
	exchangesCmd.AddCommand(exchangesSearchCmd)
	exchangesCmd.AddCommand(exchangesShowCmd)

	rootCmd.AddCommand(exchangesCmd)
}

func getExchangeStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Exchanges.Enabled {
		return nil, fmt.Errorf("exchange recording is disabled in config (set exchanges.enabled)")
	}
	return openExchangeStore(cfg)
}

func runExchangesList(cmd *cobra.Command, args []string) error {
	store, err := getExchangeStore()
	if err != nil {
		return err
	}
	defer store.Close()

	exchanges, err := store.List(context.Background(), exchangesLimit)
	if err != nil {
		return fmt.Errorf("failed to list exchanges: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(exchanges) == 0 {
		fmt.Fprintln(out, "No exchanges found.")
		return nil
	}

	fmt.Fprintf(out, "%-22s %-10s %-28s %-6s %-9s %s\n", "ID", "When", "Model", "Status", "Tokens", "Prompt")
	fmt.Fprintln(out, strings.Repeat("-", 100))
	for _, ex := range exchanges {
		fmt.Fprintf(out, "%-22s %-10s %-28s %-6d %-9s %s\n",
			ex.ID,
			formatRelativeTime(ex.CreatedAt),
			truncate(ex.Provider+"/"+ex.Model, 28),
			ex.Status,
			session.FormatCount(ex.InputTokens+ex.OutputTokens),
			truncate(oneLine(ex.Prompt), 40))
	}
	return nil
}

func runExchangesSearch(cmd *cobra.Command, args []string) error {
	store, err := getExchangeStore()
	if err != nil {
		return err
	}
	defer store.Close()

	query := strings.Join(args, " ")
	results, err := store.Search(context.Background(), query, exchangesLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(results) == 0 {
		fmt.Fprintf(out, "No exchanges matching %q.\n", query)
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(out, "%s  %s  %s/%s\n", r.ID, formatRelativeTime(r.CreatedAt), r.Provider, r.Model)
		fmt.Fprintf(out, "    %s\n", oneLine(r.Snippet))
	}
	return nil
}

func runExchangesShow(cmd *cobra.Command, args []string) error {
	store, err := getExchangeStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ex, err := store.Get(context.Background(), args[0])
	if err != nil {
		return err
	}
	if ex == nil {
		return fmt.Errorf("exchange %q not found", args[0])
	}

	out := cmd.OutOrStdout()
	if exchangesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(ex)
	}
	fmt.Fprint(out, session.ExportToMarkdown(ex))
	return nil
}

// formatRelativeTime returns a human-readable relative time string
func formatRelativeTime(t time.Time) string {
	dur := time.Since(t)
	switch {
	case dur < time.Minute:
		return "just now"
	case dur < time.Hour:
		return fmt.Sprintf("%dm ago", int(dur.Minutes()))
	case dur < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(dur.Hours()))
	case dur < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(dur.Hours()/24))
	default:
		return t.Format("Jan 2")
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "…"
}
