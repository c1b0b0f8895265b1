package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/samsaffron/llm-relay/internal/config"
	"github.com/samsaffron/llm-relay/internal/llm"
	"github.com/spf13/cobra"
)

var modelsProvider string
var modelsJSON bool

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog",
	Long: `List the static model catalog served on /api/models, marking which
providers have a credential configured.

Examples:
  llm-relay models
  llm-relay models --provider Anthropic
  llm-relay models --json`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.Flags().StringVarP(&modelsProvider, "provider", "p", "", "Only list models of this provider")
	modelsCmd.Flags().BoolVar(&modelsJSON, "json", false, "Output as JSON")
	_ = modelsCmd.RegisterFlagCompletionFunc("provider", completeProviders)
}

type providerListing struct {
	llm.ProviderInfo
	Configured bool `json:"configured"`
	Default    bool `json:"default"`
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	reg := llm.DefaultRegistry()
	listings := catalogListings(cfg, reg, modelsProvider)
	if len(listings) == 0 {
		return fmt.Errorf("unknown provider %q", modelsProvider)
	}

	out := cmd.OutOrStdout()
	if modelsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(listings)
	}
	printListings(out, listings, cfg.DefaultModel)
	return nil
}

// catalogListings annotates the catalog with credential availability.
func catalogListings(cfg *config.Config, reg *llm.Registry, only string) []providerListing {
	env := cfg.Env(reg, llm.OSEnv{})
	var out []providerListing
	for _, p := range llm.Catalog() {
		if only != "" && !strings.EqualFold(only, p.Name) {
			continue
		}
		l := providerListing{ProviderInfo: p, Default: strings.EqualFold(p.Name, cfg.DefaultProvider)}
		if b, ok := reg.Lookup(p.Name); ok {
			if b.KeyOptional {
				l.Configured = true
			} else if v, ok := env.Lookup(b.APIKeyEnv); ok && v != "" {
				l.Configured = true
			}
		}
		out = append(out, l)
	}
	return out
}

func printListings(w io.Writer, listings []providerListing, defaultModel string) {
	for i, l := range listings {
		if i > 0 {
			fmt.Fprintln(w)
		}
		status := "no credential"
		if l.Configured {
			status = "ready"
		}
		header := fmt.Sprintf("%s (%s)", l.Name, status)
		if l.Default {
			header += " [default]"
		}
		fmt.Fprintln(w, header)
		for _, m := range l.StaticModels {
			marker := " "
			if l.Default && m.Name == defaultModel {
				marker = "*"
			}
			fmt.Fprintf(w, " %s %-36s %-24s %6d\n", marker, m.Name, m.Label, m.MaxTokenAllowed)
		}
	}
}
