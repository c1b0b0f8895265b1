package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/samsaffron/llm-relay/internal/directive"
	"github.com/samsaffron/llm-relay/internal/exitcode"
	"github.com/samsaffron/llm-relay/internal/llm"
	"github.com/samsaffron/llm-relay/internal/segment"
	"github.com/samsaffron/llm-relay/internal/serve/chat"
	"github.com/samsaffron/llm-relay/internal/switchable"
	"github.com/samsaffron/llm-relay/internal/usage"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	askProvider    string
	askModel       string
	askMaxSegments int
	askStats       bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Run one chat turn locally and print the answer",
	Long: `Run one chat turn through the same segmented driver the server uses and
stream the answer to stdout. Directive headers in the question are honoured;
--provider and --model override them.

Reads the question from stdin when no argument is given (or the argument is "-").

Examples:
  llm-relay ask "what is a monad"
  llm-relay ask -p Groq "summarise RFC 9110 in five bullets"
  echo "[Model: gpt-4o-mini]\n\nhello" | llm-relay ask
  llm-relay ask --stats --max-segments 4 "write a long story"`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askProvider, "provider", "p", "", "Provider to use (overrides directive and config)")
	askCmd.Flags().StringVarP(&askModel, "model", "m", "", "Model to use (overrides directive and config)")
	askCmd.Flags().IntVar(&askMaxSegments, "max-segments", 0, "Maximum response segments (overrides limits.max_response_segments)")
	askCmd.Flags().BoolVar(&askStats, "stats", false, "Print provider, segments and token usage to stderr")
	_ = askCmd.RegisterFlagCompletionFunc("provider", completeProviders)
	rootCmd.AddCommand(askCmd)
}

func completeProviders(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return llm.DefaultRegistry().Names(), cobra.ShellCompDirectiveNoFileComp
}

func readQuestion(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", exitcode.ExitError{Code: exitcode.Usage, Message: "no question given (pass it as an argument or pipe it on stdin)"}
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	q := strings.TrimRight(string(data), "\r\n")
	if strings.TrimSpace(q) == "" {
		return "", exitcode.ExitError{Code: exitcode.Usage, Message: "empty question"}
	}
	return q, nil
}

// askDirective applies config defaults, then headers in the question, then flags.
func askDirective(question string, defaults directive.Directive) (directive.Directive, []llm.Message) {
	dir, msgs := directive.Apply([]llm.Message{llm.UserText(question)}, defaults)
	if askProvider != "" {
		dir.Provider = askProvider
		if askModel == "" && !strings.EqualFold(askProvider, defaults.Provider) {
			dir.Model = ""
		}
	}
	if askModel != "" {
		dir.Model = askModel
	}
	return dir, msgs
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	question, err := readQuestion(args, cmd.InOrStdin())
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if askMaxSegments > 0 {
		cfg.Limits.MaxResponseSegments = askMaxSegments
	}
	// keep driver chatter off the answer unless asked for
	if logLevel == "" {
		cfg.Log.Level = slog.LevelWarn.String()
	}
	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	reg := newRegistry(cfg, log)
	rt, err := newRuntime(cfg, reg, log)
	if err != nil {
		return err
	}

	dir, msgs := askDirective(question, rt.Defaults)
	acc := &usage.Accumulator{}
	conv := segment.Conversation{Messages: msgs, Directive: dir, Usage: acc}

	out := cmd.OutOrStdout()
	stream := switchable.New()
	copied := make(chan error, 1)
	var last byte
	go func() {
		w := &lastByteWriter{w: out, last: &last}
		_, err := io.Copy(w, stream)
		copied <- err
	}()

	started := time.Now()
	sum, err := rt.Driver.Drive(ctx, stream, conv)
	<-copied
	if sum.Provider == "" {
		sum.Provider, sum.Model = dir.Provider, dir.Model
	}

	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) && last != 0 && last != '\n' {
		fmt.Fprintln(out)
	}
	if ul := newUsageLogger(cfg); ul != nil {
		logAskUsage(ul, sum, acc.Snapshot(), err, log)
	}
	if askStats {
		use := acc.Snapshot()
		fmt.Fprintf(cmd.ErrOrStderr(), "%s/%s: %d segment(s), %d in / %d out tokens, %s\n",
			sum.Provider, sum.Model, sum.Segments, use.PromptTokens, use.CompletionTokens,
			time.Since(started).Round(time.Millisecond))
	}
	return askError(err)
}

// askError maps a driver error onto an exit code using the HTTP classification.
func askError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return exitcode.Cancel()
	}
	if errors.Is(err, segment.ErrSegmentLimitExceeded) {
		return exitcode.SegmentLimit(err.Error())
	}
	status, msg := chat.Classify(err)
	if status == http.StatusUnauthorized || status == http.StatusTooManyRequests {
		return exitcode.Backend(msg)
	}
	return exitcode.ExitError{Code: exitcode.Error, Message: msg}
}

func logAskUsage(ul *usage.Logger, sum segment.Summary, use usage.Tokens, err error, log *slog.Logger) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	entry := usage.LogEntry{
		Timestamp:    time.Now(),
		Provider:     sum.Provider,
		Model:        sum.Model,
		InputTokens:  use.PromptTokens,
		OutputTokens: use.CompletionTokens,
		TotalTokens:  use.TotalTokens,
		Segments:     sum.Segments,
		Outcome:      outcome,
	}
	if lerr := ul.Log(entry); lerr != nil {
		log.Warn("usage log write failed", "error", lerr)
	}
}

// lastByteWriter remembers the final byte written, to decide on a trailing newline.
type lastByteWriter struct {
	w    io.Writer
	last *byte
}

func (l *lastByteWriter) Write(p []byte) (int, error) {
	n, err := l.w.Write(p)
	if n > 0 {
		*l.last = p[n-1]
	}
	return n, err
}
