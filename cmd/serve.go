package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samsaffron/llm-relay/internal/config"
	"github.com/samsaffron/llm-relay/internal/pprof"
	"github.com/samsaffron/llm-relay/internal/serve/chat"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var (
	serveAddr  string
	serveWatch bool
	servePprof int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat relay HTTP server",
	Long: `Run the chat relay HTTP server.

Endpoints:
  POST /api/chat      stream a chat completion as text/plain
  GET  /api/chat/ws   the same over a websocket, with interrupt support
  GET  /api/models    static model catalog and defaults
  GET  /healthz       liveness probe

Examples:
  llm-relay serve
  llm-relay serve --addr 0.0.0.0:8080 --log-format json
  llm-relay serve --watch          # apply config.yaml edits without restarting
  llm-relay serve --pprof 0        # expose pprof on a random loopback port`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides serve.addr)")
	serveCmd.Flags().BoolVar(&serveWatch, "watch", false, "Reload the config file when it changes")
	serveCmd.Flags().IntVar(&servePprof, "pprof", 0, "Start a loopback pprof server on this port (0 = random)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg := watcher.Current()

	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	reg := newRegistry(cfg, log)
	rt, err := newRuntime(cfg, reg, log)
	if err != nil {
		return err
	}
	var current atomic.Pointer[chat.Runtime]
	current.Store(rt)

	if serveWatch {
		if watcher.File() == "" {
			log.Warn("--watch ignored: no config file in use")
		}
		watcher.Watch(func(next *config.Config, err error) {
			if err != nil {
				log.Error("config reload failed, keeping previous settings", "file", watcher.File(), "error", err)
				return
			}
			reg.SetCallOptions(next.Serve.BackendTimeout, next.Serve.MaxRetries)
			rt, err := newRuntime(next, reg, log)
			if err != nil {
				log.Error("config reload failed, keeping previous settings", "file", watcher.File(), "error", err)
				return
			}
			current.Store(rt)
			log.Info("config reloaded", "file", watcher.File(),
				"default_provider", next.DefaultProvider,
				"default_model", next.DefaultModel)
		})
	}

	store, err := openExchangeStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	handler := chat.NewHandler(chat.HandlerConfig{
		Runtime:        current.Load,
		Logger:         log,
		Usage:          newUsageLogger(cfg),
		Store:          store,
		RateLimit:      cfg.Serve.RateLimit,
		RateBurst:      cfg.Serve.RateBurst,
		AllowedOrigins: cfg.Serve.AllowedOrigins,
	})

	if cmd.Flags().Changed("pprof") {
		ps := pprof.NewServer(log)
		port, err := ps.Start(servePprof)
		if err != nil {
			return fmt.Errorf("start pprof server: %w", err)
		}
		pprof.PrintUsage(cmd.ErrOrStderr(), port)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = ps.Stop(sctx)
		}()
	}

	addr := cfg.Serve.Addr
	if serveAddr != "" {
		addr = serveAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info("llm-relay listening",
		"addr", ln.Addr().String(),
		"version", Version,
		"default_provider", cfg.DefaultProvider,
		"default_model", cfg.DefaultModel,
		"max_tokens", cfg.Limits.MaxTokens,
		"max_segments", cfg.Limits.MaxResponseSegments)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", shutdownTimeout)
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn("graceful shutdown timed out, closing connections", "error", err)
		_ = srv.Close()
	}
	return nil
}
