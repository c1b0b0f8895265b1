// Package pprof exposes runtime profiles and expvar counters of a running
// relay on a loopback port, separate from the public listener.
package pprof

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Server serves /debug/pprof/* and /debug/vars on 127.0.0.1.
type Server struct {
	log      *slog.Logger
	portFile string
	srv      *http.Server
	addr     *net.TCPAddr
}

// NewServer creates a Server. The bound port is written to PortFile() while
// it runs so other tooling can find it.
func NewServer(log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{log: log}
	if dir, err := GetCacheDir(); err == nil {
		s.portFile = filepath.Join(dir, "pprof.port")
	}
	return s
}

// Handler returns the debug mux. It never includes handlers registered on
// http.DefaultServeMux.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/vars", expvar.Handler())
	return mux
}

// Start listens on 127.0.0.1:port (0 picks a free port) and serves in the
// background. It returns the bound port.
func (s *Server) Start(port int) (int, error) {
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("bind to %s: %w", addr, err)
	}
	s.addr = ln.Addr().(*net.TCPAddr)
	s.srv = &http.Server{Handler: Handler()}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("pprof server stopped", "error", err)
		}
	}()

	if err := s.writePortFile(); err != nil {
		s.log.Warn("could not write pprof port file", "path", s.portFile, "error", err)
	}
	s.log.Debug("pprof server listening", "addr", s.addr.String())
	return s.addr.Port, nil
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	if s.addr == nil {
		return 0
	}
	return s.addr.Port
}

// Stop shuts the server down and removes the port file.
func (s *Server) Stop(ctx context.Context) error {
	if s.portFile != "" {
		_ = os.Remove(s.portFile)
	}
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) writePortFile() error {
	if s.portFile == "" {
		return errors.New("no cache directory")
	}
	if err := os.MkdirAll(filepath.Dir(s.portFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.portFile, []byte(strconv.Itoa(s.Port())), 0600)
}

// PrintUsage prints go tool pprof invocations for the given port.
func PrintUsage(w io.Writer, port int) {
	base := fmt.Sprintf("http://127.0.0.1:%d/debug", port)
	fmt.Fprintf(w, "pprof server: %s/pprof/\n", base)
	fmt.Fprintf(w, "  go tool pprof %s/pprof/profile?seconds=30\n", base)
	fmt.Fprintf(w, "  go tool pprof %s/pprof/heap\n", base)
	fmt.Fprintf(w, "  curl %s/vars\n", base)
}

// GetCacheDir returns the XDG cache directory for llm-relay.
func GetCacheDir() (string, error) {
	if xdgCache := os.Getenv("XDG_CACHE_HOME"); xdgCache != "" {
		return filepath.Join(xdgCache, "llm-relay"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".cache", "llm-relay"), nil
}

// ReadPortFile returns the port of the running relay's pprof server.
func ReadPortFile() (int, error) {
	dir, err := GetCacheDir()
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(filepath.Join(dir, "pprof.port"))
	if err != nil {
		return 0, fmt.Errorf("no pprof server running (port file not found)")
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid port file: %w", err)
	}
	return port, nil
}
