// Package chat is the HTTP boundary of the relay: it decodes chat requests,
// runs them through the segment driver and streams the answer back as plain
// text (or websocket frames), mapping failures to status codes.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/samsaffron/llm-relay/internal/directive"
	"github.com/samsaffron/llm-relay/internal/llm"
	"github.com/samsaffron/llm-relay/internal/segment"
	"github.com/samsaffron/llm-relay/internal/session"
	"github.com/samsaffron/llm-relay/internal/switchable"
	"github.com/samsaffron/llm-relay/internal/usage"
)

const (
	maxRequestBytes = 10 << 20
	recordTimeout   = 5 * time.Second
)

// Runtime is the configuration-dependent state one request runs against.
// It is swapped as a whole when the configuration reloads.
type Runtime struct {
	Driver   *segment.Driver
	Defaults directive.Directive
	Token    string
}

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	// Runtime returns the current runtime; it is read once per request.
	Runtime func() *Runtime
	Logger  *slog.Logger
	// Usage and Store are optional.
	Usage          *usage.Logger
	Store          session.Store
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string
}

// Handler serves the chat API.
type Handler struct {
	cfg      HandlerConfig
	log      *slog.Logger
	limiter  *clientLimiter
	upgrader websocket.Upgrader
}

func NewHandler(cfg HandlerConfig) *Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		cfg:     cfg,
		log:     log,
		limiter: newClientLimiter(cfg.RateLimit, cfg.RateBurst),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// Routes returns the handler for all endpoints.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", h.guard(h.handleChat))
	mux.HandleFunc("/api/chat/ws", h.guard(h.handleChatWS))
	mux.HandleFunc("/api/models", h.auth(h.handleModels))
	mux.HandleFunc("/healthz", h.handleHealth)
	return withRequestID(mux)
}

type ctxKey int

const requestIDKey ctxKey = 0

// withRequestID assigns every request an ID, echoed as X-Request-Id.
// A caller-supplied UUID is kept.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// RequestID returns the ID assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func (h *Handler) runtime() *Runtime {
	return h.cfg.Runtime()
}

// guard applies auth and the per-client rate limit.
func (h *Handler) guard(next http.HandlerFunc) http.HandlerFunc {
	return h.auth(func(w http.ResponseWriter, r *http.Request) {
		if !h.limiter.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, rateLimitMessage, http.StatusTooManyRequests)
			return
		}
		next(w, r)
	})
}

func (h *Handler) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r, h.runtime().Token) {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func authorized(r *http.Request, token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return true
	}
	value := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(value, prefix) {
		return false
	}
	return strings.TrimSpace(strings.TrimPrefix(value, prefix)) == token
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// turn is one chat request after decoding.
type turn struct {
	id      string
	rt      *Runtime
	conv    segment.Conversation
	prompt  string
	log     *slog.Logger
	started time.Time
}

// badRequestError marks a request the client must fix.
type badRequestError struct{ msg string }

func (e *badRequestError) Error() string { return e.msg }

func (h *Handler) prepare(ctx context.Context, req ChatRequest) (*turn, error) {
	if len(req.Messages) == 0 {
		return nil, &badRequestError{"messages must not be empty"}
	}
	msgs, err := ToLLMMessages(req.Messages)
	if err != nil {
		return nil, &badRequestError{err.Error()}
	}

	rt := h.runtime()
	dir, cleaned := directive.Apply(msgs, rt.Defaults)

	var prompt string
	for i := len(cleaned) - 1; i >= 0; i-- {
		if cleaned[i].Role == llm.RoleUser {
			prompt = cleaned[i].Text()
			break
		}
	}

	id := RequestID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	return &turn{
		id: id,
		rt: rt,
		conv: segment.Conversation{
			Messages:    cleaned,
			Directive:   dir,
			Credentials: req.APIKeys,
			Usage:       &usage.Accumulator{},
		},
		prompt:  prompt,
		log:     h.log.With("request_id", id, "provider", dir.Provider, "model", dir.Model),
		started: time.Now(),
	}, nil
}

func decodeRequest(r io.Reader) (ChatRequest, error) {
	var req ChatRequest
	dec := json.NewDecoder(r)
	if err := dec.Decode(&req); err != nil {
		return req, &badRequestError{"invalid JSON body: " + err.Error()}
	}
	return req, nil
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := decodeRequest(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	t, err := h.prepare(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stream := switchable.New()
	run, err := t.rt.Driver.Begin(r.Context(), stream, t.conv)
	if err != nil {
		_ = stream.CloseWithError(err)
		status, msg := Classify(err)
		http.Error(w, msg, status)
		h.complete(t, segment.Summary{Provider: t.conv.Directive.Provider, Model: t.conv.Directive.Model}, err, status)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	type outcome struct {
		sum segment.Summary
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		sum, err := run.Finish()
		done <- outcome{sum, err}
	}()

	if werr := copyFlush(w, stream); werr != nil {
		_ = stream.CloseWithError(werr)
	}
	res := <-done
	h.complete(t, res.sum, res.err, http.StatusOK)

	if res.err != nil {
		// Headers are gone; abort the connection so the client sees a truncated body.
		panic(http.ErrAbortHandler)
	}
}

// copyFlush streams src to w, flushing after every write. It returns a write
// error; read errors end the copy and are reported by the driver.
func copyFlush(w http.ResponseWriter, src io.Reader) error {
	rc := http.NewResponseController(w)
	buf := make([]byte, 32*1024)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
		}
		if rerr != nil {
			return nil
		}
	}
}

// complete logs, records usage and stores the exchange once a turn is over.
func (h *Handler) complete(t *turn, sum segment.Summary, err error, status int) {
	use := t.conv.Usage.Snapshot()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}

	attrs := []any{
		"segments", sum.Segments,
		"finish_reason", sum.FinishReason,
		"prompt_tokens", use.PromptTokens,
		"completion_tokens", use.CompletionTokens,
		"duration", time.Since(t.started).Round(time.Millisecond),
	}
	if err != nil {
		t.log.Error("chat request failed", append(attrs, "status", status, "error", err)...)
	} else {
		t.log.Info("chat request complete", attrs...)
	}
	recordTurnStats(sum, err, status)

	provider, model := sum.Provider, sum.Model
	if provider == "" {
		provider = t.conv.Directive.Provider
	}
	if model == "" {
		model = llm.DefaultModelFor(provider)
	}

	if h.cfg.Usage != nil {
		entry := usage.LogEntry{
			Timestamp:    time.Now(),
			RequestID:    t.id,
			Provider:     provider,
			Model:        model,
			InputTokens:  use.PromptTokens,
			OutputTokens: use.CompletionTokens,
			TotalTokens:  use.TotalTokens,
			Segments:     sum.Segments,
			Outcome:      outcome,
		}
		if lerr := h.cfg.Usage.Log(entry); lerr != nil {
			t.log.Warn("usage log write failed", "error", lerr)
		}
	}

	if h.cfg.Store != nil {
		ex := &session.Exchange{
			RequestID:    t.id,
			Provider:     provider,
			Model:        model,
			Prompt:       t.prompt,
			Response:     sum.Text,
			Segments:     sum.Segments,
			FinishReason: string(sum.FinishReason),
			InputTokens:  use.PromptTokens,
			OutputTokens: use.CompletionTokens,
			Status:       status,
			Duration:     time.Since(t.started),
		}
		if err != nil {
			ex.Error = err.Error()
		}
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if rerr := h.cfg.Store.Record(ctx, ex); rerr != nil {
			t.log.Warn("exchange record failed", "error", rerr)
		}
	}
}

type modelsResponse struct {
	DefaultProvider string             `json:"defaultProvider"`
	DefaultModel    string             `json:"defaultModel"`
	Providers       []llm.ProviderInfo `json:"providers"`
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	defaults := h.runtime().Defaults
	writeJSON(w, http.StatusOK, modelsResponse{
		DefaultProvider: defaults.Provider,
		DefaultModel:    defaults.Model,
		Providers:       llm.Catalog(),
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok\n")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
