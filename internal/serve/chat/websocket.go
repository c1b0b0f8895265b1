package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/samsaffron/llm-relay/internal/segment"
	"github.com/samsaffron/llm-relay/internal/switchable"
)

const (
	wsRequestTimeout = 30 * time.Second
	wsWriteTimeout   = 10 * time.Second
)

// wsConn numbers outgoing frames. Only the handler goroutine writes.
type wsConn struct {
	conn      *websocket.Conn
	requestID string
	seq       int64
}

func (c *wsConn) send(ev WireEvent) error {
	c.seq++
	ev.Seq = c.seq
	ev.RequestID = c.requestID
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) close(code int, text string) {
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(wsWriteTimeout))
	_ = c.conn.Close()
}

// handleChatWS serves one chat turn over a websocket: the first client frame
// is a ChatRequest; the server answers with text_delta frames and a final
// message_done or error frame. A client "interrupt" frame (or a disconnect)
// cancels the turn.
func (h *Handler) handleChatWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxRequestBytes)
	wc := &wsConn{conn: conn, requestID: RequestID(r.Context())}

	_ = conn.SetReadDeadline(time.Now().Add(wsRequestTimeout))
	var req ChatRequest
	if err := conn.ReadJSON(&req); err != nil {
		_ = wc.send(WireEvent{Type: "error", Status: http.StatusBadRequest, Message: "invalid request frame: " + err.Error()})
		wc.close(websocket.CloseUnsupportedData, "invalid request")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	t, err := h.prepare(r.Context(), req)
	if err != nil {
		_ = wc.send(WireEvent{Type: "error", Status: http.StatusBadRequest, Message: err.Error()})
		wc.close(websocket.CloseUnsupportedData, "invalid request")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go watchClient(conn, cancel)

	stream := switchable.New()
	run, err := t.rt.Driver.Begin(ctx, stream, t.conv)
	if err != nil {
		_ = stream.CloseWithError(err)
		status, msg := Classify(err)
		_ = wc.send(WireEvent{Type: "error", Status: status, Message: msg})
		h.complete(t, segment.Summary{Provider: t.conv.Directive.Provider, Model: t.conv.Directive.Model}, err, status)
		wc.close(websocket.CloseNormalClosure, "")
		return
	}

	type outcome struct {
		sum segment.Summary
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		sum, err := run.Finish()
		done <- outcome{sum, err}
	}()

	buf := make([]byte, 32*1024)
	for {
		n, rerr := stream.Read(buf)
		if n > 0 {
			if werr := wc.send(WireEvent{Type: "text_delta", Text: string(buf[:n])}); werr != nil {
				_ = stream.CloseWithError(werr)
				break
			}
		}
		if rerr != nil {
			break
		}
	}

	res := <-done
	status := http.StatusOK
	if res.err != nil {
		var msg string
		status, msg = Classify(res.err)
		if errors.Is(res.err, context.Canceled) {
			msg = "interrupted"
		}
		_ = wc.send(WireEvent{Type: "error", Status: status, Message: msg})
	} else {
		use := t.conv.Usage.Snapshot()
		_ = wc.send(WireEvent{
			Type:     "message_done",
			Provider: res.sum.Provider,
			Model:    res.sum.Model,
			Segments: res.sum.Segments,
			Usage:    &UsageInfo{Input: use.PromptTokens, Output: use.CompletionTokens, Total: use.TotalTokens},
		})
	}
	h.complete(t, res.sum, res.err, status)
	wc.close(websocket.CloseNormalClosure, "")
}

// watchClient cancels the turn on an interrupt frame or when the client goes away.
func watchClient(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		var ev ClientEvent
		if err := conn.ReadJSON(&ev); err != nil {
			return
		}
		if ev.Type == "interrupt" {
			return
		}
	}
}
