package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/server/middleware"
	"github.com/faucetdb/keygate/internal/stream"
	"github.com/faucetdb/keygate/internal/upstream"
)

// maxPayloadBytes bounds completion and embedding request bodies.
const maxPayloadBytes = 32 << 20

// AuditRecorder records one audit event per request attempt. Events with
// an empty key id are dropped by the recorder.
type AuditRecorder interface {
	RecordSafely(ctx context.Context, keyID string, ac model.AuditContext)
}

// CompletionHandler proxies the completion surface to the upstream provider
// and audits every attempt made under a managed key. Audit events are
// written in the background after the response; Wait drains them.
type CompletionHandler struct {
	upstream upstream.Completer
	audit    AuditRecorder
	logger   *slog.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// NewCompletionHandler creates a new CompletionHandler.
func NewCompletionHandler(c upstream.Completer, audit AuditRecorder, logger *slog.Logger) *CompletionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompletionHandler{upstream: c, audit: audit, logger: logger, now: time.Now}
}

// attempt carries the audit state of one proxied request.
type attempt struct {
	keyID string
	start time.Time
	ac    model.AuditContext
}

func (h *CompletionHandler) begin(r *http.Request) *attempt {
	return &attempt{
		keyID: middleware.ManagedKeyID(r.Context()),
		start: h.now(),
		ac:    model.AuditContext{Method: r.Method, Path: r.URL.Path},
	}
}

// record snapshots the attempt and hands it to the audit log without
// waiting for the write.
func (h *CompletionHandler) record(r *http.Request, a *attempt) {
	a.ac.DurationMs = h.now().Sub(a.start).Milliseconds()
	keyID, ac := a.keyID, a.ac
	ctx := context.WithoutCancel(r.Context())
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.audit.RecordSafely(ctx, keyID, ac)
	}()
}

// Wait blocks until pending audit writes have finished.
func (h *CompletionHandler) Wait() {
	h.wg.Wait()
}

// tokenCounter extracts total, input and output token counts from usage.
type tokenCounter func(u *stream.Usage) (total, input, output *int)

func chatTokens(u *stream.Usage) (total, input, output *int) {
	if u == nil {
		return nil, nil, nil
	}
	t, i, o := u.TotalTokens, u.PromptTokens, u.CompletionTokens
	return &t, &i, &o
}

// Embedding responses carry no completion count; output is what the prompt
// does not account for.
func embeddingTokens(u *stream.Usage) (total, input, output *int) {
	if u == nil {
		return nil, nil, nil
	}
	t, i, o := u.TotalTokens, u.PromptTokens, u.TotalTokens-u.PromptTokens
	return &t, &i, &o
}

// ChatCompletions proxies a chat completion. Streamed responses are relayed
// event by event and audited once the stream ends.
// POST /v1/chat/completions, /chat/completions
func (h *CompletionHandler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	h.proxyPayload(w, r, chatTokens)
}

// Embeddings proxies an embeddings request.
// POST /v1/embeddings, /embeddings
func (h *CompletionHandler) Embeddings(w http.ResponseWriter, r *http.Request) {
	h.proxyPayload(w, r, embeddingTokens)
}

// Models proxies the model listing.
// GET /v1/models, /models
func (h *CompletionHandler) Models(w http.ResponseWriter, r *http.Request) {
	a := h.begin(r)
	resp, err := h.upstream.Forward(r.Context(), http.MethodGet, r.URL.Path, nil)
	if err != nil {
		h.forwardError(w, r, a, err)
		return
	}
	defer resp.Body.Close()
	h.relayJSON(w, r, a, resp, nil)
}

func (h *CompletionHandler) proxyPayload(w http.ResponseWriter, r *http.Request, tokens tokenCounter) {
	a := h.begin(r)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	r.Body.Close()
	if err == nil && !json.Valid(body) {
		err = errors.New("body is not valid JSON")
	}
	if err != nil {
		status, msg := http.StatusBadRequest, "Invalid request body: "+err.Error()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status, msg = http.StatusRequestEntityTooLarge, "Request body too large"
		}
		a.ac.Status = status
		a.ac.Error = err.Error()
		writeError(w, status, msg)
		h.record(r, a)
		return
	}
	a.ac.Request = json.RawMessage(body)

	resp, err := h.upstream.Forward(r.Context(), r.Method, r.URL.Path, body)
	if err != nil {
		h.forwardError(w, r, a, err)
		return
	}
	defer resp.Body.Close()

	if isEventStream(resp) {
		h.relayStream(w, r, a, resp)
		return
	}
	h.relayJSON(w, r, a, resp, tokens)
}

func isEventStream(resp *http.Response) bool {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return mediaType == "text/event-stream"
}

// forwardError audits a failed attempt and reports it to the client. Upstream
// status errors are relayed with the upstream status and body.
func (h *CompletionHandler) forwardError(w http.ResponseWriter, r *http.Request, a *attempt, err error) {
	status := http.StatusInternalServerError
	var se *upstream.StatusError
	if errors.As(err, &se) {
		status = se.StatusCode
	}
	a.ac.Status = status
	a.ac.Response = nil
	a.ac.Error = err.Error()
	defer h.record(r, a)

	if se != nil && len(se.Body) > 0 {
		ct := se.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/json"
		}
		w.Header().Set("Content-Type", ct)
		w.WriteHeader(status)
		w.Write(se.Body)
		return
	}
	h.logger.Warn("upstream request failed", "path", r.URL.Path, "status", status, "error", err)
	writeError(w, status, "Upstream request failed: "+err.Error())
}

// relayJSON buffers a non-streamed upstream response, writes it to the
// client unchanged and then audits it.
func (h *CompletionHandler) relayJSON(w http.ResponseWriter, r *http.Request, a *attempt, resp *http.Response, tokens tokenCounter) {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.forwardError(w, r, a, err)
		return
	}

	a.ac.Status = resp.StatusCode
	if json.Valid(data) {
		a.ac.Response = json.RawMessage(data)
		if tokens != nil {
			var body struct {
				Usage *stream.Usage `json:"usage"`
			}
			if json.Unmarshal(data, &body) == nil {
				a.ac.TokenUsage, a.ac.InputTokens, a.ac.OutputTokens = tokens(body.Usage)
			}
		}
	} else {
		a.ac.Response = string(data)
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/json"
	}
	w.Header().Set("Content-Type", ct)
	w.WriteHeader(resp.StatusCode)
	w.Write(data)
	h.record(r, a)
}

// relayStream copies server-sent events to the client as they arrive while
// folding them into a summary. The audit event is written when the relay
// ends, whether the stream completed or the client went away.
func (h *CompletionHandler) relayStream(w http.ResponseWriter, r *http.Request, a *attempt, resp *http.Response) {
	var agg stream.Aggregator
	defer func() {
		sum := agg.Summary()
		a.ac.Status = http.StatusOK
		a.ac.TokenUsage, a.ac.InputTokens, a.ac.OutputTokens = sum.TokenUsage, sum.InputTokens, sum.OutputTokens
		a.ac.Response = sum
		h.record(r, a)
	}()

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)

	sc := stream.NewScanner(resp.Body)
	for sc.Next() {
		ev := sc.Event()
		agg.ApplyData(ev.Data)
		if err := stream.WriteEvent(w, ev); err != nil {
			h.logger.Debug("client stream closed", "path", r.URL.Path, "error", err)
			return
		}
		rc.Flush()
	}
	if err := sc.Err(); err != nil {
		h.logger.Warn("upstream stream ended with error", "path", r.URL.Path, "error", err)
	}
}
