// Package server implements the HTTP handlers and routing for the academy service.
// It exposes the publish pipeline, the learner access workflow and the local
// receipt log as JSON endpoints with bearer authentication on mutating routes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/RegistryAccord/registryaccord-academy-go/internal/access"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/auth"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/blob"
	errordefs "github.com/RegistryAccord/registryaccord-academy-go/internal/errors"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/event"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/ledger"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/metrics"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/publish"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/quiz"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/receipts"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/storage"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/telemetry"
	"github.com/RegistryAccord/registryaccord-academy-go/internal/wallet"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	// Context keys for storing request-scoped values
	ContextKeySubject       ContextKey = "subject"       // Operator token subject
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking

	// Default limits for list operations
	DefaultListLimit = 25
	MaxListLimit     = 100
)

// Deps are the collaborators behind the HTTP surface.
type Deps struct {
	Ledger   ledger.Ledger
	Contract ledger.Contract
	Blobs    blob.Store
	Flows    *access.Flows
	Pipeline *publish.Pipeline
	Receipts *receipts.Log
	KV       storage.KV // Receipt backend, pinged by /readyz
	Events   event.Publisher
	Verifier *auth.Verifier
	Metrics  *metrics.Metrics

	MaxUploadSize      int64         // Per-request multipart limit in bytes
	AllowedMimeTypes   []string      // Entries ending in "/" match as prefixes
	CORSAllowedOrigins []string      // Empty means no cross-origin access
	WatchInterval      time.Duration // Access re-check interval for streaming clients
}

// Mux handles HTTP requests for the academy service.
type Mux struct {
	mux *http.ServeMux
	Deps
}

// NewMux registers every route and returns the handler.
func NewMux(d Deps) *http.ServeMux {
	if d.Events == nil {
		d.Events = event.NewNoop()
	}
	if d.WatchInterval <= 0 {
		d.WatchInterval = 10 * time.Second
	}
	m := &Mux{mux: http.NewServeMux(), Deps: d}

	// Health endpoints
	m.mux.HandleFunc("GET /healthz", m.handleHealthz)
	m.mux.HandleFunc("GET /readyz", m.handleReadyz)
	m.mux.Handle("GET /metrics", promhttp.Handler())
	m.mux.HandleFunc("OPTIONS /", m.withMiddleware(func(http.ResponseWriter, *http.Request) {}))

	route := func(pattern string, h http.HandlerFunc) {
		m.mux.HandleFunc(pattern, m.withMiddleware(h))
	}

	route("GET /v1/wallet", m.handleWallet)

	route("GET /v1/courses", m.handleListCourses)
	route("POST /v1/courses", m.handlePublish)
	route("GET /v1/courses/{id}", m.handleGetCourse)
	route("GET /v1/courses/{id}/access", m.handleAccess)
	route("GET /v1/courses/{id}/access/watch", m.handleWatchAccess)
	route("POST /v1/courses/{id}/enroll", m.handleEnroll)
	route("GET /v1/courses/{id}/modules/{n}/video", m.handleVideo)
	route("POST /v1/courses/{id}/quiz", m.handleSubmitQuiz)
	route("POST /v1/courses/{id}/quiz/retake", m.handleRetake)
	route("POST /v1/courses/{id}/credential", m.handleIssueCredential)
	route("GET /v1/credentials", m.handleCredentials)

	route("GET /v1/profile", m.handleGetProfile)
	route("POST /v1/profile", m.handleCreateProfile)
	route("PUT /v1/profile", m.handleUpdateProfile)

	route("GET /v1/receipts", m.handleListReceipts)
	route("DELETE /v1/receipts", m.handleClearReceipts)
	route("GET /v1/receipts/export", m.handleExportReceipts)
	route("POST /v1/receipts/import", m.handleImportReceipts)
	route("DELETE /v1/receipts/{digest}", m.handleRemoveReceipt)
	route("POST /v1/receipts/{digest}/verify", m.handleVerifyReceipt)

	return m.mux
}

// statusWriter records the status code for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Flush lets streaming handlers push events through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (m *Mux) originAllowed(origin string) bool {
	for _, allowed := range m.CORSAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// withMiddleware applies CORS, correlation ids, authentication, tracing,
// metrics and request logging.
func (m *Mux) withMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		start := time.Now()
		w := &statusWriter{ResponseWriter: rw}

		origin := r.Header.Get("Origin")
		if origin != "" && m.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			if origin != "" && m.originAllowed(origin) {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Correlation-Id")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID)
		w.Header().Set("X-Correlation-Id", correlationID)

		pattern := r.Pattern
		if pattern == "" {
			pattern = r.URL.Path
		}
		ctx, span := telemetry.Tracer().Start(ctx, pattern)
		defer span.End()
		span.SetAttributes(attribute.String("correlation.id", correlationID))
		r = r.WithContext(ctx)

		var err error
		if isMutating(r.Method) && m.Verifier.Enabled() {
			var subject string
			subject, err = m.authenticate(r)
			if err != nil {
				m.writeErrorDef(w, errordefs.New(errordefs.ACD_AUTHN, err.Error(), correlationID))
			} else {
				r = r.WithContext(context.WithValue(r.Context(), ContextKeySubject, subject))
			}
		}
		if err == nil {
			h(w, r)
		}

		if w.status == 0 {
			w.status = http.StatusOK
		}
		if w.status >= 500 {
			span.SetStatus(codes.Error, http.StatusText(w.status))
		}
		m.observeRequest(r.Method, pattern, w.status, time.Since(start))
		m.logRequest(r, w.status, time.Since(start), correlationID, err)
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// authenticate validates the bearer token and returns its subject.
func (m *Mux) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", errors.New("invalid Authorization header format")
	}
	subject, err := m.Verifier.Validate(token)
	if err != nil {
		return "", err
	}
	return subject, nil
}

func (m *Mux) observeRequest(method, path string, status int, d time.Duration) {
	if m.Metrics == nil {
		return
	}
	s := http.StatusText(status)
	m.Metrics.HTTPRequestTotal.WithLabelValues(method, path, s).Inc()
	m.Metrics.HTTPRequestDuration.WithLabelValues(method, path, s).Observe(d.Seconds())
}

func correlationID(r *http.Request) string {
	id, _ := r.Context().Value(ContextKeyCorrelationID).(string)
	return id
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

// writeErrorDef writes an error response following the academy error taxonomy
func (m *Mux) writeErrorDef(w http.ResponseWriter, e *errordefs.Error) {
	body := map[string]any{
		"code":          e.Code,
		"message":       e.Message,
		"correlationId": e.CorrelationID,
	}
	if e.Details != nil {
		body["details"] = e.Details
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": body})
}

// fail classifies err, logs it once and writes the error envelope.
func (m *Mux) fail(w http.ResponseWriter, r *http.Request, err error) {
	e := classify(err)
	e.CorrelationID = correlationID(r)
	level := slog.LevelWarn
	if e.HTTPStatus >= 500 {
		level = slog.LevelError
	}
	slog.Log(r.Context(), level, "request failed",
		"code", e.Code, "class", e.Class(), "error", err, "correlation_id", e.CorrelationID)
	m.writeErrorDef(w, e)
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string, err error) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
	}
	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}
	if sub, ok := r.Context().Value(ContextKeySubject).(string); ok && sub != "" {
		attrs = append(attrs, slog.String("subject", sub))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		slog.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
		return
	}
	slog.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
}

// classify maps workflow errors onto the error taxonomy. Ledger rejections
// keep the ledger's message unchanged.
func classify(err error) *errordefs.Error {
	var (
		def   *errordefs.Error
		ve    *publish.ValidationError
		txErr *ledger.TxError
		te    *access.TransitionError
		se    *publish.StepError
		bse   *blob.StatusError
		rpc   *ledger.RPCError
		mbe   *http.MaxBytesError
	)
	var e *errordefs.Error
	switch {
	case errors.As(err, &def):
		cp := *def
		return &cp
	case errors.As(err, &ve):
		e = errordefs.NewWithDetails(errordefs.ACD_VALIDATION, ve.Message, "", map[string]string{"field": ve.Field})
	case errors.As(err, &mbe):
		e = errordefs.New(errordefs.ACD_MEDIA_SIZE, "upload exceeds the size limit", "")
	case errors.Is(err, quiz.ErrUnanswered):
		e = errordefs.New(errordefs.ACD_QUIZ_INCOMPLETE, err.Error(), "")
	case errors.Is(err, access.ErrNotPassed):
		e = errordefs.New(errordefs.ACD_QUIZ_FAILED, err.Error(), "")
	case errors.Is(err, receipts.ErrInvalidDocument):
		e = errordefs.New(errordefs.ACD_VALIDATION, err.Error(), "")
	case errors.Is(err, access.ErrNameRequired):
		e = errordefs.New(errordefs.ACD_VALIDATION, err.Error(), "")
	case errors.As(err, &te):
		e = errordefs.New(errordefs.ACD_BAD_REQUEST, err.Error(), "")
	case errors.Is(err, access.ErrNoAccess):
		e = errordefs.New(errordefs.ACD_ACCESS_DENIED, err.Error(), "")
	case errors.Is(err, wallet.ErrDisconnected):
		e = errordefs.New(errordefs.ACD_WALLET_DISCONNECTED, "no wallet account is connected", "")
	case errors.Is(err, publish.ErrProfileNotFound):
		e = errordefs.New(errordefs.ACD_PROFILE_NOT_FOUND, err.Error(), "")
	case errors.As(err, &txErr):
		e = errordefs.New(errordefs.ACD_TX_REJECTED, txErr.Error(), "")
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, blob.ErrNotFound), errors.Is(err, receipts.ErrNotFound):
		e = errordefs.New(errordefs.ACD_NOT_FOUND, err.Error(), "")
	case errors.Is(err, access.ErrAccessUnknown):
		e = errordefs.New(errordefs.ACD_UNAVAILABLE, err.Error(), "")
	case errors.Is(err, access.ErrInvalidPayload), errors.As(err, &bse):
		e = errordefs.New(errordefs.ACD_BLOB_STORE, err.Error(), "")
	case errors.As(err, &rpc):
		e = errordefs.New(errordefs.ACD_LEDGER, err.Error(), "")
	case errors.Is(err, context.DeadlineExceeded):
		e = errordefs.New(errordefs.ACD_UNAVAILABLE, "a collaborator did not respond in time", "")
	case errors.As(err, &se):
		// Transport failure inside a publish step: blob steps come first.
		code := errordefs.ACD_LEDGER
		if se.Step <= publish.StepPayload {
			code = errordefs.ACD_BLOB_STORE
		}
		e = errordefs.New(code, err.Error(), "")
	default:
		e = errordefs.New(errordefs.ACD_INTERNAL, "internal error", "")
	}
	if errors.As(err, &se) && e.Details == nil {
		e.Details = map[string]string{"step": se.Step.String()}
	}
	return e
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz reports ready when the receipt backend answers a ping.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if m.KV != nil {
		if err := m.KV.Ping(ctx); err != nil {
			slog.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errordefs.New(errordefs.ACD_BAD_REQUEST, "invalid JSON: "+err.Error(), "")
	}
	return nil
}
