package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/auth"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/httpx"
)

const (
	// HeaderKey carries the client supplied key.
	HeaderKey = "Idempotency-Key"
	// HeaderReplayed marks a response served from the store.
	HeaderReplayed = "Idempotent-Replayed"

	maxKeyLength     = 200
	defaultBodyLimit = 1 << 20
)

type guardConfig struct {
	ttl        time.Duration
	clock      func() time.Time
	logger     *zap.Logger
	requireKey bool
	bodyLimit  int64
}

// Option customises Guard.
type Option func(*guardConfig)

// WithTTL sets how long completed outcomes are replayed.
func WithTTL(ttl time.Duration) Option {
	return func(cfg *guardConfig) {
		if ttl > 0 {
			cfg.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(cfg *guardConfig) {
		if clock != nil {
			cfg.clock = clock
		}
	}
}

// WithLogger reports store failures.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *guardConfig) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithRequiredKey rejects guarded requests that carry no key.
func WithRequiredKey() Option {
	return func(cfg *guardConfig) {
		cfg.requireKey = true
	}
}

// WithBodyLimit caps how much of the request body is read for the fingerprint. Larger bodies are
// rejected with 413 before reaching the handler.
func WithBodyLimit(limit int64) Option {
	return func(cfg *guardConfig) {
		if limit > 0 {
			cfg.bodyLimit = limit
		}
	}
}

// Guard wraps mutating handlers. Requests without a key pass straight through unless WithRequiredKey
// is set. A key is scoped to the authenticated user, so two users may send the same value.
// Outcomes with a 5xx status are not stored and the key is released for a retry.
func Guard(store Store, opts ...Option) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	cfg := guardConfig{
		ttl:       DefaultTTL,
		clock:     time.Now,
		logger:    zap.NewNop(),
		bodyLimit: defaultBodyLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if !mutating(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			raw := strings.TrimSpace(r.Header.Get(HeaderKey))
			if raw == "" {
				if cfg.requireKey {
					httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_required", "Idempotency-Key header is required", http.StatusBadRequest))
					return
				}
				next.ServeHTTP(w, r)
				return
			}
			if len(raw) > maxKeyLength {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_idempotency_key", "Idempotency-Key is too long", http.StatusBadRequest))
				return
			}

			body, err := bufferBody(r, cfg.bodyLimit)
			if err != nil {
				if errors.Is(err, errBodyTooLarge) {
					httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
					return
				}
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body could not be read", http.StatusBadRequest))
				return
			}

			requester := requesterOf(r)
			key := requester + "|" + raw
			fingerprint := fingerprintOf(r, body, requester)

			entry, fresh, err := store.Reserve(ctx, key, fingerprint, cfg.clock(), cfg.ttl)
			switch {
			case errors.Is(err, ErrKeyReused):
				httpx.WriteError(ctx, w, httpx.NewError("idempotency_key_reused", "Idempotency-Key was already used for a different request", http.StatusUnprocessableEntity))
				return
			case err != nil:
				cfg.logger.Warn("idempotency reserve failed", zap.Error(err))
				httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "request could not be checked for duplicates", http.StatusServiceUnavailable))
				return
			case !fresh && entry.State == StateCompleted:
				replay(w, entry.Outcome)
				return
			case !fresh:
				httpx.WriteError(ctx, w, httpx.NewError("request_in_progress", "an identical request is still being processed", http.StatusConflict).WithRetryAfter(time.Second))
				return
			}

			capture := &capturingWriter{header: make(http.Header)}
			next.ServeHTTP(capture, r)

			if capture.statusCode() >= http.StatusInternalServerError {
				if err := store.Release(ctx, key); err != nil {
					cfg.logger.Warn("idempotency release failed", zap.Error(err))
				}
			} else {
				outcome := Outcome{Status: capture.statusCode(), Headers: storableHeaders(capture.header), Body: capture.body.Bytes()}
				if err := store.Complete(ctx, key, fingerprint, outcome, cfg.clock(), cfg.ttl); err != nil {
					cfg.logger.Warn("idempotency complete failed", zap.Error(err))
					if err := store.Release(ctx, key); err != nil {
						cfg.logger.Warn("idempotency release failed", zap.Error(err))
					}
				}
			}
			capture.flushTo(w)
		})
	}
}

func mutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

var errBodyTooLarge = errors.New("idempotency: body too large")

func bufferBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func requesterOf(r *http.Request) string {
	identity, _ := auth.IdentityFromContext(r.Context())
	return identity.Principal()
}

func fingerprintOf(r *http.Request, body []byte, requester string) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('\n')
	b.WriteString(r.URL.Path)
	b.WriteByte('\n')
	b.WriteString(r.URL.RawQuery)
	b.WriteByte('\n')
	b.WriteString(requester)
	b.WriteByte('\n')
	b.WriteString(digest(body))
	return digest([]byte(b.String()))
}

func replay(w http.ResponseWriter, outcome Outcome) {
	for name, values := range outcome.Headers {
		w.Header()[name] = append([]string(nil), values...)
	}
	w.Header().Set(HeaderReplayed, "true")
	status := outcome.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(outcome.Body)
}

type capturingWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (c *capturingWriter) Header() http.Header { return c.header }

func (c *capturingWriter) WriteHeader(status int) {
	if c.status == 0 {
		c.status = status
	}
}

func (c *capturingWriter) Write(p []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(p)
}

func (c *capturingWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func (c *capturingWriter) flushTo(w http.ResponseWriter) {
	for name, values := range c.header {
		w.Header()[name] = values
	}
	w.WriteHeader(c.statusCode())
	_, _ = w.Write(c.body.Bytes())
}
