// Package httpx holds the JSON response helpers shared by every handler.
package httpx

import (
	"context"
	"encoding/json"
	"maps"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/requestctx"
)

const (
	maxCodeLen      = 80
	maxMessageLen   = 512
	maxRequestIDLen = 80
	maxTraceIDLen   = 64
)

// Error is the JSON error envelope returned by the API. Details are merged into the top-level
// object but never override the reserved keys.
type Error struct {
	Code       string
	Message    string
	Status     int
	RequestID  string
	RetryAfter time.Duration
	Details    map[string]any
}

// NewError builds an envelope. Status 0 means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: sanitize(code, maxCodeLen), Message: sanitize(message, maxMessageLen), Status: status}
}

// WithDetails returns a copy of e carrying the extra fields.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := maps.Clone(e.Details)
	if merged == nil {
		merged = make(map[string]any, len(details))
	}
	maps.Copy(merged, details)
	e.Details = merged
	return e
}

// WithRetryAfter asks the client to back off. The wait is sent as a Retry-After header rounded up
// to whole seconds.
func (e Error) WithRetryAfter(wait time.Duration) Error {
	if wait > 0 {
		e.RetryAfter = wait
	}
	return e
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WriteError writes the envelope. Request and trace ids come from ctx unless already set.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if err.RetryAfter > 0 {
		seconds := int(math.Ceil(err.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	body := make(map[string]any, 5+len(err.Details))
	for k, v := range err.Details {
		body[k] = v
	}
	body["error"] = err.Code
	body["message"] = err.Message
	body["status"] = status
	delete(body, "request_id")
	delete(body, "trace_id")

	requestID := err.RequestID
	if requestID == "" {
		requestID = middleware.GetReqID(ctx)
	}
	if requestID = sanitize(requestID, maxRequestIDLen); requestID != "" {
		body["request_id"] = requestID
	}
	if traceID := sanitize(requestctx.TraceID(ctx), maxTraceIDLen); traceID != "" {
		body["trace_id"] = traceID
	}
	WriteJSON(w, status, body)
}

// WriteJSON encodes payload with the given status. A nil payload writes headers only.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// sanitize keeps header-derived values on one line and bounded.
func sanitize(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' {
			return ' '
		}
		return r
	}, value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
