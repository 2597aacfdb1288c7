// Package idempotency replays the outcome of retried mutations such as stage submissions and
// verdict writes. A client that repeats a request with the same Idempotency-Key receives the first
// response instead of running the mutation twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed outcome stays replayable.
const DefaultTTL = 24 * time.Hour

// State is the lifecycle state of a key.
type State string

const (
	StateInFlight  State = "in_flight"
	StateCompleted State = "completed"
)

// Outcome is the stored HTTP response of a completed request.
type Outcome struct {
	Status  int
	Headers map[string][]string
	Body    []byte
}

// Entry is a reserved or completed key.
type Entry struct {
	Key         string
	Fingerprint string
	State       State
	Outcome     Outcome
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Store persists key reservations. Reserve returns the existing entry, if any, together with a flag
// telling whether the caller now owns a fresh reservation.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, bool, error)
	Complete(ctx context.Context, key, fingerprint string, outcome Outcome, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrKeyReused reports a key presented again with a different request.
var ErrKeyReused = errors.New("idempotency: key already used for a different request")

func documentID(key string) string {
	return digest([]byte(strings.TrimSpace(key)))
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func expired(entry Entry, now time.Time) bool {
	return !entry.ExpiresAt.IsZero() && !now.Before(entry.ExpiresAt)
}

var hopHeaders = map[string]struct{}{
	"Connection":        {},
	"Content-Length":    {},
	"Date":              {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
	"Retry-After":       {},
}

func storableHeaders(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if _, skip := hopHeaders[canonical]; skip {
			continue
		}
		out[canonical] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
