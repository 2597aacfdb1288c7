package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/auth"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

var fixedTime = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func submitRequest(uid, key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/portal/nominees/nom-1/stages/1/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(HeaderKey, key)
	}
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Role: workflow.RoleNominee}))
}

func countingHandler(calls *int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"submitted":true}`))
	})
}

func TestGuardPassesThroughWithoutKey(t *testing.T) {
	calls := 0
	handler := Guard(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls))

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, submitRequest("user-1", "", `{"dataPrivacy":true}`))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("expected both requests to reach the handler, got %d", calls)
	}
}

func TestGuardRequiredKey(t *testing.T) {
	calls := 0
	handler := Guard(NewMemoryStore(), WithRequiredKey())(countingHandler(&calls))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, submitRequest("user-1", "", `{}`))
	if rr.Code != http.StatusBadRequest || calls != 0 {
		t.Fatalf("expected 400 without handler call, got %d calls=%d", rr.Code, calls)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_required")
}

func TestGuardReplaysCompletedOutcome(t *testing.T) {
	calls := 0
	handler := Guard(NewMemoryStore(), WithClock(func() time.Time { return fixedTime }))(countingHandler(&calls))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, submitRequest("user-1", "k-1", `{"dataPrivacy":true,"authorityToSubmit":true}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, submitRequest("user-1", "k-1", `{"dataPrivacy":true,"authorityToSubmit":true}`))

	if calls != 1 {
		t.Fatalf("expected a single submission, got %d", calls)
	}
	if second.Code != http.StatusOK || second.Body.String() != first.Body.String() {
		t.Fatalf("expected identical replay, got %d %s", second.Code, second.Body.String())
	}
	if second.Header().Get(HeaderReplayed) != "true" {
		t.Fatalf("expected replay marker header")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected stored content type, got %q", second.Header().Get("Content-Type"))
	}
}

func TestGuardScopesKeysPerUser(t *testing.T) {
	calls := 0
	handler := Guard(NewMemoryStore())(countingHandler(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), submitRequest("user-1", "shared", `{}`))
	handler.ServeHTTP(httptest.NewRecorder(), submitRequest("user-2", "shared", `{}`))

	if calls != 2 {
		t.Fatalf("expected two independent submissions, got %d", calls)
	}
}

func TestGuardRejectsReusedKey(t *testing.T) {
	calls := 0
	handler := Guard(NewMemoryStore())(countingHandler(&calls))

	handler.ServeHTTP(httptest.NewRecorder(), submitRequest("user-1", "k-2", `{"dataPrivacy":true}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, submitRequest("user-1", "k-2", `{"dataPrivacy":false}`))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	assertErrorCode(t, rr.Body.Bytes(), "idempotency_key_reused")
	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
}

func TestGuardInFlightKey(t *testing.T) {
	store := NewMemoryStore()
	handler := Guard(store, WithClock(func() time.Time { return fixedTime }))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is in flight")
	}))

	req := submitRequest("user-1", "k-3", `{}`)
	body := []byte(`{}`)
	if _, fresh, err := store.Reserve(context.Background(), "user-1|k-3", fingerprintOf(req, body, "user-1"), fixedTime, time.Hour); err != nil || !fresh {
		t.Fatalf("seed reservation: fresh=%v err=%v", fresh, err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After header")
	}
}

func TestGuardReleasesKeyAfterServerError(t *testing.T) {
	calls := 0
	handler := Guard(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, submitRequest("user-1", "k-4", `{}`))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, submitRequest("user-1", "k-4", `{}`))

	if first.Code != http.StatusServiceUnavailable || second.Code != http.StatusOK || calls != 2 {
		t.Fatalf("expected retry after 503, got %d then %d (calls=%d)", first.Code, second.Code, calls)
	}
}

func TestGuardStoreFailureStillAnswers(t *testing.T) {
	store := &failingStore{}
	calls := 0
	handler := Guard(store)(countingHandler(&calls))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, submitRequest("user-1", "k-5", `{}`))

	if rr.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected handler response to be delivered, got %d calls=%d", rr.Code, calls)
	}
	if !store.released {
		t.Fatalf("expected key release after failed completion")
	}
}

func TestGuardIgnoresReads(t *testing.T) {
	calls := 0
	handler := Guard(NewMemoryStore(), WithRequiredKey())(countingHandler(&calls))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/portal/nominees/nom-1", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected GET to bypass the guard, got %d", rr.Code)
	}
}

func TestMemoryStorePurge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if _, _, err := store.Reserve(ctx, "a", "fp", fixedTime, time.Minute); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, _, err := store.Reserve(ctx, "b", "fp", fixedTime, time.Hour); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	removed, err := store.Purge(ctx, fixedTime.Add(2*time.Minute), 0)
	if err != nil || removed != 1 {
		t.Fatalf("expected one purged entry, got %d err=%v", removed, err)
	}
	entry, fresh, err := store.Reserve(ctx, "a", "other", fixedTime.Add(2*time.Minute), time.Minute)
	if err != nil || !fresh || entry.Fingerprint != "other" {
		t.Fatalf("expected purged key to be reusable, got %+v fresh=%v err=%v", entry, fresh, err)
	}
}

type failingStore struct {
	released bool
}

func (s *failingStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Entry, bool, error) {
	return Entry{Key: key, Fingerprint: fingerprint, State: StateInFlight}, true, nil
}

func (s *failingStore) Complete(context.Context, string, string, Outcome, time.Time, time.Duration) error {
	return errors.New("write failed")
}

func (s *failingStore) Release(context.Context, string) error {
	s.released = true
	return nil
}

func (s *failingStore) Purge(context.Context, time.Time, int) (int, error) { return 0, nil }

func assertErrorCode(t *testing.T, payload []byte, expected string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error %s, got %s", expected, body.Error)
	}
}
