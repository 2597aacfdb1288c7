package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestRequireRoles_AllowsStaffToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "uid-123",
			Claims: map[string]interface{}{
				"portalRole": "scd",
				"email":      "leader@example.gov",
			},
		},
	}
	authn := NewAuthenticator(verifier)

	called := false
	handler := authn.RequireRoles(workflow.RoleAdmin, workflow.RoleSCDTeamLeader)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.Role != workflow.RoleSCDTeamLeader {
			t.Fatalf("expected scd alias to map to scd_team_leader, got %q", identity.Role)
		}
		if identity.Email != "leader@example.gov" {
			t.Fatalf("unexpected email %q", identity.Email)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/evaluator/nominees", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if verifier.received != "token-abc" {
		t.Fatalf("expected token to be forwarded, got %q", verifier.received)
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestRequireRoles_DefaultsToNominee(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{UID: "uid-1", Claims: map[string]interface{}{"nomineeId": "nom-9"}},
	}
	authn := NewAuthenticator(verifier)

	var identity *Identity
	handler := authn.RequireRoles(workflow.RoleNominee)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/portal/nominees/nom-9", nil)
	req.Header.Set("Authorization", "bearer t")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if identity == nil {
		t.Fatalf("expected handler to receive identity")
	}
	if identity.Role != workflow.RoleNominee || identity.NomineeID != "nom-9" {
		t.Fatalf("unexpected identity %+v", identity)
	}
}

func TestRequireRoles_RejectsWrongRole(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{UID: "uid-1", Claims: map[string]interface{}{"role": "reu"}},
	}
	authn := NewAuthenticator(verifier)

	handler := authn.RequireRoles(workflow.RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodPut, "/evaluator/nominees/n/stages/2/unlock", nil)
	req.Header.Set("Authorization", "Bearer t")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["error"] != "insufficient_role" {
		t.Fatalf("unexpected error code %v", body["error"])
	}
}

func TestRequireRoles_MissingHeader(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{})
	handler := authn.RequireRoles()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not be called")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/portal/nominees/x", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireRoles_VerificationFailure(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: errors.New("bad signature")})
	handler := authn.RequireRoles()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/portal/nominees/x", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
