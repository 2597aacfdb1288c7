package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/platform/httpx"
	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

const (
	roleClaim            = "portalRole"
	legacyRoleClaim      = "role"
	nomineeClaim         = "nomineeId"
	emailClaim           = "email"
	defaultVerifyTimeout = 5 * time.Second
)

// TokenVerifier verifies Firebase ID tokens.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator wires Firebase token verification into HTTP middleware.
type Authenticator struct {
	verifier     TokenVerifier
	fallbackRole workflow.Role
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithFallbackRole sets the role assumed when the token carries no role claim.
func WithFallbackRole(role workflow.Role) Option {
	return func(a *Authenticator) {
		a.fallbackRole = role
	}
}

// NewAuthenticator constructs an Authenticator. Tokens without a role claim are nominees by default.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{verifier: verifier, fallbackRole: workflow.RoleNominee}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireRoles verifies the bearer token and admits only the listed roles. No roles admits any
// recognised portal role.
func (a *Authenticator) RequireRoles(allowed ...workflow.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
				return
			}
			if a == nil || a.verifier == nil {
				httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized))
				return
			}

			decoded, err := a.verifier.VerifyIDToken(ctx, token)
			if err != nil {
				writeVerificationError(ctx, w, err)
				return
			}

			identity := a.identityFromToken(decoded)
			if identity.Role == "" {
				httpx.WriteError(ctx, w, httpx.NewError("missing_role", "no portal role associated with identity", http.StatusForbidden))
				return
			}
			if len(allowed) > 0 && !identity.Is(allowed...) {
				httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "identity does not have the required role", http.StatusForbidden))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) identityFromToken(token *firebaseauth.Token) *Identity {
	identity := &Identity{
		UID:       token.UID,
		Email:     stringClaim(token.Claims, emailClaim),
		NomineeID: stringClaim(token.Claims, nomineeClaim),
	}
	if token.AuthTime > 0 {
		identity.AuthenticatedAt = time.Unix(token.AuthTime, 0).UTC()
	}
	raw := stringClaim(token.Claims, roleClaim)
	if raw == "" {
		raw = stringClaim(token.Claims, legacyRoleClaim)
	}
	if raw == "" {
		identity.Role = a.fallbackRole
	} else {
		identity.Role = workflow.NormalizeRole(raw)
	}
	return identity
}

func stringClaim(claims map[string]interface{}, key string) string {
	value, ok := claims[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(value)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("auth_unavailable", "token verification timed out", http.StatusServiceUnavailable))
	case firebaseauth.IsIDTokenExpired(err):
		httpx.WriteError(ctx, w, httpx.NewError("token_expired", "firebase id token expired", http.StatusUnauthorized))
	case firebaseauth.IsIDTokenRevoked(err):
		httpx.WriteError(ctx, w, httpx.NewError("token_revoked", "firebase id token revoked", http.StatusUnauthorized))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_token", "firebase id token invalid", http.StatusUnauthorized))
	}
}
