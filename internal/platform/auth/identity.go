package auth

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/clederamarkx-cody/literate-octo-funicular-sub000/internal/workflow"
)

const anonymousPrincipal = "anonymous"

// Identity is the caller resolved from a verified Firebase ID token. NomineeID is set only for
// nominee accounts that have been bound through activation.
type Identity struct {
	UID             string
	Email           string
	Role            workflow.Role
	NomineeID       string
	AuthenticatedAt time.Time
}

// Is reports whether the identity holds one of the roles.
func (i *Identity) Is(roles ...workflow.Role) bool {
	return i != nil && slices.Contains(roles, i.Role)
}

// Principal names the caller for keying per-user state. Missing identities collapse to "anonymous".
func (i *Identity) Principal() string {
	if i == nil {
		return anonymousPrincipal
	}
	if uid := strings.TrimSpace(i.UID); uid != "" {
		return uid
	}
	return anonymousPrincipal
}

type identityKey struct{}

// WithIdentity attaches identity to ctx.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext returns the identity attached by the authentication middleware.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	if ctx == nil {
		return nil, false
	}
	identity, _ := ctx.Value(identityKey{}).(*Identity)
	return identity, identity != nil
}
