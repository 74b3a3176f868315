package auth

import (
	"context"
	"strings"
)

// Roles carried in the "role" custom claim.
const (
	RoleBuyer = "buyer"
	RoleAdmin = "admin"
)

// Identity is the caller resolved from a verified Firebase ID token.
type Identity struct {
	UID   string
	Email string
	Name  string
	Roles []string
}

// HasRole reports whether the identity includes role (case-insensitive).
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	role = normaliseRole(role)
	if role == "" {
		return false
	}
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey string

const identityContextKey contextKey = "github.com/finitefield/order-desk/internal/platform/auth/identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}

// UserID returns the authenticated uid or "" when the request is anonymous.
func UserID(ctx context.Context) string {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return ""
	}
	return identity.UID
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

type slotKey struct{}

// WithIdentitySlot reserves slot on ctx. Authentication copies the verified identity into it so
// outer middleware can read the caller after the handler chain returns.
func WithIdentitySlot(ctx context.Context, slot *Identity) context.Context {
	if slot == nil {
		return ctx
	}
	return context.WithValue(ctx, slotKey{}, slot)
}

func fillIdentitySlot(ctx context.Context, identity *Identity) {
	slot, ok := ctx.Value(slotKey{}).(*Identity)
	if !ok || identity == nil {
		return
	}
	*slot = *identity
}
