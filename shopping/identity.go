package shopping

import (
	"context"
	"strings"
)

// Identity supplies the authenticated owner. It reports false when nobody
// is signed in.
type Identity interface {
	CurrentOwnerID(ctx context.Context) (string, bool)
}

// IdentityFunc adapts a function to Identity.
type IdentityFunc func(ctx context.Context) (string, bool)

func (f IdentityFunc) CurrentOwnerID(ctx context.Context) (string, bool) {
	return f(ctx)
}

// StaticIdentity is a fixed owner, as used by single-user tools.
type StaticIdentity string

func (s StaticIdentity) CurrentOwnerID(context.Context) (string, bool) {
	id := strings.TrimSpace(string(s))
	return id, id != ""
}

type ownerKey struct{}

// WithOwner returns a context carrying ownerID for ContextIdentity.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFromContext returns the owner stored by WithOwner.
func OwnerFromContext(ctx context.Context) (string, bool) {
	id, _ := ctx.Value(ownerKey{}).(string)
	id = strings.TrimSpace(id)
	return id, id != ""
}

// ContextIdentity reads the owner from the request context.
type ContextIdentity struct{}

func (ContextIdentity) CurrentOwnerID(ctx context.Context) (string, bool) {
	return OwnerFromContext(ctx)
}

// resolveOwner returns explicit when set, else the identity's owner.
func resolveOwner(ctx context.Context, op string, identity Identity, explicit string) (string, error) {
	if id := strings.TrimSpace(explicit); id != "" {
		return id, nil
	}
	if identity != nil {
		if id, ok := identity.CurrentOwnerID(ctx); ok {
			return id, nil
		}
	}
	return "", &Error{Op: op, Kind: ErrAuthRequired}
}
