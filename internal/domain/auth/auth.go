// Package auth models principals and per-collection permissions.
package auth

import (
	"context"
	"slices"
)

// Principal is the authenticated caller.
type Principal struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the principal carries role.
func (p Principal) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

// Permissions are the operations allowed on one collection.
type Permissions struct {
	Create bool `json:"create" yaml:"create"`
	Edit   bool `json:"edit" yaml:"edit"`
	Delete bool `json:"delete" yaml:"delete"`
}

// Full grants everything.
func Full() Permissions { return Permissions{Create: true, Edit: true, Delete: true} }

// Union returns the permissions granted by either side.
func (p Permissions) Union(o Permissions) Permissions {
	return Permissions{
		Create: p.Create || o.Create,
		Edit:   p.Edit || o.Edit,
		Delete: p.Delete || o.Delete,
	}
}

// Intersect returns the permissions granted by both sides.
func (p Permissions) Intersect(o Permissions) Permissions {
	return Permissions{
		Create: p.Create && o.Create,
		Edit:   p.Edit && o.Edit,
		Delete: p.Delete && o.Delete,
	}
}

// Authorizer yields the permissions of a principal on a collection path.
type Authorizer interface {
	Permissions(p Principal, collectionPath string) Permissions
}

// AllowAll grants full permissions to everyone.
type AllowAll struct{}

// Permissions implements Authorizer.
func (AllowAll) Permissions(Principal, string) Permissions { return Full() }

type principalKey struct{}

// WithPrincipal stores the principal in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
