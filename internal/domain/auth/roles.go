package auth

import (
	"strings"
)

// Wildcard matches every collection in a role grant.
const Wildcard = "*"

// RoleAuthorizer grants permissions per role and collection. A principal
// receives the union of the grants of all its roles.
type RoleAuthorizer struct {
	grants map[string]map[string]Permissions
}

// NewRoleAuthorizer builds an authorizer from role -> collection -> grant.
// Collection keys are root collection paths or Wildcard.
func NewRoleAuthorizer(grants map[string]map[string]Permissions) *RoleAuthorizer {
	cp := make(map[string]map[string]Permissions, len(grants))
	for role, cols := range grants {
		inner := make(map[string]Permissions, len(cols))
		for col, p := range cols {
			inner[strings.Trim(col, "/")] = p
		}
		cp[role] = inner
	}
	return &RoleAuthorizer{grants: cp}
}

// Permissions implements Authorizer. Subcollection paths inherit the
// grant of their root collection unless granted explicitly.
func (a *RoleAuthorizer) Permissions(p Principal, collectionPath string) Permissions {
	path := strings.Trim(collectionPath, "/")
	root := path
	if i := strings.Index(path, "/"); i >= 0 {
		root = path[:i]
	}

	var out Permissions
	for _, role := range p.Roles {
		cols, ok := a.grants[role]
		if !ok {
			continue
		}
		if g, ok := cols[path]; ok {
			out = out.Union(g)
			continue
		}
		if g, ok := cols[root]; ok {
			out = out.Union(g)
			continue
		}
		if g, ok := cols[Wildcard]; ok {
			out = out.Union(g)
		}
	}
	return out
}
