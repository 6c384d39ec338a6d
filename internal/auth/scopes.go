package auth

import "slices"

// Scope names a permission. Scopes are never stored: they are derived from
// the user's admin flag each time a request is authenticated.
type Scope string

const (
	ScopeChat             Scope = "chat"
	ScopeAgentsManage     Scope = "agents:manage"
	ScopeAccessKeysManage Scope = "access_keys:manage"
	ScopeUsersRead        Scope = "users:read"
	ScopeConfigRead       Scope = "config:read" // sensitive values masked
	ScopeConfigManage     Scope = "config:manage"
	ScopeAuditRead        Scope = "audit:read"

	// ScopeAdmin satisfies every check.
	ScopeAdmin Scope = "admin"
)

var adminScopes = []Scope{
	ScopeChat,
	ScopeAgentsManage,
	ScopeAccessKeysManage,
	ScopeUsersRead,
	ScopeConfigRead,
	ScopeConfigManage,
	ScopeAuditRead,
	ScopeAdmin,
}

// implied lists scopes that carry another scope with them.
var implied = map[Scope][]Scope{
	ScopeConfigRead: {ScopeConfigManage},
}

// ScopesForUser returns the scopes of a regular user or an admin.
func ScopesForUser(isAdmin bool) []string {
	if !isAdmin {
		return []string{string(ScopeChat)}
	}
	out := make([]string, len(adminScopes))
	for i, s := range adminScopes {
		out[i] = string(s)
	}
	return out
}

// HasScope reports whether granted satisfies required.
func HasScope(granted []string, required Scope) bool {
	if slices.Contains(granted, string(ScopeAdmin)) || slices.Contains(granted, string(required)) {
		return true
	}
	for _, s := range implied[required] {
		if slices.Contains(granted, string(s)) {
			return true
		}
	}
	return false
}
