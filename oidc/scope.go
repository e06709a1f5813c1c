package oidc

import "strings"

// Scope values understood by the server. Anything else must carry the
// resource-server prefix or the request is rejected with invalid_scope.
const (
	ScopeOpenID        = "openid"
	ScopeOfflineAccess = "offline_access"
	ScopeIDTokenGroups = "id_groups"
	ScopeAccessGroups  = "at_groups"

	// ResourceServerPrefix marks scope values naming a resource server the
	// access token should be valid for. They are copied into the access
	// token audience.
	ResourceServerPrefix = "rs_"
)

// Scope is an ordered set of scope values parsed from the space-delimited
// wire form.
type Scope []string

// ParseScope splits a space-delimited scope parameter. Duplicate values are
// collapsed, order of first appearance preserved.
func ParseScope(s string) Scope {
	fields := strings.Fields(s)
	scope := make(Scope, 0, len(fields))
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		scope = append(scope, f)
	}
	return scope
}

func (s Scope) Contains(value string) bool {
	for _, v := range s {
		if v == value {
			return true
		}
	}
	return false
}

func (s Scope) String() string {
	return strings.Join(s, " ")
}

// ResourceServers returns the rs_-prefixed scope values.
func (s Scope) ResourceServers() []string {
	var servers []string
	for _, v := range s {
		if strings.HasPrefix(v, ResourceServerPrefix) {
			servers = append(servers, v)
		}
	}
	return servers
}

// Validate checks a requested scope against the grant type asking for it.
// The openid value is mandatory, every value must be recognized, and
// offline_access is disallowed for grants that may not mint refresh tokens.
func (s Scope) Validate(grantType GrantType) *ErrorObject {
	if !s.Contains(ScopeOpenID) {
		return InvalidScope("missing openid scope value")
	}
	for _, v := range s {
		switch {
		case v == ScopeOpenID, v == ScopeIDTokenGroups, v == ScopeAccessGroups:
		case strings.HasPrefix(v, ResourceServerPrefix) && len(v) > len(ResourceServerPrefix):
		case v == ScopeOfflineAccess:
			switch grantType {
			case GrantTypeImplicit, GrantTypeRefreshToken, GrantTypeClientCredentials, GrantTypeSolutionUserCredentials:
				return InvalidScope("refresh token (offline_access) is not allowed for this grant_type")
			}
		default:
			return InvalidScope("unrecognized scope value: " + v)
		}
	}
	return nil
}
