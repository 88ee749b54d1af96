package oauth2

import (
	"context"
	"strings"
)

// ParseScope splits a space-delimited scope string into its tokens,
// dropping empty entries.
func ParseScope(scope string) []string {
	return strings.Fields(scope)
}

// JoinScope joins scope tokens back into the wire format.
func JoinScope(scopes []string) string {
	return strings.Join(scopes, " ")
}

// CheckScope reports whether every token in required appears in available.
// Both arguments are space-delimited scope strings; ordering and duplicate
// tokens are irrelevant. An empty required scope is always satisfied.
func CheckScope(required, available string) bool {
	have := make(map[string]struct{})
	for _, s := range ParseScope(available) {
		have[s] = struct{}{}
	}
	for _, s := range ParseScope(required) {
		if _, ok := have[s]; !ok {
			return false
		}
	}
	return true
}

// HasScope reports whether a single scope token is present in the
// space-delimited scope string.
func HasScope(scope, token string) bool {
	for _, s := range ParseScope(scope) {
		if s == token {
			return true
		}
	}
	return false
}

// ScopeValidator reconciles requested scopes against what the server and a
// given client support, falling back to configured defaults.
type ScopeValidator struct {
	scopes ScopeRepository
}

// NewScopeValidator creates a ScopeValidator backed by the given repository.
func NewScopeValidator(scopes ScopeRepository) *ScopeValidator {
	return &ScopeValidator{scopes: scopes}
}

// Exists reports whether every token of the requested scope is known to the
// server. An empty scope trivially exists.
func (v *ScopeValidator) Exists(ctx context.Context, scope string) (bool, error) {
	if scope == "" {
		return true, nil
	}
	return v.scopes.ScopeExists(ctx, scope)
}

// DefaultScope returns the configured default scope, optionally per client.
// An empty string means no default is configured.
func (v *ScopeValidator) DefaultScope(ctx context.Context, clientID string) (string, error) {
	return v.scopes.GetDefaultScope(ctx, clientID)
}
