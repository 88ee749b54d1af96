package memory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/oauth2"
)

type user struct {
	id           string
	username     string
	passwordHash []byte
}

// AddUser registers a resource owner. The password is stored bcrypt-hashed.
func (s *Store) AddUser(username, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[username]; exists {
		return "", fmt.Errorf("user %q already exists", username)
	}

	u := &user{
		id:           uuid.NewString(),
		username:     username,
		passwordHash: hash,
	}
	s.users[username] = u
	return u.id, nil
}

// CheckUserCredentials implements oauth2.UserCredentialsRepository.
func (s *Store) CheckUserCredentials(_ context.Context, username, password string) (string, error) {
	s.mu.RLock()
	u, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("unknown user")
	}
	if err := bcrypt.CompareHashAndPassword(u.passwordHash, []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials")
	}
	return u.id, nil
}

// SetUserClaims registers the OpenID Connect claims served for a user.
func (s *Store) SetUserClaims(userID string, claims map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.userClaims[userID] = claims
}

// GetUserClaims implements oauth2.UserClaimsRepository. Profile claims are
// only released when the matching scope was granted.
func (s *Store) GetUserClaims(_ context.Context, userID, scope string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.userClaims[userID]
	claims := map[string]any{"sub": userID}
	if !ok {
		return claims, nil
	}

	for name, value := range stored {
		if claimAllowedByScope(name, scope) {
			claims[name] = value
		}
	}
	return claims, nil
}

// claimAllowedByScope maps the standard OpenID Connect scope values onto the
// claims they release.
func claimAllowedByScope(claim, scope string) bool {
	var required string
	switch claim {
	case "email", "email_verified":
		required = "email"
	case "address":
		required = "address"
	case "phone_number", "phone_number_verified":
		required = "phone"
	default:
		required = "profile"
	}
	return oauth2.HasScope(scope, required)
}

// AddScopes registers supported scope tokens.
func (s *Store) AddScopes(scopes ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, scope := range scopes {
		s.supportedScopes[scope] = struct{}{}
	}
}

// SetDefaultScope sets the scope granted when a request carries none. An
// empty clientID sets the global default.
func (s *Store) SetDefaultScope(clientID, scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.defaultScopes[clientID] = scope
}

// ScopeExists implements oauth2.ScopeRepository.
func (s *Store) ScopeExists(_ context.Context, scope string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, token := range oauth2.ParseScope(scope) {
		if _, ok := s.supportedScopes[token]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// GetDefaultScope implements oauth2.ScopeRepository.
func (s *Store) GetDefaultScope(_ context.Context, clientID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if scope, ok := s.defaultScopes[clientID]; ok {
		return scope, nil
	}
	return s.defaultScopes[""], nil
}

// GetSupportedScopes implements oauth2.ScopeRepository.
func (s *Store) GetSupportedScopes(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scopes := make([]string, 0, len(s.supportedScopes))
	for scope := range s.supportedScopes {
		scopes = append(scopes, scope)
	}
	return scopes, nil
}
