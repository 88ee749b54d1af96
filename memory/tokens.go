package memory

import (
	"context"
	"fmt"
	"time"

	"go.pilab.hu/oauth2"
)

// StoreToken implements oauth2.TokenRepository.
func (s *Store) StoreToken(_ context.Context, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[token.TokenValue] = token
	return nil
}

func (s *Store) getToken(tokenValue, tokenType string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	token, ok := s.tokens[tokenValue]
	if !ok || token.TokenType != tokenType {
		return nil, fmt.Errorf("token not found")
	}
	copied := *token
	return &copied, nil
}

// GetAccessToken implements oauth2.TokenRepository.
func (s *Store) GetAccessToken(_ context.Context, tokenValue string) (*oauth2.Token, error) {
	return s.getToken(tokenValue, "access_token")
}

// GetRefreshToken implements oauth2.TokenRepository.
func (s *Store) GetRefreshToken(_ context.Context, tokenValue string) (*oauth2.Token, error) {
	return s.getToken(tokenValue, "refresh_token")
}

// RevokeToken implements oauth2.TokenRepository.
func (s *Store) RevokeToken(_ context.Context, tokenValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token, ok := s.tokens[tokenValue]
	if !ok {
		return fmt.Errorf("token not found")
	}
	token.IsRevoked = true
	return nil
}

// UnsetRefreshToken implements oauth2.TokenRepository.
func (s *Store) UnsetRefreshToken(_ context.Context, tokenValue string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tokens, tokenValue)
	return nil
}

// DeleteExpiredTokens implements oauth2.TokenRepository.
func (s *Store) DeleteExpiredTokens(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for value, token := range s.tokens {
		if token.ExpiresAt.Before(now) {
			delete(s.tokens, value)
		}
	}
	return nil
}

// SaveAuthCode implements oauth2.AuthorizationCodeRepository.
func (s *Store) SaveAuthCode(_ context.Context, code *oauth2.AuthCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authCodes[code.Code] = code
	return nil
}

// GetAuthCode implements oauth2.AuthorizationCodeRepository.
func (s *Store) GetAuthCode(_ context.Context, code string) (*oauth2.AuthCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return nil, fmt.Errorf("authorization code not found")
	}
	copied := *authCode
	return &copied, nil
}

// MarkAuthCodeAsUsed implements oauth2.AuthorizationCodeRepository. The
// check-and-set runs under the store lock, so at most one redemption can
// succeed.
func (s *Store) MarkAuthCodeAsUsed(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	authCode, ok := s.authCodes[code]
	if !ok {
		return fmt.Errorf("authorization code not found")
	}
	if authCode.Used {
		return fmt.Errorf("authorization code already used")
	}
	authCode.Used = true
	return nil
}

// DeleteExpiredAuthCodes implements oauth2.AuthorizationCodeRepository.
func (s *Store) DeleteExpiredAuthCodes(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for value, code := range s.authCodes {
		if code.ExpiresAt.Before(now) {
			delete(s.authCodes, value)
		}
	}
	return nil
}

// HasJti implements oauth2.JtiRepository.
func (s *Store) HasJti(_ context.Context, clientID, jti string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiresAt, ok := s.jtis[clientID+":"+jti]
	if !ok {
		return false, nil
	}
	return expiresAt.After(time.Now()), nil
}

// SetJti implements oauth2.JtiRepository.
func (s *Store) SetJti(_ context.Context, clientID, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jtis[clientID+":"+jti] = expiresAt
	return nil
}
