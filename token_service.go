package oauth2

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TokenResponse represents an OAuth 2.0 token response body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// TokenService mints and validates access and refresh tokens. Token values
// are opaque by default; with Config.UseJWTAccessTokens and a codec, access
// tokens are signed JWTs instead.
type TokenService struct {
	tokens TokenRepository
	cache  TokenStore // optional, may be nil
	cfg    *Config
	codec  *Codec // required when Config.UseJWTAccessTokens is set
}

// NewTokenService creates a new TokenService instance.
func NewTokenService(tokens TokenRepository, cache TokenStore, cfg *Config, codec *Codec) *TokenService {
	return &TokenService{
		tokens: tokens,
		cache:  cache,
		cfg:    cfg,
		codec:  codec,
	}
}

// mintAccessTokenValue produces the wire value of a new access token.
func (s *TokenService) mintAccessTokenValue(clientID, userID, scope string, expiresAt time.Time) (string, error) {
	if !s.cfg.UseJWTAccessTokens {
		return uuid.NewString(), nil
	}
	if s.codec == nil {
		return "", fmt.Errorf("JWT access tokens require a codec")
	}
	return s.codec.Encode(Claims{
		Issuer:    s.cfg.Issuer,
		Subject:   userID,
		Audience:  clientID,
		ExpiresAt: expiresAt.Unix(),
		IssuedAt:  time.Now().Unix(),
		ID:        uuid.NewString(),
		Scope:     scope,
	})
}

// IssueTokens creates an access token, optionally paired with a refresh
// token, persists both and returns the response body.
func (s *TokenService) IssueTokens(ctx context.Context, clientID, userID, scope, idToken string, includeRefresh bool) (*TokenResponse, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTokenTTL)

	accessValue, err := s.mintAccessTokenValue(clientID, userID, scope, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("failed to mint access token: %w", err)
	}

	accessToken := &Token{
		ID:         uuid.NewString(),
		TokenType:  "access_token",
		TokenValue: accessValue,
		ClientID:   clientID,
		UserID:     userID,
		Scope:      scope,
		ExpiresAt:  expiresAt,
		CreatedAt:  now,
		LastUsedAt: now,
		IDToken:    idToken,
	}

	resp := &TokenResponse{
		AccessToken: accessValue,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.cfg.AccessTokenTTL.Seconds()),
		Scope:       scope,
		IDToken:     idToken,
	}

	if includeRefresh && s.cfg.IssueRefreshTokens {
		refreshToken := &Token{
			ID:         uuid.NewString(),
			TokenType:  "refresh_token",
			TokenValue: uuid.NewString(),
			ClientID:   clientID,
			UserID:     userID,
			Scope:      scope,
			ExpiresAt:  now.Add(s.cfg.RefreshTokenTTL),
			CreatedAt:  now,
			LastUsedAt: now,
			IDToken:    idToken,
		}
		if err := s.tokens.StoreToken(ctx, refreshToken); err != nil {
			return nil, fmt.Errorf("failed to store refresh token: %w", err)
		}
		accessToken.RefreshToken = refreshToken.TokenValue
		resp.RefreshToken = refreshToken.TokenValue
	}

	if err := s.tokens.StoreToken(ctx, accessToken); err != nil {
		return nil, fmt.Errorf("failed to store access token: %w", err)
	}

	// Cache access token for faster validation
	if s.cache != nil {
		if err := s.cache.Set(ctx, accessToken); err != nil {
			log.Warn().Err(err).Msg("failed to cache access token")
		}
	}

	return resp, nil
}

// ValidateToken validates an access token and returns its record.
func (s *TokenService) ValidateToken(ctx context.Context, tokenValue string) (*Token, error) {
	// Check cache first
	if s.cache != nil {
		if token, found := s.cache.Get(ctx, tokenValue); found {
			if !token.IsRevoked && time.Now().Before(token.ExpiresAt) {
				return token, nil
			}
			_ = s.cache.Delete(ctx, tokenValue)
			return nil, fmt.Errorf("token is invalid or expired")
		}
	}

	token, err := s.tokens.GetAccessToken(ctx, tokenValue)
	if err != nil {
		return nil, fmt.Errorf("token not found: %w", err)
	}

	if token.IsRevoked || time.Now().After(token.ExpiresAt) {
		return nil, fmt.Errorf("token is invalid or expired")
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, token); err != nil {
			log.Warn().Err(err).Msg("failed to cache token")
		}
	}

	return token, nil
}

// RevokeToken revokes an access token and drops it from the cache.
func (s *TokenService) RevokeToken(ctx context.Context, tokenValue string) error {
	if s.cache != nil {
		_ = s.cache.Delete(ctx, tokenValue)
	}
	return s.tokens.RevokeToken(ctx, tokenValue)
}
