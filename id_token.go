package oauth2

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// IDTokenService builds signed OpenID Connect id_tokens.
type IDTokenService struct {
	codec *Codec
	cfg   *Config
}

// NewIDTokenService creates an IDTokenService signing with the given codec.
func NewIDTokenService(codec *Codec, cfg *Config) *IDTokenService {
	return &IDTokenService{codec: codec, cfg: cfg}
}

// IssueIDToken signs an id_token for the user/client pair. When an access
// token is supplied its at_hash binding is included, as required for the
// implicit and hybrid responses that deliver both artifacts together.
func (s *IDTokenService) IssueIDToken(ctx context.Context, clientID, userID, nonce, accessToken string, authTime time.Time) (string, error) {
	now := time.Now()
	claims := Claims{
		Issuer:    s.cfg.Issuer,
		Subject:   userID,
		Audience:  clientID,
		ExpiresAt: now.Add(s.cfg.IDTokenTTL).Unix(),
		IssuedAt:  now.Unix(),
		Nonce:     nonce,
	}
	if !authTime.IsZero() {
		claims.AuthTime = authTime.Unix()
	}

	if accessToken != "" {
		atHash, err := ComputeAtHash(s.codec.Algorithm(), accessToken)
		if err != nil {
			return "", fmt.Errorf("failed to compute at_hash: %w", err)
		}
		claims.AtHash = atHash
	}

	token, err := s.codec.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign id_token: %w", err)
	}

	log.Ctx(ctx).Debug().Str("client_id", clientID).Str("sub", userID).Msg("id_token issued")

	return token, nil
}
