package oauth2

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	serrors "go.pilab.hu/oauth2/errors"
)

// IntrospectionResponse is the RFC 7662 token metadata body. Only claims the
// token actually carries are serialized.
type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Subject   string `json:"sub,omitempty"`
	Audience  string `json:"aud,omitempty"`
	Issuer    string `json:"iss,omitempty"`
	ID        string `json:"jti,omitempty"`
	ExpiresAt int64  `json:"exp,omitempty"`
	IssuedAt  int64  `json:"iat,omitempty"`
	NotBefore int64  `json:"nbf,omitempty"`
}

// IntrospectionController inspects signed JWTs: structural checks first, then
// replay protection and signature verification against the key registered for
// the token's audience.
type IntrospectionController struct {
	keys PublicKeyRepository
	jtis JtiRepository
}

// NewIntrospectionController creates an IntrospectionController.
func NewIntrospectionController(keys PublicKeyRepository, jtis JtiRepository) *IntrospectionController {
	return &IntrospectionController{keys: keys, jtis: jtis}
}

// HandleIntrospectRequest runs the introspection state machine over the token
// parameter of the request. A well-signed but expired token is not an error;
// it introspects as active=false.
func (c *IntrospectionController) HandleIntrospectRequest(ctx context.Context, req *Request) (*IntrospectionResponse, *serrors.OAuth2Error) {
	tokenParam := req.FormValue("token")
	if tokenParam == "" {
		return nil, serrors.NewInvalidRequest(`Missing parameter: "token" is required`)
	}

	// Structural pass before any cryptography.
	raw, err := DecodeUnverified(tokenParam)
	if err != nil {
		return nil, serrors.NewInvalidRequest("The JSON Web Token could not be decoded")
	}
	claims := claimsFromMap(raw)

	if claims.Issuer == "" {
		return nil, serrors.NewInvalidGrant("Invalid issuer (iss) provided")
	}
	if _, present := raw["exp"]; !present {
		return nil, serrors.NewInvalidGrant("Expiration (exp) time must be present")
	}
	if claims.ExpiresAt == 0 {
		return nil, serrors.NewInvalidGrant("Expiration (exp) time must be a unix time stamp")
	}

	now := time.Now().Unix()
	active := claims.ExpiresAt > now

	if _, present := raw["nbf"]; present {
		if claims.NotBefore == 0 {
			return nil, serrors.NewInvalidGrant("Not Before (nbf) time must be a unix time stamp")
		}
		if claims.NotBefore > now {
			active = false
		}
	}

	if audience := req.FormValue("audience"); audience != "" && audience != claims.Audience {
		return nil, serrors.NewInvalidGrant("Invalid audience (aud)")
	}

	// Replay protection applies only while the token is still valid.
	if claims.ID != "" && active {
		seen, err := c.jtis.HasJti(ctx, claims.Audience, claims.ID)
		if err != nil {
			log.Error().Err(err).Msg("jti lookup failed")
			return nil, serrors.NewServerError("The authorization server encountered an unexpected condition")
		}
		if seen {
			return nil, serrors.NewInvalidGrant("JSON Web Token id (jti) has already been used")
		}
		if err := c.jtis.SetJti(ctx, claims.Audience, claims.ID, time.Unix(claims.ExpiresAt, 0)); err != nil {
			log.Error().Err(err).Msg("jti store failed")
			return nil, serrors.NewServerError("The authorization server encountered an unexpected condition")
		}
	}

	key, alg, oerr := c.resolveKey(ctx, claims.Audience)
	if oerr != nil {
		return nil, oerr
	}

	verified, err := DecodeWithKey(tokenParam, key, alg)
	if err != nil {
		return nil, serrors.NewInvalidToken("JWT failed signature verification")
	}

	return &IntrospectionResponse{
		Active:    active,
		Scope:     verified.Scope,
		ClientID:  verified.Audience,
		TokenType: "Bearer",
		Subject:   verified.Subject,
		Audience:  verified.Audience,
		Issuer:    verified.Issuer,
		ID:        verified.ID,
		ExpiresAt: verified.ExpiresAt,
		IssuedAt:  verified.IssuedAt,
		NotBefore: verified.NotBefore,
	}, nil
}

// resolveKey finds the verification key for the token's audience, falling
// back to the server-wide key when no per-client key is registered.
func (c *IntrospectionController) resolveKey(ctx context.Context, audience string) (any, string, *serrors.OAuth2Error) {
	key, err := c.keys.GetPublicKey(ctx, audience)
	if err != nil && audience != "" {
		key, err = c.keys.GetPublicKey(ctx, "")
	}
	if err != nil || key == nil {
		return nil, "", serrors.NewInvalidClient("No public key registered for the token audience")
	}

	alg, err := c.keys.GetEncryptionAlgorithm(ctx, audience)
	if err != nil || alg == "" {
		alg = "RS256"
	}
	return key, alg, nil
}
