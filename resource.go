package oauth2

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	serrors "go.pilab.hu/oauth2/errors"
)

// ResourceController verifies bearer tokens on behalf of protected
// resources.
type ResourceController struct {
	tokens TokenRepository
	cache  TokenStore // optional, may be nil
}

// NewResourceController creates a ResourceController.
func NewResourceController(tokens TokenRepository, cache TokenStore) *ResourceController {
	return &ResourceController{tokens: tokens, cache: cache}
}

// VerifyResourceRequest extracts the bearer token from the request and
// validates it, optionally requiring a scope. On success the stored token
// record is returned.
func (c *ResourceController) VerifyResourceRequest(ctx context.Context, req *Request, requiredScope string) (*Token, *serrors.OAuth2Error) {
	value, oerr := ExtractBearerToken(req)
	if oerr != nil {
		return nil, oerr
	}

	token := c.lookupToken(ctx, value)
	if token == nil {
		return nil, serrors.NewInvalidGrant("The access token provided is invalid")
	}

	// A record without an expiry or client binding is a storage-contract
	// violation and must never pass as valid.
	if token.ExpiresAt.IsZero() || token.ClientID == "" {
		log.Error().Str("token_id", token.ID).Msg("malformed access token record")
		return nil, serrors.NewInvalidGrant("The access token provided is invalid")
	}

	if token.IsRevoked || !token.ExpiresAt.After(time.Now()) {
		return nil, serrors.NewInvalidGrant("The access token provided has expired")
	}

	if requiredScope != "" && !CheckScope(requiredScope, token.Scope) {
		return nil, serrors.NewInsufficientScope()
	}

	return token, nil
}

func (c *ResourceController) lookupToken(ctx context.Context, value string) *Token {
	if c.cache != nil {
		if token, found := c.cache.Get(ctx, value); found {
			return token
		}
	}

	token, err := c.tokens.GetAccessToken(ctx, value)
	if err != nil {
		return nil
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, token); err != nil {
			log.Warn().Err(err).Msg("failed to cache access token")
		}
	}
	return token
}
