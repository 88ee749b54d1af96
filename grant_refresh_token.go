package oauth2

import (
	"context"
	"fmt"
	"time"

	"go.pilab.hu/oauth2/client"
	serrors "go.pilab.hu/oauth2/errors"
)

// RefreshTokenGrant exchanges a refresh token for a new token pair.
// Rotation behavior follows Config.AlwaysIssueNewRefreshToken and
// Config.UnsetRefreshTokenAfterUse.
type RefreshTokenGrant struct {
	tokens TokenRepository
	cfg    *Config
}

// NewRefreshTokenGrant creates the refresh_token grant handler.
func NewRefreshTokenGrant(tokens TokenRepository, cfg *Config) *RefreshTokenGrant {
	return &RefreshTokenGrant{tokens: tokens, cfg: cfg}
}

func (g *RefreshTokenGrant) Name() string { return GrantTypeRefreshToken }

// Validate implements GrantHandler.
func (g *RefreshTokenGrant) Validate(ctx context.Context, req *Request, cli *client.Client) (*GrantData, error) {
	value := req.FormValue("refresh_token")
	if value == "" {
		return nil, serrors.NewInvalidRequest(`Missing parameter: "refresh_token" is required`)
	}

	token, err := g.tokens.GetRefreshToken(ctx, value)
	if err != nil {
		return nil, serrors.NewInvalidGrant("Invalid refresh token")
	}
	if token.ClientID != cli.ID {
		return nil, serrors.NewInvalidGrant("Invalid refresh token")
	}
	if token.IsRevoked || !token.ExpiresAt.After(time.Now()) {
		return nil, serrors.NewInvalidGrant("Refresh token has expired")
	}

	// A narrower scope may be requested; widening is not allowed.
	scope := token.Scope
	if requested := req.FormValue("scope"); requested != "" {
		if !CheckScope(requested, token.Scope) {
			return nil, serrors.NewInvalidScope("The scope requested is invalid for this request")
		}
		scope = requested
	}

	return &GrantData{
		ClientID:            cli.ID,
		UserID:              token.UserID,
		Scope:               scope,
		IDToken:             token.IDToken,
		IncludeRefreshToken: g.cfg.AlwaysIssueNewRefreshToken,
		presentedRefresh:    value,
	}, nil
}

// Complete unsets the presented refresh token once its replacement has been
// issued, when the configuration rotates tokens.
func (g *RefreshTokenGrant) Complete(ctx context.Context, data *GrantData) error {
	if !g.cfg.UnsetRefreshTokenAfterUse || !data.IncludeRefreshToken {
		return nil
	}
	return g.tokens.UnsetRefreshToken(ctx, data.presentedRefresh)
}

// OpenIDRefreshTokenGrant decorates the base refresh_token grant: when the
// original grant included the openid scope, a fresh id_token is derived from
// the one bound to the refresh token. Tokens without that scope are handled
// exactly as the base grant would.
type OpenIDRefreshTokenGrant struct {
	Base  *RefreshTokenGrant
	codec *Codec
	cfg   *Config
}

// NewOpenIDRefreshTokenGrant wraps a RefreshTokenGrant.
func NewOpenIDRefreshTokenGrant(base *RefreshTokenGrant, codec *Codec, cfg *Config) *OpenIDRefreshTokenGrant {
	return &OpenIDRefreshTokenGrant{Base: base, codec: codec, cfg: cfg}
}

func (g *OpenIDRefreshTokenGrant) Name() string { return g.Base.Name() }

// Validate implements GrantHandler.
func (g *OpenIDRefreshTokenGrant) Validate(ctx context.Context, req *Request, cli *client.Client) (*GrantData, error) {
	data, err := g.Base.Validate(ctx, req, cli)
	if err != nil {
		return nil, err
	}

	// A refresh token minted for a plain OAuth2 grant never carries an
	// id_token to refresh.
	if !HasScope(data.Scope, "openid") {
		data.IDToken = ""
		return data, nil
	}

	if data.IDToken != "" {
		refreshed, err := g.refreshIDToken(data.IDToken)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh id_token: %w", err)
		}
		data.IDToken = refreshed
	}

	return data, nil
}

func (g *OpenIDRefreshTokenGrant) Complete(ctx context.Context, data *GrantData) error {
	return g.Base.Complete(ctx, data)
}

// refreshIDToken re-issues an id_token, carrying over the identity claims
// from the original and stamping fresh iat/exp.
func (g *OpenIDRefreshTokenGrant) refreshIDToken(original string) (string, error) {
	bound, err := DecodeUnverified(original)
	if err != nil {
		return "", err
	}
	claims := claimsFromMap(bound)

	now := time.Now()
	return g.codec.Encode(Claims{
		Issuer:          g.cfg.Issuer,
		Subject:         claims.Subject,
		Audience:        claims.Audience,
		ExpiresAt:       now.Add(g.cfg.IDTokenTTL).Unix(),
		IssuedAt:        now.Unix(),
		AuthTime:        claims.AuthTime,
		AuthorizedParty: claims.AuthorizedParty,
	})
}
