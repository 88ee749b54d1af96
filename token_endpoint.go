package oauth2

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	serrors "go.pilab.hu/oauth2/errors"
)

// TokenController drives the /token endpoint: client authentication, grant
// dispatch, scope reconciliation and token issuance.
type TokenController struct {
	auth   *ClientAuthenticator
	tokens *TokenService
	grants map[string]GrantHandler
}

// NewTokenController creates a TokenController with the given grant handlers
// registered under their names.
func NewTokenController(auth *ClientAuthenticator, tokens *TokenService, grants ...GrantHandler) *TokenController {
	registry := make(map[string]GrantHandler, len(grants))
	for _, g := range grants {
		registry[g.Name()] = g
	}
	return &TokenController{
		auth:   auth,
		tokens: tokens,
		grants: registry,
	}
}

// HandleTokenRequest processes a token request end to end and returns either
// the response body or a protocol error.
func (c *TokenController) HandleTokenRequest(ctx context.Context, req *Request) (*TokenResponse, *serrors.OAuth2Error) {
	if req.Method != "POST" {
		return nil, serrors.NewInvalidRequest("The request method must be POST when requesting an access token")
	}

	grantType := req.FormValue("grant_type")
	if grantType == "" {
		return nil, serrors.NewInvalidRequest("The grant type was not specified in the request")
	}

	handler, ok := c.grants[grantType]
	if !ok {
		return nil, serrors.NewUnsupportedGrantType(grantType)
	}

	cli, oerr := c.auth.ValidateRequest(ctx, req)
	if oerr != nil {
		return nil, oerr
	}

	if len(cli.AllowedGrantTypes) > 0 && !containsString(cli.AllowedGrantTypes, grantType) {
		return nil, serrors.NewUnauthorizedClient("The grant type is unauthorized for this client_id")
	}

	data, err := handler.Validate(ctx, req, cli)
	if err != nil {
		return nil, asOAuth2Error(err)
	}

	if data.Scope != "" && len(cli.AllowedScopes) > 0 && !CheckScope(data.Scope, JoinScope(cli.AllowedScopes)) {
		return nil, serrors.NewInvalidScope("An unsupported scope was requested.")
	}

	resp, err := c.tokens.IssueTokens(ctx, data.ClientID, data.UserID, data.Scope, data.IDToken, data.IncludeRefreshToken)
	if err != nil {
		log.Error().Err(err).Str("client_id", cli.ID).Str("grant_type", grantType).Msg("token issuance failed")
		return nil, serrors.NewServerError("The authorization server encountered an unexpected condition")
	}

	// Consume single-use artifacts only once tokens were issued successfully.
	if err := handler.Complete(ctx, data); err != nil {
		log.Error().Err(err).Str("client_id", cli.ID).Str("grant_type", grantType).Msg("grant completion failed")
		return nil, serrors.NewServerError("The authorization server encountered an unexpected condition")
	}

	return resp, nil
}

// asOAuth2Error maps an error from a grant handler onto the protocol error
// it represents. Anything that is not already a protocol error is a server
// fault and is reported as such.
func asOAuth2Error(err error) *serrors.OAuth2Error {
	var oerr *serrors.OAuth2Error
	if errors.As(err, &oerr) {
		return oerr
	}
	log.Error().Err(err).Msg("grant validation failed")
	return serrors.NewServerError("The authorization server encountered an unexpected condition")
}

func containsString(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
