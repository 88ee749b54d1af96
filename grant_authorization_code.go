package oauth2

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"time"

	"go.pilab.hu/oauth2/client"
	serrors "go.pilab.hu/oauth2/errors"
)

// AuthorizationCodeGrant redeems an authorization code for tokens.
type AuthorizationCodeGrant struct {
	codes AuthorizationCodeRepository
}

// NewAuthorizationCodeGrant creates the authorization_code grant handler.
func NewAuthorizationCodeGrant(codes AuthorizationCodeRepository) *AuthorizationCodeGrant {
	return &AuthorizationCodeGrant{codes: codes}
}

func (g *AuthorizationCodeGrant) Name() string { return GrantTypeAuthorizationCode }

// Validate implements GrantHandler.
func (g *AuthorizationCodeGrant) Validate(ctx context.Context, req *Request, cli *client.Client) (*GrantData, error) {
	code := req.FormValue("code")
	if code == "" {
		return nil, serrors.NewInvalidRequest(`Missing parameter: "code" is required`)
	}

	authCode, err := g.codes.GetAuthCode(ctx, code)
	if err != nil {
		return nil, serrors.NewInvalidGrant("Authorization code doesn't exist or is invalid for the client")
	}
	if authCode.ClientID != cli.ID {
		return nil, serrors.NewInvalidGrant("Authorization code doesn't exist or is invalid for the client")
	}
	if authCode.Used {
		return nil, serrors.NewInvalidGrant("The authorization code has already been used")
	}
	if !authCode.ExpiresAt.After(time.Now()) {
		return nil, serrors.NewInvalidGrant("The authorization code has expired")
	}

	// A redirect URI bound at creation must be presented again, unchanged.
	if authCode.RedirectURI != "" && req.FormValue("redirect_uri") != authCode.RedirectURI {
		return nil, serrors.NewInvalidRequest("The redirect URI is missing or do not match")
	}

	if authCode.CodeChallenge != "" {
		if oerr := verifyCodeChallenge(authCode, req.FormValue("code_verifier")); oerr != nil {
			return nil, oerr
		}
	}

	return &GrantData{
		ClientID:            cli.ID,
		UserID:              authCode.UserID,
		Scope:               authCode.Scope,
		IncludeRefreshToken: true,
		redeemedCode:        authCode.Code,
	}, nil
}

// Complete expires the redeemed code. Storage guarantees at-most-one
// successful redemption; the call is issued unconditionally here.
func (g *AuthorizationCodeGrant) Complete(ctx context.Context, data *GrantData) error {
	return g.codes.MarkAuthCodeAsUsed(ctx, data.redeemedCode)
}

// verifyCodeChallenge checks a PKCE code verifier against the challenge
// bound to the authorization code.
func verifyCodeChallenge(authCode *AuthCode, verifier string) *serrors.OAuth2Error {
	if verifier == "" {
		return serrors.NewInvalidRequest(`Missing parameter: "code_verifier" is required`)
	}

	var derived string
	switch authCode.CodeChallengeMethod {
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		derived = base64.RawURLEncoding.EncodeToString(sum[:])
	case "", "plain":
		derived = verifier
	default:
		return serrors.NewInvalidGrant("Unsupported code challenge method")
	}

	if subtle.ConstantTimeCompare([]byte(derived), []byte(authCode.CodeChallenge)) != 1 {
		return serrors.NewInvalidGrant("The code verifier is invalid")
	}
	return nil
}

// OpenIDAuthorizationCodeGrant decorates the base authorization_code grant
// with OpenID Connect behavior: the id_token bound at authorization time is
// carried forward, and a refresh token is only issued when the user granted
// offline_access.
type OpenIDAuthorizationCodeGrant struct {
	Base  *AuthorizationCodeGrant
	codes AuthorizationCodeRepository
}

// NewOpenIDAuthorizationCodeGrant wraps an AuthorizationCodeGrant.
func NewOpenIDAuthorizationCodeGrant(base *AuthorizationCodeGrant) *OpenIDAuthorizationCodeGrant {
	return &OpenIDAuthorizationCodeGrant{Base: base, codes: base.codes}
}

func (g *OpenIDAuthorizationCodeGrant) Name() string { return g.Base.Name() }

// Validate implements GrantHandler.
func (g *OpenIDAuthorizationCodeGrant) Validate(ctx context.Context, req *Request, cli *client.Client) (*GrantData, error) {
	data, err := g.Base.Validate(ctx, req, cli)
	if err != nil {
		return nil, err
	}

	authCode, err := g.codes.GetAuthCode(ctx, data.redeemedCode)
	if err != nil {
		return nil, serrors.NewInvalidGrant("Authorization code doesn't exist or is invalid for the client")
	}

	data.IDToken = authCode.IDToken
	data.IncludeRefreshToken = HasScope(data.Scope, "offline_access")
	return data, nil
}

func (g *OpenIDAuthorizationCodeGrant) Complete(ctx context.Context, data *GrantData) error {
	return g.Base.Complete(ctx, data)
}
