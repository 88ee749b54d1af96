package oauth2

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.pilab.hu/oauth2/client"
)

// Response type identifiers. Composite types are stored space-normalized.
const (
	ResponseTypeCode         = "code"
	ResponseTypeToken        = "token"
	ResponseTypeIDToken      = "id_token"
	ResponseTypeCodeIDToken  = "code id_token"
	ResponseTypeTokenIDToken = "token id_token"
	ResponseTypeIDTokenToken = "id_token token"
)

// AuthorizeRequest is a fully validated authorization request, as handed to
// a response composer by the authorize controller.
type AuthorizeRequest struct {
	Client              *client.Client
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	UserID              string
	AuthTime            time.Time
}

// ResponseTypeHandler turns a validated authorization into the artifact the
// /authorize endpoint delivers. Fragment handlers deliver via the URI
// fragment; the plain code response uses the query string.
type ResponseTypeHandler interface {
	Name() string
	UseFragment() bool
	Authorize(ctx context.Context, ar *AuthorizeRequest) (url.Values, error)
}

// CodeResponseType issues an authorization code bound to the request.
type CodeResponseType struct {
	codes AuthorizationCodeRepository
	cfg   *Config
}

// NewCodeResponseType creates the "code" response composer.
func NewCodeResponseType(codes AuthorizationCodeRepository, cfg *Config) *CodeResponseType {
	return &CodeResponseType{codes: codes, cfg: cfg}
}

func (t *CodeResponseType) Name() string      { return ResponseTypeCode }
func (t *CodeResponseType) UseFragment() bool { return false }

// createAuthCode generates and persists a code for the request, optionally
// carrying a pre-built id_token for the hybrid flow.
func (t *CodeResponseType) createAuthCode(ctx context.Context, ar *AuthorizeRequest, idToken string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate authorization code: %w", err)
	}
	code := base64.RawURLEncoding.EncodeToString(raw)

	now := time.Now()
	authCode := &AuthCode{
		Code:                code,
		ClientID:            ar.Client.ID,
		UserID:              ar.UserID,
		RedirectURI:         ar.RedirectURI,
		Scope:               ar.Scope,
		ExpiresAt:           now.Add(t.cfg.AuthCodeTTL),
		CreatedAt:           now,
		CodeChallenge:       ar.CodeChallenge,
		CodeChallengeMethod: ar.CodeChallengeMethod,
		Nonce:               ar.Nonce,
		IDToken:             idToken,
	}

	if err := t.codes.SaveAuthCode(ctx, authCode); err != nil {
		return "", fmt.Errorf("failed to save authorization code: %w", err)
	}
	return code, nil
}

// Authorize implements ResponseTypeHandler.
func (t *CodeResponseType) Authorize(ctx context.Context, ar *AuthorizeRequest) (url.Values, error) {
	code, err := t.createAuthCode(ctx, ar, "")
	if err != nil {
		return nil, err
	}
	return url.Values{"code": {code}}, nil
}

// TokenResponseType implements the implicit flow: an access token delivered
// directly in the redirect fragment.
type TokenResponseType struct {
	tokens *TokenService
}

// NewTokenResponseType creates the "token" response composer.
func NewTokenResponseType(tokens *TokenService) *TokenResponseType {
	return &TokenResponseType{tokens: tokens}
}

func (t *TokenResponseType) Name() string      { return ResponseTypeToken }
func (t *TokenResponseType) UseFragment() bool { return true }

// Authorize implements ResponseTypeHandler. Implicit grants never include a
// refresh token.
func (t *TokenResponseType) Authorize(ctx context.Context, ar *AuthorizeRequest) (url.Values, error) {
	resp, err := t.tokens.IssueTokens(ctx, ar.Client.ID, ar.UserID, ar.Scope, "", false)
	if err != nil {
		return nil, err
	}
	return tokenFragment(resp), nil
}

func tokenFragment(resp *TokenResponse) url.Values {
	v := url.Values{
		"access_token": {resp.AccessToken},
		"token_type":   {resp.TokenType},
		"expires_in":   {strconv.Itoa(resp.ExpiresIn)},
	}
	if resp.Scope != "" {
		v.Set("scope", resp.Scope)
	}
	return v
}

// IDTokenResponseType delivers a bare id_token in the redirect fragment.
type IDTokenResponseType struct {
	idTokens *IDTokenService
}

// NewIDTokenResponseType creates the "id_token" response composer.
func NewIDTokenResponseType(idTokens *IDTokenService) *IDTokenResponseType {
	return &IDTokenResponseType{idTokens: idTokens}
}

func (t *IDTokenResponseType) Name() string      { return ResponseTypeIDToken }
func (t *IDTokenResponseType) UseFragment() bool { return true }

// Authorize implements ResponseTypeHandler.
func (t *IDTokenResponseType) Authorize(ctx context.Context, ar *AuthorizeRequest) (url.Values, error) {
	idToken, err := t.idTokens.IssueIDToken(ctx, ar.Client.ID, ar.UserID, ar.Nonce, "", ar.AuthTime)
	if err != nil {
		return nil, err
	}
	return url.Values{"id_token": {idToken}}, nil
}

// TokenIDTokenResponseType composes the access token first, then an
// id_token whose at_hash binds it to that token, merged into one fragment.
// It serves both the "token id_token" and "id_token token" spellings.
type TokenIDTokenResponseType struct {
	name     string
	tokens   *TokenService
	idTokens *IDTokenService
}

// NewTokenIDTokenResponseType creates a hybrid token+id_token composer
// registered under the given spelling.
func NewTokenIDTokenResponseType(name string, tokens *TokenService, idTokens *IDTokenService) *TokenIDTokenResponseType {
	return &TokenIDTokenResponseType{name: name, tokens: tokens, idTokens: idTokens}
}

func (t *TokenIDTokenResponseType) Name() string      { return t.name }
func (t *TokenIDTokenResponseType) UseFragment() bool { return true }

// Authorize implements ResponseTypeHandler.
func (t *TokenIDTokenResponseType) Authorize(ctx context.Context, ar *AuthorizeRequest) (url.Values, error) {
	resp, err := t.tokens.IssueTokens(ctx, ar.Client.ID, ar.UserID, ar.Scope, "", false)
	if err != nil {
		return nil, err
	}

	idToken, err := t.idTokens.IssueIDToken(ctx, ar.Client.ID, ar.UserID, ar.Nonce, resp.AccessToken, ar.AuthTime)
	if err != nil {
		return nil, err
	}

	v := tokenFragment(resp)
	v.Set("id_token", idToken)
	return v, nil
}

// CodeIDTokenResponseType composes the hybrid "code id_token" response: an
// authorization code plus an id_token, delivered together. The id_token is
// also bound to the stored code so the token endpoint can return it on
// redemption.
type CodeIDTokenResponseType struct {
	code     *CodeResponseType
	idTokens *IDTokenService
}

// NewCodeIDTokenResponseType creates the "code id_token" response composer.
func NewCodeIDTokenResponseType(code *CodeResponseType, idTokens *IDTokenService) *CodeIDTokenResponseType {
	return &CodeIDTokenResponseType{code: code, idTokens: idTokens}
}

func (t *CodeIDTokenResponseType) Name() string      { return ResponseTypeCodeIDToken }
func (t *CodeIDTokenResponseType) UseFragment() bool { return true }

// Authorize implements ResponseTypeHandler.
func (t *CodeIDTokenResponseType) Authorize(ctx context.Context, ar *AuthorizeRequest) (url.Values, error) {
	idToken, err := t.idTokens.IssueIDToken(ctx, ar.Client.ID, ar.UserID, ar.Nonce, "", ar.AuthTime)
	if err != nil {
		return nil, err
	}

	code, err := t.code.createAuthCode(ctx, ar, idToken)
	if err != nil {
		return nil, err
	}

	return url.Values{
		"code":     {code},
		"id_token": {idToken},
	}, nil
}
