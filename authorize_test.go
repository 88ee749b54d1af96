package oauth2_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauth2"
	"go.pilab.hu/oauth2/client"
	serrors "go.pilab.hu/oauth2/errors"
	"go.pilab.hu/oauth2/memory"
)

type authorizeFixture struct {
	store      *memory.Store
	cfg        *oauth2.Config
	controller *oauth2.AuthorizeController
	codec      *oauth2.Codec
}

func newAuthorizeFixture(t *testing.T) *authorizeFixture {
	t.Helper()

	store := memory.New()
	store.AddScopes("openid", "profile", "email", "offline_access")

	require.NoError(t, store.CreateClient(context.Background(), &client.Client{
		ID:             "Test Client ID",
		Secret:         "TestSecret",
		Type:           client.Confidential,
		RedirectURIs:   []string{"http://adobe.com"},
		AllowedScopes:  []string{"openid", "profile", "email", "offline_access"},
		RequireConsent: true,
		IsActive:       true,
	}))

	cfg := oauth2.NewDefaultConfig("https://auth.example.com")
	cfg.AllowImplicit = true

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	codec := oauth2.NewRSACodec(key)

	tokenSvc := oauth2.NewTokenService(store, nil, cfg, codec)
	idTokenSvc := oauth2.NewIDTokenService(codec, cfg)
	codeRT := oauth2.NewCodeResponseType(store, cfg)

	controller := oauth2.NewAuthorizeController(store, oauth2.NewScopeValidator(store), cfg,
		codeRT,
		oauth2.NewTokenResponseType(tokenSvc),
		oauth2.NewIDTokenResponseType(idTokenSvc),
		oauth2.NewTokenIDTokenResponseType(oauth2.ResponseTypeTokenIDToken, tokenSvc, idTokenSvc),
		oauth2.NewTokenIDTokenResponseType(oauth2.ResponseTypeIDTokenToken, tokenSvc, idTokenSvc),
		oauth2.NewCodeIDTokenResponseType(codeRT, idTokenSvc),
	)

	return &authorizeFixture{store: store, cfg: cfg, controller: controller, codec: codec}
}

func authorizeRequest(params map[string]string) *oauth2.Request {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return &oauth2.Request{Method: "GET", Query: q}
}

func grantedSession() *oauth2.UserSession {
	return &oauth2.UserSession{Authorized: true, UserID: "user-1", AuthTime: time.Now()}
}

func TestAuthorizeMissingClientID(t *testing.T) {
	fx := newAuthorizeFixture(t)

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(nil), grantedSession())
	require.NotNil(t, authErr)
	assert.False(t, authErr.Redirectable())
	assert.Equal(t, serrors.InvalidClient, authErr.Err.Code)
	assert.Equal(t, "No client id supplied", authErr.Err.Description)
}

func TestAuthorizeUnknownClient(t *testing.T) {
	fx := newAuthorizeFixture(t)

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id": "nobody",
	}), grantedSession())
	require.NotNil(t, authErr)
	assert.False(t, authErr.Redirectable())
	assert.Equal(t, "The client id supplied is invalid", authErr.Err.Description)
}

func TestAuthorizeRedirectURIMismatch(t *testing.T) {
	fx := newAuthorizeFixture(t)

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"redirect_uri":  "http://evil.example.com",
		"response_type": "code",
	}), grantedSession())
	require.NotNil(t, authErr)
	assert.False(t, authErr.Redirectable())
	assert.Equal(t, serrors.RedirectURIMismatch, authErr.Err.Code)
	assert.Equal(t, "The redirect URI provided is missing or does not match", authErr.Err.Description)
}

func TestAuthorizeRedirectURIWithFragment(t *testing.T) {
	fx := newAuthorizeFixture(t)

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":    "Test Client ID",
		"redirect_uri": "http://adobe.com#frag",
	}), grantedSession())
	require.NotNil(t, authErr)
	assert.False(t, authErr.Redirectable())
	assert.Equal(t, serrors.InvalidURI, authErr.Err.Code)
}

func TestAuthorizeNoStoredRedirectURI(t *testing.T) {
	fx := newAuthorizeFixture(t)
	require.NoError(t, fx.store.CreateClient(context.Background(), &client.Client{
		ID:     "no-redirect",
		Secret: "s",
	}))

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id": "no-redirect",
	}), grantedSession())
	require.NotNil(t, authErr)
	assert.Equal(t, serrors.InvalidURI, authErr.Err.Code)
	assert.Equal(t, "No redirect URI was supplied or stored", authErr.Err.Description)
}

func TestAuthorizeInvalidResponseType(t *testing.T) {
	fx := newAuthorizeFixture(t)

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"redirect_uri":  "http://adobe.com",
		"response_type": "invalid",
		"state":         "xyz",
	}), grantedSession())
	require.NotNil(t, authErr)
	require.True(t, authErr.Redirectable())
	assert.Equal(t, serrors.InvalidRequest, authErr.Err.Code)
	assert.Equal(t, "Invalid or missing response type", authErr.Err.Description)

	// The error travels back on the redirect URI, state included.
	loc, err := url.Parse(authErr.Location())
	require.NoError(t, err)
	assert.Equal(t, "adobe.com", loc.Host)
	assert.Equal(t, "invalid_request", loc.Query().Get("error"))
	assert.Equal(t, "Invalid or missing response type", loc.Query().Get("error_description"))
	assert.Equal(t, "xyz", loc.Query().Get("state"))
}

func TestAuthorizeImplicitDisabled(t *testing.T) {
	fx := newAuthorizeFixture(t)
	fx.cfg.AllowImplicit = false

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"response_type": "token",
	}), grantedSession())
	require.NotNil(t, authErr)
	require.True(t, authErr.Redirectable())
	assert.Equal(t, serrors.UnsupportedResponseType, authErr.Err.Code)
	assert.Equal(t, "implicit grant type not supported", authErr.Err.Description)
}

func TestAuthorizeEnforceState(t *testing.T) {
	fx := newAuthorizeFixture(t)
	fx.cfg.EnforceState = true

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"response_type": "code",
	}), grantedSession())
	require.NotNil(t, authErr)
	assert.Equal(t, serrors.InvalidRequest, authErr.Err.Code)
	assert.Equal(t, "The state parameter is required", authErr.Err.Description)
}

func TestAuthorizeUnsupportedScope(t *testing.T) {
	fx := newAuthorizeFixture(t)

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"response_type": "code",
		"scope":         "openid admin",
	}), grantedSession())
	require.NotNil(t, authErr)
	require.True(t, authErr.Redirectable())
	assert.Equal(t, serrors.InvalidScope, authErr.Err.Code)
	assert.Equal(t, "An unsupported scope was requested", authErr.Err.Description)
}

func TestAuthorizeClientWithoutScopeRestrictions(t *testing.T) {
	fx := newAuthorizeFixture(t)
	require.NoError(t, fx.store.CreateClient(context.Background(), &client.Client{
		ID:             "unrestricted",
		Secret:         "s",
		RedirectURIs:   []string{"http://adobe.com"},
		RequireConsent: true,
		IsActive:       true,
	}))

	// A client registered without a scope allowance accepts any supported
	// scope, as at the token endpoint.
	result, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "unrestricted",
		"response_type": "code",
		"scope":         "profile",
	}), grantedSession())
	require.Nil(t, authErr)

	stored, err := fx.store.GetAuthCode(context.Background(), result.Values.Get("code"))
	require.NoError(t, err)
	assert.Equal(t, "profile", stored.Scope)
}

func TestAuthorizeConsentSkippedWhenNotRequired(t *testing.T) {
	fx := newAuthorizeFixture(t)
	require.NoError(t, fx.store.CreateClient(context.Background(), &client.Client{
		ID:            "first-party",
		Secret:        "s",
		RedirectURIs:  []string{"http://adobe.com"},
		AllowedScopes: []string{"openid", "profile"},
		IsActive:      true,
	}))

	// An authenticated user on a client without the consent requirement
	// proceeds without an explicit grant.
	result, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "first-party",
		"response_type": "code",
		"scope":         "profile",
	}), &oauth2.UserSession{UserID: "user-1", AuthTime: time.Now()})
	require.Nil(t, authErr)
	require.NotEmpty(t, result.Values.Get("code"))
}

func TestAuthorizeAccessDenied(t *testing.T) {
	fx := newAuthorizeFixture(t)

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"response_type": "code",
	}), &oauth2.UserSession{Authorized: false, UserID: "user-1"})
	require.NotNil(t, authErr)
	require.True(t, authErr.Redirectable())
	assert.Equal(t, serrors.AccessDenied, authErr.Err.Code)
	assert.Equal(t, "The user denied access to your application", authErr.Err.Description)
}

func TestAuthorizePromptNone(t *testing.T) {
	fx := newAuthorizeFixture(t)

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"response_type": "code",
		"prompt":        "none",
	}), &oauth2.UserSession{})
	require.NotNil(t, authErr)
	assert.Equal(t, serrors.LoginRequired, authErr.Err.Code)

	_, authErr = fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"response_type": "code",
		"prompt":        "none",
	}), &oauth2.UserSession{UserID: "user-1"})
	require.NotNil(t, authErr)
	assert.Equal(t, serrors.ConsentRequired, authErr.Err.Code)
}

func TestAuthorizeCodeFlow(t *testing.T) {
	fx := newAuthorizeFixture(t)

	result, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"redirect_uri":  "http://adobe.com",
		"response_type": "code",
		"scope":         "openid profile",
		"state":         "xyz",
	}), grantedSession())
	require.Nil(t, authErr)
	require.NotNil(t, result)
	assert.False(t, result.UseFragment)

	code := result.Values.Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, "xyz", result.Values.Get("state"))

	loc, err := url.Parse(result.Location())
	require.NoError(t, err)
	assert.Equal(t, code, loc.Query().Get("code"))

	stored, err := fx.store.GetAuthCode(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, "Test Client ID", stored.ClientID)
	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, "openid profile", stored.Scope)
	assert.Equal(t, "http://adobe.com", stored.RedirectURI)
	assert.False(t, stored.Used)
}

func TestAuthorizeImplicitFlow(t *testing.T) {
	fx := newAuthorizeFixture(t)

	result, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"response_type": "token",
		"scope":         "profile",
		"state":         "s1",
	}), grantedSession())
	require.Nil(t, authErr)
	require.NotNil(t, result)
	assert.True(t, result.UseFragment)
	assert.NotEmpty(t, result.Values.Get("access_token"))
	assert.Equal(t, "Bearer", result.Values.Get("token_type"))
	assert.Empty(t, result.Values.Get("refresh_token"))

	// Fragment delivery: everything after the hash, nothing in the query.
	location := result.Location()
	require.Contains(t, location, "#")
	frag, err := url.ParseQuery(location[strings.Index(location, "#")+1:])
	require.NoError(t, err)
	assert.Equal(t, result.Values.Get("access_token"), frag.Get("access_token"))
	assert.Equal(t, "s1", frag.Get("state"))
}

func TestAuthorizeIDTokenRequiresNonce(t *testing.T) {
	fx := newAuthorizeFixture(t)

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"response_type": "id_token",
		"scope":         "openid",
	}), grantedSession())
	require.NotNil(t, authErr)
	assert.False(t, authErr.Redirectable())
	assert.Equal(t, serrors.InvalidNonce, authErr.Err.Code)
	assert.Equal(t, "Nonce parameter is required", authErr.Err.Description)
}

func TestAuthorizeIDTokenFlow(t *testing.T) {
	fx := newAuthorizeFixture(t)

	result, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"response_type": "id_token",
		"scope":         "openid",
		"nonce":         "n-0S6_WzA2Mj",
	}), grantedSession())
	require.Nil(t, authErr)
	assert.True(t, result.UseFragment)

	idToken := result.Values.Get("id_token")
	require.NotEmpty(t, idToken)

	claims, err := fx.codec.Decode(idToken)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", claims.Issuer)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "Test Client ID", claims.Audience)
	assert.Equal(t, "n-0S6_WzA2Mj", claims.Nonce)
	assert.NotZero(t, claims.AuthTime)
}

func TestAuthorizeHybridTokenIDToken(t *testing.T) {
	fx := newAuthorizeFixture(t)

	result, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"response_type": "token id_token",
		"scope":         "openid",
		"nonce":         "n1",
	}), grantedSession())
	require.Nil(t, authErr)
	assert.True(t, result.UseFragment)

	accessToken := result.Values.Get("access_token")
	idToken := result.Values.Get("id_token")
	require.NotEmpty(t, accessToken)
	require.NotEmpty(t, idToken)

	// The id_token binds the access token it was delivered with.
	claims, err := fx.codec.Decode(idToken)
	require.NoError(t, err)
	wantAtHash, err := oauth2.ComputeAtHash(fx.codec.Algorithm(), accessToken)
	require.NoError(t, err)
	assert.Equal(t, wantAtHash, claims.AtHash)
}

func TestAuthorizeHybridCodeIDToken(t *testing.T) {
	fx := newAuthorizeFixture(t)

	result, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"response_type": "code id_token",
		"scope":         "openid",
		"nonce":         "n1",
	}), grantedSession())
	require.Nil(t, authErr)
	assert.True(t, result.UseFragment)

	code := result.Values.Get("code")
	idToken := result.Values.Get("id_token")
	require.NotEmpty(t, code)
	require.NotEmpty(t, idToken)

	// The id_token is also bound into the stored code for the token endpoint.
	stored, err := fx.store.GetAuthCode(context.Background(), code)
	require.NoError(t, err)
	assert.Equal(t, idToken, stored.IDToken)
	assert.Equal(t, "n1", stored.Nonce)
}

func TestAuthorizePKCEEnforcedForPublicClients(t *testing.T) {
	fx := newAuthorizeFixture(t)
	require.NoError(t, fx.store.CreateClient(context.Background(), &client.Client{
		ID:            "spa",
		Type:          client.Public,
		RedirectURIs:  []string{"http://localhost:3000/cb"},
		AllowedScopes: []string{"openid"},
	}))

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "spa",
		"response_type": "code",
		"scope":         "openid",
	}), grantedSession())
	require.NotNil(t, authErr)
	assert.False(t, authErr.Redirectable())
	assert.Equal(t, serrors.MissingCodeChallenge, authErr.Err.Code)
}

func TestAuthorizePKCEChallengeGrammar(t *testing.T) {
	fx := newAuthorizeFixture(t)

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":             "Test Client ID",
		"response_type":         "code",
		"scope":                 "openid",
		"code_challenge":        "too-short",
		"code_challenge_method": "S256",
	}), grantedSession())
	require.NotNil(t, authErr)
	assert.Equal(t, serrors.InvalidCodeChallenge, authErr.Err.Code)
}

func TestAuthorizePKCEUnknownMethod(t *testing.T) {
	fx := newAuthorizeFixture(t)

	verifier := strings.Repeat("a", 43)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	_, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":             "Test Client ID",
		"response_type":         "code",
		"scope":                 "openid",
		"code_challenge":        challenge,
		"code_challenge_method": "S512",
	}), grantedSession())
	require.NotNil(t, authErr)
	assert.Equal(t, serrors.InvalidRequest, authErr.Err.Code)
	assert.Equal(t, "The PKCE code challenge method must be plain or S256", authErr.Err.Description)
}

func TestAuthorizePKCEStoredWithCode(t *testing.T) {
	fx := newAuthorizeFixture(t)

	verifier := strings.Repeat("b", 50)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	result, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":             "Test Client ID",
		"response_type":         "code",
		"scope":                 "openid",
		"code_challenge":        challenge,
		"code_challenge_method": "S256",
	}), grantedSession())
	require.Nil(t, authErr)

	stored, err := fx.store.GetAuthCode(context.Background(), result.Values.Get("code"))
	require.NoError(t, err)
	assert.Equal(t, challenge, stored.CodeChallenge)
	assert.Equal(t, "S256", stored.CodeChallengeMethod)
}

func TestAuthorizeDefaultScopeFallback(t *testing.T) {
	fx := newAuthorizeFixture(t)
	fx.store.SetDefaultScope("", "openid profile")

	result, authErr := fx.controller.Authorize(context.Background(), authorizeRequest(map[string]string{
		"client_id":     "Test Client ID",
		"response_type": "code",
	}), grantedSession())
	require.Nil(t, authErr)

	stored, err := fx.store.GetAuthCode(context.Background(), result.Values.Get("code"))
	require.NoError(t, err)
	assert.Equal(t, "openid profile", stored.Scope)
}
