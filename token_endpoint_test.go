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

type tokenFixture struct {
	store      *memory.Store
	cfg        *oauth2.Config
	controller *oauth2.TokenController
	codec      *oauth2.Codec
}

func newTokenFixture(t *testing.T) *tokenFixture {
	t.Helper()

	store := memory.New()
	store.AddScopes("openid", "profile", "email", "offline_access")

	require.NoError(t, store.CreateClient(context.Background(), &client.Client{
		ID:            "Test Client ID",
		Secret:        "TestSecret",
		Type:          client.Confidential,
		RedirectURIs:  []string{"http://adobe.com"},
		AllowedScopes: []string{"openid", "profile", "email", "offline_access"},
		IsActive:      true,
	}))

	cfg := oauth2.NewDefaultConfig("https://auth.example.com")

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	codec := oauth2.NewRSACodec(key)

	tokenSvc := oauth2.NewTokenService(store, nil, cfg, codec)
	controller := oauth2.NewTokenController(oauth2.NewClientAuthenticator(store, cfg), tokenSvc,
		oauth2.NewOpenIDAuthorizationCodeGrant(oauth2.NewAuthorizationCodeGrant(store)),
		oauth2.NewOpenIDRefreshTokenGrant(oauth2.NewRefreshTokenGrant(store, cfg), codec, cfg),
		oauth2.NewPasswordGrant(store),
		oauth2.NewClientCredentialsGrant(),
		oauth2.NewDeviceCodeGrant(store),
	)

	return &tokenFixture{store: store, cfg: cfg, controller: controller, codec: codec}
}

func tokenRequest(params map[string]string) *oauth2.Request {
	form := url.Values{
		"client_id":     {"Test Client ID"},
		"client_secret": {"TestSecret"},
	}
	for k, v := range params {
		form.Set(k, v)
	}
	return &oauth2.Request{
		Method:      "POST",
		ContentType: "application/x-www-form-urlencoded",
		Form:        form,
	}
}

func (fx *tokenFixture) seedAuthCode(t *testing.T, code string, mutate func(*oauth2.AuthCode)) {
	t.Helper()
	ac := &oauth2.AuthCode{
		Code:        code,
		ClientID:    "Test Client ID",
		UserID:      "user-1",
		RedirectURI: "http://adobe.com",
		Scope:       "openid profile",
		ExpiresAt:   time.Now().Add(10 * time.Minute),
		CreatedAt:   time.Now(),
	}
	if mutate != nil {
		mutate(ac)
	}
	require.NoError(t, fx.store.SaveAuthCode(context.Background(), ac))
}

func TestTokenRequestMustBePost(t *testing.T) {
	fx := newTokenFixture(t)

	req := tokenRequest(map[string]string{"grant_type": "client_credentials"})
	req.Method = "GET"
	_, oerr := fx.controller.HandleTokenRequest(context.Background(), req)
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidRequest, oerr.Code)
	assert.Equal(t, "The request method must be POST when requesting an access token", oerr.Description)
}

func TestTokenRequestMissingGrantType(t *testing.T) {
	fx := newTokenFixture(t)

	_, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(nil))
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidRequest, oerr.Code)
	assert.Equal(t, "The grant type was not specified in the request", oerr.Description)
}

func TestTokenRequestUnsupportedGrantType(t *testing.T) {
	fx := newTokenFixture(t)

	_, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type": "implicit",
	}))
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.UnsupportedGrantType, oerr.Code)
	assert.Equal(t, `Grant type "implicit" not supported`, oerr.Description)
}

func TestTokenRequestBadClientSecret(t *testing.T) {
	fx := newTokenFixture(t)

	_, oerr := fx.controller.HandleTokenRequest(context.Background(), &oauth2.Request{
		Method: "POST",
		Form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {"Test Client ID"},
			"client_secret": {"wrong"},
		},
	})
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidClient, oerr.Code)
}

func TestTokenRequestGrantTypeUnauthorizedForClient(t *testing.T) {
	fx := newTokenFixture(t)
	require.NoError(t, fx.store.CreateClient(context.Background(), &client.Client{
		ID:                "restricted",
		Secret:            "s",
		AllowedGrantTypes: []string{"authorization_code"},
		IsActive:          true,
	}))

	_, oerr := fx.controller.HandleTokenRequest(context.Background(), &oauth2.Request{
		Method: "POST",
		Form: url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {"restricted"},
			"client_secret": {"s"},
		},
	})
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.UnauthorizedClient, oerr.Code)
	assert.Equal(t, "The grant type is unauthorized for this client_id", oerr.Description)
}

func TestAuthorizationCodeGrantFlow(t *testing.T) {
	fx := newTokenFixture(t)
	fx.seedAuthCode(t, "testcode", nil)

	resp, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":   "authorization_code",
		"code":         "testcode",
		"redirect_uri": "http://adobe.com",
	}))
	require.Nil(t, oerr)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int(time.Hour.Seconds()), resp.ExpiresIn)
	assert.Equal(t, "openid profile", resp.Scope)
	// Without offline_access the OpenID handler withholds the refresh token.
	assert.Empty(t, resp.RefreshToken)

	// Redeeming the same code again must fail.
	_, oerr = fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":   "authorization_code",
		"code":         "testcode",
		"redirect_uri": "http://adobe.com",
	}))
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidGrant, oerr.Code)
	assert.Equal(t, "The authorization code has already been used", oerr.Description)
}

func TestAuthorizationCodeGrantOfflineAccess(t *testing.T) {
	fx := newTokenFixture(t)
	fx.seedAuthCode(t, "offline-code", func(ac *oauth2.AuthCode) {
		ac.Scope = "openid offline_access"
	})

	resp, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":   "authorization_code",
		"code":         "offline-code",
		"redirect_uri": "http://adobe.com",
	}))
	require.Nil(t, oerr)
	assert.NotEmpty(t, resp.RefreshToken)
}

func TestAuthorizationCodeGrantExpired(t *testing.T) {
	fx := newTokenFixture(t)
	fx.seedAuthCode(t, "old-code", func(ac *oauth2.AuthCode) {
		ac.ExpiresAt = time.Now().Add(-time.Minute)
	})

	_, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":   "authorization_code",
		"code":         "old-code",
		"redirect_uri": "http://adobe.com",
	}))
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidGrant, oerr.Code)
	assert.Equal(t, "The authorization code has expired", oerr.Description)
}

func TestAuthorizationCodeGrantWrongClient(t *testing.T) {
	fx := newTokenFixture(t)
	require.NoError(t, fx.store.CreateClient(context.Background(), &client.Client{
		ID:       "other-client",
		Secret:   "s2",
		IsActive: true,
	}))
	fx.seedAuthCode(t, "someone-elses-code", nil)

	_, oerr := fx.controller.HandleTokenRequest(context.Background(), &oauth2.Request{
		Method: "POST",
		Form: url.Values{
			"grant_type":    {"authorization_code"},
			"code":          {"someone-elses-code"},
			"redirect_uri":  {"http://adobe.com"},
			"client_id":     {"other-client"},
			"client_secret": {"s2"},
		},
	})
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidGrant, oerr.Code)
	assert.Equal(t, "Authorization code doesn't exist or is invalid for the client", oerr.Description)
}

func TestAuthorizationCodeGrantRedirectURIMustMatch(t *testing.T) {
	fx := newTokenFixture(t)
	fx.seedAuthCode(t, "bound-code", nil)

	_, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":   "authorization_code",
		"code":         "bound-code",
		"redirect_uri": "http://other.example.com",
	}))
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidRequest, oerr.Code)
	assert.Equal(t, "The redirect URI is missing or do not match", oerr.Description)
}

func TestAuthorizationCodeGrantPKCE(t *testing.T) {
	fx := newTokenFixture(t)

	verifier := strings.Repeat("v", 48)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	fx.seedAuthCode(t, "pkce-code", func(ac *oauth2.AuthCode) {
		ac.CodeChallenge = challenge
		ac.CodeChallengeMethod = "S256"
	})

	// Missing verifier.
	_, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":   "authorization_code",
		"code":         "pkce-code",
		"redirect_uri": "http://adobe.com",
	}))
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidRequest, oerr.Code)
	assert.Equal(t, `Missing parameter: "code_verifier" is required`, oerr.Description)

	// Wrong verifier.
	_, oerr = fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":    "authorization_code",
		"code":          "pkce-code",
		"redirect_uri":  "http://adobe.com",
		"code_verifier": strings.Repeat("x", 48),
	}))
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidGrant, oerr.Code)
	assert.Equal(t, "The code verifier is invalid", oerr.Description)

	// Correct verifier.
	resp, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":    "authorization_code",
		"code":          "pkce-code",
		"redirect_uri":  "http://adobe.com",
		"code_verifier": verifier,
	}))
	require.Nil(t, oerr)
	assert.NotEmpty(t, resp.AccessToken)
}

func TestAuthorizationCodeGrantCarriesIDToken(t *testing.T) {
	fx := newTokenFixture(t)

	idToken, err := fx.codec.Encode(oauth2.Claims{
		Issuer:    "https://auth.example.com",
		Subject:   "user-1",
		Audience:  "Test Client ID",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	require.NoError(t, err)

	fx.seedAuthCode(t, "oidc-code", func(ac *oauth2.AuthCode) {
		ac.IDToken = idToken
	})

	resp, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":   "authorization_code",
		"code":         "oidc-code",
		"redirect_uri": "http://adobe.com",
	}))
	require.Nil(t, oerr)
	assert.Equal(t, idToken, resp.IDToken)
}

func TestClientCredentialsGrant(t *testing.T) {
	fx := newTokenFixture(t)

	resp, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type": "client_credentials",
		"scope":      "profile",
	}))
	require.Nil(t, oerr)
	assert.NotEmpty(t, resp.AccessToken)
	// Client credentials grants never include a refresh token.
	assert.Empty(t, resp.RefreshToken)
}

func TestClientCredentialsGrantRejectsPublicClients(t *testing.T) {
	fx := newTokenFixture(t)
	require.NoError(t, fx.store.CreateClient(context.Background(), &client.Client{
		ID:       "spa",
		Type:     client.Public,
		IsActive: true,
	}))

	_, oerr := fx.controller.HandleTokenRequest(context.Background(), &oauth2.Request{
		Method: "POST",
		Form: url.Values{
			"grant_type": {"client_credentials"},
			"client_id":  {"spa"},
		},
	})
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.UnauthorizedClient, oerr.Code)
}

func TestPasswordGrant(t *testing.T) {
	fx := newTokenFixture(t)
	userID, err := fx.store.AddUser("alice", "secret-password")
	require.NoError(t, err)

	resp, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type": "password",
		"username":   "alice",
		"password":   "secret-password",
		"scope":      "profile",
	}))
	require.Nil(t, oerr)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	stored, err := fx.store.GetAccessToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, userID, stored.UserID)
}

func TestPasswordGrantWrongPassword(t *testing.T) {
	fx := newTokenFixture(t)
	_, err := fx.store.AddUser("alice", "secret-password")
	require.NoError(t, err)

	_, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type": "password",
		"username":   "alice",
		"password":   "wrong",
	}))
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidGrant, oerr.Code)
	assert.Equal(t, "Invalid username and password combination", oerr.Description)
}

func TestTokenRequestScopeOutsideClientAllowance(t *testing.T) {
	fx := newTokenFixture(t)
	_, err := fx.store.AddUser("alice", "secret-password")
	require.NoError(t, err)

	_, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type": "password",
		"username":   "alice",
		"password":   "secret-password",
		"scope":      "admin",
	}))
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidScope, oerr.Code)
	assert.Equal(t, "An unsupported scope was requested.", oerr.Description)
}

func TestRefreshTokenGrant(t *testing.T) {
	fx := newTokenFixture(t)
	fx.cfg.AlwaysIssueNewRefreshToken = true

	// Obtain the initial pair through the password grant.
	_, err := fx.store.AddUser("alice", "secret-password")
	require.NoError(t, err)
	first, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type": "password",
		"username":   "alice",
		"password":   "secret-password",
		"scope":      "openid profile",
	}))
	require.Nil(t, oerr)
	require.NotEmpty(t, first.RefreshToken)

	second, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": first.RefreshToken,
	}))
	require.Nil(t, oerr)
	assert.NotEmpty(t, second.AccessToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	require.NotEmpty(t, second.RefreshToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// Rotation consumed the old refresh token.
	_, oerr = fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": first.RefreshToken,
	}))
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidGrant, oerr.Code)
	assert.Equal(t, "Invalid refresh token", oerr.Description)
}

func TestRefreshTokenGrantWithoutOpenIDScope(t *testing.T) {
	fx := newTokenFixture(t)

	_, err := fx.store.AddUser("alice", "secret-password")
	require.NoError(t, err)
	first, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type": "password",
		"username":   "alice",
		"password":   "secret-password",
		"scope":      "profile",
	}))
	require.Nil(t, oerr)
	require.NotEmpty(t, first.RefreshToken)

	// A refresh token from a plain OAuth2 grant is honored without the
	// openid scope and never carries an id_token.
	second, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": first.RefreshToken,
	}))
	require.Nil(t, oerr)
	assert.NotEmpty(t, second.AccessToken)
	assert.Equal(t, "profile", second.Scope)
	assert.Empty(t, second.IDToken)
}

func TestRefreshTokenGrantNarrowsScope(t *testing.T) {
	fx := newTokenFixture(t)

	_, err := fx.store.AddUser("alice", "secret-password")
	require.NoError(t, err)
	first, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type": "password",
		"username":   "alice",
		"password":   "secret-password",
		"scope":      "openid profile email",
	}))
	require.Nil(t, oerr)

	second, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": first.RefreshToken,
		"scope":         "openid profile",
	}))
	require.Nil(t, oerr)
	assert.Equal(t, "openid profile", second.Scope)

	// Widening beyond the original grant is rejected.
	_, oerr = fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": first.RefreshToken,
		"scope":         "openid profile email offline_access",
	}))
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidScope, oerr.Code)
	assert.Equal(t, "The scope requested is invalid for this request", oerr.Description)
}

func TestDeviceCodeGrantLifecycle(t *testing.T) {
	fx := newTokenFixture(t)
	fx.cfg.DeviceCodeInterval = 0 // let the test poll immediately

	deviceSvc := oauth2.NewDeviceService(fx.store, fx.cfg)
	cli, err := fx.store.GetClient(context.Background(), "Test Client ID")
	require.NoError(t, err)

	auth, err := deviceSvc.Authorize(context.Background(), cli, "openid profile")
	require.NoError(t, err)
	require.NotEmpty(t, auth.DeviceCode)
	require.NotEmpty(t, auth.UserCode)

	poll := func() (*oauth2.TokenResponse, *serrors.OAuth2Error) {
		return fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
			"grant_type":  oauth2.GrantTypeDeviceCode,
			"device_code": auth.DeviceCode,
		}))
	}

	// Still pending: the device keeps polling.
	_, oerr := poll()
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.AuthorizationPending, oerr.Code)

	// The user approves on the secondary device.
	require.NoError(t, deviceSvc.Approve(context.Background(), auth.UserCode, "user-1"))

	resp, oerr := poll()
	require.Nil(t, oerr)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)

	stored, err := fx.store.GetAccessToken(context.Background(), resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)
	assert.Equal(t, "openid profile", stored.Scope)

	// The redeemed device code cannot issue tokens twice.
	_, oerr = poll()
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.InvalidGrant, oerr.Code)
	assert.Equal(t, "The device code has already been redeemed", oerr.Description)
}

func TestDeviceCodeGrantDenied(t *testing.T) {
	fx := newTokenFixture(t)
	fx.cfg.DeviceCodeInterval = 0

	deviceSvc := oauth2.NewDeviceService(fx.store, fx.cfg)
	cli, err := fx.store.GetClient(context.Background(), "Test Client ID")
	require.NoError(t, err)

	auth, err := deviceSvc.Authorize(context.Background(), cli, "openid")
	require.NoError(t, err)
	require.NoError(t, deviceSvc.Deny(context.Background(), auth.UserCode))

	_, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
		"grant_type":  oauth2.GrantTypeDeviceCode,
		"device_code": auth.DeviceCode,
	}))
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.AccessDenied, oerr.Code)
	assert.Equal(t, "The user denied the authorization request", oerr.Description)
}

func TestDeviceCodeGrantSlowDown(t *testing.T) {
	fx := newTokenFixture(t)
	fx.cfg.DeviceCodeInterval = 5

	deviceSvc := oauth2.NewDeviceService(fx.store, fx.cfg)
	cli, err := fx.store.GetClient(context.Background(), "Test Client ID")
	require.NoError(t, err)

	auth, err := deviceSvc.Authorize(context.Background(), cli, "openid")
	require.NoError(t, err)

	poll := func() *serrors.OAuth2Error {
		_, oerr := fx.controller.HandleTokenRequest(context.Background(), tokenRequest(map[string]string{
			"grant_type":  oauth2.GrantTypeDeviceCode,
			"device_code": auth.DeviceCode,
		}))
		return oerr
	}

	oerr := poll()
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.AuthorizationPending, oerr.Code)

	// Polling again inside the advertised interval is pushed back.
	oerr = poll()
	require.NotNil(t, oerr)
	assert.Equal(t, serrors.SlowDown, oerr.Code)
}
