// Package echo exposes the authorization server engine over HTTP using the
// Echo framework.
package echo

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/oauth2"
	"go.pilab.hu/oauth2/api"
	serrors "go.pilab.hu/oauth2/errors"
)

// SessionFunc tells the authorize endpoint what the host application knows
// about the resource owner behind the request. The default denies every
// request; a real deployment wires its login/consent flow in here.
type SessionFunc func(c echo.Context) *oauth2.UserSession

// OAuth2API holds the controllers behind the HTTP endpoints.
type OAuth2API struct {
	authorize  *oauth2.AuthorizeController
	tokens     *oauth2.TokenController
	resource   *oauth2.ResourceController
	introspect *oauth2.IntrospectionController
	device     *oauth2.DeviceService
	tokenSvc   *oauth2.TokenService
	jwks       *oauth2.JWKSService
	clientAuth *oauth2.ClientAuthenticator
	storage    *oauth2.Storage
	cfg        *oauth2.Config
	session    SessionFunc
}

// NewOAuth2API initializes the OAuth2 API surface.
func NewOAuth2API(
	authorize *oauth2.AuthorizeController,
	tokens *oauth2.TokenController,
	resource *oauth2.ResourceController,
	introspect *oauth2.IntrospectionController,
	device *oauth2.DeviceService,
	tokenSvc *oauth2.TokenService,
	jwks *oauth2.JWKSService,
	clientAuth *oauth2.ClientAuthenticator,
	storage *oauth2.Storage,
	cfg *oauth2.Config,
) *OAuth2API {
	return &OAuth2API{
		authorize:  authorize,
		tokens:     tokens,
		resource:   resource,
		introspect: introspect,
		device:     device,
		tokenSvc:   tokenSvc,
		jwks:       jwks,
		clientAuth: clientAuth,
		storage:    storage,
		cfg:        cfg,
		session: func(echo.Context) *oauth2.UserSession {
			return &oauth2.UserSession{}
		},
	}
}

// SetSessionFunc installs the host application's login/consent bridge.
func (oa *OAuth2API) SetSessionFunc(fn SessionFunc) {
	oa.session = fn
}

// RegisterRoutes registers the OAuth2 routes.
func (oa *OAuth2API) RegisterRoutes(e *echo.Echo) {
	e.GET("/oauth2/authorize", oa.AuthorizeHandler)
	e.POST("/oauth2/authorize", oa.AuthorizeHandler)
	e.POST("/oauth2/token", oa.TokenHandler)
	e.POST("/oauth2/device_authorization", oa.DeviceAuthorizationHandler)
	e.POST("/oauth2/device/verify", oa.DeviceVerifyHandler)
	e.POST("/oauth2/introspect", oa.IntrospectHandler)
	e.POST("/oauth2/revoke", oa.RevokeHandler)
	e.GET("/oauth2/userinfo", oa.UserInfoHandler)
	e.POST("/oauth2/userinfo", oa.UserInfoHandler)

	// OpenID discovery endpoints
	e.GET("/.well-known/openid-configuration", oa.OpenIDConfigurationHandler)
	e.GET("/.well-known/jwks.json", oa.JWKSHandler)
}

// engineRequest converts the inbound Echo request into the engine's view.
func engineRequest(c echo.Context) *oauth2.Request {
	r := c.Request()
	_ = r.ParseForm()
	return oauth2.NewRequest(r)
}

// statusForError maps a protocol error code onto the HTTP status of a direct
// (non-redirect) response.
func statusForError(oerr *serrors.OAuth2Error) int {
	switch oerr.Code {
	case serrors.ServerError, serrors.TemporarilyUnavailable:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

// writeError sends a protocol error as a JSON body. Token responses and
// errors are uncacheable per RFC 6749.
func writeError(c echo.Context, oerr *serrors.OAuth2Error) error {
	noStore(c)
	return c.JSON(statusForError(oerr), oerr)
}

// writeResourceError answers a failed resource request with the RFC 6750
// WWW-Authenticate challenge.
func writeResourceError(c echo.Context, realm string, oerr *serrors.OAuth2Error) error {
	noStore(c)
	c.Response().Header().Set(echo.HeaderWWWAuthenticate,
		fmt.Sprintf("Bearer realm=%q, error=%q, error_description=%q", realm, oerr.Code, oerr.Description))
	return c.JSON(http.StatusUnauthorized, oerr)
}

func noStore(c echo.Context) {
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	c.Response().Header().Set("Pragma", "no-cache")
}

// AuthorizeHandler handles OAuth 2.0 authorization requests: validation,
// consent lookup via the session bridge, and the final redirect carrying the
// composed artifact.
func (oa *OAuth2API) AuthorizeHandler(c echo.Context) error {
	req := engineRequest(c)

	result, authErr := oa.authorize.Authorize(c.Request().Context(), req, oa.session(c))
	if authErr != nil {
		if authErr.Redirectable() {
			return c.Redirect(http.StatusFound, authErr.Location())
		}
		return writeError(c, authErr.Err)
	}

	return c.Redirect(http.StatusFound, result.Location())
}

// TokenHandler handles OAuth2 token requests for every registered grant
// type.
func (oa *OAuth2API) TokenHandler(c echo.Context) error {
	req := engineRequest(c)

	resp, oerr := oa.tokens.HandleTokenRequest(c.Request().Context(), req)
	if oerr != nil {
		return writeError(c, oerr)
	}

	log.Info().
		Str("grant_type", req.FormValue("grant_type")).
		Int("expires_in", resp.ExpiresIn).
		Str("token_type", resp.TokenType).
		Msg("token issued")

	noStore(c)
	return c.JSON(http.StatusOK, resp)
}

// DeviceAuthorizationHandler implements the RFC 8628 device authorization
// endpoint.
func (oa *OAuth2API) DeviceAuthorizationHandler(c echo.Context) error {
	req := engineRequest(c)
	ctx := c.Request().Context()

	cli, oerr := oa.clientAuth.ValidateRequest(ctx, req)
	if oerr != nil {
		return writeError(c, oerr)
	}

	resp, err := oa.device.Authorize(ctx, cli, req.FormValue("scope"))
	if err != nil {
		log.Error().Err(err).Str("client_id", cli.ID).Msg("device authorization failed")
		return writeError(c, serrors.NewServerError("Failed to create device authorization"))
	}

	noStore(c)
	return c.JSON(http.StatusOK, resp)
}

// DeviceVerifyHandler is the user-facing side of the device flow: the host
// application posts the user code together with the outcome of its login and
// consent step.
func (oa *OAuth2API) DeviceVerifyHandler(c echo.Context) error {
	userCode := c.FormValue("user_code")
	if userCode == "" {
		return writeError(c, serrors.NewInvalidRequest(`Missing parameter: "user_code" is required`))
	}

	ctx := c.Request().Context()

	if c.FormValue("action") == "deny" {
		if err := oa.device.Deny(ctx, userCode); err != nil {
			return writeError(c, serrors.NewInvalidRequest("The user code is invalid or expired"))
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "denied"})
	}

	userID := c.FormValue("user_id")
	if userID == "" {
		return writeError(c, serrors.NewInvalidRequest(`Missing parameter: "user_id" is required`))
	}

	if err := oa.device.Approve(ctx, userCode, userID); err != nil {
		return writeError(c, serrors.NewInvalidRequest("The user code is invalid or expired"))
	}
	return c.JSON(http.StatusOK, echo.Map{"status": "approved"})
}

// IntrospectHandler implements RFC 7662 token introspection. The caller must
// authenticate as a client before any token metadata is released.
func (oa *OAuth2API) IntrospectHandler(c echo.Context) error {
	req := engineRequest(c)
	ctx := c.Request().Context()

	if _, oerr := oa.clientAuth.ValidateRequest(ctx, req); oerr != nil {
		noStore(c)
		return c.JSON(http.StatusUnauthorized, oerr)
	}

	resp, oerr := oa.introspect.HandleIntrospectRequest(ctx, req)
	if oerr != nil {
		return writeError(c, oerr)
	}

	noStore(c)
	return c.JSON(http.StatusOK, resp)
}

// RevokeHandler handles token revocation requests according to RFC 7009.
// Per section 2.2 the endpoint reports success even when the token was
// already invalid.
func (oa *OAuth2API) RevokeHandler(c echo.Context) error {
	req := engineRequest(c)
	ctx := c.Request().Context()

	if _, oerr := oa.clientAuth.ValidateRequest(ctx, req); oerr != nil {
		noStore(c)
		return c.JSON(http.StatusUnauthorized, oerr)
	}

	token := req.FormValue("token")
	if token == "" {
		return writeError(c, serrors.NewInvalidRequest(`Missing parameter: "token" is required`))
	}

	if err := oa.tokenSvc.RevokeToken(ctx, token); err != nil {
		log.Debug().Err(err).Msg("revocation target not found")
	}

	return c.JSON(http.StatusOK, echo.Map{})
}

// UserInfoHandler serves OpenID Connect userinfo. The bearer token must
// carry the openid scope; claims released follow the token's scope.
func (oa *OAuth2API) UserInfoHandler(c echo.Context) error {
	req := engineRequest(c)
	ctx := c.Request().Context()

	token, oerr := oa.resource.VerifyResourceRequest(ctx, req, "openid")
	if oerr != nil {
		return writeResourceError(c, oa.cfg.Issuer, oerr)
	}

	claims, err := oa.storage.UserClaims.GetUserClaims(ctx, token.UserID, token.Scope)
	if err != nil {
		log.Error().Err(err).Str("user_id", token.UserID).Msg("failed to load user claims")
		return writeError(c, serrors.NewServerError("Failed to load user claims"))
	}

	return c.JSON(http.StatusOK, claims)
}

// OpenIDConfigurationHandler serves the discovery document.
func (oa *OAuth2API) OpenIDConfigurationHandler(c echo.Context) error {
	issuer := oa.cfg.Issuer

	scopes, err := oa.storage.Scopes.GetSupportedScopes(c.Request().Context())
	if err != nil || len(scopes) == 0 {
		scopes = []string{"openid", "profile", "email", "offline_access"}
	}

	config := api.OpenIDConfiguration{
		Issuer:                      issuer,
		AuthorizationEndpoint:       issuer + "/oauth2/authorize",
		TokenEndpoint:               issuer + "/oauth2/token",
		DeviceAuthorizationEndpoint: issuer + "/oauth2/device_authorization",
		UserInfoEndpoint:            issuer + "/oauth2/userinfo",
		JwksURI:                     issuer + "/.well-known/jwks.json",
		RevocationEndpoint:          issuer + "/oauth2/revoke",
		IntrospectionEndpoint:       issuer + "/oauth2/introspect",
		ScopesSupported:             scopes,
		ResponseTypesSupported: []string{
			"code", "token", "id_token",
			"code id_token", "token id_token", "id_token token",
		},
		ResponseModesSupported: []string{"query", "fragment"},
		GrantTypesSupported: []string{
			oauth2.GrantTypeAuthorizationCode,
			oauth2.GrantTypeClientCredentials,
			oauth2.GrantTypePassword,
			oauth2.GrantTypeRefreshToken,
			oauth2.GrantTypeDeviceCode,
		},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
		SubjectTypesSupported:             []string{"public"},
		IDTokenSigningAlgValuesSupported:  []string{"RS256"},
		CodeChallengeMethodsSupported:     []string{"plain", "S256"},
		ClaimsSupported:                   []string{"sub", "iss", "aud", "exp", "iat", "auth_time", "nonce"},
	}

	return c.JSON(http.StatusOK, config)
}

// JWKSHandler serves the signing keys as a JWK set.
func (oa *OAuth2API) JWKSHandler(c echo.Context) error {
	jwks, err := oa.jwks.GetJWKS(c.Request().Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to build JWKS")
		return writeError(c, serrors.NewServerError("Failed to build key set"))
	}
	return c.JSON(http.StatusOK, jwks)
}
