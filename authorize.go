package oauth2

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.pilab.hu/oauth2/client"
	serrors "go.pilab.hu/oauth2/errors"
)

// codeChallengeRegexp is the grammar RFC 7636 allows for a code challenge.
var codeChallengeRegexp = regexp.MustCompile(`^[A-Za-z0-9\-._~]{43,128}$`)

// UserSession tells the authorize controller what the host application knows
// about the resource owner. The engine never authenticates users itself.
type UserSession struct {
	// Authorized is true once the resource owner granted the request.
	Authorized bool

	// UserID identifies the authenticated user, empty when nobody is
	// logged in.
	UserID string

	// AuthTime is when the user last authenticated, for the auth_time claim.
	AuthTime time.Time
}

// AuthorizeResult is a successful authorization: the redirect target and the
// values to deliver on it.
type AuthorizeResult struct {
	RedirectURI string
	UseFragment bool
	Values      url.Values
}

// Location renders the full redirect target.
func (r *AuthorizeResult) Location() string {
	return buildRedirect(r.RedirectURI, r.UseFragment, r.Values)
}

// AuthorizeError is a failed authorization request. Before the redirect URI
// has been validated the error must be answered directly (RedirectURI is
// empty); afterwards it travels back to the client application via redirect.
type AuthorizeError struct {
	Err         *serrors.OAuth2Error
	RedirectURI string
	UseFragment bool
}

func (e *AuthorizeError) Error() string { return e.Err.Error() }

func (e *AuthorizeError) Unwrap() error { return e.Err }

// Redirectable reports whether the error is delivered via redirect.
func (e *AuthorizeError) Redirectable() bool { return e.RedirectURI != "" }

// Location renders the redirect target carrying the error parameters.
func (e *AuthorizeError) Location() string {
	v := url.Values{"error": {e.Err.Code}}
	if e.Err.Description != "" {
		v.Set("error_description", e.Err.Description)
	}
	if e.Err.State != "" {
		v.Set("state", e.Err.State)
	}
	return buildRedirect(e.RedirectURI, e.UseFragment, v)
}

func buildRedirect(redirectURI string, useFragment bool, values url.Values) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		// The URI was validated before any redirect is built.
		return redirectURI
	}
	if useFragment {
		u.Fragment = ""
		return u.String() + "#" + values.Encode()
	}
	q := u.Query()
	for key, vals := range values {
		for _, val := range vals {
			q.Set(key, val)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// AuthorizeController drives the /authorize endpoint. It validates the
// request step by step and hands the validated request to the composer
// registered for the requested response type.
type AuthorizeController struct {
	clients       client.ClientStore
	scopes        *ScopeValidator
	cfg           *Config
	responseTypes map[string]ResponseTypeHandler
}

// NewAuthorizeController creates an AuthorizeController with the given
// response composers registered under their names.
func NewAuthorizeController(clients client.ClientStore, scopes *ScopeValidator, cfg *Config, responseTypes ...ResponseTypeHandler) *AuthorizeController {
	registry := make(map[string]ResponseTypeHandler, len(responseTypes))
	for _, rt := range responseTypes {
		registry[rt.Name()] = rt
	}
	return &AuthorizeController{
		clients:       clients,
		scopes:        scopes,
		cfg:           cfg,
		responseTypes: registry,
	}
}

func directError(err *serrors.OAuth2Error) *AuthorizeError {
	return &AuthorizeError{Err: err}
}

// Authorize validates an authorization request and, when the session says the
// resource owner granted it, composes the response artifact. Errors found
// before the redirect URI is known are returned for direct delivery; every
// later error is returned redirect-shaped.
func (c *AuthorizeController) Authorize(ctx context.Context, req *Request, sess *UserSession) (*AuthorizeResult, *AuthorizeError) {
	clientID := req.QueryParam("client_id")
	if clientID == "" {
		return nil, directError(serrors.NewInvalidClient("No client id supplied"))
	}

	cli, err := c.clients.GetClient(ctx, clientID)
	if err != nil {
		log.Debug().Err(err).Str("client_id", clientID).Msg("authorize client lookup failed")
		return nil, directError(serrors.NewInvalidClient("The client id supplied is invalid"))
	}

	redirectURI, authErr := c.resolveRedirectURI(cli, req.QueryParam("redirect_uri"))
	if authErr != nil {
		return nil, authErr
	}

	state := req.QueryParam("state")

	redirectError := func(err *serrors.OAuth2Error, useFragment bool) *AuthorizeError {
		return &AuthorizeError{
			Err:         err.WithState(state),
			RedirectURI: redirectURI,
			UseFragment: useFragment,
		}
	}

	// From here the redirect URI is trusted; errors go back to the client
	// application.
	responseType := normalizeResponseType(req.QueryParam("response_type"))
	handler, ok := c.responseTypes[responseType]
	if !ok {
		return nil, redirectError(serrors.NewInvalidRequest("Invalid or missing response type"), false)
	}
	if !c.cfg.AllowImplicit && responseTypeIncludes(responseType, ResponseTypeToken) {
		return nil, redirectError(serrors.New(serrors.UnsupportedResponseType, "implicit grant type not supported"), false)
	}

	if c.cfg.EnforceState && state == "" {
		return nil, redirectError(serrors.NewInvalidRequest("The state parameter is required"), handler.UseFragment())
	}

	scope, authErr := c.resolveScope(ctx, cli, req.QueryParam("scope"), redirectError, handler.UseFragment())
	if authErr != nil {
		return nil, authErr
	}

	codeChallenge := req.QueryParam("code_challenge")
	codeChallengeMethod := req.QueryParam("code_challenge_method")
	if responseTypeIncludes(responseType, ResponseTypeCode) {
		if authErr := c.validateCodeChallenge(cli, codeChallenge, codeChallengeMethod); authErr != nil {
			return nil, authErr
		}
	}

	nonce := req.QueryParam("nonce")
	if responseTypeIncludes(responseType, ResponseTypeIDToken) && nonce == "" {
		return nil, directError(serrors.New(serrors.InvalidNonce, "Nonce parameter is required"))
	}

	// An explicit grant always suffices; an authenticated user on a client
	// that does not require consent counts as approval.
	granted := sess.Authorized || (sess.UserID != "" && !cli.RequireConsent)
	if !granted {
		if req.QueryParam("prompt") == "none" {
			if sess.UserID == "" {
				return nil, redirectError(serrors.New(serrors.LoginRequired, "The user must log in"), handler.UseFragment())
			}
			return nil, redirectError(serrors.New(serrors.ConsentRequired, "The user must grant consent"), handler.UseFragment())
		}
		return nil, redirectError(serrors.NewAccessDenied("The user denied access to your application"), handler.UseFragment())
	}

	values, err := handler.Authorize(ctx, &AuthorizeRequest{
		Client:              cli,
		RedirectURI:         redirectURI,
		ResponseType:        responseType,
		Scope:               scope,
		State:               state,
		Nonce:               nonce,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: codeChallengeMethod,
		UserID:              sess.UserID,
		AuthTime:            sess.AuthTime,
	})
	if err != nil {
		log.Error().Err(err).Str("client_id", cli.ID).Str("response_type", responseType).Msg("authorization response composition failed")
		return nil, redirectError(serrors.NewServerError("The authorization server encountered an unexpected condition"), handler.UseFragment())
	}

	if state != "" {
		values.Set("state", state)
	}

	return &AuthorizeResult{
		RedirectURI: redirectURI,
		UseFragment: handler.UseFragment(),
		Values:      values,
	}, nil
}

// resolveRedirectURI picks and validates the redirect target before anything
// may be delivered through it.
func (c *AuthorizeController) resolveRedirectURI(cli *client.Client, supplied string) (string, *AuthorizeError) {
	if supplied == "" {
		if len(cli.RedirectURIs) == 0 {
			return "", directError(serrors.New(serrors.InvalidURI, "No redirect URI was supplied or stored"))
		}
		if len(cli.RedirectURIs) > 1 {
			return "", directError(serrors.New(serrors.InvalidURI, "A redirect URI must be supplied when multiple redirect URIs are registered"))
		}
		return cli.RedirectURIs[0], nil
	}

	parsed, err := url.Parse(supplied)
	if err != nil || parsed.Fragment != "" {
		return "", directError(serrors.New(serrors.InvalidURI, "The redirect URI is invalid or contains a fragment"))
	}

	for _, registered := range cli.RedirectURIs {
		if registered == supplied {
			return supplied, nil
		}
	}
	return "", directError(serrors.New(serrors.RedirectURIMismatch, "The redirect URI provided is missing or does not match"))
}

// resolveScope reconciles the requested scope against the server's and
// client's supported scopes, falling back to configured defaults.
func (c *AuthorizeController) resolveScope(ctx context.Context, cli *client.Client, requested string, redirectError func(*serrors.OAuth2Error, bool) *AuthorizeError, useFragment bool) (string, *AuthorizeError) {
	if requested != "" {
		exists, err := c.scopes.Exists(ctx, requested)
		if err != nil {
			return "", redirectError(serrors.NewServerError("The authorization server encountered an unexpected condition"), useFragment)
		}
		// An empty client allowance means the client is unrestricted, as at
		// the token endpoint.
		if !exists || (len(cli.AllowedScopes) > 0 && !CheckScope(requested, JoinScope(cli.AllowedScopes))) {
			return "", redirectError(serrors.NewInvalidScope("An unsupported scope was requested"), useFragment)
		}
		return requested, nil
	}

	fallback, err := c.scopes.DefaultScope(ctx, cli.ID)
	if err != nil {
		return "", redirectError(serrors.NewServerError("The authorization server encountered an unexpected condition"), useFragment)
	}
	if fallback == "" {
		fallback = c.cfg.DefaultScope
	}
	if fallback == "" && c.cfg.RequireScope {
		return "", redirectError(serrors.NewInvalidClient("This application requires you specify a scope parameter"), useFragment)
	}
	return fallback, nil
}

// validateCodeChallenge applies PKCE enforcement for code-bearing response
// types. Violations are answered directly with a 400, never via redirect.
func (c *AuthorizeController) validateCodeChallenge(cli *client.Client, challenge, method string) *AuthorizeError {
	enforced := c.cfg.EnforcePKCE || cli.RequirePKCE || cli.IsPublic()

	if challenge == "" {
		if enforced {
			return directError(serrors.New(serrors.MissingCodeChallenge, "This application requires you provide a PKCE code challenge"))
		}
		return nil
	}

	if !codeChallengeRegexp.MatchString(challenge) {
		return directError(serrors.New(serrors.InvalidCodeChallenge, "The PKCE code challenge supplied is invalid"))
	}

	switch method {
	case "plain", "S256":
		return nil
	case "":
		if enforced {
			return directError(serrors.New(serrors.MissingCodeChallengeMethod, "This application requires you specify a PKCE code challenge method"))
		}
		return nil
	default:
		return directError(serrors.NewInvalidRequest("The PKCE code challenge method must be plain or S256"))
	}
}

func normalizeResponseType(responseType string) string {
	return strings.Join(strings.Fields(responseType), " ")
}

func responseTypeIncludes(responseType, part string) bool {
	for _, p := range strings.Fields(responseType) {
		if p == part {
			return true
		}
	}
	return false
}
