package oauth2

import (
	"context"

	"go.pilab.hu/oauth2/client"
)

// Grant type identifiers registered with the token controller.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypeDeviceCode        = "urn:ietf:params:oauth:grant-type:device_code"
)

// GrantData is the outcome of a validated grant: the triple the token
// endpoint issues tokens for, plus issuance directives.
type GrantData struct {
	ClientID string
	UserID   string
	Scope    string

	// IDToken carries an OpenID Connect id_token to attach to the response.
	IDToken string

	// IncludeRefreshToken asks the token service to mint a refresh token.
	IncludeRefreshToken bool

	// One-time artifacts to consume once tokens have been issued.
	redeemedCode       string
	redeemedDeviceCode string
	presentedRefresh   string
}

// GrantHandler validates one grant type. Validate resolves the request to a
// GrantData or a protocol error; Complete consumes single-use artifacts
// (authorization code, device code, presented refresh token) and is called
// exactly once, after tokens were issued successfully.
type GrantHandler interface {
	Name() string
	Validate(ctx context.Context, req *Request, cli *client.Client) (*GrantData, error)
	Complete(ctx context.Context, data *GrantData) error
}
