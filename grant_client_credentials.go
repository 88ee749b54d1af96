package oauth2

import (
	"context"

	"go.pilab.hu/oauth2/client"
	serrors "go.pilab.hu/oauth2/errors"
)

// ClientCredentialsGrant issues tokens to the client itself; there is no
// user context and never a refresh token.
type ClientCredentialsGrant struct{}

// NewClientCredentialsGrant creates the client_credentials grant handler.
func NewClientCredentialsGrant() *ClientCredentialsGrant {
	return &ClientCredentialsGrant{}
}

func (g *ClientCredentialsGrant) Name() string { return GrantTypeClientCredentials }

// Validate implements GrantHandler.
func (g *ClientCredentialsGrant) Validate(_ context.Context, req *Request, cli *client.Client) (*GrantData, error) {
	if cli.IsPublic() {
		return nil, serrors.NewUnauthorizedClient("The client is not authorized to use the client_credentials grant")
	}

	return &GrantData{
		ClientID:            cli.ID,
		UserID:              "",
		Scope:               req.FormValue("scope"),
		IncludeRefreshToken: false,
	}, nil
}

func (g *ClientCredentialsGrant) Complete(context.Context, *GrantData) error { return nil }
