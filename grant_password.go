package oauth2

import (
	"context"

	"go.pilab.hu/oauth2/client"
	serrors "go.pilab.hu/oauth2/errors"
)

// PasswordGrant implements the resource owner password credentials flow.
// Credential verification is fully delegated to the user store.
type PasswordGrant struct {
	users UserCredentialsRepository
}

// NewPasswordGrant creates the password grant handler.
func NewPasswordGrant(users UserCredentialsRepository) *PasswordGrant {
	return &PasswordGrant{users: users}
}

func (g *PasswordGrant) Name() string { return GrantTypePassword }

// Validate implements GrantHandler.
func (g *PasswordGrant) Validate(ctx context.Context, req *Request, cli *client.Client) (*GrantData, error) {
	username := req.FormValue("username")
	password := req.FormValue("password")
	if username == "" || password == "" {
		return nil, serrors.NewInvalidRequest(`Missing parameters: "username" and "password" required`)
	}

	userID, err := g.users.CheckUserCredentials(ctx, username, password)
	if err != nil {
		return nil, serrors.NewInvalidGrant("Invalid username and password combination")
	}

	return &GrantData{
		ClientID:            cli.ID,
		UserID:              userID,
		Scope:               req.FormValue("scope"),
		IncludeRefreshToken: true,
	}, nil
}

func (g *PasswordGrant) Complete(context.Context, *GrantData) error { return nil }
