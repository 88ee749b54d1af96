package oauth2

import (
	"context"
	"crypto/subtle"

	"github.com/rs/zerolog/log"
	"go.pilab.hu/oauth2/client"
	serrors "go.pilab.hu/oauth2/errors"
)

// ClientAuthenticator verifies client identity from an inbound request.
// Credentials are discovered from the HTTP Basic header first, then from
// client_id/client_secret body fields when the configuration allows it.
type ClientAuthenticator struct {
	clients client.ClientStore
	cfg     *Config
}

// NewClientAuthenticator creates a ClientAuthenticator.
func NewClientAuthenticator(clients client.ClientStore, cfg *Config) *ClientAuthenticator {
	return &ClientAuthenticator{clients: clients, cfg: cfg}
}

// clientCredentials returns the credentials found in the request and whether
// any were present at all.
func (a *ClientAuthenticator) clientCredentials(req *Request) (clientID, clientSecret string, found bool) {
	if id, secret, ok := req.BasicAuth(); ok {
		return id, secret, true
	}
	if !a.cfg.AllowCredentialsInBody {
		return "", "", false
	}
	if id := req.FormValue("client_id"); id != "" {
		return id, req.FormValue("client_secret"), true
	}
	return "", "", false
}

// ValidateRequest authenticates the client behind the request. Secret-less
// requests succeed only for registered public clients.
func (a *ClientAuthenticator) ValidateRequest(ctx context.Context, req *Request) (*client.Client, *serrors.OAuth2Error) {
	clientID, clientSecret, found := a.clientCredentials(req)
	if !found {
		return nil, serrors.NewInvalidClient("Client credentials were not found in the headers or body")
	}

	cli, err := a.clients.GetClient(ctx, clientID)
	if err != nil {
		log.Debug().Err(err).Str("client_id", clientID).Msg("client lookup failed")
		return nil, serrors.NewInvalidClient("The client credentials are invalid")
	}

	if !cli.IsActive {
		return nil, serrors.NewInvalidClient("The client application has been disabled")
	}

	if clientSecret == "" {
		if a.cfg.AllowPublicClients && cli.IsPublic() {
			return cli, nil
		}
		return nil, serrors.NewInvalidClient("This client is invalid or must authenticate using a client secret")
	}

	if subtle.ConstantTimeCompare([]byte(cli.Secret), []byte(clientSecret)) != 1 {
		return nil, serrors.NewInvalidClient("The client credentials are invalid")
	}

	return cli, nil
}
