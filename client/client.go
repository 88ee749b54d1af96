package client

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ClientType represents the type of OAuth2 client
type ClientType string

const (
	// Confidential clients can securely store secrets
	Confidential ClientType = "confidential"
	// Public clients cannot securely store secrets (mobile apps, SPAs)
	Public ClientType = "public"
)

// Client represents an OAuth2 client application
type Client struct {
	ID                string     `bson:"client_id" json:"client_id"`
	Secret            string     `bson:"client_secret,omitempty" json:"-"`
	Type              ClientType `bson:"client_type" json:"type,omitempty"`
	Name              string     `bson:"client_name" json:"name,omitempty"`
	RedirectURIs      []string   `bson:"redirect_uris" json:"redirect_uris,omitempty"`
	AllowedScopes     []string   `bson:"allowed_scopes" json:"allowed_scopes,omitempty"`
	AllowedGrantTypes []string   `bson:"allowed_grant_types" json:"allowed_grant_types,omitempty"`
	RequireConsent    bool       `bson:"require_consent" json:"require_consent,omitempty"`
	RequirePKCE       bool       `bson:"require_pkce" json:"require_pkce,omitempty"`
	CreatedAt         time.Time  `bson:"created_at" json:"created_at,omitempty"`
	UpdatedAt         time.Time  `bson:"updated_at" json:"updated_at,omitempty"`
	IsActive          bool       `bson:"is_active" json:"is_active,omitempty"`
}

// IsPublic reports whether the client is registered as a public client.
func (c *Client) IsPublic() bool {
	return c.Type == Public
}

// ClientService handles client management operations
type ClientService struct {
	store ClientStore
}

// NewClientService creates a new ClientService instance
func NewClientService(store ClientStore) *ClientService {
	return &ClientService{
		store: store,
	}
}

// generateRandomString creates a cryptographically secure random string of the specified length
func generateRandomString(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	_, _ = rand.Read(b)

	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}

	return string(b)
}

// CreateConfidentialClient creates a new confidential client
func (s *ClientService) CreateConfidentialClient(ctx context.Context,
	name string, redirectURIs []string, allowedScopes []string,
) (*Client, error) {
	client := &Client{
		ID:            uuid.NewString(),
		Secret:        generateRandomString(32),
		Type:          Confidential,
		Name:          name,
		RedirectURIs:  redirectURIs,
		AllowedScopes: allowedScopes,
		AllowedGrantTypes: []string{
			"authorization_code",
			"client_credentials",
			"refresh_token",
		},
		RequireConsent: true,
		RequirePKCE:    false,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
		IsActive:       true,
	}

	if err := s.store.CreateClient(ctx, client); err != nil {
		return nil, err
	}

	return client, nil
}

// CreatePublicClient creates a new public client
func (s *ClientService) CreatePublicClient(ctx context.Context,
	name string, redirectURIs []string, allowedScopes []string,
) (*Client, error) {
	client := &Client{
		ID:            uuid.NewString(),
		Type:          Public,
		Name:          name,
		RedirectURIs:  redirectURIs,
		AllowedScopes: allowedScopes,
		AllowedGrantTypes: []string{
			"authorization_code",
			"refresh_token",
		},
		RequireConsent: true,
		RequirePKCE:    true, // PKCE is required for public clients
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
		IsActive:       true,
	}

	if err := s.store.CreateClient(ctx, client); err != nil {
		return nil, err
	}

	return client, nil
}

// GetClient retrieves a client by ID
func (s *ClientService) GetClient(ctx context.Context, clientID string) (*Client, error) {
	return s.store.GetClient(ctx, clientID)
}

// ValidateRedirectURI checks if a redirect URI is valid for a client
func (s *ClientService) ValidateRedirectURI(ctx context.Context, clientID, redirectURI string) error {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return err
	}

	for _, uri := range client.RedirectURIs {
		if uri == redirectURI {
			return nil
		}
	}

	return fmt.Errorf("invalid redirect URI for client")
}

// ValidateScope checks if requested scopes are allowed for a client
func (s *ClientService) ValidateScope(ctx context.Context, clientID string, requestedScopes []string) error {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return err
	}

	allowedScopes := make(map[string]bool)
	for _, scope := range client.AllowedScopes {
		allowedScopes[scope] = true
	}

	for _, scope := range requestedScopes {
		if !allowedScopes[scope] {
			return fmt.Errorf("scope '%s' not allowed for client", scope)
		}
	}

	return nil
}

// ValidateGrantType checks if a grant type is allowed for a client
func (s *ClientService) ValidateGrantType(ctx context.Context, clientID, grantType string) error {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return err
	}

	for _, gt := range client.AllowedGrantTypes {
		if gt == grantType {
			return nil
		}
	}

	return fmt.Errorf("grant type '%s' not allowed for client", grantType)
}

// RequiresPKCE checks if PKCE is required for a client
func (s *ClientService) RequiresPKCE(ctx context.Context, clientID string) (bool, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return false, err
	}

	return client.RequirePKCE || client.Type == Public, nil
}
