package oauth2

import (
	"context"
	"crypto/rsa"
	"time"

	"go.pilab.hu/oauth2/client"
)

// DeviceCodeStatus represents the status of a device authorization request.
type DeviceCodeStatus string

const (
	DeviceCodeStatusPending    DeviceCodeStatus = "pending"
	DeviceCodeStatusAuthorized DeviceCodeStatus = "authorized"
	DeviceCodeStatusDenied     DeviceCodeStatus = "denied"
	DeviceCodeStatusExpired    DeviceCodeStatus = "expired"
	DeviceCodeStatusRedeemed   DeviceCodeStatus = "redeemed"
)

// DeviceCode holds the information for a device authorization grant.
type DeviceCode struct {
	ID           string           `bson:"_id" json:"id"`
	DeviceCode   string           `bson:"device_code" json:"device_code"` // The code the device uses to poll
	UserCode     string           `bson:"user_code" json:"user_code"`     // The code the user enters on another device
	ClientID     string           `bson:"client_id" json:"client_id"`
	Scope        string           `bson:"scope" json:"scope"`
	Status       DeviceCodeStatus `bson:"status" json:"status"`
	UserID       string           `bson:"user_id,omitempty" json:"user_id,omitempty"` // Set once the user approves
	ExpiresAt    time.Time        `bson:"expires_at" json:"expires_at"`
	Interval     int              `bson:"interval" json:"interval"` // Polling interval in seconds
	CreatedAt    time.Time        `bson:"created_at" json:"created_at"`
	LastPolledAt time.Time        `bson:"last_polled_at,omitempty" json:"last_polled_at,omitempty"`
}

// AuthCode represents an OAuth 2.0 authorization code.
type AuthCode struct {
	Code        string    `bson:"_id" json:"code"`
	ClientID    string    `bson:"client_id" json:"client_id"`
	UserID      string    `bson:"user_id" json:"user_id"`
	RedirectURI string    `bson:"redirect_uri" json:"redirect_uri"`
	Scope       string    `bson:"scope" json:"scope"`
	ExpiresAt   time.Time `bson:"expires_at" json:"expires_at"`
	Used        bool      `bson:"used" json:"used"` // Whether code has been exchanged
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`

	CodeChallenge       string `bson:"code_challenge,omitempty" json:"code_challenge,omitempty"`
	CodeChallengeMethod string `bson:"code_challenge_method,omitempty" json:"code_challenge_method,omitempty"`

	// OpenID Connect bindings carried from the authorization request.
	Nonce   string `bson:"nonce,omitempty" json:"nonce,omitempty"`
	IDToken string `bson:"id_token,omitempty" json:"id_token,omitempty"`
}

// Token represents an issued access or refresh token.
type Token struct {
	ID         string    `bson:"_id" json:"id"`
	TokenType  string    `bson:"token_type" json:"token_type"` // "access_token" or "refresh_token"
	TokenValue string    `bson:"token_value" json:"token_value"`
	ClientID   string    `bson:"client_id" json:"client_id"`
	UserID     string    `bson:"user_id" json:"user_id"`
	Scope      string    `bson:"scope" json:"scope"`
	ExpiresAt  time.Time `bson:"expires_at" json:"expires_at"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at"`
	LastUsedAt time.Time `bson:"last_used_at" json:"last_used_at"`
	IsRevoked  bool      `bson:"is_revoked" json:"is_revoked"`

	// RefreshToken links an access token to the refresh token minted with it.
	RefreshToken string `bson:"refresh_token,omitempty" json:"refresh_token,omitempty"`
	// IDToken carries the OpenID Connect id_token bound to a refresh token.
	IDToken string `bson:"id_token,omitempty" json:"id_token,omitempty"`
}

// TokenRepository persists access and refresh tokens.
type TokenRepository interface {
	// StoreToken saves a new access or refresh token.
	StoreToken(ctx context.Context, token *Token) error

	// GetAccessToken retrieves an access token by its value.
	GetAccessToken(ctx context.Context, tokenValue string) (*Token, error)

	// GetRefreshToken retrieves a refresh token by its value.
	GetRefreshToken(ctx context.Context, tokenValue string) (*Token, error)

	// RevokeToken invalidates an access token.
	RevokeToken(ctx context.Context, tokenValue string) error

	// UnsetRefreshToken removes a refresh token so it cannot be redeemed again.
	UnsetRefreshToken(ctx context.Context, tokenValue string) error

	// DeleteExpiredTokens removes all expired tokens.
	DeleteExpiredTokens(ctx context.Context) error
}

// AuthorizationCodeRepository persists authorization codes.
type AuthorizationCodeRepository interface {
	// SaveAuthCode stores a new authorization code.
	SaveAuthCode(ctx context.Context, code *AuthCode) error

	// GetAuthCode retrieves an authorization code by its value.
	GetAuthCode(ctx context.Context, code string) (*AuthCode, error)

	// MarkAuthCodeAsUsed expires a code so a second redemption fails.
	// Storage must guarantee at-most-one successful redemption system-wide.
	MarkAuthCodeAsUsed(ctx context.Context, code string) error

	// DeleteExpiredAuthCodes removes all expired authorization codes.
	DeleteExpiredAuthCodes(ctx context.Context) error
}

// DeviceAuthorizationRepository manages device authorization flow data.
type DeviceAuthorizationRepository interface {
	SaveDeviceAuth(ctx context.Context, auth *DeviceCode) error
	GetDeviceAuthByDeviceCode(ctx context.Context, deviceCode string) (*DeviceCode, error)
	GetDeviceAuthByUserCode(ctx context.Context, userCode string) (*DeviceCode, error)
	// ApproveDeviceAuth binds a user to a pending device authorization.
	ApproveDeviceAuth(ctx context.Context, userCode string, userID string) (*DeviceCode, error)
	// DenyDeviceAuth marks a pending device authorization as denied.
	DenyDeviceAuth(ctx context.Context, userCode string) error
	UpdateDeviceAuthStatus(ctx context.Context, deviceCode string, status DeviceCodeStatus) error
	UpdateDeviceAuthLastPolledAt(ctx context.Context, deviceCode string) error
	DeleteExpiredDeviceAuths(ctx context.Context) error
}

// UserCredentialsRepository validates resource-owner credentials for the
// password grant. The engine never stores or hashes passwords itself.
type UserCredentialsRepository interface {
	// CheckUserCredentials verifies a username/password pair and returns the
	// user identifier on success.
	CheckUserCredentials(ctx context.Context, username, password string) (userID string, err error)
}

// ScopeRepository exposes the scopes the server knows about.
type ScopeRepository interface {
	// ScopeExists reports whether every token of the space-delimited scope
	// is supported by the server.
	ScopeExists(ctx context.Context, scope string) (bool, error)

	// GetDefaultScope returns the configured default scope, optionally per
	// client. An empty string means no default.
	GetDefaultScope(ctx context.Context, clientID string) (string, error)

	// GetSupportedScopes lists every supported scope token.
	GetSupportedScopes(ctx context.Context) ([]string, error)
}

// PublicKeyRepository resolves signing key material. An empty clientID
// addresses the server-wide key.
type PublicKeyRepository interface {
	GetPublicKey(ctx context.Context, clientID string) (*rsa.PublicKey, error)
	GetPrivateKey(ctx context.Context, clientID string) (*rsa.PrivateKey, error)
	GetEncryptionAlgorithm(ctx context.Context, clientID string) (string, error)
}

// UserClaimsRepository supplies OpenID Connect claims for a user, filtered
// by the granted scope.
type UserClaimsRepository interface {
	GetUserClaims(ctx context.Context, userID, scope string) (map[string]any, error)
}

// JtiRepository tracks JWT IDs for replay protection. Storage must guarantee
// at-most-one successful SetJti for a given (clientID, jti) while it is
// still valid.
type JtiRepository interface {
	// HasJti reports whether the jti has been seen and is still valid.
	HasJti(ctx context.Context, clientID, jti string) (bool, error)

	// SetJti records a jti until its expiry.
	SetJti(ctx context.Context, clientID, jti string, expiresAt time.Time) error
}

// Storage groups the typed collaborators the engine depends on. One concrete
// store may be wired into several slots.
type Storage struct {
	Clients     client.ClientStore
	Tokens      TokenRepository
	AuthCodes   AuthorizationCodeRepository
	DeviceAuths DeviceAuthorizationRepository
	Users       UserCredentialsRepository
	Scopes      ScopeRepository
	Keys        PublicKeyRepository
	UserClaims  UserClaimsRepository
	Jti         JtiRepository
}
