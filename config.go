package oauth2

import (
	"fmt"
	"time"
)

// Config enumerates every behavioral option of the engine with its default.
// It is read-mostly after construction; controllers hold a pointer and never
// mutate it.
type Config struct {
	// Issuer is the value of the iss claim in issued tokens.
	Issuer string `json:"issuer"`

	// Lifetimes
	AccessTokenTTL  time.Duration `json:"access_token_ttl"`
	RefreshTokenTTL time.Duration `json:"refresh_token_ttl"`
	AuthCodeTTL     time.Duration `json:"auth_code_ttl"`
	IDTokenTTL      time.Duration `json:"id_token_ttl"`
	DeviceCodeTTL   time.Duration `json:"device_code_ttl"`

	// DeviceCodeInterval is the minimum polling interval in seconds for the
	// device flow. Zero disables the throttle.
	DeviceCodeInterval int `json:"device_code_interval"`

	// VerificationURI is the page users visit to enter a device user code.
	VerificationURI string `json:"verification_uri"`

	// AllowImplicit enables the implicit ("token") response type.
	AllowImplicit bool `json:"allow_implicit"`

	// AllowPublicClients lets secret-less clients authenticate when they are
	// registered as public.
	AllowPublicClients bool `json:"allow_public_clients"`

	// AllowCredentialsInBody accepts client_id/client_secret as POST body
	// parameters in addition to HTTP Basic.
	AllowCredentialsInBody bool `json:"allow_credentials_in_body"`

	// EnforceState rejects authorization requests without a state parameter.
	EnforceState bool `json:"enforce_state"`

	// EnforcePKCE requires a code challenge on every authorization request.
	EnforcePKCE bool `json:"enforce_pkce"`

	// RequireScope rejects requests that carry no scope when no default
	// scope is configured either.
	RequireScope bool `json:"require_scope"`

	// DefaultScope is granted when the request carries no scope parameter
	// and the scope repository has no per-client default.
	DefaultScope string `json:"default_scope"`

	// IssueRefreshTokens controls whether grants that may carry a refresh
	// token actually get one.
	IssueRefreshTokens bool `json:"issue_refresh_tokens"`

	// AlwaysIssueNewRefreshToken rotates the refresh token on every
	// refresh_token grant.
	AlwaysIssueNewRefreshToken bool `json:"always_issue_new_refresh_token"`

	// UnsetRefreshTokenAfterUse removes the presented refresh token once a
	// new token pair has been issued.
	UnsetRefreshTokenAfterUse bool `json:"unset_refresh_token_after_use"`

	// UseJWTAccessTokens mints signed JWT access tokens instead of opaque
	// values. Requires a Codec.
	UseJWTAccessTokens bool `json:"use_jwt_access_tokens"`
}

// NewDefaultConfig returns a Config with production defaults for the given
// issuer.
func NewDefaultConfig(issuer string) *Config {
	return &Config{
		Issuer:                     issuer,
		AccessTokenTTL:             time.Hour,
		RefreshTokenTTL:            14 * 24 * time.Hour,
		AuthCodeTTL:                10 * time.Minute,
		IDTokenTTL:                 time.Hour,
		DeviceCodeTTL:              30 * time.Minute,
		DeviceCodeInterval:         5,
		AllowImplicit:              false,
		AllowPublicClients:         true,
		AllowCredentialsInBody:     true,
		EnforceState:               false,
		EnforcePKCE:                false,
		RequireScope:               false,
		DefaultScope:               "",
		IssueRefreshTokens:         true,
		AlwaysIssueNewRefreshToken: false,
		UnsetRefreshTokenAfterUse:  true,
		UseJWTAccessTokens:         false,
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("config: issuer is required")
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("config: access token TTL must be positive")
	}
	if c.AuthCodeTTL <= 0 {
		return fmt.Errorf("config: auth code TTL must be positive")
	}
	if c.IssueRefreshTokens && c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("config: refresh token TTL must be positive")
	}
	if c.DeviceCodeInterval < 0 {
		return fmt.Errorf("config: device code interval must not be negative")
	}
	return nil
}
