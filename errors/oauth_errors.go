package errors

import (
	"errors"
	"fmt"
)

// OAuth2Error represents a standardized OAuth 2.0 error
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	State       string `json:"state,omitempty"`
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Standard OAuth2 error codes
const (
	InvalidRequest          = "invalid_request"
	UnauthorizedClient      = "unauthorized_client"
	AccessDenied            = "access_denied"
	UnsupportedGrantType    = "unsupported_grant_type"
	UnsupportedResponseType = "unsupported_response_type"
	InvalidScope            = "invalid_scope"
	InvalidClient           = "invalid_client"
	InvalidGrant            = "invalid_grant"
	InvalidURI              = "invalid_uri"
	RedirectURIMismatch     = "redirect_uri_mismatch"
	ServerError             = "server_error"
	TemporarilyUnavailable  = "temporarily_unavailable"
)

// OpenID Connect specific error codes
const (
	InvalidToken                = "invalid_token"
	InsufficientScope           = "insufficient_scope"
	InvalidNonce                = "invalid_nonce"
	MissingCodeChallenge        = "missing_code_challenge"
	MissingCodeChallengeMethod  = "missing_code_challenge_method"
	InvalidCodeChallenge        = "invalid_code_challenge"
	LoginRequired               = "login_required"
	InteractionRequired         = "interaction_required"
	ConsentRequired             = "consent_required"
)

// Device flow error codes (RFC 8628)
const (
	AuthorizationPending = "authorization_pending"
	SlowDown             = "slow_down"
	ExpiredToken         = "expired_token"
)

// New builds an OAuth2Error with an arbitrary code.
func New(code, description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        code,
		Description: description,
	}
}

// Common error constructors
func NewInvalidRequest(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidRequest,
		Description: description,
	}
}

func NewInvalidClient(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidClient,
		Description: description,
	}
}

func NewInvalidGrant(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidGrant,
		Description: description,
	}
}

func NewInvalidScope(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidScope,
		Description: description,
	}
}

func NewInvalidToken(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        InvalidToken,
		Description: description,
	}
}

func NewServerError(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        ServerError,
		Description: description,
	}
}

func NewUnauthorizedClient(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        UnauthorizedClient,
		Description: description,
	}
}

func NewUnsupportedGrantType(grantType string) *OAuth2Error {
	return &OAuth2Error{
		Code:        UnsupportedGrantType,
		Description: fmt.Sprintf("Grant type %q not supported", grantType),
	}
}

func NewAccessDenied(description string) *OAuth2Error {
	return &OAuth2Error{
		Code:        AccessDenied,
		Description: description,
	}
}

func NewInsufficientScope() *OAuth2Error {
	return &OAuth2Error{
		Code:        InsufficientScope,
		Description: "The request requires higher privileges than provided by the access token",
	}
}

// WithState returns a copy of the error carrying the client-provided state,
// for errors delivered via redirect.
func (e *OAuth2Error) WithState(state string) *OAuth2Error {
	if state == "" {
		return e
	}
	clone := *e
	clone.State = state
	return &clone
}

// Device flow sentinel errors. Grant handlers translate these into the
// corresponding protocol error codes.
var (
	ErrDeviceCodeNotFound      = errors.New("device code not found")
	ErrUserCodeNotFound        = errors.New("user code not found")
	ErrCannotApproveDeviceAuth = errors.New("device authorization cannot be approved in its current state")
	ErrAuthorizationPending    = errors.New("authorization pending")
	ErrSlowDown                = errors.New("slow down")
	ErrDeviceFlowAccessDenied  = errors.New("access denied by user")
	ErrDeviceFlowTokenExpired  = errors.New("device code expired")
)
