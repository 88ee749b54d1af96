package oauth2

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.pilab.hu/oauth2/client"
	serrors "go.pilab.hu/oauth2/errors"
)

// DeviceAuthResponse is the response from the device authorization
// endpoint. See RFC 8628, Section 3.2.
type DeviceAuthResponse struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval,omitempty"`
}

// userCodeCharset deliberately avoids vowels and ambiguous characters so
// user codes are easy to type and never spell anything.
const userCodeCharset = "BCDFGHJKLMNPQRSTVWXZ"

func generateUserCode() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = userCodeCharset[int(b[i])%len(userCodeCharset)]
	}
	return string(b[:4]) + "-" + string(b[4:])
}

// DeviceService drives the device authorization flow: code issuance and the
// user-facing approve/deny transitions.
type DeviceService struct {
	deviceAuths DeviceAuthorizationRepository
	cfg         *Config
}

// NewDeviceService creates a DeviceService.
func NewDeviceService(deviceAuths DeviceAuthorizationRepository, cfg *Config) *DeviceService {
	return &DeviceService{deviceAuths: deviceAuths, cfg: cfg}
}

// Authorize creates a pending device authorization for the client and
// returns the codes the device and the user need.
func (s *DeviceService) Authorize(ctx context.Context, cli *client.Client, scope string) (*DeviceAuthResponse, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate device code: %w", err)
	}

	now := time.Now()
	auth := &DeviceCode{
		ID:         uuid.NewString(),
		DeviceCode: base64.RawURLEncoding.EncodeToString(raw),
		UserCode:   generateUserCode(),
		ClientID:   cli.ID,
		Scope:      scope,
		Status:     DeviceCodeStatusPending,
		ExpiresAt:  now.Add(s.cfg.DeviceCodeTTL),
		Interval:   s.cfg.DeviceCodeInterval,
		CreatedAt:  now,
	}

	if err := s.deviceAuths.SaveDeviceAuth(ctx, auth); err != nil {
		return nil, fmt.Errorf("failed to save device authorization: %w", err)
	}

	log.Debug().Str("client_id", cli.ID).Str("user_code", auth.UserCode).Msg("device authorization created")

	return &DeviceAuthResponse{
		DeviceCode:              auth.DeviceCode,
		UserCode:                auth.UserCode,
		VerificationURI:         s.cfg.VerificationURI,
		VerificationURIComplete: s.cfg.VerificationURI + "?user_code=" + auth.UserCode,
		ExpiresIn:               int(s.cfg.DeviceCodeTTL.Seconds()),
		Interval:                auth.Interval,
	}, nil
}

// Approve binds the approving user to a pending device authorization.
func (s *DeviceService) Approve(ctx context.Context, userCode, userID string) error {
	if _, err := s.deviceAuths.ApproveDeviceAuth(ctx, userCode, userID); err != nil {
		return err
	}
	return nil
}

// Deny marks a pending device authorization as denied by the user.
func (s *DeviceService) Deny(ctx context.Context, userCode string) error {
	return s.deviceAuths.DenyDeviceAuth(ctx, userCode)
}

// DeviceCodeGrant handles device polling at the token endpoint
// (urn:ietf:params:oauth:grant-type:device_code).
type DeviceCodeGrant struct {
	deviceAuths DeviceAuthorizationRepository
}

// NewDeviceCodeGrant creates the device_code grant handler.
func NewDeviceCodeGrant(deviceAuths DeviceAuthorizationRepository) *DeviceCodeGrant {
	return &DeviceCodeGrant{deviceAuths: deviceAuths}
}

func (g *DeviceCodeGrant) Name() string { return GrantTypeDeviceCode }

// Validate implements GrantHandler.
func (g *DeviceCodeGrant) Validate(ctx context.Context, req *Request, cli *client.Client) (*GrantData, error) {
	deviceCode := req.FormValue("device_code")
	if deviceCode == "" {
		return nil, serrors.NewInvalidRequest(`Missing parameter: "device_code" is required`)
	}

	auth, err := g.deviceAuths.GetDeviceAuthByDeviceCode(ctx, deviceCode)
	if err != nil {
		return nil, serrors.NewInvalidGrant("The device code is invalid")
	}
	if auth.ClientID != cli.ID {
		return nil, serrors.NewInvalidGrant("The device code is invalid")
	}
	if !auth.ExpiresAt.After(time.Now()) {
		return nil, serrors.New(serrors.ExpiredToken, "The device code has expired")
	}

	// Devices polling faster than the advertised interval get pushed back.
	if !auth.LastPolledAt.IsZero() && time.Since(auth.LastPolledAt) < time.Duration(auth.Interval)*time.Second {
		return nil, serrors.New(serrors.SlowDown, "Polling too frequently")
	}
	if err := g.deviceAuths.UpdateDeviceAuthLastPolledAt(ctx, deviceCode); err != nil {
		log.Warn().Err(err).Msg("failed to record device poll time")
	}

	switch auth.Status {
	case DeviceCodeStatusPending:
		return nil, serrors.New(serrors.AuthorizationPending, "The authorization request is still pending")
	case DeviceCodeStatusDenied:
		return nil, serrors.NewAccessDenied("The user denied the authorization request")
	case DeviceCodeStatusRedeemed:
		return nil, serrors.NewInvalidGrant("The device code has already been redeemed")
	case DeviceCodeStatusAuthorized:
		// fall through to issuance
	default:
		return nil, serrors.NewInvalidGrant("The device code is invalid")
	}

	return &GrantData{
		ClientID:            cli.ID,
		UserID:              auth.UserID,
		Scope:               auth.Scope,
		IncludeRefreshToken: true,
		redeemedDeviceCode:  deviceCode,
	}, nil
}

// Complete marks the device code redeemed so a second poll cannot issue
// tokens again.
func (g *DeviceCodeGrant) Complete(ctx context.Context, data *GrantData) error {
	return g.deviceAuths.UpdateDeviceAuthStatus(ctx, data.redeemedDeviceCode, DeviceCodeStatusRedeemed)
}
