package memory

import (
	"context"
	"time"

	"go.pilab.hu/oauth2"
	serrors "go.pilab.hu/oauth2/errors"
)

// SaveDeviceAuth implements oauth2.DeviceAuthorizationRepository.
func (s *Store) SaveDeviceAuth(_ context.Context, auth *oauth2.DeviceCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deviceAuths[auth.DeviceCode] = auth
	s.userCodes[auth.UserCode] = auth.DeviceCode
	return nil
}

// GetDeviceAuthByDeviceCode implements oauth2.DeviceAuthorizationRepository.
func (s *Store) GetDeviceAuthByDeviceCode(_ context.Context, deviceCode string) (*oauth2.DeviceCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auth, ok := s.deviceAuths[deviceCode]
	if !ok {
		return nil, serrors.ErrDeviceCodeNotFound
	}
	copied := *auth
	return &copied, nil
}

// GetDeviceAuthByUserCode implements oauth2.DeviceAuthorizationRepository.
func (s *Store) GetDeviceAuthByUserCode(_ context.Context, userCode string) (*oauth2.DeviceCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auth, err := s.deviceAuthByUserCode(userCode)
	if err != nil {
		return nil, err
	}
	copied := *auth
	return &copied, nil
}

func (s *Store) deviceAuthByUserCode(userCode string) (*oauth2.DeviceCode, error) {
	deviceCode, ok := s.userCodes[userCode]
	if !ok {
		return nil, serrors.ErrUserCodeNotFound
	}
	auth, ok := s.deviceAuths[deviceCode]
	if !ok {
		return nil, serrors.ErrDeviceCodeNotFound
	}
	return auth, nil
}

// ApproveDeviceAuth implements oauth2.DeviceAuthorizationRepository. Only a
// pending, unexpired authorization can be approved.
func (s *Store) ApproveDeviceAuth(_ context.Context, userCode, userID string) (*oauth2.DeviceCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, err := s.deviceAuthByUserCode(userCode)
	if err != nil {
		return nil, err
	}
	if auth.Status != oauth2.DeviceCodeStatusPending || !auth.ExpiresAt.After(time.Now()) {
		return nil, serrors.ErrCannotApproveDeviceAuth
	}

	auth.Status = oauth2.DeviceCodeStatusAuthorized
	auth.UserID = userID

	copied := *auth
	return &copied, nil
}

// DenyDeviceAuth implements oauth2.DeviceAuthorizationRepository.
func (s *Store) DenyDeviceAuth(_ context.Context, userCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, err := s.deviceAuthByUserCode(userCode)
	if err != nil {
		return err
	}
	if auth.Status != oauth2.DeviceCodeStatusPending {
		return serrors.ErrCannotApproveDeviceAuth
	}

	auth.Status = oauth2.DeviceCodeStatusDenied
	return nil
}

// UpdateDeviceAuthStatus implements oauth2.DeviceAuthorizationRepository.
func (s *Store) UpdateDeviceAuthStatus(_ context.Context, deviceCode string, status oauth2.DeviceCodeStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, ok := s.deviceAuths[deviceCode]
	if !ok {
		return serrors.ErrDeviceCodeNotFound
	}
	auth.Status = status
	return nil
}

// UpdateDeviceAuthLastPolledAt implements oauth2.DeviceAuthorizationRepository.
func (s *Store) UpdateDeviceAuthLastPolledAt(_ context.Context, deviceCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	auth, ok := s.deviceAuths[deviceCode]
	if !ok {
		return serrors.ErrDeviceCodeNotFound
	}
	auth.LastPolledAt = time.Now()
	return nil
}

// DeleteExpiredDeviceAuths implements oauth2.DeviceAuthorizationRepository.
func (s *Store) DeleteExpiredDeviceAuths(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for deviceCode, auth := range s.deviceAuths {
		if auth.ExpiresAt.Before(now) {
			delete(s.userCodes, auth.UserCode)
			delete(s.deviceAuths, deviceCode)
		}
	}
	return nil
}
