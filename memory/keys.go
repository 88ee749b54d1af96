package memory

import (
	"context"
	"crypto/rsa"
	"fmt"
)

type keyEntry struct {
	key *rsa.PrivateKey
	alg string
}

// SetSigningKey registers an RSA key pair. An empty clientID sets the
// server-wide key.
func (s *Store) SetSigningKey(clientID string, key *rsa.PrivateKey, alg string) {
	if alg == "" {
		alg = "RS256"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.keys[clientID] = &keyEntry{key: key, alg: alg}
}

func (s *Store) keyFor(clientID string) (*keyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.keys[clientID]
	if !ok {
		return nil, fmt.Errorf("no key registered for client %q", clientID)
	}
	return entry, nil
}

// GetPublicKey implements oauth2.PublicKeyRepository.
func (s *Store) GetPublicKey(_ context.Context, clientID string) (*rsa.PublicKey, error) {
	entry, err := s.keyFor(clientID)
	if err != nil {
		return nil, err
	}
	return &entry.key.PublicKey, nil
}

// GetPrivateKey implements oauth2.PublicKeyRepository.
func (s *Store) GetPrivateKey(_ context.Context, clientID string) (*rsa.PrivateKey, error) {
	entry, err := s.keyFor(clientID)
	if err != nil {
		return nil, err
	}
	return entry.key, nil
}

// GetEncryptionAlgorithm implements oauth2.PublicKeyRepository.
func (s *Store) GetEncryptionAlgorithm(_ context.Context, clientID string) (string, error) {
	entry, err := s.keyFor(clientID)
	if err != nil {
		return "", err
	}
	return entry.alg, nil
}
