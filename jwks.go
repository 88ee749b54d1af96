package oauth2

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
)

// JSONWebKey is a single RFC 7517 key entry.
type JSONWebKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JSONWebKeySet is the document served at /.well-known/jwks.json.
type JSONWebKeySet struct {
	Keys []JSONWebKey `json:"keys"`
}

// JWKSService publishes the server's verification keys.
type JWKSService struct {
	keys PublicKeyRepository
}

// NewJWKSService creates a JWKSService backed by the key repository.
func NewJWKSService(keys PublicKeyRepository) *JWKSService {
	return &JWKSService{keys: keys}
}

// GetJWKS renders the server-wide public key as a key set. The key id is
// derived from the modulus so it stays stable across restarts.
func (s *JWKSService) GetJWKS(ctx context.Context) (*JSONWebKeySet, error) {
	publicKey, err := s.keys.GetPublicKey(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load public key: %w", err)
	}

	alg, err := s.keys.GetEncryptionAlgorithm(ctx, "")
	if err != nil || alg == "" {
		alg = "RS256"
	}

	n := publicKey.N.Bytes()
	sum := sha256.Sum256(n)

	return &JSONWebKeySet{
		Keys: []JSONWebKey{{
			Kid: base64.RawURLEncoding.EncodeToString(sum[:8]),
			Kty: "RSA",
			Alg: alg,
			Use: "sig",
			N:   base64.RawURLEncoding.EncodeToString(n),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(publicKey.E)).Bytes()),
		}},
	}, nil
}
