package oauth2_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauth2"
)

func testClaims() oauth2.Claims {
	now := time.Now()
	return oauth2.Claims{
		Issuer:    "https://auth.example.com",
		Subject:   "user-1",
		Audience:  "client-1",
		ExpiresAt: now.Add(time.Hour).Unix(),
		IssuedAt:  now.Unix(),
		ID:        "jti-1",
		Scope:     "openid profile",
	}
}

func TestHMACCodecRoundTrip(t *testing.T) {
	codec, err := oauth2.NewHMACCodec([]byte("test-secret"), "HS256")
	require.NoError(t, err)
	assert.Equal(t, "HS256", codec.Algorithm())

	claims := testClaims()
	token, err := codec.Encode(claims)
	require.NoError(t, err)

	decoded, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, claims, decoded)
}

func TestHMACCodecUnsupportedAlgorithm(t *testing.T) {
	_, err := oauth2.NewHMACCodec([]byte("secret"), "none")
	assert.Error(t, err)
}

func TestHMACCodecRejectsWrongKey(t *testing.T) {
	codec, err := oauth2.NewHMACCodec([]byte("right-secret"), "HS256")
	require.NoError(t, err)
	token, err := codec.Encode(testClaims())
	require.NoError(t, err)

	other, err := oauth2.NewHMACCodec([]byte("wrong-secret"), "HS256")
	require.NoError(t, err)
	_, err = other.Decode(token)
	assert.Error(t, err)
}

func TestRSACodecRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	codec := oauth2.NewRSACodec(key)
	assert.Equal(t, "RS256", codec.Algorithm())

	claims := testClaims()
	token, err := codec.Encode(claims)
	require.NoError(t, err)

	decoded, err := oauth2.DecodeWithKey(token, &key.PublicKey, "RS256")
	require.NoError(t, err)
	assert.Equal(t, claims, decoded)
}

func TestDecodeWithKeyRejectsWrongAlgorithm(t *testing.T) {
	codec, err := oauth2.NewHMACCodec([]byte("secret"), "HS256")
	require.NoError(t, err)
	token, err := codec.Encode(testClaims())
	require.NoError(t, err)

	_, err = oauth2.DecodeWithKey(token, []byte("secret"), "HS512")
	assert.Error(t, err)
}

func TestDecodeDoesNotEnforceExpiry(t *testing.T) {
	codec, err := oauth2.NewHMACCodec([]byte("secret"), "HS256")
	require.NoError(t, err)

	claims := testClaims()
	claims.ExpiresAt = time.Now().Add(-time.Hour).Unix()
	token, err := codec.Encode(claims)
	require.NoError(t, err)

	// Expired tokens still decode; validity is decided by the caller.
	decoded, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, claims.ExpiresAt, decoded.ExpiresAt)
}

func TestDecodeUnverified(t *testing.T) {
	codec, err := oauth2.NewHMACCodec([]byte("secret"), "HS256")
	require.NoError(t, err)
	token, err := codec.Encode(testClaims())
	require.NoError(t, err)

	m, err := oauth2.DecodeUnverified(token)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", m["iss"])

	_, err = oauth2.DecodeUnverified("not-a-jwt")
	assert.Error(t, err)
}

func TestComputeAtHash(t *testing.T) {
	accessToken := "jHkWEdUXMU1BwAsC4vtUsZwnNvTIxEl0z9K3vx5KF0Y"

	got, err := oauth2.ComputeAtHash("RS256", accessToken)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte(accessToken))
	want := base64.RawURLEncoding.EncodeToString(sum[:16])
	assert.Equal(t, want, got)

	_, err = oauth2.ComputeAtHash("ES999", accessToken)
	assert.Error(t, err)
}
