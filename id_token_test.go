package oauth2_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauth2"
)

func TestIssueIDToken(t *testing.T) {
	codec, err := oauth2.NewHMACCodec([]byte("id-token-secret"), "HS256")
	require.NoError(t, err)
	cfg := oauth2.NewDefaultConfig("https://auth.example.com")
	svc := oauth2.NewIDTokenService(codec, cfg)

	authTime := time.Now().Add(-5 * time.Minute)
	token, err := svc.IssueIDToken(context.Background(), "client-1", "user-1", "nonce-1", "", authTime)
	require.NoError(t, err)

	claims, err := codec.Decode(token)
	require.NoError(t, err)
	assert.Equal(t, "https://auth.example.com", claims.Issuer)
	assert.Equal(t, "user-1", claims.Subject)
	assert.Equal(t, "client-1", claims.Audience)
	assert.Equal(t, "nonce-1", claims.Nonce)
	assert.Equal(t, authTime.Unix(), claims.AuthTime)
	assert.Empty(t, claims.AtHash)
	assert.Greater(t, claims.ExpiresAt, time.Now().Unix())
}

func TestIssueIDTokenWithAccessTokenBinding(t *testing.T) {
	codec, err := oauth2.NewHMACCodec([]byte("id-token-secret"), "HS256")
	require.NoError(t, err)
	cfg := oauth2.NewDefaultConfig("https://auth.example.com")
	svc := oauth2.NewIDTokenService(codec, cfg)

	token, err := svc.IssueIDToken(context.Background(), "client-1", "user-1", "", "some-access-token", time.Time{})
	require.NoError(t, err)

	claims, err := codec.Decode(token)
	require.NoError(t, err)

	want, err := oauth2.ComputeAtHash("HS256", "some-access-token")
	require.NoError(t, err)
	assert.Equal(t, want, claims.AtHash)
	// No auth time was known; the claim stays absent.
	assert.Zero(t, claims.AuthTime)
}
