package oauth2_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oauth2"
)

func TestConfigValidateDefaults(t *testing.T) {
	cfg := oauth2.NewDefaultConfig("https://auth.example.com")
	require.NoError(t, cfg.Validate())
}

func TestConfigValidateDeviceCodeInterval(t *testing.T) {
	cfg := oauth2.NewDefaultConfig("https://auth.example.com")

	// Zero means no polling throttle.
	cfg.DeviceCodeInterval = 0
	assert.NoError(t, cfg.Validate())

	cfg.DeviceCodeInterval = -1
	assert.Error(t, cfg.Validate())
}

func TestConfigValidateRequiresIssuer(t *testing.T) {
	cfg := oauth2.NewDefaultConfig("")
	assert.Error(t, cfg.Validate())
}
