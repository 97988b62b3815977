// File: internal/config/config_test.go
package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "hudbridge", cfg.Logger.ServiceName)
	assert.Equal(t, "https://hud", cfg.Server.TrustedOrigin)
	assert.Equal(t, "/hudCallback", cfg.Server.CallbackPath)
	assert.True(t, cfg.HUD.ShowWelcomeScreen)
	assert.False(t, cfg.HUD.TutorialTestMode, "test mode must be off by default")
	assert.False(t, cfg.HUD.AllowUnsafeEval)
}

func TestConfigValidation(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	t.Run("missing base directory", func(t *testing.T) {
		c := *cfg
		c.HUD.BaseDirectory = ""
		err := c.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "hud.base_directory")
	})

	t.Run("non-https trusted origin", func(t *testing.T) {
		c := *cfg
		c.Server.TrustedOrigin = "http://hud"
		err := c.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "trusted_origin")
	})

	t.Run("origin with port is accepted", func(t *testing.T) {
		c := *cfg
		c.Server.TrustedOrigin = "https://hud:8443"
		assert.NoError(t, c.Validate())
	})

	t.Run("relative callback path", func(t *testing.T) {
		c := *cfg
		c.Server.CallbackPath = "hudCallback"
		assert.Error(t, c.Validate())
	})

	t.Run("CA cert without key", func(t *testing.T) {
		c := *cfg
		c.Server.CACertFile = "/tmp/ca.pem"
		err := c.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "ca_cert_file")
	})
}

func TestLoadOverridesDefaults(t *testing.T) {
	v := viper.New()
	v.Set("hud.tutorial_test_mode", true)
	v.Set("server.trusted_origin", "https://bridge.local")

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.True(t, cfg.HUD.TutorialTestMode)
	assert.Equal(t, "https://bridge.local", cfg.Server.TrustedOrigin)
	// Untouched sections keep their defaults.
	assert.Equal(t, "console", cfg.Logger.Format)
}

func TestLoadRejectsInvalid(t *testing.T) {
	v := viper.New()
	v.Set("server.trusted_origin", "ftp://nope")
	_, err := Load(v)
	assert.Error(t, err)
}
